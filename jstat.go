package jbus

import (
	"strings"

	"github.com/AxioDL/jbus/mask"
)

// jstatFlags decodes a JSTAT byte into its named bits for diagnostics,
// built on the same 1-indexed bit-extraction helpers used elsewhere in this
// module's lineage for flag register decoding.
func jstatFlags(b byte) string {
	var set []string
	if mask.IsSet(b, mask.I3) {
		set = append(set, "PSF1")
	}
	if mask.IsSet(b, mask.I4) {
		set = append(set, "PSF0")
	}
	if mask.IsSet(b, mask.I5) {
		set = append(set, "SEND")
	}
	if mask.IsSet(b, mask.I7) {
		set = append(set, "RECV")
	}
	if len(set) == 0 {
		return "none"
	}
	return strings.Join(set, "|")
}
