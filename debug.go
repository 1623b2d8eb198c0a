package jbus

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// endpointSnapshot is a value-only copy of an Endpoint's state safe to hand
// to spew.Sdump without racing the I/O goroutine; DumpState fills it under
// the endpoint's lock.
type endpointSnapshot struct {
	Chan      byte
	Booted    bool
	Running   bool
	CmdIssued bool
	LastCmd   joybusCmd
	LastJStat string
	JoyBoot   *challengeSnapshot
}

type challengeSnapshot struct {
	Stage      string
	Percentage byte
	BytesSent  uint32
	TotalBytes uint32
}

// DumpState renders a human-readable snapshot of the endpoint, including
// any JoyBoot upload in progress, for ad hoc diagnostics.
func (ep *Endpoint) DumpState() string {
	ep.mu.Lock()
	snap := endpointSnapshot{
		Chan:      ep.chanID,
		Booted:    ep.booted,
		Running:   ep.running,
		CmdIssued: ep.cmdIssued,
		LastCmd:   ep.lastCmd,
		LastJStat: jstatFlags(ep.lastJStat),
	}
	if ep.joyboot != nil {
		snap.JoyBoot = &challengeSnapshot{
			Stage:      ep.joyboot.stage.String(),
			Percentage: ep.joyboot.PercentComplete(),
			BytesSent:  ep.joyboot.bytesSent,
			TotalBytes: ep.joyboot.totalBytes,
		}
	}
	ep.mu.Unlock()

	return fmt.Sprintf("Endpoint(chan=%d):\n%s", snap.Chan, spew.Sdump(snap))
}
