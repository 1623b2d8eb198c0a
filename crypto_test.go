package jbus

import "testing"

import "github.com/stretchr/testify/assert"

// TestProcessGBACryptoVector freezes a known-good (challenge, palette,
// length) -> (key, authInitCode) mapping, derived by hand from the DSP
// HLE algorithm for a zero challenge, palette color 2, palette speed 2, and
// a 1024-byte program.
func TestProcessGBACryptoVector(t *testing.T) {
	key, authInitCode := processGBACrypto(0x00000000, 2, 2, 1024)
	assert.EqualValues(t, 0x6f646573, key)
	assert.EqualValues(t, 0x83d5e18b, authInitCode)
}

func TestProcessGBACryptoKeyIsChallengeXorMagic(t *testing.T) {
	key, _ := processGBACrypto(0x12345678, 0, 0, 512)
	assert.EqualValues(t, 0x12345678^0x6f646573, key)
}

func TestRoundUp8(t *testing.T) {
	cases := []struct{ in, want int32 }{
		{0, 0},
		{1, 8},
		{7, 8},
		{8, 8},
		{9, 16},
		{100, 104},
		// Already 8-aligned lengths round to themselves: 600 = 75*8.
		{600, 600},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, roundUp8(c.in), "roundUp8(%d)", c.in)
	}
}

// TestJoyBootLengthClamp exercises the total_bytes derivation used by
// initDSPCrypto: max(roundUp8(progLen), 512).
func TestJoyBootLengthClamp(t *testing.T) {
	cases := []struct {
		progLen int32
		want    int32
	}{
		{100, 512}, // shorter than the minimum window clamps up to 512
		{600, 600}, // already 8-aligned and past the minimum, unchanged
		{1024, 1024},
	}
	for _, c := range cases {
		var status byte
		kc := newKawasedoChallenge(0, 0, make([]byte, c.progLen), &status, nil)
		kc.initDSPCrypto()
		assert.EqualValues(t, c.want, kc.totalBytes, "progLen=%d", c.progLen)
	}
}
