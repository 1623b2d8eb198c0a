package gctick

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNowIsMonotonicallyIncreasing(t *testing.T) {
	a := Now()
	time.Sleep(time.Millisecond)
	b := Now()
	assert.Greater(t, b, a)
}

func TestSleepBlocksApproximatelyRequestedTicks(t *testing.T) {
	ticks := PerSec / 100 // ~10ms
	start := time.Now()
	Sleep(ticks)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 8*time.Millisecond)
}

func TestPerSecMatchesGameCubeClock(t *testing.T) {
	assert.EqualValues(t, 486_000_000, PerSec)
}
