package jbus

import (
	"github.com/AxioDL/jbus/internal/gctick"
	"github.com/AxioDL/jbus/internal/netsock"
)

// idlePollInterval is how long the I/O goroutine sleeps between idle STATUS
// polls while no non-STATUS command has yet completed (i.e. before the
// endpoint is considered "booted"). Roughly one GameCube frame's worth of ticks at 60Hz,
// times four, matching the original's idle poll cadence.
const idlePollInterval = gctick.PerSec * 4 / 60

// ioLoop is the Endpoint's dedicated I/O goroutine. It waits for a command
// to be armed, performs the wire transaction with the lock released, then
// re-acquires the lock to post the result and, still holding it, invokes
// the completion callback so the callback's ThreadLocalEndpoint methods
// can arm the next command without a second lock acquisition. While the
// endpoint hasn't yet booted and no command is outstanding, it polls STATUS
// on an idle cadence instead of blocking on issueCV, so a GBA that powers on
// after the connection is made is still noticed.
func (ep *Endpoint) ioLoop() {
	defer close(ep.doneCh)

	ep.mu.Lock()
	defer ep.mu.Unlock()

	for {
		for !ep.cmdIssued && ep.running && ep.booted {
			ep.issueCV.Wait()
		}
		if !ep.running {
			return
		}

		if !ep.cmdIssued {
			ep.mu.Unlock()
			if result, reply := ep.runBuffer(cmdStatus, [5]byte{byte(cmdStatus)}); result == Ready {
				ep.mu.Lock()
				ep.lastJStat = reply[2]
				ep.mu.Unlock()
			}
			gctick.Sleep(idlePollInterval)
			ep.mu.Lock()
			continue
		}

		cmd := ep.lastCmd
		out := ep.buffer
		status := ep.statusPtr
		dst := ep.readDstPtr

		ep.mu.Unlock()
		result, reply := ep.runBuffer(cmd, out)
		ep.mu.Lock()

		if result == Ready {
			st, data := interpretReply(cmd, reply)
			ep.lastJStat = st
			if status != nil {
				*status = st
			}
			if dst != nil && data != nil {
				copy(dst, data)
			}
			if cmd != cmdStatus {
				ep.booted = true
			}
		}

		ep.lastSyncStatus = result
		ep.cmdIssued = false
		ep.syncCV.Broadcast()

		cb := ep.callback
		ep.callback = nil
		if cb != nil {
			tep := &ThreadLocalEndpoint{ep: ep}
			cb(tep, result)
		}
	}
}

// interpretReply extracts the status byte (and, for READ, the 4 data
// bytes) from a 5-byte response frame, per the wire layout for cmd:
//   - STATUS / RESET: status is reply[2].
//   - WRITE: status is reply[0].
//   - READ: data is reply[0:4], status is reply[4].
func interpretReply(cmd joybusCmd, reply [5]byte) (status byte, data []byte) {
	switch cmd {
	case cmdWrite:
		return reply[0], nil
	case cmdRead:
		return reply[4], reply[0:4]
	default: // cmdStatus, cmdReset
		return reply[2], nil
	}
}

// runBuffer performs one JoyBus transaction over the data socket: clock
// sync first, then the opcode (plus 4 payload bytes for WRITE) out, and
// always a 5-byte reply back.
func (ep *Endpoint) runBuffer(cmd joybusCmd, out [5]byte) (JoyReturn, [5]byte) {
	var reply [5]byte

	ep.clockSync()

	n := 1
	if cmd == cmdWrite {
		n = 5
	}
	if _, res := ep.dataSocket.Send(out[:n]); res != netsock.OK {
		ep.markStopped()
		return NotReady, reply
	}

	if _, res := ep.dataSocket.Recv(reply[:]); res != netsock.OK {
		ep.markStopped()
		return NotReady, reply
	}

	return Ready, reply
}

// markStopped marks the endpoint as no longer running after a send/recv
// failure and wakes anyone waiting on it, mirroring Stop()'s shutdown
// signal.
func (ep *Endpoint) markStopped() {
	ep.mu.Lock()
	ep.running = false
	ep.mu.Unlock()
	ep.issueCV.Broadcast()
	ep.syncCV.Broadcast()
}

// clockSync sends the elapsed GameCube ticks since the last transaction
// down the clock socket, scaled into the GBA's 2^24Hz tick domain, as a
// big-endian 4-byte value. Failure here does not fail the transaction.
func (ep *Endpoint) clockSync() {
	if ep.clockSocket == nil || !ep.clockSocket.IsOpen() {
		return
	}
	ticks := ep.gcTicksSince()
	gbaTicks := scaleToGBATicks(ticks)
	buf := [4]byte{
		byte(gbaTicks >> 24),
		byte(gbaTicks >> 16),
		byte(gbaTicks >> 8),
		byte(gbaTicks),
	}
	ep.clockSocket.Send(buf[:])
}

// scaleToGBATicks rescales a duration in 486MHz GameCube ticks into the
// GBA's 2^24Hz tick domain.
func scaleToGBATicks(gcTicks uint64) uint32 {
	const gbaTicksPerSec = 1 << 24
	return uint32(gcTicks * gbaTicksPerSec / gctick.PerSec)
}
