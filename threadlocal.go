package jbus

// ThreadLocalEndpoint is handed to every Callback by the I/O goroutine that
// is already holding the owning Endpoint's mutex. Its methods arm the next
// command directly, without locking, so a callback can chain commands
// (as KawasedoChallenge.advance does) without risking self-deadlock.
type ThreadLocalEndpoint struct {
	ep *Endpoint
}

// Chan reports the endpoint's JoyBus channel (0-3).
func (t *ThreadLocalEndpoint) Chan() byte { return t.ep.chanID }

// arm is the lockless counterpart of Endpoint.issueLocked; it assumes
// ep.mu is already held by the caller's goroutine.
func (t *ThreadLocalEndpoint) arm(cmd joybusCmd, buf [5]byte, status *byte, dst []byte, cb Callback) JoyReturn {
	ep := t.ep
	if !ep.running || ep.cmdIssued {
		return NotReady
	}
	ep.lastCmd = cmd
	ep.buffer = buf
	ep.statusPtr = status
	ep.readDstPtr = dst
	ep.callback = cb
	ep.cmdIssued = true
	return Ready
}

// GBAGetStatusAsync arms a STATUS command without locking.
func (t *ThreadLocalEndpoint) GBAGetStatusAsync(status *byte, cb Callback) JoyReturn {
	return t.arm(cmdStatus, [5]byte{byte(cmdStatus)}, status, nil, cb)
}

// GBAResetAsync arms a RESET command without locking.
func (t *ThreadLocalEndpoint) GBAResetAsync(status *byte, cb Callback) JoyReturn {
	return t.arm(cmdReset, [5]byte{byte(cmdReset)}, status, nil, cb)
}

// GBAReadAsync arms a READ command without locking.
func (t *ThreadLocalEndpoint) GBAReadAsync(dst *[4]byte, status *byte, cb Callback) JoyReturn {
	return t.arm(cmdRead, [5]byte{byte(cmdRead)}, status, dst[:], cb)
}

// GBAWriteAsync arms a WRITE command without locking.
func (t *ThreadLocalEndpoint) GBAWriteAsync(data [4]byte, status *byte, cb Callback) JoyReturn {
	buf := [5]byte{byte(cmdWrite), data[0], data[1], data[2], data[3]}
	return t.arm(cmdWrite, buf, status, nil, cb)
}
