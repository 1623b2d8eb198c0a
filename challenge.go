package jbus

import "encoding/binary"

// kawasedoStage tags which step of the Kawasedo multiboot handshake a
// KawasedoChallenge is waiting on. Using an explicit enum (rather than
// binding the next pending operation as a raw function value, the way the
// original C++ does with bound member-function pointers) keeps the sequence
// inspectable from DumpState and cmd/jmon.
type kawasedoStage int

const (
	stageReset kawasedoStage = iota
	stageGetStatus
	stageReadChallenge
	stageDSPCrypto
	stageTransmitProgram
	stageStartBootPoll
	stageBootPoll
	stageBootAcknowledge
	stageBootDone
)

func (s kawasedoStage) String() string {
	switch s {
	case stageReset:
		return "Reset"
	case stageGetStatus:
		return "GetStatus"
	case stageReadChallenge:
		return "ReadChallenge"
	case stageDSPCrypto:
		return "DSPCrypto"
	case stageTransmitProgram:
		return "TransmitProgram"
	case stageStartBootPoll:
		return "StartBootPoll"
	case stageBootPoll:
		return "BootPoll"
	case stageBootAcknowledge:
		return "BootAcknowledge"
	case stageBootDone:
		return "BootDone"
	default:
		return "Unknown"
	}
}

// KawasedoChallenge owns the state of a single Kawasedo BootROM multiboot
// upload in progress on an Endpoint. It is created by GBAJoyBootAsync and
// driven entirely by its own completion callbacks; callers only ever
// observe it through Endpoint.GBAGetProcessStatus.
type KawasedoChallenge struct {
	paletteColor int32
	paletteSpeed int32
	prog         []byte // remaining unread program bytes
	progLen      int32  // original program length, fixed at construction
	statusPtr    *byte
	callback     Callback

	readBuf  [4]byte
	writeBuf [4]byte

	bytesSent  uint32
	totalBytes uint32
	crc        uint32

	currentKey  uint32
	initMessage uint32
	gameID      uint32

	byteInWindow int32
	checkStore   [8]uint32

	stage       kawasedoStage
	justStarted bool
	initialized bool
	started     bool
}

// newKawasedoChallenge constructs a challenge bound to all of programp,
// ready for Start. Validation of its parameters is GBAJoyBootAsync's job.
func newKawasedoChallenge(paletteColor, paletteSpeed int32, programp []byte, status *byte, callback Callback) *KawasedoChallenge {
	return &KawasedoChallenge{
		paletteColor: paletteColor,
		paletteSpeed: paletteSpeed,
		prog:         programp,
		progLen:      int32(len(programp)),
		statusPtr:    status,
		callback:     callback,
		initialized:  true,
		started:      true,
	}
}

// Start kicks off the handshake with a priming GBAGetStatusAsync; its
// completion is handled by stageReset (see advance).
func (kc *KawasedoChallenge) Start(ep *Endpoint) {
	if ep.GBAGetStatusAsync(kc.statusPtr, kc.advance) != Ready {
		kc.callback = nil
		kc.started = false
	}
}

// Started reports whether the priming operation in Start was accepted.
func (kc *KawasedoChallenge) Started() bool { return kc.started }

// PercentComplete reports upload progress in [0,100].
func (kc *KawasedoChallenge) PercentComplete() byte {
	if kc.totalBytes == 0 {
		return 0
	}
	return byte(uint64(kc.bytesSent) * 100 / uint64(kc.totalBytes))
}

// IsDone reports whether the terminal callback has already fired.
func (kc *KawasedoChallenge) IsDone() bool { return kc.callback == nil }

// finish invokes and clears the one-shot terminal callback, if still set.
func (kc *KawasedoChallenge) finish(tep *ThreadLocalEndpoint, status JoyReturn) {
	if kc.callback != nil {
		cb := kc.callback
		kc.callback = nil
		cb(tep, status)
	}
}

// next runs issue() when status is Ready, advancing to whatever stage issue
// arms; any non-Ready result (from the prior op, or from issue itself) ends
// the challenge.
func (kc *KawasedoChallenge) next(tep *ThreadLocalEndpoint, status JoyReturn, issue func() JoyReturn) {
	if status != Ready {
		kc.finish(tep, status)
		return
	}
	if st := issue(); st != Ready {
		kc.finish(tep, st)
	}
}

// advance is installed as the Callback for every async op the challenge
// issues. It is re-entered from the I/O thread once per completed op, and
// dispatches on kc.stage to run the next step of the handshake.
func (kc *KawasedoChallenge) advance(tep *ThreadLocalEndpoint, status JoyReturn) {
	switch kc.stage {
	case stageReset:
		kc.next(tep, status, func() JoyReturn {
			kc.stage = stageGetStatus
			return tep.GBAResetAsync(kc.statusPtr, kc.advance)
		})

	case stageGetStatus:
		if status == Ready && *kc.statusPtr != JStatSend {
			status = JoyBootUnknownState
		}
		kc.next(tep, status, func() JoyReturn {
			kc.stage = stageReadChallenge
			return tep.GBAGetStatusAsync(kc.statusPtr, kc.advance)
		})

	case stageReadChallenge:
		if status == Ready && *kc.statusPtr != (JStatPSF0|JStatSend) {
			status = JoyBootUnknownState
		}
		kc.next(tep, status, func() JoyReturn {
			kc.stage = stageDSPCrypto
			return tep.GBAReadAsync(&kc.readBuf, kc.statusPtr, kc.advance)
		})

	case stageDSPCrypto:
		if status != Ready {
			kc.finish(tep, status)
			return
		}
		kc.initDSPCrypto()
		kc.stage = stageTransmitProgram
		kc.justStarted = true
		if st := tep.GBAWriteAsync(kc.writeBuf, kc.statusPtr, kc.advance); st != Ready {
			kc.finish(tep, st)
		}

	case stageTransmitProgram:
		kc.transmitProgram(tep, status)

	case stageStartBootPoll:
		kc.next(tep, status, func() JoyReturn {
			kc.stage = stageBootPoll
			return tep.GBAGetStatusAsync(kc.statusPtr, kc.advance)
		})

	case stageBootPoll:
		if status == Ready && (*kc.statusPtr&(JStatFlagsMask|JStatRecv)) != 0 {
			status = JoyBootUnknownState
		}
		if status != Ready {
			kc.finish(tep, status)
			return
		}
		if *kc.statusPtr != JStatSend {
			if st := tep.GBAGetStatusAsync(kc.statusPtr, kc.advance); st != Ready {
				kc.finish(tep, st)
			}
			return
		}
		kc.stage = stageBootAcknowledge
		if st := tep.GBAReadAsync(&kc.readBuf, kc.statusPtr, kc.advance); st != Ready {
			kc.finish(tep, st)
		}

	case stageBootAcknowledge:
		kc.next(tep, status, func() JoyReturn {
			kc.stage = stageBootDone
			return tep.GBAWriteAsync(kc.readBuf, kc.statusPtr, kc.advance)
		})

	case stageBootDone:
		if status == Ready {
			*kc.statusPtr = 0
		}
		kc.finish(tep, status)
	}
}

// initDSPCrypto computes the key/MAC from the challenge just read off the
// wire and primes the transmit loop's running state.
func (kc *KawasedoChallenge) initDSPCrypto() {
	challenge := binary.LittleEndian.Uint32(kc.readBuf[:])
	key, authInitCode := processGBACrypto(challenge, kc.paletteColor, kc.paletteSpeed, kc.progLen)

	kc.currentKey = key
	kc.initMessage = authInitCode

	total := roundUp8(kc.progLen)
	if total < 512 {
		total = 512
	}
	kc.totalBytes = uint32(total)
	kc.byteInWindow = (total - 512) / 8

	binary.LittleEndian.PutUint32(kc.writeBuf[:], kc.initMessage)

	kc.crc = 0x15a0
	kc.bytesSent = 0
}

// csIdx maps a (possibly negative or out-of-range) checkStore index into
// [0,8) by modular wraparound, so the index -1 the original's BIOS-faithful
// arithmetic can momentarily compute lands on slot 7 instead of reading
// adjacent memory. See DESIGN.md for why this never actually triggers given
// the protocol's minimum 512-byte total length.
func csIdx(i int32) int {
	m := i % 8
	if m < 0 {
		m += 8
	}
	return int(m)
}

// transmitProgram is stage 4 of the handshake: it is re-entered after every
// WRITE completion and either streams the next 4-byte cipherstream packet
// or, once the whole program (plus trailing CRC word) has gone out,
// transitions into the boot poll.
func (kc *KawasedoChallenge) transmitProgram(tep *ThreadLocalEndpoint, status JoyReturn) {
	if status != Ready {
		kc.finish(tep, status)
		return
	}

	if kc.justStarted {
		kc.justStarted = false
	} else {
		if (*kc.statusPtr&JStatPSF1) == 0 || (*kc.statusPtr&JStatPSF0)>>4 != (kc.bytesSent&4)>>2 {
			kc.finish(tep, JoyBootUnknownState)
			return
		}
		kc.bytesSent += 4
	}

	if kc.bytesSent > kc.totalBytes {
		kc.stage = stageStartBootPoll
		if st := tep.GBAReadAsync(&kc.readBuf, kc.statusPtr, kc.advance); st != Ready {
			kc.finish(tep, st)
		}
		return
	}

	var cryptWindow uint32
	if kc.bytesSent != kc.totalBytes {
		kc.byteInWindow = 0
		for kc.byteInWindow < 4 {
			if len(kc.prog) > 0 {
				cryptWindow |= uint32(kc.prog[0]) << uint(kc.byteInWindow*8)
				kc.prog = kc.prog[1:]
			}
			kc.byteInWindow++
		}

		switch kc.bytesSent {
		case 0xac:
			kc.gameID = cryptWindow
		case 0xc4:
			cryptWindow = uint32(tep.Chan()) << 8
		}

		if kc.bytesSent >= 0xc0 {
			shiftWindow := cryptWindow
			shiftCrc := kc.crc
			for i := 0; i < 32; i++ {
				if (shiftWindow^shiftCrc)&1 != 0 {
					shiftCrc = (shiftCrc >> 1) ^ 0xa1c1
				} else {
					shiftCrc >>= 1
				}
				shiftWindow >>= 1
			}
			kc.crc = shiftCrc
		}

		switch kc.bytesSent {
		case 0x1f8:
			kc.checkStore[csIdx(0)] = cryptWindow
		case 0x1fc:
			kc.byteInWindow = 1
			kc.checkStore[csIdx(kc.byteInWindow)] = cryptWindow
		}
	} else {
		cryptWindow = kc.crc | (kc.bytesSent << 16)
	}

	if kc.bytesSent > 0xbf {
		kc.currentKey = kc.currentKey*0x6177614b + 1
		cryptWindow ^= kc.currentKey
		cryptWindow ^= -(0x02000000 + kc.bytesSent)
		cryptWindow ^= 0x20796220
	}

	binary.LittleEndian.PutUint32(kc.writeBuf[:], cryptWindow)

	if kc.bytesSent == 0x1f8 {
		kc.checkStore[csIdx(2)] = cryptWindow
	}

	if kc.byteInWindow < 4 {
		bwi := kc.byteInWindow
		kc.checkStore[csIdx(2+bwi)] = cryptWindow
		kc.checkStore[csIdx(5-bwi)] = kc.checkStore[csIdx(1+bwi)] * kc.checkStore[csIdx(4-bwi)]
		kc.checkStore[csIdx(4+bwi)] = kc.checkStore[csIdx(1+bwi)] * kc.checkStore[csIdx(1-bwi)]
		kc.checkStore[csIdx(7-bwi)] = kc.checkStore[csIdx(-1+bwi)] * kc.checkStore[csIdx(4-bwi)]
	}

	if st := tep.GBAWriteAsync(kc.writeBuf, kc.statusPtr, kc.advance); st != Ready {
		kc.finish(tep, st)
	}
}
