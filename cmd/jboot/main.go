// Command jboot listens for a GBA emulator peer and pushes a multiboot
// program to it over the Kawasedo BootROM challenge, then waits for the
// uploaded program to report itself running before exiting.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/AxioDL/jbus"
)

type cliFlags struct {
	ROMPath      string
	PaletteColor int
	PaletteSpeed int
	Timeout      time.Duration
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.ROMPath, "rom", "", "path to the multiboot program image")
	flag.IntVar(&f.PaletteColor, "palette-color", 0, "boot logo palette color (0-6)")
	flag.IntVar(&f.PaletteSpeed, "palette-speed", 0, "boot logo palette speed (-4..4)")
	flag.DurationVar(&f.Timeout, "timeout", 30*time.Second, "overall upload timeout")
	flag.Parse()
	return f
}

// patchComplimentCheck fills in the header compliment byte at 0xbd from a
// running sum, seeded with 0x19, over bytes [0xa0,0xbd), the same fixup the original BootROM
// driver tool applies before every upload so the GBA's own header checksum
// validation accepts the image.
func patchComplimentCheck(program []byte) error {
	if len(program) <= 0xbd {
		return fmt.Errorf("jboot: program too short for header patch (%d bytes)", len(program))
	}
	sum := byte(0x19)
	for i := 0xa0; i < 0xbd; i++ {
		sum += program[i]
	}
	program[0xbd] = -sum
	return nil
}

// waitProgramRunning resets the endpoint once the upload completes and
// polls STATUS until the GBA reports PSF1|SEND, the signature of the
// uploaded program having taken over execution.
func waitProgramRunning(ep *jbus.Endpoint, timeout time.Duration) error {
	var status byte
	if st := ep.GBAReset(&status); st != jbus.Ready {
		return fmt.Errorf("jboot: post-boot reset failed: %v", st)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if st := ep.GBAGetStatus(&status); st != jbus.Ready {
			return fmt.Errorf("jboot: status poll failed: %v", st)
		}
		if status&(jbus.JStatPSF1|jbus.JStatSend) == (jbus.JStatPSF1 | jbus.JStatSend) {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("jboot: timed out waiting for program to run")
}

func run(f cliFlags) error {
	program, err := os.ReadFile(f.ROMPath)
	if err != nil {
		return fmt.Errorf("jboot: read rom: %w", err)
	}
	if err := patchComplimentCheck(program); err != nil {
		return err
	}

	logger := log.New(os.Stderr, "jboot: ", log.LstdFlags)
	l, err := jbus.NewListener(logger)
	if err != nil {
		return fmt.Errorf("jboot: listen: %w", err)
	}
	defer l.Stop()

	logger.Printf("waiting for a GBA peer on data port %d, clock port %d", jbus.DataPort, jbus.ClockPort)
	ep := l.Accept()
	if ep == nil {
		return fmt.Errorf("jboot: listener stopped before a peer connected")
	}
	defer ep.Stop()

	done := make(chan jbus.JoyReturn, 1)
	var status byte
	st := ep.GBAJoyBootAsync(int32(f.PaletteColor), int32(f.PaletteSpeed), program, &status, func(_ *jbus.ThreadLocalEndpoint, result jbus.JoyReturn) {
		done <- result
	})
	if st != jbus.Ready {
		return fmt.Errorf("jboot: joyboot rejected: %v", st)
	}

	select {
	case result := <-done:
		if result != jbus.Ready {
			return fmt.Errorf("jboot: upload failed: %v", result)
		}
	case <-time.After(f.Timeout):
		return fmt.Errorf("jboot: upload timed out")
	}

	logger.Printf("upload complete, waiting for program to start running")
	return waitProgramRunning(ep, f.Timeout)
}

func main() {
	f := parseFlags()
	if f.ROMPath == "" {
		fmt.Fprintln(os.Stderr, "jboot: -rom is required")
		os.Exit(2)
	}
	if err := run(f); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
