//go:build !unix

package camera

import (
	"os"
	"os/exec"
)

var (
	interruptSignal = os.Interrupt
	killSignal      = os.Kill
)

func setProcessGroup(*exec.Cmd) {}

func signalGroup(cmd *exec.Cmd, sig os.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if sig == os.Interrupt {
		// Interrupt is not deliverable on this platform.
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(sig)
}
