//go:build !windows

package doctor

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
)

// resetTerminal undoes raw mode left behind by an earlier TUI session.
func resetTerminal() {
	exec.Command("stty", "sane").Run()
}

func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
