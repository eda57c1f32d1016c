package shutdown

import (
	"context"
	"os/signal"
)

// Context is cancelled on the first interrupt or terminate signal. Calling
// stop restores default signal handling, so a second ctrl+c kills the
// process.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}
