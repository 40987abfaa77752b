// Package xcmd holds small process-lifecycle helpers shared by
// cmd/tesfcd, kept separate from the daemon's own packages so they can
// be unit tested without pulling in any capture-specific state.
package xcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Interrupted wraps the os.Signal that ended a WaitInterrupted call, so
// callers can distinguish a clean shutdown request from a real error
// with errors.Is/errors.As.
type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return m.String()
}

// WaitInterrupted blocks until SIGINT or SIGTERM arrives, or ctx is
// canceled, whichever comes first.
func WaitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case v := <-ch:
		return Interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}
