package commands

import (
	"context"
	"os"
	"os/signal"
)

// interruptible returns a context cancelled on SIGINT or when done is called
func interruptible(parent context.Context) (context.Context, func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	doneCh := make(chan struct{})

	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-sigCh:
		case <-doneCh:
		}
		signal.Stop(sigCh)
		cancel()
	}()
	return ctx, func() { close(doneCh) }
}
