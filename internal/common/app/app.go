package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// CreateContextWithShutdown returns a context that will report done when a SIGINT or SIGTERM is received
func CreateContextWithShutdown() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ShutdownSignal():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

// ShutdownSignal returns a channel that is closed when a SIGINT or SIGTERM is received. Unlike
// CreateContextWithShutdown it leaves in-flight work alone, so callers can stop cooperatively.
func ShutdownSignal() <-chan struct{} {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-c
		signal.Stop(c)
		close(done)
	}()
	return done
}
