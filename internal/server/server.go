// Package server runs the gateway's HTTP server until a shutdown signal.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Options control how Serve listens and stops. The zero value listens on
// server.Addr and stops on SIGINT or SIGTERM.
type Options struct {
	ShutdownTimeout time.Duration
	Listener        net.Listener
	Signals         <-chan os.Signal
}

// Serve blocks until the server fails or a signal arrives, then drains
// in-flight requests for at most ShutdownTimeout.
func Serve(server *http.Server, logger *zap.Logger, opts Options) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if opts.Listener != nil {
			err = server.Serve(opts.Listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := opts.Signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
