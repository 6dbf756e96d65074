package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds the whole shutdown sequence
const DefaultShutdownTimeout = 30 * time.Second

// ShutdownFunc releases one resource: a nonce backend, a key watcher, OTel exporters.
type ShutdownFunc func(context.Context) error

// ShutdownManager stops the HTTP servers first so no callback is mid-flight,
// then releases the resources they used.
type ShutdownManager struct {
	logger  *Logger
	timeout time.Duration

	mu      sync.Mutex
	servers []*http.Server
	funcs   []ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager. A zero timeout means DefaultShutdownTimeout.
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &ShutdownManager{logger: logger, timeout: timeout}
}

// RegisterServer adds an HTTP server to drain before the shutdown functions run
func (sm *ShutdownManager) RegisterServer(server *http.Server) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.servers = append(sm.servers, server)
}

// RegisterShutdownFunc adds a function run concurrently with the others after the servers stop
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, fn)
}

// WaitForShutdown blocks until SIGINT/SIGTERM arrives or ctx is done, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		sm.logger.WithField("signal", sig.String()).Info("Starting graceful shutdown")
	case <-ctx.Done():
		sm.logger.Info("Context done, starting graceful shutdown")
	}
	return sm.Shutdown()
}

// Shutdown drains the servers, then runs every shutdown function. All errors
// are returned joined; a function still running at the deadline is abandoned.
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	servers := append([]*http.Server(nil), sm.servers...)
	funcs := append([]ShutdownFunc(nil), sm.funcs...)
	sm.mu.Unlock()

	for _, server := range servers {
		sm.logger.WithField("addr", server.Addr).Info("Draining HTTP server")
		if err := server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
	}

	var (
		g      errgroup.Group
		errsMu sync.Mutex
		errs   []error
	)
	for i, fn := range funcs {
		g.Go(func() error {
			if err := fn(ctx); err != nil {
				sm.logger.WithError(err).WithField("index", i).Error("Shutdown function failed")
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.logger.Warn("Shutdown timeout reached, abandoning remaining shutdown functions")
		return fmt.Errorf("shutdown timeout reached after %s", sm.timeout)
	}

	errsMu.Lock()
	defer errsMu.Unlock()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown completed with %d errors: %w", len(errs), err)
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
