// Package supervisor starts all components, propagates a cooperative
// shutdown signal on process termination, waits for graceful quiescence,
// and falls back to a forced exit when a component wedges.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultTimeout is how long the supervisor waits for every component to
// quiesce after Stop before it gives up and forces a non-zero exit.
const DefaultTimeout = 10 * time.Second

// pollInterval is how often Alive() is polled while waiting for
// quiescence.
const pollInterval = 100 * time.Millisecond

// Component is anything the supervisor can start, stop cooperatively, and
// poll for aliveness. The engine, the trigger sources, and the orphan
// sweeper all implement this.
type Component interface {
	Name() string
	Run(ctx context.Context) error
	Stop()
	Alive() bool
}

// Supervisor owns the signal handlers and the stop-and-wait-with-timeout
// shutdown path.
type Supervisor struct {
	log     *slog.Logger
	timeout time.Duration
}

// New constructs a Supervisor with the given quiescence timeout.
func New(log *slog.Logger, timeout time.Duration) *Supervisor {
	return &Supervisor{log: log, timeout: timeout}
}

// Run starts every component in its own goroutine, then blocks until an OS
// termination signal arrives or a component's Run returns, normally or with
// an error. Either way it calls Stop on every component and waits for them
// to quiesce, polling Alive, up to the configured timeout. Returns the
// process exit code: 0 graceful, 1 timeout.
func (s *Supervisor) Run(ctx context.Context, components ...Component) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(components))
	for _, c := range components {
		wg.Add(1)
		go func(c Component) {
			defer wg.Done()
			err := c.Run(runCtx)
			errCh <- err
			if err != nil {
				s.log.Error("component exited with error", "component", c.Name(), "error", err)
			}
		}(c)
	}

	select {
	case sig := <-sigCh:
		s.log.Info("received termination signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			s.log.Error("component failed, shutting down the rest", "error", err)
		} else {
			s.log.Warn("component exited unexpectedly, shutting down the rest")
		}
	case <-ctx.Done():
		s.log.Info("context canceled, shutting down")
	}

	cancel()
	for _, c := range components {
		c.Stop()
	}

	if s.waitQuiesced(components) {
		s.log.Info("all components stopped, exiting")
		wg.Wait()
		return 0
	}

	s.log.Error("components failed to stop within timeout, forcing exit")
	return 1
}

func (s *Supervisor) waitQuiesced(components []Component) bool {
	deadline := time.After(s.timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if allStopped(components) {
			return true
		}
		select {
		case <-deadline:
			return allStopped(components)
		case <-ticker.C:
		}
	}
}

func allStopped(components []Component) bool {
	for _, c := range components {
		if c.Alive() {
			return false
		}
	}
	return true
}
