// Package shutdown turns SIGINT/SIGTERM into context cancellation and runs
// registered cleanup hooks first.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Handler collects hooks to run when the process is asked to stop.
type Handler struct {
	mu      sync.Mutex
	hooks   []func()
	trigger chan os.Signal
	once    sync.Once
}

// New returns a Handler with no hooks.
func New() *Handler {
	return &Handler{
		trigger: make(chan os.Signal, 1),
	}
}

// BeforeShutdown registers h. Hooks run in registration order, before the
// context returned by Listen is cancelled.
func (h *Handler) BeforeShutdown(hook func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.hooks = append(h.hooks, hook)
}

// Shutdown starts the shutdown as if a signal had arrived.
func (h *Handler) Shutdown() {
	select {
	case h.trigger <- os.Interrupt:
	default:
	}
}

// Listen returns a context that is cancelled, after the hooks have run, on
// SIGINT, SIGTERM or Shutdown. Calling Listen more than once returns
// contexts that share the same trigger.
func (h *Handler) Listen(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	h.once.Do(func() {
		signal.Notify(h.trigger, syscall.SIGINT, syscall.SIGTERM)
	})

	go func() {
		select {
		case sig := <-h.trigger:
			signal.Stop(h.trigger)
			slog.Warn("Received " + sig.String() + ", shutting down...")
			h.cleanup()
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx
}

func (h *Handler) cleanup() {
	h.mu.Lock()
	hooks := h.hooks
	h.hooks = nil
	h.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
}
