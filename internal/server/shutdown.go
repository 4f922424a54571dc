package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Hook priorities. Lower priorities run first.
const (
	PriorityHTTP     = 10
	PriorityWorker   = 20
	PriorityStore    = 80
	PriorityTracing  = 85
	PriorityAuditLog = 95
)

// ShutdownHook is a function called during shutdown.
type ShutdownHook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// ShutdownConfig configures the shutdown handler.
type ShutdownConfig struct {
	// Timeout for graceful shutdown (default: 30s)
	Timeout time.Duration
	// Signals to listen for (default: SIGTERM, SIGINT)
	Signals []os.Signal
	Logger  *slog.Logger
}

// ShutdownHandler runs registered hooks in priority order once a signal
// arrives or Shutdown is called.
type ShutdownHandler struct {
	mu      sync.Mutex
	hooks   []ShutdownHook
	timeout time.Duration
	signals []os.Signal
	logger  *slog.Logger

	trigger  chan struct{}
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// NewShutdownHandler creates a new shutdown handler.
func NewShutdownHandler(config *ShutdownConfig) *ShutdownHandler {
	h := &ShutdownHandler{
		timeout: 30 * time.Second,
		signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
		logger:  slog.Default(),
		trigger: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if config != nil {
		if config.Timeout > 0 {
			h.timeout = config.Timeout
		}
		if len(config.Signals) > 0 {
			h.signals = config.Signals
		}
		if config.Logger != nil {
			h.logger = config.Logger
		}
	}
	return h
}

// RegisterHook adds a shutdown hook. Hooks of equal priority run in
// registration order.
func (h *ShutdownHandler) RegisterHook(name string, priority int, fn func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, ShutdownHook{Name: name, Priority: priority, Fn: fn})
	sort.SliceStable(h.hooks, func(i, j int) bool { return h.hooks[i].Priority < h.hooks[j].Priority })
}

// Start begins listening for shutdown signals.
func (h *ShutdownHandler) Start() {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, h.signals...)

	go func() {
		select {
		case sig := <-sigCh:
			h.logger.Info("shutdown signal received", "signal", sig.String())
		case <-h.trigger:
		}
		signal.Stop(sigCh)
		h.run()
	}()
}

// Shutdown triggers shutdown without a signal. It is a no-op before Start.
func (h *ShutdownHandler) Shutdown() {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if !started {
		return
	}
	h.stopOnce.Do(func() { close(h.trigger) })
}

// Wait blocks until every hook has run.
func (h *ShutdownHandler) Wait() {
	<-h.done
}

// Done returns a channel that closes when shutdown is complete.
func (h *ShutdownHandler) Done() <-chan struct{} {
	return h.done
}

func (h *ShutdownHandler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	hooks := append([]ShutdownHook(nil), h.hooks...)
	h.mu.Unlock()

	for _, hook := range hooks {
		start := time.Now()
		if err := hook.Fn(ctx); err != nil {
			h.logger.Error("shutdown hook failed", "hook", hook.Name, "error", err)
			continue
		}
		h.logger.Debug("shutdown hook done", "hook", hook.Name, "duration", time.Since(start))
	}
	close(h.done)
}
