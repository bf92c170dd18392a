package devicelink

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

// Handler executes one command type.
type Handler func(ctx context.Context, payload map[string]any) error

// Dispatcher routes commands to handlers by type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register binds cmdType to h, replacing any previous handler.
func (d *Dispatcher) Register(cmdType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[cmdType] = h
}

// Types lists the registered command types in sorted order.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the handler for cmd and reports whether one was found.
// Handler errors and panics are logged and never propagate.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command) bool {
	d.mu.RLock()
	h, ok := d.handlers[cmd.Type]
	d.mu.RUnlock()

	if !ok {
		d.logger.Warn("unknown command ignored", "type", cmd.Type)
		return false
	}

	d.logger.Info("executing command", "type", cmd.Type)
	if err := d.run(ctx, h, cmd); err != nil {
		d.logger.Error("command failed", "type", cmd.Type, "error", err)
	}
	return true
}

func (d *Dispatcher) run(ctx context.Context, h Handler, cmd protocol.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, cmd.Payload)
}
