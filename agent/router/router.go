// Package router maps protocol actions to handlers.
package router

import (
	"context"
	"sort"
	"sync"

	"github.com/tzi-shue/print-service-deploy/common/ws"
)

// HandlerFunc handles one inbound message and returns the messages to send
// back, in order. A nil result sends nothing.
type HandlerFunc func(ctx context.Context, msg ws.Message) []ws.Message

// Logger interface for routing
type Logger interface {
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

type nullLogger struct{}

func (nullLogger) Warn(msg string, context ...interface{})  {}
func (nullLogger) Info(msg string, context ...interface{})  {}
func (nullLogger) Debug(msg string, context ...interface{}) {}

// Router is a registry of action handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	ignored  map[string]bool
	logger   Logger
}

// New creates an empty Router.
func New(logger Logger) *Router {
	if logger == nil {
		logger = nullLogger{}
	}
	return &Router{
		handlers: make(map[string]HandlerFunc),
		ignored:  make(map[string]bool),
		logger:   logger,
	}
}

// Handle registers h for action, replacing any previous handler.
func (r *Router) Handle(action string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
	delete(r.ignored, action)
}

// Ignore marks informational actions that are accepted and dropped.
func (r *Router) Ignore(actions ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range actions {
		r.ignored[a] = true
	}
}

// Has reports whether action has a handler.
func (r *Router) Has(action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[action]
	return ok
}

// Actions lists the handled actions, sorted.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for a := range r.handlers {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the handler of msg's action. The bool is false when no
// handler exists; unknown actions are logged and otherwise ignored.
func (r *Router) Dispatch(ctx context.Context, msg ws.Message) ([]ws.Message, bool) {
	action := msg.Action()
	r.mu.RLock()
	h, ok := r.handlers[action]
	ignored := r.ignored[action]
	r.mu.RUnlock()

	switch {
	case ok:
		return h(ctx, msg), true
	case ignored:
		r.logger.Debug("Informational message", "action", action)
		return nil, true
	case action == "":
		r.logger.Warn("Message without action dropped")
	default:
		r.logger.Info("Unknown action ignored", "action", action)
	}
	return nil, false
}
