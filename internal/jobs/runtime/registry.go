package runtime

import (
	"fmt"
	"sort"
	"sync"
)

// Handler runs one job type. The worker owns the job row; the handler reports
// through the Context it is given.
type Handler interface {
	Type() string
	Run(ctx *Context) error
}

// HandlerFunc adapts a function to Handler for a fixed job type.
type HandlerFunc struct {
	JobType string
	Fn      func(ctx *Context) error
}

func (h HandlerFunc) Type() string           { return h.JobType }
func (h HandlerFunc) Run(ctx *Context) error { return h.Fn(ctx) }

// Registry maps job types to handlers. A type can be registered once.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(hs ...Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range hs {
		if h == nil {
			return fmt.Errorf("nil handler")
		}
		t := h.Type()
		if t == "" {
			return fmt.Errorf("handler has empty job type")
		}
		if _, exists := r.handlers[t]; exists {
			return fmt.Errorf("handler already registered for job_type=%s", t)
		}
		r.handlers[t] = h
	}
	return nil
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists the registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Require fails when any of jobTypes has no handler. A job of an unhandled type
// would otherwise sit in the queue until it is failed as unknown.
func (r *Registry) Require(jobTypes ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, t := range jobTypes {
		if _, ok := r.handlers[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no handler registered for job types %v", missing)
	}
	return nil
}
