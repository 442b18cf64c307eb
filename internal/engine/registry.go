package engine

import (
	"fmt"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// Registry maps task types to handlers. It is populated at startup and
// read-only afterwards, so no locking is needed.
type Registry struct {
	handlers map[domain.TaskType]domain.Handler
}

// NewRegistry builds a registry from the given handlers.
func NewRegistry(handlers ...domain.Handler) *Registry {
	r := &Registry{handlers: make(map[domain.TaskType]domain.Handler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.Type()] = h
	}
	return r
}

// Register adds or replaces the handler for a type.
func (r *Registry) Register(h domain.Handler) {
	r.handlers[h.Type()] = h
}

// Resolve returns the handler for a task type.
func (r *Registry) Resolve(t domain.TaskType) (domain.Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("no handler registered for task type %q: %w", t, domain.ErrInternal)
	}
	return h, nil
}

// Types lists the registered task types.
func (r *Registry) Types() []domain.TaskType {
	out := make([]domain.TaskType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
