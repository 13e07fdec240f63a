package worker

import (
	"context"

	"github.com/wisbric/auditloop/pkg/job"
)

// Handler executes one job's payload.type. Returning *TransientError or
// *PermanentError controls retry behavior; any other error is classified
// by substring matching.
type Handler interface {
	Handle(ctx context.Context, j *job.Job) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, j *job.Job) error

func (f HandlerFunc) Handle(ctx context.Context, j *job.Job) error { return f(ctx, j) }

// Registry maps a job's payload.type to the Handler that executes it.
// A map lookup, not reflection: job types are a closed, explicitly
// registered set.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds jobType to handler. Re-registering a type overwrites it.
func (r *Registry) Register(jobType string, handler Handler) {
	r.handlers[jobType] = handler
}

// Lookup returns the handler for jobType, or false if none is registered.
func (r *Registry) Lookup(jobType string) (Handler, bool) {
	h, ok := r.handlers[jobType]
	return h, ok
}
