// Package tasks tracks in-flight synthesis tasks and their cancellation flags.
package tasks

import "sync"

// Registry maps task IDs to a cancellation flag.
//
// Unknown IDs are never an error: cancelling, querying or unregistering a task
// that is not (or no longer) registered is a no-op. The empty ID means "no
// task" and is never stored.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]bool),
	}
}

// Register creates an entry for id with the cancellation flag cleared.
// Registering an existing id resets its flag.
func (r *Registry) Register(id string) {
	if id == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[id] = false
}

// Cancel sets the cancellation flag for id and reports whether id was registered.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return false
	}

	r.tasks[id] = true

	return true
}

// IsCancelled reports whether id is registered and cancelled.
func (r *Registry) IsCancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.tasks[id]
}

// Unregister removes id from the registry.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tasks, id)
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tasks)
}
