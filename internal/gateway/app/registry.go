package app

import (
	"sync"

	"github.com/augustinebeh/worklink-gateway/internal/errmap"
	"github.com/augustinebeh/worklink-gateway/pkg/protocol"
)

// Conn is the registry's view of one live connection. Implementations must
// make both methods non-blocking: Send enqueues the frame and reports false
// when the connection cannot take it (outbound buffer full, closing), Close
// signals teardown and returns without waiting for the transport.
type Conn interface {
	Send(frame *protocol.Frame) bool
	Close(code int, reason string)
}

// Registry tracks live connections: any number of observers, at most one
// connection per worker identity. Safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	observers map[Conn]struct{}
	workers   map[string]Conn
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		observers: make(map[Conn]struct{}),
		workers:   make(map[string]Conn),
	}
}

// AddObserver registers an observer connection.
func (r *Registry) AddObserver(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[c] = struct{}{}
}

// RemoveObserver drops an observer connection. Removing a connection that
// was never registered is a no-op.
func (r *Registry) RemoveObserver(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observers, c)
}

// RegisterWorker installs c as the worker's single live connection. A prior
// connection for the same identity is closed with the superseded reason
// before c is stored, so at no instant are two connections registered for
// one worker. Returns true when a prior connection was superseded.
func (r *Registry) RegisterWorker(workerID string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.workers[workerID]
	if ok && prev != c {
		prev.Close(errmap.CloseSuperseded.Code, errmap.CloseSuperseded.Reason)
	}
	r.workers[workerID] = c
	return ok && prev != c
}

// RemoveWorker drops the worker's connection only if c is still the one
// registered. The close of a superseded connection races the successor's
// registration and must not evict it.
func (r *Registry) RemoveWorker(workerID string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.workers[workerID]
	if !ok || cur != c {
		return false
	}
	delete(r.workers, workerID)
	return true
}

// Worker returns the worker's live connection, if any.
func (r *Registry) Worker(workerID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.workers[workerID]
	return c, ok
}

// IsWorkerOnline reports whether the worker has a live connection.
func (r *Registry) IsWorkerOnline(workerID string) bool {
	_, ok := r.Worker(workerID)
	return ok
}

// Observers returns a snapshot of the observer set. Fan-out iterates the
// snapshot so sends never run under the registry lock.
func (r *Registry) Observers() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conn, 0, len(r.observers))
	for c := range r.observers {
		out = append(out, c)
	}
	return out
}

// WorkerIDs returns a snapshot of the identities with a live connection.
func (r *Registry) WorkerIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.workers))
	for id := range r.workers {
		out = append(out, id)
	}
	return out
}

// All returns a snapshot of every live connection, observers and workers.
func (r *Registry) All() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conn, 0, len(r.observers)+len(r.workers))
	for c := range r.observers {
		out = append(out, c)
	}
	for _, c := range r.workers {
		out = append(out, c)
	}
	return out
}

// Counts returns the number of registered observers and workers.
func (r *Registry) Counts() (observers, workers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers), len(r.workers)
}

// CloseAll closes every registered connection with the given code and
// reason, then empties the registry. Used on graceful shutdown.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.observers {
		c.Close(code, reason)
	}
	for _, c := range r.workers {
		c.Close(code, reason)
	}
	r.observers = make(map[Conn]struct{})
	r.workers = make(map[string]Conn)
}
