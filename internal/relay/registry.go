package relay

import (
	"context"
	"log"
	"sync"
)

// Registry owns the live sessions of a process, one per client connection.
// Sessions share nothing but the factory and options they are created from.
type Registry struct {
	factory AdapterFactory
	opts    Options

	mu       sync.Mutex
	sessions map[string]*registryEntry
	draining bool
	wg       sync.WaitGroup
}

type registryEntry struct {
	session *Session
	once    sync.Once
}

// NewRegistry creates an empty registry.
func NewRegistry(factory AdapterFactory, opts Options) *Registry {
	return &Registry{
		factory:  factory,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*registryEntry),
	}
}

// Open creates a session for a freshly accepted connection and starts its
// loop. The session is removed from the registry when the loop exits. Once
// DisconnectAll has been called Open fails with ErrSessionClosed.
func (r *Registry) Open(id string, out Sender) (*Session, error) {
	session := NewSession(id, r.factory, out, r.opts)
	unregister, err := r.register(id, session)
	if err != nil {
		return nil, err
	}

	go func() {
		defer unregister()
		session.Run()
	}()

	log.Printf("[relay] session=%s opened (live=%d)", id, r.Count())
	return session, nil
}

func (r *Registry) register(id string, session *Session) (unregister func(), err error) {
	entry := &registryEntry{session: session}

	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return nil, newError(ErrSessionClosed, "server is shutting down")
	}
	old := r.sessions[id]
	r.sessions[id] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		old.session.Disconnect()
	}

	return func() { r.unregister(id, entry) }, nil
}

func (r *Registry) unregister(id string, entry *registryEntry) {
	entry.once.Do(func() {
		r.mu.Lock()
		if r.sessions[id] == entry {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		r.wg.Done()
		log.Printf("[relay] session=%s removed", id)
	})
}

// Get returns the live session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// DisconnectAll forces teardown of every live session and stops accepting
// new ones. It is called on shutdown.
func (r *Registry) DisconnectAll() int {
	r.mu.Lock()
	r.draining = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, entry := range r.sessions {
		sessions = append(sessions, entry.session)
	}
	r.mu.Unlock()

	for _, session := range sessions {
		session.Disconnect()
	}
	return len(sessions)
}

// Wait blocks until every session has been removed or ctx is done.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
