package engine

import (
	"context"
	"sort"
	"sync"

	"actionboard/internal/domain"
)

// Registry tracks the live sessions served by one process.
type Registry struct {
	Engine Engine

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(e Engine) *Registry {
	return &Registry{Engine: e, sessions: map[string]*Session{}}
}

func (r *Registry) Open(ctx context.Context, opts SessionOptions) (*Session, error) {
	s, err := r.Engine.OpenSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	r.Engine.Metrics.SessionOpened()
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "session", ID: id}
	}
	return s, nil
}

// Close tears down and forgets a session.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return &domain.NotFoundError{Kind: "session", ID: id}
	}
	s.Close()
	r.Engine.Metrics.SessionClosed()
	return nil
}

// CloseAll tears down every session; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = map[string]*Session{}
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
		r.Engine.Metrics.SessionClosed()
	}
}

// IDs returns the open session ids in lexical order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
