package service

import (
	"context"
	"log"
	"strings"
	"sync"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Registry hands out one Session per cashier, started on first use.
type Registry struct {
	repo store.Repository
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(repo store.Repository, opts Options) *Registry {
	return &Registry{
		repo:     repo,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Session returns the cashier's session, creating and starting it if needed.
// A failed initial load is logged; the session still serves and reconciles on
// its next refresh.
func (r *Registry) Session(ctx context.Context, cashierID string) (*Session, error) {
	cashierID = strings.TrimSpace(cashierID)
	if cashierID == "" {
		return nil, domain.ErrValidation
	}

	r.mu.Lock()
	if session, ok := r.sessions[cashierID]; ok {
		r.mu.Unlock()
		return session, nil
	}
	session := NewSession(cashierID, r.repo, r.opts)
	r.sessions[cashierID] = session
	r.mu.Unlock()

	if err := session.Start(ctx); err != nil {
		log.Printf("[service] WARN: start session for cashier %s: %v", cashierID, err)
	}
	return session, nil
}

// ForActor resolves the session of the authenticated cashier on ctx.
func (r *Registry) ForActor(ctx context.Context) (*Session, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, domain.ErrValidation
	}
	return r.Session(ctx, actor.Username)
}

func (r *Registry) Lookup(cashierID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[cashierID]
	return session, ok
}

func (r *Registry) Close(cashierID string) {
	r.mu.Lock()
	session, ok := r.sessions[cashierID]
	delete(r.sessions, cashierID)
	r.mu.Unlock()
	if ok {
		session.Close()
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, session := range sessions {
		session.Close()
	}
}
