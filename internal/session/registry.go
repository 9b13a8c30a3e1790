package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/wappd/internal/store"
)

// Factory builds and starts a session. The production factory wires a
// whatsmeow adapter; tests inject one that returns sessions on fake
// links.
type Factory func(ctx context.Context, id string) (*Session, error)

// Registry owns the set of live sessions and mirrors their ids into
// registry.db so a restart can bring them back online.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	creating map[string]chan struct{}

	factory Factory
	db      *store.DB
	paths   Paths
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, db *store.DB, paths Paths, logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		creating: make(map[string]chan struct{}),
		factory:  factory,
		db:       db,
		paths:    paths,
		logger:   logger,
	}
}

// Get returns a live session or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// GetOrCreate returns the live session for id, creating and starting it
// on first use. Concurrent calls for the same id construct exactly one
// session; losers wait for the winner.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	for {
		r.mu.Lock()
		if s, ok := r.sessions[id]; ok {
			r.mu.Unlock()
			return s, nil
		}
		if wait, ok := r.creating[id]; ok {
			r.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		done := make(chan struct{})
		r.creating[id] = done
		r.mu.Unlock()

		s, err := r.create(ctx, id)

		r.mu.Lock()
		delete(r.creating, id)
		if err == nil {
			r.sessions[id] = s
		}
		r.mu.Unlock()
		close(done)
		return s, err
	}
}

func (r *Registry) create(ctx context.Context, id string) (*Session, error) {
	if err := r.paths.EnsureSessionDir(id); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	s, err := r.factory(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		s.Close(ctx, false)
		return nil, err
	}
	if err := r.db.InsertSession(id); err != nil {
		r.logger.Error("session registry insert failed",
			zap.String("session", id), zap.Error(err))
	}
	r.logger.Info("session created", zap.String("session", id))
	return s, nil
}

// Destroy logs the session out, stops it and removes its durable state.
func (r *Registry) Destroy(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	s.Close(ctx, true)
	if err := r.db.DeleteSession(id); err != nil {
		r.logger.Error("session registry delete failed",
			zap.String("session", id), zap.Error(err))
	}
	if err := r.paths.RemoveSessionState(id); err != nil {
		return fmt.Errorf("remove session state: %w", err)
	}
	r.logger.Info("session destroyed", zap.String("session", id))
	return nil
}

// List returns status snapshots for all live sessions, sorted by id.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore brings every registered session back online. One broken
// session never blocks the rest.
func (r *Registry) Restore(ctx context.Context) error {
	records, err := r.db.ListSessions()
	if err != nil {
		return fmt.Errorf("list registered sessions: %w", err)
	}
	for _, rec := range records {
		if _, err := r.GetOrCreate(ctx, rec.ID); err != nil {
			r.logger.Error("session restore failed",
				zap.String("session", rec.ID), zap.Error(err))
		}
	}
	r.logger.Info("session restore complete", zap.Int("sessions", len(records)))
	return nil
}

// CloseAll takes every live session offline without destroying state.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx, false)
	}
}
