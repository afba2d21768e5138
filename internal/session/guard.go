package session

import (
	"context"

	"github.com/meridiandb/meridian/internal/store"
)

// WriteGuard scopes a write transaction so an early return cannot leak the
// file's write lock. Typical use:
//
//	g, err := s.BeginGuarded(ctx)
//	if err != nil {
//		return err
//	}
//	defer g.Rollback()
//	...
//	return g.Commit(ctx)
type WriteGuard struct {
	s    *Session
	done bool
}

// BeginGuarded opens a write transaction wrapped in a guard.
func (s *Session) BeginGuarded(ctx context.Context) (*WriteGuard, error) {
	if err := s.Begin(ctx); err != nil {
		return nil, err
	}
	return &WriteGuard{s: s}, nil
}

// Writer returns the transaction's mutation surface.
func (g *WriteGuard) Writer() *store.Writer {
	return g.s.writer
}

// Commit commits the guarded transaction. If the commit fails the
// transaction stays open and a deferred Rollback still cancels it.
func (g *WriteGuard) Commit(ctx context.Context) error {
	err := g.s.Commit(ctx)
	if err == nil {
		g.done = true
	}
	return err
}

// Rollback cancels the transaction unless it was committed. It is a no-op
// after a successful Commit, so it is safe to defer unconditionally.
func (g *WriteGuard) Rollback() error {
	if g.done {
		return nil
	}
	g.done = true
	return g.s.Cancel()
}
