package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/replay"
	"github.com/meridiandb/meridian/pkg/types"
)

// ItemKind says what a handover item points at.
type ItemKind uint8

const (
	// ItemRow hands over a single row reference.
	ItemRow ItemKind = iota

	// ItemList hands over a link-list reference (a row plus a list column).
	ItemList

	// ItemQuery hands over a query description, re-evaluated on import.
	ItemQuery
)

// Item is one reference inside a handover package. Row and list items are
// remapped to the importing session's version; query items travel as text
// and are re-evaluated against the imported state.
type Item struct {
	Kind   ItemKind
	Table  string
	Row    uint64
	Column string
	Query  string

	tableNdx uint64
}

// HandoverPackage carries references between sessions of the same file. The
// exporting session's version is pinned so the changesets needed to remap
// the references survive trimming until the package is imported.
type HandoverPackage struct {
	ID      uuid.UUID
	Version types.Version

	key   string
	items []Item

	mu       sync.Mutex
	imported bool
}

// Export packages the given references at the session's current version and
// pins that version. Each package must be imported exactly once; an
// unimported package keeps its pin forever.
func (s *Session) Export(items []Item) (*HandoverPackage, error) {
	switch s.state {
	case StateClosed:
		return nil, errors.New(errors.ErrCategoryTransact, errors.CodeSessionClosed, "session is closed")
	case StateWriting:
		return nil, errors.NewWrongTransactState("cannot export from an open write transaction")
	}

	resolved := make([]Item, len(items))
	for i, it := range items {
		if it.Kind != ItemQuery {
			ndx := s.group.TableByName(it.Table)
			if ndx < 0 {
				return nil, errors.Newf(errors.ErrCategoryTransact, errors.CodeWrongTransactState,
					"cannot export a reference into unknown table %q", it.Table)
			}
			it.tableNdx = uint64(ndx)
		}
		resolved[i] = it
	}

	if err := s.coord.hist.Pin(s.version); err != nil {
		return nil, err
	}
	if err := s.coord.retain(s.version); err != nil {
		s.coord.hist.Unpin(s.version)
		return nil, err
	}

	return &HandoverPackage{
		ID:      uuid.New(),
		Version: s.version,
		key:     s.coord.key,
		items:   resolved,
	}, nil
}

// Import resolves a handover package against this session. The slower side
// catches up: a session behind the package refreshes, and package references
// older than the session are remapped through the intervening changesets.
// Invalidated references (deleted rows) are dropped from the result. The
// package's pin is released exactly once.
func (s *Session) Import(ctx context.Context, pkg *HandoverPackage) ([]Item, error) {
	switch s.state {
	case StateClosed:
		return nil, errors.New(errors.ErrCategoryTransact, errors.CodeSessionClosed, "session is closed")
	case StateWriting:
		return nil, errors.NewWrongTransactState("cannot import into an open write transaction")
	}

	if pkg.key != s.coord.key {
		return nil, errors.New(errors.ErrCategoryHandover, errors.CodeIncompatibleVersion,
			"handover package belongs to a different file")
	}

	pkg.mu.Lock()
	if pkg.imported {
		pkg.mu.Unlock()
		return nil, errors.New(errors.ErrCategoryHandover, errors.CodeAlreadyImported,
			"handover package was already imported")
	}
	pkg.imported = true
	pkg.mu.Unlock()

	defer func() {
		s.coord.hist.Unpin(pkg.Version)
		s.coord.release(pkg.Version)
	}()

	// A session behind the package catches up first; the package version is
	// committed, so the latest version is at least as new.
	if s.version < pkg.Version {
		if _, err := s.advance(ctx); err != nil {
			return nil, err
		}
	}

	out := make([]Item, len(pkg.items))
	copy(out, pkg.items)

	if pkg.Version == s.version {
		return out, nil
	}

	// The package is older than the session: walk its references forward
	// through every changeset in between.
	tr := replay.NewChangeTracker()
	handles := make([]*replay.ObservedRow, len(out))
	for i := range out {
		if out[i].Kind != ItemQuery {
			handles[i] = tr.Observe(out[i].tableNdx, out[i].Row)
		}
	}
	src, err := s.coord.hist.ChangesetsBetween(ctx, pkg.Version, s.version)
	if err != nil {
		return nil, err
	}
	if err := replay.Replay(src, tr); err != nil {
		return nil, err
	}

	kept := out[:0]
	for i := range out {
		h := handles[i]
		if h == nil {
			kept = append(kept, out[i])
			continue
		}
		if h.Invalidated {
			continue
		}
		it := out[i]
		it.tableNdx = h.Table
		it.Row = h.Row
		if t, err := s.group.Table(int(h.Table)); err == nil {
			it.Table = t.Name
		}
		kept = append(kept, it)
	}
	return kept, nil
}
