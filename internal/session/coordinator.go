// Package session implements versioned access to a database file. Each open
// file has one coordinator owning the commit history and the in-memory
// snapshots sessions read from. Snapshots are immutable; a write transaction
// mutates a private clone, and committing publishes the clone as the next
// version. Writes are serialized per file, readers never block.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/history"
	"github.com/meridiandb/meridian/internal/logbuf"
	"github.com/meridiandb/meridian/internal/notify"
	"github.com/meridiandb/meridian/internal/observability"
	"github.com/meridiandb/meridian/internal/replay"
	"github.com/meridiandb/meridian/internal/store"
	"github.com/meridiandb/meridian/pkg/types"
)

var (
	regMu    sync.Mutex
	registry = make(map[string]*Coordinator)
)

// Coordinator is the single authority over one database file. It owns the
// history, the retained snapshots, and the write lock.
type Coordinator struct {
	key   string
	path  string
	hist  history.History
	stats *observability.SessionStats
	notes *notify.Notifier

	// writeSem serializes write transactions. It is held from Begin until
	// Commit or Cancel.
	writeSem chan struct{}

	// open holds the live sessions keyed by session id.
	open *xsync.MapOf[string, *Session]

	mu        sync.Mutex
	latest    types.Version
	snapshots map[types.Version]*snapshotRef
	changed   chan struct{}
	schemaVer uint64
	stamped   bool
	sessions  int
}

// snapshotRef counts the sessions and handover packages bound to one
// retained version. The latest version is always retained.
type snapshotRef struct {
	group *store.Group
	refs  int
}

// acquireCoordinator returns the coordinator for the configured file,
// starting one (including bootstrap replay) if the file is not yet open.
func acquireCoordinator(ctx context.Context, cfg Config) (*Coordinator, error) {
	key := cfg.Path
	if cfg.InMemory {
		if key == "" {
			// Anonymous in-memory databases are never shared.
			key = "mem:" + uuid.NewString()
		} else {
			key = "mem:" + key
		}
	} else {
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, errors.NewFileError(errors.CodeFileAccess, "cannot resolve database path", cfg.Path, err)
		}
		key = abs
	}

	regMu.Lock()
	defer regMu.Unlock()

	if c, ok := registry[key]; ok {
		c.mu.Lock()
		c.sessions++
		c.mu.Unlock()
		return c, nil
	}

	var hist history.History
	if cfg.InMemory {
		hist = history.NewMemoryHistory()
	} else {
		h, err := history.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		hist = h
	}

	c, err := newCoordinator(ctx, key, cfg.Path, hist)
	if err != nil {
		hist.Close()
		return nil, err
	}
	registry[key] = c
	return c, nil
}

// newCoordinator bootstraps the latest committed state by replaying every
// retained changeset into an empty group.
func newCoordinator(ctx context.Context, key, path string, hist history.History) (*Coordinator, error) {
	src, latest, err := hist.Bootstrap(ctx)
	if err != nil {
		return nil, err
	}
	g := store.NewGroup()
	if err := replay.Replay(src, replay.NewApplier(g)); err != nil {
		return nil, errors.NewHistoryError(errors.CodeCorruptionDetected,
			fmt.Sprintf("bootstrap replay failed for %q", path), err)
	}

	// Primary-key metadata is not part of the instruction stream; it is
	// restored from the schema stamp.
	sch, schemaVer, stamped, err := hist.StampedSchema(ctx)
	if err != nil {
		return nil, err
	}
	if stamped {
		bindPrimaryKeys(g, sch)
	}

	return &Coordinator{
		key:       key,
		path:      path,
		hist:      hist,
		stats:     observability.Default,
		notes:     notify.Default,
		writeSem:  make(chan struct{}, 1),
		open:      xsync.NewMapOf[string, *Session](),
		latest:    latest,
		snapshots: map[types.Version]*snapshotRef{latest: {group: g}},
		changed:   make(chan struct{}),
		schemaVer: schemaVer,
		stamped:   stamped,
		sessions:  1,
	}, nil
}

func bindPrimaryKeys(g *store.Group, sch types.Schema) {
	for i := range sch {
		if sch[i].PrimaryKey == "" {
			continue
		}
		if ndx := g.TableByName(sch[i].Name); ndx >= 0 {
			_ = g.SetPrimaryKey(ndx, sch[i].PrimaryKey)
		}
	}
}

// beginWrite takes the file's write lock, honoring context cancellation.
func (c *Coordinator) beginWrite(ctx context.Context) error {
	select {
	case c.writeSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCategoryHistory, errors.CodeWriteConflict,
			"timed out waiting for the write lock", ctx.Err())
	}
}

func (c *Coordinator) endWrite() {
	<-c.writeSem
}

// bindLatest retains and returns the newest snapshot.
func (c *Coordinator) bindLatest() (types.Version, *store.Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref := c.snapshots[c.latest]
	ref.refs++
	return c.latest, ref.group
}

// retain adds a reference to an already retained version.
func (c *Coordinator) retain(v types.Version) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.snapshots[v]
	if !ok {
		return errors.Newf(errors.ErrCategoryHistory, errors.CodeVersionNotFound,
			"version %d is no longer retained in memory", v)
	}
	ref.refs++
	return nil
}

func (c *Coordinator) release(v types.Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(v)
}

func (c *Coordinator) releaseLocked(v types.Version) {
	ref, ok := c.snapshots[v]
	if !ok {
		return
	}
	ref.refs--
	if ref.refs <= 0 && v != c.latest {
		delete(c.snapshots, v)
	}
}

// publish installs the committed group as the newest snapshot, already
// retained once on behalf of the committing session, and wakes waiters.
func (c *Coordinator) publish(v types.Version, g *store.Group) {
	c.mu.Lock()
	prev := c.latest
	c.snapshots[v] = &snapshotRef{group: g, refs: 1}
	c.latest = v
	if ref, ok := c.snapshots[prev]; ok && ref.refs <= 0 {
		delete(c.snapshots, prev)
	}
	close(c.changed)
	c.changed = make(chan struct{})
	schemaVer := c.schemaVer
	c.mu.Unlock()

	c.notes.Publish(notify.Event{
		Type:          notify.CommitApplied,
		Path:          c.key,
		Version:       uint64(v),
		SchemaVersion: schemaVer,
	})
}

func (c *Coordinator) latestVersion() types.Version {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

func (c *Coordinator) hasChanged(since types.Version) bool {
	return c.latestVersion() > since
}

// waitForChange blocks until a commit newer than since exists or the context
// is cancelled.
func (c *Coordinator) waitForChange(ctx context.Context, since types.Version) error {
	for {
		c.mu.Lock()
		if c.latest > since {
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// schemaInfo returns the stamped schema version, reporting false if the file
// was never given a schema.
func (c *Coordinator) schemaInfo() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schemaVer, c.stamped
}

func (c *Coordinator) setSchemaVersion(v uint64) {
	c.mu.Lock()
	c.schemaVer = v
	c.stamped = true
	latest := c.latest
	c.mu.Unlock()

	c.notes.Publish(notify.Event{
		Type:          notify.SchemaChanged,
		Path:          c.key,
		Version:       uint64(latest),
		SchemaVersion: v,
	})
}

func (c *Coordinator) attach(s *Session) {
	c.open.Store(s.id.String(), s)
}

func (c *Coordinator) soleSession() bool {
	return c.open.Size() == 1
}

// resetState discards every commit and snapshot, returning the file to the
// empty initial state. The caller must hold the write lock and be the only
// open session.
func (c *Coordinator) resetState(ctx context.Context) (*store.Group, error) {
	if err := c.hist.Reset(ctx); err != nil {
		return nil, err
	}
	g := store.NewGroup()
	c.mu.Lock()
	c.latest = history.BaseVersion
	c.snapshots = map[types.Version]*snapshotRef{history.BaseVersion: {group: g, refs: 1}}
	c.schemaVer = 0
	c.stamped = false
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
	return g, nil
}

// Trim asks the history to reclaim changesets at or below upTo, installing a
// snapshot of the state as of the trim floor so bootstrap replay keeps
// working. Pinned versions and the latest commit bound the reclaim.
func (c *Coordinator) Trim(ctx context.Context, upTo types.Version) (types.Version, error) {
	floor, err := c.hist.Trim(ctx, upTo, c.snapshotAt)
	if err != nil {
		return 0, err
	}

	schemaVer, _ := c.schemaInfo()
	c.notes.Publish(notify.Event{
		Type:          notify.HistoryTrimmed,
		Path:          c.key,
		Version:       uint64(floor),
		SchemaVersion: schemaVer,
	})
	return floor, nil
}

// snapshotAt encodes the committed state as of floor. The history may settle
// on a floor below what the caller asked for (pins, stale callers), so the
// latest group cannot be used blindly; a version no longer retained in memory
// is rebuilt by replaying the surviving changesets.
func (c *Coordinator) snapshotAt(floor types.Version, src logbuf.BlockSource) ([]byte, error) {
	c.mu.Lock()
	if ref, ok := c.snapshots[floor]; ok {
		g := ref.group
		c.mu.Unlock()
		return store.SnapshotLog(g)
	}
	c.mu.Unlock()

	g := store.NewGroup()
	if err := replay.Replay(src, replay.NewApplier(g)); err != nil {
		return nil, errors.NewHistoryError(errors.CodeCorruptionDetected,
			fmt.Sprintf("snapshot replay failed for %q", c.path), err)
	}
	return store.SnapshotLog(g)
}

// detach drops one session. The last detach closes the history and removes
// the coordinator from the registry.
func (c *Coordinator) detach(s *Session) error {
	regMu.Lock()
	defer regMu.Unlock()

	c.open.Delete(s.id.String())

	c.mu.Lock()
	c.sessions--
	last := c.sessions == 0
	c.mu.Unlock()

	if !last {
		return nil
	}
	delete(registry, c.key)
	return c.hist.Close()
}
