package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/history"
	"github.com/meridiandb/meridian/internal/replay"
	"github.com/meridiandb/meridian/internal/schema"
	"github.com/meridiandb/meridian/internal/store"
	"github.com/meridiandb/meridian/pkg/types"
)

// State is the lifecycle state of a session.
type State uint8

const (
	StateClosed State = iota
	StateReading
	StateWriting
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	default:
		return "unknown"
	}
}

// Config selects the file a session opens and how its schema is handled.
type Config struct {
	// Path is the database file. For on-disk files it is the history
	// location; for in-memory databases it is a sharing key.
	Path string `json:"path" yaml:"path"`

	// InMemory opens an ephemeral database. An empty Path gives a private
	// one; a non-empty Path is shared by name within the process.
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// ReadOnly rejects write transactions and schema changes.
	ReadOnly bool `json:"read_only" yaml:"read_only"`

	// Mode governs how a declared schema is reconciled with the file.
	Mode types.SchemaMode `json:"-" yaml:"-"`

	// Schema, when non-nil, is reconciled at open under Mode.
	Schema types.Schema `json:"-" yaml:"-"`

	// SchemaVersion is the version number of Schema.
	SchemaVersion uint64 `json:"schema_version" yaml:"schema_version"`

	// Migration runs inside the schema transaction when a migration is
	// required (automatic mode) or demanded (manual mode).
	Migration schema.Migration `json:"-" yaml:"-"`
}

// Session is one client's view of a database file. It stays bound to an
// immutable snapshot until it refreshes, begins a write, or commits.
//
// A session is confined to one goroutine; share data between goroutines
// through handover packages instead.
type Session struct {
	id       uuid.UUID
	coord    *Coordinator
	mode     types.SchemaMode
	readOnly bool

	state   State
	version types.Version
	group   *store.Group
	writer  *store.Writer

	tracker *replay.ChangeTracker
}

// Open binds a new session to the latest committed version of the configured
// file. If cfg.Schema is set it is reconciled under cfg.Mode before Open
// returns.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	c, err := acquireCoordinator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:       uuid.New(),
		coord:    c,
		mode:     cfg.Mode,
		readOnly: cfg.ReadOnly || cfg.Mode == types.SchemaModeReadOnly,
		state:    StateReading,
		tracker:  replay.NewChangeTracker(),
	}
	s.version, s.group = c.bindLatest()
	c.attach(s)

	if cfg.Schema != nil {
		if err := s.UpdateSchema(ctx, cfg.Schema, cfg.SchemaVersion, cfg.Migration); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the session's lifecycle state.
func (s *Session) State() State { return s.state }

// Version returns the version the session is bound to.
func (s *Session) Version() types.Version { return s.version }

// Group returns the session's current view: the private write group inside a
// transaction, the bound immutable snapshot otherwise. The snapshot must not
// be mutated.
func (s *Session) Group() *store.Group {
	if s.state == StateWriting {
		return s.writer.Group()
	}
	return s.group
}

// Schema reads the live schema off the session's current view.
func (s *Session) Schema() types.Schema {
	return store.ReadSchema(s.Group())
}

// Writer returns the mutation surface of the open write transaction.
func (s *Session) Writer() (*store.Writer, error) {
	if s.state != StateWriting {
		return nil, errors.NewWrongTransactState("no write transaction is open")
	}
	return s.writer, nil
}

// Observe registers a row for change tracking. The returned handle follows
// the row across refreshes: its index is remapped as other transactions
// insert, erase and move rows, and it is flagged invalidated if the row is
// deleted.
func (s *Session) Observe(table string, row uint64) (*replay.ObservedRow, error) {
	ndx := s.Group().TableByName(table)
	if ndx < 0 {
		return nil, errors.Newf(errors.ErrCategoryTransact, errors.CodeWrongTransactState,
			"cannot observe rows of unknown table %q", table)
	}
	return s.tracker.Observe(uint64(ndx), row), nil
}

// Begin opens a write transaction. It blocks until the file's write lock is
// available, then advances the session to the latest version and hands out a
// private clone to mutate.
func (s *Session) Begin(ctx context.Context) error {
	switch s.state {
	case StateClosed:
		return errors.New(errors.ErrCategoryTransact, errors.CodeSessionClosed, "session is closed")
	case StateWriting:
		return errors.NewWrongTransactState("a write transaction is already open")
	}
	if s.readOnly {
		return errors.New(errors.ErrCategoryTransact, errors.CodeReadOnlySession,
			"cannot write through a read-only session")
	}

	if err := s.coord.beginWrite(ctx); err != nil {
		return err
	}
	if _, err := s.advance(ctx); err != nil {
		s.coord.endWrite()
		return err
	}
	s.writer = store.NewWriter(s.group.Clone())
	s.state = StateWriting
	return nil
}

// Commit validates the recorded log, appends it to the history and publishes
// the write group as the new latest snapshot. On failure the transaction
// stays open so the caller can cancel it.
func (s *Session) Commit(ctx context.Context) error {
	if s.state != StateWriting {
		return errors.NewWrongTransactState("commit outside a write transaction")
	}

	// Ordinary transactions must not change the schema; structural edits
	// go through UpdateSchema.
	log := append([]byte(nil), s.writer.Log()...)
	v := replay.NewSchemaValidator()
	if err := replay.ReplayOne(log, v); err != nil {
		return err
	}
	if err := v.Err(); err != nil {
		return err
	}

	schemaVer, _ := s.coord.schemaInfo()
	version, err := s.coord.hist.Append(ctx, log, schemaVer)
	if err != nil {
		return err
	}
	s.finishCommit(version, log)
	return nil
}

// finishCommit publishes the write group and rebinds the session to it. The
// commit is already durable at this point.
func (s *Session) finishCommit(version types.Version, log []byte) {
	g := s.writer.Group()
	s.coord.publish(version, g)
	s.coord.release(s.version)

	s.version = version
	s.group = g
	s.writer = nil
	s.state = StateReading

	// Our own mutations move observed rows too.
	_ = replay.ReplayOne(log, s.tracker)

	s.coord.endWrite()
	s.coord.stats.RecordCommit(s.coord.path, len(log))
}

// Cancel rolls back the open write transaction. The recorded log is parsed
// into a rollback script which is replayed against the write group, then the
// session drops back to its pre-transaction snapshot.
func (s *Session) Cancel() error {
	if s.state != StateWriting {
		return errors.NewWrongTransactState("cancel outside a write transaction")
	}

	var rollbackErr error
	log := s.writer.Log()
	if len(log) > 0 {
		rollbackErr = s.rollback(log)
	}

	s.writer = nil
	s.state = StateReading
	s.coord.endWrite()
	s.coord.stats.RecordRollback(s.coord.path)
	return rollbackErr
}

func (s *Session) rollback(log []byte) error {
	rev := replay.NewReverser(s.group)
	if err := replay.ReplayOne(log, rev); err != nil {
		return errors.NewInternalError("cannot parse the transaction log for rollback", err)
	}
	rlog, err := rev.ReversedLog()
	if err != nil {
		return errors.NewInternalError("cannot encode the rollback script", err)
	}
	if err := replay.NewApplier(s.writer.Group()).Apply(rlog); err != nil {
		return errors.NewInternalError("rollback replay diverged", err)
	}
	return nil
}

// Refresh advances the session to the latest committed version. It reports
// whether the session moved.
func (s *Session) Refresh(ctx context.Context) (bool, error) {
	switch s.state {
	case StateClosed:
		return false, errors.New(errors.ErrCategoryTransact, errors.CodeSessionClosed, "session is closed")
	case StateWriting:
		return false, errors.NewWrongTransactState("refresh inside a write transaction")
	}
	moved, err := s.advance(ctx)
	if err == nil && moved {
		s.coord.stats.RecordRefresh(s.coord.path)
	}
	return moved, err
}

// advance rebinds the session to the latest snapshot, feeding the skipped
// changesets through the change tracker so observed rows stay aligned.
func (s *Session) advance(ctx context.Context) (bool, error) {
	latest, g := s.coord.bindLatest()
	if latest == s.version {
		s.coord.release(latest)
		return false, nil
	}

	if len(s.tracker.Rows()) > 0 {
		src, err := s.coord.hist.ChangesetsBetween(ctx, s.version, latest)
		if err == nil {
			err = replay.Replay(src, s.tracker)
		}
		if err != nil {
			s.coord.release(latest)
			return false, err
		}
	}

	s.coord.release(s.version)
	s.version = latest
	s.group = g
	return true, nil
}

// HasChanged reports whether a version newer than the session's exists.
func (s *Session) HasChanged() bool {
	return s.coord.hasChanged(s.version)
}

// WaitForChange blocks until another session commits or the context is
// cancelled.
func (s *Session) WaitForChange(ctx context.Context) error {
	if s.state == StateClosed {
		return errors.New(errors.ErrCategoryTransact, errors.CodeSessionClosed, "session is closed")
	}
	return s.coord.waitForChange(ctx, s.version)
}

// ResetDirty clears the accumulated change flags on observed rows.
func (s *Session) ResetDirty() {
	s.tracker.ResetDirty()
}

// Trim reclaims history up to the session's current version, bounded by
// pinned versions.
func (s *Session) Trim(ctx context.Context) (types.Version, error) {
	return s.TrimTo(ctx, s.version)
}

// TrimTo reclaims history up to the given version, bounded by the session's
// own version and by pinned versions.
func (s *Session) TrimTo(ctx context.Context, upTo types.Version) (types.Version, error) {
	if s.state == StateClosed {
		return 0, errors.New(errors.ErrCategoryTransact, errors.CodeSessionClosed, "session is closed")
	}
	if upTo > s.version {
		upTo = s.version
	}
	return s.coord.Trim(ctx, upTo)
}

// Close cancels any open transaction and detaches from the file. The last
// session to close releases the file.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	if s.state == StateWriting {
		_ = s.Cancel()
	}
	s.coord.release(s.version)
	s.state = StateClosed
	return s.coord.detach(s)
}

// UpdateSchema reconciles the file with the target schema under the
// session's mode, committing the structural changes and the schema stamp as
// one transaction. Read-only sessions verify instead of writing.
func (s *Session) UpdateSchema(ctx context.Context, target types.Schema, version uint64, migrate schema.Migration) error {
	switch s.state {
	case StateClosed:
		return errors.New(errors.ErrCategoryTransact, errors.CodeSessionClosed, "session is closed")
	case StateWriting:
		return errors.NewWrongTransactState("schema update inside a write transaction")
	}

	if s.readOnly {
		return s.verifySchema(target, version)
	}

	if err := s.coord.beginWrite(ctx); err != nil {
		return err
	}
	if _, err := s.advance(ctx); err != nil {
		s.coord.endWrite()
		return err
	}

	currentVer, initialized := s.coord.schemaInfo()

	if s.mode == types.SchemaModeResetFile && initialized && s.resetRequired(target, version, currentVer) {
		if !s.coord.soleSession() {
			s.coord.endWrite()
			return errors.NewWrongTransactState("schema reset requires exclusive access to the file")
		}
		g, err := s.coord.resetState(ctx)
		if err != nil {
			s.coord.endWrite()
			return err
		}
		s.coord.release(s.version)
		s.version = history.BaseVersion
		s.group = g
		currentVer, initialized = 0, false
	}

	// A reset-file session that needed no reset reconciles like an
	// automatic one.
	mode := s.mode
	if mode == types.SchemaModeResetFile {
		mode = types.SchemaModeAutomatic
	}

	pre := s.group
	w := store.NewWriter(pre.Clone())
	applier := schema.Applier{Mode: mode}
	if err := applier.Apply(w, pre, target, version, currentVer, initialized, migrate); err != nil {
		s.coord.endWrite()
		return err
	}

	log := append([]byte(nil), w.Log()...)
	if initialized && version == currentVer && len(log) == 0 {
		s.coord.endWrite()
		return nil
	}

	// The changeset and the stamp must land together. A durable commit
	// without its stamp would replay against the pre-migration layout on
	// the next bootstrap.
	live := store.ReadSchema(w.Group())
	newVersion, err := s.coord.hist.AppendWithStamp(ctx, log, version, live)
	if err != nil {
		s.coord.endWrite()
		return err
	}
	s.coord.setSchemaVersion(version)

	s.writer = w
	s.finishCommit(newVersion, log)
	return nil
}

// verifySchema checks the target against the live state without writing.
func (s *Session) verifySchema(target types.Schema, version uint64) error {
	currentVer, initialized := s.coord.schemaInfo()
	if !initialized {
		return errors.NewSchemaMismatch("a read-only session cannot initialize the schema of an empty file")
	}
	w := store.NewWriter(s.group.Clone())
	applier := schema.Applier{Mode: types.SchemaModeReadOnly}
	return applier.Apply(w, s.group, target, version, currentVer, initialized, nil)
}

// resetRequired reports whether the target schema cannot be reached from the
// live state without a migration.
func (s *Session) resetRequired(target types.Schema, version, currentVer uint64) bool {
	if version < currentVer {
		return true
	}
	return schema.NeedsMigration(schema.Compare(store.ReadSchema(s.group), target))
}
