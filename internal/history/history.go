// Package history persists committed transaction logs. Every commit appends
// one changeset under the next version number; sessions advance between
// versions by replaying the changesets in order. The history also carries
// the schema stamp (version number plus schema snapshot) shared by every
// session on the same file.
package history

import (
	"context"

	"github.com/meridiandb/meridian/internal/logbuf"
	"github.com/meridiandb/meridian/pkg/types"
)

// BaseVersion is the version of the empty initial state. It has no
// changeset; the first commit produces BaseVersion+1.
const BaseVersion types.Version = 1

// SnapshotFunc encodes the committed state as of floor into a replayable
// changeset. Trim calls it with the floor it settled on; src streams the
// retained changesets at or below that floor, oldest first, so the state can
// be rebuilt when the caller does not hold it in memory.
type SnapshotFunc func(floor types.Version, src logbuf.BlockSource) ([]byte, error)

// History is the durable commit log of one database file.
//
// Implementations serialize Append internally, but the engine's coordinator
// already guarantees a single writer; the internal locking only protects
// against misuse.
type History interface {
	// LatestVersion returns the newest committed version.
	LatestVersion(ctx context.Context) (types.Version, error)

	// Append durably stores a changeset and returns the version it created.
	Append(ctx context.Context, changeset []byte, schemaVersion uint64) (types.Version, error)

	// AppendWithStamp stores a changeset and records the schema stamp as one
	// atomic operation. Either both become durable or neither does; a commit
	// whose stamp is missing would replay against the wrong column layout.
	AppendWithStamp(ctx context.Context, changeset []byte, schemaVersion uint64, schema types.Schema) (types.Version, error)

	// ChangesetsBetween returns the changesets advancing a reader from
	// version from to version to, oldest first. It fails with a
	// version-not-found error if any changeset in the range was trimmed.
	ChangesetsBetween(ctx context.Context, from, to types.Version) (logbuf.BlockSource, error)

	// Bootstrap returns every retained changeset oldest first, plus the
	// latest version. Replaying them into an empty store reproduces the
	// latest committed state; the oldest retained changeset is always
	// either the first commit or a snapshot installed by Trim.
	Bootstrap(ctx context.Context) (logbuf.BlockSource, types.Version, error)

	// HasChanged reports whether a commit newer than since exists.
	HasChanged(ctx context.Context, since types.Version) (bool, error)

	// Pin prevents Trim from reclaiming the changesets needed to advance a
	// reader bound to v. Unpin releases one matching Pin.
	Pin(v types.Version) error
	Unpin(v types.Version) error

	// Trim discards changesets at or below upTo, bounded by the lowest
	// pinned version and the latest commit, replacing them with a snapshot
	// of the state as of the floor so Bootstrap keeps working. The snapshot
	// is obtained from snapshotAt after the floor is settled; installing the
	// state of any other version would corrupt the replay chain. Trim
	// returns the version actually trimmed to.
	Trim(ctx context.Context, upTo types.Version, snapshotAt SnapshotFunc) (types.Version, error)

	// SchemaVersion returns the stamped schema version, reporting false if
	// no schema was ever stamped.
	SchemaVersion(ctx context.Context) (uint64, bool, error)

	// StampedSchema returns the most recently stamped schema and its
	// version, reporting false if no schema was ever stamped.
	StampedSchema(ctx context.Context) (types.Schema, uint64, bool, error)

	// StampSchema records a schema and its version.
	StampSchema(ctx context.Context, version uint64, schema types.Schema) error

	// Reset discards every commit, stamp and pin, returning the history to
	// the empty initial state.
	Reset(ctx context.Context) error

	Close() error
}
