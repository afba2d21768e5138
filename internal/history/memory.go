package history

import (
	"context"
	"fmt"

	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/logbuf"
	"github.com/meridiandb/meridian/pkg/types"
)

// MemoryHistory is an in-process History for ephemeral databases and tests.
// It keeps the same version arithmetic as the SQLite history, including the
// trim-to-snapshot behavior.
type MemoryHistory struct {
	oldest    types.Version // version of commits[0]
	commits   [][]byte
	pins      map[types.Version]int
	schema    types.Schema
	schemaVer uint64
	stamped   bool
}

var _ History = (*MemoryHistory)(nil)

// NewMemoryHistory returns an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		oldest: BaseVersion + 1,
		pins:   make(map[types.Version]int),
	}
}

func (h *MemoryHistory) latest() types.Version {
	return h.oldest + types.Version(len(h.commits)) - 1
}

func (h *MemoryHistory) LatestVersion(ctx context.Context) (types.Version, error) {
	if len(h.commits) == 0 {
		return BaseVersion, nil
	}
	return h.latest(), nil
}

func (h *MemoryHistory) Append(ctx context.Context, changeset []byte, schemaVersion uint64) (types.Version, error) {
	h.commits = append(h.commits, append([]byte(nil), changeset...))
	return h.latest(), nil
}

func (h *MemoryHistory) AppendWithStamp(ctx context.Context, changeset []byte, schemaVersion uint64, schema types.Schema) (types.Version, error) {
	h.commits = append(h.commits, append([]byte(nil), changeset...))
	h.schema = schema.Copy()
	h.schemaVer = schemaVersion
	h.stamped = true
	return h.latest(), nil
}

func (h *MemoryHistory) ChangesetsBetween(ctx context.Context, from, to types.Version) (logbuf.BlockSource, error) {
	if from > to {
		return nil, errors.Newf(errors.ErrCategoryHistory, errors.CodeVersionNotFound,
			"changeset range inverted: %d > %d", from, to)
	}
	if from+1 < h.oldest {
		return nil, errors.Newf(errors.ErrCategoryHistory, errors.CodeVersionNotFound,
			"changesets below version %d were trimmed", h.oldest)
	}
	latest, _ := h.LatestVersion(ctx)
	if to > latest {
		return nil, errors.Newf(errors.ErrCategoryHistory, errors.CodeVersionNotFound,
			"version %d is newer than the latest commit %d", to, latest)
	}
	start := int(from + 1 - h.oldest)
	end := int(to + 1 - h.oldest)
	return logbuf.NewMultiSource(h.commits[start:end]), nil
}

func (h *MemoryHistory) Bootstrap(ctx context.Context) (logbuf.BlockSource, types.Version, error) {
	latest, _ := h.LatestVersion(ctx)
	return logbuf.NewMultiSource(h.commits), latest, nil
}

func (h *MemoryHistory) HasChanged(ctx context.Context, since types.Version) (bool, error) {
	latest, _ := h.LatestVersion(ctx)
	return latest > since, nil
}

func (h *MemoryHistory) Pin(v types.Version) error {
	h.pins[v]++
	return nil
}

func (h *MemoryHistory) Unpin(v types.Version) error {
	n, ok := h.pins[v]
	if !ok {
		return errors.NewInternalError(fmt.Sprintf("unpin of version %d which is not pinned", v), nil)
	}
	if n == 1 {
		delete(h.pins, v)
	} else {
		h.pins[v] = n - 1
	}
	return nil
}

func (h *MemoryHistory) Trim(ctx context.Context, upTo types.Version, snapshotAt SnapshotFunc) (types.Version, error) {
	latest, _ := h.LatestVersion(ctx)
	floor := upTo
	for v := range h.pins {
		if v < floor {
			floor = v
		}
	}
	if floor > latest {
		floor = latest
	}
	if floor <= BaseVersion || floor < h.oldest {
		return h.oldest - 1, nil
	}

	retained := h.commits[:int(floor+1-h.oldest)]
	snapshot, err := snapshotAt(floor, logbuf.NewMultiSource(retained))
	if err != nil {
		return 0, err
	}

	kept := h.commits[int(floor+1-h.oldest):]
	h.commits = append([][]byte{append([]byte(nil), snapshot...)}, kept...)
	h.oldest = floor
	return floor, nil
}

func (h *MemoryHistory) SchemaVersion(ctx context.Context) (uint64, bool, error) {
	return h.schemaVer, h.stamped, nil
}

func (h *MemoryHistory) StampedSchema(ctx context.Context) (types.Schema, uint64, bool, error) {
	if !h.stamped {
		return nil, 0, false, nil
	}
	return h.schema.Copy(), h.schemaVer, true, nil
}

func (h *MemoryHistory) StampSchema(ctx context.Context, version uint64, schema types.Schema) error {
	h.schema = schema.Copy()
	h.schemaVer = version
	h.stamped = true
	return nil
}

func (h *MemoryHistory) Reset(ctx context.Context) error {
	h.oldest = BaseVersion + 1
	h.commits = nil
	h.pins = make(map[types.Version]int)
	h.schema = nil
	h.schemaVer = 0
	h.stamped = false
	return nil
}

func (h *MemoryHistory) Close() error {
	return nil
}
