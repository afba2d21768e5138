package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spaolacci/murmur3"

	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/logbuf"
	"github.com/meridiandb/meridian/pkg/types"
)

var schemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS commits (
		version        INTEGER PRIMARY KEY,
		changeset      BLOB    NOT NULL,
		checksum       INTEGER NOT NULL,
		schema_version INTEGER NOT NULL,
		committed_at   INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schema_stamps (
		version     INTEGER PRIMARY KEY,
		schema_json TEXT    NOT NULL,
		stamped_at  INTEGER NOT NULL
	)`,
}

// SQLiteHistory implements History on a SQLite file. Changesets are stored
// snappy-compressed with a murmur3 checksum of the uncompressed bytes;
// a checksum mismatch on read surfaces as corruption.
type SQLiteHistory struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string

	mu         sync.Mutex // Guards writes and the pin table
	pins       map[types.Version]int
	appendStmt *sql.Stmt
}

var _ History = (*SQLiteHistory)(nil)

// Open opens (creating if absent) the commit log at dbPath.
func Open(dbPath string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewFileError(errors.CodeFileAccess, "opening history database", dbPath, err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, errors.NewFileError(errors.CodeFileAccess, "opening history read pool", dbPath, err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	h := &SQLiteHistory{
		db:     db,
		readDB: readDB,
		dbPath: dbPath,
		pins:   make(map[types.Version]int),
	}

	for _, stmt := range schemaSQL {
		if _, err := db.Exec(stmt); err != nil {
			readDB.Close()
			db.Close()
			return nil, errors.NewFileError(errors.CodeFileAccess, "initializing history schema", dbPath, err)
		}
	}

	appendStmt, err := db.Prepare(
		`INSERT INTO commits (version, changeset, checksum, schema_version, committed_at)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, errors.NewFileError(errors.CodeFileAccess, "preparing append statement", dbPath, err)
	}
	h.appendStmt = appendStmt

	return h, nil
}

func (h *SQLiteHistory) LatestVersion(ctx context.Context) (types.Version, error) {
	var latest uint64
	err := h.readDB.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), ?) FROM commits", uint64(BaseVersion)).Scan(&latest)
	if err != nil {
		return 0, errors.NewHistoryError(errors.CodeUnexpected, "reading latest version", err)
	}
	return types.Version(latest), nil
}

func (h *SQLiteHistory) Append(ctx context.Context, changeset []byte, schemaVersion uint64) (types.Version, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	latest, err := h.LatestVersion(ctx)
	if err != nil {
		return 0, err
	}
	next := latest + 1

	sum := murmur3.Sum64(changeset)
	compressed := snappy.Encode(nil, changeset)
	_, err = h.appendStmt.ExecContext(ctx,
		uint64(next), compressed, int64(sum), schemaVersion, time.Now().Unix())
	if err != nil {
		return 0, errors.NewHistoryError(errors.CodeWriteConflict,
			fmt.Sprintf("appending changeset for version %d", next), err)
	}
	return next, nil
}

func (h *SQLiteHistory) AppendWithStamp(ctx context.Context, changeset []byte, schemaVersion uint64, schema types.Schema) (types.Version, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	latest, err := h.LatestVersion(ctx)
	if err != nil {
		return 0, err
	}
	next := latest + 1

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return 0, errors.NewHistoryError(errors.CodeUnexpected, "encoding schema stamp", err)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewHistoryError(errors.CodeUnexpected, "beginning schema commit transaction", err)
	}
	defer tx.Rollback()

	sum := murmur3.Sum64(changeset)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO commits (version, changeset, checksum, schema_version, committed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uint64(next), snappy.Encode(nil, changeset), int64(sum), schemaVersion, time.Now().Unix()); err != nil {
		return 0, errors.NewHistoryError(errors.CodeWriteConflict,
			fmt.Sprintf("appending schema changeset for version %d", next), err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_stamps (version, schema_json, stamped_at) VALUES (?, ?, ?)`,
		schemaVersion, string(schemaJSON), time.Now().Unix()); err != nil {
		return 0, errors.NewHistoryError(errors.CodeUnexpected, "writing schema stamp", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.NewHistoryError(errors.CodeUnexpected, "committing schema change", err)
	}
	return next, nil
}

// loadRange reads the decompressed changesets for versions in (from, to].
func (h *SQLiteHistory) loadRange(ctx context.Context, from, to types.Version) ([][]byte, error) {
	rows, err := h.readDB.QueryContext(ctx,
		`SELECT version, changeset, checksum FROM commits
		 WHERE version > ? AND version <= ? ORDER BY version ASC`,
		uint64(from), uint64(to))
	if err != nil {
		return nil, errors.NewHistoryError(errors.CodeUnexpected, "querying changesets", err)
	}
	defer rows.Close()

	var blocks [][]byte
	for rows.Next() {
		var version uint64
		var compressed []byte
		var checksum int64
		if err := rows.Scan(&version, &compressed, &checksum); err != nil {
			return nil, errors.NewHistoryError(errors.CodeUnexpected, "scanning changeset row", err)
		}
		changeset, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, errors.NewHistoryError(errors.CodeCorruptionDetected,
				fmt.Sprintf("changeset for version %d does not decompress", version), err)
		}
		if murmur3.Sum64(changeset) != uint64(checksum) {
			return nil, errors.Newf(errors.ErrCategoryHistory, errors.CodeCorruptionDetected,
				"checksum mismatch on changeset for version %d", version)
		}
		blocks = append(blocks, changeset)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewHistoryError(errors.CodeUnexpected, "iterating changesets", err)
	}
	return blocks, nil
}

func (h *SQLiteHistory) ChangesetsBetween(ctx context.Context, from, to types.Version) (logbuf.BlockSource, error) {
	if from > to {
		return nil, errors.Newf(errors.ErrCategoryHistory, errors.CodeVersionNotFound,
			"changeset range inverted: %d > %d", from, to)
	}
	blocks, err := h.loadRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if uint64(len(blocks)) != uint64(to-from) {
		return nil, errors.Newf(errors.ErrCategoryHistory, errors.CodeVersionNotFound,
			"history retains %d of the %d changesets between versions %d and %d",
			len(blocks), uint64(to-from), from, to)
	}
	return logbuf.NewMultiSource(blocks), nil
}

func (h *SQLiteHistory) Bootstrap(ctx context.Context) (logbuf.BlockSource, types.Version, error) {
	latest, err := h.LatestVersion(ctx)
	if err != nil {
		return nil, 0, err
	}
	blocks, err := h.loadRange(ctx, 0, latest)
	if err != nil {
		return nil, 0, err
	}
	return logbuf.NewMultiSource(blocks), latest, nil
}

func (h *SQLiteHistory) HasChanged(ctx context.Context, since types.Version) (bool, error) {
	latest, err := h.LatestVersion(ctx)
	if err != nil {
		return false, err
	}
	return latest > since, nil
}

func (h *SQLiteHistory) Pin(v types.Version) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pins[v]++
	return nil
}

func (h *SQLiteHistory) Unpin(v types.Version) error {
	h.mu.Lock()
	defer h.mu.Unlock()
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

// lowestPinLocked returns the lowest pinned version, or latest when nothing
// is pinned. Callers hold h.mu.
func (h *SQLiteHistory) lowestPinLocked(latest types.Version) types.Version {
	low := latest
	for v := range h.pins {
		if v < low {
			low = v
		}
	}
	return low
}

func (h *SQLiteHistory) Trim(ctx context.Context, upTo types.Version, snapshotAt SnapshotFunc) (types.Version, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	latest, err := h.LatestVersion(ctx)
	if err != nil {
		return 0, err
	}
	floor := upTo
	if low := h.lowestPinLocked(latest); low < floor {
		floor = low
	}
	if floor > latest {
		floor = latest
	}
	if floor <= BaseVersion {
		return BaseVersion, nil
	}

	// The snapshot must describe the state as of the floor, which pins may
	// have pulled below what the caller asked for.
	blocks, err := h.loadRange(ctx, 0, floor)
	if err != nil {
		return 0, err
	}
	snapshot, err := snapshotAt(floor, logbuf.NewMultiSource(blocks))
	if err != nil {
		return 0, err
	}

	schemaVersion, _, err := h.SchemaVersion(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewHistoryError(errors.CodeUnexpected, "beginning trim transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM commits WHERE version <= ?", uint64(floor)); err != nil {
		return 0, errors.NewHistoryError(errors.CodeUnexpected, "deleting trimmed changesets", err)
	}
	sum := murmur3.Sum64(snapshot)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO commits (version, changeset, checksum, schema_version, committed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uint64(floor), snappy.Encode(nil, snapshot), int64(sum), schemaVersion, time.Now().Unix()); err != nil {
		return 0, errors.NewHistoryError(errors.CodeUnexpected, "installing trim snapshot", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.NewHistoryError(errors.CodeUnexpected, "committing trim", err)
	}
	return floor, nil
}

func (h *SQLiteHistory) SchemaVersion(ctx context.Context) (uint64, bool, error) {
	var version uint64
	err := h.readDB.QueryRowContext(ctx,
		"SELECT version FROM schema_stamps ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.NewHistoryError(errors.CodeUnexpected, "reading schema stamp", err)
	}
	return version, true, nil
}

func (h *SQLiteHistory) StampedSchema(ctx context.Context) (types.Schema, uint64, bool, error) {
	var version uint64
	var schemaJSON string
	err := h.readDB.QueryRowContext(ctx,
		"SELECT version, schema_json FROM schema_stamps ORDER BY version DESC LIMIT 1").
		Scan(&version, &schemaJSON)
	if err == sql.ErrNoRows {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, errors.NewHistoryError(errors.CodeUnexpected, "reading stamped schema", err)
	}
	var schema types.Schema
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
		return nil, 0, false, errors.NewHistoryError(errors.CodeCorruptionDetected,
			"stamped schema does not parse", err)
	}
	return schema, version, true, nil
}

func (h *SQLiteHistory) StampSchema(ctx context.Context, version uint64, schema types.Schema) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return errors.NewHistoryError(errors.CodeUnexpected, "encoding schema stamp", err)
	}
	_, err = h.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_stamps (version, schema_json, stamped_at) VALUES (?, ?, ?)`,
		version, string(schemaJSON), time.Now().Unix())
	if err != nil {
		return errors.NewHistoryError(errors.CodeUnexpected, "writing schema stamp", err)
	}
	return nil
}

func (h *SQLiteHistory) Reset(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewHistoryError(errors.CodeUnexpected, "beginning reset transaction", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM commits"); err != nil {
		return errors.NewHistoryError(errors.CodeUnexpected, "deleting commits", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_stamps"); err != nil {
		return errors.NewHistoryError(errors.CodeUnexpected, "deleting schema stamps", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewHistoryError(errors.CodeUnexpected, "committing reset", err)
	}
	h.pins = make(map[types.Version]int)
	return nil
}

func (h *SQLiteHistory) Close() error {
	if h.appendStmt != nil {
		h.appendStmt.Close()
	}
	if err := h.readDB.Close(); err != nil {
		h.db.Close()
		return err
	}
	return h.db.Close()
}
