package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// SessionStats tracks per-file transaction activity: commits, rollbacks,
// refreshes and the volume of committed changeset bytes. Counts are mirrored
// into process-wide metrics so they show up on the standard scrape endpoint.
type SessionStats struct {
	mu    sync.RWMutex
	files map[string]*FileStats
}

// FileStats holds the transaction counters of one database file.
type FileStats struct {
	Path           string
	Commits        int64
	Rollbacks      int64
	Refreshes      int64
	BytesCommitted int64
	LastCommit     time.Time
}

// Default is the process-wide stats instance used when no explicit one is
// configured.
var Default = NewSessionStats()

// NewSessionStats creates an empty stats tracker.
func NewSessionStats() *SessionStats {
	return &SessionStats{files: make(map[string]*FileStats)}
}

func (s *SessionStats) file(path string) *FileStats {
	fs, ok := s.files[path]
	if !ok {
		fs = &FileStats{Path: path}
		s.files[path] = fs
	}
	return fs
}

// RecordCommit records a durable commit of logBytes changeset bytes.
func (s *SessionStats) RecordCommit(path string, logBytes int) {
	s.mu.Lock()
	fs := s.file(path)
	fs.Commits++
	fs.BytesCommitted += int64(logBytes)
	fs.LastCommit = time.Now()
	s.mu.Unlock()

	metrics.GetOrCreateCounter(fmt.Sprintf(`meridian_commits_total{path=%q}`, path)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`meridian_changeset_bytes{path=%q}`, path)).Update(float64(logBytes))
}

// RecordRollback records a cancelled write transaction.
func (s *SessionStats) RecordRollback(path string) {
	s.mu.Lock()
	s.file(path).Rollbacks++
	s.mu.Unlock()

	metrics.GetOrCreateCounter(fmt.Sprintf(`meridian_rollbacks_total{path=%q}`, path)).Inc()
}

// RecordRefresh records a session advancing to a newer version.
func (s *SessionStats) RecordRefresh(path string) {
	s.mu.Lock()
	s.file(path).Refreshes++
	s.mu.Unlock()

	metrics.GetOrCreateCounter(fmt.Sprintf(`meridian_refreshes_total{path=%q}`, path)).Inc()
}

// Snapshot returns a copy of the per-file counters sorted by path.
func (s *SessionStats) Snapshot() []FileStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FileStats, 0, len(s.files))
	for _, fs := range s.files {
		out = append(out, *fs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
