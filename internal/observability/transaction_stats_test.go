package observability

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStats_RecordCommit(t *testing.T) {
	s := NewSessionStats()
	s.RecordCommit("/tmp/a.db", 128)
	s.RecordCommit("/tmp/a.db", 64)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "/tmp/a.db", snap[0].Path)
	assert.Equal(t, int64(2), snap[0].Commits)
	assert.Equal(t, int64(192), snap[0].BytesCommitted)
	assert.WithinDuration(t, time.Now(), snap[0].LastCommit, time.Minute)
}

func TestSessionStats_SnapshotSortedByPath(t *testing.T) {
	s := NewSessionStats()
	s.RecordRollback("zz.db")
	s.RecordCommit("aa.db", 1)
	s.RecordRefresh("mm.db")

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "aa.db", snap[0].Path)
	assert.Equal(t, "mm.db", snap[1].Path)
	assert.Equal(t, "zz.db", snap[2].Path)
	assert.Equal(t, int64(1), snap[1].Refreshes)
	assert.Equal(t, int64(1), snap[2].Rollbacks)
}

func TestSessionStats_SnapshotIsACopy(t *testing.T) {
	s := NewSessionStats()
	s.RecordCommit("a.db", 10)

	snap := s.Snapshot()
	snap[0].Commits = 99

	assert.Equal(t, int64(1), s.Snapshot()[0].Commits)
}

func TestSessionStats_ConcurrentRecording(t *testing.T) {
	s := NewSessionStats()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.RecordCommit("shared.db", 1)
				s.RecordRollback("shared.db")
				s.RecordRefresh("shared.db")
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, int64(800), snap[0].Commits)
	assert.Equal(t, int64(800), snap[0].Rollbacks)
	assert.Equal(t, int64(800), snap[0].Refreshes)
	assert.Equal(t, int64(800), snap[0].BytesCommitted)
}
