package journal

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(path, cache string, bytes int) Entry {
	return Entry{
		Time:     time.Now(),
		ConnID:   "conn-1",
		Method:   "GET",
		Path:     path,
		Status:   200,
		Cache:    cache,
		Bytes:    bytes,
		Duration: 1500 * time.Microsecond,
	}
}

func TestSummary(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	defer j.Close()

	j.Record(entry("/a", "MISS", 100))
	j.Record(entry("/a", "HIT", 100))
	j.Record(entry("/a", "HIT", 0))

	s, err := j.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Total)
	assert.Equal(t, int64(200), s.Bytes)
	assert.Equal(t, int64(2), s.ByCache["HIT"])
	assert.Equal(t, int64(1), s.ByCache["MISS"])
}

func TestInMemoryJournalsAreSeparate(t *testing.T) {
	a, err := Open("")
	require.NoError(t, err)
	defer a.Close()
	b, err := Open("")
	require.NoError(t, err)
	defer b.Close()

	a.Record(entry("/a", "MISS", 1))
	s, err := b.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Total)
}

func TestRecent(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	defer j.Close()

	j.Record(entry("/first", "MISS", 1))
	j.Record(entry("/second", "HIT", 1))

	entries, err := j.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/second", entries[0].Path)
	assert.Equal(t, 1500*time.Microsecond, entries[0].Duration)
}

func TestFileJournalSurvivesReopen(t *testing.T) {
	name := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(name)
	require.NoError(t, err)
	j.Record(entry("/a", "MISS", 10))
	require.NoError(t, j.Close())

	j, err = Open(name)
	require.NoError(t, err)
	defer j.Close()
	s, err := j.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Total)
}

func TestDropWhenFull(t *testing.T) {
	var drops atomic.Int64
	j, err := Open("", WithBuffer(1), WithDropHook(func() { drops.Add(1) }))
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 500; i++ {
		j.Record(entry("/a", "HIT", 1))
	}
	s, err := j.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(500), s.Total+int64(s.Dropped))
	assert.Equal(t, drops.Load(), int64(j.Dropped()))
}

func TestCloseIsIdempotent(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	j.Record(entry("/a", "HIT", 1))
	_, err = j.Summary(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
