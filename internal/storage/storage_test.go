package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/keshon/chatmind/internal/mind"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	cfg := DefaultConfig(path)
	cfg.AutoSaveInterval = time.Hour
	s, err := Open(cfg)
	require.NoError(t, err)
	return s, path
}

func TestOpenCreatesFile(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"channels":{}}`, string(data))
}

func TestRoundTripAcrossRestart(t *testing.T) {
	s, path := openTemp(t)
	until := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.SaveChannel("c1", mind.ChannelSnapshot{HistoryMarker: "42"}))
	require.NoError(t, s.SaveChannel("c2", mind.ChannelSnapshot{PanicUntil: until}))
	require.NoError(t, s.Close())

	cfg := DefaultConfig(path)
	cfg.AutoSaveInterval = time.Hour
	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	snap, ok := reopened.LoadChannel("c1")
	require.True(t, ok)
	assert.Equal(t, "42", snap.HistoryMarker)
	snap, ok = reopened.LoadChannel("c2")
	require.True(t, ok)
	assert.True(t, until.Equal(snap.PanicUntil))
	_, ok = reopened.LoadChannel("c3")
	assert.False(t, ok)
}

func TestEmptySnapshotDeletes(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	require.NoError(t, s.SaveChannel("c1", mind.ChannelSnapshot{HistoryMarker: "1"}))
	require.NoError(t, s.SaveChannel("c1", mind.ChannelSnapshot{}))
	assert.Zero(t, s.Len())
}

func TestClosedRejectsWrites(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.SaveChannel("c1", mind.ChannelSnapshot{HistoryMarker: "1"}), ErrClosed)
	assert.ErrorIs(t, s.Flush(), ErrClosed)
	assert.NoError(t, s.Close(), "second close is a no-op")
}

func TestBackupsRotate(t *testing.T) {
	s, path := openTemp(t)
	defer s.Close()
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		require.NoError(t, s.SaveChannel("c", mind.ChannelSnapshot{HistoryMarker: string(rune('a' + i))}))
		require.NoError(t, s.Flush())
	}
	matches, err := filepath.Glob(path + ".backup.*")
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestUnchangedSaveSkipsBackup(t *testing.T) {
	s, path := openTemp(t)
	defer s.Close()
	require.NoError(t, s.SaveChannel("c", mind.ChannelSnapshot{HistoryMarker: "1"}))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Flush())
	matches, err := filepath.Glob(path + ".backup.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1, "only the first save changed the file")
}

func TestPrune(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveChannel("expired", mind.ChannelSnapshot{PanicUntil: now.Add(-time.Second)}))
	require.NoError(t, s.SaveChannel("panicked", mind.ChannelSnapshot{PanicUntil: now.Add(time.Minute)}))
	require.NoError(t, s.SaveChannel("marked", mind.ChannelSnapshot{HistoryMarker: "9", PanicUntil: now.Add(-time.Second)}))

	assert.Equal(t, 1, s.prune(now))
	assert.Equal(t, 2, s.Len())
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))
	_, err := Open(DefaultConfig(path))
	assert.Error(t, err)

	_, err = Open(Config{})
	assert.Error(t, err)
}
