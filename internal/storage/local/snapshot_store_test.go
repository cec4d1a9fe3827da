package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/storage"
)

func TestNewValidatesBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseDir: "  "})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(Config{BaseDir: file})
	require.ErrorContains(t, err, "not a directory")

	nested := filepath.Join(t.TempDir(), "a", "b")
	_, err = New(Config{BaseDir: nested})
	require.NoError(t, err)
	require.DirExists(t, nested)
}

func TestSnapshotRoundTripOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	_, err = s.LoadSnapshot(context.Background())
	require.ErrorIs(t, err, storage.ErrNotFound)

	snap := storage.Snapshot{
		RunID:  "run-7",
		Queues: []storage.QueueMeta{{Key: "example.com", Retired: true, TotalBudget: 10, Expenditure: 12}},
	}
	require.NoError(t, s.SaveSnapshot(context.Background(), snap))
	require.FileExists(t, filepath.Join(dir, snapshotFile))
	require.NoFileExists(t, filepath.Join(dir, snapshotFile+".tmp"))

	got, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, snap.Queues, got.Queues)
}
