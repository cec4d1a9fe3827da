package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/storage"
)

func TestSnapshotStoreSaveLoad(t *testing.T) {
	t.Parallel()

	s := NewSnapshotStore()
	_, err := s.LoadSnapshot(context.Background())
	require.ErrorIs(t, err, storage.ErrNotFound)

	snap := storage.Snapshot{
		RunID:    "run-1",
		Counters: storage.Counters{Discovered: 3, Queued: 2, Succeeded: 1},
		Queues:   []storage.QueueMeta{{Key: "example.com", Expenditure: 4, TotalBudget: -1}},
	}
	require.NoError(t, s.SaveSnapshot(context.Background(), snap))

	got, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, snap.RunID, got.RunID)
	require.Equal(t, snap.Counters, got.Counters)
	require.Equal(t, snap.Queues, got.Queues)
	require.Equal(t, 1, s.Saves())
}
