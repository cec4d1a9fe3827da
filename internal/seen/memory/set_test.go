package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetAddRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSet()
	added, err := s.Add(ctx, 42)
	require.NoError(t, err)
	require.True(t, added)
	added, err = s.Add(ctx, 42)
	require.NoError(t, err)
	require.False(t, added)

	ok, err := s.Contains(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := s.Remove(ctx, 42)
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = s.Remove(ctx, 42)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestSetConcurrentAddsCountOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSet()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fp := uint64(0); fp < 100; fp++ {
				added, _ := s.Add(ctx, fp)
				if added {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 100, wins)
	n, err := s.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 100, n)
}
