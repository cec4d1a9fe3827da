package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/queue"
)

func TestLogFIFOWithinPriority(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewLog()
	first, err := l.Append(ctx, "a", 2, []byte("one"))
	require.NoError(t, err)
	_, err = l.Append(ctx, "a", 2, []byte("two"))
	require.NoError(t, err)
	_, err = l.Append(ctx, "a", 1, []byte("seed"))
	require.NoError(t, err)

	head, ok, err := l.Head(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "seed", string(head.Data))

	require.NoError(t, l.Remove(ctx, "a", head.Seq))
	head, ok, err = l.Head(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, head.Seq)

	var order []string
	require.NoError(t, l.Scan(ctx, "a", func(e queue.Entry) bool {
		order = append(order, string(e.Data))
		return true
	}))
	require.Equal(t, []string{"one", "two"}, order)

	n, err := l.Len(ctx, "a")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestLogKeysAndEmptyHead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewLog()
	_, ok, err := l.Head(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	seq, err := l.Append(ctx, "b", 0, []byte("x"))
	require.NoError(t, err)
	_, err = l.Append(ctx, "a", 0, []byte("y"))
	require.NoError(t, err)
	keys, err := l.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, l.Remove(ctx, "b", seq))
	keys, err = l.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, keys)

	require.ErrorIs(t, l.Remove(ctx, "b", seq), queue.ErrNotFound)
}

func TestLogCancelationAndClose(t *testing.T) {
	t.Parallel()

	l := NewLog()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Append(ctx, "a", 0, nil)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, l.Close())
	_, err = l.Append(context.Background(), "a", 0, nil)
	require.True(t, errors.Is(err, queue.ErrClosed))
	// Closing twice should be safe.
	require.NoError(t, l.Close())
}

func TestLogUpdateKeepsPosition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewLog()
	seq, err := l.Append(ctx, "a", 2, []byte("v1"))
	require.NoError(t, err)
	_, err = l.Append(ctx, "a", 2, []byte("next"))
	require.NoError(t, err)

	require.NoError(t, l.Update(ctx, "a", seq, []byte("v2")))
	head, ok, err := l.Head(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, seq, head.Seq)
	require.Equal(t, "v2", string(head.Data))

	require.ErrorIs(t, l.Update(ctx, "a", 999, nil), queue.ErrNotFound)
}
