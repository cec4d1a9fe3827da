package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	members map[string]map[string]struct{}
	err     error
}

func newFakeClient() *fakeClient {
	return &fakeClient{members: make(map[string]map[string]struct{})}
}

func (f *fakeClient) set(key string) map[string]struct{} {
	s, ok := f.members[key]
	if !ok {
		s = make(map[string]struct{})
		f.members[key] = s
	}
	return s
}

func (f *fakeClient) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	var n int64
	s := f.set(key)
	for _, m := range members {
		k := fmt.Sprint(m)
		if _, ok := s[k]; !ok {
			s[k] = struct{}{}
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeClient) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	var n int64
	s := f.set(key)
	for _, m := range members {
		k := fmt.Sprint(m)
		if _, ok := s[k]; ok {
			delete(s, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeClient) SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	_, ok := f.set(key)[fmt.Sprint(member)]
	cmd.SetVal(ok)
	return cmd
}

func (f *fakeClient) SCard(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.set(key))))
	return cmd
}

func (f *fakeClient) Close() error { return nil }

func TestSetUsesConfiguredKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeClient()
	s := newWithClient(client, "crawl:1:seen")

	added, err := s.Add(ctx, 99)
	require.NoError(t, err)
	require.True(t, added)
	added, err = s.Add(ctx, 99)
	require.NoError(t, err)
	require.False(t, added)
	require.Contains(t, client.members, "crawl:1:seen")

	ok, err := s.Contains(ctx, 99)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	removed, err := s.Remove(ctx, 99)
	require.NoError(t, err)
	require.True(t, removed)
}

func TestSetWrapsErrors(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.err = errors.New("connection refused")
	s := newWithClient(client, "")
	require.Equal(t, defaultKey, s.key)

	_, err := s.Add(context.Background(), 1)
	require.ErrorContains(t, err, "sadd fingerprint")
}

func TestNewRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
