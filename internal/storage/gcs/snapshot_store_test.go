package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	gcs "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/crawl-frontier/internal/storage"
)

// newTestStore creates a SnapshotStore pointed at a test server.
func newTestStore(t *testing.T, handler http.Handler) *SnapshotStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gcs.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "test-bucket"})
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := gcs.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestSaveSnapshotUploadsObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, defaultObject, r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `"run_id":"run-1"`)

		fmt.Fprintln(w, `{ "name": "`+defaultObject+`" }`)
	})

	store := newTestStore(t, handler)
	err := store.SaveSnapshot(context.Background(), storage.Snapshot{RunID: "run-1"})
	require.NoError(t, err)
}

func TestSaveSnapshotServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store := newTestStore(t, handler)
	err := store.SaveSnapshot(context.Background(), storage.Snapshot{RunID: "run-1"})
	require.Error(t, err)
}

func TestLoadSnapshotMissingObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	store := newTestStore(t, handler)
	_, err := store.LoadSnapshot(context.Background())
	require.ErrorIs(t, err, storage.ErrNotFound)
}
