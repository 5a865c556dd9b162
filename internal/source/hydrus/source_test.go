package hydrus

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSource(url string) *Source {
	return New(Config{
		BaseURL:        url,
		AccessKey:      "secret",
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, testLogger())
}

func TestListFileIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get_files/search_files", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get(accessKeyHeader))
		assert.Equal(t, `["system:everything"]`, r.URL.Query().Get("tags"))
		_, _ = w.Write([]byte(`{"file_ids":[3,1,2]}`))
	}))
	defer srv.Close()

	ids, err := newTestSource(srv.URL).ListFileIDs(context.Background(), []string{"system:everything"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)
}

func TestListFileIDs_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestSource(srv.URL).ListFileIDs(context.Background(), []string{"system:everything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestListFileIDs_RecoversAfterRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"file_ids":[9]}`))
	}))
	defer srv.Close()

	ids, err := newTestSource(srv.URL).ListFileIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, ids)
}

const metadataBody = `{
  "metadata": [
    {
      "file_id": 1,
      "hash": "ABCDEF0123",
      "size": 2048,
      "mime": "image/png",
      "width": 640,
      "height": 480,
      "duration": null,
      "known_urls": ["https://www.pixiv.net/artworks/5", 7],
      "file_services": {
        "current": {
          "svc-trash": {"name": "trash"},
          "svc-local": {"name": "my files", "time_imported": 1700000000},
          "svc-other": {"time_imported": 1600000000}
        }
      },
      "tags": {
        "svc-a": {
          "display_tags": {
            "0": ["Blue Sky", "artist:someone", "system:inbox", 5],
            "1": ["pending tag"]
          }
        },
        "svc-b": {
          "display_tags": {"0": ["blue sky", "title:My Art - 2"]}
        },
        "svc-c": {"display_tags": {"0": "not a list"}},
        "svc-d": {"storage_tags": {"0": ["storage only"]}},
        "svc-e": null
      },
      "notes": {"translation": "hello", "bad": 3}
    },
    {
      "file_id": 2,
      "hash": "ff00",
      "mime": "video/mp4",
      "duration": 1500,
      "tags": null
    },
    {
      "file_id": 3,
      "hash": "ee00",
      "tags": {"svc-a": {"display_tags": null}}
    },
    {"file_id": 4},
    "garbage"
  ]
}`

func TestFetchMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get_files/file_metadata", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("include_notes"))

		var ids []int64
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("file_ids")), &ids))
		assert.Equal(t, []int64{1, 2, 3, 4}, ids)

		_, _ = w.Write([]byte(metadataBody))
	}))
	defer srv.Close()

	files, err := newTestSource(srv.URL).FetchMetadata(context.Background(), []int64{1, 2, 3, 4})
	require.NoError(t, err)
	require.Len(t, files, 3)

	first := files[0]
	assert.Equal(t, int64(1), first.FileID)
	assert.Equal(t, "abcdef0123", first.Hash)
	assert.Equal(t, int64(2048), first.Size)
	assert.Equal(t, 640, first.Width)
	assert.Equal(t, 480, first.Height)
	assert.Equal(t, 0, first.Duration)
	assert.Equal(t, []string{"Blue Sky", "artist:someone", "title:My Art - 2"}, first.Tags)
	assert.Equal(t, []string{"https://www.pixiv.net/artworks/5"}, first.URLs)

	importedAt, ok := first.ImportedAt()
	require.True(t, ok)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), importedAt)

	require.Len(t, first.Notes, 1)
	assert.Equal(t, "translation", first.Notes[0].Name)
	assert.Equal(t, "hello", first.Notes[0].Text)

	assert.Equal(t, 1500, files[1].Duration)
	assert.Empty(t, files[1].Tags)
	_, ok = files[1].ImportedAt()
	assert.False(t, ok)

	assert.Empty(t, files[2].Tags)
}

func TestFetchMetadata_Empty(t *testing.T) {
	files, err := newTestSource("http://unused.invalid").FetchMetadata(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, files)
}

func TestNewBackOff_DoublesUpToMax(t *testing.T) {
	s := New(Config{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}, testLogger())

	b := s.newBackOff(context.Background())
	b.Reset()

	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, 5*time.Second, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestListFileIDs_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestSource(srv.URL).ListFileIDs(context.Background(), []string{"system:everything"})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestListFileIDs_TooManyRequestsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"file_ids":[4]}`))
	}))
	defer srv.Close()

	ids, err := newTestSource(srv.URL).ListFileIDs(context.Background(), []string{"system:everything"})
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, ids)
	assert.Equal(t, int32(3), calls.Load())
}
