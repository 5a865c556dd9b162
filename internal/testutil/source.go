package testutil

import (
	"context"
	"sync"

	"media_syncer/internal/domain"
)

// FakeSource serves a fixed in-memory catalog. Files can be swapped between
// runs to simulate remote changes.
type FakeSource struct {
	mu    sync.Mutex
	files []domain.RemoteFile
}

func NewFakeSource(files ...domain.RemoteFile) *FakeSource {
	return &FakeSource{files: files}
}

func (f *FakeSource) SetFiles(files ...domain.RemoteFile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = files
}

func (f *FakeSource) ID() string {
	return "fake"
}

func (f *FakeSource) Name() string {
	return "Fake Source"
}

func (f *FakeSource) ListFileIDs(_ context.Context, _ []string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]int64, len(f.files))
	for i, file := range f.files {
		ids[i] = file.FileID
	}
	return ids, nil
}

func (f *FakeSource) FetchMetadata(_ context.Context, ids []int64) ([]domain.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	byID := make(map[int64]domain.RemoteFile, len(f.files))
	for _, file := range f.files {
		byID[file.FileID] = file
	}

	out := make([]domain.RemoteFile, 0, len(ids))
	for _, id := range ids {
		if file, ok := byID[id]; ok {
			out = append(out, file)
		}
	}
	return out, nil
}
