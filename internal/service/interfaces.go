package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"media_syncer/internal/domain"
)

type PostStore interface {
	Upsert(ctx context.Context, post *domain.Post) (int64, bool, error)
	DeleteMissing(ctx context.Context, seenHashes []string, listedFileIDs []int64) ([]string, error)
}

type TagStore interface {
	InsertIgnore(ctx context.Context, keys []domain.TagKey) error
	LookupIDs(ctx context.Context, keys []domain.TagKey) (map[domain.TagKey]int64, error)
	LinkToPost(ctx context.Context, postID int64, tagIDs []int64) error
	DeleteUnused(ctx context.Context) (int, error)
	RecountPosts(ctx context.Context) error
}

type GroupStore interface {
	InsertIgnore(ctx context.Context, keys []domain.GroupKey) error
	LookupIDs(ctx context.Context, keys []domain.GroupKey) (map[domain.GroupKey]int64, error)
	LinkToPost(ctx context.Context, postID int64, groups []domain.PostGroup) error
	DeleteUnused(ctx context.Context) (int, error)
}

type NoteStore interface {
	ReplaceForPost(ctx context.Context, postID int64, notes []domain.Note) error
}

type SyncStateStore interface {
	Get(ctx context.Context) (*domain.SyncState, error)
	Begin(ctx context.Context, runID string, now time.Time) (*domain.SyncState, error)
	Update(ctx context.Context, state *domain.SyncState, force bool) error
	RequestCancel(ctx context.Context) (bool, error)
}

type Source interface {
	ID() string
	Name() string
	ListFileIDs(ctx context.Context, tags []string) ([]int64, error)
	FetchMetadata(ctx context.Context, ids []int64) ([]domain.RemoteFile, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	PublishPost(ctx context.Context, event domain.PostEvent) error
	PublishSyncCompleted(ctx context.Context, stats *domain.SyncStats) error
	Close() error
}
