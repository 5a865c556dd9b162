//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"media_syncer/internal/domain"
	"media_syncer/internal/testutil"
	"media_syncer/migrations"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db

	s.Require().NoError(migrations.Up(db.DB))
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM notes")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM post_groups")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM post_tags")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM source_groups")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM tags")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM posts")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM sync_state")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) newPost(hash string, fileID int64) *domain.Post {
	filePath, thumbPath := domain.ShardedPaths(hash, "image/png")
	return &domain.Post{
		Hash:          hash,
		FileID:        fileID,
		Mime:          "image/png",
		Width:         800,
		Height:        600,
		Size:          1024,
		FilePath:      filePath,
		ThumbnailPath: thumbPath,
		SourceURLs:    []string{"https://www.pixiv.net/artworks/1"},
		ImportedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresIntegrationSuite) TestPostStore_Upsert_Insert() {
	store := NewPostStore(s.db)

	post := s.newPost("aa11", 1)
	post.PHash = testutil.Ptr("c3c3")

	id, created, err := store.Upsert(s.ctx, post)
	s.NoError(err)
	s.True(created)
	s.Greater(id, int64(0))

	got, err := store.GetByHash(s.ctx, "aa11")
	s.NoError(err)
	s.Equal(id, got.ID)
	s.Equal("faa/aa11.png", got.FilePath)
	s.Equal("taa/aa11.thumbnail", got.ThumbnailPath)
	s.Equal([]string{"https://www.pixiv.net/artworks/1"}, got.SourceURLs)
	s.Equal("c3c3", *got.PHash)
}

func (s *PostgresIntegrationSuite) TestPostStore_Upsert_UpdatesChangedFields() {
	store := NewPostStore(s.db)

	post := s.newPost("bb22", 2)
	id1, created, err := store.Upsert(s.ctx, post)
	s.NoError(err)
	s.True(created)

	post.Width = 1920
	id2, created, err := store.Upsert(s.ctx, post)
	s.NoError(err)
	s.False(created)
	s.Equal(id1, id2)

	got, err := store.GetByHash(s.ctx, "bb22")
	s.NoError(err)
	s.Equal(1920, got.Width)
}

func (s *PostgresIntegrationSuite) TestPostStore_Upsert_IdenticalLeavesRowUntouched() {
	store := NewPostStore(s.db)

	post := s.newPost("cc33", 3)
	id1, _, err := store.Upsert(s.ctx, post)
	s.NoError(err)

	before, err := store.GetByHash(s.ctx, "cc33")
	s.NoError(err)

	id2, created, err := store.Upsert(s.ctx, post)
	s.NoError(err)
	s.False(created)
	s.Equal(id1, id2)

	after, err := store.GetByHash(s.ctx, "cc33")
	s.NoError(err)
	s.Equal(before.UpdatedAt, after.UpdatedAt)
}

func (s *PostgresIntegrationSuite) TestPostStore_DeleteMissing() {
	store := NewPostStore(s.db)

	for i, hash := range []string{"a1", "b2", "c3"} {
		_, _, err := store.Upsert(s.ctx, s.newPost(hash, int64(i+1)))
		s.NoError(err)
	}

	// b2 was seen, c3 was listed but its batch failed, a1 is gone remotely
	deleted, err := store.DeleteMissing(s.ctx, []string{"b2"}, []int64{2, 3})
	s.NoError(err)
	s.Equal([]string{"a1"}, deleted)

	count, err := store.Count(s.ctx)
	s.NoError(err)
	s.Equal(2, count)
}

func (s *PostgresIntegrationSuite) TestTagStore_InsertIgnoreAndLookup() {
	store := NewTagStore(s.db)

	keys := []domain.TagKey{
		{Name: "blue sky", Category: domain.CategoryGeneral},
		{Name: "alice", Category: domain.CategoryArtist},
		{Name: "alice", Category: domain.CategoryCharacter},
	}
	s.NoError(store.InsertIgnore(s.ctx, keys))
	s.NoError(store.InsertIgnore(s.ctx, keys))

	ids, err := store.LookupIDs(s.ctx, keys)
	s.NoError(err)
	s.Len(ids, 3)
	s.NotEqual(ids[keys[1]], ids[keys[2]])

	var count int
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM tags"))
	s.Equal(3, count)
}

func (s *PostgresIntegrationSuite) TestTagStore_ConcurrentInsertYieldsOneRow() {
	store := NewTagStore(s.db)
	tm := NewTransactionManager(s.db)
	key := domain.TagKey{Name: "shared", Category: domain.CategoryGeneral}

	var wg sync.WaitGroup
	ids := make([]int64, 20)
	errs := make([]error, 20)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = tm.WithTransaction(s.ctx, func(ctx context.Context) error {
				if err := store.InsertIgnore(ctx, []domain.TagKey{key}); err != nil {
					return err
				}
				found, err := store.LookupIDs(ctx, []domain.TagKey{key})
				if err != nil {
					return err
				}
				ids[i] = found[key]
				return nil
			})
		}()
	}
	wg.Wait()

	for i := range 20 {
		s.NoError(errs[i])
		s.Equal(ids[0], ids[i])
	}

	var count int
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM tags WHERE name = 'shared'"))
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestTagStore_LinkToPost_ReplacesOld() {
	tagStore := NewTagStore(s.db)
	postStore := NewPostStore(s.db)

	postID, _, err := postStore.Upsert(s.ctx, s.newPost("dd44", 4))
	s.NoError(err)

	keys := []domain.TagKey{
		{Name: "tag1", Category: domain.CategoryGeneral},
		{Name: "tag2", Category: domain.CategoryGeneral},
		{Name: "tag3", Category: domain.CategoryGeneral},
	}
	s.NoError(tagStore.InsertIgnore(s.ctx, keys))
	ids, err := tagStore.LookupIDs(s.ctx, keys)
	s.NoError(err)

	s.NoError(tagStore.LinkToPost(s.ctx, postID, []int64{ids[keys[0]], ids[keys[1]]}))
	s.NoError(tagStore.LinkToPost(s.ctx, postID, []int64{ids[keys[2]]}))

	linked, err := tagStore.GetByPostID(s.ctx, postID)
	s.NoError(err)
	s.Len(linked, 1)
	s.Equal("tag3", linked[0].Name)
}

func (s *PostgresIntegrationSuite) TestTagStore_DeleteUnusedAndRecount() {
	tagStore := NewTagStore(s.db)
	postStore := NewPostStore(s.db)

	p1, _, err := postStore.Upsert(s.ctx, s.newPost("e1", 1))
	s.NoError(err)
	p2, _, err := postStore.Upsert(s.ctx, s.newPost("e2", 2))
	s.NoError(err)

	used := domain.TagKey{Name: "used", Category: domain.CategoryGeneral}
	orphan := domain.TagKey{Name: "orphan", Category: domain.CategoryMeta}
	s.NoError(tagStore.InsertIgnore(s.ctx, []domain.TagKey{used, orphan}))
	ids, err := tagStore.LookupIDs(s.ctx, []domain.TagKey{used, orphan})
	s.NoError(err)

	s.NoError(tagStore.LinkToPost(s.ctx, p1, []int64{ids[used]}))
	s.NoError(tagStore.LinkToPost(s.ctx, p2, []int64{ids[used]}))

	deleted, err := tagStore.DeleteUnused(s.ctx)
	s.NoError(err)
	s.Equal(1, deleted)

	s.NoError(tagStore.RecountPosts(s.ctx))

	tag, err := tagStore.GetByKey(s.ctx, used)
	s.NoError(err)
	s.Equal(int64(2), tag.PostCount)
}

func (s *PostgresIntegrationSuite) TestGroupStore_LinkAndDeleteUnused() {
	groupStore := NewGroupStore(s.db)
	postStore := NewPostStore(s.db)

	postID, _, err := postStore.Upsert(s.ctx, s.newPost("ff66", 6))
	s.NoError(err)

	pixiv := domain.GroupKey{SourceType: domain.SourcePixiv, SourceID: "12345"}
	title := domain.GroupKey{SourceType: domain.SourceTitle, SourceID: "9f86d081"}
	s.NoError(groupStore.InsertIgnore(s.ctx, []domain.GroupKey{pixiv, title}))
	ids, err := groupStore.LookupIDs(s.ctx, []domain.GroupKey{pixiv, title})
	s.NoError(err)
	s.Len(ids, 2)

	s.NoError(groupStore.LinkToPost(s.ctx, postID, []domain.PostGroup{{GroupID: ids[pixiv], Position: 2}}))

	linked, err := groupStore.GetByPostID(s.ctx, postID)
	s.NoError(err)
	s.Equal([]domain.PostGroup{{GroupID: ids[pixiv], Position: 2}}, linked)

	deleted, err := groupStore.DeleteUnused(s.ctx)
	s.NoError(err)
	s.Equal(1, deleted)
}

func (s *PostgresIntegrationSuite) TestNoteStore_ReplaceForPost() {
	noteStore := NewNoteStore(s.db)
	postStore := NewPostStore(s.db)

	postID, _, err := postStore.Upsert(s.ctx, s.newPost("ab12", 7))
	s.NoError(err)

	s.NoError(noteStore.ReplaceForPost(s.ctx, postID, []domain.Note{
		{PostID: postID, Name: "translation", Content: "hello", ContentHash: "h1"},
		{PostID: postID, Name: "comment", Content: "nice", ContentHash: "h2"},
	}))
	s.NoError(noteStore.ReplaceForPost(s.ctx, postID, []domain.Note{
		{PostID: postID, Name: "translation", Content: "hello there", ContentHash: "h3"},
	}))

	notes, err := noteStore.GetByPostID(s.ctx, postID)
	s.NoError(err)
	s.Len(notes, 1)
	s.Equal("hello there", notes[0].Content)
	s.Equal("h3", notes[0].ContentHash)
}

func (s *PostgresIntegrationSuite) TestSyncStateStore_GetWithoutRow() {
	store := NewSyncStateStore(s.db)

	state, err := store.Get(s.ctx)
	s.NoError(err)
	s.Equal(domain.StatusIdle, state.Status)
}

func (s *PostgresIntegrationSuite) TestSyncStateStore_BeginRejectsWhileRunning() {
	store := NewSyncStateStore(s.db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	state, err := store.Begin(s.ctx, "run-1", now)
	s.NoError(err)
	s.Equal(domain.StatusRunning, state.Status)

	_, err = store.Begin(s.ctx, "run-2", now)
	s.ErrorIs(err, domain.ErrSyncRunning)

	current, err := store.Get(s.ctx)
	s.NoError(err)
	s.Equal("run-1", current.RunID)

	var rows int
	s.NoError(s.db.GetContext(s.ctx, &rows, "SELECT COUNT(*) FROM sync_state"))
	s.Equal(1, rows)
}

func (s *PostgresIntegrationSuite) TestSyncStateStore_ConcurrentBeginSingleWinner() {
	store := NewSyncStateStore(s.db)
	now := time.Now().UTC()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.Begin(s.ctx, "run", now)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		s.ErrorIs(err, domain.ErrSyncRunning)
	}
	s.Equal(1, winners)
}

func (s *PostgresIntegrationSuite) TestSyncStateStore_UpdatePreservesCancel() {
	store := NewSyncStateStore(s.db)

	state, err := store.Begin(s.ctx, "run-1", time.Now().UTC())
	s.NoError(err)

	cancelled, err := store.RequestCancel(s.ctx)
	s.NoError(err)
	s.True(cancelled)

	state.Phase = domain.PhaseProcessing
	state.ProcessedFiles = 20
	state.Errors = []string{"abc: boom"}
	s.NoError(store.Update(s.ctx, state, false))

	current, err := store.Get(s.ctx)
	s.NoError(err)
	s.Equal(domain.StatusCancelled, current.Status)
	s.Equal(domain.PhaseProcessing, current.Phase)
	s.Equal(20, current.ProcessedFiles)
	s.Equal([]string{"abc: boom"}, current.Errors)

	// a forced write may replace cancelled with running
	s.NoError(store.Update(s.ctx, state, true))

	current, err = store.Get(s.ctx)
	s.NoError(err)
	s.Equal(domain.StatusRunning, current.Status)
	s.Equal("run-1", current.RunID)

	state.Status = domain.StatusCompleted
	state.Phase = domain.PhaseComplete
	s.NoError(store.Update(s.ctx, state, false))

	current, err = store.Get(s.ctx)
	s.NoError(err)
	s.Equal(domain.StatusCompleted, current.Status)
}

func (s *PostgresIntegrationSuite) TestSyncStateStore_BeginClearsStaleCancel() {
	store := NewSyncStateStore(s.db)

	_, err := store.Begin(s.ctx, "run-1", time.Now().UTC())
	s.Require().NoError(err)
	cancelled, err := store.RequestCancel(s.ctx)
	s.Require().NoError(err)
	s.Require().True(cancelled)

	state, err := store.Begin(s.ctx, "run-2", time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(domain.StatusRunning, state.Status)

	current, err := store.Get(s.ctx)
	s.NoError(err)
	s.Equal(domain.StatusRunning, current.Status)
	s.Equal(domain.PhaseSearching, current.Phase)
	s.Equal("run-2", current.RunID)
	s.Zero(current.ProcessedFiles)
	s.Empty(current.Errors)
	s.NotNil(current.StartedAt)
	s.Nil(current.CompletedAt)
}

func (s *PostgresIntegrationSuite) TestSyncStateStore_RequestCancelWhenIdle() {
	store := NewSyncStateStore(s.db)

	cancelled, err := store.RequestCancel(s.ctx)
	s.NoError(err)
	s.False(cancelled)
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	postStore := NewPostStore(s.db)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		_, _, err := postStore.Upsert(ctx, s.newPost("99aa", 999))
		return err
	})
	s.NoError(err)

	count, err := postStore.Count(s.ctx)
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	postStore := NewPostStore(s.db)

	_, _, err := postStore.Upsert(s.ctx, s.newPost("88bb", 888))
	s.NoError(err)

	err = tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if _, _, err := postStore.Upsert(ctx, s.newPost("77cc", 777)); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Error(err)

	_, err = postStore.GetByHash(s.ctx, "77cc")
	s.Error(err)

	_, err = postStore.GetByHash(s.ctx, "88bb")
	s.NoError(err)
}

func (s *PostgresIntegrationSuite) TestTransaction_NestedJoinsOuter() {
	tm := NewTransactionManager(s.db)
	postStore := NewPostStore(s.db)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		outer := GetTxFromContext(ctx)
		inner := tm.WithTransaction(ctx, func(innerCtx context.Context) error {
			s.Same(outer, GetTxFromContext(innerCtx))
			_, _, err := postStore.Upsert(innerCtx, s.newPost("66dd", 666))
			return err
		})
		s.NoError(inner)
		return errors.New("abort outer")
	})
	s.Error(err)

	// the inner write rolled back with the outer transaction
	_, err = postStore.GetByHash(s.ctx, "66dd")
	s.Error(err)
}
