package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"media_syncer/internal/domain"
)

type PostStore struct {
	db *sqlx.DB
}

func NewPostStore(db *sqlx.DB) *PostStore {
	return &PostStore{db: db}
}

// Upsert inserts the post or updates its mutable fields, keyed by hash.
// created is true only when a new row was inserted. A repeat with identical
// fields leaves the row untouched.
func (s *PostStore) Upsert(ctx context.Context, post *domain.Post) (int64, bool, error) {
	exec := GetExecutor(ctx, s.db)

	query := `
		INSERT INTO posts (
			hash, file_id, mime, width, height, duration, size, phash,
			file_path, thumbnail_path, source_urls, imported_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (hash) DO UPDATE SET
			file_id = EXCLUDED.file_id,
			mime = EXCLUDED.mime,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			duration = EXCLUDED.duration,
			size = EXCLUDED.size,
			phash = EXCLUDED.phash,
			file_path = EXCLUDED.file_path,
			thumbnail_path = EXCLUDED.thumbnail_path,
			source_urls = EXCLUDED.source_urls,
			imported_at = EXCLUDED.imported_at,
			updated_at = NOW()
		WHERE (posts.file_id, posts.mime, posts.width, posts.height, posts.duration,
		       posts.size, posts.phash, posts.file_path, posts.thumbnail_path,
		       posts.source_urls, posts.imported_at)
		  IS DISTINCT FROM
		      (EXCLUDED.file_id, EXCLUDED.mime, EXCLUDED.width, EXCLUDED.height, EXCLUDED.duration,
		       EXCLUDED.size, EXCLUDED.phash, EXCLUDED.file_path, EXCLUDED.thumbnail_path,
		       EXCLUDED.source_urls, EXCLUDED.imported_at)
		RETURNING id, (xmax = 0) AS inserted`

	sourceURLs := post.SourceURLs
	if sourceURLs == nil {
		sourceURLs = []string{}
	}

	var id int64
	var inserted bool
	err := exec.QueryRowxContext(ctx, query,
		post.Hash,
		post.FileID,
		post.Mime,
		post.Width,
		post.Height,
		post.Duration,
		post.Size,
		post.PHash,
		post.FilePath,
		post.ThumbnailPath,
		pq.Array(sourceURLs),
		post.ImportedAt,
	).Scan(&id, &inserted)

	if errors.Is(err, sql.ErrNoRows) {
		inserted = false
		err = exec.QueryRowxContext(ctx,
			"SELECT id FROM posts WHERE hash = $1",
			post.Hash,
		).Scan(&id)
	}

	if err != nil {
		return 0, false, err
	}

	return id, inserted, nil
}

func (s *PostStore) GetByHash(ctx context.Context, hash string) (*domain.Post, error) {
	var row struct {
		domain.Post
		SourceURLs pq.StringArray `db:"source_urls"`
	}
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, `
		SELECT id, hash, file_id, mime, width, height, duration, size, phash,
		       file_path, thumbnail_path, source_urls, imported_at, created_at, updated_at
		FROM posts
		WHERE hash = $1`, hash)
	if err != nil {
		return nil, err
	}

	post := row.Post
	post.SourceURLs = row.SourceURLs
	return &post, nil
}

func (s *PostStore) Count(ctx context.Context) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &count, "SELECT COUNT(*) FROM posts")
	return count, err
}

// DeleteMissing removes every post whose hash was not seen and whose remote
// file id is not in the listing. Associations go with it by cascade.
func (s *PostStore) DeleteMissing(ctx context.Context, seenHashes []string, listedFileIDs []int64) ([]string, error) {
	if seenHashes == nil {
		seenHashes = []string{}
	}
	if listedFileIDs == nil {
		listedFileIDs = []int64{}
	}

	query := `
		DELETE FROM posts
		WHERE NOT (hash = ANY($1))
		  AND NOT (file_id = ANY($2))
		RETURNING hash`

	var deleted []string
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &deleted, query,
		pq.Array(seenHashes), pq.Array(listedFileIDs))
	return deleted, err
}
