package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"media_syncer/internal/domain"
)

type TagStore struct {
	db *sqlx.DB
}

func NewTagStore(db *sqlx.DB) *TagStore {
	return &TagStore{db: db}
}

// InsertIgnore inserts every key that does not exist yet. Existing rows are
// left alone, so concurrent callers with overlapping keys never conflict.
func (s *TagStore) InsertIgnore(ctx context.Context, keys []domain.TagKey) error {
	if len(keys) == 0 {
		return nil
	}

	names, categories := splitTagKeys(keys)
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO tags (name, category)
		SELECT * FROM unnest($1::text[], $2::text[])
		ON CONFLICT (name, category) DO NOTHING`,
		pq.Array(names), pq.Array(categories),
	)
	return err
}

// LookupIDs reads back the ids of the given keys. Keys without a row are
// absent from the result.
func (s *TagStore) LookupIDs(ctx context.Context, keys []domain.TagKey) (map[domain.TagKey]int64, error) {
	result := make(map[domain.TagKey]int64, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	names, categories := splitTagKeys(keys)
	var tags []domain.Tag
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &tags, `
		SELECT t.id, t.name, t.category, t.post_count
		FROM tags t
		JOIN unnest($1::text[], $2::text[]) AS k(name, category)
		  ON t.name = k.name AND t.category = k.category`,
		pq.Array(names), pq.Array(categories),
	)
	if err != nil {
		return nil, err
	}

	for _, t := range tags {
		result[domain.TagKey{Name: t.Name, Category: t.Category}] = t.ID
	}
	return result, nil
}

func splitTagKeys(keys []domain.TagKey) ([]string, []string) {
	names := make([]string, len(keys))
	categories := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Name
		categories[i] = string(k.Category)
	}
	return names, categories
}

// LinkToPost replaces the tag set of a post.
func (s *TagStore) LinkToPost(ctx context.Context, postID int64, tagIDs []int64) error {
	exec := GetExecutor(ctx, s.db)

	_, err := exec.ExecContext(ctx,
		"DELETE FROM post_tags WHERE post_id = $1",
		postID,
	)
	if err != nil {
		return err
	}

	if len(tagIDs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO post_tags (post_id, tag_id) VALUES ")
	valueArgs := make([]interface{}, 0, len(tagIDs)+1)
	valueArgs = append(valueArgs, postID)

	for i, tagID := range tagIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($1, $")
		sb.WriteString(strconv.Itoa(i + 2))
		sb.WriteString(")")
		valueArgs = append(valueArgs, tagID)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	_, err = exec.ExecContext(ctx, sb.String(), valueArgs...)
	return err
}

func (s *TagStore) GetByPostID(ctx context.Context, postID int64) ([]domain.Tag, error) {
	query := `
		SELECT t.id, t.name, t.category, t.post_count
		FROM tags t
		INNER JOIN post_tags pt ON pt.tag_id = t.id
		WHERE pt.post_id = $1
		ORDER BY t.id`

	var tags []domain.Tag
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &tags, query, postID)
	return tags, err
}

func (s *TagStore) GetByKey(ctx context.Context, key domain.TagKey) (*domain.Tag, error) {
	var tag domain.Tag
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &tag,
		"SELECT id, name, category, post_count FROM tags WHERE name = $1 AND category = $2",
		key.Name, string(key.Category),
	)
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

// DeleteUnused removes tags no post references any more.
func (s *TagStore) DeleteUnused(ctx context.Context) (int, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		DELETE FROM tags t
		WHERE NOT EXISTS (SELECT 1 FROM post_tags pt WHERE pt.tag_id = t.id)`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RecountPosts refreshes post_count from the association table.
func (s *TagStore) RecountPosts(ctx context.Context) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE tags t
		SET post_count = c.cnt
		FROM (
			SELECT t2.id, COUNT(pt.post_id) AS cnt
			FROM tags t2
			LEFT JOIN post_tags pt ON pt.tag_id = t2.id
			GROUP BY t2.id
		) c
		WHERE c.id = t.id AND t.post_count <> c.cnt`)
	return err
}
