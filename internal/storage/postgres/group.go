package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"media_syncer/internal/domain"
)

type GroupStore struct {
	db *sqlx.DB
}

func NewGroupStore(db *sqlx.DB) *GroupStore {
	return &GroupStore{db: db}
}

// InsertIgnore inserts every key that does not exist yet.
func (s *GroupStore) InsertIgnore(ctx context.Context, keys []domain.GroupKey) error {
	if len(keys) == 0 {
		return nil
	}

	types, ids := splitGroupKeys(keys)
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO source_groups (source_type, source_id)
		SELECT * FROM unnest($1::text[], $2::text[])
		ON CONFLICT (source_type, source_id) DO NOTHING`,
		pq.Array(types), pq.Array(ids),
	)
	return err
}

func (s *GroupStore) LookupIDs(ctx context.Context, keys []domain.GroupKey) (map[domain.GroupKey]int64, error) {
	result := make(map[domain.GroupKey]int64, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	types, ids := splitGroupKeys(keys)
	var groups []domain.Group
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &groups, `
		SELECT g.id, g.source_type, g.source_id
		FROM source_groups g
		JOIN unnest($1::text[], $2::text[]) AS k(source_type, source_id)
		  ON g.source_type = k.source_type AND g.source_id = k.source_id`,
		pq.Array(types), pq.Array(ids),
	)
	if err != nil {
		return nil, err
	}

	for _, g := range groups {
		result[domain.GroupKey{SourceType: g.SourceType, SourceID: g.SourceID}] = g.ID
	}
	return result, nil
}

func splitGroupKeys(keys []domain.GroupKey) ([]string, []string) {
	types := make([]string, len(keys))
	ids := make([]string, len(keys))
	for i, k := range keys {
		types[i] = string(k.SourceType)
		ids[i] = k.SourceID
	}
	return types, ids
}

// LinkToPost replaces the group memberships of a post.
func (s *GroupStore) LinkToPost(ctx context.Context, postID int64, groups []domain.PostGroup) error {
	exec := GetExecutor(ctx, s.db)

	_, err := exec.ExecContext(ctx,
		"DELETE FROM post_groups WHERE post_id = $1",
		postID,
	)
	if err != nil {
		return err
	}

	if len(groups) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO post_groups (post_id, group_id, position) VALUES ")
	valueArgs := make([]interface{}, 0, len(groups)*2+1)
	valueArgs = append(valueArgs, postID)

	for i, g := range groups {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($1, $")
		sb.WriteString(strconv.Itoa(i*2 + 2))
		sb.WriteString(", $")
		sb.WriteString(strconv.Itoa(i*2 + 3))
		sb.WriteString(")")
		valueArgs = append(valueArgs, g.GroupID, g.Position)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	_, err = exec.ExecContext(ctx, sb.String(), valueArgs...)
	return err
}

func (s *GroupStore) GetByPostID(ctx context.Context, postID int64) ([]domain.PostGroup, error) {
	rows, err := GetExecutor(ctx, s.db).QueryxContext(ctx,
		"SELECT group_id, position FROM post_groups WHERE post_id = $1 ORDER BY group_id",
		postID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []domain.PostGroup
	for rows.Next() {
		var g domain.PostGroup
		if err := rows.Scan(&g.GroupID, &g.Position); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteUnused removes groups with no member posts.
func (s *GroupStore) DeleteUnused(ctx context.Context) (int, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		DELETE FROM source_groups g
		WHERE NOT EXISTS (SELECT 1 FROM post_groups pg WHERE pg.group_id = g.id)`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
