package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"media_syncer/internal/domain"
)

type NoteStore struct {
	db *sqlx.DB
}

func NewNoteStore(db *sqlx.DB) *NoteStore {
	return &NoteStore{db: db}
}

// ReplaceForPost replaces all notes of a post.
func (s *NoteStore) ReplaceForPost(ctx context.Context, postID int64, notes []domain.Note) error {
	exec := GetExecutor(ctx, s.db)

	_, err := exec.ExecContext(ctx, "DELETE FROM notes WHERE post_id = $1", postID)
	if err != nil {
		return err
	}

	if len(notes) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO notes (post_id, name, content, content_hash) VALUES ")
	valueArgs := make([]interface{}, 0, len(notes)*3+1)
	valueArgs = append(valueArgs, postID)

	for i, n := range notes {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*3 + 2
		sb.WriteString("($1, $")
		sb.WriteString(strconv.Itoa(base))
		sb.WriteString(", $")
		sb.WriteString(strconv.Itoa(base + 1))
		sb.WriteString(", $")
		sb.WriteString(strconv.Itoa(base + 2))
		sb.WriteString(")")
		valueArgs = append(valueArgs, n.Name, n.Content, n.ContentHash)
	}
	sb.WriteString(" ON CONFLICT (post_id, name) DO UPDATE SET content = EXCLUDED.content, content_hash = EXCLUDED.content_hash")

	_, err = exec.ExecContext(ctx, sb.String(), valueArgs...)
	return err
}

func (s *NoteStore) GetByPostID(ctx context.Context, postID int64) ([]domain.Note, error) {
	var notes []domain.Note
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &notes,
		"SELECT post_id, name, content, content_hash FROM notes WHERE post_id = $1 ORDER BY name",
		postID,
	)
	return notes, err
}
