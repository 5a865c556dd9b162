package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"media_syncer/internal/domain"
)

type MergeResult struct {
	PostID   int64
	Hash     string
	Created  bool
	Attempts int
}

// Merger writes one remote file and its associations in a single
// transaction, against ids already resolved by the Preparer.
type Merger struct {
	posts     PostStore
	tags      TagStore
	groups    GroupStore
	notes     NoteStore
	txManager TransactionManager
	retry     retrier
	logger    *slog.Logger
	now       func() time.Time
}

func NewMerger(
	posts PostStore,
	tags TagStore,
	groups GroupStore,
	notes NoteStore,
	txManager TransactionManager,
	retry retrier,
	logger *slog.Logger,
) *Merger {
	return &Merger{
		posts:     posts,
		tags:      tags,
		groups:    groups,
		notes:     notes,
		txManager: txManager,
		retry:     retry,
		logger:    logger,
		now:       time.Now,
	}
}

func (m *Merger) Merge(ctx context.Context, file domain.RemoteFile, maps *LookupMaps) (*MergeResult, error) {
	post := m.buildPost(file)
	refs := collectRefs(file)
	tagIDs := m.resolveTags(post.Hash, refs.tags, maps)
	groups := m.resolveGroups(post.Hash, refs.groups, maps)
	notes := buildNotes(file.Notes)

	result := &MergeResult{Hash: post.Hash}
	attempts, err := m.retry.do(ctx, func() error {
		return m.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			postID, created, err := m.posts.Upsert(txCtx, post)
			if err != nil {
				return fmt.Errorf("upsert post: %w", err)
			}

			if err := m.tags.LinkToPost(txCtx, postID, tagIDs); err != nil {
				return fmt.Errorf("link tags: %w", err)
			}

			if err := m.groups.LinkToPost(txCtx, postID, groups); err != nil {
				return fmt.Errorf("link groups: %w", err)
			}

			for i := range notes {
				notes[i].PostID = postID
			}
			if err := m.notes.ReplaceForPost(txCtx, postID, notes); err != nil {
				return fmt.Errorf("replace notes: %w", err)
			}

			result.PostID = postID
			result.Created = created
			return nil
		})
	})
	result.Attempts = attempts

	if err != nil {
		return result, err
	}
	return result, nil
}

func (m *Merger) buildPost(file domain.RemoteFile) *domain.Post {
	hash := strings.ToLower(file.Hash)
	filePath, thumbnailPath := domain.ShardedPaths(hash, file.Mime)

	importedAt, ok := file.ImportedAt()
	if !ok {
		importedAt = m.now()
	}

	return &domain.Post{
		Hash:          hash,
		FileID:        file.FileID,
		Mime:          file.Mime,
		Width:         file.Width,
		Height:        file.Height,
		Duration:      file.Duration,
		Size:          file.Size,
		PHash:         file.PHash,
		FilePath:      filePath,
		ThumbnailPath: thumbnailPath,
		SourceURLs:    file.URLs,
		ImportedAt:    importedAt.UTC(),
	}
}

func (m *Merger) resolveTags(hash string, keys []domain.TagKey, maps *LookupMaps) []int64 {
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		id, ok := maps.Tags[k]
		if !ok {
			m.logger.Warn("skipping unresolved tag", "hash", hash, "tag", k.String())
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (m *Merger) resolveGroups(hash string, refs []groupRef, maps *LookupMaps) []domain.PostGroup {
	groups := make([]domain.PostGroup, 0, len(refs))
	for _, ref := range refs {
		id, ok := maps.Groups[ref.key]
		if !ok {
			m.logger.Warn("skipping unresolved group", "hash", hash, "group", ref.key.String())
			continue
		}
		groups = append(groups, domain.PostGroup{GroupID: id, Position: ref.position})
	}
	return groups
}

// buildNotes keeps the first note of each name.
func buildNotes(remote []domain.RemoteNote) []domain.Note {
	notes := make([]domain.Note, 0, len(remote))
	seen := make(map[string]struct{}, len(remote))
	for _, n := range remote {
		if _, dup := seen[n.Name]; dup {
			continue
		}
		seen[n.Name] = struct{}{}

		sum := sha256.Sum256([]byte(n.Text))
		notes = append(notes, domain.Note{
			Name:        n.Name,
			Content:     n.Text,
			ContentHash: hex.EncodeToString(sum[:]),
		})
	}
	return notes
}
