package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"media_syncer/internal/domain"
	"media_syncer/internal/sourceurl"
	"media_syncer/internal/tagparse"
	"media_syncer/internal/titlegroup"
)

// LookupMaps resolves the natural keys referenced by one batch to row ids.
type LookupMaps struct {
	Tags   map[domain.TagKey]int64
	Groups map[domain.GroupKey]int64
}

type groupRef struct {
	key      domain.GroupKey
	position int
}

// itemRefs is everything one remote file references by natural key, in
// first-seen order and without duplicates.
type itemRefs struct {
	tags   []domain.TagKey
	groups []groupRef
}

func collectRefs(file domain.RemoteFile) itemRefs {
	var refs itemRefs

	seenTags := make(map[domain.TagKey]struct{}, len(file.Tags))
	for _, raw := range file.Tags {
		key := tagparse.Normalize(raw)
		if key.Name == "" {
			continue
		}
		if _, dup := seenTags[key]; dup {
			continue
		}
		seenTags[key] = struct{}{}
		refs.tags = append(refs.tags, key)
	}

	seenGroups := make(map[domain.GroupKey]struct{})
	addGroup := func(key domain.GroupKey, position int) {
		if _, dup := seenGroups[key]; dup {
			return
		}
		seenGroups[key] = struct{}{}
		refs.groups = append(refs.groups, groupRef{key: key, position: position})
	}

	for _, m := range sourceurl.ResolveAll(file.URLs) {
		position := 0
		if m.Position != nil {
			position = *m.Position
		}
		addGroup(m.Key(), position)
	}
	for _, g := range titlegroup.FromTags(file.Tags) {
		addGroup(g.Key(), g.Position)
	}

	return refs
}

// Preparer creates every tag and group a batch references before any item
// of the batch is merged, so concurrent merges only ever read those rows.
type Preparer struct {
	tags      TagStore
	groups    GroupStore
	txManager TransactionManager
	retry     retrier
	logger    *slog.Logger
}

func NewPreparer(tags TagStore, groups GroupStore, txManager TransactionManager, retry retrier, logger *slog.Logger) *Preparer {
	return &Preparer{
		tags:      tags,
		groups:    groups,
		txManager: txManager,
		retry:     retry,
		logger:    logger,
	}
}

func (p *Preparer) Prepare(ctx context.Context, files []domain.RemoteFile) (*LookupMaps, error) {
	tagKeys, groupKeys := distinctKeys(files)

	if err := validateKeys(tagKeys, groupKeys); err != nil {
		return nil, err
	}

	maps := &LookupMaps{
		Tags:   map[domain.TagKey]int64{},
		Groups: map[domain.GroupKey]int64{},
	}
	if len(tagKeys) == 0 && len(groupKeys) == 0 {
		return maps, nil
	}

	_, err := p.retry.do(ctx, func() error {
		return p.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			if len(tagKeys) > 0 {
				if err := p.tags.InsertIgnore(txCtx, tagKeys); err != nil {
					return fmt.Errorf("insert tags: %w", err)
				}
				ids, err := p.tags.LookupIDs(txCtx, tagKeys)
				if err != nil {
					return fmt.Errorf("lookup tags: %w", err)
				}
				maps.Tags = ids
			}

			if len(groupKeys) > 0 {
				if err := p.groups.InsertIgnore(txCtx, groupKeys); err != nil {
					return fmt.Errorf("insert groups: %w", err)
				}
				ids, err := p.groups.LookupIDs(txCtx, groupKeys)
				if err != nil {
					return fmt.Errorf("lookup groups: %w", err)
				}
				maps.Groups = ids
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if missing := len(tagKeys) - len(maps.Tags); missing > 0 {
		p.logger.Warn("tags unresolved after insert", "missing", missing, "requested", len(tagKeys))
	}
	if missing := len(groupKeys) - len(maps.Groups); missing > 0 {
		p.logger.Warn("groups unresolved after insert", "missing", missing, "requested", len(groupKeys))
	}

	return maps, nil
}

// distinctKeys returns the batch's keys sorted, so concurrent batches take
// row locks in the same order.
func distinctKeys(files []domain.RemoteFile) ([]domain.TagKey, []domain.GroupKey) {
	tagSet := make(map[domain.TagKey]struct{})
	groupSet := make(map[domain.GroupKey]struct{})

	for _, f := range files {
		refs := collectRefs(f)
		for _, k := range refs.tags {
			tagSet[k] = struct{}{}
		}
		for _, g := range refs.groups {
			groupSet[g.key] = struct{}{}
		}
	}

	tagKeys := make([]domain.TagKey, 0, len(tagSet))
	for k := range tagSet {
		tagKeys = append(tagKeys, k)
	}
	slices.SortFunc(tagKeys, func(a, b domain.TagKey) int {
		return cmp.Or(cmp.Compare(a.Category, b.Category), cmp.Compare(a.Name, b.Name))
	})

	groupKeys := make([]domain.GroupKey, 0, len(groupSet))
	for k := range groupSet {
		groupKeys = append(groupKeys, k)
	}
	slices.SortFunc(groupKeys, func(a, b domain.GroupKey) int {
		return cmp.Or(cmp.Compare(a.SourceType, b.SourceType), cmp.Compare(a.SourceID, b.SourceID))
	})

	return tagKeys, groupKeys
}

func validateKeys(tagKeys []domain.TagKey, groupKeys []domain.GroupKey) error {
	for _, k := range tagKeys {
		if !k.Category.Valid() {
			return fmt.Errorf("%w: %q for tag %q", domain.ErrInvalidCategory, k.Category, k.Name)
		}
	}
	for _, k := range groupKeys {
		if !k.SourceType.Valid() {
			return fmt.Errorf("%w: %q for group %q", domain.ErrInvalidSourceType, k.SourceType, k.SourceID)
		}
	}
	return nil
}
