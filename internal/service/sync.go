package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"media_syncer/internal/config"
	"media_syncer/internal/domain"
)

// ProgressFunc receives a snapshot on every phase change and chunk boundary.
type ProgressFunc func(domain.Progress)

type SyncService struct {
	source    Source
	posts     PostStore
	tags      TagStore
	groups    GroupStore
	syncState SyncStateStore
	txManager TransactionManager
	publisher Publisher
	preparer  *Preparer
	merger    *Merger
	logger    *slog.Logger
	config    config.SyncConfig
	now       func() time.Time

	wg sync.WaitGroup
}

func NewSyncService(
	source Source,
	posts PostStore,
	tags TagStore,
	groups GroupStore,
	notes NoteStore,
	syncState SyncStateStore,
	txManager TransactionManager,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *SyncService {
	logger = logger.With("source", source.ID())
	retry := newRetrier(cfg.Retries(), cfg.RetryBaseDelay)

	return &SyncService{
		source:    source,
		posts:     posts,
		tags:      tags,
		groups:    groups,
		syncState: syncState,
		txManager: txManager,
		publisher: publisher,
		preparer:  NewPreparer(tags, groups, txManager, retry, logger),
		merger:    NewMerger(posts, tags, groups, notes, txManager, retry, logger),
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
}

// run carries the mutable state of one sync run. Only the orchestrating
// goroutine touches it.
type run struct {
	state    *domain.SyncState
	stats    *domain.SyncStats
	progress ProgressFunc
	started  time.Time
	logger   *slog.Logger
}

// Sync runs a full sync without a progress callback.
func (s *SyncService) Sync(ctx context.Context) (*domain.SyncStats, error) {
	return s.Run(ctx, nil)
}

// Run claims the sync lock and runs a full sync to completion. It fails with
// domain.ErrSyncRunning when another run is in flight.
func (s *SyncService) Run(ctx context.Context, progress ProgressFunc) (*domain.SyncStats, error) {
	state, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, state, progress)
}

// StartAsync claims the sync lock and runs the sync in the background under
// ctx. The returned state is the freshly claimed row.
func (s *SyncService) StartAsync(ctx context.Context, progress ProgressFunc) (*domain.SyncState, error) {
	state, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := *state
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(ctx, state, progress); err != nil {
			s.logger.Error("background sync failed", "run_id", state.RunID, "error", err)
		}
	}()

	return &snapshot, nil
}

// Wait blocks until every background sync started by StartAsync returns.
func (s *SyncService) Wait() {
	s.wg.Wait()
}

func (s *SyncService) Status(ctx context.Context) (*domain.SyncState, error) {
	state, err := s.syncState.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	return state, nil
}

// Cancel asks the running sync to stop at its next batch boundary. It
// reports false when nothing was running.
func (s *SyncService) Cancel(ctx context.Context) (bool, error) {
	cancelled, err := s.syncState.RequestCancel(ctx)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	if cancelled {
		s.logger.Info("sync cancellation requested")
	}
	return cancelled, nil
}

func (s *SyncService) begin(ctx context.Context) (*domain.SyncState, error) {
	state, err := s.syncState.Begin(ctx, uuid.NewString(), s.now().UTC())
	if errors.Is(err, domain.ErrSyncRunning) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("begin sync: %w", err)
	}
	return state, nil
}

func (s *SyncService) execute(ctx context.Context, state *domain.SyncState, progress ProgressFunc) (*domain.SyncStats, error) {
	r := &run{
		state: state,
		stats: &domain.SyncStats{
			RunID:    state.RunID,
			SourceID: s.source.ID(),
		},
		progress: progress,
		started:  s.now(),
		logger:   s.logger.With("run_id", state.RunID),
	}

	r.logger.Info("starting sync",
		"source_name", s.source.Name(),
		"search_tags", s.config.SearchTags,
		"batch_size", s.config.BatchSize,
	)
	s.report(ctx, r)

	ids, err := s.source.ListFileIDs(ctx, s.config.SearchTags)
	if err != nil {
		s.fail(ctx, r, err)
		return r.stats, fmt.Errorf("list files: %w", err)
	}

	r.stats.Listed = len(ids)
	r.state.TotalFiles = len(ids)
	r.state.TotalBatches = (len(ids) + s.config.BatchSize - 1) / s.config.BatchSize
	r.state.Phase = domain.PhaseFetching
	r.logger.Info("listed remote files", "count", len(ids), "batches", r.state.TotalBatches)
	s.report(ctx, r)

	if len(ids) == 0 {
		return s.finish(ctx, r), nil
	}

	seen := make([]string, 0, len(ids))
	for batch := range r.state.TotalBatches {
		if s.cancelRequested(ctx, r) {
			r.stats.Cancelled = true
			r.logger.Info("sync cancelled", "completed_batches", batch)
			break
		}
		if err := ctx.Err(); err != nil {
			s.fail(ctx, r, err)
			return r.stats, err
		}

		start := batch * s.config.BatchSize
		end := min(start+s.config.BatchSize, len(ids))
		r.state.CurrentBatch = batch + 1

		seen = append(seen, s.runBatch(ctx, r, ids[start:end])...)
	}

	if !r.stats.Cancelled {
		s.cleanup(ctx, r, seen, ids)
	}

	return s.finish(ctx, r), nil
}

// runBatch fetches and merges one batch. It returns the hashes the remote
// reported for the batch, even when merging them failed.
func (s *SyncService) runBatch(ctx context.Context, r *run, ids []int64) []string {
	r.state.Phase = domain.PhaseFetching
	s.report(ctx, r)

	files, err := s.source.FetchMetadata(ctx, ids)
	if err != nil {
		r.logger.Warn("batch fetch failed", "batch", r.state.CurrentBatch, "error", err)
		s.recordError(r, fmt.Sprintf("batch %d: fetch metadata: %v", r.state.CurrentBatch, err))
		s.report(ctx, r)
		return nil
	}

	hashes := make([]string, 0, len(files))
	for _, f := range files {
		hashes = append(hashes, strings.ToLower(f.Hash))
	}

	maps, err := s.preparer.Prepare(ctx, files)
	if err != nil {
		r.logger.Warn("batch preparation failed", "batch", r.state.CurrentBatch, "error", err)
		s.recordError(r, fmt.Sprintf("batch %d: prepare lookups: %v", r.state.CurrentBatch, err))
		s.report(ctx, r)
		return hashes
	}

	r.state.Phase = domain.PhaseProcessing
	for start := 0; start < len(files); start += s.config.Concurrency {
		chunk := files[start:min(start+s.config.Concurrency, len(files))]
		s.mergeChunk(ctx, r, chunk, maps)

		r.state.ProcessedFiles += len(chunk)
		r.stats.Processed += len(chunk)
		s.report(ctx, r)
	}

	r.logger.Debug("batch processed",
		"batch", r.state.CurrentBatch,
		"files", len(files),
		"processed", r.state.ProcessedFiles,
	)

	return hashes
}

func (s *SyncService) mergeChunk(ctx context.Context, r *run, chunk []domain.RemoteFile, maps *LookupMaps) {
	results := make([]*MergeResult, len(chunk))
	errs := make([]error, len(chunk))

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i := range chunk {
		g.Go(func() error {
			results[i], errs[i] = s.merger.Merge(ctx, chunk[i], maps)
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if err := errs[i]; err != nil {
			r.logger.Warn("item merge failed",
				"hash", res.Hash,
				"attempts", res.Attempts,
				"error", err,
			)
			s.recordError(r, fmt.Sprintf("%s: %v", res.Hash, err))
			continue
		}

		action := domain.PostUpdated
		if res.Created {
			action = domain.PostCreated
			r.stats.Created++
		} else {
			r.stats.Updated++
		}

		s.publish(ctx, r, domain.PostEvent{
			Action: action,
			PostID: res.PostID,
			Hash:   res.Hash,
			RunID:  r.state.RunID,
		})
	}
}

// cleanup deletes posts missing upstream, then drops tags and groups left
// without posts and refreshes tag counts, all in one transaction.
func (s *SyncService) cleanup(ctx context.Context, r *run, seenHashes []string, listedIDs []int64) {
	r.state.Phase = domain.PhaseCleanup
	s.report(ctx, r)

	var result domain.ReconcileResult
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if !s.config.SkipReconciliation {
			deleted, err := s.posts.DeleteMissing(txCtx, seenHashes, listedIDs)
			if err != nil {
				return fmt.Errorf("delete missing posts: %w", err)
			}
			result.DeletedHashes = deleted
		}

		deletedTags, err := s.tags.DeleteUnused(txCtx)
		if err != nil {
			return fmt.Errorf("delete unused tags: %w", err)
		}
		result.DeletedTags = deletedTags

		deletedGroups, err := s.groups.DeleteUnused(txCtx)
		if err != nil {
			return fmt.Errorf("delete unused groups: %w", err)
		}
		result.DeletedGroups = deletedGroups

		if err := s.tags.RecountPosts(txCtx); err != nil {
			return fmt.Errorf("recount tag posts: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("cleanup failed", "error", err)
		s.recordError(r, fmt.Sprintf("cleanup: %v", err))
		return
	}

	r.state.DeletedPosts = len(result.DeletedHashes)
	r.state.DeletedTags = result.DeletedTags
	r.state.DeletedGroups = result.DeletedGroups
	r.stats.DeletedPosts = r.state.DeletedPosts
	r.stats.DeletedTags = r.state.DeletedTags
	r.stats.DeletedGroups = r.state.DeletedGroups

	for _, hash := range result.DeletedHashes {
		s.publish(ctx, r, domain.PostEvent{
			Action: domain.PostDeleted,
			Hash:   hash,
			RunID:  r.state.RunID,
		})
	}

	r.logger.Info("cleanup finished",
		"deleted_posts", r.state.DeletedPosts,
		"deleted_tags", r.state.DeletedTags,
		"deleted_groups", r.state.DeletedGroups,
	)
}

func (s *SyncService) cancelRequested(ctx context.Context, r *run) bool {
	current, err := s.syncState.Get(ctx)
	if err != nil {
		r.logger.Warn("read sync state", "error", err)
		return false
	}
	return current.Status == domain.StatusCancelled
}

func (s *SyncService) finish(ctx context.Context, r *run) *domain.SyncStats {
	ctx = context.WithoutCancel(ctx)

	now := s.now().UTC()
	r.state.Status = domain.StatusCompleted
	r.state.Phase = domain.PhaseComplete
	r.state.CompletedAt = &now
	s.report(ctx, r)

	r.stats.Duration = s.now().Sub(r.started)

	if s.publisher != nil {
		if err := s.publisher.PublishSyncCompleted(ctx, r.stats); err != nil {
			r.logger.Warn("publish sync completed", "error", err)
		}
	}

	r.logger.Info("sync completed",
		"listed", r.stats.Listed,
		"processed", r.stats.Processed,
		"created", r.stats.Created,
		"updated", r.stats.Updated,
		"errors", len(r.stats.Errors),
		"deleted_posts", r.stats.DeletedPosts,
		"cancelled", r.stats.Cancelled,
		"published", r.stats.Published,
		"duration", r.stats.Duration,
	)

	return r.stats
}

func (s *SyncService) fail(ctx context.Context, r *run, cause error) {
	ctx = context.WithoutCancel(ctx)

	msg := cause.Error()
	now := s.now().UTC()
	r.state.Status = domain.StatusError
	r.state.Phase = domain.PhaseError
	r.state.LastError = &msg
	r.state.CompletedAt = &now
	s.recordError(r, msg)
	s.report(ctx, r)

	r.stats.Duration = s.now().Sub(r.started)
	r.logger.Error("sync failed", "error", cause)
}

func (s *SyncService) recordError(r *run, msg string) {
	r.stats.Errors = append(r.stats.Errors, msg)
}

// report persists the run's progress and hands the same snapshot to the
// progress callback. Persistence failures are logged and the run goes on.
func (s *SyncService) report(ctx context.Context, r *run) {
	r.state.Errors = capErrors(r.stats.Errors, s.config.MaxReportedErrors)

	if err := s.syncState.Update(ctx, r.state, false); err != nil {
		r.logger.Warn("persist sync progress", "error", err)
	}

	if r.progress != nil {
		r.progress(domain.Progress{
			Phase:          r.state.Phase,
			TotalFiles:     r.state.TotalFiles,
			ProcessedFiles: r.state.ProcessedFiles,
			CurrentBatch:   r.state.CurrentBatch,
			TotalBatches:   r.state.TotalBatches,
			Errors:         slices.Clone(r.state.Errors),
		})
	}
}

func (s *SyncService) publish(ctx context.Context, r *run, event domain.PostEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishPost(ctx, event); err != nil {
		r.logger.Warn("publish post event", "hash", event.Hash, "action", event.Action, "error", err)
		return
	}
	r.stats.Published++
}

// capErrors keeps the first limit messages and summarizes the rest.
func capErrors(errs []string, limit int) []string {
	if len(errs) <= limit {
		return slices.Clone(errs)
	}
	capped := slices.Clone(errs[:limit])
	return append(capped, fmt.Sprintf("... and %d more errors", len(errs)-limit))
}
