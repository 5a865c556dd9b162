package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"media_syncer/internal/domain"
)

type SyncStateStore struct {
	db *sqlx.DB
}

func NewSyncStateStore(db *sqlx.DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

type syncStateRow struct {
	domain.SyncState
	Errors pq.StringArray `db:"errors"`
}

const selectSyncState = `
	SELECT run_id, status, phase, total_files, processed_files, current_batch,
	       total_batches, errors, last_error, deleted_posts, deleted_tags,
	       deleted_groups, started_at, completed_at, updated_at
	FROM sync_state
	WHERE id = 1`

func (s *SyncStateStore) Get(ctx context.Context) (*domain.SyncState, error) {
	var row syncStateRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, selectSyncState)
	if errors.Is(err, sql.ErrNoRows) {
		// No sync has ever run
		return &domain.SyncState{Status: domain.StatusIdle}, nil
	}
	if err != nil {
		return nil, err
	}

	state := row.SyncState
	state.Errors = row.Errors
	return &state, nil
}

// Begin claims the singleton row for a new run. It fails with
// domain.ErrSyncRunning, leaving the row untouched, when a run is in
// flight. The read-check-write holds a row lock so concurrent starts from
// any process are serialized.
func (s *SyncStateStore) Begin(ctx context.Context, runID string, now time.Time) (*domain.SyncState, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT INTO sync_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING"); err != nil {
		return nil, fmt.Errorf("ensure sync state row: %w", err)
	}

	var status domain.SyncStatus
	if err := tx.GetContext(ctx, &status, "SELECT status FROM sync_state WHERE id = 1 FOR UPDATE"); err != nil {
		return nil, fmt.Errorf("lock sync state: %w", err)
	}
	if status == domain.StatusRunning {
		return nil, domain.ErrSyncRunning
	}

	started := now
	state := &domain.SyncState{
		RunID:     runID,
		Status:    domain.StatusRunning,
		Phase:     domain.PhaseSearching,
		Errors:    []string{},
		StartedAt: &started,
		UpdatedAt: now,
	}

	// the fresh run replaces a stale cancelled status, so this write is forced
	txCtx := context.WithValue(ctx, txKey, tx)
	if err := s.Update(txCtx, state, true); err != nil {
		return nil, fmt.Errorf("claim sync state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return state, nil
}

// Update writes the run's progress. A persisted cancelled status is never
// replaced by running unless force is set, so a cancel request that lands
// between two progress writes survives. Only Begin forces.
func (s *SyncStateStore) Update(ctx context.Context, state *domain.SyncState, force bool) error {
	query := `
		UPDATE sync_state SET
			status = CASE
				WHEN sync_state.status = 'cancelled' AND $1::text = 'running' AND NOT $2::boolean
				THEN sync_state.status
				ELSE $1::text
			END,
			phase = $3,
			total_files = $4,
			processed_files = $5,
			current_batch = $6,
			total_batches = $7,
			errors = $8,
			last_error = $9,
			deleted_posts = $10,
			deleted_tags = $11,
			deleted_groups = $12,
			completed_at = $13,
			run_id = $14,
			started_at = COALESCE($15, sync_state.started_at),
			updated_at = NOW()
		WHERE id = 1`

	errs := state.Errors
	if errs == nil {
		errs = []string{}
	}

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		string(state.Status),
		force,
		string(state.Phase),
		state.TotalFiles,
		state.ProcessedFiles,
		state.CurrentBatch,
		state.TotalBatches,
		pq.Array(errs),
		state.LastError,
		state.DeletedPosts,
		state.DeletedTags,
		state.DeletedGroups,
		state.CompletedAt,
		state.RunID,
		state.StartedAt,
	)
	return err
}

// RequestCancel flags a running sync as cancelled. It reports false when no
// sync was running.
func (s *SyncStateStore) RequestCancel(ctx context.Context) (bool, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE sync_state
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = 1 AND status = 'running'`)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
