package domain

import "time"

type SyncStatus string

const (
	StatusIdle      SyncStatus = "idle"
	StatusRunning   SyncStatus = "running"
	StatusCompleted SyncStatus = "completed"
	StatusError     SyncStatus = "error"
	StatusCancelled SyncStatus = "cancelled"
)

type Phase string

const (
	PhaseSearching  Phase = "searching"
	PhaseFetching   Phase = "fetching"
	PhaseProcessing Phase = "processing"
	PhaseCleanup    Phase = "cleanup"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
)

// SyncState is the singleton row describing the current or last sync run.
type SyncState struct {
	RunID          string     `db:"run_id" json:"runId"`
	Status         SyncStatus `db:"status" json:"status"`
	Phase          Phase      `db:"phase" json:"phase"`
	TotalFiles     int        `db:"total_files" json:"totalFiles"`
	ProcessedFiles int        `db:"processed_files" json:"processedFiles"`
	CurrentBatch   int        `db:"current_batch" json:"currentBatch"`
	TotalBatches   int        `db:"total_batches" json:"totalBatches"`
	Errors         []string   `db:"-" json:"errors"`
	LastError      *string    `db:"last_error" json:"lastError,omitempty"`
	DeletedPosts   int        `db:"deleted_posts" json:"deletedPosts"`
	DeletedTags    int        `db:"deleted_tags" json:"deletedTags"`
	DeletedGroups  int        `db:"deleted_groups" json:"deletedGroups"`
	StartedAt      *time.Time `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

// Progress is reported to callers on every phase change and chunk boundary.
type Progress struct {
	Phase          Phase    `json:"phase"`
	TotalFiles     int      `json:"totalFiles"`
	ProcessedFiles int      `json:"processedFiles"`
	CurrentBatch   int      `json:"currentBatch"`
	TotalBatches   int      `json:"totalBatches"`
	Errors         []string `json:"errors"`
}

// SyncStats holds statistics about a sync operation.
type SyncStats struct {
	RunID         string
	SourceID      string
	Listed        int
	Processed     int
	Created       int
	Updated       int
	Errors        []string
	DeletedPosts  int
	DeletedTags   int
	DeletedGroups int
	Cancelled     bool
	Published     int
	Duration      time.Duration
}

// ReconcileResult holds the deletion counts of one reconciliation pass.
type ReconcileResult struct {
	DeletedHashes []string
	DeletedTags   int
	DeletedGroups int
}
