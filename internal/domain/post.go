package domain

import "time"

type Post struct {
	ID            int64     `db:"id"`
	Hash          string    `db:"hash"`
	FileID        int64     `db:"file_id"`
	Mime          string    `db:"mime"`
	Width         int       `db:"width"`
	Height        int       `db:"height"`
	Duration      int       `db:"duration"` // milliseconds
	Size          int64     `db:"size"`
	PHash         *string   `db:"phash"`
	FilePath      string    `db:"file_path"`
	ThumbnailPath string    `db:"thumbnail_path"`
	SourceURLs    []string  `db:"-"`
	ImportedAt    time.Time `db:"imported_at"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

type Note struct {
	PostID      int64  `db:"post_id"`
	Name        string `db:"name"`
	Content     string `db:"content"`
	ContentHash string `db:"content_hash"`
}

// PostGroup links a post to a group at a page/part position.
type PostGroup struct {
	GroupID  int64
	Position int
}

// RemoteFile is one file as reported by the remote catalog, already reduced
// to defaults where the remote omitted or mistyped a field.
type RemoteFile struct {
	FileID   int64
	Hash     string
	Mime     string
	Width    int
	Height   int
	Duration int
	Size     int64
	PHash    *string
	Tags     []string
	URLs     []string
	Services []ServiceImport
	Notes    []RemoteNote
}

// ServiceImport records when a file entered one remote service. Order
// follows the remote response.
type ServiceImport struct {
	ServiceKey string
	ImportedAt *time.Time
}

type RemoteNote struct {
	Name string
	Text string
}

// ImportedAt returns the import time of the first service that carries one.
func (f RemoteFile) ImportedAt() (time.Time, bool) {
	for _, svc := range f.Services {
		if svc.ImportedAt != nil {
			return *svc.ImportedAt, true
		}
	}
	return time.Time{}, false
}
