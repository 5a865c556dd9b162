package domain

type PostAction string

const (
	PostCreated PostAction = "created"
	PostUpdated PostAction = "updated"
	PostDeleted PostAction = "deleted"
)

// PostEvent announces a change to one post. PostID is zero for deletions.
type PostEvent struct {
	Action PostAction `json:"action"`
	PostID int64      `json:"postId,omitempty"`
	Hash   string     `json:"hash"`
	RunID  string     `json:"runId"`
}
