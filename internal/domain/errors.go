package domain

import "errors"

var (
	ErrSyncRunning       = errors.New("sync already running")
	ErrInvalidCategory   = errors.New("invalid tag category")
	ErrInvalidSourceType = errors.New("invalid source type")
)
