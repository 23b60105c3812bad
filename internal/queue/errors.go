package queue

import "errors"

var (
	ErrEmptyLabel     = errors.New("scan label is empty")
	ErrDuplicateLabel = errors.New("scan label already queued")
	ErrNotFound       = errors.New("scan not found")
	// ErrStatusRegression is returned when SetStatus would move an item
	// backwards; use Reset instead.
	ErrStatusRegression = errors.New("status cannot move backwards")
	ErrUnknownStatus    = errors.New("unknown status")
	ErrNotQueued        = errors.New("only queued scans can be edited")

	ErrEmptyPositionName = errors.New("position name is empty")
	ErrPositionNotFound  = errors.New("saved position not found")
)
