package model

import "errors"

var (
	ErrNotFound            = errors.New("data not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrDuplicateObject     = errors.New("duplicate object")
	ErrOverlappingAutoscan = errors.New("overlapping autoscan")
	ErrDatabaseFailure     = errors.New("database failure")
	ErrSourceUnavailable   = errors.New("source unavailable")
	ErrTimeout             = errors.New("timeout")
	ErrCancelled           = errors.New("cancelled")
)
