package domain

import "errors"

// Usage errors, reported before any distributed work starts
var (
	// ErrUsage indicates malformed command line arguments
	ErrUsage = errors.New("usage error")

	// ErrInvalidRule indicates a malformed classification expression
	ErrInvalidRule = errors.New("invalid rule expression")

	// ErrNotDirectory indicates expected a directory but got a file
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotFound indicates the requested path does not exist
	ErrNotFound = errors.New("resource not found")
)

// Run errors, fatal for the whole job
var (
	// ErrAborted is returned by every rank once the job has been aborted
	ErrAborted = errors.New("job aborted")

	// ErrContentIO indicates a read or write failure during content comparison
	ErrContentIO = errors.New("content I/O failure")

	// ErrSyncFailed indicates a copy or unlink primitive failed
	ErrSyncFailed = errors.New("sync failed")

	// ErrInconsistentState indicates the comparison stores violate their invariants
	ErrInconsistentState = errors.New("inconsistent comparison state")

	// ErrSyncInProgress indicates another sync holds the destination lock
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Serialization and config errors
var (
	// ErrCacheCorrupt indicates a list cache file failed validation
	ErrCacheCorrupt = errors.New("corrupt list cache")

	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")
)
