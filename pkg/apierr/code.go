package apierr

// Code is a machine-readable error code returned in API responses.
type Code string

// Common errors.
const (
	CodeInvalidRequestBody Code = "INVALID_REQUEST_BODY"
	CodeInternalError      Code = "INTERNAL_ERROR"
)

// Sync run errors.
const (
	CodeSyncRunNotFound     Code = "SYNC_RUN_NOT_FOUND"
	CodeInvalidRunID        Code = "INVALID_RUN_ID"
	CodeSyncRunCreateFailed Code = "SYNC_RUN_CREATE_FAILED"
	CodeSyncRunListFailed   Code = "SYNC_RUN_LIST_FAILED"
	CodeSyncAlreadyRunning  Code = "SYNC_ALREADY_RUNNING"
	CodeSyncEnqueueFailed   Code = "SYNC_ENQUEUE_FAILED"
	CodeSyncStatusFailed    Code = "SYNC_STATUS_FAILED"
)

// Stream errors.
const (
	CodeStreamUnavailable  Code = "STREAM_UNAVAILABLE"
	CodeStreamNotFlushable Code = "STREAM_NOT_FLUSHABLE"
)

// Health errors.
const (
	CodeDatabaseNotReady Code = "DATABASE_NOT_READY"
)
