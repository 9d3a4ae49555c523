package apierr

import "net/http"

// --- Common ---

func InvalidRequestBody() *Error {
	return New(CodeInvalidRequestBody, http.StatusBadRequest, "Invalid request body")
}

func InternalError(cause error) *Error {
	return Wrap(CodeInternalError, http.StatusInternalServerError, "Internal server error", cause)
}

// --- Sync run ---

func SyncRunNotFound() *Error {
	return New(CodeSyncRunNotFound, http.StatusNotFound, "Sync run not found")
}

func InvalidRunID() *Error {
	return New(CodeInvalidRunID, http.StatusBadRequest, "Invalid run ID")
}

func SyncRunCreateFailed(cause error) *Error {
	return Wrap(CodeSyncRunCreateFailed, http.StatusInternalServerError, "Failed to create sync run", cause)
}

func SyncRunListFailed(cause error) *Error {
	return Wrap(CodeSyncRunListFailed, http.StatusInternalServerError, "Failed to list sync runs", cause)
}

func SyncAlreadyRunning() *Error {
	return New(CodeSyncAlreadyRunning, http.StatusConflict, "A sync is already in progress")
}

func SyncEnqueueFailed(cause error) *Error {
	return Wrap(CodeSyncEnqueueFailed, http.StatusInternalServerError, "Failed to enqueue sync job", cause)
}

func SyncStatusFailed(cause error) *Error {
	return Wrap(CodeSyncStatusFailed, http.StatusInternalServerError, "Failed to load sync status", cause)
}

// --- Stream ---

func StreamUnavailable(cause error) *Error {
	return Wrap(CodeStreamUnavailable, http.StatusServiceUnavailable, "Event stream unavailable", cause)
}

func StreamNotFlushable() *Error {
	return New(CodeStreamNotFlushable, http.StatusInternalServerError, "Streaming not supported by this connection")
}

// --- Health ---

func DatabaseNotReady() *Error {
	return New(CodeDatabaseNotReady, http.StatusServiceUnavailable, "Database not ready")
}
