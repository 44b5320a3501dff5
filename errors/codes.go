package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Caller errors. Never retried.
const (
	// ErrCodeInvalidInput indicates malformed caller arguments.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeNotFound indicates the referenced object does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Multipart protocol violations. The caller must re-initiate the upload.
const (
	// ErrCodeSessionNotFound indicates an unknown, expired or already finalized upload session.
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	// ErrCodeIncompleteUpload indicates a completion request whose parts do not match the session.
	ErrCodeIncompleteUpload ErrorCode = "INCOMPLETE_UPLOAD"
)

// Backend errors
const (
	// ErrCodeBackendUnavailable indicates a transport, authentication or provider-side failure.
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	// ErrCodeBackendNotImplemented indicates the configured backend has no implementation.
	ErrCodeBackendNotImplemented ErrorCode = "BACKEND_NOT_IMPLEMENTED"
	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeBackendUnavailable: true,
}

// IsRetryableCode returns true if the caller may retry an operation that failed with code.
// The storage layer itself never retries.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
