// Package errors provides the structured error type returned across the storage
// boundary. Every error carries a machine-readable code, a retryable flag and
// enough context (operation, object or session id, backend) for diagnosis.
package errors
