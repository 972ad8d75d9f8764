package models

import "errors"

// Error kinds shared by every layer. Callers classify with errors.Is.
var (
	ErrValidation        = errors.New("invalid request")
	ErrNamespaceNotFound = errors.New("namespace not found")
	ErrEmbedding         = errors.New("embedding failed")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrStorageCorruption = errors.New("storage corrupted")
	ErrGeneration        = errors.New("generation failed")

	// ErrInputTooLong is returned by embedders running the reject policy.
	// It is always wrapped together with ErrEmbedding.
	ErrInputTooLong = errors.New("input exceeds embedding limit")
)
