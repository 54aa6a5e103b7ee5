package domain

import "errors"

// Failure taxonomy surfaced by provisioning and lifecycle operations.
// Adapters translate vendor errors into these at their own boundary so
// orchestration code stays free of runtime and driver vocabulary.
var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrForbidden            = errors.New("forbidden")
	ErrCatalogEntryNotFound = errors.New("catalog entry not found")
	ErrPortExhausted        = errors.New("no available port in range")
	ErrImageNotFound        = errors.New("image not found")
	ErrRuntimeUnavailable   = errors.New("container runtime unavailable")
	ErrNameConflict         = errors.New("workload name conflict")
	ErrPersistenceFailed    = errors.New("persistence failed")
	ErrCredentialIssuance   = errors.New("credential issuance failed")
	ErrInvalidCredential    = errors.New("invalid credential")
)
