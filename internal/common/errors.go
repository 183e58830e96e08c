// Package common defines shared constants and sentinel errors used across
// the SSJBox server layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorInvalidInput = errors.New("invalid input")

	// Account lifecycle errors.
	ErrorAccountPending  = errors.New("account pending approval")
	ErrorAccountDisabled = errors.New("account disabled")
	ErrorAlreadyExists   = errors.New("already exists")

	// Session lifecycle errors.
	ErrorSessionExpired = errors.New("session expired")
	ErrorInvalidToken   = errors.New("invalid token")

	// Encryption errors. Decryption always fails closed with this value.
	ErrorDecryptFailed = errors.New("decryption failed")
)
