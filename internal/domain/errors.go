package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation signals a malformed or incomplete request.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized signals a rejected bearer credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrProviderUnavailable signals a failed or unreachable external provider.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// ProviderError wraps ErrProviderUnavailable with the provider name and the
// upstream status code (0 when the failure happened before any response).
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s failed with status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return ErrProviderUnavailable }

// NewProviderError creates a provider error.
func NewProviderError(provider string, status int, err error) error {
	return &ProviderError{Provider: provider, Status: status, Err: err}
}
