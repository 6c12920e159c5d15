package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCatalogFetchFailed = errors.New("catalog fetch failed")
	ErrInvalidSelection   = errors.New("invalid selection")
	ErrVerificationFailed = errors.New("verification failed")
	ErrNotVerified        = errors.New("build is not verified")
	ErrNoDraft            = errors.New("no draft saved")
	ErrUnknownCategory    = errors.New("unknown category")
	ErrSessionNotFound    = errors.New("session not found")
	ErrBuildNotFound      = errors.New("build not found")
)

// UpstreamError is an error response from the catalog service.
type UpstreamError struct {
	Status  int
	Message string
	Errors  []string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("catalog error (%d)", e.Status)
	}
	return fmt.Sprintf("catalog error (%d): %s", e.Status, e.Message)
}

// Messages returns the user-facing messages carried by the error.
func (e *UpstreamError) Messages() []string {
	if len(e.Errors) > 0 {
		return append([]string(nil), e.Errors...)
	}
	if e.Message != "" {
		return []string{e.Message}
	}
	return nil
}
