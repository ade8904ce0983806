package main

import (
	"errors"
	"fmt"
)

// Adapter-level failures. They are absorbed at stage boundaries and only
// shrink the surviving council.
var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderTimeout     = errors.New("provider timeout")
	ErrProviderRefused     = errors.New("provider refused request")
)

// Fatal turn failures.
var (
	ErrInsufficientCouncil = errors.New("insufficient council")
	ErrChairmanUnavailable = errors.New("chairman unavailable")
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMalformedRanking     = errors.New("malformed ranking")
)

// ProviderError records which model failed and how.
type ProviderError struct {
	Model string
	Kind  error
	Err   error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Model, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Model, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func providerError(model string, kind, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Model: model, Kind: kind, Err: err}
}

// IsFatal reports whether err ends a turn in the failed state.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInsufficientCouncil) || errors.Is(err, ErrChairmanUnavailable)
}
