package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks a malformed query; no retrieval is attempted.
	ErrInvalidInput      = errors.New("invalid input")
	ErrSourceUnavailable = errors.New("evidence source unavailable")
	ErrSourceTimeout     = errors.New("evidence source timeout")
	ErrAllSourcesFailed  = errors.New("all evidence sources failed")
	ErrJudgeUnavailable  = errors.New("relevance judge unavailable")
	ErrMisconfigured     = errors.New("engine misconfigured")
	ErrTemporary         = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
