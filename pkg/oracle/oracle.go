// Package oracle is the narrow boundary to the natural-language judgment
// service consulted by evaluators. A Client turns one prompt into free text or
// a typed failure; callers never see a panic from this package.
package oracle

import (
	"context"
	"errors"
	"fmt"
)

// Client is a judgment oracle.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Client.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ErrEmptyResponse is returned when the oracle answers without any text.
var ErrEmptyResponse = errors.New("oracle: empty response")

// Kind classifies an oracle failure.
type Kind string

const (
	KindTransport       Kind = "transport"
	KindStatus          Kind = "status"
	KindInvalidResponse Kind = "invalid_response"
	KindRateLimited     Kind = "rate_limited"
)

// Error is the typed failure returned by every Client in this package.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("oracle %s (%d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("oracle %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of an oracle failure, or "" if err is not one.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}
