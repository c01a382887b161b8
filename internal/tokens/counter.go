// Package tokens counts the tokens a message list costs for a given model.
package tokens

import (
	"context"
	"errors"

	"github.com/rhbot/rhbot/internal/session"
)

var (
	// ErrCountUnavailable is returned when a counter cannot produce a count.
	// Callers treat it as a count of zero.
	ErrCountUnavailable = errors.New("token count unavailable")

	// ErrUnsupportedModel is returned for a model with no registered profile.
	ErrUnsupportedModel = errors.New("unsupported model")
)

// Counter counts the tokens of an ordered message list.
type Counter interface {
	Count(ctx context.Context, messages []session.Turn) (int, error)
}

// CounterFunc adapts a function to the Counter interface.
type CounterFunc func(ctx context.Context, messages []session.Turn) (int, error)

// Count calls f.
func (f CounterFunc) Count(ctx context.Context, messages []session.Turn) (int, error) {
	return f(ctx, messages)
}
