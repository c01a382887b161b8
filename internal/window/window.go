// Package window assembles the bounded message list sent to the model:
// a fresh system turn followed by as much history as fits the token budget.
package window

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rhbot/rhbot/internal/session"
	"github.com/rhbot/rhbot/internal/tokens"
)

// DefaultBudget is the token budget used when none is configured.
const DefaultBudget = 16000

// Counter counts a message list for a model. *tokens.Registry satisfies it.
type Counter interface {
	Count(ctx context.Context, messages []session.Turn, model string) (int, error)
}

// Result is the outcome of a Build.
type Result struct {
	// Trimmed is the history that survived eviction, a suffix of the input.
	Trimmed []session.Turn
	// Messages is the system turn followed by Trimmed.
	Messages []session.Turn
	// Tokens is the last count observed (zero when counting was unavailable).
	Tokens int
	// Evicted is the number of history turns dropped.
	Evicted int
}

// Builder trims history to a token budget.
type Builder struct {
	counter Counter
	logger  *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(counter Counter, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{counter: counter, logger: logger.With("component", "window")}
}

// Build prepends systemPrompt to history and evicts the oldest history
// turns one at a time until the window counts at most budget tokens or
// history is exhausted. The system turn is never evicted, so a window with
// an oversized system prompt is still returned.
//
// A count that fails with tokens.ErrCountUnavailable is logged and treated
// as zero. Any other counting error is returned.
func (b *Builder) Build(ctx context.Context, systemPrompt string, history []session.Turn, model string, budget int) (Result, error) {
	if budget <= 0 {
		budget = DefaultBudget
	}

	system := session.Turn{Role: session.RoleSystem, Content: systemPrompt}
	working := history
	evicted := 0

	for {
		messages := assemble(system, working)
		n, err := b.count(ctx, messages, model)
		if err != nil {
			return Result{}, err
		}

		if n <= budget || len(working) == 0 {
			if n > budget {
				b.logger.Warn("system prompt alone exceeds budget", "model", model, "tokens", n, "budget", budget)
			}
			if evicted > 0 {
				b.logger.Debug("trimmed history", "model", model, "evicted", evicted, "kept", len(working), "tokens", n)
			}
			return Result{
				Trimmed:  append([]session.Turn(nil), working...),
				Messages: messages,
				Tokens:   n,
				Evicted:  evicted,
			}, nil
		}

		working = working[1:]
		evicted++
	}
}

func (b *Builder) count(ctx context.Context, messages []session.Turn, model string) (int, error) {
	n, err := b.counter.Count(ctx, messages, model)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, tokens.ErrCountUnavailable) {
		b.logger.Error("token count unavailable, assuming zero", "model", model, "error", err)
		return 0, nil
	}
	return 0, err
}

func assemble(system session.Turn, history []session.Turn) []session.Turn {
	messages := make([]session.Turn, 0, len(history)+1)
	messages = append(messages, system)
	return append(messages, history...)
}
