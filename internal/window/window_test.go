package window

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhbot/rhbot/internal/session"
	"github.com/rhbot/rhbot/internal/tokens"
)

// fixedCounter charges sys tokens for the system turn and per tokens for
// every other turn.
type fixedCounter struct {
	sys, per int
	calls    int
}

func (c *fixedCounter) Count(_ context.Context, msgs []session.Turn, _ string) (int, error) {
	c.calls++
	n := 0
	for _, m := range msgs {
		if m.Role == session.RoleSystem {
			n += c.sys
		} else {
			n += c.per
		}
	}
	return n, nil
}

func makeHistory(n int) []session.Turn {
	h := make([]session.Turn, n)
	for i := range h {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		h[i] = session.Turn{Role: role, Content: fmt.Sprintf("turn %d", i)}
	}
	return h
}

func TestBuildEvictsOldestUntilUnderBudget(t *testing.T) {
	b := NewBuilder(&fixedCounter{sys: 200, per: 500}, nil)
	history := makeHistory(10)

	res, err := b.Build(context.Background(), "system", history, "m", 1000)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	// 200 + 1*500 <= 1000 < 200 + 2*500
	if len(res.Trimmed) != 1 {
		t.Fatalf("len(Trimmed) = %d, want 1", len(res.Trimmed))
	}
	if res.Evicted != 9 {
		t.Errorf("Evicted = %d, want 9", res.Evicted)
	}
	if res.Tokens != 700 {
		t.Errorf("Tokens = %d, want 700", res.Tokens)
	}
	if res.Trimmed[0].Content != "turn 9" {
		t.Errorf("kept turn = %q, want %q", res.Trimmed[0].Content, "turn 9")
	}
	if !session.Suffix(history, res.Trimmed) {
		t.Error("Trimmed is not a suffix of history")
	}
}

func TestBuildSystemTurnFirst(t *testing.T) {
	b := NewBuilder(&fixedCounter{sys: 1, per: 1}, nil)
	res, _ := b.Build(context.Background(), "be nice", makeHistory(3), "m", 100)

	if len(res.Messages) != 4 {
		t.Fatalf("len(Messages) = %d, want 4", len(res.Messages))
	}
	if res.Messages[0].Role != session.RoleSystem || res.Messages[0].Content != "be nice" {
		t.Errorf("Messages[0] = %+v", res.Messages[0])
	}
	if res.Evicted != 0 {
		t.Errorf("Evicted = %d, want 0", res.Evicted)
	}
}

func TestBuildTerminationProperty(t *testing.T) {
	for _, budget := range []int{1, 50, 250, 999, 5000} {
		for _, size := range []int{0, 1, 7, 40} {
			counter := &fixedCounter{sys: 100, per: 37}
			history := makeHistory(size)

			res, err := NewBuilder(counter, nil).Build(context.Background(), "s", history, "m", budget)
			if err != nil {
				t.Fatalf("Build() error: %v", err)
			}
			if res.Tokens > budget && len(res.Trimmed) != 0 {
				t.Errorf("budget=%d size=%d: tokens %d over budget with %d turns left", budget, size, res.Tokens, len(res.Trimmed))
			}
			if !session.Suffix(history, res.Trimmed) {
				t.Errorf("budget=%d size=%d: trimmed is not a suffix", budget, size)
			}
			if counter.calls != res.Evicted+1 {
				t.Errorf("budget=%d size=%d: calls = %d, want %d", budget, size, counter.calls, res.Evicted+1)
			}
		}
	}
}

func TestBuildOversizedSystemPrompt(t *testing.T) {
	b := NewBuilder(&fixedCounter{sys: 5000, per: 10}, nil)
	res, err := b.Build(context.Background(), "huge", makeHistory(4), "m", 1000)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(res.Trimmed) != 0 {
		t.Errorf("len(Trimmed) = %d, want 0", len(res.Trimmed))
	}
	if len(res.Messages) != 1 || res.Messages[0].Role != session.RoleSystem {
		t.Errorf("Messages = %+v, want system turn only", res.Messages)
	}
}

func TestBuildDoesNotMutateHistory(t *testing.T) {
	history := makeHistory(5)
	b := NewBuilder(&fixedCounter{sys: 0, per: 10}, nil)
	b.Build(context.Background(), "s", history, "m", 20)

	if len(history) != 5 || history[0].Content != "turn 0" {
		t.Errorf("history mutated: %+v", history)
	}
}

func TestBuildCountUnavailableIsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	reg := tokens.NewRegistry()
	reg.Register("anthropic/claude-3.7-sonnet", tokens.NewRemoteCounter("sk-test", tokens.WithBaseURL(srv.URL)))

	history := makeHistory(6)
	res, err := NewBuilder(reg, nil).Build(context.Background(), "s", history, "anthropic/claude-3.7-sonnet", 1)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if res.Evicted != 0 {
		t.Errorf("Evicted = %d, want 0", res.Evicted)
	}
	if len(res.Trimmed) != 6 {
		t.Errorf("len(Trimmed) = %d, want 6", len(res.Trimmed))
	}
	if res.Tokens != 0 {
		t.Errorf("Tokens = %d, want 0", res.Tokens)
	}
}

func TestBuildUnsupportedModel(t *testing.T) {
	_, err := NewBuilder(tokens.NewRegistry(), nil).Build(context.Background(), "s", makeHistory(2), "nope", 100)
	if !errors.Is(err, tokens.ErrUnsupportedModel) {
		t.Errorf("Build() error = %v, want ErrUnsupportedModel", err)
	}
}

func TestBuildDefaultBudget(t *testing.T) {
	b := NewBuilder(&fixedCounter{sys: 0, per: 1000}, nil)
	res, _ := b.Build(context.Background(), "s", makeHistory(20), "m", 0)
	if len(res.Trimmed) != DefaultBudget/1000 {
		t.Errorf("len(Trimmed) = %d, want %d", len(res.Trimmed), DefaultBudget/1000)
	}
}
