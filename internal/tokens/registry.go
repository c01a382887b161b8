package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/rhbot/rhbot/internal/session"
)

// Strategy names a counting strategy in a Profile.
type Strategy string

const (
	StrategyLocal    Strategy = "local"
	StrategyRemote   Strategy = "remote"
	StrategyTemplate Strategy = "template"
)

// Profile describes how to count tokens for one model.
type Profile struct {
	Model       string   `json:"model" yaml:"model"`
	Strategy    Strategy `json:"strategy" yaml:"strategy"`
	Encoding    string   `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	RemoteModel string   `json:"remoteModel,omitempty" yaml:"remoteModel,omitempty"`
	Template    string   `json:"template,omitempty" yaml:"template,omitempty"`
}

// DefaultProfiles returns the built-in model profiles.
func DefaultProfiles() []Profile {
	return []Profile{
		{Model: "openai/gpt-4o", Strategy: StrategyLocal, Encoding: EncodingO200k},
		{Model: "anthropic/claude-3.7-sonnet", Strategy: StrategyRemote, RemoteModel: DefaultRemoteModel},
		{Model: "microsoft/wizardlm-2-8x22b", Strategy: StrategyTemplate, Encoding: EncodingCl100k},
	}
}

// Registry maps model identifiers to counters.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]Counter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]Counter)}
}

// Register adds or replaces the counter for model.
func (r *Registry) Register(model string, c Counter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[model] = c
}

// Lookup returns the counter registered for model.
func (r *Registry) Lookup(model string) (Counter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.counters[model]
	return c, ok
}

// Count counts messages with the counter registered for model.
func (r *Registry) Count(ctx context.Context, messages []session.Turn, model string) (int, error) {
	c, ok := r.Lookup(model)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedModel, model)
	}
	return c.Count(ctx, messages)
}

// Options carries what strategies need beyond their profile.
type Options struct {
	AnthropicAPIKey string
	AnthropicBase   string
	HTTPClient      *http.Client
	Logger          *slog.Logger

	// NewEncoder resolves encoding names; defaults to NewEncoder.
	NewEncoder func(name string) (Encoder, error)
}

// FromProfiles builds a registry from profiles. Encoders are shared
// between profiles naming the same encoding.
func FromProfiles(profiles []Profile, opts Options) (*Registry, error) {
	if opts.NewEncoder == nil {
		opts.NewEncoder = NewEncoder
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	encoders := make(map[string]Encoder)
	encoder := func(name string) (Encoder, error) {
		if enc, ok := encoders[name]; ok {
			return enc, nil
		}
		enc, err := opts.NewEncoder(name)
		if err != nil {
			return nil, err
		}
		encoders[name] = enc
		return enc, nil
	}

	reg := NewRegistry()
	for _, p := range profiles {
		if p.Model == "" {
			return nil, fmt.Errorf("model profile without model id")
		}

		var c Counter
		switch p.Strategy {
		case StrategyLocal:
			enc, err := encoder(orDefault(p.Encoding, EncodingO200k))
			if err != nil {
				return nil, fmt.Errorf("profile %s: %w", p.Model, err)
			}
			c = NewLocalCounter(enc)

		case StrategyRemote:
			ropts := []RemoteOption{WithRemoteModel(orDefault(p.RemoteModel, DefaultRemoteModel))}
			if opts.AnthropicBase != "" {
				ropts = append(ropts, WithBaseURL(opts.AnthropicBase))
			}
			if opts.HTTPClient != nil {
				ropts = append(ropts, WithHTTPClient(opts.HTTPClient))
			}
			if opts.AnthropicAPIKey == "" {
				logger.Warn("no Anthropic API key, remote counts will be zero", "model", p.Model)
			}
			c = NewRemoteCounter(opts.AnthropicAPIKey, ropts...)

		case StrategyTemplate:
			enc, err := encoder(orDefault(p.Encoding, EncodingCl100k))
			if err != nil {
				return nil, fmt.Errorf("profile %s: %w", p.Model, err)
			}
			tc, err := NewTemplateCounter(orDefault(p.Template, VicunaTemplate), enc)
			if err != nil {
				return nil, fmt.Errorf("profile %s: %w", p.Model, err)
			}
			c = tc

		default:
			return nil, fmt.Errorf("profile %s: unknown strategy %q", p.Model, p.Strategy)
		}

		reg.Register(p.Model, c)
		logger.Debug("registered token counter", "model", p.Model, "strategy", p.Strategy)
	}
	return reg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
