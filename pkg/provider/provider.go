package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/vocalis/vocalis/internal/config"
)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultEventBuffer    = 256
)

// SessionParams primes a new provider model session.
type SessionParams struct {
	Model              string
	Instructions       string
	Tools              []ToolDecl
	Voice              string
	TranscriptionModel string
}

// Provider dials realtime model sessions for one configured endpoint.
type Provider interface {
	// Name identifies the provider profile for logs and metrics.
	Name() string

	// Connect establishes a duplex model session. The returned Conn is
	// exclusively owned by one session orchestrator.
	Connect(ctx context.Context, params SessionParams) (Conn, error)
}

// Conn is one live duplex model session.
//
// Events yields the ordered inbound event sequence. The channel is bounded:
// a consumer that falls too far behind fails the connection with an overflow
// error rather than growing memory. The channel closes when the connection
// ends; Err reports the terminal error, nil on clean close.
type Conn interface {
	Send(ctx context.Context, out Outbound) error
	Events() <-chan Event
	Close() error
	Err() error
}

// Options tunes adapter behavior shared across providers.
type Options struct {
	EventBuffer    int
	ConnectTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	return o
}

// New builds a Provider from a configured profile. Provider identity is a
// closed set selected by configuration.
func New(profile config.ProviderProfile, opts Options) (Provider, error) {
	opts = opts.withDefaults()

	switch profile.Kind {
	case "azure_openai":
		return newAzureProvider(profile, opts), nil
	case "ai_foundry":
		return newFoundryProvider(profile, opts), nil
	default:
		return nil, fmt.Errorf("unknown provider kind: %s", profile.Kind)
	}
}
