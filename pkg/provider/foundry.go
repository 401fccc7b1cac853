package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vocalis/vocalis/internal/config"
)

// foundryProvider dials AI Foundry voice-live sessions. Same event protocol
// as Azure OpenAI realtime, different endpoint path and auth header.
type foundryProvider struct {
	profile config.ProviderProfile
	opts    Options
}

func newFoundryProvider(profile config.ProviderProfile, opts Options) *foundryProvider {
	return &foundryProvider{profile: profile, opts: opts}
}

func (p *foundryProvider) Name() string {
	return p.profile.ID
}

func (p *foundryProvider) Connect(ctx context.Context, params SessionParams) (Conn, error) {
	base, err := wsBase(p.profile.Endpoint)
	if err != nil {
		return nil, err
	}
	base.Path = joinPath(base.Path, "voice-live/realtime")

	q := url.Values{}
	q.Set("model", params.Model)
	if p.profile.APIVersion != "" {
		q.Set("api-version", p.profile.APIVersion)
	}
	base.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.profile.APIKey)

	conn, err := dialRealtime(ctx, base.String(), header, p.opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	c := newWSConn(p.profile.ID, conn, p.opts.EventBuffer)
	if err := c.sendSessionUpdate(sessionPayload(params)); err != nil {
		_ = c.Close()
		return nil, NewError(ErrKindConnection, "failed to prime session", err)
	}

	log.Info().Str("provider", p.profile.ID).Str("model", params.Model).
		Msg("AI Foundry voice-live session established")
	return c, nil
}

// dialRealtime opens the provider websocket with a bounded handshake.
func dialRealtime(ctx context.Context, wsURL string, header http.Header, timeout time.Duration) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, NewError(ErrKindConnection,
				fmt.Sprintf("dial rejected with status %d", resp.StatusCode), err)
		}
		return nil, NewError(ErrKindConnection, "dial failed", err)
	}
	return conn, nil
}

// wsBase parses a configured endpoint and flips it to a websocket scheme.
func wsBase(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid provider endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("invalid provider endpoint scheme %q", u.Scheme)
	}
	return u, nil
}

func joinPath(base, suffix string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(suffix, "/")
}
