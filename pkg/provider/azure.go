package provider

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/vocalis/vocalis/internal/config"
)

// azureProvider dials Azure OpenAI realtime sessions.
type azureProvider struct {
	profile config.ProviderProfile
	opts    Options
}

func newAzureProvider(profile config.ProviderProfile, opts Options) *azureProvider {
	return &azureProvider{profile: profile, opts: opts}
}

func (p *azureProvider) Name() string {
	return p.profile.ID
}

func (p *azureProvider) Connect(ctx context.Context, params SessionParams) (Conn, error) {
	wsURL, err := p.sessionURL(params.Model)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("api-key", p.profile.APIKey)

	conn, err := dialRealtime(ctx, wsURL, header, p.opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	c := newWSConn(p.profile.ID, conn, p.opts.EventBuffer)
	if err := c.sendSessionUpdate(sessionPayload(params)); err != nil {
		_ = c.Close()
		return nil, NewError(ErrKindConnection, "failed to prime session", err)
	}

	log.Info().Str("provider", p.profile.ID).Str("model", params.Model).
		Msg("Azure OpenAI realtime session established")
	return c, nil
}

// sessionURL builds the realtime endpoint. A configured deployment selects
// the deployment-scoped path; otherwise the v1 model-query path is used.
func (p *azureProvider) sessionURL(model string) (string, error) {
	base, err := wsBase(p.profile.Endpoint)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	if p.profile.Deployment != "" {
		base.Path = joinPath(base.Path, "openai/realtime")
		q.Set("api-version", p.profile.APIVersion)
		q.Set("deployment", p.profile.Deployment)
	} else {
		base.Path = joinPath(base.Path, "openai/v1/realtime")
		q.Set("model", model)
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}
