package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/hybridflow/hybridflow/kv"
)

// Provider performs the client side of the hybrid flow against a provider
// realm: it builds login and logout URLs, exchanges authorization codes and
// refreshes tokens.  It is concurrently safe.
type Provider struct {
	config   *Config
	requests *RequestStore
	client   *http.Client
	logger   hclog.Logger

	// refreshes collapses concurrent refreshes into one request.
	refreshes singleflight.Group
}

// refreshTimeout bounds a shared refresh, which no single caller's context
// can cancel.
const refreshTimeout = time.Minute

// NewProvider creates a Provider.  Pending authentication requests are kept
// in the pending store, which should be scoped to a single user agent.
// Supported options:
//   - WithLogger
//   - WithHTTPClient
//   - WithRequestKey
func NewProvider(c *Config, pending kv.Store, opt ...Option) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if pending == nil {
		return nil, fmt.Errorf("%s: pending request store is nil: %w", op, ErrNilParameter)
	}
	opts := getProviderOpts(opt...)

	requests, err := NewRequestStore(pending, WithRequestKey(opts.withRequestKey))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client := opts.withHTTPClient
	if client == nil {
		if client, err = c.HTTPClient(); err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}
	return &Provider{
		config:   c,
		requests: requests,
		client:   client,
		logger:   opts.withLogger.Named("provider"),
	}, nil
}

// Config returns the provider's configuration.
func (p *Provider) Config() *Config { return p.config }

// Requests returns the store of pending authentication requests.
func (p *Provider) Requests() *RequestStore { return p.requests }

// TakeRequest reads and removes the pending authentication request.
func (p *Provider) TakeRequest(ctx context.Context) (*Request, error) {
	return p.requests.Take(ctx)
}

// LoginURL creates and persists a new pending Request (overwriting any prior
// one) and returns the authorization endpoint URL that starts the flow.  An
// empty responseType uses the Config's ResponseType.
func (p *Provider) LoginURL(ctx context.Context, redirectURL, responseType string) (string, error) {
	const op = "Provider.LoginURL"
	if redirectURL == "" {
		return "", fmt.Errorf("%s: redirect url is empty: %w", op, ErrInvalidParameter)
	}
	if responseType == "" {
		responseType = p.config.ResponseType
	}
	req, err := NewRequest(redirectURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := p.requests.Save(ctx, req); err != nil {
		return "", fmt.Errorf("%s: unable to save pending request: %w", op, err)
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(req.Nonce),
		oauth2.SetAuthURLParam("response_mode", "fragment"),
		oauth2.SetAuthURLParam("response_type", responseType),
	}
	return p.oauth2Config(redirectURL).AuthCodeURL(req.State, authCodeOpts...), nil
}

// LogoutURL returns the logout endpoint URL which redirects to redirectURL
// once the provider session has ended.  Spaces in redirectURL are encoded as
// %20.
func (p *Provider) LogoutURL(redirectURL string) string {
	return p.config.Endpoints().Logout + "?redirect_uri=" + strings.ReplaceAll(url.QueryEscape(redirectURL), "+", "%20")
}

// Exchange trades an authorization code for tokens and installs them in
// tokens.  When the Config checks nonces, every returned token must carry
// the given nonce; otherwise nothing is installed, tokens is cleared and the
// error matches ErrInvalidNonce.  If tokens changed while the request was in
// flight the result is discarded and the error matches ErrStaleGeneration.
func (p *Provider) Exchange(ctx context.Context, tokens *TokenSet, code, redirectURL, nonce string) (*TokenResponse, error) {
	const op = "Provider.Exchange"
	switch {
	case tokens == nil:
		return nil, fmt.Errorf("%s: token set is nil: %w", op, ErrNilParameter)
	case code == "":
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	gen := tokens.Generation()

	oauth2Token, err := p.oauth2Config(redirectURL).Exchange(HttpClientContext(ctx, p.client), code)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %s: %w", op, err, ErrExchangeFailed)
	}
	resp := newTokenResponse(oauth2Token)
	if p.config.CheckNonce {
		if err := verifyNonce(resp, nonce); err != nil {
			if errors.Is(err, ErrInvalidNonce) && !tokens.ClearAt(gen) {
				p.logger.Debug("tokens changed during exchange, not cleared")
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := tokens.SetAt(gen, string(resp.AccessToken), string(resp.RefreshToken), string(resp.IDToken)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.logger.Debug("authorization code exchanged", "expiry", resp.Expiry, "refresh_expires_in", resp.RefreshExpiresIn)
	return resp, nil
}

// Refresh uses the installed refresh token to obtain new tokens and installs
// them.  Concurrent calls share one request.  A failure is returned as a
// *RefreshError: a 400 from the provider means the refresh token is no
// longer valid and tokens is cleared, any other failure leaves tokens as
// they were.
//
// The shared request is detached from ctx: a caller whose ctx ends gets
// ctx's error, while the request completes for the others.
func (p *Provider) Refresh(ctx context.Context, tokens *TokenSet) (*TokenResponse, error) {
	const op = "Provider.Refresh"
	if tokens == nil {
		return nil, fmt.Errorf("%s: token set is nil: %w", op, ErrNilParameter)
	}
	ch := p.refreshes.DoChan("refresh", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return p.refresh(rctx, tokens)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	case r := <-ch:
		if r.Shared {
			p.logger.Trace("refresh shared with a concurrent caller")
		}
		if r.Err != nil {
			return nil, fmt.Errorf("%s: %w", op, r.Err)
		}
		return r.Val.(*TokenResponse), nil
	}
}

func (p *Provider) refresh(ctx context.Context, tokens *TokenSet) (*TokenResponse, error) {
	gen := tokens.Generation()
	rt := tokens.RefreshToken()
	if rt == "" {
		return nil, ErrNoRefreshToken
	}

	ts := p.oauth2Config("").TokenSource(HttpClientContext(ctx, p.client), &oauth2.Token{RefreshToken: string(rt)})
	oauth2Token, err := ts.Token()
	if err != nil {
		rerr := &RefreshError{Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			rerr.StatusCode = retrieveErr.Response.StatusCode
			rerr.Body = retrieveErr.Body
		}
		if rerr.StatusCode == http.StatusBadRequest {
			rerr.Cleared = tokens.ClearAt(gen)
		}
		p.logger.Debug("refresh failed", "status", rerr.StatusCode, "cleared", rerr.Cleared)
		return nil, rerr
	}
	resp := newTokenResponse(oauth2Token)
	if err := tokens.SetAt(gen, string(resp.AccessToken), string(resp.RefreshToken), string(resp.IDToken)); err != nil {
		return nil, err
	}
	p.logger.Debug("tokens refreshed", "expiry", resp.Expiry, "refresh_expires_in", resp.RefreshExpiresIn)
	return resp, nil
}

func (p *Provider) oauth2Config(redirectURL string) *oauth2.Config {
	// Add the "openid" scope, which is a required scope for oidc flows
	scopes := append([]string{oidc.ScopeOpenID}, p.config.Scopes...)
	e := p.config.Endpoints()
	return &oauth2.Config{
		ClientID:    p.config.ClientId,
		RedirectURL: redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   e.Authorize,
			TokenURL:  e.Token,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: scopes,
	}
}

// verifyNonce requires every token in resp to carry nonce.  A token without
// a nonce claim fails like one carrying another nonce.
func verifyNonce(resp *TokenResponse, nonce string) error {
	for _, tk := range []struct {
		name  string
		token string
	}{
		{"access_token", string(resp.AccessToken)},
		{"refresh_token", string(resp.RefreshToken)},
		{"id_token", string(resp.IDToken)},
	} {
		if tk.token == "" {
			continue
		}
		claims, err := DecodeClaims(tk.token)
		if err != nil {
			return fmt.Errorf("%s: %w", tk.name, err)
		}
		n, ok := claims.Nonce()
		switch {
		case !ok:
			return fmt.Errorf("%s has no nonce: %w", tk.name, ErrInvalidNonce)
		case n != nonce:
			return fmt.Errorf("%s nonce does not match the pending request: %w", tk.name, ErrInvalidNonce)
		}
	}
	return nil
}

func newTokenResponse(t *oauth2.Token) *TokenResponse {
	resp := &TokenResponse{
		AccessToken:  AccessToken(t.AccessToken),
		RefreshToken: RefreshToken(t.RefreshToken),
		Expiry:       t.Expiry,
	}
	if id, ok := t.Extra("id_token").(string); ok {
		resp.IDToken = IDToken(id)
	}
	var secs float64
	switch v := t.Extra("refresh_expires_in").(type) {
	case float64:
		secs = v
	case json.Number:
		secs, _ = v.Float64()
	case string:
		secs, _ = strconv.ParseFloat(v, 64)
	}
	if secs > 0 {
		resp.RefreshExpiresIn = time.Duration(secs * float64(time.Second))
	}
	return resp
}

// providerOptions is the set of available options for NewProvider
type providerOptions struct {
	withLogger     hclog.Logger
	withHTTPClient *http.Client
	withRequestKey string
}

func providerDefaults() providerOptions {
	return providerOptions{
		withLogger:     hclog.NewNullLogger(),
		withRequestKey: DefaultRequestKey,
	}
}

func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
