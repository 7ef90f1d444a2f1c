package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-multierror"

	"github.com/hybridflow/hybridflow/oidc/internal/strutils"
)

const (
	// DefaultSSOInterval is how often the SSO liveness channel is polled when
	// no interval is configured.
	DefaultSSOInterval = 5 * time.Second

	// DefaultResponseType is the response_type requested by LoginURL when
	// none is supplied.
	DefaultResponseType = "code"
)

// SSOConfig configures the SSO liveness channel.
type SSOConfig struct {
	// Enable turns the liveness channel on.
	Enable bool

	// Interval between session checks.
	Interval time.Duration
}

// Endpoints are the provider URLs derived from the base URL and realm.
type Endpoints struct {
	Authorize string
	Token     string
	Logout    string
	SSOIframe string
}

// Config represents the immutable configuration of a provider realm and the
// client authenticating against it.
type Config struct {
	// URL is the provider's base URL.  It may be origin-relative ("/auth")
	// when the provider is served from the application's own origin.
	URL string

	// Realm identifies the provider realm.
	Realm string

	// ClientId is the relying party id
	ClientId string

	// SSO configures the liveness channel. It is enabled by default.
	SSO SSOConfig

	// CheckNonce requires the nonce of every returned token to match the
	// nonce of the pending request.  It is enabled by default.
	CheckNonce bool

	// Scopes is a list of additional scopes to request of the provider.  The
	// required "openid" scope is always requested.
	Scopes []string

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string

	// ResponseType is the default response_type of a login request.
	ResponseType string
}

// NewConfig composes a new config for a provider realm.
// Supported options:
//   - WithSSO
//   - WithNonceCheck
//   - WithScopes
//   - WithProviderCA
//   - WithResponseType
func NewConfig(providerURL, realm, clientId string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		URL:          strings.TrimRight(strings.TrimSpace(providerURL), "/"),
		Realm:        realm,
		ClientId:     clientId,
		SSO:          opts.withSSO,
		CheckNonce:   opts.withNonceCheck,
		Scopes:       strutils.RemoveDuplicatesStable(opts.withScopes, false),
		ProviderCA:   opts.withProviderCA,
		ResponseType: opts.withResponseType,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration.  Every missing field is reported, and
// the returned error matches ErrInvalidConfig.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.URL == "" {
		result = multierror.Append(result, fmt.Errorf("url is empty: %w", ErrInvalidConfig))
	} else if !strings.HasPrefix(c.URL, "/") {
		u, err := url.Parse(c.URL)
		switch {
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("url %q is invalid: %s: %w", c.URL, err, ErrInvalidConfig))
		case !strutils.StrListContains([]string{"https", "http"}, u.Scheme):
			result = multierror.Append(result, fmt.Errorf("url %q scheme is not http or https: %w", c.URL, ErrInvalidConfig))
		}
	}
	if c.Realm == "" {
		result = multierror.Append(result, fmt.Errorf("realm is empty: %w", ErrInvalidConfig))
	}
	if c.ClientId == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidConfig))
	}
	if c.SSO.Enable && c.SSO.Interval <= 0 {
		result = multierror.Append(result, fmt.Errorf("sso interval %s must be positive: %w", c.SSO.Interval, ErrInvalidConfig))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Endpoints derives the provider endpoints for the configured realm.
func (c *Config) Endpoints() Endpoints {
	base := fmt.Sprintf("%s/realms/%s/protocol/openid-connect", c.URL, url.PathEscape(c.Realm))
	return Endpoints{
		Authorize: base + "/auth",
		Token:     base + "/token",
		Logout:    base + "/logout",
		SSOIframe: base + "/login-status-iframe.html",
	}
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	tr := cleanhttp.DefaultPooledTransport()
	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs: certPool,
		}
	}
	return &http.Client{
		Transport: tr,
	}, nil
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options for NewConfig
type configOptions struct {
	withSSO          SSOConfig
	withNonceCheck   bool
	withScopes       []string
	withProviderCA   string
	withResponseType string
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{
		withSSO:          SSOConfig{Enable: true, Interval: DefaultSSOInterval},
		withNonceCheck:   true,
		withResponseType: DefaultResponseType,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithSSO provides optional SSO liveness settings for the config.  A zero
// interval keeps DefaultSSOInterval.
func WithSSO(enable bool, interval time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSSO.Enable = enable
			if interval > 0 {
				o.withSSO.Interval = interval
			}
		}
	}
}

// WithNonceCheck optionally disables (or enables) nonce verification.
func WithNonceCheck(enable bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withNonceCheck = enable
		}
	}
}

// WithScopes provides an optional list of scopes for the provider's config
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithResponseType provides an optional default response_type.
func WithResponseType(rt string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok && rt != "" {
			o.withResponseType = rt
		}
	}
}
