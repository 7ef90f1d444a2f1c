package session

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"

	"github.com/hybridflow/hybridflow/oidc/sso"
)

const (
	// DefaultRefreshThreshold is how long before the access token expires
	// the refresh is scheduled.
	DefaultRefreshThreshold = 15 * time.Second

	// DefaultMaxInactivity is the inactivity after which the session is
	// logged out, unless the provider reports a refresh token lifetime.
	DefaultMaxInactivity = 10 * time.Minute

	// DefaultRetryInterval is the delay before a refresh which failed for a
	// transient reason is retried.
	DefaultRetryInterval = 5 * time.Second

	// DefaultDebounce is the quiet period after which touches are recorded
	// and broadcast.
	DefaultDebounce = 200 * time.Millisecond
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// options = how options are represented
type options struct {
	withLogger           hclog.Logger
	withClock            clockwork.Clock
	withRefreshThreshold time.Duration
	withMaxInactivity    time.Duration
	withRetryInterval    time.Duration
	withDebounce         time.Duration
	withHTTPClient       *http.Client
	withSSOHost          sso.Host
	withLogoutFunc       func(LogoutEvent)
}

func getDefaultOptions() options {
	return options{
		withLogger:           hclog.NewNullLogger(),
		withClock:            clockwork.NewRealClock(),
		withRefreshThreshold: DefaultRefreshThreshold,
		withMaxInactivity:    DefaultMaxInactivity,
		withRetryInterval:    DefaultRetryInterval,
		withDebounce:         DefaultDebounce,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithClock provides an optional clock for every timer.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && c != nil {
			o.withClock = c
		}
	}
}

// WithRefreshThreshold overrides DefaultRefreshThreshold.
func WithRefreshThreshold(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d >= 0 {
			o.withRefreshThreshold = d
		}
	}
}

// WithMaxInactivity overrides DefaultMaxInactivity.
func WithMaxInactivity(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withMaxInactivity = d
		}
	}
}

// WithRetryInterval overrides DefaultRetryInterval.
func WithRetryInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withRetryInterval = d
		}
	}
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d >= 0 {
			o.withDebounce = d
		}
	}
}

// WithHTTPClient provides the client used to reach the provider's token
// endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withHTTPClient = c
		}
	}
}

// WithSSOHost provides the page hosting the session-check frame.  Without
// one single sign-out detection is disabled.
func WithSSOHost(h sso.Host) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withSSOHost = h
		}
	}
}

// WithLogoutFunc registers the hook invoked when a session ends.
func WithLogoutFunc(fn func(LogoutEvent)) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withLogoutFunc = fn
		}
	}
}
