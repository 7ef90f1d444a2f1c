package sso

import (
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
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
	withLogger      hclog.Logger
	withClock       clockwork.Clock
	withSignOutFunc func(Signal)
}

func getDefaultOptions() options {
	return options{
		withLogger: hclog.NewNullLogger(),
		withClock:  clockwork.NewRealClock(),
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

// WithClock provides an optional clock driving the poll interval.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && c != nil {
			o.withClock = c
		}
	}
}

// WithSignOutFunc registers the forced-logout callback.  It is invoked at
// most once, with the signal which ended the session, after the tokens were
// cleared.
func WithSignOutFunc(fn func(Signal)) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withSignOutFunc = fn
		}
	}
}
