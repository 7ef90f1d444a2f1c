package oidc

import (
	"net/http"

	"github.com/hashicorp/go-hclog"
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

// WithLogger provides an optional logger for: Provider
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithHTTPClient provides an optional http client for: Provider.  When it is
// not supplied the client is built from the Config (see Config.HTTPClient).
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithRequestKey provides an optional key for: Provider, RequestStore.  It
// names the entry holding the pending authentication request.
func WithRequestKey(key string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *providerOptions:
			v.withRequestKey = key
		case *requestStoreOptions:
			v.withRequestKey = key
		}
	}
}
