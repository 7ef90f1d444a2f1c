package kv

import "github.com/jonboulle/clockwork"

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

// storeOptions is the set of available options for MemoryStore
type storeOptions struct {
	withClock clockwork.Clock
}

func storeDefaults() storeOptions {
	return storeOptions{
		withClock: clockwork.NewRealClock(),
	}
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClock provides an optional clock used to evaluate entry expiry.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && c != nil {
			o.withClock = c
		}
	}
}
