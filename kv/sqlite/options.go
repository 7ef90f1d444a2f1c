package sqlite

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

// storeOptions is the set of available options for Open
type storeOptions struct {
	withClock         clockwork.Clock
	withoutMigrations bool
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

// WithClock provides an optional clock used to stamp and evaluate entry
// expiry.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && c != nil {
			o.withClock = c
		}
	}
}

// WithoutMigrations skips applying the embedded schema on Open.  The caller
// is then responsible for calling Store.ApplyMigrations.
func WithoutMigrations() Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withoutMigrations = true
		}
	}
}
