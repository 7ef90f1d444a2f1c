package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hybridflow/hybridflow/kv"
)

// DefaultRequestKey is the key the pending authentication request is stored
// under.
const DefaultRequestKey = "kc"

// Request is a pending authentication request.  It is persisted right before
// the user agent is sent to the authorization endpoint and consumed on the
// redirect back.
type Request struct {
	// State is round-tripped through the provider to bind the redirect to
	// this request.
	State string `json:"state"`

	// Nonce is bound into the issued tokens.
	Nonce string `json:"nonce"`

	// RedirectURL is where the provider sends the user agent back to.
	RedirectURL string `json:"redirectUrl"`
}

// NewRequest creates a Request with a new random state and nonce.
func NewRequest(redirectURL string) (*Request, error) {
	const op = "oidc.NewRequest"
	state, err := NewID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	nonce, err := NewID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	return &Request{
		State:       state,
		Nonce:       nonce,
		RedirectURL: redirectURL,
	}, nil
}

// RequestStore persists at most one pending Request in a kv.Store.
type RequestStore struct {
	store kv.Store
	key   string
}

// NewRequestStore creates a RequestStore.
// Supported options:
//   - WithRequestKey
func NewRequestStore(s kv.Store, opt ...Option) (*RequestStore, error) {
	const op = "oidc.NewRequestStore"
	if s == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	opts := getRequestStoreOpts(opt...)
	if opts.withRequestKey == "" {
		return nil, fmt.Errorf("%s: request key is empty: %w", op, ErrInvalidParameter)
	}
	return &RequestStore{store: s, key: opts.withRequestKey}, nil
}

// Save stores r, overwriting any request already pending.
func (rs *RequestStore) Save(ctx context.Context, r *Request) error {
	const op = "RequestStore.Save"
	if r == nil {
		return fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := rs.store.Set(ctx, rs.key, string(b), 0); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Take reads and removes the pending request.  The entry is removed even when
// it cannot be parsed.  ErrNotFound is returned when nothing is pending.
func (rs *RequestStore) Take(ctx context.Context) (*Request, error) {
	const op = "RequestStore.Take"
	raw, err := rs.store.Get(ctx, rs.key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := rs.store.Remove(ctx, rs.key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var r Request
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("%s: unable to parse pending request: %s: %w", op, err, ErrInvalidParameter)
	}
	return &r, nil
}

// requestStoreOptions is the set of available options for NewRequestStore
type requestStoreOptions struct {
	withRequestKey string
}

func requestStoreDefaults() requestStoreOptions {
	return requestStoreOptions{withRequestKey: DefaultRequestKey}
}

func getRequestStoreOpts(opt ...Option) requestStoreOptions {
	opts := requestStoreDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
