package callback

import (
	"context"
	"fmt"

	"github.com/hybridflow/hybridflow/oidc"
)

// Complete finishes the flow for a continuation: a provider error is
// returned as an *oidc.ProviderError without any network call, otherwise the
// code is exchanged and the tokens installed in tokens.
//
// A state which does not match the pending request is rejected with
// oidc.ErrResponseStateInvalid when the provider's Config does not check
// nonces.  When it does, the exchange proceeds and tokens issued for another
// request fail nonce verification (oidc.ErrInvalidNonce), clearing tokens.
func Complete(ctx context.Context, p *oidc.Provider, tokens *oidc.TokenSet, c *Continuation) (*oidc.TokenResponse, error) {
	const op = "callback.Complete"
	switch {
	case p == nil:
		return nil, fmt.Errorf("%s: provider is nil: %w", op, oidc.ErrNilParameter)
	case tokens == nil:
		return nil, fmt.Errorf("%s: token set is nil: %w", op, oidc.ErrNilParameter)
	case c == nil:
		return nil, fmt.Errorf("%s: continuation is nil: %w", op, oidc.ErrNilParameter)
	case !c.Continue:
		return nil, fmt.Errorf("%s: not a provider redirect: %w", op, oidc.ErrNoContinuation)
	}

	if perr := c.ProviderError(); perr != nil {
		return nil, fmt.Errorf("%s: %w", op, perr)
	}
	if !c.StateMatches() && !p.Config().CheckNonce {
		return nil, fmt.Errorf("%s: response state does not match the pending request: %w", op, oidc.ErrResponseStateInvalid)
	}
	resp, err := p.Exchange(ctx, tokens, c.Code, c.RedirectURL, c.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}
