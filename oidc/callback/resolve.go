package callback

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hybridflow/hybridflow/oidc"
)

// recognizedParams are the fragment parameters which belong to the provider's
// response.  Everything else in the fragment belongs to the application.
var recognizedParams = map[string]bool{
	"access_token":      true,
	"code":              true,
	"error":             true,
	"error_description": true,
	"error_uri":         true,
	"expires_in":        true,
	"id_token":          true,
	"iss":               true,
	"session_state":     true,
	"state":             true,
	"token_type":        true,
}

// Continuation is the result of resolving the URL the user agent landed on.
type Continuation struct {
	// Continue reports whether the URL is a provider redirect: it carries a
	// code or an error together with a state.
	Continue bool

	Code             string
	Error            string
	ErrorDescription string
	ErrorURI         string
	State            string
	SessionState     string

	// Params holds every recognized fragment parameter, decoded.
	Params map[string]string

	// Pending is the pending request consumed while resolving, or nil.
	Pending *oidc.Request

	// Nonce of the pending request.
	Nonce string

	// RedirectURL of the pending request.  Without a pending request it
	// falls back to NewURL.
	RedirectURL string

	// NewURL is the URL the application should show.  For a continuation it
	// is the original URL with the fragment reduced to the parameters the
	// provider did not add; otherwise it is the original URL.
	NewURL string
}

// StateMatches reports whether the continuation's state is the state of the
// pending request.
func (c *Continuation) StateMatches() bool {
	return c.Pending != nil && c.State != "" && c.Pending.State == c.State
}

// ProviderError returns the provider's error, or nil when the provider did
// not return one.
func (c *Continuation) ProviderError() *oidc.ProviderError {
	if c.Error == "" {
		return nil
	}
	return &oidc.ProviderError{
		Code:        c.Error,
		Description: c.ErrorDescription,
		URI:         c.ErrorURI,
	}
}

// Resolve inspects currentURL for a provider redirect and correlates it with
// the pending request.  The pending request is consumed on every call,
// whatever the outcome, so it can never be replayed by a reload.
func Resolve(ctx context.Context, currentURL string, requests RequestTaker) (*Continuation, error) {
	const op = "callback.Resolve"
	if requests == nil {
		return nil, fmt.Errorf("%s: request taker is nil: %w", op, oidc.ErrNilParameter)
	}
	pending, err := requests.Take(ctx)
	switch {
	case err == nil:
	case errors.Is(err, oidc.ErrNotFound), errors.Is(err, oidc.ErrInvalidParameter):
		// nothing usable was pending
		pending = nil
	default:
		return nil, fmt.Errorf("%s: unable to take pending request: %w", op, err)
	}

	c := &Continuation{
		Params:  map[string]string{},
		Pending: pending,
		NewURL:  currentURL,
	}
	if base, fragment, ok := strings.Cut(currentURL, "#"); ok {
		var rest []string
		for _, seg := range strings.Split(fragment, "&") {
			if seg == "" {
				continue
			}
			name, value, _ := strings.Cut(seg, "=")
			name = unescape(name)
			if !recognizedParams[name] {
				rest = append(rest, seg)
				continue
			}
			c.Params[name] = unescape(value)
		}
		c.Code = c.Params["code"]
		c.Error = c.Params["error"]
		c.ErrorDescription = c.Params["error_description"]
		c.ErrorURI = c.Params["error_uri"]
		c.State = c.Params["state"]
		c.SessionState = c.Params["session_state"]
		c.Continue = (c.Code != "" || c.Error != "") && c.State != ""
		if c.Continue {
			c.NewURL = base
			if len(rest) > 0 {
				c.NewURL += "#" + strings.Join(rest, "&")
			}
		}
	}

	if pending != nil {
		c.Nonce = pending.Nonce
		c.RedirectURL = pending.RedirectURL
	} else {
		c.RedirectURL = c.NewURL
	}
	return c, nil
}

// unescape percent-decodes s, leaving it as is when it is not valid
// percent-encoding.  A '+' is kept rather than read as a space.
func unescape(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}
