package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"

	"github.com/hybridflow/hybridflow/kv"
	"github.com/hybridflow/hybridflow/oidc"
	"github.com/hybridflow/hybridflow/oidc/callback"
	"github.com/hybridflow/hybridflow/oidc/sso"
)

// Keys of the tokens persisted in Stores.Tokens.
const (
	AccessTokenKey  = "access_token"
	IDTokenKey      = "id_token"
	RefreshTokenKey = "refresh_token"
)

// DefaultActivityKey is the key activity is broadcast on when Stores does not
// supply a broadcaster.
const DefaultActivityKey = "hybridflow.interaction"

// Reason names why a session ended.
type Reason string

const (
	ReasonUser          Reason = "user"
	ReasonInactivity    Reason = "inactivity"
	ReasonExpired       Reason = "expired"
	ReasonRefreshFailed Reason = "refresh_failed"
	ReasonSingleSignOut Reason = "single_sign_out"
	ReasonInvalidNonce  Reason = "invalid_nonce"
)

// LogoutEvent describes the end of a session.
type LogoutEvent struct {
	Reason Reason

	// Signal is the provider's session-check reply for ReasonSingleSignOut.
	Signal sso.Signal

	// Err is the failure which ended the session, if any.
	Err error
}

// Stores are the key-value stores an Engine persists to.
type Stores struct {
	// Pending holds the pending authentication request.  It should be
	// scoped to one tab.
	Pending kv.Store

	// Tokens holds the tokens between page loads.
	Tokens kv.Store

	// Activity broadcasts interactions between tabs.  When nil the engine
	// tracks its own interactions only.
	Activity *kv.Broadcaster
}

// StoredTokens are tokens persisted by an earlier page load.
type StoredTokens struct {
	AccessToken  oidc.AccessToken
	RefreshToken oidc.RefreshToken
	IDToken      oidc.IDToken
}

// InitResult is the outcome of Init.
type InitResult struct {
	// Authenticated reports whether tokens were installed.
	Authenticated bool

	// Continuation is the resolved URL.
	Continuation *callback.Continuation

	// NewURL is the URL the application should replace the current one
	// with.
	NewURL string

	// RedirectURL is where the application asked to return after login.
	RedirectURL string

	// Response of the code exchange, or nil when stored tokens were used.
	Response *oidc.TokenResponse
}

// Engine owns a session: its token set, the provider it was obtained from,
// the scheduler refreshing it and logging it out, and the single sign-out
// synchronizer.  It is concurrently safe.
type Engine struct {
	config    *oidc.Config
	provider  *oidc.Provider
	tokens    *oidc.TokenSet
	store     kv.Store
	activity  *Activity
	scheduler *Scheduler
	sso       *sso.Synchronizer
	clock     clockwork.Clock
	logger    hclog.Logger
	onLogout  func(LogoutEvent)

	mu        sync.Mutex
	loggedOut bool
}

// NewEngine creates an Engine.
// Supported options:
//   - WithLogger
//   - WithClock
//   - WithHTTPClient
//   - WithSSOHost
//   - WithLogoutFunc
//   - WithRefreshThreshold
//   - WithMaxInactivity
//   - WithRetryInterval
//   - WithDebounce
func NewEngine(c *oidc.Config, stores Stores, opt ...Option) (*Engine, error) {
	const op = "session.NewEngine"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, oidc.ErrNilParameter)
	case stores.Pending == nil:
		return nil, fmt.Errorf("%s: pending request store is nil: %w", op, oidc.ErrNilParameter)
	case stores.Tokens == nil:
		return nil, fmt.Errorf("%s: token store is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	logger := opts.withLogger.Named("session")

	provider, err := oidc.NewProvider(c, stores.Pending, oidc.WithLogger(logger), oidc.WithHTTPClient(opts.withHTTPClient))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e := &Engine{
		config:   c,
		provider: provider,
		tokens:   oidc.NewTokenSet(),
		store:    stores.Tokens,
		clock:    opts.withClock,
		logger:   logger,
		onLogout: opts.withLogoutFunc,
	}

	b := stores.Activity
	if b == nil {
		local := kv.NewMemoryStore(kv.WithClock(opts.withClock))
		if b, err = kv.NewBroadcaster(local, local, DefaultActivityKey); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	sub := append([]Option{}, opt...)
	sub = append(sub, WithLogger(logger))
	if e.activity, err = NewActivity(b, sub...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if e.scheduler, err = NewScheduler(e.tokens, e.activity, e.scheduledRefresh, e.Logout, sub...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if c.SSO.Enable && opts.withSSOHost != nil {
		e.sso, err = sso.New(sso.NewConfig(c), opts.withSSOHost, e.tokens,
			sso.WithLogger(logger),
			sso.WithClock(opts.withClock),
			sso.WithSignOutFunc(func(sig sso.Signal) {
				e.Logout(LogoutEvent{Reason: ReasonSingleSignOut, Signal: sig})
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := e.activity.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

// Init establishes the session for the URL the user agent landed on.  A
// provider redirect is completed by exchanging its code; otherwise the
// stored tokens, when both an access and a refresh token are given, are
// installed as they are.  Single sign-out detection is started either way
// and its failures are only logged; it runs until Logout or Close, not for
// the lifetime of ctx.
//
// The result is returned even when Init fails, so the caller can replace
// the current URL with InitResult.NewURL.  Without a redirect or stored
// tokens the error matches oidc.ErrNoContinuation.
func (e *Engine) Init(ctx context.Context, currentURL string, stored *StoredTokens) (*InitResult, error) {
	const op = "Engine.Init"
	c, err := callback.Resolve(ctx, currentURL, e.provider.Requests())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res := &InitResult{
		Continuation: c,
		NewURL:       c.NewURL,
		RedirectURL:  c.RedirectURL,
	}
	e.startSSO()

	switch {
	case c.Continue:
		resp, err := callback.Complete(ctx, e.provider, e.tokens, c)
		if err != nil {
			if errors.Is(err, oidc.ErrInvalidNonce) {
				e.Logout(LogoutEvent{Reason: ReasonInvalidNonce, Err: err})
			}
			return res, fmt.Errorf("%s: %w", op, err)
		}
		res.Response = resp
		e.installed(ctx, resp)

	case stored != nil && stored.AccessToken != "" && stored.RefreshToken != "":
		if err := e.tokens.Set(string(stored.AccessToken), string(stored.RefreshToken), string(stored.IDToken)); err != nil {
			return res, fmt.Errorf("%s: stored tokens: %w", op, err)
		}
		e.logger.Debug("stored tokens installed")
		e.installed(ctx, nil)

	default:
		return res, fmt.Errorf("%s: %w", op, oidc.ErrNoContinuation)
	}
	res.Authenticated = !e.tokens.IsEmpty()
	return res, nil
}

// Restore reads the tokens persisted by an earlier page load.  The error
// matches oidc.ErrNotFound unless both an access and a refresh token are
// stored.
func (e *Engine) Restore(ctx context.Context) (*StoredTokens, error) {
	const op = "Engine.Restore"
	access, err := e.store.Get(ctx, AccessTokenKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	refresh, err := e.store.Get(ctx, RefreshTokenKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	id, err := e.store.Get(ctx, IDTokenKey)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &StoredTokens{
		AccessToken:  oidc.AccessToken(access),
		RefreshToken: oidc.RefreshToken(refresh),
		IDToken:      oidc.IDToken(id),
	}, nil
}

// LoginURL starts a login returning to redirectURL.
func (e *Engine) LoginURL(ctx context.Context, redirectURL string) (string, error) {
	const op = "Engine.LoginURL"
	u, err := e.provider.LoginURL(ctx, redirectURL, e.config.ResponseType)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// LogoutURL returns the provider logout URL returning to redirectURL.
func (e *Engine) LogoutURL(redirectURL string) string {
	return e.provider.LogoutURL(redirectURL)
}

// Refresh refreshes the tokens now and re-arms the scheduler.  When the
// provider rejects the refresh token the session is logged out.
func (e *Engine) Refresh(ctx context.Context) (*oidc.TokenResponse, error) {
	const op = "Engine.Refresh"
	resp, err := e.provider.Refresh(ctx, e.tokens)
	if err != nil {
		var rerr *oidc.RefreshError
		if errors.As(err, &rerr) && rerr.Cleared {
			e.Logout(LogoutEvent{Reason: ReasonRefreshFailed, Err: err})
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.installed(ctx, resp)
	return resp, nil
}

// Logout ends the session: timers are stopped, the token set is cleared,
// persisted tokens are removed and the logout hook is invoked.  Only the
// first call after tokens were installed has any effect.
func (e *Engine) Logout(ev LogoutEvent) {
	e.mu.Lock()
	if e.loggedOut {
		e.mu.Unlock()
		return
	}
	e.loggedOut = true
	e.mu.Unlock()

	e.scheduler.Stop()
	if e.sso != nil {
		e.sso.Stop()
	}
	e.tokens.Clear()
	if err := e.removeTokens(context.Background()); err != nil {
		e.logger.Warn("unable to remove stored tokens", "error", err)
	}
	e.logger.Info("session ended", "reason", ev.Reason, "signal", ev.Signal, "error", ev.Err)
	if e.onLogout != nil {
		e.onLogout(ev)
	}
}

// Touch records a user interaction.
func (e *Engine) Touch() { e.activity.Touch() }

// Tokens returns the session's token set.
func (e *Engine) Tokens() *oidc.TokenSet { return e.tokens }

// Provider returns the engine's provider.
func (e *Engine) Provider() *oidc.Provider { return e.provider }

// Scheduler returns the engine's scheduler.
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }

// Close stops every timer and background goroutine without ending the
// session.
func (e *Engine) Close() {
	e.scheduler.Stop()
	if e.sso != nil {
		e.sso.Stop()
	}
	e.activity.Stop()
}

func (e *Engine) startSSO() {
	if e.sso == nil {
		return
	}
	if err := e.sso.Start(context.Background()); err != nil {
		e.logger.Debug("single sign-out detection not started", "error", err)
	}
}

func (e *Engine) scheduledRefresh(ctx context.Context) error {
	_, err := e.Refresh(ctx)
	return err
}

// installed follows every token installation: it persists the tokens,
// applies the provider's refresh token lifetime and re-arms the scheduler.
func (e *Engine) installed(ctx context.Context, resp *oidc.TokenResponse) {
	e.mu.Lock()
	e.loggedOut = false
	e.mu.Unlock()

	if err := e.persistTokens(ctx); err != nil {
		e.logger.Warn("unable to persist tokens", "error", err)
	}
	if resp != nil && resp.RefreshExpiresIn > 0 {
		e.scheduler.SetMaxInactivity(resp.RefreshExpiresIn)
	}
	e.scheduler.StartInactivity()
	e.scheduler.ArmRefresh()
}

func (e *Engine) persistTokens(ctx context.Context) error {
	snap := e.tokens.Snapshot()
	var result *multierror.Error
	put := func(key, value string, claims oidc.Claims) {
		if value == "" {
			if err := e.store.Remove(ctx, key); err != nil {
				result = multierror.Append(result, err)
			}
			return
		}
		var expiry time.Duration
		exp, expires := claims.Expiry()
		if expires {
			expiry = exp.Sub(e.clock.Now())
		}
		var err error
		switch {
		case expires && expiry <= 0:
			err = e.store.Remove(ctx, key)
		default:
			err = e.store.Set(ctx, key, value, expiry)
		}
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	put(AccessTokenKey, string(snap.AccessToken), snap.AccessTokenClaims)
	put(IDTokenKey, string(snap.IDToken), nil)
	put(RefreshTokenKey, string(snap.RefreshToken), nil)
	return result.ErrorOrNil()
}

func (e *Engine) removeTokens(ctx context.Context) error {
	var result *multierror.Error
	for _, key := range []string{AccessTokenKey, IDTokenKey, RefreshTokenKey} {
		if err := e.store.Remove(ctx, key); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func notFound(err error) error {
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("%s: %w", err, oidc.ErrNotFound)
	}
	return err
}
