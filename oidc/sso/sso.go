package sso

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"

	"github.com/hybridflow/hybridflow/oidc"
)

// Signal is the provider's reply to a session check.
type Signal string

const (
	Unchanged Signal = "unchanged"
	Changed   Signal = "changed"
	Error     Signal = "error"
)

// ParseSignal returns the Signal for data, or false when data is not one.
func ParseSignal(data string) (Signal, bool) {
	switch s := Signal(data); s {
	case Unchanged, Changed, Error:
		return s, true
	default:
		return "", false
	}
}

// ErrAlreadyStarted is returned by Start when the synchronizer is running.
var ErrAlreadyStarted = errors.New("sso synchronizer already started")

// Frame is an embedded browsing context.
type Frame interface {
	// PostMessage sends data to the frame, provided its origin is
	// targetOrigin.
	PostMessage(data, targetOrigin string) error
}

// Message is a message received by the page.
type Message struct {
	Data   string
	Origin string
	Source Frame
}

// Host is the page hosting the application.
type Host interface {
	// PageOrigin returns the page's own origin.
	PageOrigin() string

	// Embed attaches a hidden frame showing src once the page has finished
	// loading and returns it when the frame has loaded.
	Embed(ctx context.Context, src string) (Frame, error)

	// Messages returns the page's incoming messages.
	Messages() <-chan Message
}

// TokenSource is the part of the token set used by the synchronizer.
// *oidc.TokenSet implements it.
type TokenSource interface {
	AccessTokenClaims() oidc.Claims
	Clear()
}

// ensure that oidc.TokenSet implements the TokenSource interface
var _ TokenSource = (*oidc.TokenSet)(nil)

// Config configures a Synchronizer.
type Config struct {
	ClientID     string
	AuthorizeURL string
	IframeURL    string
	Interval     time.Duration
}

// NewConfig derives the synchronizer's Config from a provider Config.
func NewConfig(c *oidc.Config) Config {
	e := c.Endpoints()
	return Config{
		ClientID:     c.ClientId,
		AuthorizeURL: e.Authorize,
		IframeURL:    e.SSOIframe,
		Interval:     c.SSO.Interval,
	}
}

// Synchronizer runs the session check protocol.  It is concurrently safe.
type Synchronizer struct {
	cfg     Config
	host    Host
	tokens  TokenSource
	logger  hclog.Logger
	clock   clockwork.Clock
	signOut func(Signal)

	mu      sync.Mutex
	origin  string
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Synchronizer.
// Supported options:
//   - WithLogger
//   - WithClock
//   - WithSignOutFunc
func New(cfg Config, host Host, tokens TokenSource, opt ...Option) (*Synchronizer, error) {
	const op = "sso.New"
	switch {
	case host == nil:
		return nil, fmt.Errorf("%s: host is nil: %w", op, oidc.ErrNilParameter)
	case tokens == nil:
		return nil, fmt.Errorf("%s: token source is nil: %w", op, oidc.ErrNilParameter)
	case cfg.ClientID == "":
		return nil, fmt.Errorf("%s: client id is empty: %w", op, oidc.ErrInvalidParameter)
	case cfg.IframeURL == "":
		return nil, fmt.Errorf("%s: iframe url is empty: %w", op, oidc.ErrInvalidParameter)
	case cfg.Interval <= 0:
		return nil, fmt.Errorf("%s: interval %s must be positive: %w", op, cfg.Interval, oidc.ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	return &Synchronizer{
		cfg:     cfg,
		host:    host,
		tokens:  tokens,
		logger:  opts.withLogger.Named("sso"),
		clock:   opts.withClock,
		signOut: opts.withSignOutFunc,
	}, nil
}

// Start embeds the session-check frame and starts polling in the
// background.  It does not wait for the frame: a frame which fails to load
// is logged and the synchronizer stops, leaving the session unaffected.
func (s *Synchronizer) Start(ctx context.Context) error {
	const op = "Synchronizer.Start"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("%s: %w", op, ErrAlreadyStarted)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	return nil
}

// Stop stops polling and waits for the background goroutine to exit.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the synchronizer is polling or about to.
func (s *Synchronizer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Origin returns the provider origin derived once the frame loaded, or ""
// before then.
func (s *Synchronizer) Origin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.origin
}

func (s *Synchronizer) run(ctx context.Context, done chan struct{}) {
	sig, ended := s.poll(ctx)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	close(done)

	// the callback may Stop or restart the synchronizer
	if ended && s.signOut != nil {
		s.signOut(sig)
	}
}

// poll runs until ctx is done or the provider ends the session, in which case
// it clears the tokens and returns the signal received.
func (s *Synchronizer) poll(ctx context.Context) (Signal, bool) {
	frame, err := s.host.Embed(ctx, s.cfg.IframeURL)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("unable to embed session check frame", "src", s.cfg.IframeURL, "error", err)
		}
		return "", false
	}
	origin := DeriveOrigin(s.cfg.AuthorizeURL, s.host.PageOrigin())
	s.mu.Lock()
	s.origin = origin
	s.mu.Unlock()
	s.logger.Debug("session check frame loaded", "origin", origin, "interval", s.cfg.Interval)

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	messages := s.host.Messages()
	for {
		select {
		case <-ctx.Done():
			return "", false
		case <-ticker.Chan():
			s.check(frame, origin)
		case msg, ok := <-messages:
			if !ok {
				s.logger.Debug("host message channel closed")
				return "", false
			}
			if msg.Origin != origin || msg.Source != frame {
				continue
			}
			sig, ok := ParseSignal(msg.Data)
			if !ok || sig == Unchanged {
				continue
			}
			s.logger.Info("provider session ended", "signal", sig)
			s.tokens.Clear()
			return sig, true
		}
	}
}

// check posts the session state to the frame when a session exists.
func (s *Synchronizer) check(frame Frame, origin string) {
	claims := s.tokens.AccessTokenClaims()
	if claims == nil {
		return
	}
	sessionState, _ := claims.SessionState()
	if err := frame.PostMessage(s.cfg.ClientID+" "+sessionState, origin); err != nil {
		s.logger.Debug("unable to post session check", "error", err)
	}
}

// DeriveOrigin returns the origin of the provider's authorize endpoint.  An
// origin-relative authorizeURL resolves against pageOrigin.
func DeriveOrigin(authorizeURL, pageOrigin string) string {
	if strings.HasPrefix(authorizeURL, "/") {
		return pageOrigin
	}
	u, err := url.Parse(authorizeURL)
	if err != nil || u.Host == "" {
		return authorizeURL
	}
	return u.Scheme + "://" + u.Host
}
