package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"

	"github.com/hybridflow/hybridflow/oidc"
)

// ClaimsSource provides the claims of the installed access token.
// *oidc.TokenSet implements it.
type ClaimsSource interface {
	AccessTokenClaims() oidc.Claims
}

// ActivitySource provides the time of the user's last interaction.
// *Activity implements it.
type ActivitySource interface {
	Last() time.Time
}

// ensure the session's collaborators implement the scheduler's interfaces
var (
	_ ClaimsSource   = (*oidc.TokenSet)(nil)
	_ ActivitySource = (*Activity)(nil)
)

// RefreshFunc refreshes the session's tokens.  On success it is expected to
// install the new tokens and re-arm the scheduler.
type RefreshFunc func(ctx context.Context) error

// LogoutFunc ends the session.
type LogoutFunc func(LogoutEvent)

// Scheduler owns the session's two timers: the refresh timer, armed for a
// threshold before the access token expires, and the inactivity timer, which
// logs the session out once no interaction happened for the maximum
// inactivity.  Callbacks are never invoked while the scheduler's lock is held,
// so they may call back into the scheduler.
type Scheduler struct {
	tokens   ClaimsSource
	activity ActivitySource
	refresh  RefreshFunc
	logout   LogoutFunc
	clock    clockwork.Clock
	logger   hclog.Logger

	threshold time.Duration
	retry     time.Duration

	mu            sync.Mutex
	maxInactivity time.Duration
	refreshTimer  clockwork.Timer
	refreshSeq    uint64
	idleTimer     clockwork.Timer
	idleSeq       uint64
}

// NewScheduler creates a Scheduler with no timer armed.
// Supported options:
//   - WithClock
//   - WithLogger
//   - WithRefreshThreshold
//   - WithMaxInactivity
//   - WithRetryInterval
func NewScheduler(tokens ClaimsSource, activity ActivitySource, refresh RefreshFunc, logout LogoutFunc, opt ...Option) (*Scheduler, error) {
	const op = "session.NewScheduler"
	switch {
	case tokens == nil:
		return nil, fmt.Errorf("%s: claims source is nil: %w", op, oidc.ErrNilParameter)
	case activity == nil:
		return nil, fmt.Errorf("%s: activity source is nil: %w", op, oidc.ErrNilParameter)
	case refresh == nil:
		return nil, fmt.Errorf("%s: refresh func is nil: %w", op, oidc.ErrNilParameter)
	case logout == nil:
		return nil, fmt.Errorf("%s: logout func is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Scheduler{
		tokens:        tokens,
		activity:      activity,
		refresh:       refresh,
		logout:        logout,
		clock:         opts.withClock,
		logger:        opts.withLogger.Named("scheduler"),
		threshold:     opts.withRefreshThreshold,
		retry:         opts.withRetryInterval,
		maxInactivity: opts.withMaxInactivity,
	}, nil
}

// ArmRefresh (re)arms the refresh timer for the installed access token.  An
// access token which already expired logs the session out instead.  Nothing
// is armed when no access token with an expiry is installed.
func (s *Scheduler) ArmRefresh() {
	exp, ok := s.tokens.AccessTokenClaims().Expiry()

	s.mu.Lock()
	s.stopRefreshLocked()
	if !ok {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	if !exp.After(now) {
		s.mu.Unlock()
		s.logger.Debug("access token already expired", "expiry", exp)
		s.logout(LogoutEvent{Reason: ReasonExpired})
		return
	}
	d := exp.Sub(now) - s.threshold
	if d < 0 {
		d = 0
	}
	s.armRefreshLocked(d)
	s.mu.Unlock()
	s.logger.Debug("refresh scheduled", "in", d, "expiry", exp)
}

// StartInactivity (re)arms the inactivity timer.
func (s *Scheduler) StartInactivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armIdleLocked(s.remainingLocked())
}

// SetMaxInactivity replaces the maximum inactivity.  A running inactivity
// timer is re-armed for the new value.
func (s *Scheduler) SetMaxInactivity(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxInactivity = d
	if s.idleTimer != nil {
		s.armIdleLocked(s.remainingLocked())
	}
}

// MaxInactivity returns the current maximum inactivity.
func (s *Scheduler) MaxInactivity() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInactivity
}

// Stop disarms both timers.  A timer callback already running completes but
// does not re-arm.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRefreshLocked()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.idleSeq++
}

func (s *Scheduler) stopRefreshLocked() {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	s.refreshSeq++
}

func (s *Scheduler) armRefreshLocked(d time.Duration) {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	s.refreshSeq++
	seq := s.refreshSeq
	s.refreshTimer = s.clock.AfterFunc(d, func() { s.fireRefresh(seq) })
}

func (s *Scheduler) fireRefresh(seq uint64) {
	s.mu.Lock()
	if seq != s.refreshSeq {
		s.mu.Unlock()
		return
	}
	s.refreshTimer = nil
	s.mu.Unlock()

	err := s.refresh(context.Background())
	if err == nil {
		return
	}

	var rerr *oidc.RefreshError
	switch {
	case errors.Is(err, oidc.ErrStaleGeneration):
		// the tokens changed while refreshing; whoever changed them re-arms
		s.logger.Debug("refresh result discarded", "error", err)
		return
	case errors.As(err, &rerr) && rerr.StatusCode == http.StatusBadRequest && !rerr.Cleared:
		s.logger.Debug("refresh rejected for tokens no longer installed", "error", err)
		return
	case errors.Is(err, oidc.ErrNoRefreshToken),
		errors.As(err, &rerr) && rerr.StatusCode == http.StatusBadRequest:
		s.logger.Info("refresh rejected, ending session", "error", err)
		s.logout(LogoutEvent{Reason: ReasonRefreshFailed, Err: err})
		return
	}

	exp, ok := s.tokens.AccessTokenClaims().Expiry()
	now := s.clock.Now()
	if !ok || !exp.After(now) {
		s.logger.Info("refresh failed and access token expired", "error", err)
		s.logout(LogoutEvent{Reason: ReasonExpired, Err: err})
		return
	}
	d := s.retry
	if left := exp.Sub(now); left < d {
		d = left
	}
	s.logger.Warn("refresh failed, retrying", "in", d, "error", err)

	s.mu.Lock()
	defer s.mu.Unlock()
	// don't resurrect a timer which was stopped or re-armed meanwhile
	if seq == s.refreshSeq {
		s.armRefreshLocked(d)
	}
}

func (s *Scheduler) remainingLocked() time.Duration {
	d := s.maxInactivity - s.clock.Since(s.activity.Last())
	if d < 0 {
		d = 0
	}
	return d
}

func (s *Scheduler) armIdleLocked(d time.Duration) {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleSeq++
	seq := s.idleSeq
	s.idleTimer = s.clock.AfterFunc(d, func() { s.checkIdle(seq) })
}

func (s *Scheduler) checkIdle(seq uint64) {
	s.mu.Lock()
	if seq != s.idleSeq {
		s.mu.Unlock()
		return
	}
	if d := s.remainingLocked(); d > 0 {
		s.armIdleLocked(d)
		s.mu.Unlock()
		return
	}
	s.idleTimer = nil
	s.idleSeq++
	limit := s.maxInactivity
	s.mu.Unlock()

	s.logger.Info("session inactive, ending session", "max_inactivity", limit)
	s.logout(LogoutEvent{Reason: ReasonInactivity})
}
