package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"

	"github.com/hybridflow/hybridflow/kv"
	"github.com/hybridflow/hybridflow/oidc"
)

// ErrAlreadyStarted is returned when starting something that is running.
var ErrAlreadyStarted = errors.New("already started")

// Activity tracks the time of the user's last interaction across every tab
// sharing a broadcaster.  Touches are debounced, then recorded and published
// as unix milliseconds; values published by other tabs are adopted when they
// are more recent.  It is concurrently safe.
type Activity struct {
	b        *kv.Broadcaster
	clock    clockwork.Clock
	logger   hclog.Logger
	debounce time.Duration

	mu      sync.Mutex
	last    time.Time
	pending clockwork.Timer
	cancel  func()
	done    chan struct{}
}

// NewActivity creates an Activity whose last interaction is now.
// Supported options:
//   - WithClock
//   - WithLogger
//   - WithDebounce
func NewActivity(b *kv.Broadcaster, opt ...Option) (*Activity, error) {
	const op = "session.NewActivity"
	if b == nil {
		return nil, fmt.Errorf("%s: broadcaster is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Activity{
		b:        b,
		clock:    opts.withClock,
		logger:   opts.withLogger.Named("activity"),
		debounce: opts.withDebounce,
		last:     opts.withClock.Now(),
	}, nil
}

// Start subscribes to interactions published by other tabs until Stop is
// called or ctx is done.
func (a *Activity) Start(ctx context.Context) error {
	const op = "Activity.Start"
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return fmt.Errorf("%s: %w", op, ErrAlreadyStarted)
	}
	values, cancel := a.b.Subscribe()
	a.cancel = cancel
	a.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case v, ok := <-values:
				if !ok {
					return
				}
				ms, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					a.logger.Debug("ignoring malformed interaction", "value", v)
					continue
				}
				a.observe(time.UnixMilli(ms))
			}
		}
	}(a.done)
	return nil
}

// Touch records a user interaction.  Touches closer together than the
// debounce period are recorded once, when the period has passed.
func (a *Activity) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending != nil {
		return
	}
	a.pending = a.clock.AfterFunc(a.debounce, a.flush)
}

// Last returns the time of the most recent interaction seen in any tab.
func (a *Activity) Last() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Stop ends the subscription and drops a pending touch.
func (a *Activity) Stop() {
	a.mu.Lock()
	if a.pending != nil {
		a.pending.Stop()
		a.pending = nil
	}
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (a *Activity) flush() {
	now := a.clock.Now()
	a.mu.Lock()
	a.pending = nil
	a.mu.Unlock()
	a.observe(now)
	if err := a.b.Publish(context.Background(), strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		a.logger.Warn("unable to broadcast interaction", "error", err)
	}
}

func (a *Activity) observe(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t.After(a.last) {
		a.last = t
	}
}
