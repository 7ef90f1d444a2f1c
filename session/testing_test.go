package session

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hybridflow/hybridflow/oidc"
)

// testLogouts records logout events.
type testLogouts struct {
	mu     sync.Mutex
	events []LogoutEvent
}

func (l *testLogouts) fn(ev LogoutEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *testLogouts) Events() []LogoutEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogoutEvent(nil), l.events...)
}

func (l *testLogouts) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// testActivity is an ActivitySource whose last interaction is set by the
// test.
type testActivity struct {
	mu   sync.Mutex
	last time.Time
}

func (a *testActivity) Last() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *testActivity) Set(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = t
}

// testClockStart is a whole second, so token expiries expressed in seconds
// line up with the fake clock.
var testClockStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testTokenSet returns a token set whose access token expires at exp.
func testTokenSet(t *testing.T, exp time.Time) *oidc.TokenSet {
	t.Helper()
	tokens := oidc.NewTokenSet()
	access := oidc.TestToken(t, 0, map[string]interface{}{"exp": exp.Unix(), "session_state": "sess-1"})
	refresh := oidc.TestToken(t, 0, map[string]interface{}{"exp": exp.Add(time.Hour).Unix()})
	require.NoError(t, tokens.Set(access, refresh, ""))
	return tokens
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testAuthorize follows loginURL to the provider's authorization endpoint and
// returns the URL it redirects back to.
func testAuthorize(t *testing.T, tp *oidc.TestProvider, loginURL string) string {
	t.Helper()
	require := require.New(t)
	c := &oidc.Config{ProviderCA: tp.CACert()}
	client, err := c.HTTPClient()
	require.NoError(err)
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := client.Get(loginURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	return resp.Header.Get("Location")
}
