package sso

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridflow/hybridflow/oidc"
)

const (
	testPageOrigin = "https://app.example.com"
	testSSOOrigin  = "https://sso.example.com"
	testInterval   = 5 * time.Second
)

func testConfig() Config {
	return Config{
		ClientID:     "spa",
		AuthorizeURL: testSSOOrigin + "/realms/acme/protocol/openid-connect/auth",
		IframeURL:    testSSOOrigin + "/realms/acme/protocol/openid-connect/login-status-iframe.html",
		Interval:     testInterval,
	}
}

func testTokens(t *testing.T) *oidc.TokenSet {
	t.Helper()
	tokens := oidc.NewTokenSet()
	access := oidc.TestToken(t, time.Hour, map[string]interface{}{"session_state": "sess-1"})
	require.NoError(t, tokens.Set(access, "", ""))
	return tokens
}

type testSignOut struct {
	calls atomic.Int32
	last  atomic.Value
}

func (s *testSignOut) fn(sig Signal) {
	s.calls.Add(1)
	s.last.Store(sig)
}

// testStart starts a synchronizer and waits for it to load its frame and arm
// its ticker.
func testStart(t *testing.T, host *TestHost, tokens TokenSource, opt ...Option) (*Synchronizer, *clockwork.FakeClock) {
	t.Helper()
	require := require.New(t)
	clock := clockwork.NewFakeClock()
	s, err := New(testConfig(), host, tokens, append([]Option{WithClock(clock)}, opt...)...)
	require.NoError(err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(s.Start(context.Background()))
	t.Cleanup(s.Stop)
	require.NoError(clock.BlockUntilContext(ctx, 1))
	return s, clock
}

func TestNew(t *testing.T) {
	t.Parallel()
	host := NewTestHost(testPageOrigin)
	tokens := oidc.NewTokenSet()
	tests := []struct {
		name      string
		cfg       func() Config
		host      Host
		tokens    TokenSource
		wantIsErr error
	}{
		{name: "valid", cfg: testConfig, host: host, tokens: tokens},
		{name: "nil-host", cfg: testConfig, tokens: tokens, wantIsErr: oidc.ErrNilParameter},
		{name: "nil-tokens", cfg: testConfig, host: host, wantIsErr: oidc.ErrNilParameter},
		{
			name:      "missing-client-id",
			cfg:       func() Config { c := testConfig(); c.ClientID = ""; return c },
			host:      host,
			tokens:    tokens,
			wantIsErr: oidc.ErrInvalidParameter,
		},
		{
			name:      "missing-iframe",
			cfg:       func() Config { c := testConfig(); c.IframeURL = ""; return c },
			host:      host,
			tokens:    tokens,
			wantIsErr: oidc.ErrInvalidParameter,
		},
		{
			name:      "zero-interval",
			cfg:       func() Config { c := testConfig(); c.Interval = 0; return c },
			host:      host,
			tokens:    tokens,
			wantIsErr: oidc.ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := New(tt.cfg(), tt.host, tt.tokens)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Nil(got)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.False(got.Running())
			assert.Empty(got.Origin())
		})
	}
}

func TestNewConfig(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, err := oidc.NewConfig(testSSOOrigin, "acme", "spa", oidc.WithSSO(true, 3*time.Second))
	require.NoError(err)
	got := NewConfig(c)
	assert.Equal("spa", got.ClientID)
	assert.Equal(c.Endpoints().Authorize, got.AuthorizeURL)
	assert.Equal(c.Endpoints().SSOIframe, got.IframeURL)
	assert.Equal(3*time.Second, got.Interval)
}

func TestSynchronizer_Start(t *testing.T) {
	t.Parallel()
	t.Run("embeds-and-derives-origin", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		host := NewTestHost(testPageOrigin)
		s, _ := testStart(t, host, testTokens(t))
		assert.True(s.Running())
		assert.Equal(testSSOOrigin, s.Origin())
		assert.Equal([]string{testConfig().IframeURL}, host.Embedded())
	})
	t.Run("already-started", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		host := NewTestHost(testPageOrigin)
		s, _ := testStart(t, host, testTokens(t))
		err := s.Start(context.Background())
		require.Error(err)
		assert.Truef(errors.Is(err, ErrAlreadyStarted), "wanted \"%s\" but got \"%s\"", ErrAlreadyStarted, err)
	})
	t.Run("embed-failure-is-swallowed", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		host := NewTestHost(testPageOrigin)
		host.EmbedErr = errors.New("frame blocked")
		tokens := testTokens(t)
		var signOut testSignOut
		s, err := New(testConfig(), host, tokens, WithClock(clockwork.NewFakeClock()), WithSignOutFunc(signOut.fn))
		require.NoError(err)
		require.NoError(s.Start(context.Background()))
		assert.Eventually(func() bool { return !s.Running() }, time.Second, 10*time.Millisecond)
		assert.False(tokens.IsEmpty())
		assert.Zero(signOut.calls.Load())
		assert.Empty(s.Origin())
	})
	t.Run("stop", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		host := NewTestHost(testPageOrigin)
		s, _ := testStart(t, host, testTokens(t))
		s.Stop()
		assert.False(s.Running())
		s.Stop()
	})
}

func TestSynchronizer_poll(t *testing.T) {
	t.Parallel()
	t.Run("posts-session-state", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		host := NewTestHost(testPageOrigin)
		_, clock := testStart(t, host, testTokens(t))
		clock.Advance(testInterval)
		assert.Eventually(func() bool { return len(host.Frame.Posted()) == 1 }, time.Second, 10*time.Millisecond)
		assert.Equal(TestPost{Data: "spa sess-1", TargetOrigin: testSSOOrigin}, host.Frame.Posted()[0])
	})
	t.Run("no-session-no-post", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		host := NewTestHost(testPageOrigin)
		_, clock := testStart(t, host, oidc.NewTokenSet())
		clock.Advance(testInterval)
		assert.Never(func() bool { return len(host.Frame.Posted()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	})
	t.Run("post-failure-keeps-polling", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		host := NewTestHost(testPageOrigin)
		host.Frame.SetPostError(errors.New("gone"))
		s, clock := testStart(t, host, testTokens(t))
		clock.Advance(testInterval)
		assert.Never(func() bool { return !s.Running() }, 100*time.Millisecond, 10*time.Millisecond)
	})
}

func TestSynchronizer_messages(t *testing.T) {
	t.Parallel()
	t.Run("unchanged", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		host := NewTestHost(testPageOrigin)
		tokens := testTokens(t)
		var signOut testSignOut
		s, clock := testStart(t, host, tokens, WithSignOutFunc(signOut.fn))
		host.Deliver(Message{Data: string(Unchanged), Origin: testSSOOrigin, Source: host.Frame})
		clock.Advance(testInterval)
		assert.Eventually(func() bool { return len(host.Frame.Posted()) == 1 }, time.Second, 10*time.Millisecond)
		assert.True(s.Running())
		assert.False(tokens.IsEmpty())
		assert.Zero(signOut.calls.Load())
	})
	for _, sig := range []Signal{Changed, Error} {
		sig := sig
		t.Run(string(sig), func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			host := NewTestHost(testPageOrigin)
			tokens := testTokens(t)
			var signOut testSignOut
			s, clock := testStart(t, host, tokens, WithSignOutFunc(signOut.fn))
			host.Deliver(Message{Data: string(sig), Origin: testSSOOrigin, Source: host.Frame})
			assert.Eventually(func() bool { return signOut.calls.Load() == 1 }, time.Second, 10*time.Millisecond)
			assert.Equal(sig, signOut.last.Load())
			assert.True(tokens.IsEmpty())
			assert.Eventually(func() bool { return !s.Running() }, time.Second, 10*time.Millisecond)

			// stopped: no more polls and no second sign out
			host.Deliver(Message{Data: string(sig), Origin: testSSOOrigin, Source: host.Frame})
			clock.Advance(testInterval)
			assert.Never(func() bool {
				return signOut.calls.Load() > 1 || len(host.Frame.Posted()) > 0
			}, 100*time.Millisecond, 10*time.Millisecond)
		})
	}
	t.Run("ignores-foreign-messages", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		host := NewTestHost(testPageOrigin)
		tokens := testTokens(t)
		var signOut testSignOut
		_, _ = testStart(t, host, tokens, WithSignOutFunc(signOut.fn))
		host.Deliver(Message{Data: string(Changed), Origin: "https://evil.example.com", Source: host.Frame})
		host.Deliver(Message{Data: string(Changed), Origin: testSSOOrigin, Source: &TestFrame{}})
		host.Deliver(Message{Data: "bogus", Origin: testSSOOrigin, Source: host.Frame})
		assert.Never(func() bool { return signOut.calls.Load() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
		assert.False(tokens.IsEmpty())

		host.Deliver(Message{Data: string(Changed), Origin: testSSOOrigin, Source: host.Frame})
		assert.Eventually(func() bool { return signOut.calls.Load() == 1 }, time.Second, 10*time.Millisecond)
		assert.True(tokens.IsEmpty())
	})
}

func TestParseSignal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		data   string
		want   Signal
		wantOk bool
	}{
		{data: "unchanged", want: Unchanged, wantOk: true},
		{data: "changed", want: Changed, wantOk: true},
		{data: "error", want: Error, wantOk: true},
		{data: "Changed"},
		{data: ""},
	}
	for _, tt := range tests {
		got, ok := ParseSignal(tt.data)
		assert.Equal(t, tt.want, got, tt.data)
		assert.Equal(t, tt.wantOk, ok, tt.data)
	}
}

func TestDeriveOrigin(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		authorize  string
		pageOrigin string
		want       string
	}{
		{
			name:       "absolute",
			authorize:  "https://sso.example.com/realms/acme/protocol/openid-connect/auth",
			pageOrigin: testPageOrigin,
			want:       "https://sso.example.com",
		},
		{
			name:       "with-port",
			authorize:  "http://localhost:8080/realms/acme/protocol/openid-connect/auth",
			pageOrigin: testPageOrigin,
			want:       "http://localhost:8080",
		},
		{
			name:       "relative",
			authorize:  "/auth/realms/acme/protocol/openid-connect/auth",
			pageOrigin: testPageOrigin,
			want:       testPageOrigin,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DeriveOrigin(tt.authorize, tt.pageOrigin))
		})
	}
}
