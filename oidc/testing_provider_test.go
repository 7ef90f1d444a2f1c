package oidc

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestProvider(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t, "acme")
	c := &Config{ProviderCA: tp.CACert()}
	client, err := c.HTTPClient()
	require.NoError(t, err)
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	base := tp.Addr() + "/realms/acme/protocol/openid-connect"

	t.Run("auth-unknown-client", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		q := url.Values{
			"client_id":     {"nobody"},
			"redirect_uri":  {"https://app.example.com/"},
			"state":         {"S1"},
			"response_mode": {"fragment"},
			"scope":         {"openid"},
		}
		resp, err := client.Get(base + "/auth?" + q.Encode())
		require.NoError(err)
		defer resp.Body.Close()
		assert.Equal(http.StatusFound, resp.StatusCode)
		loc := resp.Header.Get("Location")
		assert.True(strings.HasPrefix(loc, "https://app.example.com/#state=S1&error=unauthorized_client"), loc)
	})
	t.Run("token-bad-grant", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		resp, err := client.PostForm(base+"/token", url.Values{"client_id": {tp.ClientID()}, "grant_type": {"password"}})
		require.NoError(err)
		defer resp.Body.Close()
		assert.Equal(http.StatusBadRequest, resp.StatusCode)
	})
	t.Run("logout-redirects", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		resp, err := client.Get(base + "/logout?redirect_uri=" + url.QueryEscape("https://app.example.com/"))
		require.NoError(err)
		defer resp.Body.Close()
		assert.Equal(http.StatusFound, resp.StatusCode)
		assert.Equal("https://app.example.com/", resp.Header.Get("Location"))
	})
	t.Run("sso-iframe", func(t *testing.T) {
		require := require.New(t)
		resp, err := client.Get(base + "/login-status-iframe.html")
		require.NoError(err)
		defer resp.Body.Close()
		require.Equal(http.StatusOK, resp.StatusCode)
	})
	t.Run("other-realm", func(t *testing.T) {
		require := require.New(t)
		resp, err := client.Get(tp.Addr() + "/realms/other/protocol/openid-connect/auth")
		require.NoError(err)
		defer resp.Body.Close()
		require.Equal(http.StatusNotFound, resp.StatusCode)
	})
}
