package oidc

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"

	"github.com/hybridflow/hybridflow/oidc/internal/strutils"
)

// TestProvider is a local TLS server emulating a provider realm's
// authorization, token and logout endpoints, which makes writing tests much
// easier.  Tokens it issues are signed with a throwaway key.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	realm      string

	mu                  sync.Mutex
	clientID            string
	allowedRedirectURIs []string
	expectedAuthCode    string
	authNonce           string
	replyNonce          string
	sessionState        string
	subject             string
	customClaims        map[string]interface{}
	accessTokenExpiry   time.Duration
	refreshExpiresIn    time.Duration
	refreshStatus       int
	omitIDToken         bool
	exchanges           int
	refreshes           int

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider serving realm.  It is
// stopped when the test completes.
func StartTestProvider(t *testing.T, realm string) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		realm:             realm,
		clientID:          "test-client",
		expectedAuthCode:  "test-code",
		sessionState:      "test-session-state",
		subject:           "alice",
		accessTokenExpiry: 5 * time.Minute,
		refreshExpiresIn:  30 * time.Minute,
		t:                 t,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the provider's base URL.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the provider's
// server.
func (p *TestProvider) CACert() string { return p.caCert }

// Realm returns the realm the provider serves.
func (p *TestProvider) Realm() string { return p.realm }

// ClientID returns the client id the provider accepts.
func (p *TestProvider) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID
}

// SigningKeys returns the provider's pem-encoded key pair.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// SetClientID configures the client id the provider accepts.
func (p *TestProvider) SetClientID(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
}

// SetExpectedAuthCode configures the authorization code issued by the
// authorization endpoint and accepted by the token endpoint.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAllowedRedirectURIs limits the redirect uris accepted by the provider.
// An empty list accepts any uri.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetReplyNonce forces the nonce placed in issued tokens.  By default the
// nonce of the last authorization request is used.
func (p *TestProvider) SetReplyNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyNonce = nonce
}

// SetSessionState configures the session_state of issued tokens and
// redirects.
func (p *TestProvider) SetSessionState(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionState = s
}

// SetCustomClaims adds claims to every issued token.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetAccessTokenExpiry configures the lifetime of issued access tokens.  A
// negative value issues tokens which are already expired.
func (p *TestProvider) SetAccessTokenExpiry(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokenExpiry = d
}

// SetRefreshExpiresIn configures the refresh_expires_in reported by the token
// endpoint.  Zero omits it.
func (p *TestProvider) SetRefreshExpiresIn(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshExpiresIn = d
}

// SetRefreshStatus makes the token endpoint fail refreshes with the given
// http status.  Zero restores successful refreshes.
func (p *TestProvider) SetRefreshStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshStatus = status
}

// OmitIDTokens makes the token endpoint leave id_token out of its responses.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// ExchangeCount returns how many codes were exchanged successfully.
func (p *TestProvider) ExchangeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchanges
}

// RefreshCount returns how many refresh requests were received.
func (p *TestProvider) RefreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") + fragmentSep(qv.Get("redirect_uri")) +
		"state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

// fragmentSep returns the separator which appends response parameters to the
// fragment of uri, extending a fragment already present.
func fragmentSep(uri string) string {
	if strings.Contains(uri, "#") {
		return "&"
	}
	return "#"
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

func (p *TestProvider) redirectAllowed(uri string) bool {
	return len(p.allowedRedirectURIs) == 0 || strutils.StrListContains(p.allowedRedirectURIs, uri)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	prefix := "/realms/" + url.PathEscape(p.realm) + "/protocol/openid-connect/"
	endpoint, ok := strings.CutPrefix(req.URL.EscapedPath(), prefix)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch endpoint {
	case "auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		redirectURI := qv.Get("redirect_uri")
		switch {
		case redirectURI == "" || !p.redirectAllowed(redirectURI):
			w.WriteHeader(http.StatusBadRequest)
			return
		case qv.Get("client_id") != p.clientID:
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "unknown client")
			return
		case qv.Get("response_mode") != "fragment":
			p.writeAuthErrorResponse(w, req, "invalid_request", "unsupported response_mode")
			return
		case !strutils.StrListContains(strings.Fields(qv.Get("scope")), "openid"):
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		case qv.Get("state") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}
		p.authNonce = qv.Get("nonce")

		redirectURI += fragmentSep(redirectURI) +
			"state=" + url.QueryEscape(qv.Get("state")) +
			"&session_state=" + url.QueryEscape(p.sessionState) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if req.FormValue("client_id") != p.clientID {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return
		}
		switch req.FormValue("grant_type") {
		case "authorization_code":
			switch {
			case !p.redirectAllowed(req.FormValue("redirect_uri")):
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
				return
			case req.FormValue("code") != p.expectedAuthCode:
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
				return
			}
			p.exchanges++
		case "refresh_token":
			p.refreshes++
			switch {
			case req.FormValue("refresh_token") == "":
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing refresh_token")
				return
			case p.refreshStatus != 0 && p.refreshStatus != http.StatusOK:
				_ = p.writeTokenErrorResponse(w, p.refreshStatus, "invalid_grant", "refresh rejected")
				return
			}
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = p.writeJSON(w, p.tokenReply())

	case "logout":
		redirectURI := req.URL.Query().Get("redirect_uri")
		if redirectURI == "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "login-status-iframe.html":
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<!DOCTYPE html><html><body></body></html>")

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type testTokenReply struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	IDToken          string `json:"id_token,omitempty"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	SessionState     string `json:"session_state"`
}

// tokenReply mints a token set.  The caller must hold p.mu.
func (p *TestProvider) tokenReply() *testTokenReply {
	now := time.Now()
	nonce := p.authNonce
	if p.replyNonce != "" {
		nonce = p.replyNonce
	}
	refreshLifetime := p.refreshExpiresIn
	if refreshLifetime <= 0 {
		refreshLifetime = 30 * time.Minute
	}
	mint := func(typ string, lifetime time.Duration) string {
		std := jwt.Claims{
			Issuer:    p.Addr() + "/realms/" + p.realm,
			Subject:   p.subject,
			Audience:  jwt.Audience{p.clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			Expiry:    jwt.NewNumericDate(now.Add(lifetime)),
		}
		private := map[string]interface{}{
			"typ":           typ,
			"azp":           p.clientID,
			"session_state": p.sessionState,
		}
		if nonce != "" {
			private["nonce"] = nonce
		}
		for k, v := range p.customClaims {
			private[k] = v
		}
		return TestSignJWT(p.t, p.ecdsaPrivateKey, std, private)
	}
	reply := &testTokenReply{
		AccessToken:  mint("Bearer", p.accessTokenExpiry),
		RefreshToken: mint("Refresh", refreshLifetime),
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.accessTokenExpiry / time.Second),
		SessionState: p.sessionState,
	}
	if !p.omitIDToken {
		reply.IDToken = mint("ID", p.accessTokenExpiry)
	}
	if p.refreshExpiresIn > 0 {
		reply.RefreshExpiresIn = int64(p.refreshExpiresIn / time.Second)
	}
	return reply
}
