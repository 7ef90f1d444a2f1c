package oidc

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRawToken builds a JWT-shaped token around an arbitrary payload.
func testRawToken(payload []byte) string {
	return "eyJhbGciOiJub25lIn0." + base64.RawURLEncoding.EncodeToString(payload) + ".c2ln"
}

func TestDecodeClaims_RoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		claims map[string]interface{}
	}{
		{name: "empty", claims: map[string]interface{}{}},
		{
			name: "standard",
			claims: map[string]interface{}{
				"sub": "alice", "exp": float64(1700000000), "nonce": "n-1",
				"aud": []interface{}{"spa", "account"},
			},
		},
		{
			name: "nested",
			claims: map[string]interface{}{
				"realm_access": map[string]interface{}{"roles": []interface{}{"admin", "user"}},
				"email_verified": true,
				"acr":            nil,
			},
		},
		{
			name: "non-ascii",
			claims: map[string]interface{}{
				"name":   "Zoë Ørsted",
				"family": "山田",
				"emoji":  "🙂 ok",
			},
		},
		{
			// base64 of these bytes contains both '-' and '_'
			name:   "url-alphabet",
			claims: map[string]interface{}{"k": "~~~???"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			payload, err := json.Marshal(tt.claims)
			require.NoError(err)
			got, err := DecodeClaims(testRawToken(payload))
			require.NoError(err)
			assert.Equal(Claims(tt.claims), got)
		})
	}
	t.Run("signed", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tk := TestToken(t, time.Minute, map[string]interface{}{"name": "Zoë", "nonce": "n-1"})
		got, err := DecodeClaims(tk)
		require.NoError(err)
		assert.Equal("Zoë", got["name"])
		nonce, ok := got.Nonce()
		assert.True(ok)
		assert.Equal("n-1", nonce)
	})
	t.Run("padded", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		seg := base64.URLEncoding.EncodeToString([]byte(`{"a":1}`))
		require.Contains(seg, "=")
		got, err := DecodeClaims("h." + seg)
		require.NoError(err)
		assert.Equal(Claims{"a": float64(1)}, got)
	})
}

func TestDecodeClaims_InvalidUTF8(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload []byte
		want    string
	}{
		{name: "valid-multibyte", payload: []byte("{\"name\":\"Zo\xc3\xab\"}"), want: "Zoë"},
		{name: "invalid-run", payload: []byte("{\"name\":\"A\xff\xfeB\"}"), want: "A�B"},
		{name: "truncated-sequence", payload: []byte("{\"name\":\"x\xe5\xb1y\"}"), want: "x�y"},
		{name: "valid-then-invalid-run", payload: []byte("{\"name\":\"\xc3\xab\xff\"}"), want: "�"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := DecodeClaims(testRawToken(tt.payload))
			require.NoError(err)
			assert.Equal(tt.want, got["name"])
		})
	}
}

func TestDecodeClaims_Malformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "one-segment", token: "eyJhIjoxfQ"},
		{name: "bad-base64", token: "h.!!!.s"},
		{name: "not-json", token: testRawToken([]byte("not json"))},
		{name: "json-array", token: testRawToken([]byte(`[1,2]`))},
		{name: "json-null", token: testRawToken([]byte(`null`))},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			got, err := DecodeClaims(tt.token)
			assert.Truef(errors.Is(err, ErrMalformedToken), "wanted \"%s\" but got \"%s\"", ErrMalformedToken, err)
			assert.Nil(got)
		})
	}
}

func TestUnmarshalClaims(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	var got struct {
		SessionState string `json:"session_state"`
		Exp          int64  `json:"exp"`
	}
	require.NoError(UnmarshalClaims(testRawToken([]byte(`{"session_state":"s-1","exp":42}`)), &got))
	assert.Equal("s-1", got.SessionState)
	assert.Equal(int64(42), got.Exp)
}

func TestClaims_Helpers(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	c := Claims{
		"exp":                float64(1700000000.5),
		"iat":                json.Number("1699999000"),
		"nonce":              "n-1",
		"session_state":      "s-1",
		"sub":                "alice",
		"preferred_username": "zoë",
	}
	exp, ok := c.Expiry()
	assert.True(ok)
	assert.Equal(time.Unix(1700000000, 500000000), exp)
	iat, ok := c.IssuedAt()
	assert.True(ok)
	assert.Equal(time.Unix(1699999000, 0), iat)
	n, _ := c.Nonce()
	assert.Equal("n-1", n)
	s, _ := c.SessionState()
	assert.Equal("s-1", s)
	sub, _ := c.Subject()
	assert.Equal("alice", sub)
	assert.Equal("zoë", c.DisplayName())

	c["name"] = "Zoe\u0308"
	assert.Equal("Zo\u00eb", c.DisplayName())

	var empty Claims
	_, ok = empty.Expiry()
	assert.False(ok)
	_, ok = empty.Nonce()
	assert.False(ok)
	assert.Equal("", empty.DisplayName())
	_, ok = Claims{"nonce": 7}.Nonce()
	assert.False(ok)
}
