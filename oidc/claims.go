package oidc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Claims are the decoded payload of a token.
type Claims map[string]interface{}

// DecodeClaims decodes the payload segment of a JWT-shaped token into claims.
// The token's signature is not verified.  It fails with ErrMalformedToken
// when the token has fewer than two segments or the payload is not
// base64url-encoded JSON.
func DecodeClaims(token string) (Claims, error) {
	const op = "oidc.DecodeClaims"
	var claims Claims
	if err := UnmarshalClaims(token, &claims); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if claims == nil {
		return nil, fmt.Errorf("%s: payload is null: %w", op, ErrMalformedToken)
	}
	return claims, nil
}

// UnmarshalClaims decodes the payload segment of a JWT-shaped token into v.
func UnmarshalClaims(token string, v interface{}) error {
	const op = "oidc.UnmarshalClaims"
	payload, err := decodePayload(token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("%s: payload is not json: %s: %w", op, err, ErrMalformedToken)
	}
	return nil
}

// decodePayload returns the payload segment of token as UTF-8 text.
func decodePayload(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return "", fmt.Errorf("token has %d segments: %w", len(parts), ErrMalformedToken)
	}
	seg := strings.NewReplacer("-", "+", "_", "/").Replace(parts[1])
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(seg, "="))
	if err != nil {
		return "", fmt.Errorf("payload is not base64url: %s: %w", err, ErrMalformedToken)
	}
	return reassembleUTF8(raw), nil
}

// reassembleUTF8 rebuilds text from raw bytes.  ASCII bytes are copied as is;
// each run of non-ASCII bytes is decoded as one unit and becomes a single
// U+FFFD when it is not valid UTF-8.
func reassembleUTF8(raw []byte) string {
	var sb strings.Builder
	sb.Grow(len(raw))
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		if run := raw[start:end]; utf8.Valid(run) {
			sb.Write(run)
		} else {
			sb.WriteRune(utf8.RuneError)
		}
		start = -1
	}
	for i, b := range raw {
		if b < utf8.RuneSelf {
			flush(i)
			sb.WriteByte(b)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(raw))
	return sb.String()
}

// Expiry returns the "exp" claim.
func (c Claims) Expiry() (time.Time, bool) {
	return c.time("exp")
}

// IssuedAt returns the "iat" claim.
func (c Claims) IssuedAt() (time.Time, bool) {
	return c.time("iat")
}

// Nonce returns the "nonce" claim.
func (c Claims) Nonce() (string, bool) {
	return c.str("nonce")
}

// SessionState returns the "session_state" claim.
func (c Claims) SessionState() (string, bool) {
	return c.str("session_state")
}

// Subject returns the "sub" claim.
func (c Claims) Subject() (string, bool) {
	return c.str("sub")
}

// DisplayName returns the "name" claim, falling back to
// "preferred_username", in Unicode normalization form C.
func (c Claims) DisplayName() string {
	for _, k := range []string{"name", "preferred_username"} {
		if s, ok := c.str(k); ok && s != "" {
			return norm.NFC.String(s)
		}
	}
	return ""
}

func (c Claims) str(key string) (string, bool) {
	v, ok := c[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (c Claims) time(key string) (time.Time, bool) {
	var secs float64
	switch v := c[key].(type) {
	case float64:
		secs = v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	default:
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), true
}
