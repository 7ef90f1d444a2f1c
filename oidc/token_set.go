package oidc

import (
	"fmt"
	"maps"
	"sync"
)

// Snapshot is a consistent copy of a TokenSet.
type Snapshot struct {
	Generation         uint64
	AccessToken        AccessToken
	AccessTokenClaims  Claims
	RefreshToken       RefreshToken
	RefreshTokenClaims Claims
	IDToken            IDToken
	IDTokenClaims      Claims
}

// TokenSet holds the access, refresh and id tokens of a session along with
// their decoded claims.  The three tokens are always installed and cleared
// together.  Every Set and Clear advances the set's generation, which lets a
// request started before the change discard its result with SetAt.  It is
// concurrently safe.
type TokenSet struct {
	mu  sync.RWMutex
	gen uint64

	access        AccessToken
	accessClaims  Claims
	refresh       RefreshToken
	refreshClaims Claims
	id            IDToken
	idClaims      Claims
}

// NewTokenSet creates an empty TokenSet.
func NewTokenSet() *TokenSet {
	return &TokenSet{}
}

// Set decodes and installs the three tokens.  Any of them may be empty.  If
// a token cannot be decoded the set is left unchanged and the returned error
// matches ErrMalformedToken.
func (s *TokenSet) Set(access, refresh, id string) error {
	const op = "TokenSet.Set"
	d, err := decodeTokens(access, refresh, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.install(d)
	return nil
}

// SetAt is Set conditioned on the set still being at generation gen.  When
// another Set or Clear happened since gen was read, nothing is installed and
// ErrStaleGeneration is returned.
func (s *TokenSet) SetAt(gen uint64, access, refresh, id string) error {
	const op = "TokenSet.SetAt"
	d, err := decodeTokens(access, refresh, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return fmt.Errorf("%s: generation %d is now %d: %w", op, gen, s.gen, ErrStaleGeneration)
	}
	s.install(d)
	return nil
}

// Clear wipes all tokens and claims.  It is idempotent, and like Set it
// invalidates any request holding an older generation.
func (s *TokenSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.install(decoded{})
}

// ClearAt is Clear conditioned on the set still being at generation gen.  It
// reports whether the set was cleared.
func (s *TokenSet) ClearAt(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.install(decoded{})
	return true
}

// Generation returns the current generation.
func (s *TokenSet) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Snapshot returns a copy of the set's current state.
func (s *TokenSet) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Generation:         s.gen,
		AccessToken:        s.access,
		AccessTokenClaims:  maps.Clone(s.accessClaims),
		RefreshToken:       s.refresh,
		RefreshTokenClaims: maps.Clone(s.refreshClaims),
		IDToken:            s.id,
		IDTokenClaims:      maps.Clone(s.idClaims),
	}
}

// AccessTokenClaims returns a copy of the access token's claims, or nil when
// no access token is installed.
func (s *TokenSet) AccessTokenClaims() Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.accessClaims)
}

// RefreshToken returns the installed refresh token.
func (s *TokenSet) RefreshToken() RefreshToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// IsEmpty reports whether no token is installed.
func (s *TokenSet) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access == "" && s.refresh == "" && s.id == ""
}

type decoded struct {
	access        AccessToken
	accessClaims  Claims
	refresh       RefreshToken
	refreshClaims Claims
	id            IDToken
	idClaims      Claims
}

func decodeTokens(access, refresh, id string) (decoded, error) {
	var d decoded
	var err error
	if access != "" {
		if d.accessClaims, err = DecodeClaims(access); err != nil {
			return decoded{}, fmt.Errorf("access_token: %w", err)
		}
		d.access = AccessToken(access)
	}
	if refresh != "" {
		if d.refreshClaims, err = DecodeClaims(refresh); err != nil {
			return decoded{}, fmt.Errorf("refresh_token: %w", err)
		}
		d.refresh = RefreshToken(refresh)
	}
	if id != "" {
		if d.idClaims, err = DecodeClaims(id); err != nil {
			return decoded{}, fmt.Errorf("id_token: %w", err)
		}
		d.id = IDToken(id)
	}
	return d, nil
}

// install replaces the set's state and advances its generation.  The caller
// must hold s.mu.
func (s *TokenSet) install(d decoded) {
	s.access, s.accessClaims = d.access, d.accessClaims
	s.refresh, s.refreshClaims = d.refresh, d.refreshClaims
	s.id, s.idClaims = d.id, d.idClaims
	s.gen++
}
