package callback

import (
	"context"
	"sync"

	"github.com/hybridflow/hybridflow/oidc"
)

// RequestTaker defines an interface for consuming the pending oidc.Request.
// Take must return the pending request at most once; subsequent calls
// return oidc.ErrNotFound until a new request is saved.  *oidc.RequestStore
// implements it.
type RequestTaker interface {
	Take(ctx context.Context) (*oidc.Request, error)
}

// ensure that oidc.RequestStore implements the RequestTaker interface
var _ RequestTaker = (*oidc.RequestStore)(nil)

// SingleRequestTaker implements the RequestTaker interface for a single
// request.  It is concurrently safe.
type SingleRequestTaker struct {
	mu      sync.Mutex
	Request *oidc.Request
}

// Take returns the request and forgets it.  Once taken, or when it holds no
// request, it returns an error of oidc.ErrNotFound.
func (s *SingleRequestTaker) Take(_ context.Context) (*oidc.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Request == nil {
		return nil, oidc.ErrNotFound
	}
	r := s.Request
	s.Request = nil
	return r, nil
}
