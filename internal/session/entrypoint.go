package session

import (
	"context"
	"net/http"
	"sync"

	apperrors "github.com/blitzauth/sessioncore/internal/errors"
	"github.com/blitzauth/sessioncore/internal/logger"
)

// State memoizes the resolved Context for one HTTP request (spec.md §4.8,
// C8 "Entry Point" / §5 concurrency note: resolution must happen at most
// once per request even if multiple middlewares or handlers ask for it).
// Framework adapters (internal/ginsession) create one State per request and
// store it wherever their framework keeps per-request values; plain
// net/http callers can stash it in a request context value.
type State struct {
	mu       sync.Mutex
	resolved bool
	kernel   *Kernel
	err      error
}

// NewState returns an empty, unresolved State.
func NewState() *State {
	return &State{}
}

// GetSession resolves (memoized) the session kernel for reqHeaders and
// returns a Context bound to respHeaders, lazily creating a fresh anonymous
// session if the request carries no recognizable credential at all
// (spec.md §4.8 "every request has a session, created on first touch if
// necessary"). method is the request's HTTP method, needed by the Kernel
// Resolver to gate both the rolling-refresh decision and the anti-CSRF
// check on state-changing verbs (spec.md §4.4 steps f/g).
//
// A CSRF mismatch is reported back to the caller rather than papered over
// with a fresh anonymous session: the anti-csrf-token-error signalling
// header (spec.md §4.4 step f, §6, P3) is set on respHeaders before the
// error is returned, so the caller's own error handling still runs but the
// client can tell a CSRF failure apart from any other rejection.
//
// Calling GetSession more than once against the same State with the same
// engine returns the same underlying Kernel; this is what lets an
// authentication middleware and a handler both call GetSession without
// resolving (or double-minting an anonymous session for) the request
// twice.
func (s *State) GetSession(ctx context.Context, engine *Engine, method string, reqHeaders, respHeaders http.Header) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		if s.err != nil {
			return nil, s.err
		}
		return newContext(engine, s.kernel, respHeaders), nil
	}

	kernel, refreshed, err := engine.Resolve(ctx, reqHeaders, method)
	if err != nil {
		if appErr, ok := err.(*apperrors.AppError); ok && appErr.Code == apperrors.ErrCodeCSRFTokenMismatch {
			WriteCSRFErrorHeader(respHeaders)
			s.resolved = true
			s.err = err
			return nil, err
		}
		logger.Session().Debug().Err(err).Msg("session resolution failed, issuing fresh anonymous session")
		kernel = nil
	}
	if kernel == nil {
		kernel, err = engine.CreateAnonymousSession(nil)
		if err != nil {
			s.resolved = true
			s.err = err
			return nil, err
		}
		if err := engine.WriteKernel(respHeaders, kernel); err != nil {
			s.resolved = true
			s.err = err
			return nil, err
		}
	} else if refreshed {
		if err := engine.WriteKernel(respHeaders, kernel); err != nil {
			s.resolved = true
			s.err = err
			return nil, err
		}
	}

	s.resolved = true
	s.kernel = kernel
	return newContext(engine, kernel, respHeaders), nil
}

// Peek returns the memoized kernel without triggering resolution, or nil if
// GetSession has not yet been called on this State.
func (s *State) Peek() *Kernel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kernel
}
