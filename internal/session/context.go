package session

import (
	"context"
	"net/http"

	apperrors "github.com/blitzauth/sessioncore/internal/errors"
)

// Context is the per-request handle application code interacts with
// (spec.md §4.6, C6 "Session Context"). It binds a resolved Kernel to the
// Engine that minted it and the response headers any mutation must be
// mirrored onto, so callers never have to thread cookie-writing logic
// through their own handlers.
//
// Context deliberately does not embed a context.Context itself: every
// method that performs I/O takes one explicitly as its first argument, the
// idiomatic Go convention the teacher follows throughout internal/auth and
// internal/cache.
type Context struct {
	engine      *Engine
	kernel      *Kernel
	respHeaders http.Header
}

func newContext(engine *Engine, kernel *Kernel, respHeaders http.Header) *Context {
	return &Context{engine: engine, kernel: kernel, respHeaders: respHeaders}
}

// Handle returns the session's opaque handle.
func (c *Context) Handle() string { return c.kernel.Handle }

// IsAuthenticated reports whether this session belongs to a logged-in user.
func (c *Context) IsAuthenticated() bool { return c.kernel.Kind == Authenticated }

// UserID returns the authenticated user's id, or nil for anonymous
// sessions.
func (c *Context) UserID() *string { return c.kernel.UserID() }

// Role returns the session's "role" public-data key.
func (c *Context) Role() string { return c.kernel.PublicData.Role() }

// Roles returns the session's "roles" public-data key.
func (c *Context) Roles() []string { return c.kernel.PublicData.Roles() }

// PublicData returns a copy of the session's current public data.
func (c *Context) PublicData() PublicData { return c.kernel.PublicData.Clone() }

// AntiCSRFToken returns the session's anti-CSRF token, for callers that
// need to surface it to a template or API response directly.
func (c *Context) AntiCSRFToken() string { return c.kernel.AntiCSRFToken }

// ValidateAntiCSRF checks provided against the session's anti-CSRF token
// using a constant-time comparison (spec.md §4.7).
func (c *Context) ValidateAntiCSRF(provided string) error {
	return c.engine.ValidateAntiCSRF(c.kernel, provided)
}

// Authorize promotes the current (anonymous) session to an authenticated
// one for userID, issuing a brand-new handle (spec.md §4.5's
// anonymous-to-authenticated promotion). The prior anonymous kernel's
// publicData and any lazily-created privateData (spec.md §4.6) are carried
// over into the new authenticated session (P6): the caller's publicData and
// privateData win on key conflicts, but keys the anonymous session held and
// the caller didn't mention survive (E2E scenario 5). Calling Authorize on
// an already-authenticated Context is an error; call Revoke first if the
// intent is to switch users.
func (c *Context) Authorize(ctx context.Context, userID string, publicData PublicData, privateData PrivateData) error {
	if c.kernel.Kind == Authenticated {
		return ErrAnonymousSessionRequired()
	}
	k, err := c.engine.CreateAuthenticatedSession(ctx, userID, publicData, privateData, c.kernel)
	if err != nil {
		return err
	}
	c.kernel = k
	return c.engine.WriteKernel(c.respHeaders, c.kernel)
}

// Revoke ends the current session (store deletion for authenticated
// sessions, cookie clear for both kinds) and clears every cookie the core
// manages.
func (c *Context) Revoke(ctx context.Context) error {
	if err := c.engine.RevokeSession(ctx, c.kernel); err != nil {
		return err
	}
	c.engine.ClearKernel(c.respHeaders)
	return nil
}

// RevokeAllOtherSessions revokes every other store-backed session for the
// current user, keeping only this Context's own session alive.
func (c *Context) RevokeAllOtherSessions(ctx context.Context) (int, error) {
	uid := c.kernel.UserID()
	if uid == nil {
		return 0, ErrAuthenticatedSessionRequired()
	}
	handles, err := c.engine.store.HandlesForUser(ctx, *uid)
	if err != nil {
		return 0, apperrors.StoreError(err)
	}
	n := 0
	for _, h := range handles {
		if h == c.kernel.Handle {
			continue
		}
		if err := c.engine.store.Delete(ctx, h); err == nil {
			n++
		}
	}
	return n, nil
}

// SetPublicData merges patch into this session's public data, persists it,
// propagates it to the user's other live sessions, and rewrites the
// affected cookies.
func (c *Context) SetPublicData(ctx context.Context, patch PublicData) error {
	k, err := c.engine.SetPublicData(ctx, c.kernel, patch)
	if err != nil {
		return err
	}
	c.kernel = k
	return c.engine.WriteKernel(c.respHeaders, c.kernel)
}

// GetPrivateData loads the server-only private data blob for this session.
func (c *Context) GetPrivateData(ctx context.Context) (PrivateData, error) {
	return c.engine.GetPrivateData(ctx, c.kernel)
}

// SetPrivateData merges patch into this session's private data.
func (c *Context) SetPrivateData(ctx context.Context, patch PrivateData) error {
	return c.engine.SetPrivateData(ctx, c.kernel, patch)
}

// Touch refreshes the session's rolling idle expiry and rewrites its
// cookies, without changing any data.
func (c *Context) Touch(ctx context.Context) error {
	k, err := c.engine.RefreshSession(ctx, c.kernel)
	if err != nil {
		return err
	}
	c.kernel = k
	return c.engine.WriteKernel(c.respHeaders, c.kernel)
}
