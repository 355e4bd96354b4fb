// Package ginsession wires internal/session into a Gin engine, mirroring
// the shape of the teacher's internal/auth/middleware.go: a Middleware()
// that resolves (or lazily creates) a session on every request and stashes
// it in gin.Context, plus RequireAuth()/RequireRole() guards built on top
// of it. The anti-CSRF check itself lives inside the Kernel Resolver
// (spec.md §4.4 step f), not as an opt-in per-route middleware: Middleware
// runs it for every state-changing request by virtue of calling
// State.GetSession with the request's method.
package ginsession

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/blitzauth/sessioncore/internal/errors"
	"github.com/blitzauth/sessioncore/internal/session"
)

const contextKeySession = "sessionContext"

// Middleware resolves the session for every request (creating a fresh
// anonymous one if needed) and stores the resulting *session.Context on
// gin.Context under contextKeySession, mirroring the teacher's
// auth.Middleware() storing userID/claims under fixed context keys. A
// failed double-submit CSRF check on a state-changing request aborts the
// chain with 403 here, before any handler runs.
func Middleware(engine *session.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := session.NewState()
		sctx, err := state.GetSession(c.Request.Context(), engine, c.Request.Method, c.Request.Header, c.Writer.Header())
		if err != nil {
			writeAppError(c, err)
			c.Abort()
			return
		}
		c.Set(contextKeySession, sctx)
		c.Next()
	}
}

// RequireAuth aborts with 401 unless the resolved session is authenticated.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		sctx := FromContext(c)
		if sctx == nil || !sctx.IsAuthenticated() {
			writeAppError(c, apperrors.Authentication("authentication required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRole aborts with 403 unless the session's role (or roles) contains
// one of the allowed values.
func RequireRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}
	return func(c *gin.Context) {
		sctx := FromContext(c)
		if sctx == nil || !sctx.IsAuthenticated() {
			writeAppError(c, apperrors.Authentication("authentication required"))
			c.Abort()
			return
		}
		if _, ok := allowedSet[sctx.Role()]; ok {
			c.Next()
			return
		}
		for _, r := range sctx.Roles() {
			if _, ok := allowedSet[r]; ok {
				c.Next()
				return
			}
		}
		writeAppError(c, apperrors.Authorization("insufficient role"))
		c.Abort()
	}
}

// FromContext retrieves the *session.Context Middleware stored on c, or nil
// if Middleware was never run for this request.
func FromContext(c *gin.Context) *session.Context {
	v, ok := c.Get(contextKeySession)
	if !ok {
		return nil
	}
	sctx, _ := v.(*session.Context)
	return sctx
}

func writeAppError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	c.JSON(http.StatusInternalServerError, apperrors.InternalServer(err.Error()).ToResponse())
}
