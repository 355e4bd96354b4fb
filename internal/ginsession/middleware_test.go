package ginsession

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzauth/sessioncore/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testEngine(t *testing.T) *session.Engine {
	t.Helper()
	cfg := &session.Config{
		Method:                   session.MethodEssential,
		MasterSecret:             "this-is-a-32-byte-test-secret!!",
		CookieSameSite:           "Lax",
		AnonSessionExpiryMinutes: 60,
		IdleExpiryMinutes:        60,
	}
	e, err := session.NewEngine(cfg, session.NewMemoryStore())
	require.NoError(t, err)
	return e
}

func newRouter(engine *session.Engine) *gin.Engine {
	r := gin.New()
	r.Use(Middleware(engine))
	r.GET("/whoami", func(c *gin.Context) {
		sctx := FromContext(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": sctx.IsAuthenticated()})
	})
	authed := r.Group("/private", RequireAuth())
	authed.GET("/data", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestMiddlewareIssuesAnonymousSessionOnFirstRequest(t *testing.T) {
	r := newRouter(testEngine(t))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Values("Set-Cookie"))
	assert.Contains(t, w.Body.String(), `"authenticated":false`)
}

func TestRequireAuthRejectsAnonymousSession(t *testing.T) {
	r := newRouter(testEngine(t))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/private/data", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareAllowsSafeMethodsWithoutCSRFToken(t *testing.T) {
	engine := testEngine(t)
	r := gin.New()
	r.Use(Middleware(engine))
	r.GET("/safe", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/safe", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddlewareRejectsMissingCSRFTokenOnPost(t *testing.T) {
	engine := testEngine(t)
	r := gin.New()
	r.Use(Middleware(engine))
	r.GET("/safe", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/unsafe", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Obtain a session credential first: a request with no credential at
	// all is answered with a fresh anonymous session, not a CSRF failure.
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/safe", nil))
	require.Equal(t, http.StatusOK, w1.Code)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/unsafe", nil)
	for _, c := range w1.Result().Cookies() {
		req.AddCookie(c)
	}
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "true", w.Header().Get(session.HeaderAntiCSRFTokenError))
}

func TestMiddlewareAllowsPostWithMatchingCSRFToken(t *testing.T) {
	engine := testEngine(t)
	r := gin.New()
	r.Use(Middleware(engine))
	r.GET("/whoami", func(c *gin.Context) {
		sctx := FromContext(c)
		c.JSON(http.StatusOK, gin.H{"csrf": sctx.AntiCSRFToken()})
	})
	r.POST("/unsafe", func(c *gin.Context) { c.Status(http.StatusOK) })

	w1 := httptest.NewRecorder()
	req1 := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusOK, w1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/unsafe", nil)
	for _, c := range w1.Result().Cookies() {
		req2.AddCookie(c)
	}
	req2.Header.Set(session.HeaderAntiCSRFToken, w1.Header().Get(session.HeaderAntiCSRFToken))
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)

	assert.Equal(t, http.StatusOK, w2.Code)
}
