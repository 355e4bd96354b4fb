package session

import (
	"net/http"
	"time"
)

// Cookie names (spec.md §6 "External Interfaces" cookie table). P1 requires
// exactly one each of anonymous-session, CSRF and public-data cookies; there
// is deliberately no separate "is authorized" cookie — frontend code reads
// userId off the public-data cookie to tell anonymous from authenticated.
const (
	CookieSessionToken  = "sSessionToken"
	CookieAnonymousJWT  = "sAnonymousSessionToken"
	CookiePublicData    = "sPublicDataToken"
	CookieAntiCSRFToken = "sAntiCsrfToken"

	HeaderAntiCSRFToken      = "anti-csrf-token"
	HeaderAntiCSRFTokenError = "anti-csrf-token-error"
	HeaderPublicDataTok      = "public-data-token"
	HeaderSessionCreated     = "session-created"
)

// CookieWriter appends Set-Cookie headers to a response header set using
// one uniform attribute policy (domain/secure/samesite) derived from
// Config, so every cookie the core issues shares the same baseline
// security posture (grounded on Brandon689-authpkg/auth/sessions.go's
// setCookie/clearCookie pair).
type CookieWriter struct {
	domain   string
	sameSite http.SameSite
	secure   bool
}

// NewCookieWriter builds a CookieWriter from Config.
func NewCookieWriter(cfg *Config) *CookieWriter {
	return &CookieWriter{
		domain:   cfg.CookieDomain,
		sameSite: parseSameSite(cfg.CookieSameSite),
		secure:   cfg.CookieSecure,
	}
}

func parseSameSite(s string) http.SameSite {
	switch s {
	case "Strict":
		return http.SameSiteStrictMode
	case "None":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (w *CookieWriter) base(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Path:     "/",
		Domain:   w.domain,
		Secure:   w.secure,
		SameSite: w.sameSite,
	}
}

// set removes any prior Set-Cookie header for name before appending the new
// one, so repeated writes within the same request (e.g. refresh following
// resolution) don't leave stale duplicate cookies in the response.
func (w *CookieWriter) set(h http.Header, c *http.Cookie) {
	deleteSetCookie(h, c.Name)
	h.Add("Set-Cookie", c.String())
}

func deleteSetCookie(h http.Header, name string) {
	existing := h.Values("Set-Cookie")
	if len(existing) == 0 {
		return
	}
	h.Del("Set-Cookie")
	prefix := name + "="
	for _, v := range existing {
		if len(v) >= len(prefix) && v[:len(prefix)] == prefix {
			continue
		}
		h.Add("Set-Cookie", v)
	}
}

// WriteSessionToken sets the httponly opaque session-token cookie used by
// authenticated (store-backed) sessions.
func (w *CookieWriter) WriteSessionToken(h http.Header, token string, expiresAt *time.Time) {
	c := w.base(CookieSessionToken)
	c.Value = token
	c.HttpOnly = true
	if expiresAt != nil {
		c.Expires = *expiresAt
	}
	w.set(h, c)
}

// WriteAnonymousJWT sets the httponly anonymous-session JWT cookie.
func (w *CookieWriter) WriteAnonymousJWT(h http.Header, jwtStr string, expiresAt time.Time) {
	c := w.base(CookieAnonymousJWT)
	c.Value = jwtStr
	c.HttpOnly = true
	c.Expires = expiresAt
	w.set(h, c)
}

// WritePublicData sets the client-readable (non-httponly) public data
// cookie, mirrored from whatever the authoritative kernel carries, and sets
// the public-data-token signalling header (spec.md §4.2) so fetch-based
// clients notice the cookie was (re)written without having to diff it
// themselves.
func (w *CookieWriter) WritePublicData(h http.Header, token string, expiresAt time.Time) {
	c := w.base(CookiePublicData)
	c.Value = token
	c.HttpOnly = false
	c.Expires = expiresAt
	w.set(h, c)
	h.Set(HeaderPublicDataTok, "updated")
}

// WriteCSRFCookie sets the client-readable sAntiCsrfToken cookie (spec.md
// §6), the double-submit counterpart to the anti-csrf-token response
// header: the browser mirrors this value back as a request header on
// state-changing calls.
func (w *CookieWriter) WriteCSRFCookie(h http.Header, token string, expiresAt time.Time) {
	c := w.base(CookieAntiCSRFToken)
	c.Value = token
	c.HttpOnly = false
	c.Expires = expiresAt
	w.set(h, c)
}

// ClearAll removes every cookie this writer manages, via the
// epoch-zero-expiry convention (grounded on Brandon689-authpkg's
// clearCookie), used on logout/revoke.
func (w *CookieWriter) ClearAll(h http.Header) {
	epoch := time.Unix(0, 0)
	for _, name := range []string{CookieSessionToken, CookieAnonymousJWT, CookiePublicData, CookieAntiCSRFToken} {
		c := w.base(name)
		c.Value = ""
		c.Expires = epoch
		c.MaxAge = -1
		if name == CookieSessionToken || name == CookieAnonymousJWT {
			c.HttpOnly = true
		}
		w.set(h, c)
	}
}

// WriteAntiCSRFHeader mirrors the anti-CSRF token onto a response header so
// clients performing fetch-based navigation (not full page loads) can pick
// it up without parsing cookies.
func WriteAntiCSRFHeader(h http.Header, token string) {
	h.Set(HeaderAntiCSRFToken, token)
}

// WriteCSRFErrorHeader sets the anti-csrf-token-error signalling header
// (spec.md §4.4 step f, §6, P3) so a client can distinguish a CSRF failure
// from any other 403.
func WriteCSRFErrorHeader(h http.Header) {
	h.Set(HeaderAntiCSRFTokenError, "true")
}

// WriteSessionCreatedHeader sets the session-created signalling header
// (spec.md §4.5, §6, P1) on the response that minted a brand-new session.
func WriteSessionCreatedHeader(h http.Header) {
	h.Set(HeaderSessionCreated, "true")
}

// ReadCookie reads the named cookie from request headers. Go's
// net/http.Header has no cookie-aware accessor, so this helper wraps the
// Cookie header values in a throwaway http.Request and uses its parser;
// it is how the Kernel Resolver reads credentials from the plain headers
// that callers such as internal/ginsession pass in.
func ReadCookie(h http.Header, name string) (string, bool) {
	header := http.Header{"Cookie": h.Values("Cookie")}
	req := http.Request{Header: header}
	c, err := req.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}
