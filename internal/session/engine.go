package session

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	apperrors "github.com/blitzauth/sessioncore/internal/errors"
	"github.com/blitzauth/sessioncore/internal/logger"
)

// Engine combines the Kernel Resolver (spec.md §4.4, C4) and Kernel Factory
// (§4.5, C5) into a single type, the way the teacher's JWTManager owns both
// minting and validating tokens (internal/auth/jwt.go) rather than
// splitting them across collaborators that would otherwise need to share
// the same keys and store handle. swfrench-simple-session's generic
// Manager[D] follows the same one-type-does-both-directions shape.
type Engine struct {
	cfg     *Config
	store   Store
	keys    *derivedKeys
	cookies *CookieWriter
}

// NewEngine builds an Engine from validated Config and a Store
// implementation.
func NewEngine(cfg *Config, store Store) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidConfig, "invalid session config", err)
	}
	keys, err := cfg.DeriveKeys()
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		keys:    keys,
		cookies: NewCookieWriter(cfg),
	}, nil
}

// isStateChanging reports whether method is one the CSRF check (§4.4 step
// f) and the rolling-refresh decision (§4.4 step g / P4) both gate on: any
// verb other than the safe, read-only trio.
func isStateChanging(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// --- Kernel Factory (C5) ---

// CreateAnonymousSession mints a fresh anonymous kernel, with an empty
// PublicData (userId: nil) unless seed is provided. Anonymous kernels carry
// no Store row until SetPrivateData first needs one (spec.md §4.6); their
// public state round-trips through the signed JWT cookie.
func (e *Engine) CreateAnonymousSession(seed PublicData) (*Kernel, error) {
	if e.cfg.Method == MethodAdvanced {
		return nil, ErrAdvancedMethodUnsupported()
	}
	handle, err := newHandle(true)
	if err != nil {
		return nil, err
	}
	antiCSRF, err := newAntiCSRFToken()
	if err != nil {
		return nil, err
	}
	pub := NewPublicData()
	if seed != nil {
		pub = pub.Merge(seed)
	}
	payload := AnonymousSessionPayload{
		IsAnonymous:   true,
		Handle:        handle,
		PublicData:    pub,
		AntiCSRFToken: antiCSRF,
	}
	jwtStr, err := newAnonymousJWT(payload, e.keys.jwtKey, e.cfg.AnonExpiry())
	if err != nil {
		return nil, err
	}
	return &Kernel{
		Kind:                  Anonymous,
		Handle:                handle,
		PublicData:            pub,
		AntiCSRFToken:         antiCSRF,
		JWTPayload:            &payload,
		AnonymousSessionToken: jwtStr,
		justCreated:           true,
	}, nil
}

// CreateAuthenticatedSession mints a new store-backed kernel for userID,
// always issuing a fresh handle rather than reusing any prior anonymous one
// (spec.md §4.5 "login" / anonymous-to-authenticated promotion, preventing
// session fixation). When prevAnon is a resolved anonymous kernel, its
// publicData is merged underneath the caller's (new keys win, P6), and any
// lazily-created store row it holds (spec.md §4.6) has its privateData
// carried forward the same way before being deleted (E2E scenario 5).
func (e *Engine) CreateAuthenticatedSession(ctx context.Context, userID string, publicData PublicData, privateData PrivateData, prevAnon *Kernel) (*Kernel, error) {
	if e.cfg.Method == MethodAdvanced {
		return nil, ErrAdvancedMethodUnsupported()
	}
	if publicData == nil {
		publicData = NewPublicData()
	}
	if privateData == nil {
		privateData = PrivateData{}
	}

	if prevAnon != nil && prevAnon.Kind == Anonymous {
		publicData = prevAnon.PublicData.Merge(publicData)
		if rec, err := e.store.Get(ctx, prevAnon.Handle); err == nil {
			if priorPrivate, err := rec.DecodePrivateData(); err == nil {
				privateData = priorPrivate.Merge(privateData)
			}
			if err := e.store.Delete(ctx, prevAnon.Handle); err != nil {
				logger.Session().Warn().Err(err).Str("handle", prevAnon.Handle).
					Msg("failed to delete prior anonymous session record on promotion")
			}
		}
	}

	uid := userID
	publicData.SetUserID(&uid)
	if !publicData.ValidateRoleInvariant() {
		return nil, apperrors.BadRequest("publicData must not set both role and roles")
	}

	handle, err := newHandle(false)
	if err != nil {
		return nil, err
	}
	token, hashedSecret, err := newSessionToken(handle, publicData)
	if err != nil {
		return nil, err
	}
	antiCSRF, err := newAntiCSRFToken()
	if err != nil {
		return nil, err
	}
	publicJSON, err := encodeJSON(publicData)
	if err != nil {
		return nil, err
	}
	privateJSON, err := encodeJSON(privateData)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(e.cfg.IdleExpiry())
	rec := &Record{
		Handle:             handle,
		UserID:             &uid,
		ExpiresAt:          &expiresAt,
		HashedSessionToken: hashedSecret,
		AntiCSRFToken:      antiCSRF,
		PublicData:         publicJSON,
		PrivateData:        privateJSON,
	}
	if err := e.store.Create(ctx, rec); err != nil {
		return nil, apperrors.StoreError(err)
	}

	return &Kernel{
		Kind:          Authenticated,
		Handle:        handle,
		PublicData:    publicData,
		AntiCSRFToken: antiCSRF,
		SessionToken:  token,
		justCreated:   true,
	}, nil
}

// --- Kernel Resolver (C4) ---

// Resolve inspects request headers for a session credential (anonymous JWT
// or opaque session token) and returns the corresponding Kernel, or nil if
// neither cookie is present. For state-changing methods it also enforces
// the double-submit anti-CSRF check (spec.md §4.4 step f), unless
// Config.DisableCSRFProtection is set. The returned bool reports whether
// the kernel's rolling idle expiry (and, for authenticated kernels, its
// session token) were just refreshed in place and the caller must rewrite
// cookies (spec.md §4.4 step g / P4).
func (e *Engine) Resolve(ctx context.Context, reqHeaders http.Header, method string) (*Kernel, bool, error) {
	var kernel *Kernel
	var refreshed bool
	var err error

	switch {
	case hasCookie(reqHeaders, CookieSessionToken):
		tok, _ := ReadCookie(reqHeaders, CookieSessionToken)
		kernel, refreshed, err = e.resolveAuthenticated(ctx, tok, method)
	case hasCookie(reqHeaders, CookieAnonymousJWT):
		jwtStr, _ := ReadCookie(reqHeaders, CookieAnonymousJWT)
		kernel, err = e.resolveAnonymous(jwtStr)
	}
	if err != nil {
		return nil, false, err
	}
	if kernel == nil {
		return nil, false, nil
	}

	if isStateChanging(method) && !e.cfg.DisableCSRFProtection {
		provided := reqHeaders.Get(HeaderAntiCSRFToken)
		if err := e.ValidateAntiCSRF(kernel, provided); err != nil {
			return nil, false, err
		}
	}

	return kernel, refreshed, nil
}

func hasCookie(reqHeaders http.Header, name string) bool {
	v, ok := ReadCookie(reqHeaders, name)
	return ok && v != ""
}

func (e *Engine) resolveAnonymous(jwtStr string) (*Kernel, error) {
	payload, err := parseAnonymousJWT(jwtStr, e.keys.jwtKey)
	if err != nil {
		logger.Session().Debug().Err(err).Msg("anonymous jwt failed validation")
		return nil, err
	}
	return &Kernel{
		Kind:                  Anonymous,
		Handle:                payload.Handle,
		PublicData:            payload.PublicData,
		AntiCSRFToken:         payload.AntiCSRFToken,
		JWTPayload:            payload,
		AnonymousSessionToken: jwtStr,
	}, nil
}

// resolveAuthenticated loads and validates an opaque session token, then
// applies the rolling-refresh decision spec.md §4.4 step g / P4 describe:
// on a non-GET request, a session whose remaining lifetime has dropped
// below 75% of its configured idle expiry ("quarterElapsed"), or whose
// stored publicData no longer matches the hash embedded in the token
// ("publicDataChanged", P5), gets its expiry bumped and its token
// re-minted in place.
func (e *Engine) resolveAuthenticated(ctx context.Context, token string, method string) (*Kernel, bool, error) {
	handle, nonce, hashedPublicData, err := parseSessionToken(token)
	if err != nil {
		return nil, false, err
	}
	rec, err := e.store.Get(ctx, handle)
	if err != nil {
		if _, ok := err.(*ErrRecordNotFound); ok {
			return nil, false, ErrNoSession()
		}
		return nil, false, apperrors.StoreError(err)
	}
	now := time.Now()
	if rec.Expired(now) {
		_ = e.store.Delete(ctx, handle)
		return nil, false, ErrSessionExpired()
	}
	if subtle.ConstantTimeCompare([]byte(sha256Hex(nonce)), []byte(rec.HashedSessionToken)) != 1 {
		return nil, false, ErrNoSession()
	}
	pub, err := rec.DecodePublicData()
	if err != nil {
		return nil, false, MalformedTokenErr("stored public data is not valid json")
	}

	k := &Kernel{
		Kind:          Authenticated,
		Handle:        handle,
		PublicData:    pub,
		AntiCSRFToken: rec.AntiCSRFToken,
		SessionToken:  token,
	}

	currentHash, err := hashedPublicDataOf(pub)
	if err != nil {
		return nil, false, err
	}
	publicDataChanged := currentHash != hashedPublicData

	quarterElapsed := false
	if rec.ExpiresAt != nil {
		remaining := rec.ExpiresAt.Sub(now)
		quarterElapsed = remaining < time.Duration(0.75*float64(e.cfg.IdleExpiry()))
	}

	if isStateChanging(method) && (quarterElapsed || publicDataChanged) {
		if err := e.refreshAuthenticatedToken(ctx, k, nonce, now); err != nil {
			return nil, false, err
		}
		return k, true, nil
	}

	return k, false, nil
}

// refreshAuthenticatedToken bumps an authenticated kernel's rolling idle
// expiry and re-mints its opaque token (reusing nonce, so the
// authentication half is unchanged) so the embedded public-data hash
// matches the kernel's current publicData.
func (e *Engine) refreshAuthenticatedToken(ctx context.Context, k *Kernel, nonce string, now time.Time) error {
	newExpiry := now.Add(e.cfg.IdleExpiry())
	token, err := encodeSessionToken(k.Handle, nonce, k.PublicData)
	if err != nil {
		return err
	}
	if err := e.store.Update(ctx, k.Handle, Patch{ExpiresAt: &newExpiry}); err != nil {
		return apperrors.StoreError(err)
	}
	k.SessionToken = token
	return nil
}

// RefreshSession bumps an authenticated kernel's rolling idle expiry
// (spec.md §4.4). Anonymous kernels are refreshed by simply re-minting
// their JWT with a new expiry, since they carry no store row. Unlike the
// resolver's automatic refresh, this is always performed unconditionally
// when a caller explicitly asks for it (e.g. Context.Touch).
func (e *Engine) RefreshSession(ctx context.Context, k *Kernel) (*Kernel, error) {
	if k.Kind == Anonymous {
		payload := *k.JWTPayload
		jwtStr, err := newAnonymousJWT(payload, e.keys.jwtKey, e.cfg.AnonExpiry())
		if err != nil {
			return nil, err
		}
		k.AnonymousSessionToken = jwtStr
		return k, nil
	}
	_, nonce, _, err := parseSessionToken(k.SessionToken)
	if err != nil {
		return nil, err
	}
	if err := e.refreshAuthenticatedToken(ctx, k, nonce, time.Now()); err != nil {
		return nil, err
	}
	return k, nil
}

// RevokeSession deletes an authenticated kernel's store row. Revoking an
// anonymous kernel deletes its store row too, if SetPrivateData ever
// lazily created one; otherwise it is a pure client-side cookie clear.
func (e *Engine) RevokeSession(ctx context.Context, k *Kernel) error {
	if err := e.store.Delete(ctx, k.Handle); err != nil {
		if _, ok := err.(*ErrRecordNotFound); ok {
			return nil
		}
		return apperrors.StoreError(err)
	}
	return nil
}

// RevokeAllSessionsForUser deletes every store-backed session owned by
// userID (spec.md §4.3 "revoke all"), returning the count removed.
func (e *Engine) RevokeAllSessionsForUser(ctx context.Context, userID string) (int, error) {
	n, err := e.store.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, apperrors.StoreError(err)
	}
	return n, nil
}

// SetPublicData merges patch into k's PublicData (new keys winning) and
// persists the result, propagating the configured subset of keys to every
// other live session the same user holds (C7; see propagator.go).
func (e *Engine) SetPublicData(ctx context.Context, k *Kernel, patch PublicData) (*Kernel, error) {
	merged := k.PublicData.Merge(patch)
	if !merged.ValidateRoleInvariant() {
		return nil, apperrors.BadRequest("publicData must not set both role and roles")
	}
	k.PublicData = merged

	if k.Kind == Anonymous {
		k.JWTPayload.PublicData = merged
		jwtStr, err := newAnonymousJWT(*k.JWTPayload, e.keys.jwtKey, e.cfg.AnonExpiry())
		if err != nil {
			return nil, err
		}
		k.AnonymousSessionToken = jwtStr
		return k, nil
	}

	publicJSON, err := encodeJSON(merged)
	if err != nil {
		return nil, err
	}
	// The public-data hash embedded in k.SessionToken is now stale; re-encode
	// with the same nonce (the auth half is unchanged) so the next resolve
	// doesn't spuriously see publicDataChanged.
	_, nonce, _, err := parseSessionToken(k.SessionToken)
	if err != nil {
		return nil, err
	}
	token, err := encodeSessionToken(k.Handle, nonce, merged)
	if err != nil {
		return nil, err
	}
	if err := e.store.Update(ctx, k.Handle, Patch{PublicDataJ: &publicJSON}); err != nil {
		return nil, apperrors.StoreError(err)
	}
	k.SessionToken = token
	if uid := k.UserID(); uid != nil {
		if err := e.PropagatePublicData(ctx, *uid, k.Handle, merged); err != nil {
			logger.Session().Warn().Err(err).Str("userId", *uid).Msg("failed to propagate public data to sibling sessions")
		}
	}
	return k, nil
}

// GetPrivateData loads the server-only PrivateData blob for a kernel.
// Anonymous kernels without a lazily-created store row (spec.md §4.6)
// simply have no private data yet.
func (e *Engine) GetPrivateData(ctx context.Context, k *Kernel) (PrivateData, error) {
	rec, err := e.store.Get(ctx, k.Handle)
	if err != nil {
		if _, ok := err.(*ErrRecordNotFound); ok {
			return PrivateData{}, nil
		}
		return nil, apperrors.StoreError(err)
	}
	return rec.DecodePrivateData()
}

// SetPrivateData merges patch into the stored PrivateData for k. For an
// anonymous kernel with no store row yet, one is created lazily (spec.md
// §4.6: "for anonymous kernels lacking a record, a record is created
// lazily"), seeded from the kernel's current publicData and the merged
// privateData, via an UPSERT-like path so a concurrent first write from
// the same handle can't race into a duplicate-create error.
func (e *Engine) SetPrivateData(ctx context.Context, k *Kernel, patch PrivateData) error {
	current, err := e.GetPrivateData(ctx, k)
	if err != nil {
		return err
	}
	merged := current.Merge(patch)
	privateJSON, err := encodeJSON(merged)
	if err != nil {
		return err
	}

	if err := e.store.Update(ctx, k.Handle, Patch{PrivateDataJ: &privateJSON}); err != nil {
		if _, ok := err.(*ErrRecordNotFound); ok {
			return e.createLazyRecord(ctx, k, privateJSON)
		}
		return apperrors.StoreError(err)
	}
	return nil
}

// createLazyRecord persists a brand-new store row for an anonymous kernel
// the first time it needs server-only state, tolerating a concurrent
// creator racing to the same handle (the loser's Create failure is not
// itself an error: the data is already there).
func (e *Engine) createLazyRecord(ctx context.Context, k *Kernel, privateJSON string) error {
	publicJSON, err := encodeJSON(k.PublicData)
	if err != nil {
		return err
	}
	var expiresAt *time.Time
	if k.Kind == Anonymous {
		t := time.Now().Add(e.cfg.AnonExpiry())
		expiresAt = &t
	} else {
		t := time.Now().Add(e.cfg.IdleExpiry())
		expiresAt = &t
	}
	rec := &Record{
		Handle:        k.Handle,
		UserID:        k.UserID(),
		ExpiresAt:     expiresAt,
		AntiCSRFToken: k.AntiCSRFToken,
		PublicData:    publicJSON,
		PrivateData:   privateJSON,
	}
	if err := e.store.Create(ctx, rec); err != nil {
		return apperrors.StoreError(err)
	}
	return nil
}

// ValidateAntiCSRF performs the constant-time double-submit comparison
// spec.md §4.7/§7 requires for state-changing requests (grounded on the
// teacher's internal/middleware/csrf.go).
func (e *Engine) ValidateAntiCSRF(k *Kernel, provided string) error {
	if provided == "" || k.AntiCSRFToken == "" {
		return ErrCSRFTokenMismatch()
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(k.AntiCSRFToken)) != 1 {
		return ErrCSRFTokenMismatch()
	}
	return nil
}

// WriteKernel writes every cookie/header a kernel implies onto respHeaders:
// the session credential itself (JWT or opaque token), the client-readable
// public data projection, and the anti-CSRF cookie/header pair (spec.md
// §4.2/§6). It also sets the session-created signalling header the first
// time a kernel minted by the Kernel Factory is written out.
func (e *Engine) WriteKernel(respHeaders http.Header, k *Kernel) error {
	pubToken, err := newPublicDataToken(k.PublicData)
	if err != nil {
		return err
	}

	switch k.Kind {
	case Anonymous:
		expiresAt := time.Now().Add(e.cfg.AnonExpiry())
		e.cookies.WriteAnonymousJWT(respHeaders, k.AnonymousSessionToken, expiresAt)
		e.cookies.WritePublicData(respHeaders, pubToken, expiresAt)
		e.cookies.WriteCSRFCookie(respHeaders, k.AntiCSRFToken, expiresAt)
	case Authenticated:
		expiresAt := time.Now().Add(e.cfg.IdleExpiry())
		e.cookies.WriteSessionToken(respHeaders, k.SessionToken, &expiresAt)
		e.cookies.WritePublicData(respHeaders, pubToken, expiresAt)
		e.cookies.WriteCSRFCookie(respHeaders, k.AntiCSRFToken, expiresAt)
	}
	WriteAntiCSRFHeader(respHeaders, k.AntiCSRFToken)
	if k.justCreated {
		WriteSessionCreatedHeader(respHeaders)
	}
	return nil
}

// ClearKernel removes every cookie WriteKernel would have set, used on
// logout (spec.md §4.8).
func (e *Engine) ClearKernel(respHeaders http.Header) {
	e.cookies.ClearAll(respHeaders)
}
