package session

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Method:                   MethodEssential,
		MasterSecret:             "this-is-a-32-byte-test-secret!!",
		CookieSameSite:           "Lax",
		CookieSecure:             true,
		AnonSessionExpiryMinutes: 60,
		IdleExpiryMinutes:        60,
	}
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(testConfig(), newMemoryStore())
	require.NoError(t, err)
	return e
}

func TestNewEngineRejectsShortSecret(t *testing.T) {
	cfg := testConfig()
	cfg.NodeEnv = "production"
	cfg.MasterSecret = "too-short"
	_, err := NewEngine(cfg, newMemoryStore())
	assert.Error(t, err)
}

func TestCreateAnonymousSessionHasNilUserID(t *testing.T) {
	e := testEngine(t)
	k, err := e.CreateAnonymousSession(nil)
	require.NoError(t, err)
	assert.True(t, k.IsAnonymous())
	assert.Nil(t, k.UserID())
	assert.NotEmpty(t, k.AntiCSRFToken)
}

func TestResolveRoundTripsAnonymousSession(t *testing.T) {
	e := testEngine(t)
	k, err := e.CreateAnonymousSession(nil)
	require.NoError(t, err)

	respHeaders := http.Header{}
	require.NoError(t, e.WriteKernel(respHeaders, k))
	assert.Equal(t, "true", respHeaders.Get(HeaderSessionCreated))

	reqHeaders := requestHeadersFromSetCookie(respHeaders)
	resolved, _, err := e.Resolve(context.Background(), reqHeaders, http.MethodGet)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, k.Handle, resolved.Handle)
	assert.True(t, resolved.IsAnonymous())
}

func TestCreateAuthenticatedSessionPersistsRecord(t *testing.T) {
	e := testEngine(t)
	k, err := e.CreateAuthenticatedSession(context.Background(), "user-1", nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, k.IsAnonymous())
	require.NotNil(t, k.UserID())
	assert.Equal(t, "user-1", *k.UserID())

	rec, err := e.store.Get(context.Background(), k.Handle)
	require.NoError(t, err)
	require.NotNil(t, rec.UserID)
	assert.Equal(t, "user-1", *rec.UserID)
	assert.Equal(t, k.AntiCSRFToken, rec.AntiCSRFToken)
}

func TestResolveRoundTripsAuthenticatedSession(t *testing.T) {
	e := testEngine(t)
	k, err := e.CreateAuthenticatedSession(context.Background(), "user-1", nil, nil, nil)
	require.NoError(t, err)

	respHeaders := http.Header{}
	require.NoError(t, e.WriteKernel(respHeaders, k))

	reqHeaders := requestHeadersFromSetCookie(respHeaders)
	resolved, _, err := e.Resolve(context.Background(), reqHeaders, http.MethodGet)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, k.Handle, resolved.Handle)
	require.NotNil(t, resolved.UserID())
	assert.Equal(t, "user-1", *resolved.UserID())
}

func TestResolveRejectsTamperedSecret(t *testing.T) {
	e := testEngine(t)
	k, err := e.CreateAuthenticatedSession(context.Background(), "user-1", nil, nil, nil)
	require.NoError(t, err)

	handle, _, _, err := parseSessionToken(k.SessionToken)
	require.NoError(t, err)
	tampered, _, err := newSessionToken(handle, k.PublicData)
	require.NoError(t, err)

	respHeaders := http.Header{}
	c := &http.Cookie{Name: CookieSessionToken, Value: tampered}
	respHeaders.Add("Set-Cookie", c.String())
	reqHeaders := requestHeadersFromSetCookie(respHeaders)

	_, _, err = e.Resolve(context.Background(), reqHeaders, http.MethodGet)
	assert.Error(t, err)
}

func TestResolveRefreshesOnQuarterElapsedNonGETRequest(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	k, err := e.CreateAuthenticatedSession(ctx, "user-1", nil, nil, nil)
	require.NoError(t, err)

	almostExpired := time.Now().Add(time.Minute)
	require.NoError(t, e.store.Update(ctx, k.Handle, Patch{ExpiresAt: &almostExpired}))

	respHeaders := http.Header{}
	require.NoError(t, e.WriteKernel(respHeaders, k))
	reqHeaders := requestHeadersFromSetCookie(respHeaders)
	reqHeaders.Set(HeaderAntiCSRFToken, k.AntiCSRFToken)

	resolved, refreshed, err := e.Resolve(ctx, reqHeaders, http.MethodPost)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.True(t, refreshed)

	rec, err := e.store.Get(ctx, k.Handle)
	require.NoError(t, err)
	assert.True(t, rec.ExpiresAt.After(almostExpired.Add(time.Minute)))
}

func TestResolveDoesNotRefreshOnGETEvenWhenQuarterElapsed(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	k, err := e.CreateAuthenticatedSession(ctx, "user-1", nil, nil, nil)
	require.NoError(t, err)

	almostExpired := time.Now().Add(time.Minute)
	require.NoError(t, e.store.Update(ctx, k.Handle, Patch{ExpiresAt: &almostExpired}))

	respHeaders := http.Header{}
	require.NoError(t, e.WriteKernel(respHeaders, k))
	reqHeaders := requestHeadersFromSetCookie(respHeaders)

	_, refreshed, err := e.Resolve(ctx, reqHeaders, http.MethodGet)
	require.NoError(t, err)
	assert.False(t, refreshed)
}

func TestRevokeSessionDeletesRecord(t *testing.T) {
	e := testEngine(t)
	k, err := e.CreateAuthenticatedSession(context.Background(), "user-1", nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, e.RevokeSession(context.Background(), k))

	_, err = e.store.Get(context.Background(), k.Handle)
	assert.Error(t, err)
}

func TestRevokeAllSessionsForUser(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	_, err := e.CreateAuthenticatedSession(ctx, "user-1", nil, nil, nil)
	require.NoError(t, err)
	_, err = e.CreateAuthenticatedSession(ctx, "user-1", nil, nil, nil)
	require.NoError(t, err)
	_, err = e.CreateAuthenticatedSession(ctx, "user-2", nil, nil, nil)
	require.NoError(t, err)

	n, err := e.RevokeAllSessionsForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	handles, err := e.store.HandlesForUser(ctx, "user-2")
	require.NoError(t, err)
	assert.Len(t, handles, 1)
}

func TestSetPublicDataMergesAndPersists(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	k, err := e.CreateAuthenticatedSession(ctx, "user-1", nil, nil, nil)
	require.NoError(t, err)

	updated, err := e.SetPublicData(ctx, k, PublicData{"role": "admin"})
	require.NoError(t, err)
	assert.Equal(t, "admin", updated.PublicData.Role())

	rec, err := e.store.Get(ctx, k.Handle)
	require.NoError(t, err)
	pub, err := rec.DecodePublicData()
	require.NoError(t, err)
	assert.Equal(t, "admin", pub.Role())
}

func TestSetPublicDataRejectsRoleAndRolesTogether(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	k, err := e.CreateAuthenticatedSession(ctx, "user-1", PublicData{"role": "admin"}, nil, nil)
	require.NoError(t, err)

	_, err = e.SetPublicData(ctx, k, PublicData{"roles": []string{"a", "b"}})
	assert.Error(t, err)
}

func TestPublicDataPropagatesToSiblingSessions(t *testing.T) {
	cfg := testConfig()
	cfg.PublicDataKeysToSync = []string{"role"}
	e, err := NewEngine(cfg, newMemoryStore())
	require.NoError(t, err)
	ctx := context.Background()
	k1, err := e.CreateAuthenticatedSession(ctx, "user-1", nil, nil, nil)
	require.NoError(t, err)
	k2, err := e.CreateAuthenticatedSession(ctx, "user-1", nil, nil, nil)
	require.NoError(t, err)

	_, err = e.SetPublicData(ctx, k1, PublicData{"role": "admin"})
	require.NoError(t, err)

	rec2, err := e.store.Get(ctx, k2.Handle)
	require.NoError(t, err)
	pub2, err := rec2.DecodePublicData()
	require.NoError(t, err)
	assert.Equal(t, "admin", pub2.Role())
}

func TestPublicDataPropagationLeavesUnsyncedKeysAlone(t *testing.T) {
	cfg := testConfig()
	cfg.PublicDataKeysToSync = []string{"role"}
	e, err := NewEngine(cfg, newMemoryStore())
	require.NoError(t, err)
	ctx := context.Background()
	k1, err := e.CreateAuthenticatedSession(ctx, "user-1", nil, nil, nil)
	require.NoError(t, err)
	k2, err := e.CreateAuthenticatedSession(ctx, "user-1", PublicData{"theme": "dark"}, nil, nil)
	require.NoError(t, err)

	_, err = e.SetPublicData(ctx, k1, PublicData{"role": "admin", "theme": "light"})
	require.NoError(t, err)

	rec2, err := e.store.Get(ctx, k2.Handle)
	require.NoError(t, err)
	pub2, err := rec2.DecodePublicData()
	require.NoError(t, err)
	assert.Equal(t, "admin", pub2.Role())
	assert.Equal(t, "dark", pub2["theme"])
}

func TestPrivateDataRoundTrip(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	k, err := e.CreateAuthenticatedSession(ctx, "user-1", nil, PrivateData{"internalFlag": true}, nil)
	require.NoError(t, err)

	got, err := e.GetPrivateData(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, true, got["internalFlag"])

	require.NoError(t, e.SetPrivateData(ctx, k, PrivateData{"other": "x"}))
	got, err = e.GetPrivateData(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "x", got["other"])
	assert.Equal(t, true, got["internalFlag"])
}

func TestSetPrivateDataLazilyCreatesRecordForAnonymousKernel(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	k, err := e.CreateAnonymousSession(nil)
	require.NoError(t, err)

	_, err = e.store.Get(ctx, k.Handle)
	assert.Error(t, err, "anonymous kernel should have no store row yet")

	require.NoError(t, e.SetPrivateData(ctx, k, PrivateData{"cart": []int{1, 2}}))

	got, err := e.GetPrivateData(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{float64(1), float64(2)}, got["cart"])
}

func TestValidateAntiCSRFConstantTime(t *testing.T) {
	e := testEngine(t)
	k, err := e.CreateAnonymousSession(nil)
	require.NoError(t, err)

	assert.NoError(t, e.ValidateAntiCSRF(k, k.AntiCSRFToken))
	assert.Error(t, e.ValidateAntiCSRF(k, "wrong"))
	assert.Error(t, e.ValidateAntiCSRF(k, ""))
}

func TestAdvancedMethodRejectedAtCreation(t *testing.T) {
	cfg := testConfig()
	cfg.Method = MethodAdvanced
	e, err := NewEngine(cfg, newMemoryStore())
	require.NoError(t, err)

	_, err = e.CreateAnonymousSession(nil)
	assert.Error(t, err)
	_, err = e.CreateAuthenticatedSession(context.Background(), "user-1", nil, nil, nil)
	assert.Error(t, err)
}

func TestAuthorizePromotionCarriesOverAnonymousData(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	anon, err := e.CreateAnonymousSession(PublicData{"theme": "dark"})
	require.NoError(t, err)
	require.NoError(t, e.SetPrivateData(ctx, anon, PrivateData{"cart": []int{1, 2}}))

	authed, err := e.CreateAuthenticatedSession(ctx, "user-42", PublicData{"lastLogin": "today"}, PrivateData{"lastLogin": "today"}, anon)
	require.NoError(t, err)

	assert.Equal(t, "dark", authed.PublicData["theme"])
	assert.Equal(t, "today", authed.PublicData["lastLogin"])

	priv, err := e.GetPrivateData(ctx, authed)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{float64(1), float64(2)}, priv["cart"])
	assert.Equal(t, "today", priv["lastLogin"])

	_, err = e.store.Get(ctx, anon.Handle)
	assert.Error(t, err, "prior anonymous record should be deleted on promotion")
}

// requestHeadersFromSetCookie rebuilds a request-style Cookie header out of
// a response's Set-Cookie headers, for round-trip tests that never touch a
// real HTTP transport.
func requestHeadersFromSetCookie(respHeaders http.Header) http.Header {
	resp := http.Response{Header: respHeaders}
	reqHeaders := http.Header{}
	for _, c := range resp.Cookies() {
		reqHeaders.Add("Cookie", c.Name+"="+c.Value)
	}
	return reqHeaders
}
