package sessionredis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzauth/sessioncore/internal/cache"
	"github.com/blitzauth/sessioncore/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := cache.NewFromRedis(rdb)
	return New(client)
}

func userID(s string) *string { return &s }

func TestStoreCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	rec := &session.Record{
		Handle:             "abc-opaque-token-simple",
		UserID:             userID("user-1"),
		ExpiresAt:          &expiry,
		HashedSessionToken: "deadbeef",
		AntiCSRFToken:      "csrf",
		PublicData:         `{"userId":"user-1"}`,
		PrivateData:        `{}`,
	}
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Get(ctx, rec.Handle)
	require.NoError(t, err)
	assert.Equal(t, rec.HashedSessionToken, got.HashedSessionToken)
	assert.Equal(t, "user-1", *got.UserID)
}

func TestStoreGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.Error(t, err)
	_, ok := err.(*session.ErrRecordNotFound)
	assert.True(t, ok)
}

func TestStoreUpdatePatchesFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)
	rec := &session.Record{Handle: "h1", UserID: userID("u1"), ExpiresAt: &expiry, PublicData: "{}", PrivateData: "{}"}
	require.NoError(t, s.Create(ctx, rec))

	newPub := `{"userId":"u1","role":"admin"}`
	require.NoError(t, s.Update(ctx, "h1", session.Patch{PublicDataJ: &newPub}))

	got, err := s.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, newPub, got.PublicData)
}

func TestStoreDeleteRemovesFromUserSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)
	rec := &session.Record{Handle: "h1", UserID: userID("u1"), ExpiresAt: &expiry, PublicData: "{}", PrivateData: "{}"}
	require.NoError(t, s.Create(ctx, rec))

	require.NoError(t, s.Delete(ctx, "h1"))

	_, err := s.Get(ctx, "h1")
	assert.Error(t, err)
	handles, err := s.HandlesForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, handles)
}

func TestStoreDeleteAllForUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	for _, h := range []string{"h1", "h2"} {
		rec := &session.Record{Handle: h, UserID: userID("u1"), ExpiresAt: &expiry, PublicData: "{}", PrivateData: "{}"}
		require.NoError(t, s.Create(ctx, rec))
	}
	rec3 := &session.Record{Handle: "h3", UserID: userID("u2"), ExpiresAt: &expiry, PublicData: "{}", PrivateData: "{}"}
	require.NoError(t, s.Create(ctx, rec3))

	n, err := s.DeleteAllForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	handles, err := s.HandlesForUser(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, handles, 1)
}
