// Package sessionredis is the production session.Store implementation,
// backed by Redis via internal/cache. It extends the teacher's
// internal/auth/session_store.go pattern (a cache.Cache-wrapping SessionStore)
// with a per-user Redis set of session handles, so
// DeleteAllForUser/HandlesForUser are O(sessions for that user) instead of
// a full keyspace SCAN (the teacher's DeleteUserSessions does the latter).
package sessionredis

import (
	"context"
	"errors"
	"time"

	"github.com/blitzauth/sessioncore/internal/cache"
	"github.com/blitzauth/sessioncore/internal/session"
)

// Store adapts internal/cache's Redis client to session.Store.
type Store struct {
	client *cache.Client
}

// New builds a Store over an already-constructed cache.Client.
func New(client *cache.Client) *Store {
	return &Store{client: client}
}

var _ session.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, rec *session.Record) error {
	ttl := ttlFor(rec.ExpiresAt)
	if err := s.client.Set(ctx, cache.SessionKey(rec.Handle), rec, ttl); err != nil {
		return err
	}
	if rec.UserID != nil {
		if err := s.client.SetAdd(ctx, cache.UserHandlesKey(*rec.UserID), rec.Handle); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, handle string) (*session.Record, error) {
	var rec session.Record
	err := s.client.Get(ctx, cache.SessionKey(handle), &rec)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, &session.ErrRecordNotFound{Handle: handle}
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Update(ctx context.Context, handle string, patch session.Patch) error {
	rec, err := s.Get(ctx, handle)
	if err != nil {
		return err
	}
	if patch.ExpiresAt != nil {
		rec.ExpiresAt = patch.ExpiresAt
	}
	if patch.HashedToken != nil {
		rec.HashedSessionToken = *patch.HashedToken
	}
	if patch.AntiCSRF != nil {
		rec.AntiCSRFToken = *patch.AntiCSRF
	}
	if patch.PublicDataJ != nil {
		rec.PublicData = *patch.PublicDataJ
	}
	if patch.PrivateDataJ != nil {
		rec.PrivateData = *patch.PrivateDataJ
	}
	return s.client.Set(ctx, cache.SessionKey(handle), rec, ttlFor(rec.ExpiresAt))
}

func (s *Store) Delete(ctx context.Context, handle string) error {
	rec, err := s.Get(ctx, handle)
	if err != nil {
		if _, ok := err.(*session.ErrRecordNotFound); ok {
			return nil
		}
		return err
	}
	if err := s.client.Delete(ctx, cache.SessionKey(handle)); err != nil {
		return err
	}
	if rec.UserID != nil {
		return s.client.SetRemove(ctx, cache.UserHandlesKey(*rec.UserID), handle)
	}
	return nil
}

func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	handles, err := s.HandlesForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, h := range handles {
		if err := s.Delete(ctx, h); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Store) HandlesForUser(ctx context.Context, userID string) ([]string, error) {
	return s.client.SetMembers(ctx, cache.UserHandlesKey(userID))
}

func ttlFor(expiresAt *time.Time) time.Duration {
	if expiresAt == nil {
		return 0
	}
	d := time.Until(*expiresAt)
	if d <= 0 {
		return time.Second
	}
	return d
}
