package session

import (
	"context"
)

// PropagatePublicData mirrors a configured subset of an updated PublicData
// snapshot onto every other live, store-backed session owned by userID
// (spec.md §4.7, C7 "Public-Data Propagator", P8). Only the keys listed in
// Config.PublicDataKeysToSync are touched on each sibling: any other
// publicData key a sibling session holds independently is left alone,
// rather than being clobbered by the caller's full snapshot. Anonymous
// sessions are JWT-only and have no server-side fan-out target; a browser
// holding one simply keeps its own cookie until it logs in or the JWT's own
// expiry catches up.
//
// exceptHandle is excluded from the fan-out: the caller (Engine.SetPublicData)
// already updated that session's own record directly.
func (e *Engine) PropagatePublicData(ctx context.Context, userID string, exceptHandle string, data PublicData) error {
	if len(e.cfg.PublicDataKeysToSync) == 0 {
		return nil
	}
	syncPatch := PublicData{}
	for _, key := range e.cfg.PublicDataKeysToSync {
		if v, ok := data[key]; ok {
			syncPatch[key] = v
		}
	}
	if len(syncPatch) == 0 {
		return nil
	}

	handles, err := e.store.HandlesForUser(ctx, userID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, handle := range handles {
		if handle == exceptHandle {
			continue
		}
		if err := e.propagateToSibling(ctx, handle, syncPatch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// propagateToSibling loads a single sibling record, merges only the synced
// keys onto its existing publicData, and stores the result.
func (e *Engine) propagateToSibling(ctx context.Context, handle string, syncPatch PublicData) error {
	rec, err := e.store.Get(ctx, handle)
	if err != nil {
		return err
	}
	existing, err := rec.DecodePublicData()
	if err != nil {
		return err
	}
	merged := existing.Merge(syncPatch)
	publicJSON, err := encodeJSON(merged)
	if err != nil {
		return err
	}
	return e.store.Update(ctx, handle, Patch{PublicDataJ: &publicJSON})
}
