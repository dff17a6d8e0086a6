package orchestrator

import (
	"context"
	"errors"

	"orgline/internal/events"
	"orgline/internal/store"
)

// SaveSnapshot persists the store through b. Ticks are held off while the
// document is written.
func (o *Orchestrator) SaveSnapshot(ctx context.Context, b store.Backend) error {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()
	if err := o.store.Persist(ctx, b); err != nil {
		return err
	}
	st := o.store.Snapshot()
	o.journal(ctx, events.SnapshotSaved, "snapshot", o.companyID, "system", events.EventPayload{
		"version": store.SnapshotVersion,
		"actors":  len(st.Actors),
		"tasks":   len(st.Tasks),
	})
	return nil
}

// RestoreSnapshot replaces the store contents with the document in b. Roles
// driven by this orchestrator that the document lacks are registered again.
func (o *Orchestrator) RestoreSnapshot(ctx context.Context, b store.Backend) (store.RestoreReport, error) {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()
	rep, err := o.store.Restore(ctx, b)
	if err != nil {
		return rep, err
	}
	for role, a := range o.actors {
		if err := o.store.RegisterActor(role, a.Capabilities); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return rep, err
		}
	}
	o.journal(ctx, events.SnapshotRestored, "snapshot", o.companyID, "system", events.EventPayload{
		"version": rep.Version,
		"actors":  rep.Actors,
		"tasks":   rep.Tasks,
		"skipped": rep.Skipped,
	})
	return rep, nil
}
