package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/indexes"
)

// activatePerformer flips the active pointer to the resolved version: the
// named one for versioned targets, otherwise the latest. Activating the
// already-active version is a logged no-op.
type activatePerformer struct {
	target string
}

func (p *activatePerformer) kind() domain.ActionKind { return domain.KindActivateIndex }

func (p *activatePerformer) perform(ctx context.Context, e *Engine, act *domain.Action) (any, error) {
	reg := e.mgr.Registry()

	tgt, err := e.mgr.ResolveTarget(ctx, p.target, false)
	if err != nil && errors.Is(err, domain.ErrNoActiveVersion) {
		tgt = indexes.Target{Index: act.Index}
		err = nil
	}
	if err != nil {
		return nil, err
	}
	v := tgt.Version
	if !tgt.Exact {
		// A bare name activates the newest version, not whatever happens
		// to be active now.
		v, err = reg.LatestVersion(ctx, act.Index)
		if err != nil {
			return nil, err
		}
	}
	if v.Deleted() {
		return nil, &domain.IllegalIndexStateError{
			Index: v.Index, VersionID: v.ID, Detail: "cannot activate a deleted version",
		}
	}
	if err := reg.SetActionVersion(ctx, act.ID, v.ID); err != nil {
		return nil, err
	}

	idx, err := reg.GetIndex(ctx, v.Index)
	if err != nil {
		return nil, err
	}
	if idx.ActiveVersionID == v.ID {
		if err := reg.AppendLog(ctx, act.ID, fmt.Sprintf("no-op: %s is already active", v.PhysicalName())); err != nil {
			return nil, err
		}
		return v, nil
	}

	if err := reg.SetActiveVersion(ctx, v.Index, v.ID); err != nil {
		return nil, err
	}
	// Concurrent operations in this process resolve names through the
	// manager cache; flip it now, not on the next restart.
	if err := e.mgr.Refresh(ctx); err != nil {
		return nil, err
	}
	if e.met != nil {
		e.met.SetActiveVersion(v.Index, v.ID)
	}
	if err := reg.AppendLog(ctx, act.ID, fmt.Sprintf("activated %s", v.PhysicalName())); err != nil {
		return nil, err
	}
	return v, nil
}

// deactivatePerformer clears the active pointer. Deactivating an index with
// nothing active is a logged no-op.
type deactivatePerformer struct {
	target string
}

func (p *deactivatePerformer) kind() domain.ActionKind { return domain.KindDeactivateIndex }

func (p *deactivatePerformer) perform(ctx context.Context, e *Engine, act *domain.Action) (any, error) {
	reg := e.mgr.Registry()

	idx, err := reg.GetIndex(ctx, act.Index)
	if err != nil {
		return nil, err
	}
	if !idx.HasActiveVersion() {
		if err := reg.AppendLog(ctx, act.ID, "no-op: nothing is active"); err != nil {
			return nil, err
		}
		return domain.Version{}, nil
	}

	v, err := reg.GetVersion(ctx, act.Index, idx.ActiveVersionID)
	if err != nil {
		return nil, err
	}
	if err := reg.SetActionVersion(ctx, act.ID, v.ID); err != nil {
		return nil, err
	}
	if err := reg.SetActiveVersion(ctx, act.Index, 0); err != nil {
		return nil, err
	}
	if err := e.mgr.Refresh(ctx); err != nil {
		return nil, err
	}
	if e.met != nil {
		e.met.SetActiveVersion(act.Index, 0)
	}
	if err := reg.AppendLog(ctx, act.ID, fmt.Sprintf("deactivated %s", v.PhysicalName())); err != nil {
		return nil, err
	}
	return v, nil
}
