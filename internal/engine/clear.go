package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/searchops/indexmigrate/internal/domain"
)

// clearPerformer deletes every document from the resolved version's physical
// index, keeping the index and its schema. Older mode fans out over every
// older live version.
type clearPerformer struct {
	target string
	mode   domain.FanoutMode

	// set for fan-out children, which skip resolution
	pinned *domain.Version
}

func (p *clearPerformer) kind() domain.ActionKind { return domain.KindClearIndex }

func (p *clearPerformer) perform(ctx context.Context, e *Engine, act *domain.Action) (any, error) {
	reg := e.mgr.Registry()

	var v domain.Version
	switch {
	case p.pinned != nil:
		v = *p.pinned
	default:
		tgt, err := e.mgr.ResolveTarget(ctx, p.target, true)
		switch {
		case err == nil:
			v = tgt.Version
		case errors.Is(err, domain.ErrIndexVersionRequired):
			// A bare name clears the active version only; guessing at the
			// latest would clear an index that may still be filling.
			v, err = e.mgr.ActiveVersion(ctx, act.Index)
			if err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
	if err := reg.SetActionVersion(ctx, act.ID, v.ID); err != nil {
		return nil, err
	}

	if p.mode == domain.FanoutOlder {
		older, err := reg.OlderVersions(ctx, v.Index, v.ID)
		if err != nil {
			return nil, err
		}
		if _, err := e.fanout(ctx, act, older, func(target domain.Version) performer {
			return &clearPerformer{pinned: &target}
		}); err != nil {
			return nil, err
		}
		return v, nil
	}

	removed, err := e.mgr.ClearDocs(ctx, v)
	if err != nil {
		return nil, err
	}
	if _, err := reg.AddDocsAffected(ctx, act.ID, removed); err != nil {
		return nil, err
	}
	if act.ParentID != 0 {
		if _, err := reg.AddDocsAffected(ctx, act.ParentID, removed); err != nil {
			return nil, err
		}
	}
	return v, reg.AppendLog(ctx, act.ID,
		fmt.Sprintf("cleared %d documents from %s", removed, v.PhysicalName()))
}
