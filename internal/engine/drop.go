package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/domain/schema"
)

// dropPerformer removes index versions. Destructive defaults are guarded:
// the active version, older fan-out, and whole-index drops each require
// force. esOnly mode removes physical indexes without touching the registry.
type dropPerformer struct {
	target     string
	all        bool // target came from TargetAll
	force      bool
	mode       domain.FanoutMode
	esOnly     bool
	hardDelete bool
	justPrefix string

	pinned *domain.Version
}

func (p *dropPerformer) kind() domain.ActionKind { return domain.KindDropIndex }

func (p *dropPerformer) perform(ctx context.Context, e *Engine, act *domain.Action) (any, error) {
	reg := e.mgr.Registry()

	if p.esOnly && p.pinned == nil {
		return p.dropPhysicalOnly(ctx, e, act)
	}

	var v domain.Version
	wholeIndex := false
	switch {
	case p.pinned != nil:
		v = *p.pinned
	default:
		tgt, err := e.mgr.ResolveTarget(ctx, p.target, true)
		switch {
		case err == nil:
			v = tgt.Version
		case errors.Is(err, domain.ErrIndexVersionRequired):
			if p.mode != domain.FanoutOlder {
				// A bare name means every version of the index, which is
				// destructive enough to demand force.
				if !p.force {
					if p.all {
						return nil, domain.ErrCannotDropAllWithoutForce
					}
					return nil, err
				}
				wholeIndex = true
			}
			v, err = p.pivotVersion(ctx, e, act.Index)
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

	if p.mode == domain.FanoutOlder && p.pinned == nil {
		if !p.force {
			return nil, domain.ErrCannotDropOlderWithoutForce
		}
		older, err := reg.OlderVersions(ctx, v.Index, v.ID)
		if err != nil {
			return nil, err
		}
		if _, err := e.fanout(ctx, act, older, func(target domain.Version) performer {
			return &dropPerformer{force: p.force, hardDelete: p.hardDelete, pinned: &target}
		}); err != nil {
			return nil, err
		}
		return v, nil
	}

	if wholeIndex {
		live, err := reg.LiveVersions(ctx, v.Index)
		if err != nil {
			return nil, err
		}
		if _, err := e.fanout(ctx, act, live, func(target domain.Version) performer {
			return &dropPerformer{force: p.force, hardDelete: p.hardDelete, pinned: &target}
		}); err != nil {
			return nil, err
		}
		return v, nil
	}

	idx, err := reg.GetIndex(ctx, v.Index)
	if err != nil {
		return nil, err
	}
	if idx.ActiveVersionID == v.ID && !p.force {
		return nil, domain.ErrCannotDropActiveVersion
	}

	if err := e.mgr.Drop(ctx, v, p.hardDelete); err != nil {
		return nil, err
	}
	return v, reg.AppendLog(ctx, act.ID,
		fmt.Sprintf("dropped %s hard_delete=%v", v.PhysicalName(), p.hardDelete))
}

// pivotVersion picks the reference version for bare-name drops: the active
// version when set, otherwise the latest.
func (p *dropPerformer) pivotVersion(ctx context.Context, e *Engine, index string) (domain.Version, error) {
	v, err := e.mgr.ActiveVersion(ctx, index)
	if errors.Is(err, domain.ErrNoActiveVersion) {
		return e.mgr.Registry().LatestVersion(ctx, index)
	}
	return v, err
}

// dropPhysicalOnly removes matching physical indexes from the search engine
// while leaving every registry row in place.
func (p *dropPerformer) dropPhysicalOnly(ctx context.Context, e *Engine, act *domain.Action) (any, error) {
	reg := e.mgr.Registry()

	infos, err := e.mgr.Search().ListIndexes(ctx)
	if err != nil {
		return nil, err
	}
	dropped := 0
	for _, info := range infos {
		if !e.mgr.MatchesPrefix(info.Name, p.justPrefix) {
			continue
		}
		if !p.all && !nameBelongsTo(info.Name, e.mgr.EnvironmentPrefix(), act.Index) {
			continue
		}
		if _, err := e.mgr.Search().DeleteIndex(ctx, info.Name); err != nil {
			return nil, err
		}
		dropped++
	}
	return domain.Version{}, reg.AppendLog(ctx, act.ID,
		fmt.Sprintf("es-only drop removed %d physical indexes", dropped))
}

func nameBelongsTo(physical, envPrefix, index string) bool {
	base, _, err := schema.ParsePhysicalName(physical, envPrefix)
	return err == nil && base == index
}
