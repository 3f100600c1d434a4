package engine

import (
	"context"
	"fmt"

	"github.com/searchops/indexmigrate/internal/domain"
)

type createResult struct {
	version domain.Version
	created bool
}

// createPerformer materializes the declared schema as a new version when the
// fingerprint changed, reuses the latest version when it did not, and in
// esOnly mode only repairs missing physical indexes.
type createPerformer struct {
	force  bool
	esOnly bool
}

func (p *createPerformer) kind() domain.ActionKind { return domain.KindCreateIndex }

func (p *createPerformer) perform(ctx context.Context, e *Engine, act *domain.Action) (any, error) {
	reg := e.mgr.Registry()

	v, created, err := e.mgr.CreateVersion(ctx, act.Index, p.force, p.esOnly)
	if err != nil {
		return nil, err
	}
	if err := reg.SetActionVersion(ctx, act.ID, v.ID); err != nil {
		return nil, err
	}

	var line string
	switch {
	case p.esOnly:
		line = fmt.Sprintf("es-only repair of %s, recreated_missing=%v", act.Index, created)
	case created:
		line = fmt.Sprintf("created version %s (schema hash %s)", v.PhysicalName(), v.SchemaHash)
	default:
		line = fmt.Sprintf("no-op: schema unchanged since version %s", v.PhysicalName())
	}
	if err := reg.AppendLog(ctx, act.ID, line); err != nil {
		return nil, err
	}
	return createResult{version: v, created: created}, nil
}
