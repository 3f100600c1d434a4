package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/logger"
)

// fanout runs one child action per target version under a common parent.
// A failing child does not stop the siblings; after all children finish, any
// that did not complete are reported as a warning on the parent, not a
// failure.
func (e *Engine) fanout(
	ctx context.Context,
	parent *domain.Action,
	targets []domain.Version,
	makeChild func(v domain.Version) performer,
) ([]domain.Action, error) {
	reg := e.mgr.Registry()
	log := logger.FromContext(ctx)

	children := make([]domain.Action, 0, len(targets))
	for _, v := range targets {
		child, _, err := e.start(ctx, makeChild(v), actionRequest{
			Index:     v.Index,
			VersionID: v.ID,
			ParentID:  parent.ID,
			Argv:      parent.Argv,
		})
		if err != nil {
			log.Warn("child action failed",
				zap.Int64("parent", parent.ID),
				zap.Int64("child", child.ID),
				zap.Int64("version", v.ID),
				zap.Error(err))
		}
		if child.ID != 0 {
			children = append(children, child)
		}
	}

	if err := e.checkChildrenComplete(ctx, parent.ID); err != nil {
		return children, err
	}

	if err := reg.AppendLog(ctx, parent.ID,
		fmt.Sprintf("fanned out to %d versions", len(targets))); err != nil {
		return children, err
	}
	return children, nil
}

// checkChildrenComplete logs a warning naming every child of parentID that
// did not reach complete. The parent itself still completes.
func (e *Engine) checkChildrenComplete(ctx context.Context, parentID int64) error {
	reg := e.mgr.Registry()

	children, err := reg.Children(ctx, parentID)
	if err != nil {
		return err
	}
	var failed []int64
	for _, c := range children {
		if c.Status != domain.StatusComplete {
			failed = append(failed, c.ID)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	line := fmt.Sprintf("warning: %d of %d child actions did not complete: %v",
		len(failed), len(children), failed)
	logger.FromContext(ctx).Warn("incomplete child actions",
		zap.Int64("parent", parentID),
		zap.Int64s("children", failed))
	return reg.AppendLog(ctx, parentID, line)
}
