package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/logger"
)

// performer is one kind-specific action body. perform runs with the action
// already persisted and in_progress; it returns the kind-specific payload.
type performer interface {
	kind() domain.ActionKind
	perform(ctx context.Context, e *Engine, act *domain.Action) (any, error)
}

// actionRequest carries the identity of a new action.
type actionRequest struct {
	Index     string
	VersionID int64
	ParentID  int64
	Argv      string
}

// start is the single boundary every action runs through: it persists the
// action, moves it to in_progress, invokes the performer, and maps any
// failure (error or panic) to an aborted action with the cause captured in
// the durable log before propagating it to the caller.
func (e *Engine) start(ctx context.Context, p performer, req actionRequest) (domain.Action, any, error) {
	reg := e.mgr.Registry()
	log := logger.FromContext(ctx)

	if req.Index != "" {
		if _, _, err := reg.GetOrCreateIndex(ctx, req.Index); err != nil {
			return domain.Action{}, nil, err
		}
	}

	act, err := reg.NewAction(ctx, domain.Action{
		Kind:      p.kind(),
		Index:     req.Index,
		VersionID: req.VersionID,
		ParentID:  req.ParentID,
		Argv:      req.Argv,
	})
	if err != nil {
		return domain.Action{}, nil, err
	}
	if err := reg.ToInProgress(ctx, act.ID); err != nil {
		return act, nil, err
	}

	log.Info("action started",
		zap.Int64("action", act.ID),
		zap.String("kind", string(act.Kind)),
		zap.String("index", act.Index),
		zap.String("argv", act.Argv))

	defer func() {
		if r := recover(); r != nil {
			e.abort(ctx, act, fmt.Sprintf("panic: %v\n%s", r, debug.Stack()))
			panic(r)
		}
	}()

	result, err := p.perform(ctx, e, &act)
	if err != nil {
		e.abort(ctx, act, fmt.Sprintf("error: kind=%T message=%v\n%s", err, err, debug.Stack()))
		final, getErr := reg.GetAction(ctx, act.ID)
		if getErr == nil {
			act = final
		}
		return act, nil, err
	}

	if err := reg.ToComplete(ctx, act.ID); err != nil {
		return act, result, err
	}
	e.observe(act.Kind, domain.StatusComplete)

	final, err := reg.GetAction(ctx, act.ID)
	if err != nil {
		return act, result, err
	}
	log.Info("action complete",
		zap.Int64("action", final.ID),
		zap.String("kind", string(final.Kind)),
		zap.Int64("docs_affected", final.DocsAffected))
	return final, result, nil
}

// abort records the failure cause in the action's durable log and moves the
// action to aborted. Best effort: an abort that cannot be persisted is only
// logged.
func (e *Engine) abort(ctx context.Context, act domain.Action, cause string) {
	reg := e.mgr.Registry()
	log := logger.FromContext(ctx)

	if err := reg.AppendLog(ctx, act.ID, cause); err != nil {
		log.Error("failed to record abort cause", zap.Int64("action", act.ID), zap.Error(err))
	}
	if err := reg.ToAborted(ctx, act.ID); err != nil {
		log.Error("failed to abort action", zap.Int64("action", act.ID), zap.Error(err))
	}
	e.observe(act.Kind, domain.StatusAborted)
	log.Error("action aborted",
		zap.Int64("action", act.ID),
		zap.String("kind", string(act.Kind)),
		zap.String("index", act.Index))
}

func (e *Engine) observe(kind domain.ActionKind, status domain.ActionStatus) {
	if e.met != nil {
		e.met.ObserveAction(string(kind), string(status))
	}
}
