package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/reindex"
)

type updateResult struct {
	version domain.Version
	summary reindex.Summary
}

// updatePerformer bulk-loads documents from the index's data source into the
// resolved version. Newer mode fans out over every newer live version, with
// the parent's docs_affected accumulating the children's counts.
type updatePerformer struct {
	target    string
	mode      domain.FanoutMode
	resume    bool
	startDate time.Time
	workers   int
	batchSize int

	pinned *domain.Version
}

func (p *updatePerformer) kind() domain.ActionKind { return domain.KindUpdateIndex }

func (p *updatePerformer) perform(ctx context.Context, e *Engine, act *domain.Action) (any, error) {
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
			// A bare name updates the active version only; loading into a
			// version nobody serves from must be asked for by exact name.
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

	if p.mode == domain.FanoutNewer && p.pinned == nil {
		// Strictly newer versions only; the pivot itself is not re-updated.
		newer, err := reg.NewerVersions(ctx, v.Index, v.ID)
		if err != nil {
			return nil, err
		}
		children, err := e.fanout(ctx, act, newer, func(target domain.Version) performer {
			child := *p
			child.mode = domain.FanoutNone
			child.pinned = &target
			return &child
		})
		if err != nil {
			return nil, err
		}
		// The parent's count is the sum of its children's.
		var total int64
		for _, c := range children {
			final, err := reg.GetAction(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			total += final.DocsAffected
		}
		if total > 0 {
			if _, err := reg.AddDocsAffected(ctx, act.ID, total); err != nil {
				return nil, err
			}
		}
		return updateResult{version: v, summary: reindex.Summary{DocsIndexed: total}}, nil
	}

	def, ok := e.mgr.Definition(v.Index)
	if !ok {
		return nil, &domain.IndexNotFoundError{Name: v.Index}
	}
	if def.Source == nil {
		return nil, fmt.Errorf("index %q has no data source", v.Index)
	}

	since, err := p.sinceTime(ctx, e, v)
	if err != nil {
		return nil, err
	}
	ids, err := def.Source.IDs(ctx, since)
	if err != nil {
		return nil, err
	}

	batchSize := p.batchSize
	if batchSize < 1 {
		batchSize = def.BatchSize
	}
	if batchSize < 1 {
		batchSize = e.defaults.BatchSize
	}
	workers := 1
	if p.workers > 0 {
		workers = reindex.ResolveWorkers(p.workers)
	}

	exec := &chunkExecutor{engine: e, parent: act, version: v, src: def.Source}
	summary, err := e.pipe.Run(ctx, exec, reindex.Params{
		Index:      v.Index,
		IDs:        ids,
		BatchSize:  batchSize,
		MaxRetries: e.defaults.MaxRetries,
		Workers:    workers,
	})
	if err != nil {
		return nil, err
	}

	// Chunks that exhausted their retries are still in_progress; close them
	// out so the audit trail has no dangling records.
	if err := e.abortUnfinishedChildren(ctx, act.ID); err != nil {
		return nil, err
	}
	if err := e.checkChildrenComplete(ctx, act.ID); err != nil {
		return nil, err
	}

	if summary.BatchesFailed == 0 {
		if err := reg.MarkUpdateComplete(ctx, v.Index, v.ID, time.Now()); err != nil {
			return nil, err
		}
	}

	if err := reg.AppendLog(ctx, act.ID, fmt.Sprintf(
		"update summary: indexed=%d failed=%d batches=%d batches_failed=%d avg_batch=%s docs_per_sec=%.1f",
		summary.DocsIndexed, summary.DocsFailed, summary.Batches,
		summary.BatchesFailed, summary.AvgBatchTime, summary.DocsPerSecond)); err != nil {
		return nil, err
	}
	return updateResult{version: v, summary: summary}, nil
}

// sinceTime works out the incremental-update cutoff. An explicit start date
// wins over resume mode; resume uses the completion time of the last
// successful update of this version.
func (p *updatePerformer) sinceTime(ctx context.Context, e *Engine, v domain.Version) (time.Time, error) {
	if !p.startDate.IsZero() {
		return p.startDate, nil
	}
	if p.resume {
		return e.mgr.Registry().LastUpdateTime(ctx, v.Index, v.ID)
	}
	return time.Time{}, nil
}

func (e *Engine) abortUnfinishedChildren(ctx context.Context, parentID int64) error {
	reg := e.mgr.Registry()
	children, err := reg.Children(ctx, parentID)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range children {
		if c.Finished() {
			continue
		}
		if err := reg.AppendLog(ctx, c.ID, "aborted: retries exhausted"); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := reg.ToAborted(ctx, c.ID); err != nil {
			errs = append(errs, err)
		}
		e.observe(c.Kind, domain.StatusAborted)
	}
	return errors.Join(errs...)
}
