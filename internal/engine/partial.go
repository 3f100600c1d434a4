package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/reindex"
	"github.com/searchops/indexmigrate/internal/source"
)

// chunkExecutor adapts the engine to the reindex pipeline: each planned chunk
// becomes a durable partial-update action under the parent update action, and
// each pool worker gets its own chunkWorker.
type chunkExecutor struct {
	engine  *Engine
	parent  *domain.Action
	version domain.Version
	src     source.DataSource
}

var _ reindex.Executor = (*chunkExecutor)(nil)

// PrepareChunk persists the chunk as a queued partial-update action carrying
// its bounds and settings, so a crashed run leaves a complete plan behind.
func (x *chunkExecutor) PrepareChunk(ctx context.Context, chunk domain.ChunkParams) (int64, error) {
	reg := x.engine.mgr.Registry()

	params, err := json.Marshal(chunk)
	if err != nil {
		return 0, fmt.Errorf("encode chunk params: %w", err)
	}
	act, err := reg.NewAction(ctx, domain.Action{
		Kind:      domain.KindPartialUpdateIndex,
		Index:     x.version.Index,
		VersionID: x.version.ID,
		ParentID:  x.parent.ID,
		Argv:      fmt.Sprintf("partial update batch %d/%d", chunk.BatchNum, chunk.MaxBatches),
	})
	if err != nil {
		return 0, err
	}
	if err := reg.SetTaskParams(ctx, act.ID, string(params)); err != nil {
		return 0, err
	}
	return act.ID, nil
}

// NewWorker returns a fresh worker. The search client and registry store are
// safe for concurrent use, so workers share them; the per-worker boundary
// still exists for drivers that need their own connections.
func (x *chunkExecutor) NewWorker(context.Context) (reindex.Worker, error) {
	return &chunkWorker{exec: x}, nil
}

// chunkWorker executes one chunk attempt at a time. The pipeline owns the
// retry loop, so a failed attempt leaves the chunk action in_progress; the
// update performer aborts whatever never completed.
type chunkWorker struct {
	exec *chunkExecutor
}

func (w *chunkWorker) RunChunk(ctx context.Context, chunkID int64, chunk domain.ChunkParams) (reindex.ChunkResult, error) {
	x := w.exec
	reg := x.engine.mgr.Registry()
	started := time.Now()

	act, err := reg.GetAction(ctx, chunkID)
	if err != nil {
		return reindex.ChunkResult{}, err
	}
	if act.Status == domain.StatusQueued {
		if err := reg.ToInProgress(ctx, chunkID); err != nil {
			return reindex.ChunkResult{}, err
		}
	}

	docs, err := x.src.FetchByID(ctx, chunk.IDs)
	if err != nil {
		w.logAttempt(ctx, chunkID, fmt.Sprintf("fetch failed: %v", err))
		return reindex.ChunkResult{}, err
	}
	succeeded, failed, err := x.engine.mgr.Search().BulkWrite(ctx, x.version.PhysicalName(), docs)
	if err != nil {
		w.logAttempt(ctx, chunkID, fmt.Sprintf("bulk write failed: %v", err))
		return reindex.ChunkResult{}, err
	}

	var parentTotal int64
	if succeeded > 0 {
		if _, err := reg.AddDocsAffected(ctx, chunkID, int64(succeeded)); err != nil {
			return reindex.ChunkResult{}, err
		}
		// Fold into the parent atomically; concurrent chunks must not lose
		// each other's counts.
		parentTotal, err = reg.AddDocsAffected(ctx, x.parent.ID, int64(succeeded))
		if err != nil {
			return reindex.ChunkResult{}, err
		}
	}
	if failed > 0 {
		if _, err := reg.AddDocsFailed(ctx, chunkID, int64(failed)); err != nil {
			return reindex.ChunkResult{}, err
		}
		if _, err := reg.AddDocsFailed(ctx, x.parent.ID, int64(failed)); err != nil {
			return reindex.ChunkResult{}, err
		}
	}

	took := time.Since(started)
	line := fmt.Sprintf("batch %d/%d indexed=%d failed=%d took=%s",
		chunk.BatchNum, chunk.MaxBatches, succeeded, failed, took)
	if chunk.TotalDocs > 0 && parentTotal > 0 {
		pct := float64(parentTotal) * 100 / float64(chunk.TotalDocs)
		line += fmt.Sprintf(" progress=%.1f%%", pct)
		if remaining := int64(chunk.TotalDocs) - parentTotal; remaining > 0 && succeeded > 0 {
			eta := time.Duration(int64(took) / int64(succeeded) * remaining)
			line += fmt.Sprintf(" est_remaining=%s", eta.Round(time.Second))
		}
	}
	if err := reg.AppendLog(ctx, chunkID, line); err != nil {
		return reindex.ChunkResult{}, err
	}
	if err := reg.ToComplete(ctx, chunkID); err != nil {
		return reindex.ChunkResult{}, err
	}
	x.engine.observe(domain.KindPartialUpdateIndex, domain.StatusComplete)

	return reindex.ChunkResult{
		Succeeded: int64(succeeded),
		Failed:    int64(failed),
		Took:      took,
	}, nil
}

func (w *chunkWorker) logAttempt(ctx context.Context, chunkID int64, line string) {
	// Attempt logs are best effort; the retry error itself still propagates.
	_ = w.exec.engine.mgr.Registry().AppendLog(ctx, chunkID, line)
}

func (w *chunkWorker) Close() error { return nil }
