// Package reindex plans and executes bulk document loads: it slices a
// document id list into fixed-size chunks, records each chunk durably before
// running it, and drives the chunks through one or more workers with
// per-chunk retry.
package reindex

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/logger"
)

// UseAllWorkers requests one worker per available CPU, minus one for the
// coordinator.
const UseAllWorkers = 999

// ResolveWorkers maps a requested worker count to an effective one.
func ResolveWorkers(requested int) int {
	if requested == UseAllWorkers {
		n := runtime.NumCPU() - 1
		if n < 1 {
			n = 1
		}
		return n
	}
	if requested < 1 {
		return 1
	}
	return requested
}

// ChunkResult is the outcome of one executed chunk.
type ChunkResult struct {
	Succeeded int64
	Failed    int64
	Took      time.Duration
}

// Worker executes chunks. Each pool worker gets its own Worker so drivers can
// hold per-worker connections; Close is called when the worker drains.
type Worker interface {
	RunChunk(ctx context.Context, chunkID int64, chunk domain.ChunkParams) (ChunkResult, error)
	Close() error
}

// Executor supplies the pipeline's durable record keeping and its workers.
type Executor interface {
	// PrepareChunk persists a planned chunk before any execution begins and
	// returns the handle RunChunk will receive.
	PrepareChunk(ctx context.Context, chunk domain.ChunkParams) (int64, error)

	// NewWorker returns a fresh execution context. Called once per pool
	// worker, after planning.
	NewWorker(ctx context.Context) (Worker, error)
}

// Params configures one pipeline run.
type Params struct {
	Index      string
	IDs        []string
	BatchSize  int
	MaxRetries int
	Workers    int // pre-resolved, see ResolveWorkers
}

// Summary aggregates a finished run.
type Summary struct {
	Batches       int
	BatchesFailed int
	DocsIndexed   int64
	DocsFailed    int64
	Elapsed       time.Duration
	AvgBatchTime  time.Duration
	DocsPerSecond float64
}

// Pipeline runs chunked reindex jobs.
type Pipeline struct {
	// Observe, when set, is called once per finished chunk.
	Observe func(index string, res ChunkResult)

	// RetryBaseDelay scales the exponential backoff between attempts.
	// Zero means one second.
	RetryBaseDelay time.Duration

	// JitterMax bounds the random start delay of early parallel chunks.
	// Zero means two seconds.
	JitterMax time.Duration
}

func (p *Pipeline) retryBase() time.Duration {
	if p.RetryBaseDelay > 0 {
		return p.RetryBaseDelay
	}
	return time.Second
}

func (p *Pipeline) jitterMax() time.Duration {
	if p.JitterMax > 0 {
		return p.JitterMax
	}
	return 2 * time.Second
}

// Plan slices ids into chunks of batchSize, carrying the run-wide totals every
// chunk record needs to be understood on its own.
func Plan(ids []string, batchSize, maxRetries, workers int) []domain.ChunkParams {
	if batchSize < 1 {
		batchSize = 1
	}
	total := len(ids)
	numBatches := (total + batchSize - 1) / batchSize

	chunks := make([]domain.ChunkParams, 0, numBatches)
	for i := 0; i < numBatches; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > total {
			end = total
		}
		chunks = append(chunks, domain.ChunkParams{
			BatchNum:   i + 1,
			IDs:        ids[start:end],
			StartIndex: start,
			EndIndex:   end,
			MaxBatches: numBatches,
			TotalDocs:  total,
			BatchItems: end - start,
			MaxRetries: maxRetries,
			Workers:    workers,
		})
	}
	return chunks
}

// Run plans, records, and executes every chunk, returning the aggregate
// summary. An empty id list completes immediately. Chunk failures do not stop
// the run; they are counted and reported in the summary.
func (p *Pipeline) Run(ctx context.Context, exec Executor, params Params) (Summary, error) {
	log := logger.FromContext(ctx)
	started := time.Now()

	chunks := Plan(params.IDs, params.BatchSize, params.MaxRetries, params.Workers)
	if len(chunks) == 0 {
		log.Info("nothing to reindex", zap.String("index", params.Index))
		return Summary{Elapsed: time.Since(started)}, nil
	}

	type job struct {
		id    int64
		chunk domain.ChunkParams
	}

	// Every chunk is persisted before the first one runs, so a crashed run
	// leaves a complete record of what was planned.
	jobs := make([]job, len(chunks))
	for i, chunk := range chunks {
		id, err := exec.PrepareChunk(ctx, chunk)
		if err != nil {
			return Summary{}, fmt.Errorf("prepare chunk %d/%d: %w", chunk.BatchNum, chunk.MaxBatches, err)
		}
		jobs[i] = job{id: id, chunk: chunk}
	}

	log.Info("starting reindex",
		zap.String("index", params.Index),
		zap.Int("docs", len(params.IDs)),
		zap.Int("batches", len(chunks)),
		zap.Int("batch_size", params.BatchSize),
		zap.Int("workers", params.Workers))

	var (
		docsIndexed   atomic.Int64
		docsFailed    atomic.Int64
		batchesFailed atomic.Int64
		batchTimeNs   atomic.Int64
		docsDone      atomic.Int64
	)
	totalDocs := int64(len(params.IDs))
	parallel := params.Workers > 1

	runOne := func(ctx context.Context, w Worker, j job) {
		res, err := p.runWithRetry(ctx, w, j.id, j.chunk, parallel, &docsDone, totalDocs)
		if err != nil {
			batchesFailed.Add(1)
			docsFailed.Add(int64(j.chunk.BatchItems))
			log.Error("chunk failed after retries",
				zap.Int("batch", j.chunk.BatchNum),
				zap.Int("of", j.chunk.MaxBatches),
				zap.Error(err))
			return
		}
		docsIndexed.Add(res.Succeeded)
		docsFailed.Add(res.Failed)
		docsDone.Add(int64(j.chunk.BatchItems))
		batchTimeNs.Add(int64(res.Took))
		if p.Observe != nil {
			p.Observe(params.Index, res)
		}
		log.Info("chunk complete",
			zap.Int("batch", j.chunk.BatchNum),
			zap.Int("of", j.chunk.MaxBatches),
			zap.Int64("indexed", res.Succeeded),
			zap.Int64("failed", res.Failed),
			zap.Duration("took", res.Took))
	}

	if !parallel {
		w, err := exec.NewWorker(ctx)
		if err != nil {
			return Summary{}, fmt.Errorf("new worker: %w", err)
		}
		defer w.Close()
		for _, j := range jobs {
			if err := ctx.Err(); err != nil {
				return Summary{}, err
			}
			runOne(ctx, w, j)
		}
	} else {
		queue := make(chan job)
		var wg sync.WaitGroup
		workerErrs := make(chan error, params.Workers)

		for i := 0; i < params.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w, err := exec.NewWorker(ctx)
				if err != nil {
					workerErrs <- fmt.Errorf("new worker: %w", err)
					// Keep consuming so the feed loop is never left blocked
					// on a pool with no surviving workers.
					for range queue {
					}
					return
				}
				defer w.Close()
				for j := range queue {
					runOne(ctx, w, j)
				}
			}()
		}

	feed:
		for _, j := range jobs {
			select {
			case queue <- j:
			case <-ctx.Done():
				break feed
			}
		}
		close(queue)
		wg.Wait()
		close(workerErrs)

		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		for err := range workerErrs {
			return Summary{}, err
		}
	}

	elapsed := time.Since(started)
	summary := Summary{
		Batches:       len(chunks),
		BatchesFailed: int(batchesFailed.Load()),
		DocsIndexed:   docsIndexed.Load(),
		DocsFailed:    docsFailed.Load(),
		Elapsed:       elapsed,
	}
	ran := len(chunks) - summary.BatchesFailed
	if ran > 0 {
		summary.AvgBatchTime = time.Duration(batchTimeNs.Load() / int64(ran))
	}
	if secs := elapsed.Seconds(); secs > 0 {
		summary.DocsPerSecond = float64(summary.DocsIndexed) / secs
	}

	log.Info("reindex finished",
		zap.String("index", params.Index),
		zap.Int64("indexed", summary.DocsIndexed),
		zap.Int64("failed", summary.DocsFailed),
		zap.Int("batches_failed", summary.BatchesFailed),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Float64("docs_per_sec", summary.DocsPerSecond))
	return summary, nil
}

// runWithRetry executes one chunk with exponential backoff. Early in a
// parallel run, workers start with a small random delay so the backend is not
// hit by every first batch at once.
func (p *Pipeline) runWithRetry(
	ctx context.Context,
	w Worker,
	chunkID int64,
	chunk domain.ChunkParams,
	parallel bool,
	docsDone *atomic.Int64,
	totalDocs int64,
) (ChunkResult, error) {
	if parallel && totalDocs > 0 && docsDone.Load()*10 < totalDocs {
		if err := sleepCtx(ctx, time.Duration(rand.Int63n(int64(p.jitterMax())))); err != nil {
			return ChunkResult{}, err
		}
	}

	retries := chunk.MaxRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(1<<attempt)*p.retryBase()); err != nil {
				return ChunkResult{}, err
			}
			logger.FromContext(ctx).Warn("retrying chunk",
				zap.Int("batch", chunk.BatchNum),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
		}
		res, err := w.RunChunk(ctx, chunkID, chunk)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return ChunkResult{}, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
