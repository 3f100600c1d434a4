// Package engine executes index lifecycle operations as durable actions:
// every create, update, activate, deactivate, clear, and drop runs through a
// persisted action record whose status, log, and document counters form the
// audit trail of the migration system.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/domain/schema"
	"github.com/searchops/indexmigrate/internal/indexes"
	"github.com/searchops/indexmigrate/internal/logger"
	"github.com/searchops/indexmigrate/internal/metrics"
	"github.com/searchops/indexmigrate/internal/reindex"
)

// TargetAll selects every registered logical index.
const TargetAll = "all"

// Defaults carries engine-wide reindex defaults from configuration.
type Defaults struct {
	BatchSize  int
	MaxRetries int
}

// Engine orchestrates lifecycle actions over the index facade.
type Engine struct {
	mgr      *indexes.Manager
	met      *metrics.Metrics
	pipe     *reindex.Pipeline
	defaults Defaults
}

// New creates an Engine. met may be nil when metrics are not wired.
func New(mgr *indexes.Manager, met *metrics.Metrics, defaults Defaults) *Engine {
	if defaults.BatchSize < 1 {
		defaults.BatchSize = 1000
	}
	if defaults.MaxRetries < 1 {
		defaults.MaxRetries = 5
	}
	e := &Engine{mgr: mgr, met: met, defaults: defaults}
	e.pipe = &reindex.Pipeline{}
	if met != nil {
		e.pipe.Observe = func(index string, res reindex.ChunkResult) {
			met.ObserveBatch(index, int(res.Succeeded), int(res.Failed), res.Took)
		}
	}
	return e
}

// Manager returns the underlying index facade.
func (e *Engine) Manager() *indexes.Manager { return e.mgr }

// Result is the outcome of one root action.
type Result struct {
	Action  domain.Action
	Version domain.Version
	Created bool
	Summary *reindex.Summary
}

// expandTargets maps a command target to the logical targets to act on.
// TargetAll expands to every registered index.
func (e *Engine) expandTargets(target string) ([]string, error) {
	if target == TargetAll {
		names := e.mgr.Names()
		if len(names) == 0 {
			return nil, errors.New("no logical indexes are registered")
		}
		return names, nil
	}
	if target == "" {
		return nil, errors.New("an index target is required")
	}
	return []string{target}, nil
}

// indexNameOf extracts the logical index name from a raw target, stripping a
// version suffix and the environment prefix when present.
func (e *Engine) indexNameOf(target string) string {
	if base, _, err := schema.ParsePhysicalName(target, e.mgr.EnvironmentPrefix()); err == nil {
		if _, ok := e.mgr.Definition(base); ok {
			return base
		}
	}
	return target
}

// runAll executes fn once per expanded target, continuing past per-target
// failures so sibling indexes still get processed. The joined error carries
// every failure.
func (e *Engine) runAll(ctx context.Context, target string, fn func(ctx context.Context, target string) (Result, error)) ([]Result, error) {
	targets, err := e.expandTargets(target)
	if err != nil {
		return nil, err
	}

	var results []Result
	var errs []error
	for _, t := range targets {
		res, err := fn(ctx, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// CreateOptions configures CreateIndex.
type CreateOptions struct {
	Target string // logical name or TargetAll
	Force  bool   // create a new version even when the schema is unchanged
	ESOnly bool   // recreate missing physical indexes only
}

// CreateIndex runs a create action per target index.
func (e *Engine) CreateIndex(ctx context.Context, opts CreateOptions) ([]Result, error) {
	return e.runAll(ctx, opts.Target, func(ctx context.Context, target string) (Result, error) {
		name := e.indexNameOf(target)
		act, payload, err := e.start(ctx, &createPerformer{force: opts.Force, esOnly: opts.ESOnly}, actionRequest{
			Index: name,
			Argv:  fmt.Sprintf("create %s force=%v es_only=%v", target, opts.Force, opts.ESOnly),
		})
		if err != nil {
			return Result{Action: act}, err
		}
		out := payload.(createResult)
		return Result{Action: act, Version: out.version, Created: out.created}, nil
	})
}

// ActivateOptions configures ActivateIndex and DeactivateIndex.
type ActivateOptions struct {
	Target string // logical name, versioned name, or TargetAll
}

// ActivateIndex points each target index at the resolved version: the named
// version for versioned targets, otherwise the latest.
func (e *Engine) ActivateIndex(ctx context.Context, opts ActivateOptions) ([]Result, error) {
	return e.runAll(ctx, opts.Target, func(ctx context.Context, target string) (Result, error) {
		act, payload, err := e.start(ctx, &activatePerformer{target: target}, actionRequest{
			Index: e.indexNameOf(target),
			Argv:  fmt.Sprintf("activate %s", target),
		})
		if err != nil {
			return Result{Action: act}, err
		}
		return Result{Action: act, Version: payload.(domain.Version)}, nil
	})
}

// DeactivateIndex clears the active pointer of each target index.
func (e *Engine) DeactivateIndex(ctx context.Context, opts ActivateOptions) ([]Result, error) {
	return e.runAll(ctx, opts.Target, func(ctx context.Context, target string) (Result, error) {
		act, payload, err := e.start(ctx, &deactivatePerformer{target: target}, actionRequest{
			Index: e.indexNameOf(target),
			Argv:  fmt.Sprintf("deactivate %s", target),
		})
		if err != nil {
			return Result{Action: act}, err
		}
		return Result{Action: act, Version: payload.(domain.Version)}, nil
	})
}

// ClearOptions configures ClearIndex.
type ClearOptions struct {
	Target string
	Older  bool // clear every older version relative to the resolved pivot
}

// ClearIndex deletes all documents from each target version while keeping
// the index structure.
func (e *Engine) ClearIndex(ctx context.Context, opts ClearOptions) ([]Result, error) {
	mode := domain.FanoutNone
	if opts.Older {
		mode = domain.FanoutOlder
	}
	return e.runAll(ctx, opts.Target, func(ctx context.Context, target string) (Result, error) {
		act, payload, err := e.start(ctx, &clearPerformer{target: target, mode: mode}, actionRequest{
			Index: e.indexNameOf(target),
			Argv:  fmt.Sprintf("clear %s older=%v", target, opts.Older),
		})
		if err != nil {
			return Result{Action: act}, err
		}
		return Result{Action: act, Version: payload.(domain.Version)}, nil
	})
}

// DropOptions configures DropIndex.
type DropOptions struct {
	Target     string
	Force      bool
	Older      bool   // drop every older version relative to the pivot
	ESOnly     bool   // remove physical indexes only, keep registry rows
	HardDelete bool   // remove version rows instead of soft-deleting
	JustPrefix string // restrict es-only drops to names with this prefix
}

// DropIndex removes target versions. Guard rails: the active version, older
// fan-out, and whole-catalog drops all require Force.
func (e *Engine) DropIndex(ctx context.Context, opts DropOptions) ([]Result, error) {
	if opts.Target == TargetAll && !opts.Force {
		return nil, domain.ErrCannotDropAllWithoutForce
	}
	mode := domain.FanoutNone
	if opts.Older {
		mode = domain.FanoutOlder
	}
	return e.runAll(ctx, opts.Target, func(ctx context.Context, target string) (Result, error) {
		p := &dropPerformer{
			target:     target,
			all:        opts.Target == TargetAll,
			force:      opts.Force,
			mode:       mode,
			esOnly:     opts.ESOnly,
			hardDelete: opts.HardDelete,
			justPrefix: opts.JustPrefix,
		}
		act, payload, err := e.start(ctx, p, actionRequest{
			Index: e.indexNameOf(target),
			Argv: fmt.Sprintf("drop %s force=%v older=%v es_only=%v hard_delete=%v",
				target, opts.Force, opts.Older, opts.ESOnly, opts.HardDelete),
		})
		if err != nil {
			return Result{Action: act}, err
		}
		return Result{Action: act, Version: payload.(domain.Version)}, nil
	})
}

// UpdateOptions configures UpdateIndex.
type UpdateOptions struct {
	Target    string
	Newer     bool      // also update every newer version relative to the pivot
	Resume    bool      // only documents changed since the last completed update
	StartDate time.Time // only documents changed since this time; wins over Resume
	Workers   int       // 0 = sequential, reindex.UseAllWorkers = all cores
	BatchSize int       // 0 = configured default
}

// UpdateIndex bulk-loads documents from each target index's data source into
// the resolved version's physical index.
func (e *Engine) UpdateIndex(ctx context.Context, opts UpdateOptions) ([]Result, error) {
	mode := domain.FanoutNone
	if opts.Newer {
		mode = domain.FanoutNewer
	}
	return e.runAll(ctx, opts.Target, func(ctx context.Context, target string) (Result, error) {
		p := &updatePerformer{
			target:    target,
			mode:      mode,
			resume:    opts.Resume,
			startDate: opts.StartDate,
			workers:   opts.Workers,
			batchSize: opts.BatchSize,
		}
		act, payload, err := e.start(ctx, p, actionRequest{
			Index: e.indexNameOf(target),
			Argv: fmt.Sprintf("update %s newer=%v resume=%v workers=%d batch_size=%d",
				target, opts.Newer, opts.Resume, opts.Workers, opts.BatchSize),
		})
		if err != nil {
			return Result{Action: act}, err
		}
		out := payload.(updateResult)
		return Result{Action: act, Version: out.version, Summary: &out.summary}, nil
	})
}

// ListRow is one line of the list command output.
type ListRow struct {
	Index     string
	VersionID int64 // 0 = "current, not created"
	Physical  string
	Active    bool
	Deleted   bool
	DocCount  int64
	Tag       string
	CreatedAt time.Time
}

// ListOptions configures List.
type ListOptions struct {
	ESOnly     bool   // list physical indexes straight from the search engine
	JustPrefix string // restrict to physical names with this prefix
}

// List reports every registered index and its versions. Indexes whose schema
// has never been materialized still get a row, so the catalog is visible
// before the first create.
func (e *Engine) List(ctx context.Context, opts ListOptions) ([]ListRow, error) {
	if opts.ESOnly {
		return e.listPhysical(ctx, opts.JustPrefix)
	}

	reg := e.mgr.Registry()
	var rows []ListRow
	for _, name := range e.mgr.Names() {
		if _, _, err := reg.GetOrCreateIndex(ctx, name); err != nil {
			return nil, err
		}
		idx, err := reg.GetIndex(ctx, name)
		if err != nil {
			return nil, err
		}
		versions, err := reg.Versions(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			rows = append(rows, ListRow{Index: name})
			continue
		}
		for _, v := range versions {
			// The prefix filter addresses physical names, not logical ones.
			if opts.JustPrefix != "" && !strings.HasPrefix(v.PhysicalName(), opts.JustPrefix) {
				continue
			}
			count, err := e.mgr.Search().CountDocs(ctx, v.PhysicalName())
			if err != nil {
				return nil, err
			}
			rows = append(rows, ListRow{
				Index:     name,
				VersionID: v.ID,
				Physical:  v.PhysicalName(),
				Active:    idx.ActiveVersionID == v.ID,
				Deleted:   v.Deleted(),
				DocCount:  count,
				Tag:       v.Tag,
				CreatedAt: v.CreatedAt,
			})
		}
	}
	return rows, nil
}

func (e *Engine) listPhysical(ctx context.Context, justPrefix string) ([]ListRow, error) {
	infos, err := e.mgr.Search().ListIndexes(ctx)
	if err != nil {
		return nil, err
	}
	var rows []ListRow
	for _, info := range infos {
		if !e.mgr.MatchesPrefix(info.Name, justPrefix) {
			continue
		}
		rows = append(rows, ListRow{Physical: info.Name, DocCount: info.DocCount})
	}
	return rows, nil
}

// DangerousReset wipes the registry and every physical index in this
// environment. Force is required; there is no partial mode.
func (e *Engine) DangerousReset(ctx context.Context, force bool) error {
	if !force {
		return errors.New("dangerous-reset requires --force")
	}
	log := logger.FromContext(ctx)

	infos, err := e.mgr.Search().ListIndexes(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if !e.mgr.MatchesPrefix(info.Name, "") {
			continue
		}
		if _, err := e.mgr.Search().DeleteIndex(ctx, info.Name); err != nil {
			return err
		}
		log.Warn("deleted physical index", zap.String("name", info.Name))
	}

	purged, err := e.mgr.Registry().Purge(ctx)
	if err != nil {
		return err
	}
	log.Warn("purged registry", zap.Int("keys", purged))

	// Re-register every declared index so the catalog is usable immediately.
	return e.mgr.Initialize(ctx)
}
