// Package indexes is the facade over the version registry and the search
// engine: it knows every declared logical index, resolves user-supplied
// targets to concrete versions, and keeps registry rows and physical indexes
// in step with each other.
package indexes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/domain/schema"
	"github.com/searchops/indexmigrate/internal/logger"
	"github.com/searchops/indexmigrate/internal/registry"
	"github.com/searchops/indexmigrate/internal/search"
	"github.com/searchops/indexmigrate/internal/source"
)

// Definition declares one managed logical index: its current schema and the
// data source its documents come from.
type Definition struct {
	Name      string
	SchemaRaw []byte
	Source    source.DataSource
	BatchSize int // 0 = use the engine default
}

// Manager is the facade over definitions, registry rows, and physical
// indexes.
type Manager struct {
	reg    *registry.Registry
	search search.Client
	prefix string // environment prefix prepended to physical names
	tag    string // codebase tag stamped on new versions

	mu     sync.RWMutex
	defs   map[string]Definition
	active map[string]int64 // logical name -> active version id
}

// NewManager creates a Manager with no registered definitions.
func NewManager(reg *registry.Registry, client search.Client, envPrefix, tag string) *Manager {
	return &Manager{
		reg:    reg,
		search: client,
		prefix: envPrefix,
		tag:    tag,
		defs:   make(map[string]Definition),
		active: make(map[string]int64),
	}
}

// Register adds a definition. Re-registering a name replaces it.
func (m *Manager) Register(def Definition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs[def.Name] = def
}

// Definition returns the declared definition for a logical name.
func (m *Manager) Definition(name string) (Definition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.defs[name]
	return def, ok
}

// Names returns the registered logical index names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.defs))
	for name := range m.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EnvironmentPrefix returns the prefix prepended to physical index names.
func (m *Manager) EnvironmentPrefix() string { return m.prefix }

// Initialize ensures a registry row exists for every declared definition and
// warms the active-version cache.
func (m *Manager) Initialize(ctx context.Context) error {
	for _, name := range m.Names() {
		if _, created, err := m.reg.GetOrCreateIndex(ctx, name); err != nil {
			return err
		} else if created {
			logger.FromContext(ctx).Info("registered new logical index", zap.String("index", name))
		}
	}
	return m.Refresh(ctx)
}

// Refresh reloads the active-version cache from the registry.
func (m *Manager) Refresh(ctx context.Context) error {
	rows, err := m.reg.ListIndexes(ctx)
	if err != nil {
		return err
	}
	active := make(map[string]int64, len(rows))
	for _, row := range rows {
		active[row.Name] = row.ActiveVersionID
	}

	m.mu.Lock()
	m.active = active
	m.mu.Unlock()
	return nil
}

// ActiveVersionID returns the cached active version id for a logical index,
// 0 when none.
func (m *Manager) ActiveVersionID(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[name]
}

// ActiveVersion loads the active version row of a logical index.
func (m *Manager) ActiveVersion(ctx context.Context, name string) (domain.Version, error) {
	idx, err := m.reg.GetIndex(ctx, name)
	if err != nil {
		return domain.Version{}, err
	}
	if !idx.HasActiveVersion() {
		return domain.Version{}, &domain.NoActiveVersionError{Index: name}
	}
	return m.reg.GetVersion(ctx, name, idx.ActiveVersionID)
}

// Target is a resolved command target: always a logical index, plus a
// concrete version when the target named one.
type Target struct {
	Index   string
	Version domain.Version
	Exact   bool // the target named a specific version
}

// ResolveTarget maps a user-supplied target to a logical index and version.
// "movies" resolves to the index's active version (latest when none is
// active); "movies-3" or "{prefix}movies-3" pins version 3. requireVersion
// rejects bare index names.
func (m *Manager) ResolveTarget(ctx context.Context, target string, requireVersion bool) (Target, error) {
	if base, id, err := schema.ParsePhysicalName(target, m.prefix); err == nil {
		if def, ok := m.Definition(base); ok {
			v, err := m.reg.GetVersion(ctx, base, id)
			if err != nil {
				return Target{}, err
			}
			m.warnOnSchemaDrift(ctx, def, v)
			return Target{Index: base, Version: v, Exact: true}, nil
		}
	}

	if _, ok := m.Definition(target); !ok {
		return Target{}, &domain.IndexNotFoundError{Name: target}
	}
	if requireVersion {
		return Target{}, fmt.Errorf("target %q: %w", target, domain.ErrIndexVersionRequired)
	}

	v, err := m.ActiveVersion(ctx, target)
	if errors.Is(err, domain.ErrNoActiveVersion) {
		v, err = m.reg.LatestVersion(ctx, target)
	}
	if err != nil {
		return Target{}, err
	}
	return Target{Index: target, Version: v}, nil
}

// warnOnSchemaDrift flags an exact-version target whose stored schema no
// longer matches the declared one, so operators see when they are loading
// documents into an index built for different fields.
func (m *Manager) warnOnSchemaDrift(ctx context.Context, def Definition, v domain.Version) {
	parsed, err := schema.Parse(def.SchemaRaw)
	if err != nil {
		return
	}
	hash, _, err := schema.Fingerprint(parsed)
	if err != nil {
		return
	}
	if hash != v.SchemaHash {
		logger.FromContext(ctx).Warn("targeted version's stored schema differs from the declared one",
			zap.String("index", v.Index),
			zap.Int64("version", v.ID),
			zap.String("stored_hash", v.SchemaHash),
			zap.String("declared_hash", hash))
	}
}

// CreateVersion materializes the declared schema of an index as a new
// version: a registry row plus the physical index. When the latest live
// version already carries the same schema fingerprint and force is false,
// nothing is created and that version is returned. esOnly recreates the
// physical index of the latest version without touching registry rows.
func (m *Manager) CreateVersion(ctx context.Context, name string, force, esOnly bool) (domain.Version, bool, error) {
	log := logger.FromContext(ctx)

	def, ok := m.Definition(name)
	if !ok {
		return domain.Version{}, false, &domain.IndexNotFoundError{Name: name}
	}
	if _, _, err := m.reg.GetOrCreateIndex(ctx, name); err != nil {
		return domain.Version{}, false, err
	}

	parsed, err := schema.Parse(def.SchemaRaw)
	if err != nil {
		return domain.Version{}, false, err
	}
	hash, canonical, err := schema.Fingerprint(parsed)
	if err != nil {
		return domain.Version{}, false, err
	}

	latest, err := m.reg.LatestVersion(ctx, name)
	hasLatest := err == nil
	if err != nil && !errors.Is(err, domain.ErrNoCreatedVersion) {
		return domain.Version{}, false, err
	}

	if esOnly {
		if !hasLatest {
			return domain.Version{}, false, &domain.NoCreatedVersionError{Index: name}
		}
		recreated, err := m.RecreateMissing(ctx, name)
		if err != nil {
			return domain.Version{}, false, err
		}
		if latest.SchemaHash != hash {
			log.Warn("stored schema of latest version differs from the declared one",
				zap.String("index", name),
				zap.Int64("version", latest.ID))
		}
		return latest, recreated > 0, nil
	}

	if hasLatest && latest.SchemaHash == hash && !force {
		log.Info("schema unchanged, reusing latest version",
			zap.String("index", name),
			zap.Int64("version", latest.ID))
		// The row exists; make sure the physical index still does too.
		exists, err := m.search.IndexExists(ctx, latest.PhysicalName())
		if err != nil {
			return domain.Version{}, false, err
		}
		if !exists {
			log.Warn("physical index missing, recreating from stored schema",
				zap.String("name", latest.PhysicalName()))
			if _, err := m.search.CreateIndex(ctx, latest.PhysicalName(), latest.SchemaJSON); err != nil {
				return domain.Version{}, false, err
			}
		}
		return latest, false, nil
	}

	v, err := m.reg.NewVersion(ctx, domain.Version{
		Index:      name,
		Prefix:     m.prefix,
		SchemaJSON: canonical,
		SchemaHash: hash,
		Tag:        m.tag,
	})
	if err != nil {
		return domain.Version{}, false, err
	}

	if _, err := m.search.CreateIndex(ctx, v.PhysicalName(), v.SchemaJSON); err != nil {
		// The physical index never materialized; drop the row so the
		// registry does not advertise a version that cannot serve.
		if delErr := m.reg.HardDeleteVersion(ctx, name, v.ID); delErr != nil {
			return domain.Version{}, false, errors.Join(err, delErr)
		}
		return domain.Version{}, false, err
	}

	log.Info("created index version",
		zap.String("index", name),
		zap.Int64("version", v.ID),
		zap.String("physical", v.PhysicalName()))
	return v, true, nil
}

// RecreateMissing walks every live version of an index and recreates any
// physical index that no longer exists, from the stored schema JSON. Registry
// rows are not touched. Returns the number recreated.
func (m *Manager) RecreateMissing(ctx context.Context, name string) (int, error) {
	log := logger.FromContext(ctx)

	live, err := m.reg.LiveVersions(ctx, name)
	if err != nil {
		return 0, err
	}
	recreated := 0
	for _, v := range live {
		exists, err := m.search.IndexExists(ctx, v.PhysicalName())
		if err != nil {
			return recreated, err
		}
		if exists {
			continue
		}
		if _, err := m.search.CreateIndex(ctx, v.PhysicalName(), v.SchemaJSON); err != nil {
			return recreated, err
		}
		log.Info("recreated missing physical index",
			zap.String("name", v.PhysicalName()),
			zap.Int64("version", v.ID))
		recreated++
	}
	return recreated, nil
}

// ClearDocs removes every document from a version's physical index.
func (m *Manager) ClearDocs(ctx context.Context, v domain.Version) (int64, error) {
	return m.search.DeleteAllDocuments(ctx, v.PhysicalName())
}

// Drop removes a version's physical index and its registry row. hardDelete
// removes the row entirely instead of soft-deleting it. A missing physical
// index is tolerated.
func (m *Manager) Drop(ctx context.Context, v domain.Version, hardDelete bool) error {
	existed, err := m.search.DeleteIndex(ctx, v.PhysicalName())
	if err != nil {
		return err
	}
	if !existed {
		logger.FromContext(ctx).Warn("physical index was already gone",
			zap.String("name", v.PhysicalName()))
	}

	if hardDelete {
		err = m.reg.HardDeleteVersion(ctx, v.Index, v.ID)
	} else {
		err = m.reg.SoftDeleteVersion(ctx, v.Index, v.ID)
	}
	if err != nil {
		return err
	}

	// A deleted version must never be left as the active pointer.
	idx, err := m.reg.GetIndex(ctx, v.Index)
	if err != nil {
		return err
	}
	if idx.ActiveVersionID == v.ID {
		if err := m.reg.SetActiveVersion(ctx, v.Index, 0); err != nil {
			return err
		}
	}
	return m.Refresh(ctx)
}

// Registry exposes the underlying registry for engine orchestration.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Search exposes the underlying search client.
func (m *Manager) Search() search.Client { return m.search }

// MatchesPrefix reports whether a physical index name belongs to this
// manager's environment, optionally narrowed by an extra name prefix.
func (m *Manager) MatchesPrefix(physical, justPrefix string) bool {
	if !strings.HasPrefix(physical, m.prefix) {
		return false
	}
	return strings.HasPrefix(strings.TrimPrefix(physical, m.prefix), justPrefix)
}
