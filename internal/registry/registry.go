// Package registry persists the migration records: logical indexes, their
// schema versions, and the action audit trail. It is the single source of
// truth for which physical index is active for each logical name.
package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/searchops/indexmigrate/internal/db"
	"github.com/searchops/indexmigrate/internal/domain"
)

// Store is the subset of db.Store the registry depends on.
type Store interface {
	db.HashStore
	db.KVStore
	db.ListStore
}

// Registry reads and writes migration records through a db.Store.
type Registry struct {
	store  Store
	prefix string
	now    func() time.Time
}

// New creates a Registry. All keys are namespaced under prefix.
func New(store Store, prefix string) *Registry {
	return &Registry{store: store, prefix: prefix, now: time.Now}
}

// GetOrCreateIndex returns the logical index row for name, creating it on
// first use. Concurrent first calls converge on a single row: an init marker
// written with SetNX decides which caller creates it.
func (r *Registry) GetOrCreateIndex(ctx context.Context, name string) (domain.LogicalIndex, bool, error) {
	won, err := r.store.SetNX(ctx, r.initLockKey(name), []byte("1"))
	if err != nil {
		return domain.LogicalIndex{}, false, fmt.Errorf("init marker for index %q: %w", name, err)
	}

	if won {
		idx := domain.LogicalIndex{Name: name, CreatedAt: r.now()}
		if err := r.store.HSet(ctx, r.indexKey(name), indexToHash(idx)); err != nil {
			return domain.LogicalIndex{}, false, fmt.Errorf("create index row %q: %w", name, err)
		}
		return idx, true, nil
	}

	// The marker exists, so another caller owns creation; its row write may
	// still be in flight.
	for attempt := 0; attempt < 50; attempt++ {
		idx, err := r.GetIndex(ctx, name)
		if err == nil {
			return idx, false, nil
		}
		select {
		case <-ctx.Done():
			return domain.LogicalIndex{}, false, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return domain.LogicalIndex{}, false, &domain.IllegalIndexStateError{
		Index:  name,
		Detail: "init marker present but index row never appeared",
	}
}

// GetIndex returns the logical index row for name.
func (r *Registry) GetIndex(ctx context.Context, name string) (domain.LogicalIndex, error) {
	h, err := r.store.HGetAll(ctx, r.indexKey(name))
	if err != nil {
		return domain.LogicalIndex{}, fmt.Errorf("get index %q: %w", name, err)
	}
	if len(h) == 0 {
		return domain.LogicalIndex{}, &domain.IndexNotFoundError{Name: name}
	}
	return indexFromHash(h), nil
}

// ListIndexes returns every registered logical index, sorted by name.
func (r *Registry) ListIndexes(ctx context.Context) ([]domain.LogicalIndex, error) {
	keys, err := r.store.Scan(ctx, r.prefix+"index:*")
	if err != nil {
		return nil, fmt.Errorf("scan indexes: %w", err)
	}
	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load indexes: %w", err)
	}

	out := make([]domain.LogicalIndex, 0, len(hashes))
	for _, h := range hashes {
		if len(h) == 0 {
			continue
		}
		out = append(out, indexFromHash(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetActiveVersion points the logical index at versionID. Pass 0 to
// deactivate.
func (r *Registry) SetActiveVersion(ctx context.Context, name string, versionID int64) error {
	if _, err := r.GetIndex(ctx, name); err != nil {
		return err
	}
	err := r.store.HSet(ctx, r.indexKey(name), map[string]string{
		"active_version": fmt.Sprintf("%d", versionID),
	})
	if err != nil {
		return fmt.Errorf("set active version of %q: %w", name, err)
	}
	return nil
}

// NewVersion allocates the next version id for v.Index and persists the row.
// The returned copy carries the assigned ID and CreatedAt.
func (r *Registry) NewVersion(ctx context.Context, v domain.Version) (domain.Version, error) {
	id, err := r.store.Incr(ctx, r.versionSeqKey(v.Index))
	if err != nil {
		return domain.Version{}, fmt.Errorf("next version id for %q: %w", v.Index, err)
	}
	v.ID = id
	v.CreatedAt = r.now()
	if err := r.store.HSet(ctx, r.versionKey(v.Index, v.ID), versionToHash(v)); err != nil {
		return domain.Version{}, fmt.Errorf("persist version %s-%d: %w", v.Index, v.ID, err)
	}
	return v, nil
}

// GetVersion returns one version row.
func (r *Registry) GetVersion(ctx context.Context, index string, id int64) (domain.Version, error) {
	h, err := r.store.HGetAll(ctx, r.versionKey(index, id))
	if err != nil {
		return domain.Version{}, fmt.Errorf("get version %s-%d: %w", index, id, err)
	}
	if len(h) == 0 {
		return domain.Version{}, &domain.VersionNotFoundError{Index: index, ID: id}
	}
	return versionFromHash(h), nil
}

// Versions returns every version row of an index, soft-deleted included,
// sorted by id ascending.
func (r *Registry) Versions(ctx context.Context, index string) ([]domain.Version, error) {
	keys, err := r.store.Scan(ctx, r.prefix+"version:"+index+":*")
	if err != nil {
		return nil, fmt.Errorf("scan versions of %q: %w", index, err)
	}
	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load versions of %q: %w", index, err)
	}

	out := make([]domain.Version, 0, len(hashes))
	for _, h := range hashes {
		if len(h) == 0 {
			continue
		}
		out = append(out, versionFromHash(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LiveVersions returns the non-soft-deleted versions, sorted by id ascending.
func (r *Registry) LiveVersions(ctx context.Context, index string) ([]domain.Version, error) {
	all, err := r.Versions(ctx, index)
	if err != nil {
		return nil, err
	}
	live := all[:0]
	for _, v := range all {
		if !v.Deleted() {
			live = append(live, v)
		}
	}
	return live, nil
}

// LatestVersion returns the live version with the highest id.
func (r *Registry) LatestVersion(ctx context.Context, index string) (domain.Version, error) {
	live, err := r.LiveVersions(ctx, index)
	if err != nil {
		return domain.Version{}, err
	}
	if len(live) == 0 {
		return domain.Version{}, &domain.NoCreatedVersionError{Index: index}
	}
	return live[len(live)-1], nil
}

// OlderVersions returns live versions with id below pivotID, ascending.
func (r *Registry) OlderVersions(ctx context.Context, index string, pivotID int64) ([]domain.Version, error) {
	live, err := r.LiveVersions(ctx, index)
	if err != nil {
		return nil, err
	}
	out := live[:0]
	for _, v := range live {
		if v.ID < pivotID {
			out = append(out, v)
		}
	}
	return out, nil
}

// NewerVersions returns live versions with id above pivotID, ascending.
func (r *Registry) NewerVersions(ctx context.Context, index string, pivotID int64) ([]domain.Version, error) {
	live, err := r.LiveVersions(ctx, index)
	if err != nil {
		return nil, err
	}
	out := live[:0]
	for _, v := range live {
		if v.ID > pivotID {
			out = append(out, v)
		}
	}
	return out, nil
}

// SoftDeleteVersion marks a version dropped while keeping the row for audit.
func (r *Registry) SoftDeleteVersion(ctx context.Context, index string, id int64) error {
	if _, err := r.GetVersion(ctx, index, id); err != nil {
		return err
	}
	err := r.store.HSet(ctx, r.versionKey(index, id), map[string]string{
		"deleted_at": formatTime(r.now()),
	})
	if err != nil {
		return fmt.Errorf("soft delete version %s-%d: %w", index, id, err)
	}
	return nil
}

// HardDeleteVersion removes a version row entirely. Used for hard drops and
// for rolling back a version row whose physical index creation failed.
func (r *Registry) HardDeleteVersion(ctx context.Context, index string, id int64) error {
	if err := r.store.Del(ctx, r.versionKey(index, id)); err != nil {
		return fmt.Errorf("hard delete version %s-%d: %w", index, id, err)
	}
	return nil
}

// DeleteIndexRow removes a logical index row and its init marker. Version and
// action rows are untouched.
func (r *Registry) DeleteIndexRow(ctx context.Context, name string) error {
	if err := r.store.Del(ctx, r.indexKey(name)); err != nil {
		return fmt.Errorf("delete index row %q: %w", name, err)
	}
	if err := r.store.Del(ctx, r.initLockKey(name)); err != nil {
		return fmt.Errorf("delete init marker %q: %w", name, err)
	}
	return nil
}

// Purge deletes every key under the registry prefix. Backs the
// dangerous-reset command only.
func (r *Registry) Purge(ctx context.Context) (int, error) {
	keys, err := r.store.Scan(ctx, r.prefix+"*")
	if err != nil {
		return 0, fmt.Errorf("scan for purge: %w", err)
	}
	for _, k := range keys {
		if err := r.store.Del(ctx, k); err != nil {
			return 0, fmt.Errorf("purge key %s: %w", k, err)
		}
	}
	return len(keys), nil
}
