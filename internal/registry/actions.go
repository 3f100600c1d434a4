package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/searchops/indexmigrate/internal/db"
	"github.com/searchops/indexmigrate/internal/domain"
)

func isNotFound(err error) bool { return errors.Is(err, db.ErrKeyNotFound) }

// statusRank orders action statuses for the monotonic transition guard.
var statusRank = map[domain.ActionStatus]int{
	domain.StatusQueued:     0,
	domain.StatusInProgress: 1,
	domain.StatusComplete:   2,
	domain.StatusAborted:    2,
}

// NewAction allocates the next action id, persists the row with status
// queued, and links it into the global list and its parent's children.
func (r *Registry) NewAction(ctx context.Context, a domain.Action) (domain.Action, error) {
	id, err := r.store.Incr(ctx, r.actionSeqKey())
	if err != nil {
		return domain.Action{}, fmt.Errorf("next action id: %w", err)
	}
	a.ID = id
	a.Status = domain.StatusQueued
	a.LastModified = r.now()

	if err := r.store.HSet(ctx, r.actionKey(a.ID), actionToHash(a)); err != nil {
		return domain.Action{}, fmt.Errorf("persist action %d: %w", a.ID, err)
	}
	if err := r.store.RPush(ctx, r.actionsKey(), strconv.FormatInt(a.ID, 10)); err != nil {
		return domain.Action{}, fmt.Errorf("link action %d: %w", a.ID, err)
	}
	if a.ParentID != 0 {
		if err := r.store.RPush(ctx, r.actionChildrenKey(a.ParentID), strconv.FormatInt(a.ID, 10)); err != nil {
			return domain.Action{}, fmt.Errorf("link action %d to parent %d: %w", a.ID, a.ParentID, err)
		}
	}
	return a, nil
}

// GetAction returns one action row.
func (r *Registry) GetAction(ctx context.Context, id int64) (domain.Action, error) {
	h, err := r.store.HGetAll(ctx, r.actionKey(id))
	if err != nil {
		return domain.Action{}, fmt.Errorf("get action %d: %w", id, err)
	}
	if len(h) == 0 {
		return domain.Action{}, fmt.Errorf("action %d not found", id)
	}
	return actionFromHash(h), nil
}

// ListActions returns actions in creation order. A non-empty index restricts
// the result to one logical index.
func (r *Registry) ListActions(ctx context.Context, index string) ([]domain.Action, error) {
	ids, err := r.store.LRange(ctx, r.actionsKey(), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return r.loadActions(ctx, ids, index)
}

// Children returns the direct child actions of id, in creation order.
func (r *Registry) Children(ctx context.Context, id int64) ([]domain.Action, error) {
	ids, err := r.store.LRange(ctx, r.actionChildrenKey(id), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("children of action %d: %w", id, err)
	}
	return r.loadActions(ctx, ids, "")
}

func (r *Registry) loadActions(ctx context.Context, ids []string, index string) ([]domain.Action, error) {
	keys := make([]string, 0, len(ids))
	for _, raw := range ids {
		keys = append(keys, r.actionKey(parseInt(raw)))
	}
	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}

	out := make([]domain.Action, 0, len(hashes))
	for _, h := range hashes {
		if len(h) == 0 {
			continue
		}
		a := actionFromHash(h)
		if index != "" && a.Index != index {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ToInProgress moves an action from queued to in_progress and stamps
// StartedAt.
func (r *Registry) ToInProgress(ctx context.Context, id int64) error {
	return r.transition(ctx, id, domain.StatusInProgress, map[string]string{
		"started_at": formatTime(r.now()),
	})
}

// ToComplete moves an action to complete and stamps EndedAt.
func (r *Registry) ToComplete(ctx context.Context, id int64) error {
	return r.transition(ctx, id, domain.StatusComplete, map[string]string{
		"ended_at": formatTime(r.now()),
	})
}

// ToAborted moves an action to aborted and stamps EndedAt.
func (r *Registry) ToAborted(ctx context.Context, id int64) error {
	return r.transition(ctx, id, domain.StatusAborted, map[string]string{
		"ended_at": formatTime(r.now()),
	})
}

// transition applies a forward-only status change. A transition that would
// move backward or re-terminate a finished action is rejected.
func (r *Registry) transition(ctx context.Context, id int64, to domain.ActionStatus, extra map[string]string) error {
	a, err := r.GetAction(ctx, id)
	if err != nil {
		return err
	}
	if statusRank[to] <= statusRank[a.Status] {
		return fmt.Errorf("action %d: illegal status transition %s -> %s", id, a.Status, to)
	}

	fields := map[string]string{
		"status":        string(to),
		"last_modified": formatTime(r.now()),
	}
	for k, v := range extra {
		fields[k] = v
	}
	if err := r.store.HSet(ctx, r.actionKey(id), fields); err != nil {
		return fmt.Errorf("transition action %d to %s: %w", id, to, err)
	}
	return nil
}

// SetActionVersion records the version an action resolved to after the fact.
func (r *Registry) SetActionVersion(ctx context.Context, id, versionID int64) error {
	err := r.store.HSet(ctx, r.actionKey(id), map[string]string{
		"version_id":    strconv.FormatInt(versionID, 10),
		"last_modified": formatTime(r.now()),
	})
	if err != nil {
		return fmt.Errorf("set version of action %d: %w", id, err)
	}
	return nil
}

// SetTaskParams persists the chunk parameters of a partial update action.
func (r *Registry) SetTaskParams(ctx context.Context, id int64, paramsJSON string) error {
	err := r.store.HSet(ctx, r.actionKey(id), map[string]string{
		"task_params":   paramsJSON,
		"last_modified": formatTime(r.now()),
	})
	if err != nil {
		return fmt.Errorf("set task params of action %d: %w", id, err)
	}
	return nil
}

// AppendLog adds one line to the action's durable log.
func (r *Registry) AppendLog(ctx context.Context, id int64, line string) error {
	entry := fmt.Sprintf("%s %s", r.now().UTC().Format(time.RFC3339), line)
	if err := r.store.RPush(ctx, r.actionLogKey(id), entry); err != nil {
		return fmt.Errorf("append log of action %d: %w", id, err)
	}
	return nil
}

// ActionLog returns the durable log lines of an action.
func (r *Registry) ActionLog(ctx context.Context, id int64) ([]string, error) {
	lines, err := r.store.LRange(ctx, r.actionLogKey(id), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("log of action %d: %w", id, err)
	}
	return lines, nil
}

// AddDocsAffected atomically adds delta to the action's affected-document
// counter and returns the new total. The increment itself is a single HINCRBY;
// transient transport errors are retried with jittered backoff, never the
// increment after it was acknowledged.
func (r *Registry) AddDocsAffected(ctx context.Context, id, delta int64) (int64, error) {
	return r.incrField(ctx, id, "docs_affected", delta)
}

// AddDocsFailed atomically adds delta to the action's failed-document counter.
func (r *Registry) AddDocsFailed(ctx context.Context, id, delta int64) (int64, error) {
	return r.incrField(ctx, id, "docs_failed", delta)
}

func (r *Registry) incrField(ctx context.Context, id int64, field string, delta int64) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Duration(rand.Intn(100*(1<<attempt))) * time.Millisecond):
			}
		}
		n, err := r.store.HIncrBy(ctx, r.actionKey(id), field, delta)
		if err == nil {
			return n, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("increment %s of action %d: %w", field, id, lastErr)
}

// MarkUpdateComplete records when an update of a version last completed.
// Resume-mode updates fetch only documents changed since this time.
func (r *Registry) MarkUpdateComplete(ctx context.Context, index string, versionID int64, at time.Time) error {
	key := r.lastUpdateKey(index, versionID)
	if err := r.store.Set(ctx, key, []byte(at.UTC().Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("mark update complete for %s-%d: %w", index, versionID, err)
	}
	return nil
}

// LastUpdateTime returns the time the last update of a version completed, or
// the zero time if it never has.
func (r *Registry) LastUpdateTime(ctx context.Context, index string, versionID int64) (time.Time, error) {
	raw, err := r.store.Get(ctx, r.lastUpdateKey(index, versionID))
	if err != nil {
		if isNotFound(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("last update time for %s-%d: %w", index, versionID, err)
	}
	return parseTime(string(raw)), nil
}
