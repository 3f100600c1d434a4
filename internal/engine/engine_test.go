package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/searchops/indexmigrate/internal/db/memdb"
	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/indexes"
	"github.com/searchops/indexmigrate/internal/registry"
)

func TestCreateThenActivate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)

	results, err := env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if len(results) != 1 || !results[0].Created {
		t.Fatalf("unexpected results %+v", results)
	}
	v := results[0].Version
	if results[0].Action.Status != domain.StatusComplete {
		t.Errorf("action status = %s, want complete", results[0].Action.Status)
	}

	idx, _ := env.reg.GetIndex(ctx, "movies")
	if idx.HasActiveVersion() {
		t.Error("new version must not be active before activate")
	}

	actResults, err := env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies"})
	if err != nil {
		t.Fatalf("ActivateIndex: %v", err)
	}
	if actResults[0].Version.ID != v.ID {
		t.Errorf("activated %d, want %d", actResults[0].Version.ID, v.ID)
	}
	idx, _ = env.reg.GetIndex(ctx, "movies")
	if idx.ActiveVersionID != v.ID {
		t.Errorf("active = %d, want %d", idx.ActiveVersionID, v.ID)
	}
}

func TestCreateIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)

	first, _ := env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	second, err := env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	if err != nil {
		t.Fatalf("second CreateIndex: %v", err)
	}
	if second[0].Created {
		t.Error("second create with unchanged schema must be a no-op")
	}
	if second[0].Version.ID != first[0].Version.ID {
		t.Errorf("second create produced version %d, want %d",
			second[0].Version.ID, first[0].Version.ID)
	}

	versions, _ := env.reg.Versions(ctx, "movies")
	if len(versions) != 1 {
		t.Errorf("got %d versions, want 1", len(versions))
	}
}

func TestCreateAbortsAndLogsOnFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	env.search.createErr = errors.New("engine down")

	_, err := env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	if err == nil {
		t.Fatal("expected error")
	}

	actions, _ := env.reg.ListActions(ctx, "movies")
	if len(actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(actions))
	}
	if actions[0].Status != domain.StatusAborted {
		t.Errorf("action status = %s, want aborted", actions[0].Status)
	}

	lines, _ := env.reg.ActionLog(ctx, actions[0].ID)
	if len(lines) == 0 {
		t.Fatal("abort cause not recorded in the action log")
	}
	if !strings.Contains(strings.Join(lines, "\n"), "engine down") {
		t.Errorf("log lines missing cause: %v", lines)
	}
}

func TestActivateBareNamePicksLatest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)

	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies", Force: true})

	results, err := env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies"})
	if err != nil {
		t.Fatalf("ActivateIndex: %v", err)
	}
	if results[0].Version.ID != 2 {
		t.Errorf("activated version %d, want latest 2", results[0].Version.ID)
	}

	// Versioned target pins the older one.
	results, err = env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies-1"})
	if err != nil {
		t.Fatalf("ActivateIndex(movies-1): %v", err)
	}
	if results[0].Version.ID != 1 {
		t.Errorf("activated version %d, want 1", results[0].Version.ID)
	}
}

func TestActivateWithoutVersions(t *testing.T) {
	env := newTestEnv(t, 0)
	_, err := env.engine.ActivateIndex(context.Background(), ActivateOptions{Target: "movies"})
	if !errors.Is(err, domain.ErrNoCreatedVersion) {
		t.Errorf("err = %v, want ErrNoCreatedVersion", err)
	}
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies"})

	if _, err := env.engine.DeactivateIndex(ctx, ActivateOptions{Target: "movies"}); err != nil {
		t.Fatalf("DeactivateIndex: %v", err)
	}
	idx, _ := env.reg.GetIndex(ctx, "movies")
	if idx.HasActiveVersion() {
		t.Error("index should be deactivated")
	}

	// Deactivating again is a no-op, not an error.
	if _, err := env.engine.DeactivateIndex(ctx, ActivateOptions{Target: "movies"}); err != nil {
		t.Fatalf("second DeactivateIndex: %v", err)
	}
}

func TestDropActiveVersionGuard(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)

	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies", Force: true})
	env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies-1"})

	// Scenario: dropping the active version without force is rejected and
	// changes nothing.
	_, err := env.engine.DropIndex(ctx, DropOptions{Target: "movies-1"})
	if !errors.Is(err, domain.ErrCannotDropActiveVersion) {
		t.Fatalf("err = %v, want ErrCannotDropActiveVersion", err)
	}
	v1, err := env.reg.GetVersion(ctx, "movies", 1)
	if err != nil || v1.Deleted() {
		t.Errorf("version 1 must be untouched, got %+v err=%v", v1, err)
	}
	idx, _ := env.reg.GetIndex(ctx, "movies")
	if idx.ActiveVersionID != 1 {
		t.Errorf("active pointer moved to %d", idx.ActiveVersionID)
	}

	// With force it soft-deletes and clears the pointer.
	if _, err := env.engine.DropIndex(ctx, DropOptions{Target: "movies-1", Force: true}); err != nil {
		t.Fatalf("forced drop: %v", err)
	}
	v1, _ = env.reg.GetVersion(ctx, "movies", 1)
	if !v1.Deleted() {
		t.Error("version 1 should be soft-deleted")
	}
	idx, _ = env.reg.GetIndex(ctx, "movies")
	if idx.HasActiveVersion() {
		t.Error("active pointer should be cleared")
	}
}

func TestDropBareNameRequiresForce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies", Force: true})

	if _, err := env.engine.DropIndex(ctx, DropOptions{Target: "movies"}); !errors.Is(err, domain.ErrIndexVersionRequired) {
		t.Fatalf("err = %v, want ErrIndexVersionRequired", err)
	}

	// With force, every live version of the index is dropped.
	if _, err := env.engine.DropIndex(ctx, DropOptions{Target: "movies", Force: true}); err != nil {
		t.Fatalf("forced whole-index drop: %v", err)
	}
	live, _ := env.reg.LiveVersions(ctx, "movies")
	if len(live) != 0 {
		t.Errorf("%d live versions remain, want 0", len(live))
	}
}

func TestDropOlderFanout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	for i := 0; i < 3; i++ {
		env.engine.CreateIndex(ctx, CreateOptions{Target: "movies", Force: i > 0})
	}
	env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies-3"})

	if _, err := env.engine.DropIndex(ctx, DropOptions{Target: "movies", Older: true}); !errors.Is(err, domain.ErrCannotDropOlderWithoutForce) {
		t.Fatalf("err = %v, want ErrCannotDropOlderWithoutForce", err)
	}

	if _, err := env.engine.DropIndex(ctx, DropOptions{Target: "movies", Older: true, Force: true}); err != nil {
		t.Fatalf("forced older drop: %v", err)
	}
	live, _ := env.reg.LiveVersions(ctx, "movies")
	if len(live) != 1 || live[0].ID != 3 {
		t.Errorf("live versions = %v, want only id 3", live)
	}

	// Fan-out produced child drop actions under the parent.
	actions, _ := env.reg.ListActions(ctx, "movies")
	var parentID int64
	for _, a := range actions {
		if a.Kind == domain.KindDropIndex && a.ParentID == 0 && a.Status == domain.StatusComplete {
			parentID = a.ID
		}
	}
	children, _ := env.reg.Children(ctx, parentID)
	if len(children) != 2 {
		t.Errorf("got %d child drops, want 2", len(children))
	}
}

func TestDropAllGuard(t *testing.T) {
	env := newTestEnv(t, 0)
	_, err := env.engine.DropIndex(context.Background(), DropOptions{Target: TargetAll})
	if !errors.Is(err, domain.ErrCannotDropAllWithoutForce) {
		t.Errorf("err = %v, want ErrCannotDropAllWithoutForce", err)
	}
}

func TestClearIndex(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 5)
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies"})
	env.engine.UpdateIndex(ctx, UpdateOptions{Target: "movies"})

	results, err := env.engine.ClearIndex(ctx, ClearOptions{Target: "movies"})
	if err != nil {
		t.Fatalf("ClearIndex: %v", err)
	}
	if results[0].Action.DocsAffected != 5 {
		t.Errorf("docs affected = %d, want 5", results[0].Action.DocsAffected)
	}
	count, _ := env.search.CountDocs(ctx, results[0].Version.PhysicalName())
	if count != 0 {
		t.Errorf("doc count after clear = %d, want 0", count)
	}
}

func TestClearWithoutActiveVersion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})

	_, err := env.engine.ClearIndex(ctx, ClearOptions{Target: "movies"})
	if !errors.Is(err, domain.ErrNoActiveVersion) {
		t.Errorf("err = %v, want ErrNoActiveVersion", err)
	}
}

func TestUpdateScenarioBatching(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 25)
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies"})

	results, err := env.engine.UpdateIndex(ctx, UpdateOptions{Target: "movies", BatchSize: 10})
	if err != nil {
		t.Fatalf("UpdateIndex: %v", err)
	}
	if results[0].Summary.Batches != 3 {
		t.Errorf("batches = %d, want 3", results[0].Summary.Batches)
	}
	if results[0].Action.DocsAffected != 25 {
		t.Errorf("parent docs_affected = %d, want 25", results[0].Action.DocsAffected)
	}

	children, _ := env.reg.Children(ctx, results[0].Action.ID)
	if len(children) != 3 {
		t.Fatalf("got %d partial actions, want 3", len(children))
	}
	var childSum int64
	for _, c := range children {
		if c.Kind != domain.KindPartialUpdateIndex {
			t.Errorf("child kind = %s", c.Kind)
		}
		if c.Status != domain.StatusComplete {
			t.Errorf("child %d status = %s, want complete", c.ID, c.Status)
		}
		childSum += c.DocsAffected
	}
	if childSum != 25 {
		t.Errorf("children docs sum = %d, want 25", childSum)
	}

	count, _ := env.search.CountDocs(ctx, results[0].Version.PhysicalName())
	if count != 25 {
		t.Errorf("indexed count = %d, want 25", count)
	}
}

func TestUpdateParallelAggregation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 50)
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies"})

	results, err := env.engine.UpdateIndex(ctx, UpdateOptions{
		Target: "movies", BatchSize: 5, Workers: 4,
	})
	if err != nil {
		t.Fatalf("UpdateIndex: %v", err)
	}
	if results[0].Action.DocsAffected != 50 {
		t.Errorf("parent docs_affected = %d, want 50", results[0].Action.DocsAffected)
	}

	children, _ := env.reg.Children(ctx, results[0].Action.ID)
	var sum int64
	for _, c := range children {
		sum += c.DocsAffected
	}
	if sum != results[0].Action.DocsAffected {
		t.Errorf("parent %d != children sum %d", results[0].Action.DocsAffected, sum)
	}
}

func TestUpdateRetriesTransientBulkFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 10)
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies"})
	env.search.bulkFails = 2

	results, err := env.engine.UpdateIndex(ctx, UpdateOptions{Target: "movies", BatchSize: 10})
	if err != nil {
		t.Fatalf("UpdateIndex: %v", err)
	}
	if results[0].Summary.BatchesFailed != 0 {
		t.Errorf("batches failed = %d, want 0 after retries", results[0].Summary.BatchesFailed)
	}
	if results[0].Action.DocsAffected != 10 {
		t.Errorf("docs affected = %d, want 10", results[0].Action.DocsAffected)
	}
}

func TestUpdateEmptySourceIsNoop(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies"})

	results, err := env.engine.UpdateIndex(ctx, UpdateOptions{Target: "movies"})
	if err != nil {
		t.Fatalf("UpdateIndex: %v", err)
	}
	if results[0].Summary.Batches != 0 || results[0].Action.DocsAffected != 0 {
		t.Errorf("empty update produced %+v", results[0].Summary)
	}
	if results[0].Action.Status != domain.StatusComplete {
		t.Errorf("status = %s, want complete", results[0].Action.Status)
	}
}

func TestUpdateNewerFanout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 8)
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies", Force: true})
	env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies-1"})

	results, err := env.engine.UpdateIndex(ctx, UpdateOptions{Target: "movies", Newer: true, BatchSize: 4})
	if err != nil {
		t.Fatalf("UpdateIndex: %v", err)
	}

	// Only the strictly newer v2 is loaded; the pivot itself stays untouched.
	parent := results[0].Action
	if parent.DocsAffected != 8 {
		t.Errorf("parent docs_affected = %d, want 8", parent.DocsAffected)
	}
	if count, _ := env.search.CountDocs(ctx, "movies-1"); count != 0 {
		t.Errorf("pivot movies-1 has %d docs, want 0", count)
	}
	if count, _ := env.search.CountDocs(ctx, "movies-2"); count != 8 {
		t.Errorf("count of movies-2 = %d, want 8", count)
	}

	children, _ := env.reg.Children(ctx, parent.ID)
	if len(children) != 1 {
		t.Errorf("got %d child updates, want 1", len(children))
	}
}

func TestUpdateBareNameRequiresActiveVersion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 5)
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})

	_, err := env.engine.UpdateIndex(ctx, UpdateOptions{Target: "movies"})
	if !errors.Is(err, domain.ErrNoActiveVersion) {
		t.Fatalf("err = %v, want ErrNoActiveVersion", err)
	}
	if count, _ := env.search.CountDocs(ctx, "movies-1"); count != 0 {
		t.Errorf("movies-1 has %d docs, want 0", count)
	}

	// Pinning the version by name still works without an active pointer.
	results, err := env.engine.UpdateIndex(ctx, UpdateOptions{Target: "movies-1"})
	if err != nil {
		t.Fatalf("UpdateIndex(movies-1): %v", err)
	}
	if results[0].Action.DocsAffected != 5 {
		t.Errorf("docs_affected = %d, want 5", results[0].Action.DocsAffected)
	}
}

func TestListIncludesNotCreatedRows(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)

	rows, err := env.engine.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 || rows[0].VersionID != 0 {
		t.Fatalf("expected one not-created row, got %+v", rows)
	}

	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies"})
	rows, _ = env.engine.List(ctx, ListOptions{})
	if len(rows) != 1 || !rows[0].Active || rows[0].Physical != "movies-1" {
		t.Errorf("unexpected rows %+v", rows)
	}
}

func TestListJustPrefixFiltersPhysicalNames(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSearch()
	reg := registry.New(memdb.NewStore(), "test:")
	mgr := indexes.NewManager(reg, fake, "test_", "v1-abc")
	mgr.Register(indexes.Definition{Name: "movies", SchemaRaw: []byte(moviesSchema)})
	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	e := New(mgr, nil, Defaults{})
	if _, err := e.CreateIndex(ctx, CreateOptions{Target: "movies"}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	rows, err := e.List(ctx, ListOptions{JustPrefix: "test_"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 || rows[0].Physical != "test_movies-1" {
		t.Fatalf("rows = %+v, want the test_movies-1 row", rows)
	}

	rows, err = e.List(ctx, ListOptions{JustPrefix: "prod_"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %+v, want none for a foreign prefix", rows)
	}
}

func TestDangerousReset(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 3)
	env.engine.CreateIndex(ctx, CreateOptions{Target: "movies"})
	env.engine.ActivateIndex(ctx, ActivateOptions{Target: "movies"})
	env.engine.UpdateIndex(ctx, UpdateOptions{Target: "movies"})

	if err := env.engine.DangerousReset(ctx, false); err == nil {
		t.Fatal("dangerous-reset without force must fail")
	}
	if err := env.engine.DangerousReset(ctx, true); err != nil {
		t.Fatalf("DangerousReset: %v", err)
	}

	infos, _ := env.search.ListIndexes(ctx)
	if len(infos) != 0 {
		t.Errorf("%d physical indexes remain", len(infos))
	}
	// The catalog is re-initialized: the row is back, but empty.
	idx, err := env.reg.GetIndex(ctx, "movies")
	if err != nil {
		t.Fatalf("GetIndex after reset: %v", err)
	}
	if idx.HasActiveVersion() {
		t.Errorf("active pointer survived reset: %d", idx.ActiveVersionID)
	}
	versions, err := env.reg.Versions(ctx, "movies")
	if err != nil {
		t.Fatalf("Versions after reset: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("%d version rows survived reset", len(versions))
	}
}

func TestCreateAllTargets(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	env.engine.Manager().Register(indexes.Definition{Name: "books", SchemaRaw: []byte(moviesSchema)})

	results, err := env.engine.CreateIndex(ctx, CreateOptions{Target: TargetAll})
	if err != nil {
		t.Fatalf("CreateIndex(all): %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}
