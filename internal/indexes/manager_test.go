package indexes

import (
	"context"
	"errors"
	"testing"

	"github.com/searchops/indexmigrate/internal/db/memdb"
	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/registry"
)

const moviesSchema = `{
	"settings": {"number_of_shards": 1},
	"mappings": {"properties": {"title": {"type": "text"}}}
}`

const moviesSchemaV2 = `{
	"settings": {"number_of_shards": 1},
	"mappings": {"properties": {"title": {"type": "text"}, "year": {"type": "integer"}}}
}`

func newTestManager(t *testing.T, prefix string) (*Manager, *fakeSearch) {
	t.Helper()
	fake := newFakeSearch()
	reg := registry.New(memdb.NewStore(), "test:")
	m := NewManager(reg, fake, prefix, "v1-abc")
	m.Register(Definition{Name: "movies", SchemaRaw: []byte(moviesSchema)})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return m, fake
}

func TestCreateVersion(t *testing.T) {
	ctx := context.Background()
	m, fake := newTestManager(t, "")

	v, created, err := m.CreateVersion(ctx, "movies", false, false)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if !created {
		t.Error("first create should create")
	}
	if v.PhysicalName() != "movies-1" {
		t.Errorf("physical = %q, want movies-1", v.PhysicalName())
	}
	if exists, _ := fake.IndexExists(ctx, "movies-1"); !exists {
		t.Error("physical index not created")
	}
	if v.Tag != "v1-abc" {
		t.Errorf("tag = %q, want v1-abc", v.Tag)
	}
}

func TestCreateVersionUnchangedSchemaIsNoop(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "")

	v1, _, err := m.CreateVersion(ctx, "movies", false, false)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	v2, created, err := m.CreateVersion(ctx, "movies", false, false)
	if err != nil {
		t.Fatalf("second CreateVersion: %v", err)
	}
	if created {
		t.Error("unchanged schema should not create a new version")
	}
	if v2.ID != v1.ID {
		t.Errorf("reused version = %d, want %d", v2.ID, v1.ID)
	}
}

func TestCreateVersionForce(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "")

	v1, _, _ := m.CreateVersion(ctx, "movies", false, false)
	v2, created, err := m.CreateVersion(ctx, "movies", true, false)
	if err != nil {
		t.Fatalf("forced CreateVersion: %v", err)
	}
	if !created {
		t.Error("force should create despite unchanged schema")
	}
	if v2.ID <= v1.ID {
		t.Errorf("forced version id %d not above %d", v2.ID, v1.ID)
	}
}

func TestCreateVersionChangedSchema(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "")

	v1, _, _ := m.CreateVersion(ctx, "movies", false, false)

	m.Register(Definition{Name: "movies", SchemaRaw: []byte(moviesSchemaV2)})
	v2, created, err := m.CreateVersion(ctx, "movies", false, false)
	if err != nil {
		t.Fatalf("CreateVersion after schema change: %v", err)
	}
	if !created {
		t.Error("changed schema should create a new version")
	}
	if v2.ID <= v1.ID {
		t.Errorf("new version id %d not above %d", v2.ID, v1.ID)
	}
	if v2.SchemaHash == v1.SchemaHash {
		t.Error("schema hashes should differ")
	}
}

func TestCreateVersionRollsBackOnSearchFailure(t *testing.T) {
	ctx := context.Background()
	m, fake := newTestManager(t, "")

	fake.createErr = errors.New("engine down")
	if _, _, err := m.CreateVersion(ctx, "movies", false, false); err == nil {
		t.Fatal("expected error when physical create fails")
	}
	fake.createErr = nil

	// The failed row must not survive as the latest version.
	if _, err := m.Registry().LatestVersion(ctx, "movies"); !errors.Is(err, domain.ErrNoCreatedVersion) {
		t.Errorf("err = %v, want ErrNoCreatedVersion after rollback", err)
	}
}

func TestCreateVersionESOnly(t *testing.T) {
	ctx := context.Background()
	m, fake := newTestManager(t, "")

	v1, _, _ := m.CreateVersion(ctx, "movies", false, false)
	fake.DeleteIndex(ctx, v1.PhysicalName())

	v, created, err := m.CreateVersion(ctx, "movies", false, true)
	if err != nil {
		t.Fatalf("esOnly CreateVersion: %v", err)
	}
	if !created {
		t.Error("esOnly should recreate the missing physical index")
	}
	if v.ID != v1.ID {
		t.Errorf("esOnly created version %d, want existing %d", v.ID, v1.ID)
	}
	if exists, _ := fake.IndexExists(ctx, v1.PhysicalName()); !exists {
		t.Error("physical index not recreated")
	}

	if _, _, err := NewManager(m.Registry(), fake, "", "t").CreateVersion(ctx, "movies", false, true); err == nil {
		t.Error("esOnly on an unregistered definition should fail")
	}
}

func TestCreateVersionESOnlyWithoutVersions(t *testing.T) {
	m, _ := newTestManager(t, "")
	_, _, err := m.CreateVersion(context.Background(), "movies", false, true)
	if !errors.Is(err, domain.ErrNoCreatedVersion) {
		t.Errorf("err = %v, want ErrNoCreatedVersion", err)
	}
}

func TestEnvironmentPrefixInPhysicalName(t *testing.T) {
	ctx := context.Background()
	m, fake := newTestManager(t, "test_")

	v, _, err := m.CreateVersion(ctx, "movies", false, false)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if v.PhysicalName() != "test_movies-1" {
		t.Errorf("physical = %q, want test_movies-1", v.PhysicalName())
	}
	if exists, _ := fake.IndexExists(ctx, "test_movies-1"); !exists {
		t.Error("prefixed physical index not created")
	}
}

func TestResolveTarget(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "")
	v1, _, _ := m.CreateVersion(ctx, "movies", false, false)
	v2, _, _ := m.CreateVersion(ctx, "movies", true, false)

	t.Run("bare name resolves to latest when none active", func(t *testing.T) {
		tgt, err := m.ResolveTarget(ctx, "movies", false)
		if err != nil {
			t.Fatalf("ResolveTarget: %v", err)
		}
		if tgt.Version.ID != v2.ID || tgt.Exact {
			t.Errorf("resolved %d exact=%v, want %d exact=false", tgt.Version.ID, tgt.Exact, v2.ID)
		}
	})

	t.Run("bare name resolves to active", func(t *testing.T) {
		if err := m.Registry().SetActiveVersion(ctx, "movies", v1.ID); err != nil {
			t.Fatalf("SetActiveVersion: %v", err)
		}
		tgt, err := m.ResolveTarget(ctx, "movies", false)
		if err != nil {
			t.Fatalf("ResolveTarget: %v", err)
		}
		if tgt.Version.ID != v1.ID {
			t.Errorf("resolved %d, want active %d", tgt.Version.ID, v1.ID)
		}
	})

	t.Run("versioned name pins a version", func(t *testing.T) {
		tgt, err := m.ResolveTarget(ctx, "movies-2", false)
		if err != nil {
			t.Fatalf("ResolveTarget: %v", err)
		}
		if tgt.Version.ID != v2.ID || !tgt.Exact {
			t.Errorf("resolved %d exact=%v, want %d exact=true", tgt.Version.ID, tgt.Exact, v2.ID)
		}
	})

	t.Run("requireVersion rejects bare names", func(t *testing.T) {
		if _, err := m.ResolveTarget(ctx, "movies", true); !errors.Is(err, domain.ErrIndexVersionRequired) {
			t.Errorf("err = %v, want ErrIndexVersionRequired", err)
		}
	})

	t.Run("unknown index", func(t *testing.T) {
		if _, err := m.ResolveTarget(ctx, "ghost", false); !errors.Is(err, domain.ErrIndexNotFound) {
			t.Errorf("err = %v, want ErrIndexNotFound", err)
		}
	})

	t.Run("unknown version", func(t *testing.T) {
		if _, err := m.ResolveTarget(ctx, "movies-99", false); !errors.Is(err, domain.ErrVersionNotFound) {
			t.Errorf("err = %v, want ErrVersionNotFound", err)
		}
	})
}

func TestDropSoftAndHard(t *testing.T) {
	ctx := context.Background()
	m, fake := newTestManager(t, "")
	v1, _, _ := m.CreateVersion(ctx, "movies", false, false)
	v2, _, _ := m.CreateVersion(ctx, "movies", true, false)

	if err := m.Drop(ctx, v1, false); err != nil {
		t.Fatalf("soft Drop: %v", err)
	}
	if exists, _ := fake.IndexExists(ctx, v1.PhysicalName()); exists {
		t.Error("physical index should be gone")
	}
	got, err := m.Registry().GetVersion(ctx, "movies", v1.ID)
	if err != nil {
		t.Fatalf("soft-deleted row should survive: %v", err)
	}
	if !got.Deleted() {
		t.Error("row should be marked deleted")
	}

	if err := m.Drop(ctx, v2, true); err != nil {
		t.Fatalf("hard Drop: %v", err)
	}
	if _, err := m.Registry().GetVersion(ctx, "movies", v2.ID); !errors.Is(err, domain.ErrVersionNotFound) {
		t.Errorf("err = %v, want ErrVersionNotFound after hard delete", err)
	}
}

func TestDropToleratesMissingPhysicalIndex(t *testing.T) {
	ctx := context.Background()
	m, fake := newTestManager(t, "")
	v, _, _ := m.CreateVersion(ctx, "movies", false, false)
	fake.DeleteIndex(ctx, v.PhysicalName())

	if err := m.Drop(ctx, v, false); err != nil {
		t.Fatalf("Drop of missing physical index should succeed: %v", err)
	}
}

func TestMatchesPrefix(t *testing.T) {
	m, _ := newTestManager(t, "test_")

	tests := []struct {
		physical   string
		justPrefix string
		want       bool
	}{
		{"test_movies-1", "", true},
		{"test_movies-1", "mov", true},
		{"test_movies-1", "books", false},
		{"prod_movies-1", "", false},
	}
	for _, tt := range tests {
		if got := m.MatchesPrefix(tt.physical, tt.justPrefix); got != tt.want {
			t.Errorf("MatchesPrefix(%q, %q) = %v, want %v", tt.physical, tt.justPrefix, got, tt.want)
		}
	}
}
