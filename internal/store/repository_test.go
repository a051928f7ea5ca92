package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

type repository interface {
	GetPlan(context.Context, string) (Plan, error)
	UpsertPlan(context.Context, Plan) error
	ListPlans(context.Context) ([]Plan, error)
	ListRows(context.Context, string) ([]Row, error)
	GetRow(context.Context, string, string) (Row, error)
	UpsertRows(context.Context, string, []Row) error
	DeleteRows(context.Context, string, []string) error
	SearchRows(context.Context, string, string, int) ([]Row, error)
}

func openSQLite(t *testing.T) *SQLRepository {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "plans.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLRepository(db, dialect)
}

func TestRepositories(t *testing.T) {
	repos := map[string]func(t *testing.T) repository{
		"memory": func(*testing.T) repository { return NewMemoryRepository() },
		"sqlite": func(t *testing.T) repository { return openSQLite(t) },
	}
	for name, open := range repos {
		t.Run(name, func(t *testing.T) {
			exerciseRepository(t, open(t))
		})
	}
}

func exerciseRepository(t *testing.T, repo repository) {
	ctx := context.Background()
	const key = "buyer:k1"

	if _, err := repo.GetPlan(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.UpsertPlan(ctx, Plan{Key: key, PlanType: "buyer", Name: "Buyer", AppMode: "plan", KeyID: "k1", CreatedAt: 10, UpdatedAt: 10}); err != nil {
		t.Fatalf("upsert plan: %v", err)
	}
	if err := repo.UpsertPlan(ctx, Plan{Key: key, PlanType: "ignored", Name: "Buyer plan", UpdatedAt: 20}); err != nil {
		t.Fatalf("rename plan: %v", err)
	}
	got, err := repo.GetPlan(ctx, key)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if got.Name != "Buyer plan" || got.PlanType != "buyer" || got.CreatedAt != 10 || got.UpdatedAt != 20 {
		t.Fatalf("unexpected plan %+v", got)
	}

	due := "2026-01-02"
	rows := []Row{
		{ShortRow: plan.ShortRow{EID: "p1", PID: plan.RootPID, Pos: 0, Type: plan.TypePanel, Name: "Disclosure", Visible: true, Owner: plan.UnsetOwner}, UpdatedAt: 5},
		{ShortRow: plan.ShortRow{EID: "c1", PID: "p1", Pos: 0, Type: plan.TypeCheckbox, Name: "Sign 50% form", Tooltip: "seller copy", Checked: plan.CheckedDone, Visible: true, Date: &due}, UpdatedAt: 5},
		{ShortRow: plan.ShortRow{EID: "c2", PID: "p1", Pos: 1, Type: plan.TypeCheckbox, Name: "Review", Visible: false, NewWindow: true}, UpdatedAt: 5},
	}
	if err := repo.UpsertRows(ctx, key, rows); err != nil {
		t.Fatalf("upsert rows: %v", err)
	}

	listed, err := repo.ListRows(ctx, key)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(listed))
	}

	c1, err := repo.GetRow(ctx, key, "c1")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if c1.Date == nil || *c1.Date != due || c1.Checked != plan.CheckedDone || c1.Type != plan.TypeCheckbox || c1.PlanKey != key {
		t.Fatalf("unexpected row %+v", c1)
	}
	c2, _ := repo.GetRow(ctx, key, "c2")
	if c2.Visible || !c2.NewWindow {
		t.Fatalf("booleans not preserved: %+v", c2)
	}

	c1.Pos = 1
	c2.Pos = 0
	c1.UpdatedAt, c2.UpdatedAt = 9, 9
	if err := repo.UpsertRows(ctx, key, []Row{c1, c2}); err != nil {
		t.Fatalf("reorder rows: %v", err)
	}
	c1, _ = repo.GetRow(ctx, key, "c1")
	if c1.Pos != 1 || c1.UpdatedAt != 9 {
		t.Fatalf("reorder not stored: %+v", c1)
	}

	found, err := repo.SearchRows(ctx, key, "50%", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].EID != "c1" {
		t.Fatalf("search 50%% = %+v", found)
	}
	found, _ = repo.SearchRows(ctx, key, "SELLER", 10)
	if len(found) != 1 {
		t.Fatalf("tooltip search = %+v", found)
	}

	if err := repo.DeleteRows(ctx, key, []string{"c1", "c2"}); err != nil {
		t.Fatalf("delete rows: %v", err)
	}
	if _, err := repo.GetRow(ctx, key, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted row to be gone, got %v", err)
	}

	plans, err := repo.ListPlans(ctx)
	if err != nil || len(plans) != 1 {
		t.Fatalf("list plans = %v, %v", plans, err)
	}
}
