package search

import (
	"context"
	"errors"
	"testing"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/store"
)

type fakeRows struct {
	searchRowsFn func(context.Context, string, string, int) ([]store.Row, error)
}

func (f *fakeRows) SearchRows(ctx context.Context, planKey, query string, limit int) ([]store.Row, error) {
	if f.searchRowsFn != nil {
		return f.searchRowsFn(ctx, planKey, query, limit)
	}
	return nil, nil
}

func row(eid, name, tooltip string, visible bool) store.Row {
	return store.Row{PlanKey: "buyer:k1", ShortRow: plan.ShortRow{EID: eid, PID: plan.RootPID, Type: plan.TypeCheckbox, Name: name, Tooltip: tooltip, Visible: visible}}
}

func TestServiceFallsBackToRepository(t *testing.T) {
	var gotKey, gotQuery string
	repo := &fakeRows{searchRowsFn: func(_ context.Context, planKey, query string, limit int) ([]store.Row, error) {
		gotKey, gotQuery = planKey, query
		if limit != 20 {
			t.Fatalf("expected default limit 20, got %d", limit)
		}
		return []store.Row{
			row("c1", "Disclosure form", "", true),
			row("c2", "Inspection", "see the disclosure packet", true),
			row("c3", "Hidden disclosure", "", false),
		}, nil
	}}
	svc := NewService(nil, NewFallback(repo))

	resp := svc.Search(context.Background(), Query{PlanKey: "buyer:k1", Text: "  Disclosure "})
	if gotKey != "buyer:k1" || gotQuery != "Disclosure" {
		t.Fatalf("unexpected repository call %q %q", gotKey, gotQuery)
	}
	if resp.Total != 2 || len(resp.Results) != 2 {
		t.Fatalf("expected 2 visible results, got %+v", resp)
	}
	if resp.Results[0].EID != "c1" || len(resp.Results[0].Fields) != 1 || resp.Results[0].Fields[0] != FieldName {
		t.Fatalf("unexpected first result %+v", resp.Results[0])
	}
	if resp.Results[1].Snippet != "see the disclosure packet" || resp.Results[1].Fields[0] != FieldTooltip {
		t.Fatalf("unexpected second result %+v", resp.Results[1])
	}
}

func TestServiceIncludeHidden(t *testing.T) {
	repo := &fakeRows{searchRowsFn: func(context.Context, string, string, int) ([]store.Row, error) {
		return []store.Row{row("c3", "Hidden disclosure", "", false)}, nil
	}}
	resp := NewService(nil, NewFallback(repo)).Search(context.Background(), Query{PlanKey: "k", Text: "disclosure", IncludeHidden: true})
	if len(resp.Results) != 1 {
		t.Fatalf("expected hidden row, got %+v", resp)
	}
}

func TestServiceRepositoryErrorYieldsEmpty(t *testing.T) {
	repo := &fakeRows{searchRowsFn: func(context.Context, string, string, int) ([]store.Row, error) {
		return nil, errors.New("db down")
	}}
	resp := NewService(nil, NewFallback(repo)).Search(context.Background(), Query{PlanKey: "k", Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}
}

func TestServiceEmptyQuery(t *testing.T) {
	called := false
	repo := &fakeRows{searchRowsFn: func(context.Context, string, string, int) ([]store.Row, error) {
		called = true
		return nil, nil
	}}
	resp := NewService(nil, NewFallback(repo)).Search(context.Background(), Query{PlanKey: "k", Text: "   "})
	if called || len(resp.Results) != 0 {
		t.Fatal("empty query must not hit the repository")
	}
}

func TestDocumentIDIsIndexSafe(t *testing.T) {
	id := DocumentID("buyer:some key/1", "01hx")
	if len(id) != 32 {
		t.Fatalf("unexpected id length %d", len(id))
	}
	for _, c := range id {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("id %q has unsafe rune %q", id, c)
		}
	}
	if DocumentID("a", "bc") == DocumentID("ab", "c") {
		t.Fatal("ids must not collide across plan/eid boundaries")
	}
}

func TestSnippetWindow(t *testing.T) {
	text := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen disclosure"
	got := snippet(text, "disclosure")
	if got != "five six seven eight nine ten eleven twelve thirteen fourteen disclosure" {
		t.Fatalf("unexpected snippet %q", got)
	}
}
