package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

type fakeSource struct {
	fetchFn func(context.Context, string, plan.Params) (plan.Snapshot, error)
}

func (f *fakeSource) Fetch(ctx context.Context, action string, params plan.Params) (plan.Snapshot, error) {
	return f.fetchFn(ctx, action, params)
}

func samplePlan() plan.Snapshot {
	due := "2026-11-01"
	return plan.Snapshot{
		Name: "Buyer plan",
		Root: plan.SnapshotRoot{Children: []*plan.Row{
			{
				EID: "p2", PID: plan.RootPID, Pos: 1, Type: plan.TypePanel, Name: "Article 3: Cooperation", Visible: true,
				Children: []*plan.Row{
					{EID: "c3", PID: "p2", Pos: 0, Type: plan.TypeCheckbox, Name: "Share <records>", Visible: true},
				},
			},
			{
				EID: "p1", PID: plan.RootPID, Pos: 0, Type: plan.TypePanel, Name: "Article 2: Disclosure", Visible: true,
				Children: []*plan.Row{
					{EID: "c1", PID: "p1", Pos: 0, Type: plan.TypeCheckbox, Name: "Sign disclosure", Checked: plan.CheckedDone, Visible: true},
					{EID: "c2", PID: "p1", Pos: 1, Type: plan.TypeCheckbox, Name: "Order inspection", Checked: plan.CheckedNext, Visible: true, Date: &due},
					{EID: "h1", PID: "p1", Pos: 2, Type: plan.TypeCheckbox, Name: "Secret step", Visible: false},
					{EID: "m1", PID: "p1", Pos: 3, Type: plan.TypeComment, Name: "Call the inspector", Visible: true},
				},
			},
		}},
	}
}

func TestBuildTemplateData(t *testing.T) {
	data := BuildTemplateData(samplePlan(), time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))

	if len(data.Panels) != 2 {
		t.Fatalf("len(Panels) = %d, want 2", len(data.Panels))
	}
	first := data.Panels[0]
	if first.Name != "Article 2: Disclosure" {
		t.Fatalf("panels not in pos order: first = %q", first.Name)
	}
	if first.Done != 1 || first.Total != 2 || first.Percent != 50 {
		t.Fatalf("progress = %d/%d (%d%%), want 1/2 (50%%)", first.Done, first.Total, first.Percent)
	}
	if len(first.Rows) != 3 {
		t.Fatalf("len(Rows) = %d, want 3 (hidden row excluded)", len(first.Rows))
	}
	if first.Rows[0].State != "done" || first.Rows[1].State != "next" {
		t.Fatalf("states = %q, %q", first.Rows[0].State, first.Rows[1].State)
	}
	if first.Rows[1].Date != "2026-11-01" {
		t.Fatalf("date = %q", first.Rows[1].Date)
	}
	if data.Done != 1 || data.Total != 3 {
		t.Fatalf("plan progress = %d/%d, want 1/3", data.Done, data.Total)
	}
}

func TestRenderPlanHTML(t *testing.T) {
	html, err := RenderPlanHTML(BuildTemplateData(samplePlan(), time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("RenderPlanHTML() error = %v", err)
	}

	for _, want := range []string{"Buyer plan", "Article 2: Disclosure", "1/2 (50%)", "due 2026-11-01", "Oct 19, 2026"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "Secret step") {
		t.Error("hidden row rendered")
	}
	if strings.Contains(html, "<records>") || !strings.Contains(html, "&lt;records&gt;") {
		t.Error("row names must be escaped")
	}
}

func TestExportHTML(t *testing.T) {
	var gotAction string
	svc := NewService(&fakeSource{fetchFn: func(_ context.Context, action string, _ plan.Params) (plan.Snapshot, error) {
		gotAction = action
		return samplePlan(), nil
	}})

	res, err := svc.Export(context.Background(), Request{Action: "plan_plan_get", Params: plan.Params{Plan: "buyer"}, Format: FormatHTML})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if gotAction != "plan_plan_get" {
		t.Fatalf("fetched with %q", gotAction)
	}
	if res.Filename != "Buyer-plan.html" || !strings.HasPrefix(res.MimeType, "text/html") {
		t.Fatalf("result = %q %q", res.Filename, res.MimeType)
	}
	if !strings.Contains(string(res.Data), "Sign disclosure") {
		t.Fatal("export body missing rows")
	}
}

func TestExportErrors(t *testing.T) {
	failing := NewService(&fakeSource{fetchFn: func(context.Context, string, plan.Params) (plan.Snapshot, error) {
		return plan.Snapshot{}, errors.New("backend down")
	}})
	if _, err := failing.Export(context.Background(), Request{Format: FormatHTML}); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("Export() error = %v, want ErrContentUnavailable", err)
	}

	svc := NewService(&fakeSource{fetchFn: func(context.Context, string, plan.Params) (plan.Snapshot, error) {
		return samplePlan(), nil
	}})
	if _, err := svc.Export(context.Background(), Request{Format: "docx"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Export() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExportPDFWithoutBrowser(t *testing.T) {
	if _, err := findBrowser(); err == nil {
		t.Skip("a browser is installed; PDF rendering is exercised manually")
	}
	t.Setenv("PATH", t.TempDir())

	svc := NewService(&fakeSource{fetchFn: func(context.Context, string, plan.Params) (plan.Snapshot, error) {
		return samplePlan(), nil
	}})
	_, err := svc.Export(context.Background(), Request{Format: FormatPDF})
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("Export() error = %v, want ErrPDFDependencyMissing", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Article 2: Disclosure", "Article-2-Disclosure"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "plan"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
