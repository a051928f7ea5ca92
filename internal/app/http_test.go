package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/backend"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/gateway"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/gitrepo"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/store"
)

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()
	engine := backend.New(store.NewMemoryRepository(), backend.Options{
		History: gitrepo.New(t.TempDir()),
	})
	return NewHTTPServer(NewService(engine, nil), "*")
}

func templateParams() plan.Params {
	return plan.Params{Plan: "buyer", SessionType: plan.SessionAmbassador, Owner: 7}
}

func ajax(t *testing.T, server *HTTPServer, action string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/ajax?action="+action, bytes.NewReader(raw))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func upsertRow(t *testing.T, server *HTTPServer, row plan.ShortRow) {
	t.Helper()
	rr := ajax(t, server, plan.Action(plan.ModeTemplate, plan.VerbRowUpdate), plan.Payload{Params: templateParams(), Row: &row})
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert %s: status %d: %s", row.EID, rr.Code, rr.Body.String())
	}
	var result plan.PostResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Accepted() {
		t.Fatalf("upsert %s rejected: %s", row.EID, rr.Body.String())
	}
}

func seedPlan(t *testing.T, server *HTTPServer) {
	t.Helper()
	upsertRow(t, server, plan.ShortRow{EID: "p1", PID: plan.RootPID, Pos: 0, Type: plan.TypePanel, Name: "Disclosure", Visible: true})
	upsertRow(t, server, plan.ShortRow{EID: "c1", PID: "p1", Pos: 0, Type: plan.TypeCheckbox, Name: "Sign disclosure", Visible: true})
}

func TestAjaxGetReturnsSnapshot(t *testing.T) {
	server := newTestServer(t)
	seedPlan(t, server)

	rr := ajax(t, server, plan.ActionTemplateGet, templateParams())
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var snap plan.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Root.Children) != 1 || snap.Root.Children[0].EID != "p1" {
		t.Fatalf("unexpected tree: %+v", snap.Root.Children)
	}
	if len(snap.Root.Children[0].Children) != 1 {
		t.Fatalf("expected one child under p1, got %d", len(snap.Root.Children[0].Children))
	}
}

func TestAjaxErrors(t *testing.T) {
	server := newTestServer(t)

	cases := []struct {
		name   string
		action string
		body   string
		status int
		code   string
	}{
		{name: "unknown action", action: "plan_plan_drop", body: `{}`, status: http.StatusNotFound, code: "UNKNOWN_ACTION"},
		{name: "missing action", action: "", body: `{}`, status: http.StatusNotFound, code: "UNKNOWN_ACTION"},
		{name: "bad json", action: plan.ActionTemplateGet, body: `{"plan":`, status: http.StatusBadRequest, code: "INVALID_BODY"},
		{name: "missing plan", action: plan.ActionTemplateGet, body: `{}`, status: http.StatusBadRequest, code: "INVALID_REQUEST"},
		{name: "write without row", action: plan.Action(plan.ModeTemplate, plan.VerbRowUpdate), body: `{"plan":"buyer","sessionType":"ambassador","owner":7}`, status: http.StatusBadRequest, code: "INVALID_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/ajax?action="+tc.action, strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			var response map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if response["code"] != tc.code {
				t.Errorf("expected code %s, got %v", tc.code, response["code"])
			}
		})
	}
}

func TestAjaxRejectedWriteAnswersResultZero(t *testing.T) {
	server := newTestServer(t)
	seedPlan(t, server)

	// No key id makes a plan session an example, which is read-only.
	example := plan.Params{Plan: "buyer", SessionType: plan.SessionClient, Owner: 42}
	row := plan.ShortRow{EID: "c1", PID: "p1", Type: plan.TypeCheckbox, Name: "Sign disclosure", Checked: plan.CheckedDone, Visible: true}
	rr := ajax(t, server, plan.Action(plan.ModePlan, plan.VerbRowUpdate), plan.Payload{Params: example, Row: &row})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["result"] != float64(0) {
		t.Errorf("expected result 0, got %v", response["result"])
	}
	if response["code"] != "FORBIDDEN" {
		t.Errorf("expected code FORBIDDEN, got %v", response["code"])
	}
}

func TestAjaxSearchAndHistory(t *testing.T) {
	server := newTestServer(t)
	seedPlan(t, server)

	rr := ajax(t, server, plan.Action(plan.ModeTemplate, plan.VerbSearch), plan.Payload{Params: templateParams(), Query: "disclosure"})
	if rr.Code != http.StatusOK {
		t.Fatalf("search: status %d", rr.Code)
	}
	var found struct {
		Results []map[string]any `json:"results"`
		Total   int              `json:"total"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &found); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if found.Total != 2 {
		t.Errorf("expected 2 hits, got %d: %s", found.Total, rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/ajax?action=plan_template_history&limit=1", strings.NewReader(`{"plan":"buyer","sessionType":"ambassador","owner":7}`))
	hr := httptest.NewRecorder()
	server.Handler().ServeHTTP(hr, req)
	if hr.Code != http.StatusOK {
		t.Fatalf("history: status %d", hr.Code)
	}
	var history struct {
		Items []gitrepo.CommitInfo `json:"items"`
	}
	if err := json.Unmarshal(hr.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Items) != 1 {
		t.Fatalf("expected 1 history item, got %d", len(history.Items))
	}
	if !strings.Contains(history.Items[0].Message, "c1") {
		t.Errorf("expected newest commit to mention c1, got %q", history.Items[0].Message)
	}
}

func TestRevisionAndCompareRoutes(t *testing.T) {
	server := newTestServer(t)
	seedPlan(t, server)

	req := httptest.NewRequest(http.MethodPost, "/api/ajax?action=plan_template_history", strings.NewReader(`{"plan":"buyer","sessionType":"ambassador","owner":7}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	var history struct {
		Items []gitrepo.CommitInfo `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Items) != 2 {
		t.Fatalf("expected 2 history items, got %d", len(history.Items))
	}
	oldest := history.Items[1].Hash

	req = httptest.NewRequest(http.MethodGet, "/api/history/revision?plan=buyer&sessionType=ambassador&owner=7&hash="+oldest, nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("revision: status %d: %s", rr.Code, rr.Body.String())
	}
	var snap plan.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode revision: %v", err)
	}
	if len(snap.Root.Children) != 1 || len(snap.Root.Children[0].Children) != 0 {
		t.Errorf("expected the first revision to hold only p1, got %+v", snap.Root.Children)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history/compare?plan=buyer&sessionType=ambassador&owner=7&from="+oldest, nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("compare: status %d: %s", rr.Code, rr.Body.String())
	}
	var diff struct {
		Changes []gitrepo.RowChange `json:"changes"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &diff); err != nil {
		t.Fatalf("decode compare: %v", err)
	}
	if len(diff.Changes) != 1 || diff.Changes[0].EID != "c1" {
		t.Errorf("expected c1 to be the only change, got %+v", diff.Changes)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history/revision?plan=buyer&sessionType=ambassador&owner=7&hash=0000000", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown revision, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history/compare?plan=buyer&owner=seven", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad owner, got %d", rr.Code)
	}
}

func TestExportHTML(t *testing.T) {
	server := newTestServer(t)
	seedPlan(t, server)

	req := httptest.NewRequest(http.MethodGet, "/api/export?format=html&plan=buyer&sessionType=ambassador&owner=7", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("expected html content type, got %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, ".html") {
		t.Errorf("expected html attachment, got %q", got)
	}
	if !strings.Contains(rr.Body.String(), "Sign disclosure") {
		t.Error("expected the export to list the checkbox")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/export?format=docx&plan=buyer", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unsupported format, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/export?action=plan_template_row_delete&plan=buyer", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a write action, got %d", rr.Code)
	}
}

func TestHTTPGatewayAgainstServer(t *testing.T) {
	server := newTestServer(t)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	gw, err := gateway.NewHTTP(gateway.Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	defer gw.Close()
	ctx := context.Background()

	row := plan.ShortRow{EID: "p1", PID: plan.RootPID, Type: plan.TypePanel, Name: "Disclosure", Visible: true}
	result, err := gw.Post(ctx, plan.Action(plan.ModeTemplate, plan.VerbRowUpdate), plan.Payload{Params: templateParams(), Row: &row})
	if err != nil || !result.Accepted() {
		t.Fatalf("post: result %+v, err %v", result, err)
	}

	snap, err := gw.Fetch(ctx, plan.ActionTemplateGet, templateParams())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snap.Root.Children) != 1 || snap.Root.Children[0].Name != "Disclosure" {
		t.Fatalf("unexpected snapshot: %+v", snap.Root.Children)
	}

	// A delete of an unknown row is refused on its merits.
	_, err = gw.Post(ctx, plan.Action(plan.ModeTemplate, plan.VerbRowDelete), plan.Payload{Params: templateParams(), EID: "missing"})
	if err == nil {
		t.Fatal("expected the delete to be rejected")
	}
}

func TestPushGatewayReceivesWrites(t *testing.T) {
	server := newTestServer(t)
	seedPlan(t, server)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	gw, err := gateway.NewPush(gateway.Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	defer gw.Close()

	snaps := make(chan plan.Snapshot, 8)
	cancel, err := gw.Subscribe(context.Background(), plan.ActionTemplateGet, templateParams(), func(s plan.Snapshot) {
		snaps <- s
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	first := nextSnapshot(t, snaps)
	if len(first.Root.Children) != 1 {
		t.Fatalf("expected one panel on connect, got %d", len(first.Root.Children))
	}

	upsertRow(t, server, plan.ShortRow{EID: "p2", PID: plan.RootPID, Pos: 1, Type: plan.TypePanel, Name: "Cooperation", Visible: true})

	second := nextSnapshot(t, snaps)
	if len(second.Root.Children) != 2 || second.Root.Children[1].Name != "Cooperation" {
		t.Fatalf("expected the new panel to be pushed, got %+v", second.Root.Children)
	}
}

func TestWebsocketRejectsWriteAction(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/ws?action=plan_template_row_delete&plan=buyer", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func nextSnapshot(t *testing.T, ch <-chan plan.Snapshot) plan.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a snapshot")
		return plan.Snapshot{}
	}
}
