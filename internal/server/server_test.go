package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"cityworks/internal/config"
	"cityworks/internal/db"
	"cityworks/internal/domain"
	"cityworks/internal/engine"
	"cityworks/internal/migrate"
	"cityworks/internal/seed"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	clock := func() time.Time { return time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC) }
	e.Now = clock
	e.Audit.Now = clock
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestPipelineEndToEndOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/admin/seed", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("seed status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/pipeline/runs", nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("run status %d: %s", res.StatusCode, string(data))
	}
	var run RunResponse
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.Run.Stage != domain.StageDone {
		t.Errorf("stage = %s", run.Run.Stage)
	}
	if len(run.Candidates) != 5 || len(run.Approved) != 4 || len(run.Tasks) != 4 {
		t.Errorf("candidates %d approved %d tasks %d", len(run.Candidates), len(run.Approved), len(run.Tasks))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/summary", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary status %d: %s", res.StatusCode, string(data))
	}
	var s domain.RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if s.ProjectsApproved != 4 || s.TasksScheduled != 4 {
		t.Errorf("summary = %+v", s)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/schedule", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("schedule status %d: %s", res.StatusCode, string(data))
	}
	var tasks TaskListResponse
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks.Tasks) != 4 {
		t.Fatalf("schedule holds %d tasks", len(tasks.Tasks))
	}

	projectID := tasks.Tasks[0].ProjectID
	res, data = doJSON(t, client, http.MethodGet, fmt.Sprintf("%s/v0/projects/%d", srv.URL, projectID), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("project detail status %d: %s", res.StatusCode, string(data))
	}
	var detail ProjectDetailResponse
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal project detail: %v", err)
	}
	if detail.Candidate.ProjectID != projectID {
		t.Errorf("detail candidate project = %d, want %d", detail.Candidate.ProjectID, projectID)
	}
	if detail.Decision == nil || detail.Decision.Decision != "APPROVED" {
		t.Errorf("detail decision = %+v, want approved", detail.Decision)
	}
	if detail.Task == nil || detail.Task.ProjectID != projectID {
		t.Errorf("detail task = %+v, want scheduled task", detail.Task)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/audit?agent=governance", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit status %d: %s", res.StatusCode, string(data))
	}
	var trail AuditListResponse
	if err := json.Unmarshal(data, &trail); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	if len(trail.Entries) != 5 {
		t.Errorf("governance audit entries = %d, want one per decision", len(trail.Entries))
	}
}

func TestCreateIssueValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"category": "Water",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing title status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "bad_request" {
		t.Errorf("code = %q", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"title":    "Culvert collapse on Route 9",
		"category": "Infrastructure",
		"signal": map[string]any{
			"safety_risk":    true,
			"estimated_cost": 3_000_000,
			"urgency_days":   21,
		},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created domain.ScoredIssue
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal issue: %v", err)
	}
	if created.ID == 0 || created.Signal == nil || !created.Signal.SafetyRisk {
		t.Errorf("created = %+v", created)
	}

	// a reporter who only knows the complaint volume still gets through
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"title":    "Recurring flooding at Elm underpass",
		"category": "Infrastructure",
		"signal": map[string]any{
			"complaint_count": 42,
		},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("partial signal status %d: %s", res.StatusCode, string(data))
	}
	var partial domain.ScoredIssue
	if err := json.Unmarshal(data, &partial); err != nil {
		t.Fatalf("unmarshal issue: %v", err)
	}
	if partial.Signal == nil || partial.Signal.ComplaintCount != 42 {
		t.Errorf("partial signal = %+v", partial.Signal)
	}
	if partial.Signal != nil && partial.Signal.UrgencyDays != 90 {
		t.Errorf("urgency defaulted to %d, want 90", partial.Signal.UrgencyDays)
	}
}

func TestHandleErrorMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no candidates", engine.ErrNoCandidates, http.StatusUnprocessableEntity, "no_candidates"},
		{"duplicate candidate", &engine.DuplicateCandidateError{IssueID: 7}, http.StatusConflict, "duplicate_candidate"},
		{"capacity exceeded", &engine.CapacityExceededError{ResourceType: "water_crew", Week: 5}, http.StatusConflict, "capacity_exceeded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := handleError(tc.err).(*apiError)
			if !ok {
				t.Fatalf("handleError returned %T", handleError(tc.err))
			}
			if got.status != tc.status {
				t.Errorf("status = %d, want %d", got.status, tc.status)
			}
			if got.Body.Code != tc.code {
				t.Errorf("code = %q, want %q", got.Body.Code, tc.code)
			}
		})
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/pipeline/runs/not-a-run", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestSeedLoadMatchesReset(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	if err := seed.Load(ctx, srv.Engine.DB, srv.Engine.Config, srv.Engine.Now); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := srv.Engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/admin/reset", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reset status %d: %s", res.StatusCode, string(data))
	}
	candidates, err := srv.Engine.Repo.ListCandidates(ctx)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("reset left %d candidates", len(candidates))
	}
	issues, err := srv.Engine.Repo.ListIssues(ctx)
	if err != nil {
		t.Fatalf("list issues: %v", err)
	}
	if len(issues) != 7 {
		t.Errorf("reset should keep the %d issues, have %d", 7, len(issues))
	}
}
