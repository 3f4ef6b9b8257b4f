package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"okrbrain/internal/config"
	"okrbrain/internal/db"
	"okrbrain/internal/engine"
	"okrbrain/internal/engine/gate"
	"okrbrain/internal/migrate"
	"okrbrain/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	r := repo.Repo{DB: conn}
	e := engine.New(conn, cfg,
		gate.RuleGate{MinLength: cfg.Quality.MinDescriptionLength},
		gate.SlotCapacity{},
		gate.StructuralValidator{Repo: r},
	)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
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
	for k, v := range headers {
		req.Header.Set(k, v)
	}
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

func TestHealthBypassesAuth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, data)
	}
}

func TestBearerAuthRequired(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", res.StatusCode)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, map[string]string{
		"Authorization": "Bearer " + signToken(t, "tester"),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with signed token, got %d %s", res.StatusCode, data)
	}
}

func TestLegacyActorHeader(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true})
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, map[string]string{
		"X-Actor-Id": "legacy-bot",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("legacy header rejected: %d %s", res.StatusCode, data)
	}
}

func TestDecompositionRunEndToEnd(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals", map[string]any{
		"type":  "global_okr",
		"title": "Grow self-serve revenue",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create goal: %d %s", res.StatusCode, data)
	}
	var goal struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &goal); err != nil || goal.ID == "" {
		t.Fatalf("goal response: %v %s", err, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/decomposition/run", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("run: %d %s", res.StatusCode, data)
	}
	var report struct {
		Summary struct {
			TotalCreated int `json:"total_created"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("report: %v %s", err, data)
	}
	if report.Summary.TotalCreated != 1 {
		t.Fatalf("expected one created task, got %d (%s)", report.Summary.TotalCreated, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?trigger_source=brain_auto", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tasks: %d %s", res.StatusCode, data)
	}
	var tasks []struct {
		ID     string  `json:"id"`
		Status string  `json:"status"`
		GoalID *string `json:"goal_id"`
	}
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Status != "queued" || tasks[0].GoalID == nil || *tasks[0].GoalID != goal.ID {
		t.Fatalf("unexpected tasks: %s", data)
	}

	// a second run dedups instead of duplicating
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/decomposition/run", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second run: %d %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if report.Summary.TotalCreated != 0 {
		t.Fatalf("second run must not create, got %s", data)
	}
}

func TestManualModeEndpoint(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/decomposition/manual-mode", map[string]any{
		"enabled": true,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set manual mode: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/decomposition/run", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("run: %d %s", res.StatusCode, data)
	}
	var report struct {
		Skipped bool   `json:"skipped"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if !report.Skipped || report.Reason != "manual_mode" {
		t.Fatalf("expected manual-mode skip, got %s", data)
	}
}

func TestGoalLadderValidation(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	// non-root goal without a parent
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals", map[string]any{
		"type":  "area_kr",
		"title": "Dangling key result",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, data)
	}

	// layer skipping: area_kr directly under a global_okr
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals", map[string]any{
		"type":  "global_okr",
		"title": "Root objective",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create root: %d %s", res.StatusCode, data)
	}
	var root struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals", map[string]any{
		"type":      "area_kr",
		"parent_id": root.ID,
		"title":     "Skipped two layers",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("layer skip must be rejected, got %d %s", res.StatusCode, data)
	}
}

func TestTaskStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title": "Wire the importer",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, data)
	}
	var task struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID+"/status", map[string]any{
		"status": "completed",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status: %d %s", res.StatusCode, data)
	}
	var updated struct {
		Status      string  `json:"status"`
		CompletedAt *string `json:"completed_at"`
	}
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatal(err)
	}
	if updated.Status != "completed" || updated.CompletedAt == nil {
		t.Fatalf("completion not stamped: %s", data)
	}

	res, _ = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/does-not-exist/status", map[string]any{
		"status": "completed",
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestEventKindFilterCoversTick(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/decomposition/run", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("run: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_kind=engine", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("filter by engine kind: %d %s", res.StatusCode, data)
	}
	var events []struct {
		Type       string `json:"type"`
		EntityKind string `json:"entity_kind"`
	}
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != "decomposition.tick" || events[0].EntityKind != "engine" {
		t.Fatalf("expected the tick event under the engine kind, got %s", data)
	}
}
