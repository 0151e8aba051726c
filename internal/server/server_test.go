package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"testing"

	"landflow/internal/config"
	"landflow/internal/db"
	"landflow/internal/domain"
	"landflow/internal/engine"
	"landflow/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("landflow")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testJWTSecret}})
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
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func authHeader(t *testing.T, userID string, roles ...string) map[string]string {
	t.Helper()
	token, err := signDevToken(testJWTSecret, userID, roles)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
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

func submitWorkflow(t *testing.T, srv *testServer) domain.WorkflowInstance {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/workflows", map[string]any{
		"title":               "North Ridge Solar",
		"energy_category":     "solar",
		"area_acres":          120,
		"capacity_mw":         100,
		"price_per_mwh":       40,
		"contract_term_years": 20,
	}, authHeader(t, "owner-1", "landowner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var w domain.WorkflowInstance
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("unmarshal workflow: %v", err)
	}
	return w
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestHealthNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestUnauthorized(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/workflows", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := authHeader(t, "admin-1", "administrator")
	investor := authHeader(t, "inv-1", "investor")
	analyst := authHeader(t, "spec-1", "re_analyst")

	w := submitWorkflow(t, srv)

	// skipping straight to ready_to_build conflicts
	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workflows/"+w.ID+"/state", map[string]any{
		"state": "ready_to_build",
	}, admin)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("error code = %s, want invalid_transition", code)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workflows/"+w.ID+"/state", map[string]any{
		"state": "verified_by_admin",
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows/"+w.ID+"/tasks", nil, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("assign tasks status %d: %s", res.StatusCode, string(data))
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil || len(tasks) == 0 {
		t.Fatalf("unmarshal tasks: %v (%s)", err, string(data))
	}
	analystTask := findTaskByRole(t, tasks, "re_analyst")

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+analystTask.ID, map[string]any{
		"status": "in_progress",
		"notes":  "starting yield model",
	}, analyst)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update task status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workflows/"+w.ID, nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get workflow status %d", res.StatusCode)
	}
	var fetched domain.WorkflowInstance
	_ = json.Unmarshal(data, &fetched)
	if fetched.State != "in_progress" {
		t.Fatalf("state = %s, want in_progress", fetched.State)
	}

	for _, step := range []struct {
		state   string
		headers map[string]string
	}{
		{"interest_request", investor},
		{"interest_accepted", admin},
		{"ready_to_build", admin},
	} {
		res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workflows/"+w.ID+"/state", map[string]any{
			"state": step.state,
		}, step.headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("advance to %s: %d %s", step.state, res.StatusCode, string(data))
		}
	}
}

func findTaskByRole(t *testing.T, tasks []domain.Task, role string) domain.Task {
	t.Helper()
	for _, task := range tasks {
		if task.AssignedRole == role {
			return task
		}
	}
	t.Fatalf("no task assigned to %s", role)
	return domain.Task{}
}

func TestUpdateTaskWrongSpecialist(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := authHeader(t, "admin-1", "administrator")
	w := submitWorkflow(t, srv)

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workflows/"+w.ID+"/state", map[string]any{
		"state": "verified_by_admin",
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows/"+w.ID+"/tasks", nil, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("assign tasks status %d: %s", res.StatusCode, string(data))
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	pmTask := findTaskByRole(t, tasks, "project_manager")

	// an analyst-only token may not move a project manager's task
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+pmTask.ID, map[string]any{
		"status": "in_progress",
	}, authHeader(t, "spec-1", "re_analyst"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("error code = %s, want forbidden", code)
	}

	// a non-specialist is rejected before the ownership check
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+pmTask.ID, map[string]any{
		"status": "in_progress",
	}, authHeader(t, "owner-1", "landowner"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for landowner, got %d: %s", res.StatusCode, string(data))
	}

	// the task stays untouched
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+pmTask.ID, nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get task status %d", res.StatusCode)
	}
	var got domain.Task
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "assigned" {
		t.Fatalf("task status = %s, want assigned", got.Status)
	}

	// the token holding the assigned role succeeds
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+pmTask.ID, map[string]any{
		"status": "in_progress",
	}, authHeader(t, "pm-1", "project_manager"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update by assigned role: %d %s", res.StatusCode, string(data))
	}
}

func TestTransitionForbiddenRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	w := submitWorkflow(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/workflows/"+w.ID+"/state", map[string]any{
		"state": "verified_by_admin",
	}, authHeader(t, "inv-1", "investor"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("error code = %s, want forbidden", code)
	}
}

func TestUnionOfRoles(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	w := submitWorkflow(t, srv)

	// a landowner who is also an administrator may verify even though the
	// first-listed role alone could not
	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/workflows/"+w.ID+"/state", map[string]any{
		"state": "verified_by_admin",
	}, authHeader(t, "dual-1", "landowner", "administrator"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dual-role verify status %d: %s", res.StatusCode, string(data))
	}
}

func TestTicketUnknownTask(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tickets", map[string]any{
		"task_id": "nonexistent",
		"subject": "help",
	}, authHeader(t, "spec-1", "re_analyst"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestDocumentUploadAndDownload(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := authHeader(t, "admin-1", "administrator")
	w := submitWorkflow(t, srv)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "sla.pdf")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("agreement body"))
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v0/workflows/"+w.ID+"/sla-documents", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range admin {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("upload status %d: %s", res.StatusCode, string(data))
	}
	var doc domain.SLADocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workflows/"+w.ID+"/sla-documents", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list documents status %d", res.StatusCode)
	}
	var docs []domain.SLADocument
	if err := json.Unmarshal(data, &docs); err != nil || len(docs) != 1 {
		t.Fatalf("document list: %v (%s)", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sla-documents/"+doc.ID+"/content", nil, admin)
	if res.StatusCode != http.StatusOK || string(data) != "agreement body" {
		t.Fatalf("download: %d %q", res.StatusCode, string(data))
	}
}

func TestPortfolioEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := authHeader(t, "admin-1", "administrator")
	investor := authHeader(t, "inv-1", "investor")
	owner := authHeader(t, "owner-1", "landowner")
	w := submitWorkflow(t, srv)

	for _, step := range []struct {
		state   string
		headers map[string]string
	}{
		{"verified_by_admin", admin},
		{"tasks_assigned", admin},
		{"in_progress", admin},
		{"interest_request", investor},
		{"interest_accepted", admin},
	} {
		res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workflows/"+w.ID+"/state", map[string]any{
			"state": step.state,
		}, step.headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("advance to %s: %d %s", step.state, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/portfolio", nil, investor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("portfolio status %d: %s", res.StatusCode, string(data))
	}
	var sum engine.PortfolioSummary
	if err := json.Unmarshal(data, &sum); err != nil {
		t.Fatal(err)
	}
	if sum.ProjectCount != 1 || sum.TotalCapacityMW != 100 || sum.TotalContractValue != 100.0*40*8760*20 {
		t.Fatalf("portfolio = %+v", sum)
	}

	// landowners have no portfolio view
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/portfolio", nil, owner)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for landowner, got %d", res.StatusCode)
	}
}
