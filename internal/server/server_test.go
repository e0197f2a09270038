package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/me/reflow/internal/clock"
	"github.com/me/reflow/internal/config"
	"github.com/me/reflow/internal/engine"
	"github.com/me/reflow/internal/logging"
	"github.com/me/reflow/internal/scheduler"
	"github.com/me/reflow/internal/store"
	"github.com/me/reflow/pkg/model"
)

// testServer builds a virtual-mode server over an in-memory store. Tests
// drive time through POST /time/expire; nothing moves on its own.
func testServer(t *testing.T) *Server {
	t.Helper()
	logger := logging.Discard()

	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clk := clock.New()
	eng := engine.New(engine.Config{
		Clock:   clk,
		Fetcher: store.NewCatalogFetcher(st, clk, 100*time.Millisecond),
	}, logger)

	cfg := config.DefaultServerConfig()
	cfg.TickMS = 0
	return New(cfg, st, eng, logger, WithWaitTimeout(50*time.Millisecond))
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func doGet(t *testing.T, srv *Server, path string) envelope {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s: status=%d, want 200, body=%s", path, w.Code, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("GET %s: invalid JSON: %v", path, err)
	}
	return env
}

func doJSON(t *testing.T, srv *Server, method, path, body string, wantStatus int) envelope {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func seedResource(t *testing.T, srv *Server, key, value string, latencyMS int) {
	t.Helper()
	doJSON(t, srv, "PUT", "/api/v1/resources/"+key,
		fmt.Sprintf(`{"value":%q,"latency_ms":%d}`, value, latencyMS), http.StatusOK)
}

func expire(t *testing.T, srv *Server, ms int64) envelope {
	t.Helper()
	return doJSON(t, srv, "POST", "/api/v1/time/expire",
		fmt.Sprintf(`{"duration_ms":%d}`, ms), http.StatusOK)
}

func getTreeText(t *testing.T, srv *Server) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/v1/tree?format=text", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /tree?format=text: status=%d", w.Code)
	}
	return w.Body.String()
}

// suspendingTree is a boundary over one resource read. Rendering it suspends
// until "data" resolves.
const suspendingTree = `{"kind":"boundary","fallback":{"kind":"text","text":"loading"},"children":[{"kind":"resource","resource":"data"}]}`

func TestDiscovery(t *testing.T) {
	srv := testServer(t)
	env := doGet(t, srv, "/api/v1/")
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if env.RequestID == "" {
		t.Error("request_id is empty")
	}

	var data struct {
		Name      string `json:"name"`
		Endpoints []struct {
			Path string `json:"path"`
		} `json:"endpoints"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Name != "Reflow API" {
		t.Errorf("name = %q, want Reflow API", data.Name)
	}
	if len(data.Endpoints) < 10 {
		t.Errorf("endpoints count = %d, want >= 10", len(data.Endpoints))
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	env := doGet(t, srv, "/api/v1/health")

	var data struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Engine  string `json:"engine"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" {
		t.Errorf("health status = %q, want healthy", data.Status)
	}
	if data.Version != "0.1.0" {
		t.Errorf("version = %q, want 0.1.0", data.Version)
	}
	if data.Engine != "virtual" {
		t.Errorf("engine = %q, want virtual", data.Engine)
	}
}

func TestScheduleUpdate_CommitsText(t *testing.T) {
	srv := testServer(t)

	env := doJSON(t, srv, "POST", "/api/v1/updates/",
		`{"tree":{"kind":"text","text":"hello"}}`, http.StatusCreated)

	var st model.UpdateStatus
	json.Unmarshal(env.Data, &st)
	if !strings.HasPrefix(st.ID, "upd_") {
		t.Errorf("id = %q, want upd_ prefix", st.ID)
	}
	if st.State != model.UpdateCommitted {
		t.Errorf("state = %q, want COMMITTED", st.State)
	}
	if st.FrameSeq != 1 {
		t.Errorf("frame_seq = %d, want 1", st.FrameSeq)
	}

	env = doGet(t, srv, "/api/v1/tree")
	var tree struct {
		FrameSeq int64               `json:"frame_seq"`
		Tree     *model.RenderedNode `json:"tree"`
	}
	json.Unmarshal(env.Data, &tree)
	if tree.FrameSeq != 1 {
		t.Errorf("tree frame_seq = %d, want 1", tree.FrameSeq)
	}
	if len(tree.Tree.Children) != 1 || tree.Tree.Children[0].Text != "hello" {
		t.Errorf("tree = %+v, want one 'hello' leaf", tree.Tree)
	}

	if got := getTreeText(t, srv); got != "text \"hello\"\n" {
		t.Errorf("text rendering = %q", got)
	}
}

func TestScheduleUpdate_InvalidJSON(t *testing.T) {
	srv := testServer(t)
	env := doJSON(t, srv, "POST", "/api/v1/updates/", "not json", http.StatusBadRequest)
	if env.Status != "error" {
		t.Errorf("status = %q, want error", env.Status)
	}
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error code = %v, want VALIDATION_ERROR", env.Error)
	}
}

func TestScheduleUpdate_TreeAndSceneExclusive(t *testing.T) {
	srv := testServer(t)
	env := doJSON(t, srv, "POST", "/api/v1/updates/",
		`{"tree":{"kind":"text","text":"x"},"scene":"dashboard"}`, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error code = %v, want VALIDATION_ERROR", env.Error)
	}
}

func TestScheduleUpdate_UnknownPriority(t *testing.T) {
	srv := testServer(t)
	env := doJSON(t, srv, "POST", "/api/v1/updates/",
		`{"tree":{"kind":"text","text":"x"},"priority":"URGENT"}`, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error code = %v, want VALIDATION_ERROR", env.Error)
	}
}

func TestScheduleUpdate_SceneNotFound(t *testing.T) {
	srv := testServer(t)
	env := doJSON(t, srv, "POST", "/api/v1/updates/",
		`{"scene":"missing"}`, http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error code = %v, want NOT_FOUND", env.Error)
	}
}

func TestSuspendedUpdate_ExpireCommits(t *testing.T) {
	srv := testServer(t)
	seedResource(t, srv, "data", "RESOLVED", 100)

	env := doJSON(t, srv, "POST", "/api/v1/updates/",
		`{"tree":`+suspendingTree+`}`, http.StatusCreated)
	var st model.UpdateStatus
	json.Unmarshal(env.Data, &st)
	if st.State != model.UpdateSuspended {
		t.Fatalf("state = %q, want SUSPENDED", st.State)
	}
	if len(st.BlockedOn) != 1 || st.BlockedOn[0] != "data" {
		t.Errorf("blocked_on = %v, want [data]", st.BlockedOn)
	}

	env = doGet(t, srv, "/api/v1/boundaries")
	var bounds []scheduler.BoundaryInfo
	json.Unmarshal(env.Data, &bounds)
	if len(bounds) != 1 || bounds[0].State != model.BoundarySuspendedPending {
		t.Fatalf("boundaries = %+v, want one SUSPENDED_PENDING", bounds)
	}

	// Nothing committed yet.
	if got := getTreeText(t, srv); got != "" {
		t.Errorf("tree before expire = %q, want empty", got)
	}

	env = expire(t, srv, 100)
	var exp struct {
		NowMS     int64    `json:"now_ms"`
		FrameSeq  int64    `json:"frame_seq"`
		Unblocked []string `json:"unblocked"`
	}
	json.Unmarshal(env.Data, &exp)
	if exp.NowMS != 100 {
		t.Errorf("now_ms = %d, want 100", exp.NowMS)
	}
	if len(exp.Unblocked) != 1 || exp.Unblocked[0] != st.ID {
		t.Errorf("unblocked = %v, want [%s]", exp.Unblocked, st.ID)
	}
	if exp.FrameSeq != 1 {
		t.Errorf("frame_seq = %d, want 1", exp.FrameSeq)
	}

	env = doGet(t, srv, "/api/v1/updates/"+st.ID)
	json.Unmarshal(env.Data, &st)
	if st.State != model.UpdateCommitted {
		t.Errorf("state after expire = %q, want COMMITTED", st.State)
	}

	if got := getTreeText(t, srv); got != "text \"RESOLVED\"\n" {
		t.Errorf("tree after expire = %q", got)
	}
}

func TestSyncUpdate_CommitsFallbackThenRecovers(t *testing.T) {
	srv := testServer(t)
	seedResource(t, srv, "data", "RESOLVED", 100)

	env := doJSON(t, srv, "POST", "/api/v1/updates/",
		`{"tree":`+suspendingTree+`,"sync":true}`, http.StatusCreated)
	var st model.UpdateStatus
	json.Unmarshal(env.Data, &st)
	if st.State != model.UpdateCommitted {
		t.Fatalf("state = %q, want COMMITTED", st.State)
	}
	if got := getTreeText(t, srv); got != "text \"loading\"\n" {
		t.Fatalf("tree = %q, want the fallback", got)
	}

	// The fetch is still running; resolution pings a retry that recovers
	// the boundary.
	expire(t, srv, 100)
	if got := getTreeText(t, srv); got != "text \"RESOLVED\"\n" {
		t.Errorf("tree after expire = %q", got)
	}

	env = doGet(t, srv, "/api/v1/boundaries")
	var bounds []scheduler.BoundaryInfo
	json.Unmarshal(env.Data, &bounds)
	if len(bounds) != 1 || bounds[0].State != model.BoundaryActive {
		t.Errorf("boundaries = %+v, want one ACTIVE", bounds)
	}
}

func TestScheduleWait_ImmediateCommit(t *testing.T) {
	srv := testServer(t)
	env := doJSON(t, srv, "POST", "/api/v1/updates/?wait=true",
		`{"tree":{"kind":"text","text":"now"}}`, http.StatusCreated)
	var st model.UpdateStatus
	json.Unmarshal(env.Data, &st)
	if st.State != model.UpdateCommitted {
		t.Errorf("state = %q, want COMMITTED", st.State)
	}
}

func TestScheduleWait_TimesOutWhileSuspended(t *testing.T) {
	srv := testServer(t)
	seedResource(t, srv, "data", "RESOLVED", 100)

	// Nothing advances the virtual clock, so the wait hits the server's
	// timeout and reports the update as it stands.
	env := doJSON(t, srv, "POST", "/api/v1/updates/?wait=true",
		`{"tree":`+suspendingTree+`}`, http.StatusCreated)
	var st model.UpdateStatus
	json.Unmarshal(env.Data, &st)
	if st.State != model.UpdateSuspended {
		t.Errorf("state = %q, want SUSPENDED", st.State)
	}
}

func TestGetUpdate_NotFound(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest("GET", "/api/v1/updates/upd_missing", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", w.Code)
	}
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error code = %v, want NOT_FOUND", env.Error)
	}
}

func TestListUpdates_StateFilterAndPagination(t *testing.T) {
	srv := testServer(t)
	seedResource(t, srv, "data", "RESOLVED", 100)

	doJSON(t, srv, "POST", "/api/v1/updates/", `{"tree":{"kind":"text","text":"a"}}`, http.StatusCreated)
	doJSON(t, srv, "POST", "/api/v1/updates/", `{"tree":{"kind":"text","text":"b"}}`, http.StatusCreated)
	doJSON(t, srv, "POST", "/api/v1/updates/", `{"tree":`+suspendingTree+`}`, http.StatusCreated)

	env := doGet(t, srv, "/api/v1/updates/")
	if env.Pagination == nil || env.Pagination.Total != 3 {
		t.Fatalf("pagination = %+v, want total 3", env.Pagination)
	}

	env = doGet(t, srv, "/api/v1/updates/?state=COMMITTED")
	if env.Pagination.Total != 2 {
		t.Errorf("committed total = %d, want 2", env.Pagination.Total)
	}

	env = doGet(t, srv, "/api/v1/updates/?limit=1&offset=1")
	var page []model.UpdateStatus
	json.Unmarshal(env.Data, &page)
	if len(page) != 1 {
		t.Errorf("page size = %d, want 1", len(page))
	}
	if !env.Pagination.HasMore {
		t.Error("has_more = false, want true")
	}
}

func TestResourceCRUD(t *testing.T) {
	srv := testServer(t)

	env := doJSON(t, srv, "PUT", "/api/v1/resources/user",
		`{"value":"Ada","latency_ms":50}`, http.StatusOK)
	var put struct {
		Resource    *model.Resource `json:"resource"`
		Invalidated bool            `json:"invalidated"`
	}
	json.Unmarshal(env.Data, &put)
	if put.Resource == nil || put.Resource.Value != "Ada" {
		t.Fatalf("resource = %+v, want value Ada", put.Resource)
	}
	if put.Invalidated {
		t.Error("invalidated = true for a never-read key, want false")
	}

	env = doGet(t, srv, "/api/v1/resources/user")
	var res model.Resource
	json.Unmarshal(env.Data, &res)
	if res.Key != "user" || res.Value != "Ada" || res.LatencyMS != 50 {
		t.Errorf("resource = %+v", res)
	}

	env = doGet(t, srv, "/api/v1/resources/")
	if env.Pagination == nil || env.Pagination.Total != 1 {
		t.Errorf("pagination = %+v, want total 1", env.Pagination)
	}

	doJSON(t, srv, "DELETE", "/api/v1/resources/user", "", http.StatusOK)

	req := httptest.NewRequest("GET", "/api/v1/resources/user", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", w.Code)
	}
}

func TestPutResource_InvalidatesCachedKey(t *testing.T) {
	srv := testServer(t)
	seedResource(t, srv, "data", "V1", 50)

	doJSON(t, srv, "POST", "/api/v1/updates/", `{"tree":`+suspendingTree+`}`, http.StatusCreated)
	expire(t, srv, 50)
	if got := getTreeText(t, srv); got != "text \"V1\"\n" {
		t.Fatalf("tree = %q, want V1", got)
	}

	env := doJSON(t, srv, "PUT", "/api/v1/resources/data",
		`{"value":"V2","latency_ms":50}`, http.StatusOK)
	var put struct {
		Invalidated bool `json:"invalidated"`
	}
	json.Unmarshal(env.Data, &put)
	if !put.Invalidated {
		t.Error("invalidated = false for a cached key, want true")
	}

	// Re-render the current tree; the read misses and refetches.
	doJSON(t, srv, "POST", "/api/v1/updates/", `{}`, http.StatusCreated)
	if got := getTreeText(t, srv); got != "text \"V1\"\n" {
		t.Fatalf("tree during refetch = %q, want previous content", got)
	}
	expire(t, srv, 50)
	if got := getTreeText(t, srv); got != "text \"V2\"\n" {
		t.Errorf("tree after refetch = %q, want V2", got)
	}
}

func TestInvalidate_SingleKeyAndAll(t *testing.T) {
	srv := testServer(t)
	seedResource(t, srv, "data", "V1", 50)

	doJSON(t, srv, "POST", "/api/v1/updates/", `{"tree":`+suspendingTree+`}`, http.StatusCreated)
	expire(t, srv, 50)

	env := doJSON(t, srv, "POST", "/api/v1/resources/invalidate",
		`{"key":"data"}`, http.StatusOK)
	var single struct {
		Key         string `json:"key"`
		Invalidated bool   `json:"invalidated"`
	}
	json.Unmarshal(env.Data, &single)
	if !single.Invalidated {
		t.Error("invalidated = false, want true")
	}

	env = doJSON(t, srv, "POST", "/api/v1/resources/invalidate", `{}`, http.StatusOK)
	var all struct {
		Epoch int64 `json:"epoch"`
	}
	json.Unmarshal(env.Data, &all)
	if all.Epoch != 1 {
		t.Errorf("epoch = %d, want 1", all.Epoch)
	}
}

func TestGetCache_ReportsEntries(t *testing.T) {
	srv := testServer(t)
	seedResource(t, srv, "data", "V1", 50)
	doJSON(t, srv, "POST", "/api/v1/updates/", `{"tree":`+suspendingTree+`}`, http.StatusCreated)

	env := doGet(t, srv, "/api/v1/cache")
	var data struct {
		Epoch   int64 `json:"epoch"`
		Count   int   `json:"count"`
		Entries []struct {
			Key   string `json:"key"`
			State string `json:"state"`
		} `json:"entries"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Count != 1 || len(data.Entries) != 1 {
		t.Fatalf("cache = %+v, want one entry", data)
	}
	if data.Entries[0].Key != "data" || data.Entries[0].State != "PENDING" {
		t.Errorf("entry = %+v, want pending 'data'", data.Entries[0])
	}

	expire(t, srv, 50)
	env = doGet(t, srv, "/api/v1/cache")
	json.Unmarshal(env.Data, &data)
	if data.Entries[0].State != "RESOLVED" {
		t.Errorf("entry state = %q, want RESOLVED", data.Entries[0].State)
	}
}

func TestSceneCRUD(t *testing.T) {
	srv := testServer(t)

	sceneYAML := `description: A greeting
tree:
  kind: group
  children:
    - kind: text
      text: hi
`
	env := doJSON(t, srv, "PUT", "/api/v1/scenes/greeting", sceneYAML, http.StatusCreated)
	var sc model.Scene
	json.Unmarshal(env.Data, &sc)
	if sc.Name != "greeting" || sc.Tree == nil {
		t.Fatalf("scene = %+v", sc)
	}

	// Second PUT updates in place.
	doJSON(t, srv, "PUT", "/api/v1/scenes/greeting", sceneYAML, http.StatusOK)

	env = doGet(t, srv, "/api/v1/scenes/")
	if env.Pagination == nil || env.Pagination.Total != 1 {
		t.Errorf("pagination = %+v, want total 1", env.Pagination)
	}

	env = doGet(t, srv, "/api/v1/scenes/greeting")
	json.Unmarshal(env.Data, &sc)
	if sc.Description != "A greeting" {
		t.Errorf("description = %q", sc.Description)
	}

	// Schedule by name.
	env = doJSON(t, srv, "POST", "/api/v1/updates/", `{"scene":"greeting"}`, http.StatusCreated)
	var st model.UpdateStatus
	json.Unmarshal(env.Data, &st)
	if st.State != model.UpdateCommitted {
		t.Errorf("state = %q, want COMMITTED", st.State)
	}
	if got := getTreeText(t, srv); got != "group\n  text \"hi\"\n" {
		t.Errorf("tree = %q", got)
	}

	doJSON(t, srv, "DELETE", "/api/v1/scenes/greeting", "", http.StatusOK)

	req := httptest.NewRequest("GET", "/api/v1/scenes/greeting", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", w.Code)
	}
}

func TestPutScene_InvalidTree(t *testing.T) {
	srv := testServer(t)
	env := doJSON(t, srv, "PUT", "/api/v1/scenes/bad",
		`{"tree":{"kind":"sprite"}}`, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Fatalf("error = %+v, want VALIDATION_ERROR", env.Error)
	}
	if len(env.Error.Details) == 0 {
		t.Error("expected validation details")
	}
}

func TestTimeEndpoints(t *testing.T) {
	srv := testServer(t)

	env := doGet(t, srv, "/api/v1/time")
	var ts model.TimeStatus
	json.Unmarshal(env.Data, &ts)
	if ts.NowMS != 0 {
		t.Errorf("now_ms = %d, want 0", ts.NowMS)
	}

	expire(t, srv, 250)

	env = doGet(t, srv, "/api/v1/time")
	json.Unmarshal(env.Data, &ts)
	if ts.NowMS != 250 {
		t.Errorf("now_ms = %d, want 250", ts.NowMS)
	}

	env = doJSON(t, srv, "POST", "/api/v1/time/expire", `{"duration_ms":0}`, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error = %+v, want VALIDATION_ERROR", env.Error)
	}
}

func TestListFrames_Since(t *testing.T) {
	srv := testServer(t)
	doJSON(t, srv, "POST", "/api/v1/updates/", `{"tree":{"kind":"text","text":"a"}}`, http.StatusCreated)
	doJSON(t, srv, "POST", "/api/v1/updates/", `{"tree":{"kind":"text","text":"b"}}`, http.StatusCreated)

	env := doGet(t, srv, "/api/v1/frames")
	var data struct {
		FrameSeq int64         `json:"frame_seq"`
		Frames   []model.Frame `json:"frames"`
	}
	json.Unmarshal(env.Data, &data)
	if data.FrameSeq != 2 || len(data.Frames) != 2 {
		t.Fatalf("frames = %d (seq %d), want 2", len(data.Frames), data.FrameSeq)
	}

	env = doGet(t, srv, "/api/v1/frames?since=1")
	json.Unmarshal(env.Data, &data)
	if len(data.Frames) != 1 || data.Frames[0].Seq != 2 {
		t.Errorf("frames since 1 = %+v, want just seq 2", data.Frames)
	}

	req := httptest.NewRequest("GET", "/api/v1/frames?since=x", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// readSSEEvent scans one "event:"/"data:" pair off the stream.
func readSSEEvent(t *testing.T, rd *bufio.Reader) (string, []byte) {
	t.Helper()
	var event string
	var data []byte
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read SSE stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = []byte(strings.TrimPrefix(line, "data: "))
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestSSEFrames(t *testing.T) {
	srv := testServer(t)
	doJSON(t, srv, "POST", "/api/v1/updates/", `{"tree":{"kind":"text","text":"a"}}`, http.StatusCreated)
	doJSON(t, srv, "POST", "/api/v1/updates/", `{"tree":{"kind":"text","text":"b"}}`, http.StatusCreated)

	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catch-up replay from seq 0.
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/v1/sse/frames?since=0", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("connect SSE: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	rd := bufio.NewReader(resp.Body)
	for want := int64(1); want <= 2; want++ {
		event, data := readSSEEvent(t, rd)
		if event != "frame" {
			t.Fatalf("event = %q, want frame", event)
		}
		var f model.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("frame payload: %v", err)
		}
		if f.Seq != want {
			t.Fatalf("frame seq = %d, want %d", f.Seq, want)
		}
	}
	cancel()

	// Without ?since, the last frame arrives as an init event.
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	req2, _ := http.NewRequestWithContext(ctx2, "GET", ts.URL+"/api/v1/sse/frames", nil)
	resp2, err := ts.Client().Do(req2)
	if err != nil {
		t.Fatalf("connect SSE: %v", err)
	}
	defer resp2.Body.Close()

	event, data := readSSEEvent(t, bufio.NewReader(resp2.Body))
	if event != "init" {
		t.Fatalf("event = %q, want init", event)
	}
	var f model.Frame
	json.Unmarshal(data, &f)
	if f.Seq != 2 {
		t.Errorf("init frame seq = %d, want 2", f.Seq)
	}
}

func TestResponseEnvelope_HasRequestID(t *testing.T) {
	srv := testServer(t)
	env := doGet(t, srv, "/api/v1/health")
	if !strings.HasPrefix(env.RequestID, "req_") {
		t.Errorf("request_id = %q, want req_ prefix", env.RequestID)
	}
	if env.Timestamp == "" {
		t.Error("timestamp is empty")
	}
}

func TestResponseEnvelope_XRequestIDHeader(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	xReqID := w.Header().Get("X-Request-ID")
	if !strings.HasPrefix(xReqID, "req_") {
		t.Errorf("X-Request-ID header = %q, want req_ prefix", xReqID)
	}
}
