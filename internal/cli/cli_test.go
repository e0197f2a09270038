package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/me/reflow/internal/clock"
	"github.com/me/reflow/internal/config"
	"github.com/me/reflow/internal/engine"
	"github.com/me/reflow/internal/logging"
	"github.com/me/reflow/internal/server"
	"github.com/me/reflow/internal/store"
)

// startTestServer starts a virtual-mode server over an in-memory store and
// returns its URL. Time only moves through the expire endpoint.
func startTestServer(t *testing.T) string {
	t.Helper()
	srvLogger := logging.Discard()

	st, err := store.NewSQLiteStore(":memory:", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clk := clock.New()
	eng := engine.New(engine.Config{
		Clock:   clk,
		Fetcher: store.NewCatalogFetcher(st, clk, 100*time.Millisecond),
	}, srvLogger)

	srv := server.New(config.DefaultServerConfig(), st, eng, srvLogger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// writeScene writes a scene file into a temp dir and returns its path.
func writeScene(t *testing.T, name, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write scene: %v", err)
	}
	return path
}

// runCLI executes the root command and captures everything printed to
// stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var cmdBuf bytes.Buffer
	root.SetOut(&cmdBuf)
	root.SetErr(&cmdBuf)
	root.SetArgs(args)

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := root.Execute()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String() + cmdBuf.String(), err
}

const greetingScene = `name: greeting
tree:
  kind: group
  children:
    - kind: text
      text: hello
`

const suspendingScene = `name: profile
tree:
  kind: boundary
  delay_ms: 50
  fallback:
    kind: text
    text: loading
  children:
    - kind: resource
      resource: user
`

func TestScheduleCommand_SyncCommit(t *testing.T) {
	url := startTestServer(t)
	scenePath := writeScene(t, "greeting.yaml", greetingScene)

	output, err := runCLI(t, "--server", url, "schedule", scenePath, "--sync")
	if err != nil {
		t.Fatalf("schedule error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Update: upd_") {
		t.Errorf("expected 'Update: upd_' in output, got: %s", output)
	}
	if !strings.Contains(output, "COMMITTED") {
		t.Errorf("expected COMMITTED state in output, got: %s", output)
	}
}

func TestScheduleCommand_SuspendsUntilExpire(t *testing.T) {
	url := startTestServer(t)

	// The resource exists but takes 100 virtual ms to fetch.
	if out, err := runCLI(t, "--server", url, "resource", "set", "user", "Ada", "--latency", "100"); err != nil {
		t.Fatalf("resource set error: %v\noutput: %s", err, out)
	}

	scenePath := writeScene(t, "profile.yaml", suspendingScene)
	output, err := runCLI(t, "--server", url, "schedule", scenePath)
	if err != nil {
		t.Fatalf("schedule error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "SUSPENDED") {
		t.Errorf("expected SUSPENDED state in output, got: %s", output)
	}
	if !strings.Contains(output, "user") {
		t.Errorf("expected blocked key in output, got: %s", output)
	}

	// Advance past the fetch latency; the update commits.
	output, err = runCLI(t, "--server", url, "expire", "100")
	if err != nil {
		t.Fatalf("expire error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Unblocked:") {
		t.Errorf("expected unblocked update in output, got: %s", output)
	}

	output, err = runCLI(t, "--server", url, "tree")
	if err != nil {
		t.Fatalf("tree error: %v", err)
	}
	if !strings.Contains(output, `text "Ada"`) {
		t.Errorf("expected resolved value in tree, got: %s", output)
	}
}

func TestStatusCommand(t *testing.T) {
	url := startTestServer(t)
	scenePath := writeScene(t, "greeting.yaml", greetingScene)

	output, err := runCLI(t, "--server", url, "schedule", scenePath, "--sync")
	if err != nil {
		t.Fatalf("schedule error: %v", err)
	}
	id := extractUpdateID(t, output)

	output, err = runCLI(t, "--server", url, "status", id)
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(output, id) {
		t.Errorf("expected update ID in output, got: %s", output)
	}
	if !strings.Contains(output, "COMMITTED") {
		t.Errorf("expected COMMITTED state in output, got: %s", output)
	}
}

func TestListCommand(t *testing.T) {
	url := startTestServer(t)
	scenePath := writeScene(t, "greeting.yaml", greetingScene)

	if _, err := runCLI(t, "--server", url, "schedule", scenePath, "--sync"); err != nil {
		t.Fatalf("schedule error: %v", err)
	}

	output, err := runCLI(t, "--server", url, "list")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(output, "ID") {
		t.Errorf("expected table header in output, got: %s", output)
	}
	if !strings.Contains(output, "COMMITTED") {
		t.Errorf("expected update state in output, got: %s", output)
	}
}

func TestSceneCommands(t *testing.T) {
	url := startTestServer(t)
	scenePath := writeScene(t, "greeting.yaml", greetingScene)

	output, err := runCLI(t, "--server", url, "scene", "push", scenePath)
	if err != nil {
		t.Fatalf("scene push error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Scene greeting pushed.") {
		t.Errorf("expected push confirmation, got: %s", output)
	}

	output, err = runCLI(t, "--server", url, "scene", "list")
	if err != nil {
		t.Fatalf("scene list error: %v", err)
	}
	if !strings.Contains(output, "greeting") {
		t.Errorf("expected scene name in list, got: %s", output)
	}

	// Schedule the stored scene by name.
	output, err = runCLI(t, "--server", url, "schedule", "--scene", "greeting", "--sync")
	if err != nil {
		t.Fatalf("schedule --scene error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "COMMITTED") {
		t.Errorf("expected COMMITTED state in output, got: %s", output)
	}
}

func TestResourceListCommand(t *testing.T) {
	url := startTestServer(t)

	if _, err := runCLI(t, "--server", url, "resource", "set", "greeting", "hello", "--latency", "20"); err != nil {
		t.Fatalf("resource set error: %v", err)
	}

	output, err := runCLI(t, "--server", url, "resource", "list")
	if err != nil {
		t.Fatalf("resource list error: %v", err)
	}
	if !strings.Contains(output, "greeting") || !strings.Contains(output, "20ms") {
		t.Errorf("expected resource row in output, got: %s", output)
	}
}

func TestRenderCommand_Local(t *testing.T) {
	scenePath := writeScene(t, "profile.yaml", suspendingScene)

	output, err := runCLI(t, "render", scenePath,
		"--resource", "user=Ada@100",
		"--step", "10", "--until", "200",
	)
	if err != nil {
		t.Fatalf("render error: %v\noutput: %s", err, output)
	}
	// The boundary's 50ms deadline passes before the 100ms fetch: the
	// fallback commits first, then the resolved content replaces it.
	fallbackAt := strings.Index(output, `text "loading"`)
	resolvedAt := strings.Index(output, `text "Ada"`)
	if fallbackAt == -1 {
		t.Fatalf("expected fallback frame in output, got: %s", output)
	}
	if resolvedAt == -1 {
		t.Fatalf("expected resolved frame in output, got: %s", output)
	}
	if fallbackAt > resolvedAt {
		t.Errorf("fallback should commit before resolved content:\n%s", output)
	}
	if !strings.Contains(output, "COMMITTED") {
		t.Errorf("expected terminal update state in output, got: %s", output)
	}
}

func TestScheduleCommand_MissingFile(t *testing.T) {
	url := startTestServer(t)
	if _, err := runCLI(t, "--server", url, "schedule", "nonexistent.yaml"); err == nil {
		t.Fatal("expected error for missing scene file")
	}
}

// extractUpdateID pulls the upd_ ID out of schedule output.
func extractUpdateID(t *testing.T, output string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if rest, ok := strings.CutPrefix(line, "Update: "); ok {
			return strings.TrimSpace(rest)
		}
	}
	t.Fatalf("no update ID in output: %s", output)
	return ""
}
