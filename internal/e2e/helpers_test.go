package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"loramint/internal/config"
	"loramint/internal/engine"
	"loramint/internal/httpapi"
	"loramint/internal/manager"
	"loramint/internal/registry"
	"loramint/internal/relay"
	"loramint/internal/supervisor"
	"loramint/pkg/client"
	"loramint/pkg/types"
)

// fakeEngine speaks the engine's HTTP contract. Prompt "slow" streams step
// events until the caller disconnects.
type fakeEngine struct {
	mu           sync.Mutex
	statusCalls  map[string]int
	disconnected chan string
}

func newFakeEngine(t *testing.T) (*fakeEngine, *httptest.Server) {
	t.Helper()
	fe := &fakeEngine{statusCalls: map[string]int{}, disconnected: make(chan string, 8)}
	srv := httptest.NewServer(fe)
	t.Cleanup(srv.Close)
	return fe, srv
}

func (fe *fakeEngine) calls(id string) int {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.statusCalls[id]
}

func (fe *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	switch {
	case p == "/health":
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case p == "/system/gpu":
		_ = json.NewEncoder(w).Encode(types.GpuStatus{Available: true, Name: "Fake GPU", TotalVRAMGB: 16, FreeVRAMGB: 12})
	case p == "/models/current":
		_ = json.NewEncoder(w).Encode(types.CurrentModel{})
	case strings.HasPrefix(p, "/models/") && strings.HasSuffix(p, "/status"):
		id := strings.TrimSuffix(strings.TrimPrefix(p, "/models/"), "/status")
		fe.mu.Lock()
		fe.statusCalls[id]++
		fe.mu.Unlock()
		_ = json.NewEncoder(w).Encode(types.ModelStatus{ModelID: id})
	case strings.HasPrefix(p, "/models/") && strings.HasSuffix(p, "/download"):
		fe.sse(w, []types.ProgressEvent{
			{Event: types.EventProgress, DownloadedMB: types.Ptr(512.0), TotalMB: types.Ptr(1024.0), Percentage: types.Ptr(50.0), Success: true},
			{Event: types.EventComplete, ModelID: strings.TrimSuffix(strings.TrimPrefix(p, "/models/"), "/download"), Success: true},
		})
	case p == "/generate/stream":
		var req types.GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Prompt == "slow" {
			fe.slow(w, r, req.Prompt)
			return
		}
		fe.sse(w, []types.ProgressEvent{
			{Event: types.EventPhase, Message: "Loading model", Success: true},
			{Event: types.EventProgress, Step: types.Ptr(1), TotalSteps: types.Ptr(2), Percentage: types.Ptr(50.0), Success: true},
			{Event: types.EventProgress, Step: types.Ptr(2), TotalSteps: types.Ptr(2), Percentage: types.Ptr(100.0), Success: true},
			{Event: types.EventComplete, ImagePath: "/outputs/" + req.UserID + "/fox.png", Success: true},
		})
	default:
		http.Error(w, `{"detail":"Not Found"}`, http.StatusNotFound)
	}
}

func (fe *fakeEngine) sse(w http.ResponseWriter, evs []types.ProgressEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, ev := range evs {
		_, _ = w.Write(types.EncodeSSE(ev))
		w.(http.Flusher).Flush()
	}
}

func (fe *fakeEngine) slow(w http.ResponseWriter, r *http.Request, prompt string) {
	w.Header().Set("Content-Type", "text/event-stream")
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for i := 1; ; i++ {
		select {
		case <-r.Context().Done():
			fe.disconnected <- prompt
			return
		case <-tick.C:
			_, _ = w.Write(types.EncodeSSE(types.ProgressEvent{Event: types.EventStep, Step: types.Ptr(i), TotalSteps: types.Ptr(10000), Success: true}))
			w.(http.Flusher).Flush()
		}
	}
}

type stack struct {
	srv    *httptest.Server
	sup    *supervisor.Supervisor
	mgr    *manager.Manager
	client *client.Client
	root   string
}

// newStack wires the daemon the way `loramintd serve` does, against engineURL,
// and runs the supervisor's start. enginePath is the engine working directory.
func newStack(t *testing.T, engineURL, enginePath string) *stack {
	t.Helper()
	cfg := config.Defaults()
	cfg.Engine.BaseURL = engineURL
	cfg.Engine.Path = enginePath
	cfg.Engine.ProbeTimeout = config.Duration(500 * time.Millisecond)
	cfg.Engine.StatusTimeout = config.Duration(time.Second)
	cfg.Models.Root = t.TempDir()
	log := zerolog.Nop()

	eng := engine.New(engine.Options{
		BaseURL:       cfg.Engine.BaseURL,
		ProbeTimeout:  cfg.Engine.ProbeTimeout.Std(),
		StatusTimeout: cfg.Engine.StatusTimeout.Std(),
		Logger:        log,
	})
	sup := supervisor.New(supervisor.Options{Engine: cfg.Engine, Prober: eng, Logger: log})
	mgr := manager.New(manager.Options{Catalog: registry.Default(), Root: cfg.Models.Root, Engine: eng, Logger: log})
	mux := httpapi.NewMux(httpapi.Deps{Engine: eng, Models: mgr, Supervisor: sup, Relay: relay.New(log)})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })
	sup.Run(context.Background())
	return &stack{
		srv:    srv,
		sup:    sup,
		mgr:    mgr,
		client: client.New(client.Options{BaseURL: srv.URL, Logger: log}),
		root:   cfg.Models.Root,
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, []byte(buf.String())
}
