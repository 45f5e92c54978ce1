package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"loramint/pkg/types"
)

// genServer streams step events for prompt "slow" until the client goes away
// and completes immediately for any other prompt. It records request order.
type genServer struct {
	mu  sync.Mutex
	log []string
}

func (g *genServer) note(s string) {
	g.mu.Lock()
	g.log = append(g.log, s)
	g.mu.Unlock()
}

func (g *genServer) entries() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.log...)
}

func (g *genServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	g.note("start:" + req.Prompt)
	w.Header().Set("Content-Type", "text/event-stream")
	fl := w.(http.Flusher)
	if req.Prompt != "slow" {
		_, _ = w.Write(types.EncodeSSE(types.ProgressEvent{Event: types.EventPhase, Message: "Loading", Success: true}))
		_, _ = w.Write(types.EncodeSSE(types.ProgressEvent{Event: types.EventComplete, ImagePath: "/o/" + req.Prompt + ".png", Success: true}))
		fl.Flush()
		return
	}
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for i := 1; ; i++ {
		select {
		case <-r.Context().Done():
			g.note("gone:" + req.Prompt)
			return
		case <-t.C:
			_, _ = w.Write(types.EncodeSSE(types.ProgressEvent{Event: types.EventStep, Step: types.Ptr(i), TotalSteps: types.Ptr(1000), Success: true}))
			fl.Flush()
		}
	}
}

type eventLog struct {
	mu  sync.Mutex
	evs []types.ProgressEvent
}

func (l *eventLog) add(e types.ProgressEvent) {
	l.mu.Lock()
	l.evs = append(l.evs, e)
	l.mu.Unlock()
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.evs)
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, Logger: zerolog.Nop()})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGenerate_NewOperationSupersedesPrevious(t *testing.T) {
	gs := &genServer{}
	hc := newTestClient(t, gs)
	ctx := context.Background()

	var a, b eventLog
	opA, err := hc.Generate(ctx, types.GenerateRequest{Prompt: "slow", UserID: "u"}, a.add)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return a.len() >= 2 })

	opB, err := hc.Generate(ctx, types.GenerateRequest{Prompt: "fast", UserID: "u"}, b.add)
	if err != nil {
		t.Fatal(err)
	}
	seenA := a.len()

	if err := opB.Wait(); err != nil {
		t.Fatalf("B: %v", err)
	}
	if !errors.Is(opA.Wait(), context.Canceled) {
		t.Fatalf("A: %v", opA.Wait())
	}
	// at most the callback already running when B was submitted may finish
	if a.len() > seenA+1 {
		t.Fatalf("A received events after B started: %d -> %d", seenA, a.len())
	}
	last, ok := opB.Last()
	if !ok || last.ImagePath != "/o/fast.png" || b.len() != 2 {
		t.Fatalf("B last=%+v events=%d", last, b.len())
	}
	waitFor(t, func() bool {
		for _, e := range gs.entries() {
			if e == "gone:slow" {
				return true
			}
		}
		return false
	})
	if entries := gs.entries(); entries[0] != "start:slow" {
		t.Fatalf("unexpected request order %v", entries)
	}
}

func TestStop_IsIdempotent(t *testing.T) {
	hc := newTestClient(t, &genServer{})
	hc.Stop(ClassGeneration)
	hc.Stop(Class("bogus"))

	op, _ := hc.Generate(context.Background(), types.GenerateRequest{Prompt: "slow", UserID: "u"}, nil)
	hc.Stop(ClassGeneration)
	hc.Stop(ClassGeneration)
	if !errors.Is(op.Wait(), context.Canceled) {
		t.Fatalf("err=%v", op.Wait())
	}
}

// withinDeadline fails the test if fn does not return in time.
func withinDeadline(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not return", what)
	}
}

func TestStop_FromOwnCallback(t *testing.T) {
	hc := newTestClient(t, &genServer{})
	var (
		mu      sync.Mutex
		n       int
		stopped = make(chan struct{})
	)
	op, _ := hc.Generate(context.Background(), types.GenerateRequest{Prompt: "slow", UserID: "u"}, func(types.ProgressEvent) {
		mu.Lock()
		n++
		third := n == 3
		mu.Unlock()
		if third {
			hc.Stop(ClassGeneration)
			close(stopped)
		}
	})
	withinDeadline(t, "Stop from callback", func() { <-stopped })
	withinDeadline(t, "operation", func() { _ = op.Wait() })
	if !errors.Is(op.Wait(), context.Canceled) {
		t.Fatalf("err=%v", op.Wait())
	}
	mu.Lock()
	defer mu.Unlock()
	if n != 3 {
		t.Fatalf("callbacks after Stop: n=%d", n)
	}
}

func TestGenerate_FromOwnCallbackSupersedes(t *testing.T) {
	gs := &genServer{}
	hc := newTestClient(t, gs)
	var (
		mu    sync.Mutex
		n     int
		opB   *Operation
		ready = make(chan struct{})
	)
	opA, _ := hc.Generate(context.Background(), types.GenerateRequest{Prompt: "slow", UserID: "u"}, func(types.ProgressEvent) {
		mu.Lock()
		n++
		third := n == 3
		mu.Unlock()
		if third {
			b, err := hc.Generate(context.Background(), types.GenerateRequest{Prompt: "fast", UserID: "u"}, nil)
			if err != nil {
				t.Errorf("generate B: %v", err)
			}
			opB = b
			close(ready)
		}
	})
	withinDeadline(t, "Generate from callback", func() { <-ready })
	if err := opB.Wait(); err != nil {
		t.Fatalf("B: %v", err)
	}
	if !errors.Is(opA.Wait(), context.Canceled) {
		t.Fatalf("A: %v", opA.Wait())
	}
	mu.Lock()
	defer mu.Unlock()
	if n != 3 {
		t.Fatalf("A received events after B started: n=%d", n)
	}
	if last, _ := opB.Last(); last.ImagePath != "/o/fast.png" {
		t.Fatalf("B last=%+v", last)
	}
}

func TestClassesAreIndependent(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/api/generate/stream", &genServer{})
	mux.HandleFunc("/api/models/sdxl-turbo/download", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(types.EncodeSSE(types.ProgressEvent{Event: types.EventComplete, ModelID: "sdxl-turbo", Success: true}))
	})
	hc := newTestClient(t, mux)

	gen, _ := hc.Generate(context.Background(), types.GenerateRequest{Prompt: "slow", UserID: "u"}, nil)
	dl, err := hc.Download(context.Background(), "sdxl-turbo", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := dl.Wait(); err != nil {
		t.Fatalf("download: %v", err)
	}
	select {
	case <-gen.Done():
		t.Fatalf("download cancelled the generation")
	default:
	}
	hc.Stop(ClassGeneration)
}

func TestWait_ReportsJobErrorAndIncompleteStreams(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/bad/download", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(types.EncodeSSE(types.ErrorEvent("engine returned 500: disk full")))
	})
	mux.HandleFunc("/api/models/cut/download", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(types.EncodeSSE(types.ProgressEvent{Event: types.EventProgress, Percentage: types.Ptr(10.0), Success: true}))
	})
	hc := newTestClient(t, mux)

	op, _ := hc.Download(context.Background(), "bad", nil)
	var je *JobError
	if err := op.Wait(); !errors.As(err, &je) || !strings.Contains(je.Message, "disk full") {
		t.Fatalf("err=%v", err)
	}
	op, _ = hc.Download(context.Background(), "cut", nil)
	if err := op.Wait(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("err=%v", err)
	}
}

func TestTrain_RejectsInvalidRequestWithoutUpload(t *testing.T) {
	called := false
	hc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	_, err := hc.Train(context.Background(), types.TrainingRequest{LoraName: "x", UserID: "u"}, nil)
	if err == nil || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

func TestTrain_SendsMultipart(t *testing.T) {
	hc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("lora_name") != "style" || len(r.MultipartForm.File["images"]) != 2 {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		_, _ = w.Write(types.EncodeSSE(types.ProgressEvent{Event: types.EventComplete, LoraPath: "/l/style.safetensors", Success: true}))
	}))
	req := types.TrainingRequest{LoraName: "style", UserID: "u", Images: []types.ImageFile{
		{Filename: "a.png", Content: []byte("a")}, {Filename: "b.png", Content: []byte("b")},
	}}
	op, err := hc.Train(context.Background(), req, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Wait(); err != nil {
		t.Fatalf("train: %v", err)
	}
	if last, _ := op.Last(); last.LoraPath != "/l/style.safetensors" {
		t.Fatalf("last=%+v", last)
	}
}

func TestJSONEndpointsAndAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.ModelsResponse{Models: []types.ModelDescriptor{{ID: "sdxl-turbo", IsDownloaded: true}}})
	})
	mux.HandleFunc("/api/engine/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "engine failed", Code: 503})
	})
	mux.HandleFunc("/api/generate/stream", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "plain failure")
	})
	hc := newTestClient(t, mux)

	models, err := hc.Models(context.Background())
	if err != nil || len(models) != 1 || !models[0].IsDownloaded {
		t.Fatalf("models=%+v err=%v", models, err)
	}
	var ae *APIError
	if _, err := hc.EngineStatus(context.Background()); !errors.As(err, &ae) || ae.Code != 503 || ae.Message != "engine failed" {
		t.Fatalf("err=%v", err)
	}
	op, _ := hc.Generate(context.Background(), types.GenerateRequest{Prompt: "p", UserID: "u"}, nil)
	if err := op.Wait(); !errors.As(err, &ae) || ae.Message != "plain failure" {
		t.Fatalf("err=%v", err)
	}
}
