package manager

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"loramint/internal/engine"
	"loramint/pkg/types"
)

type fakeEngine struct {
	statusCalls atomic.Int32
	status      map[string]types.ModelStatus
	statusErr   error
	loaded      string
}

func (f *fakeEngine) ModelStatus(_ context.Context, id string) (types.ModelStatus, error) {
	f.statusCalls.Add(1)
	if f.statusErr != nil {
		return types.ModelStatus{}, f.statusErr
	}
	st, ok := f.status[id]
	if !ok {
		return types.ModelStatus{ModelID: id}, nil
	}
	return st, nil
}

func (f *fakeEngine) Load(_ context.Context, id string) (engine.ActionResult, error) {
	f.loaded = id
	return engine.ActionResult{Success: true, ModelID: id}, nil
}

func (f *fakeEngine) Unload(context.Context) (engine.ActionResult, error) {
	f.loaded = ""
	return engine.ActionResult{Success: true}, nil
}

func (f *fakeEngine) Current(context.Context) (types.CurrentModel, error) {
	if f.loaded == "" {
		return types.CurrentModel{}, nil
	}
	id := f.loaded
	return types.CurrentModel{ModelID: &id, Loaded: true}, nil
}

func (f *fakeEngine) GPU(context.Context) (types.GpuStatus, error) {
	return types.GpuStatus{}, errors.New("no gpu")
}

func (f *fakeEngine) OpenDownloadStream(_ context.Context, id string) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("data: {\"event\":\"complete\",\"model_id\":\"" + id + "\",\"success\":true}\n\n")),
	}, nil
}

func newTestManager(t *testing.T, eng Engine) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	return New(Options{Root: root, Engine: eng, Logger: zerolog.Nop()}), root
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
