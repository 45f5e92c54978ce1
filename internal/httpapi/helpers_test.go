package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"loramint/internal/engine"
	"loramint/internal/supervisor"
	"loramint/pkg/types"
)

type notFound struct{ id string }

func (e notFound) Error() string   { return "model not found: " + e.id }
func (e notFound) StatusCode() int { return http.StatusNotFound }

type writeFailed struct{}

func (writeFailed) Error() string   { return "save settings: read-only file system" }
func (writeFailed) StatusCode() int { return http.StatusInternalServerError }

func sseResponse(code int, body string) *http.Response {
	return &http.Response{StatusCode: code, Status: http.StatusText(code), Body: io.NopCloser(strings.NewReader(body)), Header: http.Header{}}
}

type fakeEngine struct {
	mu        sync.Mutex
	genErr    error
	stream    *http.Response
	lastGen   types.GenerateRequest
	lastTrain types.TrainingRequest
	loras     []types.LoraFile
}

func (f *fakeEngine) Generate(_ context.Context, req types.GenerateRequest) (types.GenerateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGen = req
	if f.genErr != nil {
		return types.GenerateResult{}, f.genErr
	}
	return types.GenerateResult{Success: true, ImagePath: "/out/" + req.UserID + "/1.png"}, nil
}

func (f *fakeEngine) Train(_ context.Context, req types.TrainingRequest) (types.TrainResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTrain = req
	return types.TrainResult{Success: true, LoraPath: "/loras/" + req.UserID + "/" + req.LoraName + ".safetensors"}, nil
}

func (f *fakeEngine) ListLoras(_ context.Context, userID string) ([]types.LoraFile, error) {
	return f.loras, nil
}

func (f *fakeEngine) ListImages(_ context.Context, userID string) ([]types.ImageRecord, error) {
	return nil, nil
}

func (f *fakeEngine) OpenGenerateStream(_ context.Context, req types.GenerateRequest) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGen = req
	return f.stream, nil
}

func (f *fakeEngine) OpenTrainStream(_ context.Context, req types.TrainingRequest) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTrain = req
	return f.stream, nil
}

type fakeModels struct {
	mu       sync.Mutex
	catalog  map[string]types.ModelDescriptor
	settings types.ModelSettings
	saveErr  error
	gpuErr   error
	current  types.CurrentModel
	download *http.Response
	gets     atomic.Int32
}

func newFakeModels() *fakeModels {
	return &fakeModels{catalog: map[string]types.ModelDescriptor{
		"sdxl-base":  {ID: "sdxl-base", Name: "SDXL Base"},
		"sdxl-turbo": {ID: "sdxl-turbo", Name: "SDXL Turbo", IsDownloaded: true, LocalPath: "/m/sdxl-turbo"},
	}}
}

func (f *fakeModels) ListModels(context.Context) []types.ModelDescriptor {
	return []types.ModelDescriptor{f.catalog["sdxl-base"], f.catalog["sdxl-turbo"]}
}

func (f *fakeModels) Known(id string) bool {
	_, ok := f.catalog[id]
	return ok
}

func (f *fakeModels) Get(_ context.Context, id string) (types.ModelDescriptor, error) {
	f.gets.Add(1)
	d, ok := f.catalog[id]
	if !ok {
		return d, notFound{id}
	}
	return d, nil
}

func (f *fakeModels) GetSelected(ctx context.Context) *types.ModelDescriptor {
	s := f.GetSettings()
	if s.SelectedModelID == nil {
		return nil
	}
	d, err := f.Get(ctx, *s.SelectedModelID)
	if err != nil {
		return nil
	}
	return &d
}

func (f *fakeModels) SelectModel(ctx context.Context, id string) (types.ModelDescriptor, error) {
	d, err := f.Get(ctx, id)
	if err != nil {
		return d, err
	}
	s := f.GetSettings()
	s.SelectedModelID = &id
	return d, f.SaveSettings(s)
}

func (f *fakeModels) GetSettings() types.ModelSettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeModels) SaveSettings(s types.ModelSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.settings = s
	return nil
}

func (f *fakeModels) Load(_ context.Context, id string) (engine.ActionResult, error) {
	if _, ok := f.catalog[id]; !ok {
		return engine.ActionResult{}, notFound{id}
	}
	return engine.ActionResult{Success: true, ModelID: id}, nil
}

func (f *fakeModels) Unload(context.Context) (engine.ActionResult, error) {
	return engine.ActionResult{Success: true}, nil
}

func (f *fakeModels) Current(context.Context) (types.CurrentModel, error) { return f.current, nil }

func (f *fakeModels) GPU(context.Context) (types.GpuStatus, error) {
	if f.gpuErr != nil {
		return types.GpuStatus{}, f.gpuErr
	}
	return types.GpuStatus{Available: true, Name: "RTX 4090", TotalVRAMGB: 24, FreeVRAMGB: 20}, nil
}

func (f *fakeModels) Download(context.Context, string) (*http.Response, error) { return f.download, nil }

type fakeSupervisor struct {
	ready      bool
	status     types.EngineStatus
	restartErr error
	restarts   int
}

func (f *fakeSupervisor) Status() types.EngineStatus { return f.status }
func (f *fakeSupervisor) Ready() bool                { return f.ready }
func (f *fakeSupervisor) RestartAsync(context.Context) error {
	f.restarts++
	return f.restartErr
}

var (
	errThrottled = supervisor.ErrRestartThrottled
	errNotFailed = errors.Join(supervisor.ErrNotRestartable, errors.New("running"))
	errNoEngine  = &url.Error{Op: "Get", URL: "http://127.0.0.1:8000/gpu", Err: errors.New("connection refused")}
)

type fixture struct {
	eng    *fakeEngine
	models *fakeModels
	sup    *fakeSupervisor
	h      http.Handler
}

func newFixture() *fixture {
	f := &fixture{eng: &fakeEngine{}, models: newFakeModels(), sup: &fakeSupervisor{ready: true, status: types.EngineStatus{State: "running"}}}
	f.h = NewMux(Deps{Engine: f.eng, Models: f.models, Supervisor: f.sup})
	return f
}
