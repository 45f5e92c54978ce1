package manager

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"loramint/internal/engine"
	"loramint/internal/registry"
	"loramint/pkg/types"
)

// Engine is the subset of the engine client the manager needs.
type Engine interface {
	ModelStatus(ctx context.Context, id string) (types.ModelStatus, error)
	Load(ctx context.Context, id string) (engine.ActionResult, error)
	Unload(ctx context.Context) (engine.ActionResult, error)
	Current(ctx context.Context) (types.CurrentModel, error)
	GPU(ctx context.Context) (types.GpuStatus, error)
	OpenDownloadStream(ctx context.Context, id string) (*http.Response, error)
}

// Options configure a Manager.
type Options struct {
	Catalog *registry.Catalog
	// Root is the models root; the settings document lives directly under it.
	Root   string
	Engine Engine
	Logger zerolog.Logger
}

type Manager struct {
	catalog      *registry.Catalog
	root         string
	settingsPath string
	eng          Engine
	log          zerolog.Logger

	cacheMu sync.RWMutex
	cached  *types.ModelSettings
	gen     uint64

	writeMu sync.Mutex
}

// New constructs a Manager. A nil catalog means the built-in one.
func New(opts Options) *Manager {
	cat := opts.Catalog
	if cat == nil {
		cat = registry.Default()
	}
	root := filepath.Clean(opts.Root)
	return &Manager{
		catalog:      cat,
		root:         root,
		settingsPath: filepath.Join(root, SettingsFile),
		eng:          opts.Engine,
		log:          opts.Logger.With().Str("component", "manager").Logger(),
	}
}

// Catalog returns the static model catalog.
func (m *Manager) Catalog() *registry.Catalog { return m.catalog }

// Known reports whether id is in the catalog without touching the disk or engine.
func (m *Manager) Known(id string) bool {
	_, ok := m.catalog.Get(id)
	return ok
}

// ListModels returns the catalog annotated with fresh download status.
// Entries are checked concurrently; each engine fallback has its own short deadline.
func (m *Manager) ListModels(ctx context.Context) []types.ModelDescriptor {
	models := m.catalog.All()
	var wg sync.WaitGroup
	for i := range models {
		wg.Add(1)
		go func(d *types.ModelDescriptor) {
			defer wg.Done()
			m.annotate(ctx, d)
		}(&models[i])
	}
	wg.Wait()
	return models
}

// Get returns the annotated descriptor for id.
func (m *Manager) Get(ctx context.Context, id string) (types.ModelDescriptor, error) {
	d, ok := m.catalog.Get(id)
	if !ok {
		return types.ModelDescriptor{}, ErrModelNotFound(id)
	}
	m.annotate(ctx, &d)
	return d, nil
}

func (m *Manager) annotate(ctx context.Context, d *types.ModelDescriptor) {
	if p, ok := m.LocalPath(d.ID); ok {
		d.IsDownloaded = true
		d.LocalPath = p
		return
	}
	if st, ok := m.engineStatus(ctx, d.ID); ok && st.IsDownloaded {
		d.IsDownloaded = true
		d.LocalPath = st.LocalPath
	}
}

// GetSelected resolves the persisted selection. It returns nil when nothing is
// selected or the selection no longer names a catalog entry.
func (m *Manager) GetSelected(ctx context.Context) *types.ModelDescriptor {
	s := m.GetSettings()
	if s.SelectedModelID == nil || *s.SelectedModelID == "" {
		return nil
	}
	d, err := m.Get(ctx, *s.SelectedModelID)
	if err != nil {
		m.log.Warn().Str("model_id", *s.SelectedModelID).Msg("selected model is not in the catalog")
		return nil
	}
	return &d
}

// SelectModel persists id as the selected model.
func (m *Manager) SelectModel(ctx context.Context, id string) (types.ModelDescriptor, error) {
	if _, ok := m.catalog.Get(id); !ok {
		return types.ModelDescriptor{}, ErrModelNotFound(id)
	}
	s := m.GetSettings()
	s.SelectedModelID = &id
	if err := m.SaveSettings(s); err != nil {
		return types.ModelDescriptor{}, err
	}
	m.log.Info().Str("model_id", id).Msg("model selected")
	return m.Get(ctx, id)
}

// Load asks the engine to move id into accelerator memory.
func (m *Manager) Load(ctx context.Context, id string) (engine.ActionResult, error) {
	if _, ok := m.catalog.Get(id); !ok {
		return engine.ActionResult{}, ErrModelNotFound(id)
	}
	m.log.Info().Str("model_id", id).Msg("loading model")
	res, err := m.eng.Load(ctx, id)
	if err != nil {
		m.log.Error().Err(err).Str("model_id", id).Msg("load failed")
	}
	return res, err
}

// Unload releases the engine's loaded model.
func (m *Manager) Unload(ctx context.Context) (engine.ActionResult, error) {
	m.log.Info().Msg("unloading model")
	return m.eng.Unload(ctx)
}

// Current reports the model the engine holds in accelerator memory.
func (m *Manager) Current(ctx context.Context) (types.CurrentModel, error) {
	return m.eng.Current(ctx)
}

// GPU returns an uncached accelerator snapshot.
func (m *Manager) GPU(ctx context.Context) (types.GpuStatus, error) {
	return m.eng.GPU(ctx)
}
