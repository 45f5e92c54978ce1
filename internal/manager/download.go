package manager

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"loramint/internal/common/fsutil"
	"loramint/pkg/types"
)

// markerFiles identify a complete model snapshot on disk.
var markerFiles = []string{"model_index.json", "config.json"}

// LocalPath returns the directory holding id's weights when a marker file is
// present directly under <models path>/<id> or one level below it.
func (m *Manager) LocalPath(id string) (string, bool) {
	if _, ok := m.catalog.Get(id); !ok {
		return "", false
	}
	dir := filepath.Join(m.modelsPath(), id)
	if !fsutil.DirExists(dir) {
		return "", false
	}
	if hasMarker(dir) {
		return dir, true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		if hasMarker(sub) {
			return sub, true
		}
	}
	return "", false
}

func hasMarker(dir string) bool {
	for _, f := range markerFiles {
		if fsutil.FileExists(filepath.Join(dir, f)) {
			return true
		}
	}
	return false
}

// IsDownloaded checks local markers first and only then asks the engine.
// Engine errors count as "not downloaded" and are never returned.
func (m *Manager) IsDownloaded(ctx context.Context, id string) bool {
	if _, ok := m.LocalPath(id); ok {
		return true
	}
	st, ok := m.engineStatus(ctx, id)
	return ok && st.IsDownloaded
}

func (m *Manager) engineStatus(ctx context.Context, id string) (types.ModelStatus, bool) {
	if m.eng == nil {
		return types.ModelStatus{}, false
	}
	st, err := m.eng.ModelStatus(ctx, id)
	if err != nil {
		m.log.Debug().Err(err).Str("model_id", id).Msg("engine status query failed; treating as not downloaded")
		return types.ModelStatus{}, false
	}
	return st, true
}

// Download opens the engine's download progress stream for id. The caller
// (normally the relay) owns the response body.
func (m *Manager) Download(ctx context.Context, id string) (*http.Response, error) {
	if _, ok := m.catalog.Get(id); !ok {
		return nil, ErrModelNotFound(id)
	}
	m.log.Info().Str("model_id", id).Msg("opening model download stream")
	return m.eng.OpenDownloadStream(ctx, id)
}
