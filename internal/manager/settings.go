package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"loramint/internal/common/fsutil"
	"loramint/pkg/types"
)

// SettingsFile is the settings document name under the models root.
const SettingsFile = "settings.json"

func (m *Manager) defaultSettings() types.ModelSettings {
	return types.ModelSettings{ModelsPath: m.root}
}

// GetSettings returns the persisted settings through a read-through cache.
// A missing or unreadable document yields defaults and a warning, never an error.
func (m *Manager) GetSettings() types.ModelSettings {
	m.cacheMu.RLock()
	if m.cached != nil {
		s := cloneSettings(*m.cached)
		m.cacheMu.RUnlock()
		return s
	}
	gen := m.gen
	m.cacheMu.RUnlock()

	s := m.readSettings()

	m.cacheMu.Lock()
	// a save that landed while we were reading wins; do not cache stale data
	if m.gen == gen && m.cached == nil {
		c := cloneSettings(s)
		m.cached = &c
	}
	m.cacheMu.Unlock()
	return s
}

func (m *Manager) readSettings() types.ModelSettings {
	b, err := os.ReadFile(m.settingsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.log.Debug().Str("path", m.settingsPath).Msg("settings file absent; using defaults")
		} else {
			m.log.Warn().Err(err).Str("path", m.settingsPath).Msg("settings unreadable; using defaults")
		}
		return m.defaultSettings()
	}
	s := m.defaultSettings()
	if err := json.Unmarshal(b, &s); err != nil {
		m.log.Warn().Err(err).Str("path", m.settingsPath).Msg("settings corrupt; using defaults")
		return m.defaultSettings()
	}
	if s.ModelsPath == "" {
		s.ModelsPath = m.root
	}
	return s
}

// SaveSettings atomically replaces the settings document and then invalidates
// the cache. Write failures are returned to the caller.
func (m *Manager) SaveSettings(s types.ModelSettings) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if s.ModelsPath != "" {
		s.ModelsPath = filepath.Clean(s.ModelsPath)
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return settingsWriteError{err: fmt.Errorf("encode: %w", err)}
	}
	if err := fsutil.WriteFileAtomic(m.settingsPath, append(b, '\n'), 0o644); err != nil {
		return settingsWriteError{err: err}
	}
	m.cacheMu.Lock()
	m.cached = nil
	m.gen++
	m.cacheMu.Unlock()
	m.log.Info().Str("path", m.settingsPath).Msg("settings saved")
	return nil
}

// modelsPath is where model weights live: the persisted override or the root.
func (m *Manager) modelsPath() string {
	if p := m.GetSettings().ModelsPath; p != "" {
		return p
	}
	return m.root
}

func cloneSettings(s types.ModelSettings) types.ModelSettings {
	if s.SelectedModelID != nil {
		id := *s.SelectedModelID
		s.SelectedModelID = &id
	}
	return s
}
