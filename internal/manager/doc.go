// Package manager answers which models exist, which are downloaded, and which
// one is selected, and mediates the resource-changing calls to the engine.
// It is structured into small files by concern:
//
//   - manager.go: Manager type, constructor, catalog queries and engine passthrough.
//   - settings.go: the settings document (read-through cache, atomic save).
//   - download.go: local marker detection and the download stream.
//   - errors.go: error types and helpers (IsModelNotFound, IsSettingsWrite).
//
// The settings document is owned exclusively by this package; other components
// read and write it only through Manager.
package manager
