package types

// ModelsResponse wraps the catalog returned by GET /api/models.
type ModelsResponse struct {
	// Catalog entries annotated with download status.
	Models []ModelDescriptor `json:"models"`
}

// SelectModelRequest is the body of PUT /api/models/selected.
type SelectModelRequest struct {
	// example: sdxl-turbo
	ModelID string `json:"model_id" example:"sdxl-turbo"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// EngineStatus is returned by GET /api/engine/status.
type EngineStatus struct {
	// Supervisor state (not_started, adopted_external, starting, running, stopped_by_us, failed).
	// example: running
	State string `json:"state" example:"running"`
	// Address the engine is expected at.
	// example: http://127.0.0.1:8000
	BaseURL string `json:"base_url" example:"http://127.0.0.1:8000"`
	// Whether this daemon owns (and will terminate) the engine process.
	StartedByUs bool `json:"started_by_us"`
	// PID of the owned engine process.
	// example: 12345
	PID int `json:"pid,omitempty" example:"12345"`
	// Identifier of the current launch attempt.
	LaunchID string `json:"launch_id,omitempty"`
	// Startup stage that failed, if any.
	// example: install
	Stage string `json:"stage,omitempty" example:"install"`
	// Last error observed by the supervisor.
	LastError string `json:"last_error,omitempty"`
	// Exit code of the engine process when it terminated.
	ExitCode *int `json:"exit_code,omitempty"`
	// Unix seconds when the current state was entered.
	SinceUnix int64 `json:"since_unix"`
}

// SelectedModelResponse is returned by GET /api/models/selected. Model is null
// when nothing is selected or the selection left the catalog.
type SelectedModelResponse struct {
	Model *ModelDescriptor `json:"model"`
}

// ActionResponse reports the outcome of an engine model action.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	// example: sdxl-turbo
	ModelID string `json:"model_id,omitempty" example:"sdxl-turbo"`
}

// LorasResponse lists a user's trained adapters.
type LorasResponse struct {
	Loras []LoraFile `json:"loras"`
}

// ImagesResponse lists a user's generated images.
type ImagesResponse struct {
	Images []ImageRecord `json:"images"`
}
