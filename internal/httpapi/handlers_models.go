package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"loramint/pkg/types"
)

// decodeJSON enforces the content type and body limit. It writes the error
// response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// handleListModels godoc
// @Summary      List catalog models
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /api/models [get]
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: s.models.ListModels(r.Context())})
}

// handleGetSelected godoc
// @Summary      Selected model
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.SelectedModelResponse
// @Router       /api/models/selected [get]
func (s *server) handleGetSelected(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.SelectedModelResponse{Model: s.models.GetSelected(r.Context())})
}

// handleSelectModel godoc
// @Summary      Select a model
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        body  body      types.SelectModelRequest  true  "model to select"
// @Success      200   {object}  types.ModelSettings
// @Failure      404   {object}  types.ErrorResponse
// @Failure      500   {object}  types.ErrorResponse
// @Router       /api/models/selected [put]
func (s *server) handleSelectModel(w http.ResponseWriter, r *http.Request) {
	var req types.SelectModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ModelID) == "" {
		writeJSONError(w, http.StatusBadRequest, "model_id is required")
		return
	}
	if _, err := s.models.SelectModel(r.Context(), req.ModelID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.models.GetSettings())
}

func (s *server) handleCurrentModel(w http.ResponseWriter, r *http.Request) {
	cur, err := s.models.Current(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

// handleModelStatus godoc
// @Summary      Download and load status of one model
// @Tags         models
// @Produce      json
// @Param        id   path      string  true  "model id"
// @Success      200  {object}  types.ModelStatus
// @Failure      404  {object}  types.ErrorResponse
// @Router       /api/models/{id}/status [get]
func (s *server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	d, err := s.models.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	st := types.ModelStatus{ModelID: d.ID, IsDownloaded: d.IsDownloaded, LocalPath: d.LocalPath}
	// load state is best effort; an unreachable engine means not loaded
	if cur, err := s.models.Current(r.Context()); err == nil && cur.ModelID != nil {
		st.IsLoaded = cur.Loaded && *cur.ModelID == d.ID
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleLoad(w http.ResponseWriter, r *http.Request) {
	res, err := s.models.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleUnload(w http.ResponseWriter, r *http.Request) {
	res, err := s.models.Unload(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGPU godoc
// @Summary      Accelerator snapshot
// @Tags         system
// @Produce      json
// @Success      200  {object}  types.GpuStatus
// @Failure      503  {object}  types.ErrorResponse
// @Router       /api/system/gpu [get]
func (s *server) handleGPU(w http.ResponseWriter, r *http.Request) {
	g, err := s.models.GPU(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.models.GetSettings())
}

// handlePutSettings godoc
// @Summary      Replace the settings document
// @Tags         settings
// @Accept       json
// @Produce      json
// @Param        body  body      types.ModelSettings  true  "settings"
// @Success      200   {object}  types.ModelSettings
// @Failure      404   {object}  types.ErrorResponse
// @Failure      500   {object}  types.ErrorResponse
// @Router       /api/settings [put]
func (s *server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var in types.ModelSettings
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.SelectedModelID != nil && *in.SelectedModelID != "" {
		if _, err := s.models.Get(r.Context(), *in.SelectedModelID); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if err := s.models.SaveSettings(in); err != nil {
		log := requestLogger(r)
		log.Error().Err(err).Msg("settings write failed")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.models.GetSettings())
}
