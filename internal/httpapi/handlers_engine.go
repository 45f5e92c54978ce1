package httpapi

import (
	"errors"
	"net/http"

	"loramint/internal/supervisor"
)

// handleEngineStatus godoc
// @Summary      Engine supervisor status
// @Tags         engine
// @Produce      json
// @Success      200  {object}  types.EngineStatus
// @Router       /api/engine/status [get]
func (s *server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Status())
}

// handleEngineRestart godoc
// @Summary      Retry a failed engine startup
// @Tags         engine
// @Produce      json
// @Success      202  {object}  types.EngineStatus
// @Failure      409  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Router       /api/engine/restart [post]
func (s *server) handleEngineRestart(w http.ResponseWriter, r *http.Request) {
	// the launch outlives this request; shutdown still cancels it
	err := s.sup.RestartAsync(serverBaseCtx)
	switch {
	case err == nil:
		log := requestLogger(r)
		log.Info().Msg("engine restart accepted")
		writeJSON(w, http.StatusAccepted, s.sup.Status())
	case errors.Is(err, supervisor.ErrRestartThrottled):
		IncrementBackpressure("engine_restart")
		w.Header().Set("Retry-After", "5")
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, supervisor.ErrNotRestartable):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		writeServiceError(w, err)
	}
}
