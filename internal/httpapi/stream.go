package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"loramint/internal/relay"
)

// streamJob relays one engine progress stream to the client as server-sent
// events. Once headers are written every failure is reported in-band.
func (s *server) streamJob(w http.ResponseWriter, r *http.Request, kind relay.Kind, open relay.Opener) {
	jobID := relay.NewJobID()
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Job-ID", jobID)

	rc := http.NewResponseController(w)
	// jobs run for minutes; the server-wide write timeout must not cut them off
	_ = rc.SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)
	flush := func() { _ = rc.Flush() }
	flush()

	log := requestLogger(r).With().Str("job_id", jobID).Str("kind", string(kind)).Logger()
	writer := io.Writer(w)
	lvl := requestLogLevel(r)
	if lvl >= LevelDebug {
		writer = io.MultiWriter(w, &loggingLineWriter{log: log})
	}
	if lvl >= LevelInfo {
		log.Info().Msg("stream start")
	}

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	start := time.Now()
	res := s.relay.Forward(ctx, relay.Job{ID: jobID, Kind: kind, Open: open}, writer, flush)
	if lvl >= LevelInfo || (lvl >= LevelError && res.Err != nil && res.Outcome != relay.OutcomeCancelled) {
		ev := log.Info()
		if res.Err != nil && res.Outcome != relay.OutcomeCancelled {
			ev = log.Error().Err(res.Err)
		}
		ev.Str("outcome", string(res.Outcome)).Int("lines", res.Lines).Dur("dur", time.Since(start)).Msg("stream end")
	}
}

// jobContext ends when either the client goes away or the daemon shuts down.
func jobContext(r *http.Request) (context.Context, context.CancelFunc) {
	return joinContexts(serverBaseCtx, r.Context())
}
