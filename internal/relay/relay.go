// Package relay forwards a job's progress stream from the engine to one client.
//
// A relay run ends in exactly one of these ways:
//   - the upstream could not be opened or answered non-2xx: one synthesized
//     error event is written and nothing else;
//   - the upstream ended: every line was forwarded verbatim;
//   - the client went away: the upstream is closed and nothing more is written;
//   - the upstream broke mid-stream: one synthesized error event is appended.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"loramint/internal/engine"
	"loramint/pkg/types"
)

// Kind names the engine operation behind a stream.
type Kind string

const (
	KindGenerate Kind = "generate"
	KindTrain    Kind = "train"
	KindDownload Kind = "download"
)

// Outcome is how a relay run ended.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeUpstreamError Outcome = "upstream_error"
	OutcomeUnreachable   Outcome = "unreachable"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeFailed        Outcome = "failed"
)

// Opener opens the upstream stream. The response body is owned by the relay.
type Opener func(ctx context.Context) (*http.Response, error)

// Job is one relayed operation.
type Job struct {
	ID   string
	Kind Kind
	Open Opener
}

// Result summarizes a relay run.
type Result struct {
	JobID   string
	Outcome Outcome
	Lines   int
	Err     error
}

type Relay struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Relay {
	return &Relay{log: log.With().Str("component", "relay").Logger()}
}

// NewJobID returns a fresh job identifier.
func NewJobID() string { return uuid.NewString() }

// Forward opens job's upstream and copies it to w line by line, calling flush
// after every line. Cancellation of ctx is checked on every iteration and ends
// the run silently.
func (r *Relay) Forward(ctx context.Context, job Job, w io.Writer, flush func()) Result {
	if job.ID == "" {
		job.ID = NewJobID()
	}
	if flush == nil {
		flush = func() {}
	}
	kind := string(job.Kind)
	log := r.log.With().Str("job_id", job.ID).Str("kind", kind).Logger()
	activeStreams.WithLabelValues(kind).Inc()
	defer activeStreams.WithLabelValues(kind).Dec()
	start := time.Now()

	res := r.forward(ctx, job, w, flush, log)
	res.JobID = job.ID
	streamsTotal.WithLabelValues(kind, string(res.Outcome)).Inc()

	ev := log.Info()
	if res.Outcome != OutcomeCompleted && res.Outcome != OutcomeCancelled {
		ev = log.Warn().Err(res.Err)
	}
	ev.Str("outcome", string(res.Outcome)).Int("lines", res.Lines).Dur("dur", time.Since(start)).Msg("relay end")
	return res
}

func (r *Relay) forward(ctx context.Context, job Job, w io.Writer, flush func(), log zerolog.Logger) Result {
	resp, err := job.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeCancelled, Err: ctx.Err()}
		}
		writeErrorEvent(w, flush, fmt.Sprintf("Engine unreachable: %v", err), false)
		return Result{Outcome: OutcomeUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if err := engine.CheckStatus(string(job.Kind), resp); err != nil {
		var se *engine.StatusError
		msg := err.Error()
		if errors.As(err, &se) {
			msg = fmt.Sprintf("Engine returned %d for %s", se.Code, job.Kind)
			if se.Body != "" {
				msg += ": " + se.Body
			}
		}
		writeErrorEvent(w, flush, msg, false)
		return Result{Outcome: OutcomeUpstreamError, Err: err}
	}
	log.Debug().Msg("relay start")

	// unblock a pending read as soon as the client goes away
	stop := context.AfterFunc(ctx, func() { _ = resp.Body.Close() })
	defer stop()

	br := bufio.NewReaderSize(resp.Body, 64<<10)
	lines := 0
	midLine := false
	for {
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeCancelled, Lines: lines, Err: ctx.Err()}
		}
		line, rerr := br.ReadBytes('\n')
		if len(line) > 0 {
			if ctx.Err() != nil {
				return Result{Outcome: OutcomeCancelled, Lines: lines, Err: ctx.Err()}
			}
			if _, werr := w.Write(line); werr != nil {
				// the client is gone; that is a cancellation, not a failure
				return Result{Outcome: OutcomeCancelled, Lines: lines, Err: werr}
			}
			flush()
			lines++
			linesTotal.WithLabelValues(string(job.Kind)).Inc()
			midLine = line[len(line)-1] != '\n'
		}
		if rerr == nil {
			continue
		}
		if errors.Is(rerr, io.EOF) {
			return Result{Outcome: OutcomeCompleted, Lines: lines}
		}
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeCancelled, Lines: lines, Err: ctx.Err()}
		}
		writeErrorEvent(w, flush, fmt.Sprintf("Stream interrupted: %v", rerr), midLine)
		return Result{Outcome: OutcomeFailed, Lines: lines, Err: rerr}
	}
}

// writeErrorEvent writes one synthesized error event. A write failure means
// the client is gone and is ignored.
func writeErrorEvent(w io.Writer, flush func(), msg string, midLine bool) {
	b := types.EncodeSSE(types.ErrorEvent(msg))
	if midLine {
		b = append([]byte("\n\n"), b...)
	}
	if _, err := w.Write(b); err == nil {
		flush()
	}
}
