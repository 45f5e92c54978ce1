// Package client is a Go client for the loramintd HTTP API.
//
// Long-running jobs (generation, training, model download) are streamed and
// decoded into ProgressEvents. The client keeps one slot per job class:
// starting a job cancels the previous job of the same class and waits for its
// request to wind down before the new request is sent, so an abandoned job
// delivers no further events once its successor has started; only a callback
// already running at that moment may still finish.
//
// Events are delivered on a goroutine owned by the operation. A callback may
// call Stop or start another job of its own class; those calls then return
// without waiting for the callback itself.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"loramint/pkg/stream"
	"loramint/pkg/types"
)

// Class groups operations that share a slot.
type Class string

const (
	ClassGeneration Class = "generation"
	ClassTraining   Class = "training"
	ClassDownload   Class = "download"
)

// ErrIncomplete is returned by Operation.Wait when the stream ended without
// a complete or error event.
var ErrIncomplete = errors.New("stream ended before a terminal event")

// APIError is a non-2xx JSON response from the daemon.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("loramintd: %d %s", e.Code, e.Message) }

// JobError is a job that ended with an error event.
type JobError struct{ Message string }

func (e *JobError) Error() string { return "job failed: " + e.Message }

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

type slot struct {
	mu sync.Mutex
	op *Operation
}

// Client is safe for concurrent use.
type Client struct {
	base  string
	hc    *http.Client
	log   zerolog.Logger
	slots map[Class]*slot
}

func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		base: strings.TrimRight(opts.BaseURL, "/"),
		hc:   hc,
		log:  opts.Logger.With().Str("component", "client").Logger(),
		slots: map[Class]*slot{
			ClassGeneration: {},
			ClassTraining:   {},
			ClassDownload:   {},
		},
	}
}

// Operation is one streamed job.
type Operation struct {
	Class  Class
	ctx    context.Context
	cancel context.CancelFunc
	// read is closed when the request is finished; done when, in addition,
	// the last callback has returned.
	read chan struct{}
	done chan struct{}
	// inCallback is set while the dispatcher runs onEvent.
	inCallback atomic.Bool

	err  error
	last *types.ProgressEvent
}

// Done is closed after the last event has been delivered.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Cancel aborts the job without waiting.
func (o *Operation) Cancel() { o.cancel() }

// Wait blocks until the operation ends. It returns nil when the stream ended
// with a complete event, context.Canceled when the job was superseded or
// stopped, and a *JobError when the engine reported a failure. It must not be
// called from the operation's own callback.
func (o *Operation) Wait() error {
	<-o.done
	return o.err
}

// Last returns the final event seen, if any. Valid after Done.
func (o *Operation) Last() (types.ProgressEvent, bool) {
	<-o.done
	if o.last == nil {
		return types.ProgressEvent{}, false
	}
	return *o.last, true
}

// stop cancels o and waits for its request to end. It then waits for the
// dispatcher too, unless a callback is running: that callback may be the caller.
func (o *Operation) stop() {
	o.cancel()
	<-o.read
	if o.inCallback.Load() {
		return
	}
	<-o.done
}

type requestFunc func(ctx context.Context) (*http.Request, error)

func (c *Client) start(ctx context.Context, class Class, build requestFunc, onEvent func(types.ProgressEvent)) *Operation {
	s := c.slots[class]
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev := s.op; prev != nil {
		prev.stop()
	}
	opCtx, cancel := context.WithCancel(ctx)
	op := &Operation{Class: class, ctx: opCtx, cancel: cancel, read: make(chan struct{}), done: make(chan struct{})}
	s.op = op
	go c.run(op, build, onEvent)
	return op
}

func (c *Client) run(op *Operation, build requestFunc, onEvent func(types.ProgressEvent)) {
	events := make(chan types.ProgressEvent, 16)
	dispatched := make(chan struct{})
	go op.dispatch(events, onEvent, dispatched)

	var last *types.ProgressEvent
	err := c.read(op, build, events, &last)
	close(events)
	close(op.read)
	<-dispatched
	defer op.cancel()

	op.last = last
	switch {
	case err != nil:
		op.err = err
	case op.ctx.Err() != nil:
		op.err = context.Canceled
	case last == nil || !last.Terminal():
		op.err = ErrIncomplete
	case last.Event == types.EventError:
		op.err = &JobError{Message: last.Error}
	}
	close(op.done)
}

// read issues the request and queues decoded events for the dispatcher.
// Nothing is queued once op is cancelled.
func (c *Client) read(op *Operation, build requestFunc, events chan<- types.ProgressEvent, last **types.ProgressEvent) error {
	req, err := build(op.ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.hc.Do(req)
	if err != nil {
		return c.ctxErr(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	queue := func(ev types.ProgressEvent) {
		if op.ctx.Err() != nil {
			return
		}
		e := ev
		*last = &e
		select {
		case events <- ev:
		case <-op.ctx.Done():
		}
	}
	if err := stream.Decode(resp.Body, queue, c.log.With().Str("class", string(op.Class)).Logger()); err != nil {
		return c.ctxErr(op, err)
	}
	return nil
}

// dispatch runs onEvent for queued events until events is closed.
func (o *Operation) dispatch(events <-chan types.ProgressEvent, onEvent func(types.ProgressEvent), dispatched chan<- struct{}) {
	defer close(dispatched)
	for ev := range events {
		if onEvent == nil {
			continue
		}
		o.inCallback.Store(true)
		if o.ctx.Err() == nil {
			onEvent(ev)
		}
		o.inCallback.Store(false)
	}
}

func (c *Client) ctxErr(op *Operation, err error) error {
	if op.ctx.Err() != nil {
		return context.Canceled
	}
	return err
}

// Stop cancels the active operation of class and waits for it. Calling it with
// nothing running, or more than once, is a no-op. Called from a callback of
// the operation being stopped, it does not wait for that callback.
func (c *Client) Stop(class Class) {
	s, ok := c.slots[class]
	if !ok {
		return
	}
	s.mu.Lock()
	op := s.op
	s.mu.Unlock()
	if op == nil {
		return
	}
	op.stop()
}

// Generate starts a streamed image generation.
func (c *Client) Generate(ctx context.Context, req types.GenerateRequest, onEvent func(types.ProgressEvent)) (*Operation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	build := func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/generate/stream", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	}
	return c.start(ctx, ClassGeneration, build, onEvent), nil
}

// Train starts a streamed LoRA training job. Invalid requests are rejected
// before any upload.
func (c *Client) Train(ctx context.Context, req types.TrainingRequest, onEvent func(types.ProgressEvent)) (*Operation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := req.WriteMultipart(mw); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	body, ctype := buf.Bytes(), mw.FormDataContentType()
	build := func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/train-lora/stream", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", ctype)
		return r, nil
	}
	return c.start(ctx, ClassTraining, build, onEvent), nil
}

// Download starts a streamed model download.
func (c *Client) Download(ctx context.Context, modelID string, onEvent func(types.ProgressEvent)) (*Operation, error) {
	if modelID == "" {
		return nil, errors.New("model id is required")
	}
	u := c.base + "/api/models/" + url.PathEscape(modelID) + "/download"
	build := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	}
	return c.start(ctx, ClassDownload, build, onEvent), nil
}

// Models lists the catalog annotated with download state.
func (c *Client) Models(ctx context.Context) ([]types.ModelDescriptor, error) {
	var out types.ModelsResponse
	if err := c.getJSON(ctx, "/api/models", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// EngineStatus reports the supervisor's view of the engine.
func (c *Client) EngineStatus(ctx context.Context) (types.EngineStatus, error) {
	var out types.EngineStatus
	err := c.getJSON(ctx, "/api/engine/status", &out)
	return out, err
}

// SelectModel persists the selected model.
func (c *Client) SelectModel(ctx context.Context, modelID string) (types.ModelSettings, error) {
	var out types.ModelSettings
	b, _ := json.Marshal(types.SelectModelRequest{ModelID: modelID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base+"/api/models/selected", bytes.NewReader(b))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	err = c.doJSON(req, &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er types.ErrorResponse
	if json.Unmarshal(b, &er) == nil && er.Error != "" {
		return &APIError{Code: resp.StatusCode, Message: er.Error}
	}
	return &APIError{Code: resp.StatusCode, Message: strings.TrimSpace(string(b))}
}
