// Package engine is the HTTP client for the external generation/training engine.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"loramint/pkg/types"
)

// maxErrorBody bounds the upstream body excerpt carried in a StatusError.
const maxErrorBody = 4096

// Options configure a Client.
type Options struct {
	BaseURL string
	// ProbeTimeout applies to each health path.
	ProbeTimeout time.Duration
	// StatusTimeout bounds catalog/status/GPU queries.
	StatusTimeout time.Duration
	// LoadTimeout bounds load/unload calls that move weights into accelerator memory.
	LoadTimeout time.Duration
	// Transport overrides the base round tripper (tests).
	Transport http.RoundTripper
	Logger    zerolog.Logger
}

// Client talks to the engine. Its http.Client has no global timeout: every call
// carries a context deadline, and streaming calls run until the caller cancels.
type Client struct {
	baseURL       string
	probeTimeout  time.Duration
	statusTimeout time.Duration
	loadTimeout   time.Duration
	httpClient    *http.Client
	log           zerolog.Logger
}

// New constructs a Client.
func New(opts Options) *Client {
	tr := opts.Transport
	if tr == nil {
		tr = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}
	c := &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		probeTimeout:  orDefault(opts.ProbeTimeout, 2*time.Second),
		statusTimeout: orDefault(opts.StatusTimeout, 5*time.Second),
		loadTimeout:   orDefault(opts.LoadTimeout, 10*time.Minute),
		httpClient:    &http.Client{Transport: otelhttp.NewTransport(tr), Timeout: 0},
		log:           opts.Logger.With().Str("component", "engine_client").Logger(),
	}
	return c
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// BaseURL returns the engine address without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Probe tries each path in order and returns the first that answers 2xx.
// Every path gets its own short deadline; an unreachable engine costs at most
// len(paths) * ProbeTimeout.
func (c *Client) Probe(ctx context.Context, paths []string) (string, bool) {
	for _, p := range paths {
		if ctx.Err() != nil {
			return "", false
		}
		if c.probeOne(ctx, p) {
			return p, true
		}
	}
	return "", false
}

func (c *Client) probeOne(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Str("path", path).Err(err).Msg("probe failed")
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Models returns the engine's model list.
func (c *Client) Models(ctx context.Context) ([]types.ModelDescriptor, error) {
	var out types.ModelsResponse
	if err := c.getJSON(ctx, "models", "/models", c.statusTimeout, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// ModelStatus returns the engine's view of one model.
func (c *Client) ModelStatus(ctx context.Context, id string) (types.ModelStatus, error) {
	var out types.ModelStatus
	err := c.getJSON(ctx, "model_status", "/models/"+url.PathEscape(id)+"/status", c.statusTimeout, &out)
	return out, err
}

// Current reports the model held in accelerator memory.
func (c *Client) Current(ctx context.Context) (types.CurrentModel, error) {
	var out types.CurrentModel
	err := c.getJSON(ctx, "current_model", "/models/current", c.statusTimeout, &out)
	return out, err
}

// GPU returns a fresh accelerator snapshot.
func (c *Client) GPU(ctx context.Context) (types.GpuStatus, error) {
	var out types.GpuStatus
	err := c.getJSON(ctx, "gpu", "/system/gpu", c.statusTimeout, &out)
	return out, err
}

// ActionResult is the engine's reply to load/unload.
type ActionResult = types.ActionResponse

// Load moves a model into accelerator memory.
func (c *Client) Load(ctx context.Context, id string) (ActionResult, error) {
	var out ActionResult
	err := c.doJSON(ctx, "load", http.MethodPost, "/models/"+url.PathEscape(id)+"/load", nil, c.loadTimeout, &out)
	return out, err
}

// Unload releases the loaded model.
func (c *Client) Unload(ctx context.Context) (ActionResult, error) {
	var out ActionResult
	err := c.doJSON(ctx, "unload", http.MethodPost, "/models/unload", nil, c.loadTimeout, &out)
	return out, err
}

// Generate runs a single-shot generation. There is no deadline beyond ctx.
func (c *Client) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResult, error) {
	var out types.GenerateResult
	err := c.doJSON(ctx, "generate", http.MethodPost, "/generate", req, 0, &out)
	return out, err
}

// Train runs a single-shot LoRA training job.
func (c *Client) Train(ctx context.Context, req types.TrainingRequest) (types.TrainResult, error) {
	var out types.TrainResult
	body, ctype, err := encodeTraining(req)
	if err != nil {
		return out, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/train-lora", body)
	if err != nil {
		return out, err
	}
	hreq.Header.Set("Content-Type", ctype)
	err = c.do(hreq, "train", &out)
	return out, err
}

// ListLoras returns the adapters trained for userID.
func (c *Client) ListLoras(ctx context.Context, userID string) ([]types.LoraFile, error) {
	var out struct {
		Loras []types.LoraFile `json:"loras"`
	}
	err := c.getJSON(ctx, "list_loras", "/loras/"+url.PathEscape(userID), c.statusTimeout, &out)
	return out.Loras, err
}

// ListImages returns the images generated for userID.
func (c *Client) ListImages(ctx context.Context, userID string) ([]types.ImageRecord, error) {
	var out struct {
		Images []types.ImageRecord `json:"images"`
	}
	err := c.getJSON(ctx, "list_images", "/images/"+url.PathEscape(userID), c.statusTimeout, &out)
	return out.Images, err
}

// OpenGenerateStream opens POST /generate/stream. The caller owns resp.Body.
func (c *Client) OpenGenerateStream(ctx context.Context, req types.GenerateRequest) (*http.Response, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	return c.openStream(ctx, "/generate/stream", bytes.NewReader(b), "application/json")
}

// OpenTrainStream opens POST /train-lora/stream with a multipart body.
func (c *Client) OpenTrainStream(ctx context.Context, req types.TrainingRequest) (*http.Response, error) {
	body, ctype, err := encodeTraining(req)
	if err != nil {
		return nil, err
	}
	return c.openStream(ctx, "/train-lora/stream", body, ctype)
}

// OpenDownloadStream opens POST /models/{id}/download.
func (c *Client) OpenDownloadStream(ctx context.Context, id string) (*http.Response, error) {
	return c.openStream(ctx, "/models/"+url.PathEscape(id)+"/download", nil, "")
}

// openStream returns as soon as response headers arrive; the body is not read.
// Any status is returned to the caller, which decides how to report non-2xx.
func (c *Client) openStream(ctx context.Context, path string, body io.Reader, ctype string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return resp, nil
}

func encodeTraining(req types.TrainingRequest) (io.Reader, string, error) {
	if err := req.Validate(); err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := req.WriteMultipart(mw); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, timeout time.Duration, out any) error {
	return c.doJSON(ctx, op, http.MethodGet, path, nil, timeout, out)
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in any, timeout time.Duration, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return fmt.Errorf("engine %s: %w", op, ctxErr)
		}
		return fmt.Errorf("engine %s: %w", op, err)
	}
	defer resp.Body.Close()
	if err := CheckStatus(op, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("engine %s: decode response: %w", op, err)
	}
	return nil
}

// CheckStatus returns a *StatusError for a non-2xx response, reading at most a
// bounded excerpt of its body. It does not close the body.
func CheckStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, Code: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(detail(b))}
}

// detail unwraps a FastAPI-style {"detail": "..."} body when present.
func detail(b []byte) string {
	var d struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(b, &d) == nil {
		if s, ok := d.Detail.(string); ok && s != "" {
			return s
		}
	}
	return string(b)
}
