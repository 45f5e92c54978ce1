package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loramint/internal/engine"
	"loramint/internal/relay"
	"loramint/pkg/types"
)

// Engine is the part of the engine client the HTTP layer calls directly.
type Engine interface {
	Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResult, error)
	Train(ctx context.Context, req types.TrainingRequest) (types.TrainResult, error)
	ListLoras(ctx context.Context, userID string) ([]types.LoraFile, error)
	ListImages(ctx context.Context, userID string) ([]types.ImageRecord, error)
	OpenGenerateStream(ctx context.Context, req types.GenerateRequest) (*http.Response, error)
	OpenTrainStream(ctx context.Context, req types.TrainingRequest) (*http.Response, error)
}

// Models is the model lifecycle service.
type Models interface {
	ListModels(ctx context.Context) []types.ModelDescriptor
	Known(id string) bool
	Get(ctx context.Context, id string) (types.ModelDescriptor, error)
	GetSelected(ctx context.Context) *types.ModelDescriptor
	SelectModel(ctx context.Context, id string) (types.ModelDescriptor, error)
	GetSettings() types.ModelSettings
	SaveSettings(s types.ModelSettings) error
	Load(ctx context.Context, id string) (engine.ActionResult, error)
	Unload(ctx context.Context) (engine.ActionResult, error)
	Current(ctx context.Context) (types.CurrentModel, error)
	GPU(ctx context.Context) (types.GpuStatus, error)
	Download(ctx context.Context, id string) (*http.Response, error)
}

// Supervisor reports and controls the engine process.
type Supervisor interface {
	Status() types.EngineStatus
	Ready() bool
	RestartAsync(ctx context.Context) error
}

// Deps are the services behind the API.
type Deps struct {
	Engine     Engine
	Models     Models
	Supervisor Supervisor
	Relay      *relay.Relay
}

type server struct {
	eng    Engine
	models Models
	sup    Supervisor
	relay  *relay.Relay
}

// NewMux builds the daemon's router.
func NewMux(d Deps) http.Handler {
	s := &server{eng: d.Engine, models: d.Models, sup: d.Supervisor, relay: d.Relay}
	if s.relay == nil {
		s.relay = relay.New(zlog)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		methods := corsAllowedMethods
		if len(methods) == 0 {
			methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}
		}
		headers := corsAllowedHeaders
		if len(headers) == 0 {
			headers = []string{"Accept", "Content-Type", "X-Log-Level", "X-Request-Id"}
		}
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: methods,
			AllowedHeaders: headers,
			ExposedHeaders: []string{"X-Job-ID", "X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(MetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	if swaggerEnabled {
		MountSwagger(r)
	}

	r.Route("/api", func(r chi.Router) {
		// Streams are never compressed: gzip buffering would hold events back.
		r.Post("/generate/stream", s.handleGenerateStream)
		r.Post("/train-lora/stream", s.handleTrainStream)
		r.Post("/models/{id}/download", s.handleDownload)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5, "application/json"))

			r.Get("/engine/status", s.handleEngineStatus)
			r.Post("/engine/restart", s.handleEngineRestart)

			r.Get("/models", s.handleListModels)
			r.Get("/models/selected", s.handleGetSelected)
			r.Put("/models/selected", s.handleSelectModel)
			r.Get("/models/current", s.handleCurrentModel)
			r.Post("/models/unload", s.handleUnload)
			r.Get("/models/{id}/status", s.handleModelStatus)
			r.Post("/models/{id}/load", s.handleLoad)
			r.Get("/system/gpu", s.handleGPU)

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handlePutSettings)

			r.Post("/generate", s.handleGenerate)
			r.Post("/train-lora", s.handleTrain)
			r.Get("/loras/{userID}", s.handleListLoras)
			r.Get("/images/{userID}", s.handleListImages)
		})
	})
	return r
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.sup != nil && s.sup.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("engine not ready"))
}
