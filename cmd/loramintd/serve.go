package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"loramint/internal/common/fsutil"
	"loramint/internal/config"
	"loramint/internal/engine"
	"loramint/internal/httpapi"
	"loramint/internal/manager"
	"loramint/internal/registry"
	"loramint/internal/relay"
	"loramint/internal/supervisor"
	"loramint/internal/tracing"
)

type serveFlags struct {
	addr        string
	engineURL   string
	enginePath  string
	modelsRoot  string
	catalog     string
	noAutoStart bool
	noInstall   bool
	corsOrigins string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: supervise the engine and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg.Log, os.Stderr))
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :5080")
	fl.StringVar(&f.engineURL, "engine-url", "", "Engine base URL")
	fl.StringVar(&f.enginePath, "engine-path", "", "Engine working directory")
	fl.StringVar(&f.modelsRoot, "models-root", "", "Models root directory (holds settings.json)")
	fl.StringVar(&f.catalog, "catalog", "", "Model catalog file replacing the built-in list")
	fl.BoolVar(&f.noAutoStart, "no-auto-start", false, "Never launch the engine; only adopt a running one")
	fl.BoolVar(&f.noInstall, "no-install", false, "Skip dependency installation before launch")
	fl.StringVar(&f.corsOrigins, "cors-origins", os.Getenv("LORAMINT_CORS_ORIGINS"), "Comma-separated allowed CORS origins")
	return cmd
}

// apply overrides cfg with flags the user set explicitly.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("addr") {
		cfg.Server.Addr = f.addr
	}
	if fl.Changed("engine-url") {
		cfg.Engine.BaseURL = f.engineURL
	}
	if fl.Changed("engine-path") {
		cfg.Engine.Path = f.enginePath
	}
	if fl.Changed("models-root") {
		cfg.Models.Root = f.modelsRoot
	}
	if fl.Changed("catalog") {
		cfg.Models.Catalog = f.catalog
	}
	if f.noAutoStart {
		cfg.Engine.AutoStart = false
	}
	if f.noInstall {
		cfg.Engine.AutoInstallDependencies = false
	}
	if origins := splitCSV(f.corsOrigins); len(origins) > 0 {
		cfg.Server.CORSOrigins = origins
	}
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	tp, err := tracing.Init(ctx, cfg.Tracing, version, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	catalog, err := registry.Load(cfg.Models.Catalog)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	root, err := fsutil.ExpandHome(cfg.Models.Root)
	if err != nil {
		return fmt.Errorf("models root: %w", err)
	}

	eng := engine.New(engine.Options{
		BaseURL:       cfg.Engine.BaseURL,
		ProbeTimeout:  cfg.Engine.ProbeTimeout.Std(),
		StatusTimeout: cfg.Engine.StatusTimeout.Std(),
		LoadTimeout:   cfg.Engine.LoadTimeout.Std(),
		Logger:        log,
	})
	sup := supervisor.New(supervisor.Options{Engine: cfg.Engine, Prober: eng, Logger: log})
	mgr := manager.New(manager.Options{Catalog: catalog, Root: root, Engine: eng, Logger: log})

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.Server.MaxBodyBytes)
	httpapi.SetMaxUploadBytes(cfg.Server.MaxUploadBytes)
	httpapi.SetCORSOptions(len(cfg.Server.CORSOrigins) > 0, cfg.Server.CORSOrigins, nil, nil)
	httpapi.SetSwaggerEnabled(cfg.Server.Swagger)
	mux := httpapi.NewMux(httpapi.Deps{Engine: eng, Models: mgr, Supervisor: sup, Relay: relay.New(log)})

	// no WriteTimeout: job streams run for as long as the engine works
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           tp.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go sup.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("engine", cfg.Engine.BaseURL).Int("models", catalog.Len()).Msg("loramintd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.StopTimeout.Std()+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	if err := sup.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("engine stop error")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown error")
	}
	return serveErr
}
