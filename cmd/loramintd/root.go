package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"loramint/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	server     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "loramintd",
		Short:         "Orchestrates the image generation and LoRA training engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultServer := "http://127.0.0.1:5080"
	if v := os.Getenv("LORAMINT_SERVER"); v != "" {
		defaultServer = v
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", os.Getenv("LORAMINT_CONFIG"), "Config file (.yaml, .yml, .json, .toml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides log.level)")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: json|console (overrides log.format)")
	pf.StringVar(&opts.server, "server", defaultServer, "loramintd address used by client commands")

	root.AddCommand(
		newServeCmd(opts),
		newEngineCmd(opts),
		newModelsCmd(opts),
		newGenerateCmd(opts),
		newTrainCmd(opts),
		newDownloadCmd(opts),
	)
	return root
}

// loadConfig layers defaults, the config file, LORAMINT_* env and the
// persistent log flags, in that order. It does not validate.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg := config.Defaults()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	return cfg, nil
}

// newLogger builds the root logger; every component derives from it.
func newLogger(c config.LogConfig, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || c.Level == "" {
		lvl = zerolog.InfoLevel
	}
	if c.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// splitCSV splits a comma-separated list, dropping blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
