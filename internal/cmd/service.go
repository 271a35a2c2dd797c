// Package cmd provides the command implementations behind the flow-proxy CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/victorsharp-labs/flow-proxy/internal/api"
	"github.com/victorsharp-labs/flow-proxy/internal/buildinfo"
	"github.com/victorsharp-labs/flow-proxy/internal/config"
	"github.com/victorsharp-labs/flow-proxy/internal/logging"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds how long in-flight requests get after a stop signal.
const ShutdownTimeout = 15 * time.Second

// LoadOptions controls how the effective configuration is assembled.
type LoadOptions struct {
	// ConfigPath is a YAML or TOML file. Empty means defaults plus environment.
	ConfigPath string
	// Required makes a missing or broken ConfigPath an error instead of a warning.
	Required bool
	// EnvFile is loaded into the process environment before overrides apply.
	// A missing file is ignored.
	EnvFile string
	// Lookup reads environment variables; nil means os.LookupEnv.
	Lookup func(string) (string, bool)
}

// LoadConfiguration loads the .env file, the config file and environment overrides,
// then validates the result.
func LoadConfiguration(opts LoadOptions) (*config.Config, error) {
	if envFile := strings.TrimSpace(opts.EnvFile); envFile != "" {
		if errEnv := godotenv.Load(envFile); errEnv != nil && !errors.Is(errEnv, fs.ErrNotExist) {
			log.WithError(errEnv).Warnf("failed to load %s", envFile)
		}
	}

	optional := !opts.Required || strings.TrimSpace(opts.ConfigPath) == ""
	cfg, err := config.LoadConfigOptional(opts.ConfigPath, optional)
	if err != nil {
		return nil, err
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg.ApplyEnv(lookup)

	if err = config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyLogging configures log level and output from cfg.
func ApplyLogging(cfg *config.Config) error {
	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	logging.SetLogLevel(level)
	return logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir)
}

// StartService runs the HTTP server until ctx is cancelled or the server fails,
// then shuts it down gracefully.
func StartService(ctx context.Context, cfg *config.Config, opts ...api.ServerOption) error {
	if err := ApplyLogging(cfg); err != nil {
		return err
	}
	defer logging.CloseLogOutput()

	srv := api.NewServer(cfg, opts...)
	log.WithFields(log.Fields{
		"version":  buildinfo.Version,
		"commit":   buildinfo.Commit,
		"upstream": cfg.Upstream.BaseURL,
		"proxy":    cfg.Upstream.ProxyURL != "",
	}).Infof("%s starting", buildinfo.ServiceName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Infof("%s stopped", buildinfo.ServiceName)
	return nil
}
