// Package main provides the entry point for flow-proxy, a reverse proxy that relays
// session validation, video generation and job status calls to the Flow API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/victorsharp-labs/flow-proxy/internal/buildinfo"
	"github.com/victorsharp-labs/flow-proxy/internal/cmd"
	"github.com/victorsharp-labs/flow-proxy/internal/config"
	"github.com/victorsharp-labs/flow-proxy/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var envFile string
	var logLevel string

	load := func(c *cobra.Command) (*config.Config, error) {
		cfg, err := cmd.LoadConfiguration(cmd.LoadOptions{
			ConfigPath: configPath,
			Required:   c.Flags().Changed("config"),
			EnvFile:    envFile,
		})
		if err != nil {
			return nil, err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		return cfg, nil
	}

	serve := func(c *cobra.Command, _ []string) error {
		cfg, err := load(c)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return cmd.StartService(ctx, cfg)
	}

	root := &cobra.Command{
		Use:   buildinfo.ServiceName,
		Short: "Reverse proxy for the Flow video API",
		Long:  "flow-proxy relays session validation, video generation and job status calls to the Flow API, probing candidate endpoints until one answers.",
		RunE:  serve,
	}
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Configuration file (YAML or TOML)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before overrides")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error, quiet)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the proxy server",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})

	var probeOpts cmd.ProbeOptions
	probeCmd := &cobra.Command{
		Use:   "probe <validate|generate|status>",
		Short: "Resolve one operation against the live upstream and print every attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := load(c)
			if err != nil {
				return err
			}
			logging.SetLogLevel(cfg.LogLevel)
			probeOpts.Operation = args[0]
			if probeOpts.Token == "" {
				probeOpts.Token = os.Getenv("FLOW_TOKEN")
			}
			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return cmd.RunProbe(ctx, cfg, probeOpts, nil, c.OutOrStdout())
		},
	}
	probeCmd.Flags().StringVar(&probeOpts.JobID, "id", "", "Job id for the status operation")
	probeCmd.Flags().StringVar(&probeOpts.Token, "token", "", "Bearer token (default $FLOW_TOKEN)")
	probeCmd.Flags().StringVar(&probeOpts.Body, "body", "", "JSON body for POST operations (default {})")
	probeCmd.Flags().BoolVar(&probeOpts.JSON, "json", false, "Print the report as JSON")
	root.AddCommand(probeCmd)

	var envFormat string
	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := load(c)
			if err != nil {
				return err
			}
			return cmd.ShowEnv(cfg, envFormat, c.OutOrStdout())
		},
	}
	envCmd.Flags().StringVar(&envFormat, "format", "yaml", "Output format (yaml or json)")
	root.AddCommand(envCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(c *cobra.Command, _ []string) {
			fmt.Fprintf(c.OutOrStdout(), "%s %s (commit %s, built %s)\n", buildinfo.ServiceName, buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		},
	})
	return root
}
