// Package cmd implements the gas command line.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/internal/config"
	"github.com/hklu21/Genomics-Analysis-Service/internal/observability"
	"github.com/hklu21/Genomics-Analysis-Service/internal/pipeline"
)

// VersionInfo describes the build.
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
}

var versionInfo = VersionInfo{Version: "dev", Commit: "HEAD", BuildDate: "unknown"}

// SetVersionInfo records build metadata injected by main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile    string
	verbose    bool
	healthAddr string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "gas",
	Short: "Genomics annotation pipeline workers",
	Long: `gas runs the workers of the genomics annotation pipeline.

Jobs are submitted as VCF inputs, dispatched from the requests queue,
annotated, archived to cold storage for free users after a grace period and
restored when their owner upgrades.

Configuration comes from --config (YAML), GAS_* environment variables
(e.g. GAS_QUEUES_WAIT_TIME=10s) and flags, in increasing precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger("gas", verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&healthAddr, "health-addr", "", "Serve /health on this address (long-running commands)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// flagOverrides returns the config keys set by global flags.
func flagOverrides() map[string]any {
	out := map[string]any{}
	if healthAddr != "" {
		out["health"] = map[string]any{"addr": healthAddr}
	}
	switch {
	case logLevel != "":
		out["logging"] = map[string]any{"level": logLevel}
	case verbose:
		out["logging"] = map[string]any{"level": "debug"}
	}
	return out
}

// childArgs are the global flags handed to `gas execute` children.
func childArgs() []string {
	var args []string
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if verbose {
		args = append(args, "--verbose")
	}
	if logLevel != "" {
		args = append(args, "--log-level", logLevel)
	}
	return args
}

func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx, cfgFile, flagOverrides())
	if err != nil {
		return nil, exitError(ExitConfig, "Invalid configuration", err)
	}
	return cfg, nil
}

// openPipeline loads the config, switches CLILogger to the configured
// logger and builds the pipeline.
func openPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return nil, exitError(ExitConfig, "Invalid logging configuration", err)
	}
	observability.SetCLILogger(logger.Named("gas"))

	p, err := pipeline.Build(ctx, cfg, observability.CLILogger)
	if err != nil {
		observability.CLILogger.Error("Failed to build pipeline", zap.String("backend", cfg.Backend), zap.Error(err))
		return nil, exitError(ExitUnavailable, "Pipeline unavailable", err)
	}
	return p, nil
}

func closePipeline(p *pipeline.Pipeline) {
	if err := p.Close(); err != nil {
		observability.CLILogger.Warn("Failed to close pipeline", zap.Error(err))
	}
	_ = observability.CLILogger.Sync()
}
