package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/infrastructure/config"
	"github.com/flowgraph/nodeflow/internal/infrastructure/logger"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configFile string
	envFile    string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "nodeflow",
		Short: "Build and run node-based workflows",
		Long: `nodeflow runs workflow graphs made of typed nodes joined by port edges.

It serves the editor API, consumes queued triggers from RabbitMQ and runs
graph files from the command line. Every run is recorded as an execution
with one step per visited node.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default is ./nodeflow.yaml or $HOME/.nodeflow/nodeflow.yaml)")
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file to load (default .env)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: console or json")

	cmd.AddCommand(
		newServeCmd(opts),
		newWorkerCmd(opts),
		newRunCmd(opts),
		newValidateCmd(opts),
		newNodeTypesCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration, applies flags that were set explicitly and
// builds the logger.
func (o *rootOptions) load(cmd *cobra.Command, override func(*config.Config)) (*config.Config, *zap.Logger, error) {
	var envFiles []string
	if o.envFile != "" {
		envFiles = append(envFiles, o.envFile)
	}
	cfg, err := config.Load(o.configFile, envFiles...)
	if err != nil {
		return nil, nil, err
	}

	changed := false
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = o.logLevel
		changed = true
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = o.logFormat
		changed = true
	}
	if override != nil {
		override(cfg)
		changed = true
	}
	if changed {
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nodeflow %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
		},
	}
}
