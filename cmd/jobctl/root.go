package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/localrivet/jobwire"
	"github.com/localrivet/jobwire/client"
	"github.com/localrivet/jobwire/logx"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Inspect and drive the nodes of a job server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			if _, err := logx.ParseLevel(level); err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().String("config", "", "Client config file (.json, .yaml or .yml)")
	cmd.PersistentFlags().String("endpoint", "", "Job server URL, ws:// or wss://")
	cmd.PersistentFlags().String("log-level", "info", "Log level: debug|info|warn|error")
	cmd.PersistentFlags().String("log-format", "text", "Log format: text|json")

	cmd.AddCommand(newDescribeCmd())
	cmd.AddCommand(newInvokeCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newDemoCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig reads --config, or the environment when no file is given, and
// applies the flags the user set explicitly on top.
func loadConfig(cmd *cobra.Command) (*client.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	var (
		cfg *client.Config
		err error
	)
	if path != "" {
		cfg, err = client.LoadFromFile(path, nil)
	} else {
		cfg, err = client.LoadFromEnv(nil)
	}
	if err != nil {
		return nil, err
	}

	if flags.Changed("endpoint") {
		cfg.Endpoint, _ = flags.GetString("endpoint")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *client.Config) (*slog.Logger, error) {
	return jobwire.NewLogger(cmd.ErrOrStderr(), cfg)
}

// connect opens a session against the configured job server.
func connect(cmd *cobra.Command) (*jobwire.Client, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	c, err := jobwire.Connect(cmd.Context(), cfg, jobwire.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return c, logger, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
