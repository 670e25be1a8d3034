// Package cmd assembles the loglens command tree.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rzbill/loglens/internal/cmd/inspect"
	serverrun "github.com/rzbill/loglens/internal/cmd/server"
	cfgpkg "github.com/rzbill/loglens/internal/config"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

// NewRoot constructs the root command. Configuration is resolved once per
// invocation from --config, LOGLENS_* variables and flags, in that order.
func NewRoot() *cobra.Command {
	st := &inspect.Settings{}
	root := &cobra.Command{
		Use:   "loglens",
		Short: "Compressed in-memory log viewer",
		Long: "loglens loads large plain or compressed log files into a compressed in-memory\n" +
			"store and serves fast case-insensitive search over them.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return resolve(cmd, st)
		},
	}
	pf := root.PersistentFlags()
	pf.String("config", os.Getenv("LOGLENS_CONFIG"), "JSON config file")
	pf.String("log-level", "", "Log level: debug|info|warn|error")
	pf.String("log-format", "", "Log format: text|json")
	pf.String("payloads", "", "Span payload backend: heap|pebble")
	pf.Int("capacity-mb", 0, "Compressed store budget in MiB")

	root.AddCommand(newServerCommand(st))
	root.AddCommand(inspect.NewStatCommand(st))
	root.AddCommand(inspect.NewGrepCommand(st))
	root.AddCommand(inspect.NewCatCommand(st))
	return root
}

func resolve(cmd *cobra.Command, st *inspect.Settings) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfgpkg.FromEnv(&cfg)

	level, _ := flags.GetString("log-level")
	switch {
	case level != "":
		cfg.Log.Level = level
	case path == "" && os.Getenv("LOGLENS_LOG_LEVEL") == "" && !isServer(cmd):
		// Offline commands print their results on stdout; keep stderr quiet.
		cfg.Log.Level = "warn"
	}
	if v, _ := flags.GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v, _ := flags.GetString("payloads"); v != "" {
		cfg.PayloadBackend = strings.ToLower(v)
	}
	if v, _ := flags.GetInt("capacity-mb"); v > 0 {
		cfg.TargetCapacityMB = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.PayloadBackend == cfgpkg.BackendPebble && cfg.PayloadDir == "" && isServer(cmd) {
		cfg.PayloadDir = cfgpkg.DefaultScratchDir()
	}

	lc := cfg.Log.LoggerConfig()
	lc.Outputs = []string{"console"}
	logger, err := logpkg.ApplyConfig(lc)
	if err != nil {
		return err
	}
	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)
	st.Config = cfg
	st.Logger = logger
	return nil
}

func isServer(cmd *cobra.Command) bool {
	return cmd.Parent() != nil && cmd.Parent().Name() == "server"
}

func newServerCommand(st *inspect.Settings) *cobra.Command {
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	startCmd := &cobra.Command{
		Use:     "start [path]...",
		Short:   "Start loglens server (gRPC and HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			grpcAddr, _ := cmd.Flags().GetString("grpc")
			httpAddr, _ := cmd.Flags().GetString("http")
			if err := serverrun.Run(cmd.Context(), serverrun.Options{
				GRPCAddr: grpcAddr,
				HTTPAddr: httpAddr,
				Config:   st.Config,
				Logger:   st.Logger,
				Paths:    args,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	startCmd.Flags().String("grpc", ":50051", "gRPC listen address (empty disables gRPC)")
	startCmd.Flags().String("http", ":8080", "HTTP listen address")
	serverCmd.AddCommand(startCmd)
	return serverCmd
}
