// Package cli implements the redis-inmemory-server command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	redisserver "github.com/raniellyferreira/redis-inmemory-server"
)

// EnvPrefix prefixes every environment variable the server reads
const EnvPrefix = "REDIS"

// NewRootCommand creates the server command. Every flag can also be set as
// REDIS_<FLAG> (dashes become underscores) or in the file named by --config.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "redis-inmemory-server [master-port]",
		Short: "In-memory Redis-compatible server with replication",
		Long: fmt.Sprintf(`redis-inmemory-server (v%s)

An in-memory server speaking the Redis protocol. It loads dir/dbfilename at
startup, accepts writes as a master, or follows a master with --replicaof.

Environment variables use the %s_ prefix, e.g. %s_PORT=6380.`, redisserver.Version, EnvPrefix, EnvPrefix),
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd, v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Resolve(v, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 6379, "TCP port to listen on")
	flags.String("bind", "", "Interface to listen on (all interfaces when empty)")
	flags.String("replicaof", "", `Master to replicate from: "host port", host:port, or host followed by the port argument`)
	flags.String("dir", ".", "Directory holding the snapshot file")
	flags.String("dbfilename", "dump.rdb", "Snapshot file name loaded at startup")
	flags.Bool("replica-read-only", true, "Reject client writes while replicating")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9121)")
	flags.String("config", "", "Optional YAML config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			info := redisserver.VersionInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "redis-inmemory-server v%s (redis %s, %s)\n",
				info["version"], info["redis_version"], info["go"])
		},
	})

	return cmd
}

// initConfig loads .env files and binds flags, environment and config file.
func initConfig(cmd *cobra.Command, v *viper.Viper) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return nil
}

// run starts a node and blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives.
func run(ctx context.Context, cfg *Config) error {
	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := redisserver.New(cfg.Options(logger)...)
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		node.Close()
		return err
	}

	fields := []zap.Field{zap.String("addr", node.Addr()), zap.String("role", node.Role())}
	if cfg.MasterAddress != nil {
		fields = append(fields, zap.String("master", cfg.MasterAddress.String()))
	}
	logger.Info("Ready to accept connections", fields...)

	<-ctx.Done()
	logger.Info("Shutting down")
	if err := node.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
