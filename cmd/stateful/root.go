package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/stateful/internal/config"
	"github.com/aretw0/stateful/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "stateful",
	Short: "Stateful is a container for conversational component instances",
	Long: `Stateful hosts stateful components: it creates their instances, serializes
concurrent calls, demarcates transactions and passivates idle instances to a
snapshot store.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a configuration file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("store", "", "Snapshot store backend: memory, file or redis")
	rootCmd.PersistentFlags().String("store-path", "", "Directory of the file store")
}

// loadConfig reads the configuration of cmd: defaults, then the file, then
// STATEFUL_* variables, then flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.New()
	flags := cmd.Flags()
	for key, flag := range map[string]string{
		"log.level":     "log-level",
		"store.backend": "store",
		"store.path":    "store-path",
		"server.addr":   "addr",
	} {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	path, _ := flags.GetString("config")
	return config.Load(v, path)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := logging.ParseLevel(cfg.Level)
	if cfg.JSON {
		return logging.NewJSON(level)
	}
	return logging.New(level)
}
