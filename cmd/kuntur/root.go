package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kuntur/kuntur/internal/config"
	"github.com/kuntur/kuntur/internal/logging"
)

var (
	cfgFile    string
	jsonOutput bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "kuntur",
	Short: "Camera session and alarm coordinator for storefronts",
	Long: `Kuntur manages the video and audio sessions of a storefront's IP camera,
arms and disarms the alarm system, and keeps the registered storefront
profile. Run "kuntur serve" and attach kuntur-tui to control it.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "kuntur.yaml", "config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, logging.New(cfg.Log, os.Stderr), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
