// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the medscope CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/medscope/internal/logging"
	"github.com/pdiddy/medscope/internal/secrets"
	"github.com/pdiddy/medscope/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// cfg is the resolved configuration, loaded before every command runs.
	cfg types.Config

	logger = zap.NewNop()
)

// rootCmd is the base command for the medscope CLI.
var rootCmd = &cobra.Command{
	Use:   "medscope",
	Short: "Risk-aware section scoping for drug knowledge retrieval",
	Long: `medscope decides which drug monograph sections to retrieve for each
medication of a patient, based on the patient's risk profile, and adjusts
that scope for rare conditions and advanced age while checking the result
for bias against a baseline cohort.

Analyze record files with scope, serve the HTTP API with serve, manage the
local monograph knowledge base with knowledge, and inspect reference tables
and recorded bias alerts with reference and alerts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = loaded

		l, err := logging.New(cfg.Log.Level, cfg.Log.Format, "medscope")
		if err != nil {
			return err
		}
		logger = l
		if used := viper.ConfigFileUsed(); used != "" {
			logger.Debug("using config file", zap.String("path", used))
		}

		s, err := secrets.Load(cfg.SecretsDir, logger)
		if err != nil {
			return err
		}
		if applied := secrets.Apply(&cfg, s); len(applied) > 0 {
			logger.Info("loaded secrets", zap.Strings("keys", applied))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./medscope.yaml or ~/.config/medscope/medscope.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: json or console")
	rootCmd.PersistentFlags().String("reference", "", "reference tables YAML overriding the built-in tables")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("engine.reference_file", rootCmd.PersistentFlags().Lookup("reference"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("medscope")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "medscope"))
		}
	}

	viper.SetEnvPrefix("MEDSCOPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintln(os.Stderr, "warning: reading config:", err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
