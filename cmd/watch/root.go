package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// watchConfig is the optional YAML config for the watch client. Flags
// override whatever the file sets.
type watchConfig struct {
	ServerURL            string `yaml:"server_url"`
	StateFile            string `yaml:"state_file"`
	AutoSync             bool   `yaml:"auto_sync"`
	AutoSyncIntervalSecs int    `yaml:"auto_sync_interval_secs"`
}

// AutoSyncInterval converts the configured seconds, defaulting to one minute.
func (c watchConfig) AutoSyncInterval() time.Duration {
	if c.AutoSyncIntervalSecs <= 0 {
		return time.Minute
	}
	return time.Duration(c.AutoSyncIntervalSecs) * time.Second
}

func defaultWatchConfig() watchConfig {
	home, _ := os.UserHomeDir()
	return watchConfig{
		ServerURL: "http://localhost:8080",
		StateFile: filepath.Join(home, ".intel-watch", "state.json"),
	}
}

func loadWatchConfig(path string) (watchConfig, error) {
	cfg := defaultWatchConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

var (
	flagConfig string
	flagServer string
	flagState  string
)

var rootCmd = &cobra.Command{
	Use:   "watch",
	Short: "Client for the intelligence sync pipeline",
	Long: `watch drives the sync pipeline from the terminal: it triggers runs,
follows the live event stream, and keeps local sync metadata between
sessions.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "pipeline API base URL")
	rootCmd.PersistentFlags().StringVar(&flagState, "state-file", "", "path to the persisted sync state")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
}

// resolveConfig merges file config with flag overrides.
func resolveConfig() (watchConfig, error) {
	cfg, err := loadWatchConfig(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagServer != "" {
		cfg.ServerURL = flagServer
	}
	if flagState != "" {
		cfg.StateFile = flagState
	}
	return cfg, nil
}
