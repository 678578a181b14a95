package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/gittrack/internal/config"
	"github.com/blackwell-systems/gittrack/internal/logging"
	"github.com/blackwell-systems/gittrack/internal/store"
)

// Version is set at build time with -ldflags "-X .../internal/app.Version=...".
var Version = "dev"

var (
	configPath string
	dbPath     string

	// RootCmd is the root command for gittrack
	RootCmd = &cobra.Command{
		Use:   "gittrack",
		Short: "Mirror local commits into one shared commit log",
		Long: `gittrack watches your local git repositories and appends an entry for
every new commit to a single Markdown log (commit-details.md) kept in a
dedicated tracking repository.

Each commit is logged exactly once, no matter how many repositories are
watched at the same time. Concurrent updates to the shared log are
serialized and retried on conflict, so entries are never lost or doubled.

Quick Start:
  1. gittrack init --repo ~/src/api --repo ~/src/web
  2. gittrack auth login
  3. gittrack watch --daemon

Examples:
  # Check what is being watched
  gittrack status

  # Follow commits as they are logged
  gittrack tail

  # Show the shared log
  gittrack log

  # Retry commits that failed to log
  gittrack resync`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := getConfigPath()
			fmt.Println("gittrack: mirror local commits into one shared commit log")
			fmt.Println()
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Println("Run 'gittrack init' to get started.")
			} else {
				fmt.Println("Tip: Run 'gittrack status' to see watched repositories.")
				fmt.Println("     Run 'gittrack watch --daemon' to start mirroring.")
			}
			fmt.Println("Run 'gittrack --help' for the full reference.")
			return nil
		},
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.config/gittrack/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default: ~/.config/gittrack/gittrack.db)")

	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// stateDir returns the directory holding the database, PID and log files,
// creating it if needed.
func stateDir() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create gittrack directory: %w", err)
	}
	return dir, nil
}

// getConfigPath returns the config file path, using the flag value or default
func getConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

// getDBPath returns the database path, using the flag value or default
func getDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gittrack.db"), nil
}

// getDefaultPIDFile returns the default PID file path
func getDefaultPIDFile() (string, error) {
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "watch.pid"), nil
}

// getDefaultLogFile returns the default log file path
func getDefaultLogFile() (string, error) {
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "watch.log"), nil
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	path, err := getConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the database and makes sure the schema exists.
func openStore() (*store.Store, error) {
	path, err := getDBPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get database path: %w", err)
	}
	st, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := st.CreateSchema(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}
	return st, nil
}

func newLogger(cfg *config.Config) (*log.Logger, error) {
	return logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
}
