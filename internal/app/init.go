package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/gittrack/internal/auth"
	"github.com/blackwell-systems/gittrack/internal/config"
	"github.com/blackwell-systems/gittrack/internal/repos"
)

var (
	initRepos    []string
	initRoots    []string
	initBackend  string
	initOwner    string
	initForce    bool
	initSkipAuth bool

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a configuration and set up the tracking repository",
		Long: `Runs the gittrack setup workflow in a single command.

Steps performed:
  1. Write the configuration file with the given repositories and roots
  2. Authenticate with the tracking backend (prompts for a token)
  3. Create the private tracking repository when it does not exist

Run 'gittrack watch --daemon' afterwards to start mirroring.`,
		Example: `  # Watch two repositories
  gittrack init --repo ~/src/api --repo ~/src/web

  # Watch every repository under ~/src
  gittrack init --root ~/src

  # Use a redis server for the log (set tracking.redis.address afterwards)
  gittrack init --root ~/src --backend redis --skip-auth`,
		RunE: runInit,
	}
)

func init() {
	initCmd.Flags().StringSliceVar(&initRepos, "repo", nil, "repository to watch (repeatable)")
	initCmd.Flags().StringSliceVar(&initRoots, "root", nil, "directory whose repositories are watched (repeatable)")
	initCmd.Flags().StringVar(&initBackend, "backend", config.DefaultBackend, "tracking backend: github, s3, redis or memory")
	initCmd.Flags().StringVar(&initOwner, "owner", "", "owner of the tracking repository (default: authenticated user)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing configuration file")
	initCmd.Flags().BoolVar(&initSkipAuth, "skip-auth", false, "only write the configuration")

	RootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := getConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	fmt.Println("Welcome to gittrack! Running setup...")
	fmt.Println()

	// ── Step 1: Configuration ─────────────────────────────────────────────────
	fmt.Println("Step 1/2: Writing configuration")
	cfg, err := buildInitConfig()
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(path); statErr == nil && !initForce {
		fmt.Printf("  ✓ %s already exists, keeping it (use --force to overwrite)\n", path)
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
	} else {
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("  ✓ Wrote %s\n", path)
	}

	for _, repo := range cfg.Repositories {
		if !repos.IsRepository(repo) {
			fmt.Printf("  ⚠ %s is not a git repository yet; it will be picked up once it is\n", repo)
		}
	}
	if len(cfg.Repositories) == 0 && len(cfg.Roots) == 0 {
		fmt.Println("  ⚠ No repositories or roots configured; add some with --repo or --root")
	}
	fmt.Println()

	// ── Step 2: Authenticate ──────────────────────────────────────────────────
	fmt.Println("Step 2/2: Connecting to the tracking backend")
	if initSkipAuth {
		fmt.Println("  Skipped. Run 'gittrack auth login' when ready.")
	} else if err := initAuthenticate(cmd, cfg); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Setup complete.")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  • Start mirroring:  gittrack watch --daemon")
	fmt.Println("  • Check progress:   gittrack status")
	fmt.Println("  • Follow commits:   gittrack tail")
	return nil
}

// buildInitConfig turns the init flags into a validated configuration.
func buildInitConfig() (*config.Config, error) {
	cfg := &config.Config{
		Tracking: config.TrackingConfig{
			Backend: initBackend,
			Owner:   initOwner,
		},
		Server:  config.ServerConfig{Address: config.DefaultServerAddress},
		Metrics: config.MetricsConfig{Enabled: true},
	}
	config.ApplyDefaults(cfg)

	for _, list := range []struct {
		in  []string
		out *[]string
	}{
		{initRepos, &cfg.Repositories},
		{initRoots, &cfg.Roots},
	} {
		for _, p := range list.in {
			abs, err := config.ExpandPath(p)
			if err != nil {
				return nil, err
			}
			*list.out = append(*list.out, abs)
		}
	}

	if err := config.Validate(cfg); err != nil {
		var verr config.ValidationError
		partial := cfg.Tracking.Backend == config.BackendS3 || cfg.Tracking.Backend == config.BackendRedis
		if errors.As(err, &verr) && partial {
			// s3 and redis need settings init has no flags for.
			fmt.Printf("  ⚠ %v", verr)
			fmt.Println("  Edit the configuration file before running 'gittrack watch'.")
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

func initAuthenticate(cmd *cobra.Command, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		fmt.Println("  Skipped until the configuration is complete.")
		return nil
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	boot, connector, err := newBootstrapper(cfg, st, auth.NewTerminalPrompter())
	if err != nil {
		return err
	}
	sess, err := boot.Authenticate(commandContext(cmd))
	if err != nil {
		return explainAuthError(err)
	}

	fmt.Printf("  ✓ Authenticated with %s as %s\n", connector.Name(), sess.Identity)
	target := describeTarget(cfg.Tracking, sess.Owner)
	if sess.Created {
		fmt.Printf("  ✓ Created tracking repository %s\n", target)
	} else {
		fmt.Printf("  ✓ Commit log: %s\n", target)
	}
	return nil
}
