package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/gittrack/internal/auth"
	"github.com/blackwell-systems/gittrack/internal/config"
	"github.com/blackwell-systems/gittrack/internal/logging"
	"github.com/blackwell-systems/gittrack/internal/output"
	"github.com/blackwell-systems/gittrack/internal/store"
	"github.com/blackwell-systems/gittrack/internal/watcher"
)

var (
	authWithToken bool

	authCmd = &cobra.Command{
		Use:   "auth",
		Short: "Manage the credential for the tracking backend",
		Long: `Store, check or remove the credential gittrack uses to write the commit log.

Credentials are looked up in order:
  • GITTRACK_TOKEN (any backend), GITHUB_TOKEN (github), REDIS_PASSWORD (redis)
  • the gittrack database, written by 'gittrack auth login'`,
	}

	authLoginCmd = &cobra.Command{
		Use:   "login",
		Short: "Prompt for a credential, verify it and store it",
		Example: `  # Interactive prompt
  gittrack auth login

  # Non-interactive
  echo "$TOKEN" | gittrack auth login --with-token`,
		RunE: runAuthLogin,
	}

	authLogoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		RunE:  runAuthLogout,
	}

	authStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Verify the current credential against the backend",
		RunE:  runAuthStatus,
	}
)

func init() {
	authLoginCmd.Flags().BoolVar(&authWithToken, "with-token", false, "read the credential from standard input")

	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd)
	RootCmd.AddCommand(authCmd)
}

// readerPrompter answers a prompt with the first line of r.
type readerPrompter struct {
	r io.Reader
}

func (p readerPrompter) PromptToken(context.Context, string, string) (string, error) {
	line, err := bufio.NewReader(p.r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newBootstrapper(cfg *config.Config, st *store.Store, prompter auth.Prompter) (*auth.Bootstrapper, auth.Connector, error) {
	connector, err := auth.NewConnector(cfg.Tracking)
	if err != nil {
		return nil, nil, err
	}
	boot := auth.New(auth.Options{
		Connector: connector,
		Secrets:   auth.Chain{auth.NewEnvSecrets(), auth.NewDBSecrets(st)},
		Prompter:  prompter,
		Logger:    logging.Discard(),
	})
	return boot, connector, nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var prompter auth.Prompter = auth.NewTerminalPrompter()
	if authWithToken {
		prompter = readerPrompter{r: cmd.InOrStdin()}
	}
	boot, connector, err := newBootstrapper(cfg, st, prompter)
	if err != nil {
		return err
	}
	if connector.SecretKey() == "" {
		fmt.Printf("The %s backend needs no credential.\n", connector.Name())
		return nil
	}

	sess, err := boot.Reauthenticate(commandContext(cmd))
	if err != nil {
		return explainAuthError(err)
	}

	fmt.Printf("✓ Logged in to %s as %s\n", sess.BackendName, sess.Identity)
	if sess.Created {
		fmt.Printf("✓ Created tracking repository %s\n", describeTarget(cfg.Tracking, sess.Owner))
	}
	if src := auth.NewEnvSecrets().Source(connector.SecretKey()); src != "" {
		fmt.Printf("  Note: %s is set and takes precedence over the stored credential.\n", src)
	}

	notifyDaemon(watcher.SignalReauthenticate, "Running daemon picked up the new credential")
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	boot, connector, err := newBootstrapper(cfg, st, nil)
	if err != nil {
		return err
	}
	if err := boot.Logout(commandContext(cmd)); err != nil {
		return err
	}

	fmt.Println("✓ Stored credential removed")
	if src := auth.NewEnvSecrets().Source(connector.SecretKey()); src != "" {
		fmt.Printf("  Note: %s is still set in your environment.\n", src)
	}
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	boot, connector, err := newBootstrapper(cfg, st, nil)
	if err != nil {
		return err
	}

	fmt.Printf("Backend:     %s\n", connector.Name())
	fmt.Printf("Commit log:  %s\n", describeTarget(cfg.Tracking, ""))
	fmt.Printf("Credential:  %s\n", credentialSource(commandContext(cmd), connector, st))

	var sess *auth.Session
	err = output.Spin(os.Stdout, "Verifying credential", func() error {
		var err error
		sess, err = boot.Authenticate(commandContext(cmd))
		return err
	})
	if err != nil {
		return explainAuthError(err)
	}
	fmt.Printf("Identity:    %s\n", sess.Identity)
	return nil
}

// credentialSource describes where the credential for connector comes from.
func credentialSource(ctx context.Context, connector auth.Connector, st *store.Store) string {
	key := connector.SecretKey()
	if key == "" {
		return "not needed"
	}
	if src := auth.NewEnvSecrets().Source(key); src != "" {
		return "environment (" + src + ")"
	}
	if _, ok, err := auth.NewDBSecrets(st).Get(ctx, key); err == nil && ok {
		return "stored in database"
	}
	if !connector.TokenRequired() {
		return "none (optional)"
	}
	return "missing"
}

// explainAuthError adds the next step to authentication failures.
func explainAuthError(err error) error {
	switch auth.ReasonOf(err) {
	case auth.NoToken:
		return fmt.Errorf("%w\n  Action: run 'gittrack auth login' in a terminal or set GITTRACK_TOKEN", err)
	case auth.InvalidToken:
		return fmt.Errorf("%w\n  Action: run 'gittrack auth login' with a valid credential", err)
	default:
		return err
	}
}

// notifyDaemon signals a running daemon and reports the outcome.
func notifyDaemon(signal func(pidFile string) error, success string) {
	pidFile, err := getDefaultPIDFile()
	if err != nil {
		return
	}
	switch err := signal(pidFile); {
	case err == nil:
		fmt.Println("✓ " + success)
	case errors.Is(err, watcher.ErrDaemonNotRunning):
	default:
		fmt.Printf("⚠ Could not notify daemon: %v\n", err)
	}
}
