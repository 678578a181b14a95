// Package auth establishes the session with the tracking backend. It
// resolves a credential from the secret store chain, prompts for one when
// none is stored, validates it with the backend and persists it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/blackwell-systems/gittrack/internal/logging"
	"github.com/blackwell-systems/gittrack/internal/remotelog"
)

// Options configures a Bootstrapper.
type Options struct {
	Connector Connector
	// Secrets is read in order; new credentials go to its writable end.
	Secrets SecretStore
	// Prompter may be nil for non-interactive use.
	Prompter Prompter
	Logger   *log.Logger
}

// Bootstrapper owns the current session.
type Bootstrapper struct {
	conn     Connector
	secrets  SecretStore
	prompter Prompter
	logger   *log.Logger

	mu      sync.Mutex
	session *Session
}

// New creates a Bootstrapper.
func New(opts Options) *Bootstrapper {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	secrets := opts.Secrets
	if secrets == nil {
		secrets = Chain{}
	}
	return &Bootstrapper{
		conn:     opts.Connector,
		secrets:  secrets,
		prompter: opts.Prompter,
		logger:   logger.WithPrefix("auth"),
	}
}

// Authenticate returns a session using the stored credential, prompting
// when there is none.
func (b *Bootstrapper) Authenticate(ctx context.Context) (*Session, error) {
	return b.authenticate(ctx, false)
}

// Reauthenticate prompts for a new credential even if one is stored.
// Without a terminal it falls back to the secret store, so a daemon
// picks up a credential saved by 'gittrack auth login'.
func (b *Bootstrapper) Reauthenticate(ctx context.Context) (*Session, error) {
	return b.authenticate(ctx, true)
}

// Session returns the last established session, or nil.
func (b *Bootstrapper) Session() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Logout forgets the stored credential and the current session.
func (b *Bootstrapper) Logout(ctx context.Context) error {
	b.mu.Lock()
	b.session = nil
	b.mu.Unlock()

	key := b.conn.SecretKey()
	if key == "" {
		return nil
	}
	if err := b.secrets.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete stored credential: %w", err)
	}
	return nil
}

func (b *Bootstrapper) authenticate(ctx context.Context, force bool) (*Session, error) {
	name := b.conn.Name()
	key := b.conn.SecretKey()

	token, prompted, err := b.credential(ctx, key, force)
	if err != nil {
		return nil, err
	}

	sess, err := b.conn.Connect(ctx, token)
	if err != nil {
		if errors.Is(err, remotelog.ErrUnauthorized) {
			return nil, &AuthError{Reason: InvalidToken, Backend: name, Err: err}
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
	}

	if prompted && token != "" {
		if err := b.secrets.Set(ctx, key, token); err != nil {
			b.logger.Warn("credential not saved", "err", err)
		}
	}

	b.logger.Info("authenticated", "backend", name, "identity", sess.Identity)

	b.mu.Lock()
	b.session = sess
	b.mu.Unlock()
	return sess, nil
}

// credential resolves the token for key. prompted reports whether it came
// from the user and therefore still needs saving.
func (b *Bootstrapper) credential(ctx context.Context, key string, force bool) (token string, prompted bool, err error) {
	name := b.conn.Name()
	if key == "" {
		return "", false, nil
	}

	if !force {
		stored, ok, err := b.secrets.Get(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("failed to read stored credential: %w", err)
		}
		if ok {
			return stored, false, nil
		}
		if !b.conn.TokenRequired() {
			return "", false, nil
		}
	}

	if b.prompter == nil {
		if force {
			return b.credential(ctx, key, false)
		}
		return "", false, &AuthError{Reason: NoToken, Backend: name}
	}

	title, desc := b.conn.PromptText()
	entered, err := b.prompter.PromptToken(ctx, title, desc)
	switch {
	case errors.Is(err, ErrPromptCancelled):
		return "", false, &AuthError{Reason: Cancelled, Backend: name, Err: err}
	case errors.Is(err, ErrNoTerminal) && force:
		return b.credential(ctx, key, false)
	case err != nil:
		return "", false, &AuthError{Reason: NoToken, Backend: name, Err: err}
	}

	if entered == "" && b.conn.TokenRequired() {
		return "", false, &AuthError{Reason: NoToken, Backend: name}
	}
	return entered, true, nil
}
