package auth

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// ErrNoTerminal is returned by prompters that need an interactive stdin.
var ErrNoTerminal = errors.New("stdin is not a terminal")

// ErrPromptCancelled is returned when the user aborts a prompt.
var ErrPromptCancelled = errors.New("prompt cancelled")

// Prompter asks the user for a credential.
type Prompter interface {
	PromptToken(ctx context.Context, title, description string) (string, error)
}

// TerminalPrompter shows a masked huh input on the controlling terminal.
type TerminalPrompter struct {
	isTerminal func() bool
}

// NewTerminalPrompter creates a prompter for os.Stdin.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
}

func (p *TerminalPrompter) PromptToken(ctx context.Context, title, description string) (string, error) {
	if !p.isTerminal() {
		return "", ErrNoTerminal
	}

	var token string
	input := huh.NewInput().
		Title(title).
		Description(description).
		EchoMode(huh.EchoModePassword).
		Value(&token)

	if err := huh.NewForm(huh.NewGroup(input)).RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) || errors.Is(err, context.Canceled) {
			return "", ErrPromptCancelled
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}
