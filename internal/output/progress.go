package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// writerIsTTY reports whether w is a file descriptor attached to a terminal.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd())
	}
	return false
}

const spinnerFrames = `|/-\`

// spinner animates a message on a terminal. On any other writer the
// message is printed once.
type spinner struct {
	w       io.Writer
	message string
	stopCh  chan struct{}
	done    chan struct{}
}

func startSpinner(w io.Writer, message string) *spinner {
	s := &spinner{
		w:       w,
		message: message,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	if !writerIsTTY(w) {
		fmt.Fprintf(w, "%s...\n", message)
		close(s.done)
		return s
	}
	go s.run()
	return s
}

func (s *spinner) run() {
	defer close(s.done)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-s.stopCh:
			fmt.Fprintf(s.w, "\r%s\r", strings.Repeat(" ", len(s.message)+3))
			return
		case <-ticker.C:
			fmt.Fprintf(s.w, "\r%c  %s", spinnerFrames[i%len(spinnerFrames)], s.message)
		}
	}
}

// stop ends the animation and clears the line.
func (s *spinner) stop() {
	close(s.stopCh)
	<-s.done
}

// Spin runs fn behind a spinner on w and reports success or failure.
func Spin(w io.Writer, message string, fn func() error) error {
	s := startSpinner(w, message)
	err := fn()
	s.stop()

	if err != nil {
		fmt.Fprintln(w, colorize(colorRed, "✗ ")+message)
		return err
	}
	fmt.Fprintln(w, colorize(colorGreen, "✓ ")+message)
	return nil
}
