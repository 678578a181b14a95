package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrDaemonNotRunning is returned when no live daemon owns the PID file.
var ErrDaemonNotRunning = errors.New("daemon not running")

// ChildFlag marks the re-executed daemon process.
const ChildFlag = "--daemon-child"

// StartDaemon re-executes the current binary as a detached "watch" process
// with args appended, records its PID in pidFile and sends its output to
// logFile. It returns the child PID.
func StartDaemon(pidFile, logFile string, args []string) (int, error) {
	running, err := IsDaemonRunning(pidFile)
	if err != nil {
		return 0, fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		return 0, fmt.Errorf("daemon already running (PID file: %s)", pidFile)
	}

	logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logF.Close()

	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(executable, append([]string{"watch", ChildFlag}, args...)...)
	cmd.Stdout = logF
	cmd.Stderr = logF
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon process: %w", err)
	}

	pid := cmd.Process.Pid
	if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		_ = cmd.Process.Kill()
		return 0, fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := cmd.Process.Release(); err != nil {
		return 0, fmt.Errorf("failed to release process: %w", err)
	}
	return pid, nil
}

// SignalHandlers are invoked by WaitForShutdown. Nil handlers ignore the
// signal.
type SignalHandlers struct {
	// Reauthenticate runs on SIGHUP.
	Reauthenticate func()
	// Resync runs on SIGUSR1.
	Resync func()
}

// WaitForShutdown blocks until SIGTERM, SIGINT or ctx cancellation and
// dispatches SIGHUP and SIGUSR1 to h meanwhile. It returns the terminating
// signal, or nil when ctx ended.
func WaitForShutdown(ctx context.Context, h SignalHandlers) os.Signal {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				if h.Reauthenticate != nil {
					h.Reauthenticate()
				}
			case syscall.SIGUSR1:
				if h.Resync != nil {
					h.Resync()
				}
			default:
				return sig
			}
		}
	}
}

// RemovePIDFile deletes pidFile if it still names this process.
func RemovePIDFile(pidFile string) error {
	pid, err := ReadPID(pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// WritePIDFile records the current process, used by foreground runs so
// 'gittrack resync' can signal them too.
func WritePIDFile(pidFile string) error {
	if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// ReadPID parses pidFile.
func ReadPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// StopDaemon sends SIGTERM to the daemon and waits up to timeout for it
// to exit.
func StopDaemon(pidFile string, timeout time.Duration) error {
	process, err := daemonProcess(pidFile)
	if err != nil {
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", process.Pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if process.Signal(syscall.Signal(0)) != nil {
			_ = os.Remove(pidFile)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon (PID %d) did not exit within %s", process.Pid, timeout)
}

// SignalResync asks the daemon to re-evaluate every repository.
func SignalResync(pidFile string) error {
	return signalDaemon(pidFile, syscall.SIGUSR1)
}

// SignalReauthenticate asks the daemon to reload its credential.
func SignalReauthenticate(pidFile string) error {
	return signalDaemon(pidFile, syscall.SIGHUP)
}

func signalDaemon(pidFile string, sig syscall.Signal) error {
	process, err := daemonProcess(pidFile)
	if err != nil {
		return err
	}
	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", process.Pid, err)
	}
	return nil
}

func daemonProcess(pidFile string) (*os.Process, error) {
	running, err := IsDaemonRunning(pidFile)
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, ErrDaemonNotRunning
	}
	pid, err := ReadPID(pidFile)
	if err != nil {
		return nil, err
	}
	return os.FindProcess(pid)
}

// IsDaemonRunning checks the PID file and whether its process is alive.
// A stale PID file is removed.
func IsDaemonRunning(pidFile string) (bool, error) {
	pid, err := ReadPID(pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read PID file: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidFile)
		return false, nil
	}
	return true, nil
}
