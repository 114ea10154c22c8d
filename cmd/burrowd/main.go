// burrowd – the per-session server daemon.
//
// Usage:
//
//	burrowd --name <session> [--log-level debug] [-- <shell> [args...]]
//
// burrowd owns one PTY running one shell and one Unix domain socket that
// burrow clients attach to.  It is normally forked by `burrow new`; running
// it by hand with --log-level debug is the way to watch a session's event
// loop at work.  The log goes to $BURROW_DIR/logs/<name>.log unless
// --log-file names another destination.
//
// The process exits with the shell's exit status once the shell is gone
// and every client has drained.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ianremillard/burrow/internal/config"
	"github.com/ianremillard/burrow/internal/server"
	"github.com/ianremillard/burrow/internal/shell"
	"github.com/ianremillard/burrow/internal/socketdir"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "burrowd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		name     string
		logLevel string
		logFile  string
	)

	cmd := &cobra.Command{
		Use:           "burrowd --name <session> [-- <shell> [args...]]",
		Short:         "burrow session daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(name, logLevel, logFile, args)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name (required)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFile, "log-file", "", "log destination (default $BURROW_DIR/logs/<name>.log)")
	cmd.MarkFlagRequired("name")
	return cmd
}

func run(name, logLevel, logFile string, shellArgv []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(name, logLevel, logFile)
	if err != nil {
		return err
	}

	lk, err := socketdir.Acquire(name)
	if err != nil {
		return err
	}
	defer socketdir.Release(name, lk)

	sockPath, err := socketdir.SocketPath(name)
	if err != nil {
		return err
	}

	shellCmd := cfg.Shell
	args := cfg.ShellArgs
	if len(shellArgv) > 0 {
		shellCmd = shellArgv[0]
		args = shellArgv[1:]
	}

	// The shell starts at a nominal size; the first ATTACH resizes the
	// PTY to the real terminal.
	sh, err := shell.Start(shellCmd, args, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		return err
	}

	meta := socketdir.Meta{
		SessionID: uuid.NewString(),
		Name:      name,
		PID:       os.Getpid(),
		Shell:     shellCmd,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := socketdir.WriteMeta(meta); err != nil {
		log.WithError(err).Warn("write session metadata")
	}

	// The server takes ownership of the PTY master descriptor; it is
	// closed through srv.Close, not sh.Close.
	srv, err := server.New(server.Config{
		SocketPath:    sockPath,
		PTY:           int(sh.PTY.Fd()),
		ChildPID:      sh.PID,
		ClientTimeout: cfg.ClientTimeout(),
		Log:           log,
	})
	if err != nil {
		sh.Terminate()
		sh.Close()
		return err
	}

	sh.Watch(srv.NotifyChildExit)

	// Termination requests tear the session down: the shell group gets a
	// HUP and the socket path is removed before exiting non-zero.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("terminating")
		sh.Terminate()
		srv.Close()
		socketdir.Release(name, lk)
		os.Exit(1)
	}()

	log.WithFields(logrus.Fields{
		"session": name,
		"id":      meta.SessionID,
		"shell":   shellCmd,
		"pid":     sh.PID,
	}).Info("session started")

	runErr := srv.Run()
	status := srv.ExitStatus()
	srv.Close()
	if runErr != nil {
		log.WithError(runErr).Error("event loop failed")
		socketdir.Release(name, lk)
		os.Exit(1)
	}

	socketdir.Release(name, lk)
	os.Exit(status)
	return nil
}

// newLogger builds the daemon logger.  Level handling follows the usual
// CLI convention; output goes to a per-session log file so a forked
// daemon with /dev/null stdio still leaves a trail.
func newLogger(name, level, path string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", level)
	}

	log := logrus.New()
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if path == "" {
		root, err := socketdir.Root()
		if err != nil {
			return nil, err
		}
		logDir := filepath.Join(root, "logs")
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		path = filepath.Join(logDir, name+".log")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(f)
	return log, nil
}
