package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ianremillard/burrow/internal/client"
	"github.com/ianremillard/burrow/internal/socketdir"
)

func newNewCmd() *cobra.Command {
	var attach bool
	cmd := &cobra.Command{
		Use:   "new <name> [-- <shell> [args...]]",
		Short: "Start a new detached session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := forkDaemon(name, args[1:]); err != nil {
				return err
			}
			fmt.Printf("session %q started\n", name)
			if attach {
				return doAttach(name)
			}
			fmt.Printf("attach with: burrow attach %s\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&attach, "attach", "a", false, "attach immediately after creating")
	return cmd
}

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <name>",
		Short: "Attach this terminal to a session (detach: Ctrl-\\)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doAttach(args[0])
		},
	}
}

func doAttach(name string) error {
	sockPath, err := socketdir.SocketPath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(sockPath); err != nil {
		return fmt.Errorf("no session named %q (see: burrow ls)", name)
	}
	return client.Attach(sockPath)
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := socketdir.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no sessions")
				return nil
			}

			alive := color.New(color.FgGreen).SprintFunc()
			dead := color.New(color.FgRed).SprintFunc()
			for _, e := range entries {
				status := alive("alive")
				if !e.Alive {
					status = dead("dead")
				}
				started := e.Meta.StartedAt
				if started == "" {
					started = "-"
				}
				fmt.Printf("%-20s %-7s pid=%-7d shell=%-10s started=%s\n",
					e.Name, status, e.Meta.PID, e.Meta.Shell, started)
			}
			return nil
		},
	}
}

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <name>",
		Short: "Terminate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			meta, err := socketdir.ReadMeta(name)
			if err != nil {
				return fmt.Errorf("no session named %q", name)
			}
			if meta.PID <= 0 {
				return fmt.Errorf("session %q has no recorded pid", name)
			}
			if err := syscall.Kill(meta.PID, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal session %q: %w", name, err)
			}
			fmt.Printf("session %q terminated\n", name)
			return nil
		},
	}
}

// forkDaemon starts burrowd detached with /dev/null stdio and waits for
// the session socket to appear.  The daemon binary is expected next to
// the burrow binary, falling back to $PATH.
func forkDaemon(name string, shellArgv []string) error {
	daemonBin, err := findDaemonBinary()
	if err != nil {
		return err
	}

	args := []string{"--name", name}
	if len(shellArgv) > 0 {
		args = append(args, "--")
		args = append(args, shellArgv...)
	}

	cmd := exec.Command(daemonBin, args...)

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return fmt.Errorf("open /dev/null: %w", err)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		devNull.Close()
		return fmt.Errorf("start burrowd: %w", err)
	}

	// The daemon runs independently; reap it in the background so a
	// failed start does not leave a zombie.
	go func() {
		cmd.Wait()
		devNull.Close()
	}()

	sockPath, err := socketdir.SocketPath(name)
	if err != nil {
		return err
	}
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if _, err := os.Stat(sockPath); err == nil {
			return nil
		}
		if cmd.ProcessState != nil {
			break
		}
	}
	return fmt.Errorf("session %q did not start (socket %s not found; see $BURROW_DIR/logs/%s.log)", name, sockPath, name)
}

func findDaemonBinary() (string, error) {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "burrowd")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath("burrowd"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("cannot find burrowd binary (install it next to burrow or on $PATH)")
}
