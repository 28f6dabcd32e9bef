package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running agent",
	Long: `Stop a running agent by reading its PID file and sending SIGTERM.

The agent delivers queued audit entries before it exits. The PID file is
located at ~/.sentinel-agent/agent.pid.

Examples:
  sentinel-agent stop`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()

	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no agent PID file found at %s\nIs the agent running?", pidPath)
	}

	if !process.Alive(pid) {
		os.Remove(pidPath)
		return fmt.Errorf("agent process %d is not running (stale PID file removed)", pid)
	}

	fmt.Fprintf(os.Stderr, "Stopping sentinel-agent (PID %d)...\n", pid)
	if err := process.Interrupt(pid); err != nil {
		return fmt.Errorf("failed to stop agent: %w", err)
	}

	// The audit flush is bounded by audit.shutdown_timeout; allow for it.
	for i := 0; i < 100; i++ {
		time.Sleep(200 * time.Millisecond)
		if !process.Alive(pid) {
			os.Remove(pidPath)
			fmt.Fprintf(os.Stderr, "Agent stopped.\n")
			return nil
		}
	}

	fmt.Fprintf(os.Stderr, "Agent did not stop gracefully, killing...\n")
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve agent executable: %w", err)
	}
	if err := process.NewTerminator(os.Getpid()).Terminate(pid, exe); err != nil {
		return fmt.Errorf("failed to kill agent: %w", err)
	}
	os.Remove(pidPath)
	fmt.Fprintf(os.Stderr, "Agent killed.\n")
	return nil
}

// pidFilePath returns the standard location for the agent PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".sentinel-agent", "agent.pid")
	}
	return filepath.Join(os.TempDir(), "sentinel-agent.pid")
}

// writePIDFile writes the current process PID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// readPIDFile returns the PID stored at path, or 0 if absent or malformed.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil || pid <= 0 {
		return 0
	}
	return pid
}
