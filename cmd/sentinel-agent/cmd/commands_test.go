package cmd

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/sentinel-agent/internal/config"
)

func TestRootCmd_RegistersCommands(t *testing.T) {
	want := map[string]bool{
		"start": false, "stop": false, "register": false,
		"evaluate": false, "policies": false, "version": false,
		"hash-token": false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_DevModeForcesDebug(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newLogger(&buf, &config.AgentConfig{DevMode: true, Server: config.ServerConfig{LogLevel: "error"}})
	logger.Debug("visible")

	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("debug line missing in dev mode: %q", buf.String())
	}
}

func TestPIDFile_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "agent.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile() error = %v", err)
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("readPIDFile() = %d, want %d", got, os.Getpid())
	}
}

func TestReadPIDFile_MissingOrGarbage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if got := readPIDFile(filepath.Join(dir, "absent.pid")); got != 0 {
		t.Errorf("readPIDFile(absent) = %d, want 0", got)
	}

	garbage := filepath.Join(dir, "garbage.pid")
	_ = os.WriteFile(garbage, []byte("not-a-pid\n"), 0644)
	if got := readPIDFile(garbage); got != 0 {
		t.Errorf("readPIDFile(garbage) = %d, want 0", got)
	}
}

func TestPrintBanner(t *testing.T) {
	t.Parallel()

	cfg := &config.AgentConfig{DevMode: true}
	cfg.SetDefaults()
	cfg.Enforcement.BlockProcesses = false

	var buf bytes.Buffer
	printBanner(&buf, cfg, "", 3, "/etc/hosts")

	out := buf.String()
	for _, want := range []string{"standalone", "audit only", "3 cached", "http://127.0.0.1:9464", "/etc/hosts"} {
		if !strings.Contains(out, want) {
			t.Errorf("banner missing %q:\n%s", want, out)
		}
	}
}

// Uses the shared hashTokenCmd, so it is not parallel.
func TestHashTokenCmd_ReadsStdin(t *testing.T) {
	var out bytes.Buffer
	hashTokenCmd.SetIn(strings.NewReader("  s3cret-token \n"))
	hashTokenCmd.SetOut(&out)
	t.Cleanup(func() {
		hashTokenCmd.SetIn(nil)
		hashTokenCmd.SetOut(nil)
	})

	if err := hashTokenCmd.RunE(hashTokenCmd, nil); err != nil {
		t.Fatalf("hash-token error = %v", err)
	}
	auth, err := http.NewIntakeAuth(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("output is not a usable hash: %v", err)
	}
	if !auth.Verify("s3cret-token") {
		t.Error("hash does not verify the trimmed token")
	}

	hashTokenCmd.SetIn(strings.NewReader("\n"))
	if err := hashTokenCmd.RunE(hashTokenCmd, nil); err == nil {
		t.Error("empty token should be rejected")
	}
}

func TestIntakeAuth_GeneratesTokenFile(t *testing.T) {
	t.Parallel()

	cfg := &config.AgentConfig{Cache: config.CacheConfig{Dir: filepath.Join(t.TempDir(), "cache")}}
	auth, err := intakeAuth(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("intakeAuth() error = %v", err)
	}

	data, err := os.ReadFile(cfg.IntakeTokenPath())
	if err != nil {
		t.Fatal(err)
	}
	token := strings.TrimSpace(string(data))
	if !auth.Verify(token) {
		t.Error("generated token does not verify")
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(cfg.IntakeTokenPath())
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("token file mode = %04o, want 0600", perm)
		}
	}
}
