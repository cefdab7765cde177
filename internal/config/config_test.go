package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
)

// envVars is the full list of environment variables we manage in tests.
var envVars = []string{
	"ATL_CONFIG",
	"ATL_SESSION_ID",
	"ATL_DATA_DIR",
	"ATL_ENGINE",
	"ATL_MAX_LINE",
	"ATL_POLL_MS",
	"ATL_OUTPUT_MS",
	"ATL_RESTART_POLL_MS",
	"ATL_RESTART_MAX_POLLS",
	"ATL_MAX_DELAY_MS",
	"ATL_STACK_SIZE",
	"ATL_FS_ROOT",
	"ATL_FS_CAPACITY",
	"ATL_LOG_LEVEL",
	"ATL_BREAK_WORD",
	"ATL_KILL_WORD",
	"ATL_LOCK_TIMEOUT_MS",
}

// clearEnv unsets all managed env vars and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	saved := make(map[string]string)
	for _, k := range envVars {
		if v, ok := os.LookupEnv(k); ok {
			saved[k] = v
		}
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range envVars {
			if v, ok := saved[k]; ok {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	})
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if c.Engine != EngineForth {
		t.Errorf("Engine = %q, want %q", c.Engine, EngineForth)
	}
	if c.DataDir != ".atlterm/" {
		t.Errorf("DataDir = %q, want .atlterm/", c.DataDir)
	}
	if c.MaxLine != 255 {
		t.Errorf("MaxLine = %d, want 255", c.MaxLine)
	}
	if c.PollInterval() != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want 100ms", c.PollInterval())
	}
	if c.OutputInterval() != 20*time.Millisecond {
		t.Errorf("OutputInterval = %v, want 20ms", c.OutputInterval())
	}
	if c.RestartPollInterval() != 50*time.Millisecond || c.RestartMaxPolls != 100 {
		t.Errorf("restart polling = %v x %d, want 50ms x 100", c.RestartPollInterval(), c.RestartMaxPolls)
	}
	if c.MaxDelay() != time.Minute {
		t.Errorf("MaxDelay = %v, want 1m", c.MaxDelay())
	}
	if c.FSCapacity != 1441792 {
		t.Errorf("FSCapacity = %d, want 1441792", c.FSCapacity)
	}
	if c.FSRoot != filepath.Join(".atlterm", "flash") {
		t.Errorf("FSRoot = %q", c.FSRoot)
	}
	if c.BreakWord != "TESTBREAK" || c.KillWord != "TESTKILL" {
		t.Errorf("control words = %q/%q", c.BreakWord, c.KillWord)
	}
	if c.Level() != zapcore.InfoLevel {
		t.Errorf("Level = %v, want info", c.Level())
	}
	if c.LockTimeout() != 0 {
		t.Errorf("LockTimeout = %v, want 0", c.LockTimeout())
	}
}

func TestSessionIDIsUUID(t *testing.T) {
	clearEnv(t)

	a, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := uuid.Parse(a.SessionID); err != nil {
		t.Errorf("SessionID %q is not a UUID: %v", a.SessionID, err)
	}
	if a.SessionID == b.SessionID {
		t.Error("two loads produced the same session ID")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("ATL_SESSION_ID", "bench-1")
	os.Setenv("ATL_DATA_DIR", "/tmp/atl")
	os.Setenv("ATL_ENGINE", "go")
	os.Setenv("ATL_MAX_LINE", "80")
	os.Setenv("ATL_OUTPUT_MS", "5")
	os.Setenv("ATL_FS_CAPACITY", "0")
	os.Setenv("ATL_LOG_LEVEL", "debug")
	os.Setenv("ATL_BREAK_WORD", "BRK")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.SessionID != "bench-1" || c.Engine != EngineGo || c.MaxLine != 80 {
		t.Errorf("got %+v", c)
	}
	if c.OutputInterval() != 5*time.Millisecond {
		t.Errorf("OutputInterval = %v", c.OutputInterval())
	}
	if c.FSCapacity != 0 {
		t.Errorf("FSCapacity = %d, want 0", c.FSCapacity)
	}
	if c.BreakWord != "BRK" {
		t.Errorf("BreakWord = %q", c.BreakWord)
	}
	if c.LogPath() != "/tmp/atl/bench-1.log" {
		t.Errorf("LogPath = %q", c.LogPath())
	}
	if c.TapeDir() != "/tmp/atl/tapes" || c.LockDir() != "/tmp/atl/locks" {
		t.Errorf("dirs = %q, %q", c.TapeDir(), c.LockDir())
	}
	if c.FSRoot != "/tmp/atl/flash" {
		t.Errorf("FSRoot = %q", c.FSRoot)
	}
}

func TestConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "atlterm.yaml")
	yaml := "engine: go\nmax_line: 128\nkill_word: RESET\nfs_capacity: 4096\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Setenv("ATL_CONFIG", path)
	// Environment wins over the file.
	os.Setenv("ATL_MAX_LINE", "64")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Engine != EngineGo || c.KillWord != "RESET" || c.FSCapacity != 4096 {
		t.Errorf("file values not applied: %+v", c)
	}
	if c.MaxLine != 64 {
		t.Errorf("MaxLine = %d, want env override 64", c.MaxLine)
	}
	if c.ConfigFile != path {
		t.Errorf("ConfigFile = %q", c.ConfigFile)
	}
}

func TestConfigFileErrors(t *testing.T) {
	clearEnv(t)
	os.Setenv("ATL_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("max_line: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Setenv("ATL_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestBadInteger(t *testing.T) {
	clearEnv(t)
	os.Setenv("ATL_POLL_MS", "fast")
	if _, err := Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown engine", "ATL_ENGINE", "basic"},
		{"zero max line", "ATL_MAX_LINE", "0"},
		{"negative poll", "ATL_POLL_MS", "-1"},
		{"zero restart polls", "ATL_RESTART_MAX_POLLS", "0"},
		{"negative capacity", "ATL_FS_CAPACITY", "-5"},
		{"bad level", "ATL_LOG_LEVEL", "chatty"},
		{"same control words", "ATL_KILL_WORD", "TESTBREAK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			os.Setenv(tt.key, tt.val)
			_, err := Load()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Load err = %v, want ErrInvalid", err)
			}
		})
	}
}
