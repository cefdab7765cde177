package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Engines accepted by ATL_ENGINE.
const (
	EngineForth = "forth"
	EngineGo    = "go"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all runtime configuration for atlterm.
// Fields are populated from defaults, then an optional YAML file named by
// ATL_CONFIG, then environment variables.
type Config struct {
	SessionID       string `yaml:"session_id"`        // ATL_SESSION_ID (default random UUID)
	DataDir         string `yaml:"data_dir"`          // ATL_DATA_DIR (default ".atlterm/")
	Engine          string `yaml:"engine"`            // ATL_ENGINE: "forth" or "go"
	MaxLine         int    `yaml:"max_line"`          // ATL_MAX_LINE in bytes (default 255)
	PollMs          int    `yaml:"poll_ms"`           // ATL_POLL_MS execution loop idle poll (default 100)
	OutputMs        int    `yaml:"output_ms"`         // ATL_OUTPUT_MS output pump period (default 20)
	RestartPollMs   int    `yaml:"restart_poll_ms"`   // ATL_RESTART_POLL_MS (default 50)
	RestartMaxPolls int    `yaml:"restart_max_polls"` // ATL_RESTART_MAX_POLLS (default 100)
	MaxDelayMs      int    `yaml:"max_delay_ms"`      // ATL_MAX_DELAY_MS cap for DELAY_MS (default 60000)
	StackSize       int    `yaml:"stack_size"`        // ATL_STACK_SIZE data stack cells (default 100)
	FSRoot          string `yaml:"fs_root"`           // ATL_FS_ROOT (default {DataDir}/flash)
	FSCapacity      int64  `yaml:"fs_capacity"`       // ATL_FS_CAPACITY bytes, 0 = host filesystem (default 1441792)
	LogLevel        string `yaml:"log_level"`         // ATL_LOG_LEVEL (default "info")
	BreakWord       string `yaml:"break_word"`        // ATL_BREAK_WORD (default "TESTBREAK")
	KillWord        string `yaml:"kill_word"`         // ATL_KILL_WORD (default "TESTKILL")
	LockTimeoutMs   int    `yaml:"lock_timeout_ms"`   // ATL_LOCK_TIMEOUT_MS, 0 = wait forever (default 0)
	ConfigFile      string `yaml:"-"`                 // ATL_CONFIG
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		DataDir:         ".atlterm/",
		Engine:          EngineForth,
		MaxLine:         255,
		PollMs:          100,
		OutputMs:        20,
		RestartPollMs:   50,
		RestartMaxPolls: 100,
		MaxDelayMs:      60_000,
		StackSize:       100,
		FSCapacity:      1_441_792, // ESP32 default SPIFFS partition
		LogLevel:        "info",
		BreakWord:       "TESTBREAK",
		KillWord:        "TESTKILL",
	}
}

// Load reads configuration and returns a validated Config.
func Load() (*Config, error) {
	c := Defaults()

	if path := os.Getenv("ATL_CONFIG"); path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
		c.ConfigFile = path
	}
	if err := c.loadEnv(); err != nil {
		return nil, err
	}

	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if c.FSRoot == "" {
		c.FSRoot = filepath.Join(c.DataDir, "flash")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	envString("ATL_SESSION_ID", &c.SessionID)
	envString("ATL_DATA_DIR", &c.DataDir)
	envString("ATL_ENGINE", &c.Engine)
	envString("ATL_FS_ROOT", &c.FSRoot)
	envString("ATL_LOG_LEVEL", &c.LogLevel)
	envString("ATL_BREAK_WORD", &c.BreakWord)
	envString("ATL_KILL_WORD", &c.KillWord)

	ints := []struct {
		key string
		dst *int
	}{
		{"ATL_MAX_LINE", &c.MaxLine},
		{"ATL_POLL_MS", &c.PollMs},
		{"ATL_OUTPUT_MS", &c.OutputMs},
		{"ATL_RESTART_POLL_MS", &c.RestartPollMs},
		{"ATL_RESTART_MAX_POLLS", &c.RestartMaxPolls},
		{"ATL_MAX_DELAY_MS", &c.MaxDelayMs},
		{"ATL_STACK_SIZE", &c.StackSize},
		{"ATL_LOCK_TIMEOUT_MS", &c.LockTimeoutMs},
	}
	for _, f := range ints {
		n, err := envInt(f.key, *f.dst)
		if err != nil {
			return err
		}
		*f.dst = n
	}

	var err error
	c.FSCapacity, err = envInt64("ATL_FS_CAPACITY", c.FSCapacity)
	return err
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineForth, EngineGo:
	default:
		return fmt.Errorf("%w: engine %q must be %q or %q", ErrInvalid, c.Engine, EngineForth, EngineGo)
	}

	positive := []struct {
		name string
		v    int
	}{
		{"max_line", c.MaxLine},
		{"poll_ms", c.PollMs},
		{"output_ms", c.OutputMs},
		{"restart_poll_ms", c.RestartPollMs},
		{"restart_max_polls", c.RestartMaxPolls},
		{"max_delay_ms", c.MaxDelayMs},
		{"stack_size", c.StackSize},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, p.name, p.v)
		}
	}
	if c.FSCapacity < 0 {
		return fmt.Errorf("%w: fs_capacity must not be negative", ErrInvalid)
	}
	if c.LockTimeoutMs < 0 {
		return fmt.Errorf("%w: lock_timeout_ms must not be negative", ErrInvalid)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.BreakWord == "" || c.KillWord == "" || c.BreakWord == c.KillWord {
		return fmt.Errorf("%w: break and kill words must be distinct and non-empty", ErrInvalid)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is empty", ErrInvalid)
	}
	return nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration        { return ms(c.PollMs) }
func (c *Config) OutputInterval() time.Duration      { return ms(c.OutputMs) }
func (c *Config) RestartPollInterval() time.Duration { return ms(c.RestartPollMs) }
func (c *Config) MaxDelay() time.Duration            { return ms(c.MaxDelayMs) }
func (c *Config) LockTimeout() time.Duration         { return ms(c.LockTimeoutMs) }

// Level is the parsed log level. Validate has already checked it.
func (c *Config) Level() zapcore.Level {
	l, _ := zapcore.ParseLevel(c.LogLevel)
	return l
}

// LogPath is the operational log for this session.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, c.SessionID+".log")
}

// TapeDir holds the JSONL transcripts.
func (c *Config) TapeDir() string {
	return filepath.Join(c.DataDir, "tapes")
}

// LockDir holds device lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.DataDir, "locks")
}

// envString overwrites *dst when key is set.
func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt reads an environment variable as int, returning def if unset.
func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	return n, nil
}

// envInt64 reads an environment variable as int64, returning def if unset.
func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	return n, nil
}
