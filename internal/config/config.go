// Package config loads the TOML configuration of the coach.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ayusman/repcoach/internal/exercise"
)

type Config struct {
	ListenAddr string `toml:"listen_addr"`
	// logging
	LogLevel    string `toml:"log_level"`
	LogsPath    string `toml:"logs_path"`
	LogToStdout bool   `toml:"log_to_stdout"`
	LogJSON     bool   `toml:"log_json"`
	// storage
	DBPath string `toml:"db_path"`
	// capture and detection
	CameraID        int     `toml:"camera_id"`
	LiveFPS         int     `toml:"live_fps"`
	MinConfidence   float64 `toml:"min_confidence"`
	MotionThreshold float64 `toml:"motion_threshold"`
	PoseScript      string  `toml:"pose_script"`
	// result hooks
	HooksDir      string `toml:"hooks_dir"`
	HookTimeoutMs int    `toml:"hook_timeout_ms"`
	// uploads
	MaxUploadMB int `toml:"max_upload_mb"`

	Exercises map[string]ExerciseOverride `toml:"exercises"`
}

// ExerciseOverride is the [<env>.exercises.<id>] table.
type ExerciseOverride struct {
	DownThreshold *float64 `toml:"down_threshold"`
	UpThreshold   *float64 `toml:"up_threshold"`
	Side          string   `toml:"side"`
	Projection    string   `toml:"projection"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("no [%s] table in config", strings.ToLower(env))
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr:    "127.0.0.1:8080",
		LogLevel:      "info",
		LogToStdout:   true,
		DBPath:        "repcoach.db",
		LiveFPS:       15,
		MinConfidence: 0.5,
		HookTimeoutMs: 5000,
		MaxUploadMB:   200,
	}
}

// Load reads path and returns the table for env with defaults filled in.
// An empty path returns Default.
func Load(env, path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(env, string(data))
}

// Parse decodes TOML data and returns the table for env.
func Parse(env, data string) (*Config, error) {
	var t Toml
	md, err := toml.Decode(data, &t)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}

	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.LiveFPS == 0 {
		c.LiveFPS = def.LiveFPS
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = def.MinConfidence
	}
	if c.HookTimeoutMs == 0 {
		c.HookTimeoutMs = def.HookTimeoutMs
	}
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = def.MaxUploadMB
	}
}

// Validate checks value ranges and that the exercise overrides produce
// usable profiles.
func (c *Config) Validate() error {
	if c.LiveFPS < 0 {
		return fmt.Errorf("live_fps must be positive, got %d", c.LiveFPS)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1], got %v", c.MinConfidence)
	}
	if c.MotionThreshold < 0 || c.MotionThreshold > 100 {
		return fmt.Errorf("motion_threshold must be within [0,100], got %v", c.MotionThreshold)
	}
	if c.HookTimeoutMs < 0 {
		return errors.New("hook_timeout_ms must not be negative")
	}
	_, err := c.Registry()
	return err
}

// Registry builds the exercise table with the configured overrides applied.
func (c *Config) Registry() (*exercise.Registry, error) {
	r := exercise.NewRegistry()
	for name, o := range c.Exercises {
		err := r.Apply(name, exercise.Override{
			Down:       o.DownThreshold,
			Up:         o.UpThreshold,
			Side:       exercise.SidePolicy(strings.ToLower(o.Side)),
			Projection: exercise.Projection(strings.ToLower(o.Projection)),
		})
		if err != nil {
			return nil, fmt.Errorf("exercises.%s: %w", name, err)
		}
	}
	return r, nil
}

// HookTimeout returns the per-hook execution timeout.
func (c *Config) HookTimeout() time.Duration {
	return time.Duration(c.HookTimeoutMs) * time.Millisecond
}

// MaxUploadBytes returns the largest accepted video upload.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
