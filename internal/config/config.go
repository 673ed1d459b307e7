package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Accepted inbound payload shapes.
const (
	ShapePrompt        = "prompt"
	ShapeDeviceCompare = "device_compare"
	ShapeContents      = "contents"
)

type Config struct {
	Server struct {
		Listen         string `yaml:"listen"`
		ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
		WriteTimeoutMs int    `yaml:"write_timeout_ms"`
		PidFile        string `yaml:"pid_file"`
	} `yaml:"server"`

	Upstream struct {
		BaseURL   string `yaml:"base_url"`
		Model     string `yaml:"model"`
		TimeoutMs int    `yaml:"timeout_ms"`
		// Key holds the credential inline (plain or ENC[...]). Prefer
		// GMR_UPSTREAM_KEY or key_file in real deployments.
		Key     string `yaml:"key"`
		KeyFile string `yaml:"key_file"`
	} `yaml:"upstream"`

	Relay struct {
		AcceptedShapes             []string `yaml:"accepted_shapes"`
		ExposeUpstreamErrorDetails bool     `yaml:"expose_upstream_error_details"`
		AllowCrossOrigin           bool     `yaml:"allow_cross_origin"`
		// AllowedOrigins restricts CORS to the listed origins. Empty
		// means any origin when allow_cross_origin is on.
		AllowedOrigins []string `yaml:"allowed_origins"`
		MaxBodyBytes   int64    `yaml:"max_body_bytes"`
	} `yaml:"relay"`

	Logging struct {
		DisableAccessLog bool   `yaml:"disable_access_log"`
		AccessLogPath    string `yaml:"access_log_path"`
	} `yaml:"logging"`

	TrafficDump struct {
		Enabled  bool   `yaml:"enabled"`
		Dir      string `yaml:"dir"`
		MaxBytes int    `yaml:"max_bytes"`
	} `yaml:"traffic_dump"`
}

// Load reads, defaults, env-overrides and validates the config file.
// A missing file is legal: everything has a default or an env override.
func Load(path string) (*Config, error) {
	var cfg Config
	p := strings.TrimSpace(path)
	if p != "" {
		// #nosec G304 -- config path comes from trusted flag.
		b, err := os.ReadFile(p)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, err
			}
		}
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = ":8787"
	}
	if cfg.Server.ReadTimeoutMs <= 0 {
		cfg.Server.ReadTimeoutMs = 60000
	}
	if cfg.Server.WriteTimeoutMs <= 0 {
		cfg.Server.WriteTimeoutMs = 60000
	}
	if strings.TrimSpace(cfg.Upstream.BaseURL) == "" {
		cfg.Upstream.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if strings.TrimSpace(cfg.Upstream.Model) == "" {
		cfg.Upstream.Model = "gemini-2.0-flash"
	}
	if cfg.Upstream.TimeoutMs <= 0 {
		cfg.Upstream.TimeoutMs = 30000
	}
	if len(cfg.Relay.AcceptedShapes) == 0 {
		cfg.Relay.AcceptedShapes = []string{ShapePrompt, ShapeDeviceCompare, ShapeContents}
	}
	if cfg.Relay.MaxBodyBytes <= 0 {
		cfg.Relay.MaxBodyBytes = 1 << 20 // 1MB
	}
	if strings.TrimSpace(cfg.TrafficDump.Dir) == "" {
		cfg.TrafficDump.Dir = "./dumps"
	}
	if cfg.TrafficDump.MaxBytes == 0 {
		cfg.TrafficDump.MaxBytes = 256 * 1024
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("GMR_LISTEN")); v != "" {
		cfg.Server.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("GMR_BASE_URL")); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GMR_MODEL")); v != "" {
		cfg.Upstream.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("GMR_UPSTREAM_KEY_FILE")); v != "" {
		cfg.Upstream.KeyFile = v
	}
	if v := strings.TrimSpace(os.Getenv("GMR_UPSTREAM_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Upstream.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GMR_ACCEPTED_SHAPES")); v != "" {
		shapes := []string{}
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				shapes = append(shapes, s)
			}
		}
		if len(shapes) > 0 {
			cfg.Relay.AcceptedShapes = shapes
		}
	}
	cfg.Relay.AllowCrossOrigin = envBool("GMR_ALLOW_CROSS_ORIGIN", cfg.Relay.AllowCrossOrigin)
	cfg.Relay.ExposeUpstreamErrorDetails = envBool("GMR_EXPOSE_UPSTREAM_ERROR_DETAILS", cfg.Relay.ExposeUpstreamErrorDetails)
	cfg.TrafficDump.Enabled = envBool("GMR_DUMP_ENABLED", cfg.TrafficDump.Enabled)
	if v := strings.TrimSpace(os.Getenv("GMR_DUMP_DIR")); v != "" {
		cfg.TrafficDump.Dir = v
	}
	// GMR_UPSTREAM_KEY is read by credstore, not here: keeping the secret
	// out of the Config value keeps it out of config dumps and errors.
}

func validate(cfg *Config) error {
	for _, s := range cfg.Relay.AcceptedShapes {
		switch s {
		case ShapePrompt, ShapeDeviceCompare, ShapeContents:
		default:
			return fmt.Errorf("relay.accepted_shapes: unknown shape %q", s)
		}
	}
	if cfg.TrafficDump.MaxBytes < 0 {
		return errors.New("traffic_dump.max_bytes must be non-negative")
	}
	if !strings.HasPrefix(cfg.Upstream.BaseURL, "http://") && !strings.HasPrefix(cfg.Upstream.BaseURL, "https://") {
		return fmt.Errorf("upstream.base_url must be an http(s) URL, got %q", cfg.Upstream.BaseURL)
	}
	return nil
}

// ShapeAccepted reports whether the given shape is enabled.
func (c *Config) ShapeAccepted(shape string) bool {
	for _, s := range c.Relay.AcceptedShapes {
		if s == shape {
			return true
		}
	}
	return false
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
