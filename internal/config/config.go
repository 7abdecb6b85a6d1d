package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Log       LogConfig        `json:"log"`
	Providers []ProviderConfig `json:"providers"`
	Interview InterviewConfig  `json:"interview"`
	Images    ImagesConfig     `json:"images"`
	Registry  RegistryConfig   `json:"registry"`
	Gateway   GatewayConfig    `json:"gateway"`
	Database  DatabaseConfig   `json:"database"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // console|json
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"` // openai|anthropic|gemini
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
	Timeout  Duration          `json:"timeout,omitempty"`
}

// InterviewConfig holds the defaults applied to new agent configs.
type InterviewConfig struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	SmallModel    string `json:"small_model"`
	LargeModel    string `json:"large_model"`
	VoiceEndpoint string `json:"voice_endpoint"`
	DefaultMode   string `json:"default_mode"`
}

type ImagesConfig struct {
	FalKey         string   `json:"fal_key"`
	FalEndpoint    string   `json:"fal_endpoint"`
	OpenAIKey      string   `json:"openai_key"`
	OpenAIEndpoint string   `json:"openai_endpoint"`
	Timeout        Duration `json:"timeout,omitempty"`
}

type RegistryConfig struct {
	Type         string `json:"type"` // builtin|hub
	URL          string `json:"url"`
	OfficialOnly bool   `json:"official_only"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	SQLite   SQLiteConfig   `json:"sqlite"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
	// Migrations overrides the embedded schema with a directory of *.up.sql files.
	Migrations string `json:"migrations"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

// Duration decodes either a Go duration string ("90s") or a number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "" {
			*d = 0
			return nil
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or number: %s", string(b))
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable references
// and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw config bytes after environment substitution.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3210
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Interview.DefaultMode == "" {
		c.Interview.DefaultMode = "interactive"
	}
	if c.Registry.Type == "" {
		c.Registry.Type = "builtin"
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one completion provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		switch p.Type {
		case "openai", "anthropic", "gemini":
		default:
			return fmt.Errorf("provider %s: unknown type %q", p.ID, p.Type)
		}
	}
	if c.Interview.Provider != "" && !seen[c.Interview.Provider] {
		return fmt.Errorf("interview.provider %q is not configured", c.Interview.Provider)
	}
	switch c.Registry.Type {
	case "builtin":
	case "hub":
		if c.Registry.URL == "" {
			return fmt.Errorf("registry.url is required for the hub registry")
		}
	default:
		return fmt.Errorf("unknown registry type %q", c.Registry.Type)
	}
	switch c.Interview.DefaultMode {
	case "interactive", "auto", "edit", "manual":
	default:
		return fmt.Errorf("unknown interview.default_mode %q", c.Interview.DefaultMode)
	}
	return nil
}
