package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"golang.org/x/crypto/bcrypt"
)

// Deployment modes. Unsigned Linear webhooks are only accepted outside production.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// Config represents the application configuration
type Config struct {
	Mode string `koanf:"mode"`

	Server struct {
		Addr            string        `koanf:"addr"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
		BodyLimit       string        `koanf:"body_limit"`
		// AdminKeyHash is a bcrypt hash guarding /api/v1. Empty disables the API.
		AdminKeyHash    string        `koanf:"admin_key_hash"`
	} `koanf:"server"`

	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`

	Brand struct {
		Name      string `koanf:"name"`
		Token     string `koanf:"token"`
		Signature string `koanf:"signature"`
	} `koanf:"brand"`

	Commands []string `koanf:"commands"`

	Limits Limits `koanf:"limits"`

	Reasoning struct {
		URL     string        `koanf:"url"`
		APIKey  string        `koanf:"api_key"`
		Timeout time.Duration `koanf:"timeout"`
		Retries int           `koanf:"retries"`
	} `koanf:"reasoning"`

	Local struct {
		Backend string        `koanf:"backend"`
		Model   string        `koanf:"model"`
		BaseURL string        `koanf:"base_url"`
		APIKey  string        `koanf:"api_key"`
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"local"`

	Database struct {
		Driver string `koanf:"driver"`
		DSN    string `koanf:"dsn"`
	} `koanf:"database"`

	Queue struct {
		Driver  string `koanf:"driver"`
		DSN     string `koanf:"dsn"`
		Workers int    `koanf:"workers"`
	} `koanf:"queue"`

	Artifacts struct {
		Endpoint  string `koanf:"endpoint"`
		AccessKey string `koanf:"access_key"`
		SecretKey string `koanf:"secret_key"`
		Bucket    string `koanf:"bucket"`
		UseSSL    bool   `koanf:"use_ssl"`
	} `koanf:"artifacts"`

	Platforms struct {
		Enabled   []string `koanf:"enabled"`
		RateLimit float64  `koanf:"rate_limit"`
		Burst     int      `koanf:"burst"`

		// JiraContextPath is the mount prefix stripped before Connect qsh checks.
		JiraContextPath string `koanf:"jira_context_path"`
	} `koanf:"platforms"`
}

// Limits caps every artifact that goes into a reasoning payload.
type Limits struct {
	MaxHistory     int  `koanf:"max_history"`
	MaxBodyChars   int  `koanf:"max_body_chars"`
	MaxDiffChars   int  `koanf:"max_diff_chars"`
	MaxFiles       int  `koanf:"max_files"`
	MaxFileChars   int  `koanf:"max_file_chars"`
	MaxSelectors   int  `koanf:"max_selectors"`
	MaxCommits     int  `koanf:"max_commits"`
	FetchFiles     bool `koanf:"fetch_files"`
	MaxCommentSize int  `koanf:"max_comment_size"`
	RedactSecrets  bool `koanf:"redact_secrets"`
}

// Defaults returns the built-in configuration values.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"mode":                    ModeProduction,
		"server.addr":             ":8888",
		"server.shutdown_timeout": "10s",
		"server.body_limit":       "5M",
		"log.level":               "info",
		"log.format":              "json",
		"brand.name":              "RecipeBot",
		"brand.token":             "recipebot",
		"brand.signature":         "Generated by RecipeBot",
		"commands":                []string{"/recipe", "/test-recipe", "@recipebot recipe"},
		"limits.max_history":      100,
		"limits.max_body_chars":   8000,
		"limits.max_diff_chars":   60000,
		"limits.max_files":        5,
		"limits.max_file_chars":   12000,
		"limits.max_selectors":    50,
		"limits.max_commits":      50,
		"limits.fetch_files":      false,
		"limits.max_comment_size": 60000,
		"limits.redact_secrets":   true,
		"reasoning.timeout":       "90s",
		"reasoning.retries":       2,
		"local.backend":           "ollama",
		"local.model":             "llama3.1",
		"local.base_url":          "http://localhost:11434",
		"local.timeout":           "60s",
		"database.driver":         "sqlite",
		"database.dsn":            "file:recipebot.db",
		"queue.driver":            "goroutine",
		"queue.workers":           4,
		"artifacts.bucket":        "recipebot-analyses",
		"platforms.enabled":       []string{"github", "gitlab", "jira", "linear"},
		"platforms.rate_limit":    5.0,
		"platforms.burst":         10,
	}
}

// LoadConfig loads the configuration from defaults, a TOML file and the environment
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./data/recipebot.toml", "./recipebot.toml", "$HOME/.recipebot.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// RECIPEBOT_DATABASE__DSN -> database.dsn
	if err := k.Load(env.Provider("RECIPEBOT_", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, "RECIPEBOT_")
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// InitConfig writes a sample configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# RecipeBot Configuration

mode = "production"

[server]
addr = ":8888"
# bcrypt hash of the key accepted by /api/v1 (recipebot config hash-key)
# admin_key_hash = ""

[log]
level = "info"
format = "json"

[reasoning]
url = "https://reasoning.example.com/v1/analyze"
api_key = "your-reasoning-api-key"
timeout = "90s"
retries = 2

[local]
backend = "ollama"       # ollama | openai
model = "llama3.1"
base_url = "http://localhost:11434"
timeout = "60s"

[database]
driver = "sqlite"        # sqlite | postgres
dsn = "file:recipebot.db"

[queue]
driver = "goroutine"     # goroutine | river
workers = 4

[platforms]
enabled = ["github", "gitlab", "jira", "linear"]
rate_limit = 5.0
burst = 10
# jira_context_path = "/recipebot"

[artifacts]
# endpoint = "localhost:9000"
# access_key = ""
# secret_key = ""
bucket = "recipebot-analyses"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	var errs []error

	switch config.Mode {
	case ModeProduction, ModeDevelopment:
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeProduction, ModeDevelopment, config.Mode))
	}

	if len(config.Commands) == 0 {
		errs = append(errs, errors.New("at least one trigger command is required"))
	}
	if strings.TrimSpace(config.Brand.Token) == "" {
		errs = append(errs, errors.New("brand token is required"))
	}
	if strings.TrimSpace(config.Brand.Signature) == "" {
		errs = append(errs, errors.New("brand signature is required"))
	}

	if config.Server.AdminKeyHash != "" {
		if _, err := bcrypt.Cost([]byte(config.Server.AdminKeyHash)); err != nil {
			errs = append(errs, fmt.Errorf("server.admin_key_hash is not a bcrypt hash: %w", err))
		}
	}

	switch config.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", config.Database.Driver))
	}

	switch config.Queue.Driver {
	case "goroutine":
	case "river":
		if config.Queue.DSN == "" && config.Database.Driver != "postgres" {
			errs = append(errs, errors.New("river queue requires a postgres dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported queue driver %q", config.Queue.Driver))
	}

	switch config.Local.Backend {
	case "ollama", "openai", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported local backend %q", config.Local.Backend))
	}

	for _, p := range config.Platforms.Enabled {
		switch p {
		case "github", "gitlab", "jira", "linear":
		default:
			errs = append(errs, fmt.Errorf("unknown platform %q in platforms.enabled", p))
		}
	}

	if config.Limits.MaxHistory <= 0 {
		errs = append(errs, errors.New("limits.max_history must be positive"))
	}
	if config.Reasoning.Timeout <= 0 {
		errs = append(errs, errors.New("reasoning.timeout must be positive"))
	}

	return errors.Join(errs...)
}
