package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config represents ~/.pulse/config.toml.
type Config struct {
	DefaultInstance string `toml:"default_instance" validate:"omitempty,max=64"`

	Server   Server   `toml:"server"`
	Store    Store    `toml:"store"`
	Auth     Auth     `toml:"auth"`
	Messages Messages `toml:"messages"`
	Notify   Notify   `toml:"notify"`
	Mail     Mail     `toml:"mail"`
	Log      Log      `toml:"log"`
}

type Server struct {
	// HTTPAddr serves the websocket gateway, notification API, health and metrics.
	HTTPAddr       string        `toml:"http_addr" validate:"required,hostname_port"`
	AdminSocket    string        `toml:"admin_socket"`
	SendQueue      int           `toml:"send_queue" validate:"min=1,max=65536"`
	PresenceQueue  int           `toml:"presence_queue" validate:"min=1"`
	PingInterval   time.Duration `toml:"ping_interval" validate:"min=0"`
	WriteTimeout   time.Duration `toml:"write_timeout" validate:"min=0"`
	AllowedOrigins []string      `toml:"allowed_origins"`
}

type Store struct {
	// Path overrides the database location inside the instance directory.
	Path string `toml:"path"`
}

type Auth struct {
	// An empty secret disables token checks; the register event is trusted.
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
}

type Messages struct {
	EditWindow  time.Duration `toml:"edit_window" validate:"min=0"`
	FanoutLimit int           `toml:"fanout_limit" validate:"min=1,max=1024"`
}

type Notify struct {
	EmailOffline bool `toml:"email_offline"`
}

type Mail struct {
	Host         string        `toml:"host" validate:"required_with=Username"`
	Port         int           `toml:"port" validate:"min=0,max=65535"`
	Username     string        `toml:"username"`
	Password     string        `toml:"password"`
	From         string        `toml:"from" validate:"omitempty,email"`
	PollInterval time.Duration `toml:"poll_interval" validate:"min=0"`
	MaxAttempts  int           `toml:"max_attempts" validate:"min=1"`
}

type Log struct {
	Level string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: Server{
			HTTPAddr:      "127.0.0.1:8787",
			SendQueue:     64,
			PresenceQueue: 256,
			PingInterval:  30 * time.Second,
			WriteTimeout:  10 * time.Second,
		},
		Messages: Messages{
			EditWindow:  10 * time.Minute,
			FanoutLimit: 16,
		},
		Mail: Mail{
			Port:         587,
			PollInterval: 2 * time.Second,
			MaxAttempts:  3,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads config from the given path on top of Default. Returns error if
// the file is missing or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
