package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"taskboard/internal/domain"
)

// Config models taskboard.yml.
type Config struct {
	Board   BoardConfig   `yaml:"board" json:"board"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Server  ServerConfig  `yaml:"server" json:"server"`
	// Webhooks receive board events from the sqlite event log.
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks" validate:"dive"`
}

type BoardConfig struct {
	ProximityOffset float64           `yaml:"proximity_offset" json:"proximity_offset" validate:"gte=0"`
	NotificationTTL time.Duration     `yaml:"notification_ttl" json:"notification_ttl" validate:"gt=0"`
	Layout          LayoutConfig      `yaml:"layout" json:"layout"`
	Columns         map[string]string `yaml:"columns" json:"columns" validate:"required"`
}

type LayoutConfig struct {
	Top             float64 `yaml:"top" json:"top" validate:"gte=0"`
	CardHeight      float64 `yaml:"card_height" json:"card_height" validate:"gt=0"`
	IndicatorHeight float64 `yaml:"indicator_height" json:"indicator_height" validate:"gte=0"`
	Gap             float64 `yaml:"gap" json:"gap" validate:"gte=0"`
}

type StorageConfig struct {
	Backend string      `yaml:"backend" json:"backend" validate:"required,oneof=sqlite badger redis memory"`
	Redis   RedisConfig `yaml:"redis" json:"redis"`
	Badger  struct {
		Dir string `yaml:"dir" json:"dir"`
	} `yaml:"badger" json:"badger"`
	Keys struct {
		Cards   string `yaml:"cards" json:"cards" validate:"required"`
		Deleted string `yaml:"deleted" json:"deleted" validate:"required,nefield=Cards"`
	} `yaml:"keys" json:"keys"`
	// Capacity bounds the memory backend in bytes; zero is unbounded.
	Capacity int `yaml:"capacity" json:"capacity" validate:"gte=0"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db" validate:"gte=0"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

type WebhookConfig struct {
	URL     string        `yaml:"url" json:"url" validate:"required,url"`
	Events  []string      `yaml:"events" json:"events,omitempty"`
	Secret  string        `yaml:"secret" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty" validate:"gte=0"`
	Enabled *bool         `yaml:"enabled" json:"enabled,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=console json"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr" json:"addr" validate:"required"`
	BasePath string `yaml:"base_path" json:"base_path"`
	// JWTSecret enables bearer auth on the API when set.
	JWTSecret string `yaml:"jwt_secret" json:"-"`
}

var validate = validator.New()

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, col := range domain.Columns {
		if title, ok := c.Board.Columns[string(col)]; !ok || title == "" {
			return fmt.Errorf("config.board.columns.%s is required", col)
		}
	}
	for key := range c.Board.Columns {
		if !domain.Column(key).Valid() {
			return fmt.Errorf("config.board.columns has unknown column %s", key)
		}
	}
	if c.Storage.Backend == "redis" && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("config.storage.redis.addr is required for the redis backend")
	}
	return nil
}

// ColumnTitle returns the display title of a column.
func (c *Config) ColumnTitle(col domain.Column) string {
	if t, ok := c.Board.Columns[string(col)]; ok && t != "" {
		return t
	}
	return string(col)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskboard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// LoadOptional returns the default config if the workspace has no taskboard.yml.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `board:
  proximity_offset: 50
  notification_ttl: 4500ms
  layout:
    top: 0
    card_height: 48
    indicator_height: 2
    gap: 12
  columns:
    backlog: Backlog
    todo: TODO
    doing: In progress
    done: Complete

storage:
  backend: sqlite
  keys:
    cards: custom_kanban_cards_v1
    deleted: custom_kanban_deleted_v1
  redis:
    addr: ""
    db: 0
    prefix: ""
  badger:
    dir: ""
  capacity: 0

log:
  level: info
  format: console

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""

webhooks: []
`
