package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "BLOCKSCAN_"

// listKeys are the only keys whose values are split into lists. Everything
// else, cursors and API keys included, is taken verbatim.
var listKeys = map[string]bool{
	"priority_block_lists": true,
	"priority_allow_lists": true,
}

// Storage backends.
const (
	StorageMemory = "memory"
	StorageBolt   = "bolt"
	StorageRedis  = "redis"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// APIURL is the blocklist descriptor endpoint.
	APIURL string `koanf:"api_url" validate:"required,url"`

	// APIKey is sent as x-api-key when set.
	APIKey string `koanf:"api_key"`

	PriorityBlockLists []string `koanf:"priority_block_lists"`
	PriorityAllowLists []string `koanf:"priority_allow_lists"`

	// Cursor is forwarded verbatim on every descriptor request.
	Cursor string `koanf:"cursor"`

	HTTPTimeout   time.Duration `koanf:"http_timeout" validate:"gt=0"`
	RetryAttempts int           `koanf:"retry_attempts" validate:"gte=1,lte=20"`
	RetryDelay    time.Duration `koanf:"retry_delay" validate:"gte=0"`

	// RefreshInterval drives the background updater; zero disables it.
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gte=0"`

	// Storage selects the snapshot backend: "memory", "bolt" or "redis".
	Storage  string `koanf:"storage" validate:"required,storage_backend"`
	BoltPath string `koanf:"bolt_path" validate:"required_if=Storage bolt"`
	RedisURL string `koanf:"redis_url" validate:"required_if=Storage redis,omitempty,url"`

	// VerdictCacheSize bounds the verdict LRU; zero disables it.
	VerdictCacheSize int `koanf:"verdict_cache_size" validate:"gte=0"`

	// MetricsAddr is the host:port for the Prometheus endpoint; empty disables it.
	MetricsAddr string `koanf:"metrics_addr" validate:"omitempty,listen_addr"`
}

// DEFAULT_APP_CONFIG holds the values used when no environment override is set.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:              "prod",
	LogLevel:         "info",
	APIURL:           "https://api.blowfish.xyz/v0/domains/blocklist",
	HTTPTimeout:      30 * time.Second,
	RetryAttempts:    4,
	RetryDelay:       0,
	RefreshInterval:  5 * time.Minute,
	Storage:          StorageBolt,
	BoltPath:         "/var/lib/rr-blockscan/blocklist.db",
	VerdictCacheSize: 10000,
}

func validStorageBackend(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case StorageMemory, StorageBolt, StorageRedis:
		return true
	}
	return false
}

// validListenAddr accepts "host:port" and ":port". Port 0 picks a free port.
func validListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || port == "" {
		return false
	}
	_, err = strconv.ParseUint(port, 10, 16)
	return err == nil
}

// envLoader loads BLOCKSCAN_* variables, lowercasing keys and splitting list
// values on spaces or commas. Replaceable in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			value = strings.TrimSpace(value)

			if value == "" || !listKeys[key] {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("storage_backend", validStorageBackend); err != nil {
		return err
	}
	return v.RegisterValidation("listen_addr", validListenAddr)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}

// CursorPtr returns the configured cursor, or nil when unset.
func (c *AppConfig) CursorPtr() *string {
	if c.Cursor == "" {
		return nil
	}
	cursor := c.Cursor
	return &cursor
}
