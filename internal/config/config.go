package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aretw0/stateful/pkg/adapters/redis"
	"github.com/aretw0/stateful/pkg/cache"
	"github.com/aretw0/stateful/pkg/persistence/middleware"
)

// EnvPrefix prefixes the environment variables that override the file,
// e.g. STATEFUL_STORE_BACKEND.
const EnvPrefix = "STATEFUL"

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config is the configuration of the stateful service and CLI.
type Config struct {
	Cache  cache.Config `mapstructure:"cache"`
	Store  StoreConfig  `mapstructure:"store"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

// StoreConfig selects and configures the passivation store.
type StoreConfig struct {
	// Backend is one of memory, file or redis.
	Backend string      `mapstructure:"backend"`
	Path    string      `mapstructure:"path"`
	Redis   RedisConfig `mapstructure:"redis"`
	// EncryptionKey is a hex-encoded AES-256 key. Empty disables encryption.
	EncryptionKey string `mapstructure:"encryption_key"`
	// FallbackKeys are previous keys still accepted for decryption.
	FallbackKeys []string `mapstructure:"fallback_keys"`
	// MaskFields are patterns of bean fields masked when snapshots are inspected.
	MaskFields []string `mapstructure:"mask_fields"`
}

// RedisConfig configures the redis store and its lock.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	// Lock serializes snapshot access across replicas.
	Lock bool `mapstructure:"lock"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Cache: cache.DefaultConfig(),
		Store: StoreConfig{
			Backend: BackendMemory,
			Path:    ".stateful/snapshots",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: redis.DefaultPrefix,
			},
			MaskFields: []string{"(?i)password", "(?i)token", "(?i)secret"},
		},
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info"},
	}
}

// New returns a viper instance with the defaults registered and environment
// overrides enabled.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every default on v, so that environment variables
// are seen by Unmarshal even for keys absent from the file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("cache.capacity", d.Cache.Capacity)
	v.SetDefault("cache.bulk_passivate", d.Cache.BulkPassivate)
	v.SetDefault("cache.idle_timeout", d.Cache.IdleTimeout)
	v.SetDefault("cache.sweep_interval", d.Cache.SweepInterval)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.redis.addr", d.Store.Redis.Addr)
	v.SetDefault("store.redis.password", d.Store.Redis.Password)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.redis.prefix", d.Store.Redis.Prefix)
	v.SetDefault("store.redis.ttl", d.Store.Redis.TTL)
	v.SetDefault("store.redis.lock", d.Store.Redis.Lock)
	v.SetDefault("store.encryption_key", d.Store.EncryptionKey)
	v.SetDefault("store.fallback_keys", d.Store.FallbackKeys)
	v.SetDefault("store.mask_fields", d.Store.MaskFields)

	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)
}

// Load reads the configuration file at path, when path is not empty, and
// decodes and validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Store.Backend == BackendFile && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path: required by the file backend"))
	}
	if c.Store.Backend == BackendRedis && c.Store.Redis.Addr == "" {
		errs = append(errs, errors.New("store.redis.addr: required by the redis backend"))
	}
	if _, err := c.Store.Encryption(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Encryption decodes the encryption keys. It returns nil when encryption is disabled.
func (s StoreConfig) Encryption() (*middleware.EncryptionConfig, error) {
	if s.EncryptionKey == "" {
		return nil, nil
	}
	active, err := decodeKey("store.encryption_key", s.EncryptionKey)
	if err != nil {
		return nil, err
	}
	cfg := &middleware.EncryptionConfig{ActiveKey: active}
	for i, k := range s.FallbackKeys {
		key, err := decodeKey(fmt.Sprintf("store.fallback_keys[%d]", i), k)
		if err != nil {
			return nil, err
		}
		cfg.FallbackKeys = append(cfg.FallbackKeys, key)
	}
	return cfg, nil
}

func decodeKey(field, s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: not hex: %w", field, err)
	}
	if len(key) != middleware.KeySize {
		return nil, fmt.Errorf("%s: must be %d bytes, got %d", field, middleware.KeySize, len(key))
	}
	return key, nil
}
