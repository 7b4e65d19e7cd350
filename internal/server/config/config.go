package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "DRIVE_"

type ServerConfig struct {
	Port             int           `koanf:"port" validate:"min=1,max=65535"`
	BaseURL          string        `koanf:"base-url" validate:"required,url"`
	ReadTimeout      time.Duration `koanf:"read-timeout"`
	WriteTimeout     time.Duration `koanf:"write-timeout"`
	GracefulShutdown time.Duration `koanf:"graceful-shutdown"`
	RateLimitRPS     float64       `koanf:"rate-limit-rps" validate:"gt=0"`
	RateLimitBurst   int           `koanf:"rate-limit-burst" validate:"min=1"`
}

type LoggingConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
	File  string `koanf:"file"`
}

type DBConfig struct {
	Driver         string `koanf:"driver" validate:"oneof=postgres memory"`
	DataSource     string `koanf:"data-source" validate:"required_if=Driver postgres"`
	MaxConns       int32  `koanf:"max-conns" validate:"min=1"`
	ConnectRetries uint64 `koanf:"connect-retries"`
}

type AuthConfig struct {
	Mode      string `koanf:"mode" validate:"oneof=jwt oidc"`
	JWTSecret string `koanf:"jwt-secret" validate:"required_if=Mode jwt"`
	Issuer    string `koanf:"issuer" validate:"required_if=Mode oidc"`
	ClientID  string `koanf:"client-id" validate:"required_if=Mode oidc"`
}

type S3Config struct {
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	Endpoint  string `koanf:"endpoint"`
	PathStyle bool   `koanf:"path-style"`
	AccessKey string `koanf:"access-key"`
	SecretKey string `koanf:"secret-key"`
}

type StorageConfig struct {
	Driver           string        `koanf:"driver" validate:"oneof=fs s3"`
	Path             string        `koanf:"path" validate:"required_if=Driver fs"`
	SigningSecret    string        `koanf:"signing-secret" validate:"required_if=Driver fs"`
	S3               S3Config      `koanf:"s3"`
	UploadTTL        time.Duration `koanf:"upload-ttl" validate:"gt=0"`
	OwnerDownloadTTL time.Duration `koanf:"owner-download-ttl" validate:"gt=0"`
	ShareDownloadTTL time.Duration `koanf:"share-download-ttl" validate:"gt=0"`
	VerifyUploads    bool          `koanf:"verify-uploads"`
}

type CacheConfig struct {
	MaxSize   int           `koanf:"max-size" validate:"min=0"`
	RedisAddr string        `koanf:"redis-addr"`
	RedisPass string        `koanf:"redis-pass"`
	ShareTTL  time.Duration `koanf:"share-ttl"`
}

type CleanupConfig struct {
	Enable           bool          `koanf:"enable"`
	Schedule         string        `koanf:"schedule" validate:"required_if=Enable true"`
	PendingUploadTTL time.Duration `koanf:"pending-upload-ttl" validate:"gt=0"`
	PurgeBatch       int           `koanf:"purge-batch" validate:"min=1"`
}

// Config is the complete server configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Log     LoggingConfig `koanf:"log"`
	DB      DBConfig      `koanf:"db"`
	Auth    AuthConfig    `koanf:"auth"`
	Storage StorageConfig `koanf:"storage"`
	Cache   CacheConfig   `koanf:"cache"`
	Cleanup CleanupConfig `koanf:"cleanup"`
}

// Load reads defaults, then the optional config file, then DRIVE_* environment
// variables. Nested keys use a double underscore: DRIVE_DB__DATA_SOURCE.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultConfig, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct-level constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Storage.Driver == "s3" && cfg.Storage.S3.Bucket == "" {
		return fmt.Errorf("invalid config: storage.s3.bucket is required for the s3 driver")
	}
	return nil
}

// envKey maps DRIVE_STORAGE__S3__BUCKET to storage.s3.bucket and
// DRIVE_DB__DATA_SOURCE to db.data-source.
func envKey(k, v string) (string, interface{}) {
	k = strings.ToLower(strings.TrimPrefix(k, envPrefix))
	parts := strings.Split(k, "__")
	for i := range parts {
		parts[i] = strings.ReplaceAll(parts[i], "_", "-")
	}
	return strings.Join(parts, "."), v
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
}
