// Package config loads service settings from defaults, an optional TOML file
// and FEATURESCOPE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is prepended to every environment variable the service reads.
const EnvPrefix = "FEATURESCOPE_"

// Config holds runtime settings for the service.
type Config struct {
	HTTPAddr       string   `toml:"http_addr"`
	GRPCHealthAddr string   `toml:"grpc_health_addr"`
	LogLevel       string   `toml:"log_level"`
	StorageDir     string   `toml:"storage_dir"`
	UsersFile      string   `toml:"users_file"`
	JWTSecret      string   `toml:"jwt_secret"`
	TokenTTL       Duration `toml:"token_ttl"`
	MaxUploadBytes int64    `toml:"max_upload_bytes"`

	Model    Model    `toml:"model"`
	Database Database `toml:"database"`
	Redis    Redis    `toml:"redis"`
	S3       S3       `toml:"s3"`
}

// Model points at the exported feature extractor and the runtime library.
type Model struct {
	Path         string `toml:"path"`
	MetadataPath string `toml:"metadata_path"`
	RuntimePath  string `toml:"runtime_path"`
}

// Database configures the batch log store.
type Database struct {
	DSN string `toml:"dsn"`
}

// Redis configures the batch log cache.
type Redis struct {
	Addr string `toml:"addr"`
}

// S3 configures optional mirroring of result files. An empty bucket disables it.
type S3 struct {
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// Default returns development defaults.
func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		GRPCHealthAddr: ":50051",
		LogLevel:       "info",
		StorageDir:     "storage",
		UsersFile:      filepath.Join("storage", "users.xml"),
		JWTSecret:      "dev-secret",
		TokenTTL:       Duration{30 * time.Minute},
		MaxUploadBytes: 64 << 20,
		Model: Model{
			Path:         filepath.Join("models", "resnet50_features.onnx"),
			MetadataPath: filepath.Join("models", "resnet50_features.json"),
		},
		Database: Database{
			DSN: "host=postgres user=postgres password=postgres dbname=featurescope port=5432 sslmode=disable",
		},
		Redis: Redis{Addr: "redis:6379"},
		S3:    S3{Region: "us-east-1"},
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when path
// is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"HTTP_ADDR":        &cfg.HTTPAddr,
		"GRPC_HEALTH_ADDR": &cfg.GRPCHealthAddr,
		"LOG_LEVEL":        &cfg.LogLevel,
		"STORAGE_DIR":      &cfg.StorageDir,
		"USERS_FILE":       &cfg.UsersFile,
		"JWT_SECRET":       &cfg.JWTSecret,
		"MODEL_PATH":       &cfg.Model.Path,
		"MODEL_METADATA":   &cfg.Model.MetadataPath,
		"ONNXRUNTIME_LIB":  &cfg.Model.RuntimePath,
		"DATABASE_DSN":     &cfg.Database.DSN,
		"REDIS_ADDR":       &cfg.Redis.Addr,
		"S3_BUCKET":        &cfg.S3.Bucket,
		"S3_REGION":        &cfg.S3.Region,
		"S3_ENDPOINT":      &cfg.S3.Endpoint,
		"S3_ACCESS_KEY":    &cfg.S3.AccessKey,
		"S3_SECRET_KEY":    &cfg.S3.SecretKey,
	}
	for key, dst := range strs {
		if value, ok := lookupValue(lookup, key); ok {
			*dst = value
		}
	}

	if value, ok := lookupValue(lookup, "TOKEN_TTL"); ok {
		ttl, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%sTOKEN_TTL: %w", EnvPrefix, err)
		}
		cfg.TokenTTL = Duration{ttl}
	}
	if value, ok := lookupValue(lookup, "MAX_UPLOAD_BYTES"); ok {
		limit, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_UPLOAD_BYTES: %w", EnvPrefix, err)
		}
		cfg.MaxUploadBytes = limit
	}
	return nil
}

func lookupValue(lookup lookupFunc, key string) (string, bool) {
	value, ok := lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// Validate reports the first missing or out-of-range setting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if strings.TrimSpace(c.StorageDir) == "" {
		errs = append(errs, errors.New("storage_dir is required"))
	}
	if strings.TrimSpace(c.UsersFile) == "" {
		errs = append(errs, errors.New("users_file is required"))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if c.TokenTTL.Duration <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	if strings.TrimSpace(c.Model.Path) == "" || strings.TrimSpace(c.Model.MetadataPath) == "" {
		errs = append(errs, errors.New("model path and metadata_path are required"))
	}
	return errors.Join(errs...)
}

// UploadDir holds archives while they are being processed.
func (c *Config) UploadDir() string { return filepath.Join(c.StorageDir, "uploads") }

// ImagesDir holds per-batch extraction directories.
func (c *Config) ImagesDir() string { return filepath.Join(c.StorageDir, "images") }

// ResultsDir holds per-batch result files.
func (c *Config) ResultsDir() string { return filepath.Join(c.StorageDir, "results") }

// UsesDevSecret reports whether the built-in development secret is still set.
func (c *Config) UsesDevSecret() bool { return c.JWTSecret == Default().JWTSecret }
