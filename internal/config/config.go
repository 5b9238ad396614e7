package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Blob backends
const (
	BlobBackendFileSystem = "filesystem"
	BlobBackendMinIO      = "minio"
)

// Index backends
const (
	IndexBackendSQLite = "sqlite"
	IndexBackendRedis  = "redis"
	IndexBackendTiDB   = "tidb"
	IndexBackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort string `toml:"service_port"`
	ServiceName string `toml:"service_name"`
	LogLevel    string `toml:"log_level"`

	// Storage layout
	DataDir      string `toml:"data_dir"`
	BlobBackend  string `toml:"blob_backend"`
	IndexBackend string `toml:"index_backend"`
	SQLitePath   string `toml:"sqlite_path"`
	ImportDir    string `toml:"import_dir"`

	// Image optimizer
	OptimizeMaxWidth int `toml:"optimize_max_width"`
	OptimizeQuality  int `toml:"optimize_quality"`

	// MinIO configuration
	MinIOEndpoint   string `toml:"minio_endpoint"`
	MinIOAccessKey  string `toml:"minio_access_key"`
	MinIOSecretKey  string `toml:"minio_secret_key"`
	MinIOBucketName string `toml:"minio_bucket_name"`
	MinIOPrefix     string `toml:"minio_prefix"`
	MinIOUseSSL     bool   `toml:"minio_use_ssl"`

	// TiDB configuration
	TiDBHost     string `toml:"tidb_host"`
	TiDBPort     string `toml:"tidb_port"`
	TiDBUser     string `toml:"tidb_user"`
	TiDBPassword string `toml:"tidb_password"`
	TiDBDatabase string `toml:"tidb_database"`

	// Redis configuration
	RedisHost     string `toml:"redis_host"`
	RedisPort     string `toml:"redis_port"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	// Jaeger configuration. Tracing is disabled when empty.
	JaegerEndpoint string `toml:"jaeger_endpoint"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		ServicePort: "8080",
		ServiceName: "photomenu-service",
		LogLevel:    "info",

		DataDir:      "data",
		BlobBackend:  BlobBackendFileSystem,
		IndexBackend: IndexBackendSQLite,

		OptimizeMaxWidth: 2048,
		OptimizeQuality:  80,

		MinIOEndpoint:   "localhost:9000",
		MinIOAccessKey:  "minioadmin",
		MinIOSecretKey:  "minioadmin",
		MinIOBucketName: "photomenu",
		MinIOPrefix:     "photos",

		TiDBHost:     "localhost",
		TiDBPort:     "4000",
		TiDBUser:     "root",
		TiDBDatabase: "photomenu",

		RedisHost: "localhost",
		RedisPort: "6379",
	}
}

// LoadConfig loads configuration from an optional TOML file named by
// PHOTOMENU_CONFIG, then from environment variables. Environment values win.
func LoadConfig() (*Config, error) {
	config := Defaults()

	if path := os.Getenv("PHOTOMENU_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	// Service
	config.ServicePort = getEnv("SERVICE_PORT", config.ServicePort)
	config.ServiceName = getEnv("SERVICE_NAME", config.ServiceName)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)

	// Storage
	config.DataDir = getEnv("DATA_DIR", config.DataDir)
	config.BlobBackend = getEnv("BLOB_BACKEND", config.BlobBackend)
	config.IndexBackend = getEnv("INDEX_BACKEND", config.IndexBackend)
	config.SQLitePath = getEnv("SQLITE_PATH", config.SQLitePath)
	config.ImportDir = getEnv("IMPORT_DIR", config.ImportDir)

	config.OptimizeMaxWidth = getEnvAsInt("OPTIMIZE_MAX_WIDTH", config.OptimizeMaxWidth)
	config.OptimizeQuality = getEnvAsInt("OPTIMIZE_QUALITY", config.OptimizeQuality)

	// MinIO
	config.MinIOEndpoint = getEnv("MINIO_ENDPOINT", config.MinIOEndpoint)
	config.MinIOAccessKey = getEnv("MINIO_ACCESS_KEY", config.MinIOAccessKey)
	config.MinIOSecretKey = getEnv("MINIO_SECRET_KEY", config.MinIOSecretKey)
	config.MinIOBucketName = getEnv("MINIO_BUCKET_NAME", config.MinIOBucketName)
	config.MinIOPrefix = getEnv("MINIO_PREFIX", config.MinIOPrefix)
	config.MinIOUseSSL = getEnvAsBool("MINIO_USE_SSL", config.MinIOUseSSL)

	// TiDB
	config.TiDBHost = getEnv("TIDB_HOST", config.TiDBHost)
	config.TiDBPort = getEnv("TIDB_PORT", config.TiDBPort)
	config.TiDBUser = getEnv("TIDB_USER", config.TiDBUser)
	config.TiDBPassword = getEnv("TIDB_PASSWORD", config.TiDBPassword)
	config.TiDBDatabase = getEnv("TIDB_DATABASE", config.TiDBDatabase)

	// Redis
	config.RedisHost = getEnv("REDIS_HOST", config.RedisHost)
	config.RedisPort = getEnv("REDIS_PORT", config.RedisPort)
	config.RedisPassword = getEnv("REDIS_PASSWORD", config.RedisPassword)
	config.RedisDB = getEnvAsInt("REDIS_DB", config.RedisDB)

	config.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", config.JaegerEndpoint)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks backend names and optimizer bounds.
func (c *Config) Validate() error {
	switch c.BlobBackend {
	case BlobBackendFileSystem, BlobBackendMinIO:
	default:
		return fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
	switch c.IndexBackend {
	case IndexBackendSQLite, IndexBackendRedis, IndexBackendTiDB, IndexBackendMemory:
	default:
		return fmt.Errorf("unknown index backend %q", c.IndexBackend)
	}
	if c.OptimizeQuality < 1 || c.OptimizeQuality > 100 {
		return fmt.Errorf("optimize quality must be between 1 and 100, got %d", c.OptimizeQuality)
	}
	if c.OptimizeMaxWidth < 0 {
		return fmt.Errorf("optimize max width must not be negative, got %d", c.OptimizeMaxWidth)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir must be set")
	}
	return nil
}

// PhotosDir returns the directory holding photo blobs
func (c *Config) PhotosDir() string {
	return filepath.Join(c.DataDir, "photos")
}

// ScratchDir returns the directory for optimizer output and uploads in flight
func (c *Config) ScratchDir() string {
	return filepath.Join(c.DataDir, "scratch")
}

// GetSQLitePath returns the sqlite database path, defaulting under DataDir
func (c *Config) GetSQLitePath() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "photomenu.db")
}

// GetImportDir returns the only directory bulk imports may read from,
// defaulting under DataDir
func (c *Config) GetImportDir() string {
	if c.ImportDir != "" {
		return c.ImportDir
	}
	return filepath.Join(c.DataDir, "import")
}

// GetDSN returns the TiDB connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.TiDBUser,
		c.TiDBPassword,
		c.TiDBHost,
		c.TiDBPort,
		c.TiDBDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetLogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
