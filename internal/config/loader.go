// Package config loads the service configuration from config.yaml and
// STUDYCLIPS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/studyclips/internal/db"
	"github.com/rpattn/studyclips/internal/ingestion"
	"github.com/rpattn/studyclips/internal/objectstore"
	"github.com/rpattn/studyclips/internal/permission"
)

// EnvPrefix prefixes every environment override, e.g. STUDYCLIPS_DATABASE_HOST.
const EnvPrefix = "STUDYCLIPS"

// Object store drivers.
const (
	DriverFilesystem = "filesystem"
	DriverMinio      = "minio"
)

type ObjectStoreConfig struct {
	Driver    string
	Directory string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Minio converts the section into the minio client settings.
func (c ObjectStoreConfig) Minio() objectstore.MinioConfig {
	return objectstore.MinioConfig{
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Bucket:    c.Bucket,
		UseSSL:    c.UseSSL,
	}
}

type LogConfig struct {
	Format string
	Level  string
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type CacheConfig struct {
	PatternCacheSize int
}

type IngestionConfig struct {
	BatchSize int
}

// Config is the full service configuration.
type Config struct {
	Database    db.Config
	ObjectStore ObjectStoreConfig
	Log         LogConfig
	Server      ServerConfig
	Cache       CacheConfig
	Ingestion   IngestionConfig
}

// Default returns a configuration that runs against a local Postgres and
// stores artifacts on the filesystem.
func Default() Config {
	return Config{
		Database:    db.DefaultConfig(),
		ObjectStore: ObjectStoreConfig{Driver: DriverFilesystem, Bucket: "studyclips"},
		Log:         LogConfig{Format: "json", Level: "info"},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   60 * time.Second,
		},
		Cache:     CacheConfig{PatternCacheSize: permission.DefaultPatternCacheSize},
		Ingestion: IngestionConfig{BatchSize: ingestion.DefaultBatchSize},
	}
}

// Load reads config.yaml from configPath when present and applies
// environment overrides on top of Default. A missing file is not an error.
func Load(configPath string) (Config, error) {
	v := newViper(Default())
	if configPath != "" {
		v.AddConfigPath(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return decode(v)
}

func newViper(defaults Config) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults double as the key set AutomaticEnv can resolve during Unmarshal.
	v.SetDefault("database.host", defaults.Database.Host)
	v.SetDefault("database.port", defaults.Database.Port)
	v.SetDefault("database.user", defaults.Database.User)
	v.SetDefault("database.password", defaults.Database.Password)
	v.SetDefault("database.dbname", defaults.Database.DBName)
	v.SetDefault("database.sslmode", defaults.Database.SSLMode)
	v.SetDefault("database.maxConns", defaults.Database.MaxConns)
	v.SetDefault("database.connectTimeout", defaults.Database.ConnectTimeout)

	v.SetDefault("objectStore.driver", defaults.ObjectStore.Driver)
	v.SetDefault("objectStore.directory", defaults.ObjectStore.Directory)
	v.SetDefault("objectStore.endpoint", defaults.ObjectStore.Endpoint)
	v.SetDefault("objectStore.accessKey", defaults.ObjectStore.AccessKey)
	v.SetDefault("objectStore.secretKey", defaults.ObjectStore.SecretKey)
	v.SetDefault("objectStore.bucket", defaults.ObjectStore.Bucket)
	v.SetDefault("objectStore.useSSL", defaults.ObjectStore.UseSSL)

	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.level", defaults.Log.Level)

	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.allowedOrigins", defaults.Server.AllowedOrigins)
	v.SetDefault("server.readTimeout", defaults.Server.ReadTimeout)
	v.SetDefault("server.writeTimeout", defaults.Server.WriteTimeout)

	v.SetDefault("cache.patternCacheSize", defaults.Cache.PatternCacheSize)
	v.SetDefault("ingestion.batchSize", defaults.Ingestion.BatchSize)
	return v
}

func decode(v *viper.Viper) (Config, error) {
	cfg := Config{
		Database: db.Config{
			Host:           v.GetString("database.host"),
			Port:           v.GetInt("database.port"),
			User:           v.GetString("database.user"),
			Password:       v.GetString("database.password"),
			DBName:         v.GetString("database.dbname"),
			SSLMode:        v.GetString("database.sslmode"),
			MaxConns:       v.GetInt32("database.maxConns"),
			ConnectTimeout: v.GetDuration("database.connectTimeout"),
		},
		Log: LogConfig{
			Format: v.GetString("log.format"),
			Level:  v.GetString("log.level"),
		},
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			AllowedOrigins: v.GetStringSlice("server.allowedOrigins"),
			ReadTimeout:    v.GetDuration("server.readTimeout"),
			WriteTimeout:   v.GetDuration("server.writeTimeout"),
		},
		Cache:     CacheConfig{PatternCacheSize: v.GetInt("cache.patternCacheSize")},
		Ingestion: IngestionConfig{BatchSize: v.GetInt("ingestion.batchSize")},
	}
	cfg.ObjectStore = ObjectStoreConfig{
		Driver:    v.GetString("objectStore.driver"),
		Directory: v.GetString("objectStore.directory"),
		Endpoint:  v.GetString("objectStore.endpoint"),
		AccessKey: v.GetString("objectStore.accessKey"),
		SecretKey: v.GetString("objectStore.secretKey"),
		Bucket:    v.GetString("objectStore.bucket"),
		UseSSL:    v.GetBool("objectStore.useSSL"),
	}

	switch cfg.ObjectStore.Driver {
	case DriverFilesystem:
	case DriverMinio:
		if cfg.ObjectStore.Endpoint == "" || cfg.ObjectStore.Bucket == "" {
			return Config{}, fmt.Errorf("minio object store requires endpoint and bucket")
		}
	default:
		return Config{}, fmt.Errorf("unknown object store driver: %s", cfg.ObjectStore.Driver)
	}
	if cfg.Ingestion.BatchSize <= 0 {
		return Config{}, fmt.Errorf("ingestion.batchSize must be positive")
	}
	return cfg, nil
}
