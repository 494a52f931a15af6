package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Storage   Storage   `mapstructure:"storage"`
	Ingestion Ingestion `mapstructure:"ingestion"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Retry     Retry     `mapstructure:"retry"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort     string        `mapstructure:"http_port"`     // HTTP address to listen on
	MaxJSONBody  string        `mapstructure:"max_json_body"` // e.g. "64KB"
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	maxJSONBodyBytes int64
}

// MaxJSONBodyBytes returns the parsed JSON body cap.
func (s Server) MaxJSONBodyBytes() int64 { return s.maxJSONBodyBytes }

// Database holds database master and slave configuration.
type Database struct {
	Master DatabaseNode   `mapstructure:"master"`
	Slaves []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Storage holds configuration for the remote object store.
type Storage struct {
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	BucketName    string `mapstructure:"bucket_name"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	Folder        string `mapstructure:"folder"`          // logical namespace for uploaded images
	PublicBaseURL string `mapstructure:"public_base_url"` // base clients fetch objects from
}

// Ingestion holds the image ingestion pipeline limits.
type Ingestion struct {
	MaxUploadSize string        `mapstructure:"max_upload_size"` // e.g. "5MB", binary units
	MaxWidth      int           `mapstructure:"max_width"`       // longest edge in px
	Quality       int           `mapstructure:"quality"`         // JPEG quality 1-100
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`

	maxUploadBytes int64
}

// MaxUploadBytes returns the parsed upload size cap.
func (i Ingestion) MaxUploadBytes() int64 { return i.maxUploadBytes }

// Kafka holds configuration for the image cleanup queue.
type Kafka struct {
	Enabled bool     `mapstructure:"enabled"`
	GroupID string   `mapstructure:"group_id"` // Consumer group ID
	Topic   string   `mapstructure:"topic"`    // Kafka topic name
	Brokers []string `mapstructure:"brokers"`  // List of Kafka broker addresses
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", ":8080")
	v.SetDefault("server.max_json_body", "64KB")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("database.master.port", "5432")
	v.SetDefault("database.master.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("storage.bucket_name", "alterations")
	v.SetDefault("storage.folder", "chitrali-alterations")

	v.SetDefault("ingestion.max_upload_size", "5MB")
	v.SetDefault("ingestion.max_width", 1600)
	v.SetDefault("ingestion.quality", 75)
	v.SetDefault("ingestion.upload_timeout", 30*time.Second)

	v.SetDefault("kafka.topic", "work-item-images")
	v.SetDefault("kafka.group_id", "image-cleanup")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", time.Second)
	v.SetDefault("retry.backoff", 2.0)
}

// bindEnv binds secrets and deployment-specific values to environment variables.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"database.master.host": "DB_HOST",
		"database.master.port": "DB_PORT",
		"database.master.user": "DB_USER",
		"database.master.pass": "DB_PASSWORD",
		"database.master.name": "DB_NAME",
		"storage.endpoint":     "STORAGE_ENDPOINT",
		"storage.access_key":   "STORAGE_ACCESS_KEY",
		"storage.secret_key":   "STORAGE_SECRET_KEY",
		"storage.folder":       "STORAGE_FOLDER",
		"server.http_port":     "HTTP_PORT",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the configuration file at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or is invalid.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Str("path", path).Msg("failed to load config")
	}

	return cfg
}

func (c *Config) validate() error {
	size, err := units.RAMInBytes(c.Ingestion.MaxUploadSize)
	if err != nil {
		return fmt.Errorf("invalid ingestion.max_upload_size: %w", err)
	}
	if size <= 0 {
		return fmt.Errorf("ingestion.max_upload_size must be positive")
	}
	c.Ingestion.maxUploadBytes = size

	body, err := units.RAMInBytes(c.Server.MaxJSONBody)
	if err != nil {
		return fmt.Errorf("invalid server.max_json_body: %w", err)
	}
	if body <= 0 {
		return fmt.Errorf("server.max_json_body must be positive")
	}
	c.Server.maxJSONBodyBytes = body

	if c.Ingestion.MaxWidth <= 0 {
		return fmt.Errorf("ingestion.max_width must be positive")
	}
	if c.Ingestion.Quality < 1 || c.Ingestion.Quality > 100 {
		return fmt.Errorf("ingestion.quality must be within 1..100")
	}
	if c.Ingestion.UploadTimeout <= 0 {
		return fmt.Errorf("ingestion.upload_timeout must be positive")
	}

	if c.Storage.BucketName == "" {
		return fmt.Errorf("storage.bucket_name required")
	}
	c.Storage.Folder = strings.Trim(c.Storage.Folder, "/")
	c.Storage.PublicBaseURL = strings.TrimRight(c.Storage.PublicBaseURL, "/")

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic required when kafka is enabled")
	}

	return nil
}
