package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root dbvault configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Backup   BackupConfig   `mapstructure:"backup" yaml:"backup"`
	Cloud    CloudConfig    `mapstructure:"cloud" yaml:"cloud"`
	Native   NativeConfig   `mapstructure:"native" yaml:"native"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the application database connection.
type DatabaseConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Name     string `mapstructure:"name" yaml:"name"`
	SSLMode  string `mapstructure:"ssl_mode" yaml:"ssl_mode"`

	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// DSN builds the postgres connection string.
func (dc *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dc.Host, dc.Port, dc.User, dc.Password, dc.Name, dc.SSLMode)
}

// BackupConfig configures the backup engine, scheduler and retention.
type BackupConfig struct {
	Directory     string `mapstructure:"directory" yaml:"directory"`
	DefaultTenant string `mapstructure:"default_tenant" yaml:"default_tenant"`

	Compression CompressionConfig `mapstructure:"compression" yaml:"compression"`
	Encryption  EncryptionConfig  `mapstructure:"encryption" yaml:"encryption"`

	ScanInterval    time.Duration `mapstructure:"scan_interval" yaml:"scan_interval"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule" yaml:"cleanup_schedule"`

	SafetyBackupTimeout time.Duration `mapstructure:"safety_backup_timeout" yaml:"safety_backup_timeout"`

	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
	MaxBackups    int `mapstructure:"max_backups" yaml:"max_backups"`
}

// CompressionConfig defines artifact compression settings.
type CompressionConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm"`
	Level     int    `mapstructure:"level" yaml:"level"`
}

// EncryptionConfig defines artifact encryption settings.
type EncryptionConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	KeySource string `mapstructure:"key_source" yaml:"key_source"`
	KeyPath   string `mapstructure:"key_path" yaml:"key_path"`
	KeyEnvVar string `mapstructure:"key_env_var" yaml:"key_env_var"`
}

// CloudConfig configures the offsite object store.
type CloudConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Provider string `mapstructure:"provider" yaml:"provider"`

	SyncInterval  time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
	SyncBatchSize int           `mapstructure:"sync_batch_size" yaml:"sync_batch_size"`
	KeyPrefix     string        `mapstructure:"key_prefix" yaml:"key_prefix"`

	S3    *S3Config    `mapstructure:"s3,omitempty" yaml:"s3,omitempty"`
	GCS   *GCSConfig   `mapstructure:"gcs,omitempty" yaml:"gcs,omitempty"`
	Azure *AzureConfig `mapstructure:"azure,omitempty" yaml:"azure,omitempty"`
}

// S3Config for Amazon S3 and S3-compatible storage.
type S3Config struct {
	Bucket         string `mapstructure:"bucket" yaml:"bucket"`
	Region         string `mapstructure:"region" yaml:"region"`
	AccessKey      string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey      string `mapstructure:"secret_key" yaml:"secret_key"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// GCSConfig for Google Cloud Storage.
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
}

// AzureConfig for Azure Blob Storage.
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
}

// NativeConfig configures the pg_dump adapter.
type NativeConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	PgDumpPath string `mapstructure:"pg_dump_path" yaml:"pg_dump_path"`
	OutputDir  string `mapstructure:"output_dir" yaml:"output_dir"`

	DailyTime     string `mapstructure:"daily_time" yaml:"daily_time"`
	WeeklyDay     int    `mapstructure:"weekly_day" yaml:"weekly_day"`
	MonthlyDay    int    `mapstructure:"monthly_day" yaml:"monthly_day"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
	MaxDumps      int    `mapstructure:"max_dumps" yaml:"max_dumps"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	ShowCaller bool   `mapstructure:"show_caller" yaml:"show_caller"`
}

// SetDefaults fills zero-valued fields with sensible defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "postgres"
	}
	if c.Database.Name == "" {
		c.Database.Name = "dbvault"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}

	if c.Backup.Directory == "" {
		c.Backup.Directory = "./backups"
	}
	if c.Backup.DefaultTenant == "" {
		c.Backup.DefaultTenant = "default"
	}
	if c.Backup.Compression.Algorithm == "" {
		c.Backup.Compression.Algorithm = "gzip"
		c.Backup.Compression.Enabled = true
	}
	if c.Backup.Compression.Level == 0 {
		c.Backup.Compression.Level = 6
	}
	if c.Backup.Encryption.KeySource == "" {
		c.Backup.Encryption.KeySource = "env"
	}
	if c.Backup.Encryption.KeyEnvVar == "" {
		c.Backup.Encryption.KeyEnvVar = "DBVAULT_ENCRYPTION_KEY"
	}
	if c.Backup.ScanInterval == 0 {
		c.Backup.ScanInterval = 5 * time.Minute
	}
	if c.Backup.CleanupSchedule == "" {
		c.Backup.CleanupSchedule = "0 3 * * *"
	}
	if c.Backup.SafetyBackupTimeout == 0 {
		c.Backup.SafetyBackupTimeout = 60 * time.Second
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 30
	}
	if c.Backup.MaxBackups == 0 {
		c.Backup.MaxBackups = 10
	}

	if c.Cloud.Provider == "" {
		c.Cloud.Provider = "s3"
	}
	if c.Cloud.SyncInterval == 0 {
		c.Cloud.SyncInterval = time.Hour
	}
	if c.Cloud.SyncBatchSize == 0 {
		c.Cloud.SyncBatchSize = 10
	}
	if c.Cloud.KeyPrefix == "" {
		c.Cloud.KeyPrefix = "backups"
	}

	if c.Native.PgDumpPath == "" {
		c.Native.PgDumpPath = "pg_dump"
	}
	if c.Native.OutputDir == "" {
		c.Native.OutputDir = "./backups/native"
	}
	if c.Native.DailyTime == "" {
		c.Native.DailyTime = "02:00"
	}
	if c.Native.MonthlyDay == 0 {
		c.Native.MonthlyDay = 1
	}
	if c.Native.RetentionDays == 0 {
		c.Native.RetentionDays = 30
	}
	if c.Native.MaxDumps == 0 {
		c.Native.MaxDumps = 10
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "normal"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: invalid port %d", c.Server.Port))
	}

	if c.Database.Host == "" {
		errs = append(errs, "database: host is required")
	}
	if c.Database.Name == "" {
		errs = append(errs, "database: name is required")
	}

	switch strings.ToLower(c.Backup.Compression.Algorithm) {
	case "", "none", "gzip", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Sprintf("backup: unsupported compression algorithm %q", c.Backup.Compression.Algorithm))
	}
	if c.Backup.RetentionDays < 0 {
		errs = append(errs, "backup: retention_days cannot be negative")
	}
	if c.Backup.MaxBackups < 0 {
		errs = append(errs, "backup: max_backups cannot be negative")
	}

	if c.Cloud.Enabled {
		switch c.Cloud.Provider {
		case "s3":
			if c.Cloud.S3 == nil {
				errs = append(errs, "cloud: s3 provider selected but s3 section missing")
			} else {
				if c.Cloud.S3.Bucket == "" {
					errs = append(errs, "cloud: s3 bucket is required")
				}
				if c.Cloud.S3.AccessKey == "" || c.Cloud.S3.SecretKey == "" {
					errs = append(errs, "cloud: s3 credentials are required")
				}
			}
		case "gcs":
			if c.Cloud.GCS == nil || c.Cloud.GCS.Bucket == "" {
				errs = append(errs, "cloud: gcs bucket is required")
			}
		case "azure":
			if c.Cloud.Azure == nil || c.Cloud.Azure.AccountName == "" || c.Cloud.Azure.ContainerName == "" {
				errs = append(errs, "cloud: azure account_name and container_name are required")
			}
		default:
			errs = append(errs, fmt.Sprintf("cloud: unsupported provider %q", c.Cloud.Provider))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadFromEnvironment overrides configuration from DBVAULT_* variables.
func (c *Config) LoadFromEnvironment() {
	if v := os.Getenv("DBVAULT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DBVAULT_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DBVAULT_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("DBVAULT_DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DBVAULT_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DBVAULT_DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("DBVAULT_BACKUP_DIR"); v != "" {
		c.Backup.Directory = v
	}
	if v := os.Getenv("DBVAULT_CLOUD_ENABLED"); v != "" {
		c.Cloud.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DBVAULT_S3_ACCESS_KEY"); v != "" {
		if c.Cloud.S3 == nil {
			c.Cloud.S3 = &S3Config{}
		}
		c.Cloud.S3.AccessKey = v
	}
	if v := os.Getenv("DBVAULT_S3_SECRET_KEY"); v != "" {
		if c.Cloud.S3 == nil {
			c.Cloud.S3 = &S3Config{}
		}
		c.Cloud.S3.SecretKey = v
	}
	if v := os.Getenv("DBVAULT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// EncryptionKey resolves the encryption key bytes from the configured
// source. Returns nil when encryption is not configured.
func (c *Config) EncryptionKey() ([]byte, error) {
	ec := c.Backup.Encryption
	switch ec.KeySource {
	case "env":
		key := os.Getenv(ec.KeyEnvVar)
		if key == "" {
			return nil, nil
		}
		return []byte(key), nil
	case "file":
		if ec.KeyPath == "" {
			return nil, fmt.Errorf("encryption key_source is file but key_path is empty")
		}
		data, err := os.ReadFile(ec.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read encryption key file: %w", err)
		}
		return []byte(strings.TrimSpace(string(data))), nil
	default:
		return nil, fmt.Errorf("unsupported encryption key_source %q", ec.KeySource)
	}
}

// Load reads configuration from the given file (optional), environment
// and defaults, in increasing precedence of file < env.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("dbvault")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.dbvault")
		v.AddConfigPath("/etc/dbvault")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	cfg.LoadFromEnvironment()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
