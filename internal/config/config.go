package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	S3       S3Config       `mapstructure:"s3"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Booking  BookingConfig  `mapstructure:"booking"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
	// TxTimeout bounds a single transaction attempt (materialization, booking).
	TxTimeout time.Duration `mapstructure:"tx_timeout"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ArchivePrefix   string `mapstructure:"archive_prefix"`
}

// JWTConfig defines JWT specific configuration
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

// LogConfig selects the zap preset ("json" or "console") and the minimum level.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NATSConfig is optional; an empty URL disables event publishing.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// RetryConfig bounds the backoff applied to transient storage failures.
type RetryConfig struct {
	Attempts uint          `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

type ScheduleConfig struct {
	// GraceDays after a scheduled date before a missed execution counts as done
	// for period completion and before an enrollment expires.
	GraceDays int `mapstructure:"grace_days"`
	// LeadDays lets the next period materialize a few days before it starts.
	LeadDays int `mapstructure:"lead_days"`
}

type BookingConfig struct {
	// CancellationNotice is the minimum notice for a cancelled booking to get its credit back.
	CancellationNotice time.Duration `mapstructure:"cancellation_notice"`
	RequireCredit      bool          `mapstructure:"require_credit"`
	MaxRangeDays       int           `mapstructure:"max_range_days"`
}

type ArchiveConfig struct {
	Export bool `mapstructure:"export"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// server.address -> SERVER_ADDRESS, booking.require_credit -> BOOKING_REQUIRE_CREDIT
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	setDefaults(v)

	err = v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil // env vars and defaults are enough
	} else if err != nil {
		return
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("database.uri", "mongodb://localhost:27017/?replicaSet=rs0")
	v.SetDefault("database.name", "coaching_engine")
	v.SetDefault("database.tx_timeout", "10s")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.bucket_name", "")
	v.SetDefault("s3.use_ssl", true)
	v.SetDefault("s3.archive_prefix", "archives")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiration", "1h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("nats.url", "")
	v.SetDefault("retry.attempts", 4)
	v.SetDefault("retry.delay", "50ms")
	v.SetDefault("retry.max_delay", "1s")
	v.SetDefault("schedule.grace_days", 2)
	v.SetDefault("schedule.lead_days", 0)
	v.SetDefault("booking.cancellation_notice", "24h")
	v.SetDefault("booking.require_credit", false)
	v.SetDefault("booking.max_range_days", 62)
	v.SetDefault("archive.export", false)
}
