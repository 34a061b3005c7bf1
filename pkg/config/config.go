package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Server     struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBName         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	// SLA maps task priority to the number of hours allowed before the
	// service-level deadline expires. Zero values fall back to the defaults
	// below.
	SLA struct {
		CriticalHours int `mapstructure:"CRITICAL_HOURS"`
		HighHours     int `mapstructure:"HIGH_HOURS"`
		MediumHours   int `mapstructure:"MEDIUM_HOURS"`
		LowHours      int `mapstructure:"LOW_HOURS"`
	} `mapstructure:"SLA"`
	SMTP struct {
		Host     string `mapstructure:"HOST"`
		Port     int    `mapstructure:"PORT"`
		User     string `mapstructure:"USER"`
		Password string `mapstructure:"PASSWORD"`
		From     string `mapstructure:"FROM"`
		Enable   bool   `mapstructure:"ENABLE"`
	} `mapstructure:"SMTP"`
	// LDAP is consumed by the authentication collaborator, not by this
	// service; carried here so a single config file covers both.
	LDAP struct {
		Addr     string `mapstructure:"ADDR"`
		BaseDN   string `mapstructure:"BASE_DN"`
		BindDN   string `mapstructure:"BIND_DN"`
		Password string `mapstructure:"PASSWORD"`
	} `mapstructure:"LDAP"`
	Storage struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"STORAGE"`
	Attachment struct {
		MaxSizeBytes int64    `mapstructure:"MAX_SIZE_BYTES"`
		AllowedMIME  []string `mapstructure:"ALLOWED_MIME"`
	} `mapstructure:"ATTACHMENT"`
	Scheduler struct {
		TickInterval time.Duration `mapstructure:"TICK_INTERVAL"`
	} `mapstructure:"SCHEDULER"`
}

// SLAHours returns the configured per-priority SLA offsets in hours, applying
// the documented defaults for any priority left unset.
func (c *Config) SLAHours() map[string]int {
	hours := map[string]int{
		"critical": 4,
		"high":     24,
		"medium":   48,
		"low":      120,
	}
	if c.SLA.CriticalHours > 0 {
		hours["critical"] = c.SLA.CriticalHours
	}
	if c.SLA.HighHours > 0 {
		hours["high"] = c.SLA.HighHours
	}
	if c.SLA.MediumHours > 0 {
		hours["medium"] = c.SLA.MediumHours
	}
	if c.SLA.LowHours > 0 {
		hours["low"] = c.SLA.LowHours
	}
	return hours
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		zap.L().Warn("no config file found, relying on environment", zap.Error(err))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Scheduler.TickInterval <= 0 {
		cfg.Scheduler.TickInterval = time.Minute
	}

	return &cfg, nil
}
