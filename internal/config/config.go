// Package config loads the application configuration from file and environment
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mrcode/glycemia/internal/models"
	"github.com/mrcode/glycemia/internal/prediction"
)

// EnvPrefix is the prefix of environment variable overrides (GLYCEMIA_USER_ICR, ...)
const EnvPrefix = "GLYCEMIA"

// Config represents the complete application configuration
type Config struct {
	User          models.UserModelParameters `mapstructure:"user"`
	Safety        models.SafetyLimits        `mapstructure:"safety"`
	Prediction    PredictionConfig           `mapstructure:"prediction"`
	Events        EventsConfig               `mapstructure:"events"`
	Logging       LoggingConfig              `mapstructure:"logging"`
	Nightscout    NightscoutConfig           `mapstructure:"nightscout"`
	Notifications NotificationsConfig        `mapstructure:"notifications"`
	Watch         WatchConfig                `mapstructure:"watch"`
}

// PredictionConfig holds time series and alert settings
type PredictionConfig struct {
	Resolution     time.Duration `mapstructure:"resolution"`
	Horizon        time.Duration `mapstructure:"horizon"`
	HypoThreshold  float64       `mapstructure:"hypo_threshold"`
	HyperThreshold float64       `mapstructure:"hyper_threshold"`
	UrgentLow      float64       `mapstructure:"urgent_low"`
	UrgentHigh     float64       `mapstructure:"urgent_high"`
	Workers        int           `mapstructure:"workers"` // 0 = GOMAXPROCS
}

// AlertThresholds returns the alert thresholds of the prediction config
func (p PredictionConfig) AlertThresholds() prediction.AlertThresholds {
	return prediction.AlertThresholds{
		Hypo:       p.HypoThreshold,
		Hyper:      p.HyperThreshold,
		UrgentLow:  p.UrgentLow,
		UrgentHigh: p.UrgentHigh,
	}
}

// EventsConfig holds the local event log location
type EventsConfig struct {
	File string `mapstructure:"file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NightscoutConfig holds the Nightscout connection
type NightscoutConfig struct {
	URL       string        `mapstructure:"url"`
	APISecret string        `mapstructure:"api_secret"`
	APIToken  string        `mapstructure:"api_token"`
	UseToken  bool          `mapstructure:"use_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Hours     int           `mapstructure:"hours"` // History fetched per refresh
}

// Enabled returns true if a Nightscout URL is configured
func (n NightscoutConfig) Enabled() bool {
	return n.URL != ""
}

// NotificationsConfig holds desktop notification settings
type NotificationsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RepeatMinutes int    `mapstructure:"repeat_minutes"`
	Unit          string `mapstructure:"unit"`
	MinSeverity   string `mapstructure:"min_severity"`
}

// WatchConfig holds the background watch loop settings
type WatchConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
}

// Load reads configuration from an optional file and environment variables.
// An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the default configuration, ignoring the environment
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// User model defaults
	v.SetDefault("user.icr", models.DefaultICR)
	v.SetDefault("user.correction_factor", models.DefaultCorrectionFactor)
	v.SetDefault("user.target_bsl", models.DefaultTargetBSL)
	v.SetDefault("user.body_weight_kg", models.DefaultBodyWeightKg)

	// Safety defaults
	safety := models.DefaultSafetyLimits()
	v.SetDefault("safety.max_single_dose", safety.MaxSingleDose)
	v.SetDefault("safety.hypo_floor", safety.HypoFloor)
	v.SetDefault("safety.low_bsl_threshold", safety.LowBSLThreshold)
	v.SetDefault("safety.correction_threshold", safety.CorrectionThreshold)
	v.SetDefault("safety.max_correction", safety.MaxCorrection)
	v.SetDefault("safety.dose_increment", safety.DoseIncrement)

	// Prediction defaults
	thresholds := prediction.DefaultAlertThresholds()
	v.SetDefault("prediction.resolution", "5m")
	v.SetDefault("prediction.horizon", "4h")
	v.SetDefault("prediction.hypo_threshold", thresholds.Hypo)
	v.SetDefault("prediction.hyper_threshold", thresholds.Hyper)
	v.SetDefault("prediction.urgent_low", thresholds.UrgentLow)
	v.SetDefault("prediction.urgent_high", thresholds.UrgentHigh)
	v.SetDefault("prediction.workers", 0)

	v.SetDefault("events.file", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Nightscout defaults
	v.SetDefault("nightscout.url", "")
	v.SetDefault("nightscout.api_secret", "")
	v.SetDefault("nightscout.api_token", "")
	v.SetDefault("nightscout.use_token", false)
	v.SetDefault("nightscout.timeout", "10s")
	v.SetDefault("nightscout.hours", 24)

	// Notification defaults
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.repeat_minutes", 15)
	v.SetDefault("notifications.unit", models.UnitMmolL)
	v.SetDefault("notifications.min_severity", models.SeverityAlert)

	// Watch defaults
	v.SetDefault("watch.interval", "5m")
	v.SetDefault("watch.cache_ttl", "1m")
	v.SetDefault("watch.metrics_addr", ":9464")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if err := c.User.Validate(); err != nil {
		return fmt.Errorf("user: %w", err)
	}
	if err := c.Safety.Validate(); err != nil {
		return fmt.Errorf("safety: %w", err)
	}

	// Validate Prediction config
	if c.Prediction.Resolution < time.Minute {
		return fmt.Errorf("prediction.resolution must be at least 1 minute")
	}
	if c.Prediction.Horizon <= 0 || c.Prediction.Horizon > 48*time.Hour {
		return fmt.Errorf("prediction.horizon must be between 0 and 48h")
	}
	if c.Prediction.HypoThreshold <= 0 || c.Prediction.HypoThreshold >= c.Prediction.HyperThreshold {
		return fmt.Errorf("prediction.hypo_threshold must be positive and below prediction.hyper_threshold")
	}
	if c.Prediction.UrgentLow > c.Prediction.HypoThreshold || c.Prediction.UrgentHigh < c.Prediction.HyperThreshold {
		return fmt.Errorf("prediction urgent levels must lie outside the hypo/hyper thresholds")
	}
	if c.Prediction.Workers < 0 {
		return fmt.Errorf("prediction.workers must not be negative")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Validate Nightscout config
	if c.Nightscout.Enabled() {
		u, err := url.Parse(c.Nightscout.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("nightscout.url must be an absolute URL")
		}
		if c.Nightscout.Timeout <= 0 {
			return fmt.Errorf("nightscout.timeout must be positive")
		}
		if c.Nightscout.Hours < 1 {
			return fmt.Errorf("nightscout.hours must be at least 1")
		}
	}

	// Validate Notifications config
	if c.Notifications.RepeatMinutes < 0 {
		return fmt.Errorf("notifications.repeat_minutes must not be negative")
	}
	if c.Notifications.Unit != models.UnitMmolL && c.Notifications.Unit != models.UnitMgDL {
		return fmt.Errorf("notifications.unit must be %s or %s", models.UnitMmolL, models.UnitMgDL)
	}
	validSeverities := map[string]bool{models.SeverityWarning: true, models.SeverityAlert: true, models.SeverityUrgent: true}
	if !validSeverities[c.Notifications.MinSeverity] {
		return fmt.Errorf("notifications.min_severity must be one of: warning, alert, urgent")
	}

	// Validate Watch config
	if c.Watch.Interval < 10*time.Second {
		return fmt.Errorf("watch.interval must be at least 10 seconds")
	}
	if c.Watch.CacheTTL < 0 {
		return fmt.Errorf("watch.cache_ttl must not be negative")
	}

	return nil
}
