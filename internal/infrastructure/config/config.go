package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Analytics AnalyticsConfig `koanf:"analytics"`
	Risk      RiskConfig      `koanf:"risk"`
	Alerting  AlertingConfig  `koanf:"alerting"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type TelemetryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	SamplingRate  float64       `koanf:"sampling_rate" validate:"gte=0,lte=1"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
}

// AnalyticsConfig controls feature extraction, baselining and detection.
type AnalyticsConfig struct {
	FeatureWindow        time.Duration `koanf:"feature_window"`
	BaselineTrainingDays int           `koanf:"baseline_training_days" validate:"gte=1"`
	StdMultiplier        float64       `koanf:"std_multiplier" validate:"gt=0"`
	PatternThreshold     float64       `koanf:"pattern_threshold"`
	Sensitivity          float64       `koanf:"sensitivity" validate:"gte=0,lte=1"`
	MaxConcurrency       int           `koanf:"max_concurrency" validate:"gte=1"`
	AnalysisTimeout      time.Duration `koanf:"analysis_timeout" validate:"gt=0"`
}

// TimeAnomalyGate is the minimum score a time-of-day deviation must
// reach before it is reported, scaled from the std multiplier.
func (c AnalyticsConfig) TimeAnomalyGate() float64 {
	return 0.1 * c.StdMultiplier
}

type RiskConfig struct {
	DecayHalfLife     time.Duration `koanf:"decay_half_life" validate:"gt=0"`
	HistoryRetention  time.Duration `koanf:"history_retention" validate:"gt=0"`
	HighRiskThreshold float64       `koanf:"high_risk_threshold" validate:"gte=0,lte=1"`
	DormantThreshold  time.Duration `koanf:"dormant_threshold"`
}

type AlertingConfig struct {
	Cooldown            time.Duration `koanf:"cooldown" validate:"gt=0"`
	EscalationThreshold int           `koanf:"escalation_threshold" validate:"gte=1"`
	EscalationWindow    time.Duration `koanf:"escalation_window" validate:"gt=0"`
	DispatchQueueSize   int           `koanf:"dispatch_queue_size" validate:"gte=1"`
	DispatchRatePerSec  float64       `koanf:"dispatch_rate_per_sec" validate:"gt=0"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults
	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Redis: RedisConfig{
			URL:          "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "localhost:4317",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			BatchTimeout:  5 * time.Second,
		},
		Analytics: AnalyticsConfig{
			FeatureWindow:        24 * time.Hour,
			BaselineTrainingDays: 30,
			StdMultiplier:        3.0,
			PatternThreshold:     -0.5,
			Sensitivity:          0.05,
			MaxConcurrency:       10,
			AnalysisTimeout:      300 * time.Second,
		},
		Risk: RiskConfig{
			DecayHalfLife:     24 * time.Hour,
			HistoryRetention:  30 * 24 * time.Hour,
			HighRiskThreshold: 0.7,
			DormantThreshold:  30 * 24 * time.Hour,
		},
		Alerting: AlertingConfig{
			Cooldown:            60 * time.Minute,
			EscalationThreshold: 5,
			EscalationWindow:    24 * time.Hour,
			DispatchQueueSize:   256,
			DispatchRatePerSec:  50,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional; missing file only errors when a path was given
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Override with environment variables
	if err := k.Load(env.Provider("UEBA_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "UEBA_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
