package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/cardeasec/cardea/logger"
	"github.com/cardeasec/cardea/util"

	"github.com/go-playground/validator/v10"
	"github.com/hjson/hjson-go/v4"
	"github.com/spf13/afero"
)

var Version string

const DefaultConfigPath = "./config.hjson"

var errReadingConfigFile = errors.New("encountered an error while reading the config file")

type (
	Config struct {
		Env         Env         `json:"env" validate:"required"`
		Sentry      Sentry      `json:"sentry" validate:"required"`
		Oracle      Oracle      `json:"oracle" validate:"required"`
		Filtering   Filtering   `json:"filtering" validate:"required"`
		ThreatIntel ThreatIntel `json:"threat_intel"`
	}

	Env struct { // set by .env file
		OracleURL                       string `json:"-" validate:"omitempty,url"`           // ORACLE_URL
		DatabaseURI                     string `json:"-"`                                    // DATABASE_URI
		RedisAddress                    string `json:"-" validate:"omitempty,hostname_port"` // REDIS_ADDRESS
		ReasoningServiceURL             string `json:"-" validate:"omitempty,url"`           // REASONING_SERVICE_URL
		LogLevel                        int8   `validate:"min=-1,max=5"`                     // LOG_LEVEL
		ThreatIntelCustomFeedsDirectory string `json:"-"`                                    // THREAT_INTEL_DIR
	}

	Sentry struct {
		SensorID           string     `json:"sensor_id" validate:"required"`
		ZeekLogSearchPath  []string   `json:"zeek_log_search_path" validate:"required,gt=0,dive,min=1"`
		PollIntervalMillis int32      `json:"poll_interval_millis" validate:"gte=50,lte=10000"`
		EventBufferSize    int32      `json:"event_buffer_size" validate:"gte=100,lte=1000000"`
		FlowTableSize      int32      `json:"flow_table_size" validate:"gte=100,lte=1000000"`
		HTTPPort           int32      `json:"http_port" validate:"gte=1,lte=65535"`
		Detector           Detector   `json:"detector" validate:"required"`
		Escalation         Escalation `json:"escalation" validate:"required"`
	}

	// Detector holds the streaming autoencoder ensemble settings. The training
	// sample cap defaults to 1000; raise it to 10000 for production sensors that
	// see enough traffic to afford the longer warmup.
	Detector struct {
		TrainingSampleCap    int32   `json:"training_sample_cap" validate:"gte=10,lte=1000000"`
		ScoreWindowSize      int32   `json:"score_window_size" validate:"gte=10,lte=100000"`
		Threshold            float64 `json:"threshold" validate:"gt=0,lte=1"`
		ModelPath            string  `json:"model_path" validate:"required"`
		StatsIntervalSeconds int32   `json:"stats_interval_seconds" validate:"gte=5,lte=3600"`
	}

	Escalation struct {
		RetryQueueSize        int32 `json:"retry_queue_size" validate:"gte=1,lte=10000"`
		RetryIntervalSeconds  int32 `json:"retry_interval_seconds" validate:"gte=1,lte=3600"`
		RequestTimeoutSeconds int32 `json:"request_timeout_seconds" validate:"gte=1,lte=120"`
	}

	Oracle struct {
		HTTPPort                 int32 `json:"http_port" validate:"gte=1,lte=65535"`
		DedupeWindowSeconds      int32 `json:"dedupe_window_seconds" validate:"gte=1,lte=86400"`
		RateLimitPerMinute       int32 `json:"rate_limit_per_minute" validate:"gte=1,lte=100000"`
		ScoringWorkers           int32 `json:"scoring_workers" validate:"gte=1,lte=256"`
		ReasoningTimeoutSeconds  int32 `json:"reasoning_timeout_seconds" validate:"gte=1,lte=300"`
		ReasoningMaxTokens       int32 `json:"reasoning_max_tokens" validate:"gte=64,lte=100000"`
		AnalyticsWindowHours     int32 `json:"analytics_window_hours" validate:"gte=1,lte=720"`
		HistoricalLookbackHours  int32 `json:"historical_lookback_hours" validate:"gte=1,lte=720"`
		CorrelationWindowMinutes int32 `json:"correlation_window_minutes" validate:"gte=1,lte=1440"`
		// DNS server used to resolve domain indicators during scoring;
		// empty disables the enrichment
		IndicatorDNSServer string `json:"indicator_dns_server" validate:"omitempty,hostname_port"`
	}

	Filtering struct {
		// subnets do not need a validate tag because they are validated when they are unmarshalled
		InternalSubnets []util.Subnet `json:"internal_subnets" validate:"required,gt=0"`
	}

	ThreatIntel struct {
		OnlineFeeds []string `json:"online_feeds" validate:"omitempty,dive,url"`
	}
)

// ReadFileConfig reads the config file at the specified path and returns a
// validated config object.
func ReadFileConfig(afs afero.Fs, path string) (*Config, error) {
	contents, err := afero.ReadFile(afs, path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := unmarshal(contents, &cfg, nil); err != nil {
		return nil, fmt.Errorf("%w, located by default at '%s', please correct the issue in the config and try again:\n\t- %w", errReadingConfigFile, path, err)
	}

	return &cfg, nil
}

// ReadConfigFromMemory reads the config from bytes already read into memory as opposed to reading from a file.
// It also provides its own environment struct that must already be completely set.
func ReadConfigFromMemory(data []byte, env Env) (*Config, error) {
	var cfg Config
	if err := unmarshal(data, &cfg, &env); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setEnv() error {
	// env vars here are optional at load time; each command validates
	// the subset it actually needs (see RequireSentryEnv / RequireOracleEnv)
	c.Env.OracleURL = os.Getenv("ORACLE_URL")
	c.Env.DatabaseURI = os.Getenv("DATABASE_URI")
	c.Env.RedisAddress = os.Getenv("REDIS_ADDRESS")
	c.Env.ReasoningServiceURL = os.Getenv("REASONING_SERVICE_URL")
	c.Env.ThreatIntelCustomFeedsDirectory = os.Getenv("THREAT_INTEL_DIR")

	if logLevelStr := os.Getenv("LOG_LEVEL"); logLevelStr != "" {
		logLevel, err := strconv.Atoi(logLevelStr)
		if err != nil {
			return fmt.Errorf("unable to convert LOG_LEVEL to int: %w", err)
		}
		c.Env.LogLevel = int8(logLevel)
	} else {
		c.Env.LogLevel = 1 // info
	}

	return nil
}

// RequireSentryEnv validates that the env vars needed by the sentry are set
func (c *Config) RequireSentryEnv() error {
	if c.Env.OracleURL == "" {
		return errors.New("environment variable ORACLE_URL not set")
	}
	return nil
}

// RequireOracleEnv validates that the env vars needed by the oracle are set
func (c *Config) RequireOracleEnv() error {
	if c.Env.DatabaseURI == "" {
		return errors.New("environment variable DATABASE_URI not set")
	}
	if c.Env.RedisAddress == "" {
		return errors.New("environment variable REDIS_ADDRESS not set")
	}
	return nil
}

// unmarshal unmarshals the data into the config struct, sets the environment variables, and validates the values
func unmarshal(data []byte, cfg *Config, env *Env) error {
	if err := hjson.Unmarshal(data, &cfg); err != nil {
		return err
	}

	// set the environment struct
	// this MUST be done before validating the values, because the
	// validation checks for the presence of the environment variables
	if env == nil {
		if err := cfg.setEnv(); err != nil {
			return fmt.Errorf("unable to set environment: %w", err)
		}
	} else {
		cfg.Env = *env
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON unmarshals the JSON bytes into the config struct
// overrides the default unmarshalling method to allow for custom parsing
func (c *Config) UnmarshalJSON(bytes []byte) error {
	// create temporary config struct to unmarshal into
	// not doing this would result in an infinite unmarshalling loop
	type tmpConfig Config
	defaultCfg := GetDefaultConfig()

	tmpCfg := tmpConfig(defaultCfg)

	err := hjson.Unmarshal(bytes, &tmpCfg)
	if err != nil {
		return err
	}

	cfg := Config(tmpCfg)
	cfg.Filtering.InternalSubnets = util.CompactSubnets(cfg.Filtering.InternalSubnets)

	*c = cfg

	return nil
}

// GetDefaultConfig returns a Config object with default values
func GetDefaultConfig() Config {
	if Version == "" {
		Version = "dev"
	}

	return defaultConfig()
}

// Reset resets the config values to default
// note: Env values are not reset
func (cfg *Config) Reset() error {
	env := cfg.Env

	newConfig := GetDefaultConfig()

	*cfg = newConfig
	cfg.Env = env

	if err := cfg.Validate(); err != nil {
		return err
	}

	return nil
}

// Validate validates the config struct values
func (cfg *Config) Validate() error {
	zlog := logger.GetLogger()
	zlog.Debug().Interface("config", cfg).Msg("validating config")

	validate, err := NewValidator()
	if err != nil {
		return err
	}

	if err := validate.Struct(cfg); err != nil {
		return err
	}

	return nil
}

// NewValidator creates a new validator with custom validation rules
func NewValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	// validate fqdns and fqdns with wildcards
	if err := v.RegisterValidation("wildcard_fqdn", func(fl validator.FieldLevel) bool {
		value := fl.Field().Interface().(string)
		if len(value) > 2 && value[:2] == "*." {
			value = value[2:]
		}
		return v.Var(value, "fqdn") == nil
	}); err != nil {
		return nil, err
	}

	// a detector threshold at or below the training-phase score ceiling (0.1)
	// would escalate every event during warmup
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		value := sl.Current().Interface().(Detector)
		if value.Threshold <= 0.1 {
			sl.ReportError(value.Threshold, "Threshold", "Detector", "detector_threshold", "")
		}
	}, Detector{})

	return v, nil
}

// return a copy of the default config object
func defaultConfig() Config {
	return Config{
		Sentry: Sentry{
			SensorID: "sentry-01",
			ZeekLogSearchPath: []string{
				"/opt/zeek/logs/current",
				"/usr/local/zeek/logs/current",
				"/var/log/zeek/current",
			},
			PollIntervalMillis: 300,
			EventBufferSize:    10000,
			FlowTableSize:      10000,
			HTTPPort:           8081,
			Detector: Detector{
				TrainingSampleCap:    1000,
				ScoreWindowSize:      1000,
				Threshold:            0.95,
				ModelPath:            "/var/lib/cardea/kitnet_model.json",
				StatsIntervalSeconds: 60,
			},
			Escalation: Escalation{
				RetryQueueSize:        100,
				RetryIntervalSeconds:  30,
				RequestTimeoutSeconds: 10,
			},
		},
		Oracle: Oracle{
			HTTPPort:                 8080,
			DedupeWindowSeconds:      60,
			RateLimitPerMinute:       50,
			ScoringWorkers:           4,
			ReasoningTimeoutSeconds:  30,
			ReasoningMaxTokens:       1024,
			AnalyticsWindowHours:     24,
			HistoricalLookbackHours:  24,
			CorrelationWindowMinutes: 30,
			IndicatorDNSServer:       "1.1.1.1:53",
		},
		Filtering: Filtering{
			InternalSubnets: []util.Subnet{
				{IPNet: &net.IPNet{IP: net.IP{10, 0, 0, 0}.To16(), Mask: net.CIDRMask(104, 128)}},    // "10.0.0.0/8"
				{IPNet: &net.IPNet{IP: net.IP{172, 16, 0, 0}.To16(), Mask: net.CIDRMask(108, 128)}},  // "172.16.0.0/12"
				{IPNet: &net.IPNet{IP: net.IP{192, 168, 0, 0}.To16(), Mask: net.CIDRMask(112, 128)}}, // "192.168.0.0/16"
				{IPNet: &net.IPNet{IP: net.ParseIP("fd00::"), Mask: net.CIDRMask(8, 128)}},           // "fd00::/8"
			},
		},
		ThreatIntel: ThreatIntel{
			OnlineFeeds: []string{
				"https://feodotracker.abuse.ch/downloads/ipblocklist.txt",
			},
		},
	}
}
