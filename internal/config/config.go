package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/hl7v2"
)

// Functions accepted in FUNCTION.
const (
	FunctionSplitCSV = "split-csv"
	FunctionSplitDAT = "split-dat"
	FunctionSplitOBR = "split-obr"
	FunctionAddExt   = "add-ext"
)

type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Function string `mapstructure:"FUNCTION"`

	AWSRegion       string `mapstructure:"AWS_REGION"`
	ErrorTopicARN   string `mapstructure:"ERROR_TOPIC_ARN"`
	SuccessTopicARN string `mapstructure:"SUCCESS_TOPIC_ARN"`
	SummaryTopicARN string `mapstructure:"SUMMARY_TOPIC_ARN"`

	MetricsNamespace string `mapstructure:"METRICS_NAMESPACE"`
	MetricsEnabled   bool   `mapstructure:"METRICS_ENABLED"`

	TZOffset     string        `mapstructure:"TZ_OFFSET"`
	S3MaxAttempt int           `mapstructure:"S3_MAX_ATTEMPTS"`
	S3RetryDelay time.Duration `mapstructure:"S3_RETRY_DELAY"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	Port           string        `mapstructure:"PORT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	SendingApplication   string `mapstructure:"SENDING_APPLICATION"`
	ReceivingApplication string `mapstructure:"RECEIVING_APPLICATION"`
	ReceivingFacility    string `mapstructure:"RECEIVING_FACILITY"`
	ProcessingID         string `mapstructure:"PROCESSING_ID"`
}

var defaults = map[string]interface{}{
	"ENV":                   "production",
	"LOG_LEVEL":             "info",
	"FUNCTION":              FunctionSplitCSV,
	"AWS_REGION":            "us-east-1",
	"ERROR_TOPIC_ARN":       "",
	"SUCCESS_TOPIC_ARN":     "",
	"SUMMARY_TOPIC_ARN":     "",
	"METRICS_NAMESPACE":     "HL7Preprocessor",
	"METRICS_ENABLED":       true,
	"TZ_OFFSET":             "",
	"S3_MAX_ATTEMPTS":       3,
	"S3_RETRY_DELAY":        "2s",
	"DATABASE_URL":          "",
	"DB_MAX_CONNS":          5,
	"DB_MIN_CONNS":          1,
	"PORT":                  "8080",
	"BODY_LIMIT":            "10M",
	"REQUEST_TIMEOUT":       "30s",
	"SENDING_APPLICATION":   "SFTP_APP",
	"RECEIVING_APPLICATION": "ELR_RECEIVER",
	"RECEIVING_FACILITY":    "VI_DOH",
	"PROCESSING_ID":         "P",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Bind env vars explicitly so Unmarshal picks them up
	for key, def := range defaults {
		v.SetDefault(key, def)
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks the values that cannot be defaulted away.
func (c *Config) Validate() error {
	switch c.Function {
	case FunctionSplitCSV, FunctionSplitDAT, FunctionSplitOBR, FunctionAddExt:
	default:
		return fmt.Errorf("FUNCTION must be one of %q, %q, %q or %q, got %q",
			FunctionSplitCSV, FunctionSplitDAT, FunctionSplitOBR, FunctionAddExt, c.Function)
	}
	if c.S3MaxAttempt < 1 {
		return fmt.Errorf("S3_MAX_ATTEMPTS must be at least 1, got %d", c.S3MaxAttempt)
	}
	if c.S3RetryDelay < 0 {
		return fmt.Errorf("S3_RETRY_DELAY must not be negative, got %s", c.S3RetryDelay)
	}
	if !hl7v2.ValidOffset(c.TZOffset) {
		return fmt.Errorf("TZ_OFFSET must look like +HHMM or -HHMM, got %q", c.TZOffset)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
