package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	ierr "github.com/meterbridge/meterbridge/internal/errors"
	"github.com/meterbridge/meterbridge/internal/types"
)

type Configuration struct {
	Logging   LoggingConfig   `validate:"required"`
	AWS       AWSConfig       `validate:"required"`
	Clazar    ClazarConfig    `validate:"required"`
	Processor ProcessorConfig `validate:"required"`

	// Dimensions holds the custom dimension formulas declared via
	// DIMENSION_<name>=<formula> environment variables. Empty means base
	// dimensions are submitted as-is.
	Dimensions []types.DimensionFormula
}

type LoggingConfig struct {
	Level types.LogLevel `mapstructure:"level" validate:"required"`
}

type AWSConfig struct {
	Region          string `mapstructure:"region" validate:"required"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket" validate:"required"`
}

type ClazarConfig struct {
	BaseURL      string `mapstructure:"base_url" validate:"required"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Cloud        string `mapstructure:"cloud" validate:"required"`
}

type ProcessorConfig struct {
	ServiceName     string `mapstructure:"service_name" validate:"required"`
	EnvironmentType string `mapstructure:"environment_type" validate:"required"`
	PlanID          string `mapstructure:"plan_id" validate:"required"`

	// StartMonth optionally overrides the default first month to process
	// when no processing history exists, in YYYY-MM form.
	StartMonth string `mapstructure:"start_month"`

	MaxRetries      int  `mapstructure:"max_retries" validate:"min=0"`
	MaxMonthsPerRun int  `mapstructure:"max_months_per_run" validate:"min=1"`
	DryRun          bool `mapstructure:"dry_run"`

	// BaseDimensions are the usage dimensions formulas may reference.
	BaseDimensions []string `mapstructure:"base_dimensions" validate:"required,min=1"`

	// RunIntervalSeconds is the wait between processing passes in interval
	// mode. The core itself has no notion of waiting; this only drives the
	// outer loop in cmd/processor.
	RunIntervalSeconds int `mapstructure:"run_interval_seconds" validate:"min=1"`

	HealthPort int `mapstructure:"health_port" validate:"min=1"`
}

// dimensionEnvPrefix declares custom dimensions: DIMENSION_<name>=<formula>.
const dimensionEnvPrefix = "DIMENSION_"

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/meterbridge")

	v.SetEnvPrefix("METERBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	dimensions, err := loadCustomDimensions(os.Environ())
	if err != nil {
		return nil, err
	}
	config.Dimensions = dimensions

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", string(types.LogLevelInfo))
	v.SetDefault("clazar.base_url", "https://api.clazar.io")
	v.SetDefault("clazar.cloud", "aws")
	v.SetDefault("processor.max_retries", 5)
	v.SetDefault("processor.max_months_per_run", 12)
	v.SetDefault("processor.run_interval_seconds", 300)
	v.SetDefault("processor.health_port", 8080)
	v.SetDefault("processor.base_dimensions", []string{
		"cpu_core_hours",
		"memory_byte_hours",
		"storage_allocated_byte_hours",
		"replica_hours",
	})
}

// loadCustomDimensions extracts DIMENSION_<name>=<formula> declarations from
// the environment. Names are lowercased; duplicates are rejected.
func loadCustomDimensions(environ []string) ([]types.DimensionFormula, error) {
	var dimensions []types.DimensionFormula
	seen := make(map[string]bool)

	for _, entry := range environ {
		name, value, found := strings.Cut(entry, "=")
		if !found || !strings.HasPrefix(name, dimensionEnvPrefix) {
			continue
		}

		dimension := strings.ToLower(strings.TrimPrefix(name, dimensionEnvPrefix))
		formula := types.DimensionFormula{Name: dimension, Expression: value}
		if err := formula.Validate(); err != nil {
			return nil, err
		}
		if seen[dimension] {
			return nil, ierr.NewErrorf("duplicate dimension name %q", dimension).
				WithHint("Custom dimension names must be unique").
				Mark(ierr.ErrValidation)
		}

		seen[dimension] = true
		dimensions = append(dimensions, formula)
	}

	return dimensions, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := c.ParseStartMonth(); err != nil {
		return err
	}
	return c.ServiceKey().Validate()
}

// ServiceKey returns the billable configuration stream this processor owns.
func (c Configuration) ServiceKey() types.ServiceKey {
	return types.NewServiceKey(
		c.Processor.ServiceName,
		c.Processor.EnvironmentType,
		c.Processor.PlanID,
	)
}

// ParseStartMonth parses the optional configured start month. A malformed
// value is a schedule error and aborts the run before any submission.
func (c Configuration) ParseStartMonth() (*types.Month, error) {
	if c.Processor.StartMonth == "" {
		return nil, nil
	}
	month, err := types.ParseMonth(c.Processor.StartMonth)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Invalid start_month %q, expected YYYY-MM", c.Processor.StartMonth).
			Mark(ierr.ErrSchedule)
	}
	return &month, nil
}

// GetDefaultConfig returns a default configuration for local development
// and tests.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Logging: LoggingConfig{Level: types.LogLevelInfo},
		Clazar: ClazarConfig{
			BaseURL: "https://api.clazar.io",
			Cloud:   "aws",
		},
		Processor: ProcessorConfig{
			MaxRetries:         5,
			MaxMonthsPerRun:    12,
			RunIntervalSeconds: 300,
			HealthPort:         8080,
			BaseDimensions: []string{
				"cpu_core_hours",
				"memory_byte_hours",
				"storage_allocated_byte_hours",
				"replica_hours",
			},
		},
	}
}
