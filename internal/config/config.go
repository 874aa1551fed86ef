package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration, bound from environment
// variables.
type Config struct {
	AppName     string `mapstructure:"APP_NAME"`
	Environment string `mapstructure:"ENVIRONMENT"`
	Port        string `mapstructure:"PORT"`

	AllowedHosts []string `mapstructure:"ALLOWED_HOSTS"`
	CORSOrigins  []string `mapstructure:"CORS_ORIGINS"`

	MaxRequestSizeMB      int `mapstructure:"MAX_REQUEST_SIZE_MB"`
	RequestTimeoutSeconds int `mapstructure:"REQUEST_TIMEOUT_SECONDS"`

	RateLimitRequestsPerMinute int `mapstructure:"RATE_LIMIT_REQUESTS_PER_MINUTE"`
	RateLimitWindowSeconds     int `mapstructure:"RATE_LIMIT_WINDOW_SECONDS"`

	LogLevel string `mapstructure:"LOG_LEVEL"`

	HAPIFHIRURL            string `mapstructure:"HAPI_FHIR_URL"`
	HAPIFHIRTimeoutSeconds int    `mapstructure:"HAPI_FHIR_TIMEOUT_SECONDS"`

	FHIRValidationEnabled bool `mapstructure:"FHIR_VALIDATION_ENABLED"`
	SummarizationEnabled  bool `mapstructure:"SUMMARIZATION_ENABLED"`
	SafetyValidationEnabled bool `mapstructure:"SAFETY_VALIDATION_ENABLED"`

	RejectSynthesizedImagingUIDs bool `mapstructure:"REJECT_SYNTHESIZED_IMAGING_UIDS"`
}

// Load reads configuration from the environment (and an optional .env file),
// applying defaults for any unset variable.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("APP_NAME", "fhir-pipeline")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("PORT", "8000")
	v.SetDefault("ALLOWED_HOSTS", "*")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("MAX_REQUEST_SIZE_MB", 1)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("RATE_LIMIT_REQUESTS_PER_MINUTE", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HAPI_FHIR_URL", "http://localhost:8080/fhir")
	v.SetDefault("HAPI_FHIR_TIMEOUT_SECONDS", 10)
	v.SetDefault("FHIR_VALIDATION_ENABLED", true)
	v.SetDefault("SUMMARIZATION_ENABLED", true)
	v.SetDefault("SAFETY_VALIDATION_ENABLED", true)
	v.SetDefault("REJECT_SYNTHESIZED_IMAGING_UIDS", false)

	for _, key := range []string{
		"APP_NAME", "ENVIRONMENT", "PORT", "ALLOWED_HOSTS", "CORS_ORIGINS",
		"MAX_REQUEST_SIZE_MB", "REQUEST_TIMEOUT_SECONDS",
		"RATE_LIMIT_REQUESTS_PER_MINUTE", "RATE_LIMIT_WINDOW_SECONDS",
		"LOG_LEVEL", "HAPI_FHIR_URL", "HAPI_FHIR_TIMEOUT_SECONDS",
		"FHIR_VALIDATION_ENABLED", "SUMMARIZATION_ENABLED", "SAFETY_VALIDATION_ENABLED",
		"REJECT_SYNTHESIZED_IMAGING_UIDS",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if hosts := v.GetString("ALLOWED_HOSTS"); hosts != "" {
		cfg.AllowedHosts = splitCSV(hosts)
	}
	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitCSV(origins)
	}

	if cfg.IsDevelopment() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENVIRONMENT=development)")
		log.Println("WARNING: CORS/host restrictions may be permissive; do not use this configuration in production")
	}

	return cfg, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsDevelopment reports whether ENVIRONMENT is "development".
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether ENVIRONMENT is "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// MaxRequestSizeBytes converts the configured megabyte ceiling to bytes.
func (c *Config) MaxRequestSizeBytes() int64 {
	return int64(c.MaxRequestSizeMB) * 1024 * 1024
}

// Config stores the raw configured timeout seconds so it stays a plain
// mapstructure target. HAPIFHIRTimeoutSeconds becomes the outbound
// http.Client timeout in cmd/fhir-pipeline; RequestTimeoutSeconds is loaded
// and validated here but no other component reads it.

// Validate checks that the configuration is safe to run. The size, timeout,
// rate-limit and URL checks apply in every environment; production also
// rejects a wildcard CORS origin.
func (c *Config) Validate() error {
	if c.MaxRequestSizeMB <= 0 {
		return fmt.Errorf("MAX_REQUEST_SIZE_MB must be positive, got %d", c.MaxRequestSizeMB)
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive, got %d", c.RequestTimeoutSeconds)
	}
	if c.RateLimitRequestsPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive, got %d", c.RateLimitRequestsPerMinute)
	}
	if c.RateLimitWindowSeconds <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be positive, got %d", c.RateLimitWindowSeconds)
	}
	if c.HAPIFHIRURL == "" {
		return fmt.Errorf("HAPI_FHIR_URL is required")
	}
	if c.HAPIFHIRTimeoutSeconds <= 0 {
		return fmt.Errorf("HAPI_FHIR_TIMEOUT_SECONDS must be positive, got %d", c.HAPIFHIRTimeoutSeconds)
	}

	if c.IsProduction() {
		for _, origin := range c.CORSOrigins {
			if origin == "*" {
				return fmt.Errorf("CORS_ORIGINS must not be \"*\" in production")
			}
		}
	}

	return nil
}
