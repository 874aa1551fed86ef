package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("ENVIRONMENT")
	os.Unsetenv("HAPI_FHIR_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AppName != "fhir-pipeline" {
		t.Errorf("expected default app name, got %q", cfg.AppName)
	}
	if cfg.Environment != "development" {
		t.Errorf("expected default environment 'development', got %q", cfg.Environment)
	}
	if cfg.MaxRequestSizeMB != 1 {
		t.Errorf("expected default max request size 1MB, got %d", cfg.MaxRequestSizeMB)
	}
	if cfg.RateLimitRequestsPerMinute != 100 {
		t.Errorf("expected default rate limit 100/min, got %d", cfg.RateLimitRequestsPerMinute)
	}
	if !cfg.FHIRValidationEnabled {
		t.Error("expected FHIR validation enabled by default")
	}
}

func TestLoad_ParsesCSVLists(t *testing.T) {
	os.Setenv("ALLOWED_HOSTS", "a.example.com, b.example.com")
	os.Setenv("CORS_ORIGINS", "https://a.example.com,https://b.example.com")
	defer os.Unsetenv("ALLOWED_HOSTS")
	defer os.Unsetenv("CORS_ORIGINS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.AllowedHosts) != 2 || cfg.AllowedHosts[0] != "a.example.com" {
		t.Errorf("unexpected allowed hosts: %v", cfg.AllowedHosts)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("unexpected CORS origins: %v", cfg.CORSOrigins)
	}
}

func TestConfig_IsDevelopmentIsProduction(t *testing.T) {
	c := &Config{Environment: "development"}
	if !c.IsDevelopment() || c.IsProduction() {
		t.Error("expected development config to report IsDevelopment=true, IsProduction=false")
	}

	c.Environment = "production"
	if c.IsDevelopment() || !c.IsProduction() {
		t.Error("expected production config to report IsDevelopment=false, IsProduction=true")
	}
}

func TestConfig_MaxRequestSizeBytes(t *testing.T) {
	c := &Config{MaxRequestSizeMB: 2}
	if got := c.MaxRequestSizeBytes(); got != 2*1024*1024 {
		t.Errorf("expected 2MiB in bytes, got %d", got)
	}
}

func validConfig() *Config {
	return &Config{
		Environment:                "staging",
		MaxRequestSizeMB:           1,
		RequestTimeoutSeconds:      30,
		RateLimitRequestsPerMinute: 100,
		RateLimitWindowSeconds:     60,
		HAPIFHIRURL:                "http://localhost:8080/fhir",
		HAPIFHIRTimeoutSeconds:     10,
		CORSOrigins:                []string{"https://example.com"},
	}
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_RejectsMissingHAPIURL(t *testing.T) {
	c := validConfig()
	c.HAPIFHIRURL = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing HAPI_FHIR_URL")
	}
}

func TestValidate_ProductionRejectsWildcardCORS(t *testing.T) {
	c := validConfig()
	c.Environment = "production"
	c.CORSOrigins = []string{"*"}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for wildcard CORS origin in production")
	}
}

func TestValidate_RejectsNonPositiveTimeouts(t *testing.T) {
	c := validConfig()
	c.RequestTimeoutSeconds = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for non-positive request timeout")
	}
}
