// Package config resolves reader configuration from command-line flags,
// EPUBREADER_* environment variables and defaults, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "EPUBREADER_"

// Config holds the resolved configuration. The flag tags name the
// command-line flag each field comes from and are used in errors.
type Config struct {
	LogLevel    string        `flag:"log-level" validate:"oneof=debug info warn warning error"`
	LogFormat   string        `flag:"log-format" validate:"oneof=text json"`
	APIURL      string        `flag:"api-url" validate:"omitempty,http_url"`
	APIToken    string        `flag:"api-token"`
	APITimeout  time.Duration `flag:"api-timeout" validate:"gt=0"`
	APIRate     float64       `flag:"api-rate" validate:"gt=0"`
	StoragePath string        `flag:"storage-path"` // empty keeps state in memory
	Addr        string        `flag:"addr" validate:"required,hostname_port"`
}

// Flags carries raw flag values; empty strings mean "not set".
type Flags struct {
	LogLevel    string
	LogFormat   string
	APIURL      string
	APIToken    string
	APITimeout  string
	APIRate     string
	StoragePath string
	Addr        string
}

// Load builds a validated Config with the precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. Default values (lowest priority).
func Load(f Flags) (*Config, error) {
	cfg := &Config{
		LogLevel:    strings.ToLower(getConfigValue(f.LogLevel, "LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(getConfigValue(f.LogFormat, "LOG_FORMAT", "text")),
		APIURL:      getConfigValue(f.APIURL, "API_URL", ""),
		APIToken:    getConfigValue(f.APIToken, "API_TOKEN", ""),
		StoragePath: getConfigValue(f.StoragePath, "STORAGE_PATH", ""),
		Addr:        getConfigValue(f.Addr, "ADDR", "127.0.0.1:8080"),
	}

	timeoutStr := getConfigValue(f.APITimeout, "API_TIMEOUT", "15s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --api-timeout %q: %w", timeoutStr, err)
	}
	cfg.APITimeout = timeout

	rateStr := getConfigValue(f.APIRate, "API_RATE", "2")
	apiRate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid --api-rate %q: %w", rateStr, err)
	}
	cfg.APIRate = apiRate

	storagePath, err := expandPath(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("invalid --storage-path: %w", err)
	}
	cfg.StoragePath = storagePath

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by flag name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("flag"); name != "" {
			return "--" + name
		}
		return fld.Name
	})
	return v
}

// Validate checks every field and reports the first problem by flag name.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return fmt.Errorf("config validation failed: %w", err)
	}
	e := validationErrs[0]
	return fmt.Errorf("invalid %s %q: %s", e.Field(), fmt.Sprint(e.Value()), friendlyMessage(e))
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(e.Param(), " ", ", ")
	case "http_url":
		return "must be an http(s) URL"
	case "hostname_port":
		return "must be host:port"
	case "gt":
		return "must be greater than " + e.Param()
	default:
		return fmt.Sprintf("failed %s validation", e.Tag())
	}
}

// expandPath expands ~ and makes a non-empty path absolute.
func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(EnvPrefix + envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}
