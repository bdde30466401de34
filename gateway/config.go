// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the gateway runtime configuration. Values come from an
// optional YAML file with environment-variable expansion, then environment
// variables override individual fields.
type Config struct {
	Port           int           `yaml:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	SecureCookies  bool          `yaml:"secure_cookies"`
	CredentialTTL  time.Duration `yaml:"credential_ttl"`
	SchemaTTL      time.Duration `yaml:"schema_ttl"`

	// MongoSampleSize is how many documents mongodb schema inference
	// samples per collection. Zero keeps the connector default.
	MongoSampleSize int `yaml:"mongo_sample_size"`

	Gemini struct {
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"gemini"`

	// TokenSecret signs and encrypts credential tokens. Required.
	TokenSecret string `yaml:"token_secret"`
}

var envVarRegex = regexp.MustCompile(`\$\{[a-zA-Z_][a-zA-Z0-9_]*(:-[^}]*)?\}`)

// LoadConfig builds the configuration. path may be empty, in which case only
// environment variables apply.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Port:           8080,
		AllowedOrigins: []string{"*"},
		CredentialTTL:  time.Hour,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("token secret is required (set SQLPILOT_TOKEN_SECRET)")
	}
	if cfg.Gemini.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required (set GEMINI_API_KEY)")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("SQLPILOT_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("SQLPILOT_SECURE_COOKIES"); v != "" {
		cfg.SecureCookies = v == "true" || v == "1"
	}
	if v := os.Getenv("SQLPILOT_SCHEMA_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			cfg.SchemaTTL = ttl
		}
	}
	if v := os.Getenv("SQLPILOT_MONGO_SAMPLE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MongoSampleSize = n
		}
	}
	if v := os.Getenv("SQLPILOT_TOKEN_SECRET"); v != "" {
		cfg.TokenSecret = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Gemini.Model = v
	}
	if v := os.Getenv("GEMINI_BASE_URL"); v != "" {
		cfg.Gemini.BaseURL = v
	}
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} references in the file
// content before parsing.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}
