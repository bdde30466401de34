// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SQLPILOT_TOKEN_SECRET", "secret")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("PORT", "9090")
	t.Setenv("SQLPILOT_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("SQLPILOT_SCHEMA_TTL", "90s")
	t.Setenv("SQLPILOT_MONGO_SAMPLE_SIZE", "25")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "secret", cfg.TokenSecret)
	assert.Equal(t, "key", cfg.Gemini.APIKey)
	assert.Equal(t, time.Hour, cfg.CredentialTTL)
	assert.Equal(t, 90*time.Second, cfg.SchemaTTL)
	assert.Equal(t, 25, cfg.MongoSampleSize)
}

func TestLoadConfigFromYAML(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "from-env")
	// Guard against ambient overrides.
	t.Setenv("PORT", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("SQLPILOT_TOKEN_SECRET", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 8181
token_secret: file-secret
secure_cookies: true
gemini:
  api_key: ${TEST_GEMINI_KEY}
  model: ${TEST_GEMINI_MODEL:-gemini-2.0-flash}
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Port)
	assert.Equal(t, "file-secret", cfg.TokenSecret)
	assert.True(t, cfg.SecureCookies)
	assert.Equal(t, "from-env", cfg.Gemini.APIKey)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("SQLPILOT_TOKEN_SECRET", "")
	t.Setenv("GEMINI_API_KEY", "key")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token secret")
}

func TestLoadConfigRequiresAPIKey(t *testing.T) {
	t.Setenv("SQLPILOT_TOKEN_SECRET", "secret")
	t.Setenv("GEMINI_API_KEY", "")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini API key")
}
