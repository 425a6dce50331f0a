package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"META_DB_PATH", "LISTEN_ADDR", "ENV", "CORS_ALLOWED_ORIGINS", "DELIVERY_DIR",
		"QUERY_DEFAULT_LIMIT", "QUERY_MAX_LIMIT", "PREVIEW_ROW_LIMIT", "PREVIEW_TIMEOUT",
		"RUN_TIMEOUT", "MAX_CONCURRENT_RUNS", "STEP_PARALLELISM",
		"S3_KEY_ID", "S3_SECRET", "S3_ENDPOINT", "S3_REGION",
		"GCS_KEY_FILE", "AZURE_ACCOUNT_NAME", "AZURE_ACCOUNT_KEY", "ENCRYPTION_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "duckbi_meta.sqlite", cfg.MetaDBPath)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "deliveries", cfg.DeliveryDir)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 1000, cfg.Execution.QueryDefaultLimit)
	assert.Equal(t, 100000, cfg.Execution.QueryMaxLimit)
	assert.Equal(t, 1000, cfg.Execution.PreviewRowLimit)
	assert.Equal(t, 2*time.Minute, cfg.Execution.PreviewTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Execution.RunTimeout)
	assert.Equal(t, 4, cfg.Execution.MaxConcurrentRuns)
	assert.Equal(t, 4, cfg.Execution.StepParallelism)
	assert.Nil(t, cfg.Storage.S3KeyID)
	assert.False(t, cfg.Storage.HasS3Credentials())
	assert.Equal(t, insecureEncryptionKey, cfg.EncryptionKey)
	assert.Len(t, cfg.Warnings, 1)
}

func TestLoadFromEnv_ExecutionOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("QUERY_MAX_LIMIT", "5000")
	t.Setenv("PREVIEW_TIMEOUT", "30s")
	t.Setenv("STEP_PARALLELISM", "1")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Execution.QueryMaxLimit)
	assert.Equal(t, 30*time.Second, cfg.Execution.PreviewTimeout)
	assert.Equal(t, 1, cfg.Execution.StepParallelism)
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value, errMsg string
	}{
		{"RUN_TIMEOUT", "soon", "RUN_TIMEOUT"},
		{"MAX_CONCURRENT_RUNS", "0", "must be positive"},
		{"QUERY_DEFAULT_LIMIT", "200000", "exceeds QUERY_MAX_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadFromEnv_Storage(t *testing.T) {
	clearEnv(t)
	t.Setenv("S3_KEY_ID", "testkey")
	t.Setenv("S3_SECRET", "testsecret")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("AZURE_ACCOUNT_NAME", "acct")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Storage.HasS3Credentials())
	require.NotNil(t, cfg.Storage.S3Region)
	assert.Equal(t, "us-east-1", *cfg.Storage.S3Region)
	assert.False(t, cfg.Storage.HasAzureCredentials(), "partial Azure config should return false")
}

func TestLoadFromEnv_PartialS3Warns(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENCRYPTION_KEY", "aa00000000000000000000000000000000000000000000000000000000000000")
	t.Setenv("S3_KEY_ID", "testkey")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.Storage.HasS3Credentials())
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "S3_SECRET")
}

func TestLoadFromEnv_ProductionRejectsInsecureDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "production")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENCRYPTION_KEY")

	t.Setenv("ENCRYPTION_KEY", "aa00000000000000000000000000000000000000000000000000000000000000")
	_, err = LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORS wildcard")

	t.Setenv("CORS_ALLOWED_ORIGINS", "https://bi.example.com, ")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://bi.example.com"}, cfg.CORSAllowedOrigins)
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	err := LoadDotEnv("/nonexistent/.env")
	if err != nil {
		t.Errorf("expected no error for missing .env, got: %v", err)
	}
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("TEST_KEY=test_value\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_KEY"); val != "test_value" {
		t.Errorf("TEST_KEY = %q, want %q", val, "test_value")
	}
	_ = os.Unsetenv("TEST_KEY")
}

func TestLoadDotEnv_SkipsComments(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("# comment\nTEST_COMMENT_KEY=value\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_COMMENT_KEY"); val != "value" {
		t.Errorf("TEST_COMMENT_KEY = %q, want %q", val, "value")
	}
	_ = os.Unsetenv("TEST_COMMENT_KEY")
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("TEST_PRECEDENCE_KEY", "from_env")

	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("TEST_PRECEDENCE_KEY=from_file\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_PRECEDENCE_KEY"); val != "from_env" {
		t.Errorf("TEST_PRECEDENCE_KEY = %q, want %q (env precedence)", val, "from_env")
	}
}
