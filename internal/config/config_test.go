package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KF_HTTP_ADDR", ":9000")
	t.Setenv("KF_DEV_MODE", "false")
	t.Setenv("KF_LLM_BASE_URL", "http://lmstudio.local:1234/v1")
	t.Setenv("KF_LLM_MODEL", "qwen2.5-7b-instruct")
	t.Setenv("KF_LLM_TEMPERATURE", "0.5")
	t.Setenv("KF_LLM_STOP", "END, STOP")
	t.Setenv("KF_LLM_BASE_DELAY", "250ms")
	t.Setenv("KF_LLM_MAX_ATTEMPTS", "5")
	t.Setenv("KF_STORAGE_BACKEND", "postgres")
	t.Setenv("KF_DB_DSN", "postgres://koffey@localhost/koffey")
	t.Setenv("KF_RATE_LIMIT_RPM", "12")
	t.Setenv("KF_POLICY_REDACT", "off")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Fatalf("expected http addr override")
	}
	if cfg.Dev.Mode {
		t.Fatalf("expected dev mode false")
	}
	if cfg.LLM.BaseURL != "http://lmstudio.local:1234/v1" {
		t.Fatalf("expected llm base url override")
	}
	if cfg.LLM.Model != "qwen2.5-7b-instruct" {
		t.Fatalf("expected model override")
	}
	if cfg.LLM.Temperature != 0.5 {
		t.Fatalf("expected temperature override, got %v", cfg.LLM.Temperature)
	}
	if len(cfg.LLM.Stop) != 2 || cfg.LLM.Stop[1] != "STOP" {
		t.Fatalf("expected stop override, got %v", cfg.LLM.Stop)
	}
	if cfg.LLM.BaseDelay != 250*time.Millisecond {
		t.Fatalf("expected base delay override")
	}
	if cfg.LLM.MaxAttempts != 5 {
		t.Fatalf("expected max attempts override")
	}
	if cfg.Storage.Backend != "postgres" {
		t.Fatalf("expected storage backend override")
	}
	if cfg.RateLimit.RPM != 12 {
		t.Fatalf("expected rpm override")
	}
	if cfg.Policy.Redact {
		t.Fatalf("expected redaction disabled")
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "koffey.yaml")
	data := []byte(`
http:
  addr: ":7000"
llm:
  base_url: "http://from-file/v1"
  timeout: 30s
  top_p: 0.8
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KF_HTTP_ADDR", ":7001")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":7001" {
		t.Fatalf("env should win over file, got %s", cfg.HTTP.Addr)
	}
	if cfg.LLM.BaseURL != "http://from-file/v1" || cfg.LLM.Timeout != 30*time.Second || cfg.LLM.TopP != 0.8 {
		t.Fatalf("file values not applied: %+v", cfg.LLM)
	}
	if cfg.LLM.MaxAttempts != 3 {
		t.Fatalf("defaults should survive partial files, got %d", cfg.LLM.MaxAttempts)
	}
}

func TestValidateS3ListsMissingKeys(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "s3"
	cfg.S3.Endpoint = "http://minio:9000"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, key := range []string{"access_key", "secret_key", "bucket"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in %v", key, err)
		}
	}
	if strings.Contains(err.Error(), "endpoint") {
		t.Fatalf("endpoint is set and must not be reported: %v", err)
	}
}

func TestValidateUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "ftp"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestValidateQueueNeedsSharedStorage(t *testing.T) {
	for _, backend := range []string{"memory", "none"} {
		cfg := Default()
		cfg.Storage.Backend = backend
		cfg.Redis.URL = "redis://localhost:6379/0"
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "postgres or s3") {
			t.Fatalf("%s: expected shared storage error, got %v", backend, err)
		}
	}

	cfg := Default()
	cfg.Storage.Backend = "postgres"
	cfg.Database.DSN = "postgres://koffey@localhost/koffey"
	cfg.Redis.URL = "redis://localhost:6379/0"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("postgres with redis should be valid: %v", err)
	}
	if !cfg.SharedStorage() {
		t.Fatalf("postgres must count as shared storage")
	}
}
