package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	logpkg "github.com/rzbill/loglens/pkg/log"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.TargetCapacityMB != 1024 {
		t.Fatalf("capacity default %d", cfg.TargetCapacityMB)
	}
	if cfg.MaxConcurrentCompressions != 4 {
		t.Fatalf("concurrency default %d", cfg.MaxConcurrentCompressions)
	}
	if cfg.MaxFilesPerArchive != 25 {
		t.Fatalf("archive cap default %d", cfg.MaxFilesPerArchive)
	}
	if cfg.BlockChars != 1_000_000 || cfg.PollIntervalMs != 100 {
		t.Fatalf("ingest defaults %d %d", cfg.BlockChars, cfg.PollIntervalMs)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "loglens.json")
	data := []byte(`{"targetCapacityMb":256,"payloadBackend":"pebble","readAhead":false}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TargetCapacityMB != 256 || cfg.PayloadBackend != BackendPebble || cfg.ReadAhead {
		t.Fatalf("unexpected %+v", cfg)
	}
	if cfg.MaxConcurrentCompressions != 4 {
		t.Fatalf("unset field lost its default")
	}
}

func TestLoadRejectsYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "loglens.yaml")
	if err := os.WriteFile(file, []byte("a: 1"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(file); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("LOGLENS_TARGET_CAPACITY_MB", "64")
	t.Setenv("LOGLENS_MAX_CONCURRENT_COMPRESSIONS", "not-a-number")
	t.Setenv("LOGLENS_READ_AHEAD", "false")
	t.Setenv("LOGLENS_LOG_LEVEL", "debug")
	FromEnv(&cfg)
	if cfg.TargetCapacityMB != 64 {
		t.Fatalf("env override capacity")
	}
	if cfg.MaxConcurrentCompressions != 4 {
		t.Fatalf("bad value should be ignored")
	}
	if cfg.ReadAhead {
		t.Fatalf("env override bool")
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("env override log level")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.TargetCapacityMB = -5
	cfg.MaxConcurrentCompressions = 0
	cfg.PayloadBackend = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.TargetCapacityMB != 1024 || cfg.MaxConcurrentCompressions != 4 || cfg.PayloadBackend != BackendHeap {
		t.Fatalf("not clamped: %+v", cfg)
	}
	cfg.PayloadBackend = "redis"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected backend error")
	}
}

func TestLogRedactionAndSamplingReachLogger(t *testing.T) {
	t.Setenv("LOGLENS_LOG_REDACT", "token, password")
	t.Setenv("LOGLENS_LOG_SAMPLE_INITIAL", "1")
	t.Setenv("LOGLENS_LOG_SAMPLE_THEREAFTER", "100")
	cfg := Default()
	FromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(cfg.Log.Redact) != 2 || cfg.Log.Redact[1] != "password" {
		t.Fatalf("redact keys %v", cfg.Log.Redact)
	}

	out := filepath.Join(t.TempDir(), "log.txt")
	lc := cfg.Log.LoggerConfig()
	lc.Outputs = []string{"file:" + out}
	logger, err := logpkg.ApplyConfig(lc)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	for i := 0; i < 3; i++ {
		logger.Info("login", logpkg.Str("token", "s3cr3t"))
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := string(b)
	if strings.Contains(got, "s3cr3t") || !strings.Contains(got, "[REDACTED]") {
		t.Fatalf("token not redacted: %s", got)
	}
	if n := strings.Count(got, "login"); n != 1 {
		t.Fatalf("sampling kept %d of 3 messages", n)
	}
}
