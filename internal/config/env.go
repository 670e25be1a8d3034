package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays LOGLENS_* environment variables onto cfg. Unparseable
// values are ignored.
func FromEnv(cfg *Config) {
	ints := map[string]*int{
		"LOGLENS_TARGET_CAPACITY_MB":          &cfg.TargetCapacityMB,
		"LOGLENS_MAX_CONCURRENT_COMPRESSIONS": &cfg.MaxConcurrentCompressions,
		"LOGLENS_MAX_FILES_PER_ARCHIVE":       &cfg.MaxFilesPerArchive,
		"LOGLENS_BLOCK_CHARS":                 &cfg.BlockChars,
		"LOGLENS_POLL_INTERVAL_MS":            &cfg.PollIntervalMs,
		"LOGLENS_SEARCH_PARALLELISM":          &cfg.SearchParallelism,
		"LOGLENS_MAX_MATCHES":                 &cfg.MaxMatches,
		"LOGLENS_CACHE_SPANS":                 &cfg.CacheSpans,
		"LOGLENS_LOG_SAMPLE_INITIAL":          &cfg.Log.SampleInitial,
		"LOGLENS_LOG_SAMPLE_THEREAFTER":       &cfg.Log.SampleThereafter,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	if v := os.Getenv("LOGLENS_PAYLOAD_BACKEND"); v != "" {
		cfg.PayloadBackend = v
	}
	if v := os.Getenv("LOGLENS_PAYLOAD_DIR"); v != "" {
		cfg.PayloadDir = v
	}
	if v := os.Getenv("LOGLENS_COMPRESSION_LEVEL"); v != "" {
		cfg.CompressionLevel = v
	}
	if v := os.Getenv("LOGLENS_READ_AHEAD"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ReadAhead = b
		}
	}
	if v := os.Getenv("LOGLENS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOGLENS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOGLENS_LOG_REDACT"); v != "" {
		cfg.Log.Redact = nil
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.Log.Redact = append(cfg.Log.Redact, k)
			}
		}
	}
}
