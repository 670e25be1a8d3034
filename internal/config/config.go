package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	logpkg "github.com/rzbill/loglens/pkg/log"
)

// Payload backends.
const (
	BackendHeap   = "heap"
	BackendPebble = "pebble"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// TargetCapacityMB is the compressed budget at which ingestion backs off.
	TargetCapacityMB          int    `json:"targetCapacityMb"`
	MaxConcurrentCompressions int    `json:"maxConcurrentCompressions"`
	MaxFilesPerArchive        int    `json:"maxFilesPerArchive"`
	BlockChars                int    `json:"blockChars"`
	PollIntervalMs            int    `json:"pollIntervalMs"`
	SearchParallelism         int    `json:"searchParallelism"` // 0 = NumCPU
	MaxMatches                int    `json:"maxMatches"`
	CacheSpans                int    `json:"cacheSpans"`
	PayloadBackend            string `json:"payloadBackend"`
	// PayloadDir puts pebble payloads on disk as scratch space; empty keeps
	// them in memory.
	PayloadDir       string `json:"payloadDir"`
	CompressionLevel string `json:"compressionLevel"`
	ReadAhead        bool   `json:"readAhead"`
	Log              Log    `json:"log"`
}

// Log configures the process logger.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	// Redact lists field keys whose values are masked in log output.
	Redact []string `json:"redact"`
	// SampleInitial messages per key are logged, then every
	// SampleThereafter-th one. Sampling is off while SampleThereafter is 0.
	SampleInitial    int `json:"sampleInitial"`
	SampleThereafter int `json:"sampleThereafter"`
}

// LoggerConfig converts l into the logger package's configuration.
func (l Log) LoggerConfig() *logpkg.Config {
	return &logpkg.Config{
		Level:            l.Level,
		Format:           l.Format,
		Redact:           l.Redact,
		SampleInitial:    l.SampleInitial,
		SampleThereafter: l.SampleThereafter,
	}
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		TargetCapacityMB:          1024,
		MaxConcurrentCompressions: 4,
		MaxFilesPerArchive:        25,
		BlockChars:                1_000_000,
		PollIntervalMs:            100,
		MaxMatches:                1000,
		CacheSpans:                64,
		PayloadBackend:            BackendHeap,
		CompressionLevel:          "default",
		ReadAhead:                 true,
		Log:                       Log{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return Config{}, errors.New("yaml config not supported; use JSON")
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// Validate clamps out-of-range values back to their defaults and rejects
// unknown enumerations.
func (c *Config) Validate() error {
	def := Default()
	clamp := func(v *int, lo, hi, fallback int) {
		if *v < lo || *v > hi {
			*v = fallback
		}
	}
	clamp(&c.TargetCapacityMB, 1, 1<<20, def.TargetCapacityMB)
	clamp(&c.MaxConcurrentCompressions, 1, 256, def.MaxConcurrentCompressions)
	clamp(&c.MaxFilesPerArchive, 1, 10_000, def.MaxFilesPerArchive)
	clamp(&c.BlockChars, 1, 1<<30, def.BlockChars)
	clamp(&c.PollIntervalMs, 1, 60_000, def.PollIntervalMs)
	clamp(&c.SearchParallelism, 0, 1024, 0)
	clamp(&c.MaxMatches, 0, 1<<30, def.MaxMatches)
	clamp(&c.CacheSpans, 1, 1<<20, def.CacheSpans)
	clamp(&c.Log.SampleInitial, 0, 1<<20, 0)
	clamp(&c.Log.SampleThereafter, 0, 1<<20, 0)

	switch c.PayloadBackend {
	case "":
		c.PayloadBackend = BackendHeap
	case BackendHeap, BackendPebble:
	default:
		return errors.New("config: payloadBackend must be heap or pebble")
	}
	switch c.CompressionLevel {
	case "":
		c.CompressionLevel = "default"
	case "fastest", "default", "better", "best":
	default:
		return errors.New("config: compressionLevel must be fastest, default, better or best")
	}
	return nil
}
