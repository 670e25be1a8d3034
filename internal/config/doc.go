// Package config loads loglens settings: built-in defaults, an optional JSON
// file, then LOGLENS_* environment overrides, clamped by Validate.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/loglens.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
//	cfg.Validate()
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
