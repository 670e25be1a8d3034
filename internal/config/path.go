package config

import (
	"os"
	"path/filepath"
)

// DefaultScratchDir returns where on-disk pebble payloads go when spilling
// is requested without an explicit directory. Nothing there outlives the
// process that wrote it.
func DefaultScratchDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "loglens")
	}
	if dir, err := os.UserCacheDir(); err == nil && isDir(dir) {
		return filepath.Join(dir, "loglens")
	}
	return filepath.Join(os.TempDir(), "loglens")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
