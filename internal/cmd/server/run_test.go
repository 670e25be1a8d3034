package serverrun

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/loglens/internal/config"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

// TestRunIntegration verifies Run starts both servers and returns cleanly
// when its context ends.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	p := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(p, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	opts := Options{
		GRPCAddr: "127.0.0.1:0",
		HTTPAddr: "127.0.0.1:0",
		Config:   cfgpkg.Default(),
		Logger:   logpkg.Nop(),
		Paths:    []string{p},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := Run(ctx, opts); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.PayloadBackend = "tape"
	err := Run(context.Background(), Options{HTTPAddr: "127.0.0.1:0", Config: cfg, Logger: logpkg.Nop()})
	if err == nil {
		t.Fatalf("expected config error")
	}
}

func TestRunMissingPath(t *testing.T) {
	err := Run(context.Background(), Options{
		HTTPAddr: "127.0.0.1:0",
		Config:   cfgpkg.Default(),
		Logger:   logpkg.Nop(),
		Paths:    []string{filepath.Join(t.TempDir(), "missing.log")},
	})
	if err == nil {
		t.Fatalf("expected open error")
	}
}

func TestRunAddressInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = Run(ctx, Options{HTTPAddr: l.Addr().String(), Config: cfgpkg.Default(), Logger: logpkg.Nop()})
	if err == nil {
		t.Fatalf("expected listen error")
	}
}
