package serverrun

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/loglens/internal/config"
	"github.com/rzbill/loglens/internal/runtime"
	grpcserver "github.com/rzbill/loglens/internal/server/grpc"
	httpserver "github.com/rzbill/loglens/internal/server/http"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

type Options struct {
	GRPCAddr string
	HTTPAddr string
	Config   cfgpkg.Config
	// Logger defaults to one built from Config.Log.
	Logger logpkg.Logger
	// Paths are opened before the servers start accepting requests.
	Paths []string
}

// Run starts gRPC and HTTP servers and blocks until ctx is cancelled or
// either server fails.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(opts.Config.Log.LoggerConfig())
		if err != nil {
			return err
		}
		logger = l
	}
	rt, err := runtime.Open(runtime.Options{Config: opts.Config, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	for _, p := range opts.Paths {
		if _, _, err := rt.OpenPath(p); err != nil {
			return err
		}
	}

	logger.Info("Starting loglens server",
		logpkg.Str("grpc", opts.GRPCAddr),
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Int("capacity_mb", opts.Config.TargetCapacityMB),
		logpkg.Str("payloads", opts.Config.PayloadBackend),
	)

	gsrv := grpcserver.New(rt)
	hsrv := httpserver.New(rt, httpserver.WithLogger(logger))

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		if opts.GRPCAddr == "" {
			return nil
		}
		return gsrv.ListenAndServe(gctx, opts.GRPCAddr)
	})
	g.Go(func() error { return hsrv.ListenAndServe(gctx, opts.HTTPAddr) })
	err = g.Wait()
	gsrv.Close()
	hsrv.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", logpkg.Err(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
