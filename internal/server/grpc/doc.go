// Package grpcserver hosts the gRPC endpoint of loglens: the standard
// grpc.health.v1 service backed by the runtime health check, plus server
// reflection.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default()})
//	s := grpcserver.New(rt)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
