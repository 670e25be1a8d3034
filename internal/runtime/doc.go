// Package runtime wires config, logging, metrics and the span store into a
// single loglens instance and tracks the files loaded into it.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	files, _, _ := rt.OpenPath("/var/log/syslog.1.gz")
//	_ = rt.WaitLoaded(context.Background(), files[0].ID)
//	s, _ := rt.NewSearcher(files[0].ID)
//	_ = s.StartFind(ctx, "error", search.FindOptions{MaxMatches: 1000})
package runtime
