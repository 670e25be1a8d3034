// Package search runs cancellable, parallel substring scans over a file's
// spans and hands results back in line order.
//
// StartFind snapshots the file's spans and scans each on a bounded worker
// pool. GetNewResults is polled by a single consumer; it walks the snapshot
// in span order and never skips a span that is still being scanned, so
// matches always arrive in increasing line order.
package search
