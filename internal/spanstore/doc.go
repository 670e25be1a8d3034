// Package spanstore holds large line-oriented files in memory as compressed
// spans.
//
// A file is registered with AddFile, which hands back the file's single
// Appender. Blocks of lines passed to Appender.Append are compressed in the
// background; a store-wide FIFO of at most MaxConcurrent in-flight tasks
// bounds the raw text buffered ahead of compression. Completed tasks are
// harvested in submission order and published as Spans, each covering a
// contiguous, 1-based range of line numbers.
//
// Decompressed lines live in a bounded LRU cache and are rebuilt from the
// compressed payload on demand. IsFull reports when the compressed total
// reaches the configured capacity; ingestors are expected to back off while
// it holds.
package spanstore
