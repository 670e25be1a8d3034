package pebblestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrNotFound is returned by Get for a missing payload.
var ErrNotFound = pebble.ErrNotFound

// Options configures the payload database.
type Options struct {
	// DataDir, when set, places the database on disk. It is treated as
	// scratch space: the directory's previous contents are not read back.
	DataDir string
	// PebbleOptions allows advanced tuning of Pebble. If nil, sensible defaults are used.
	PebbleOptions *pebble.Options
	// Metrics allows observing read/write latencies and sizes. Optional.
	Metrics MetricsHook
}

// MetricsHook is a minimal hook surface for storage observations.
type MetricsHook interface {
	ObserveWrite(elapsed time.Duration, bytes int)
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveDeleteRange(elapsed time.Duration)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveWrite(time.Duration, int)  {}
func (NoopMetrics) ObserveRead(time.Duration, int)   {}
func (NoopMetrics) ObserveDeleteRange(time.Duration) {}

// DB wraps a Pebble database holding span payloads.
type DB struct {
	inner   *pebble.DB
	metrics MetricsHook
}

// Open creates the database. With an empty DataDir it is memory-backed.
func Open(opts Options) (*DB, error) {
	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	dir := opts.DataDir
	if dir == "" {
		po.FS = vfs.NewMem()
		dir = "payloads"
	}
	// Payloads are rebuilt from the source on every run; the WAL buys nothing.
	po.DisableWAL = true

	inner, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", dir, err)
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &DB{inner: inner, metrics: metrics}, nil
}

// Close closes the Pebble database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

func filePrefix(file string) []byte {
	return append(append([]byte("f/"), file...), "/s/"...)
}

// fileUpperBound is the exclusive end of a file's key range.
func fileUpperBound(file string) []byte {
	b := filePrefix(file)
	b[len(b)-1]++
	return b
}

func payloadKey(file string, seq uint32) []byte {
	return binary.BigEndian.AppendUint32(filePrefix(file), seq)
}

// Put stores the payload for span seq of file.
func (db *DB) Put(file string, seq uint32, payload []byte) error {
	start := time.Now()
	if err := db.inner.Set(payloadKey(file, seq), payload, pebble.NoSync); err != nil {
		return err
	}
	db.metrics.ObserveWrite(time.Since(start), len(payload))
	return nil
}

// Get copies the payload for span seq of file.
func (db *DB) Get(file string, seq uint32) ([]byte, error) {
	start := time.Now()
	val, closer, err := db.inner.Get(payloadKey(file, seq))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	buf := append([]byte(nil), val...)
	db.metrics.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}

// DeleteFile drops every payload of file and compacts the range so the
// memory is returned.
func (db *DB) DeleteFile(file string) error {
	start := time.Now()
	lo, hi := filePrefix(file), fileUpperBound(file)
	if err := db.inner.DeleteRange(lo, hi, pebble.NoSync); err != nil {
		return err
	}
	db.metrics.ObserveDeleteRange(time.Since(start))
	return db.inner.Compact(lo, hi, true)
}

// Count returns the number of payloads stored for file.
func (db *DB) Count(file string) (int, error) {
	it, err := db.inner.NewIter(&pebble.IterOptions{LowerBound: filePrefix(file), UpperBound: fileUpperBound(file)})
	if err != nil {
		return 0, err
	}
	n := 0
	for valid := it.First(); valid; valid = it.Next() {
		n++
	}
	return n, errors.Join(it.Error(), it.Close())
}
