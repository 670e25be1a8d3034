// Package loader opens a path into one ingestor per contained text file:
// plain files, gzip, zstd and bzip2 streams, and zip archives.
package loader

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/rzbill/loglens/internal/ingest"
	"github.com/rzbill/loglens/internal/readahead"
	"github.com/rzbill/loglens/internal/spanstore"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

// ErrEmptyArchive is returned for an archive without regular files.
var ErrEmptyArchive = errors.New("loader: archive has no files")

// Options configures Load.
type Options struct {
	// MaxFilesPerArchive caps ingestors created from one archive. Default 25.
	MaxFilesPerArchive int
	// ReadAhead decompresses on a background goroutine.
	ReadAhead bool
	Ingest    ingest.Options
	Logger    logpkg.Logger
}

// File is one ingestable text stream found at a path.
type File struct {
	ID       spanstore.FileID
	Title    string
	Path     string
	Ingestor *ingest.Ingestor
}

// Result is what Load found. Skipped counts archive entries past the cap.
type Result struct {
	Files   []*File
	Skipped int
}

// Load registers every text stream at path with store and returns paused
// ingestors for them.
func Load(path string, store *spanstore.Store, opts Options) (*Result, error) {
	if opts.MaxFilesPerArchive <= 0 {
		opts.MaxFilesPerArchive = 25
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewLogger()
	}
	if opts.Ingest.Logger == nil {
		opts.Ingest.Logger = opts.Logger
	}
	log := opts.Logger.With(logpkg.Component("loader"), logpkg.Str("path", path))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return loadZip(path, store, opts, log)
	case ".gz", ".gzip":
		return loadStream(path, store, opts, func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		})
	case ".zst", ".zstd":
		return loadStream(path, store, opts, func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		})
	case ".bz2":
		return loadStream(path, store, opts, func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(bzip2.NewReader(r)), nil
		})
	default:
		return loadStream(path, store, opts, nil)
	}
}

type decompressor func(io.Reader) (io.ReadCloser, error)

func loadStream(path string, store *spanstore.Store, opts Options, decomp decompressor) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var r io.Reader = f
	closers := []io.Closer{f}
	if decomp != nil {
		d, err := decomp(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("loader: open %s: %w", path, err)
		}
		r = d
		closers = append([]io.Closer{d}, closers...)
	}
	src := wrap(r, closers, opts.ReadAhead && decomp != nil)
	file := newFile(store, filepath.Base(path), path, src, opts)
	return &Result{Files: []*File{file}}, nil
}

func loadZip(path string, store *spanstore.Store, opts Options, log logpkg.Logger) (*Result, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("loader: open %s: %w", path, err)
	}
	var entries []*zip.File
	for _, e := range zr.File {
		if e.Mode().IsRegular() {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		_ = zr.Close()
		return nil, fmt.Errorf("%w: %s", ErrEmptyArchive, path)
	}

	res := &Result{}
	if len(entries) > opts.MaxFilesPerArchive {
		res.Skipped = len(entries) - opts.MaxFilesPerArchive
		log.Warn("archive holds too many files; loading the first ones",
			logpkg.Int("files", len(entries)), logpkg.Int("loading", opts.MaxFilesPerArchive))
		entries = entries[:opts.MaxFilesPerArchive]
	}

	archive := &sharedCloser{c: zr}
	archive.refs.Store(int32(len(entries)))
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for i, e := range entries {
		rc, err := e.Open()
		if err != nil {
			for _, f := range res.Files {
				_ = f.Ingestor.Close()
				store.Unload(f.ID)
			}
			// Entries never opened still hold a reference each.
			for j := i; j < len(entries); j++ {
				_ = archive.Close()
			}
			return nil, fmt.Errorf("loader: open %s:%s: %w", path, e.Name, err)
		}
		src := wrap(rc, []io.Closer{rc, archive}, opts.ReadAhead)
		res.Files = append(res.Files, newFile(store, base+":"+e.Name, path, src, opts))
	}
	return res, nil
}

func newFile(store *spanstore.Store, title, path string, src ingest.LineSource, opts Options) *File {
	app := store.AddFile(title)
	return &File{
		ID:       app.File(),
		Title:    title,
		Path:     path,
		Ingestor: ingest.New(store, app, src, opts.Ingest),
	}
}

// wrap turns a byte stream into a line source that releases closers, in
// order, when the ingestor closes it.
func wrap(r io.Reader, closers []io.Closer, readAhead bool) ingest.LineSource {
	rc := &multiCloser{Reader: r, closers: closers}
	if readAhead {
		return ingest.NewReaderSource(readahead.NewReader(rc))
	}
	return ingest.NewReaderSource(rc)
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sharedCloser closes c once every holder has released it.
type sharedCloser struct {
	c    io.Closer
	refs atomic.Int32
}

func (s *sharedCloser) Close() error {
	if s.refs.Add(-1) == 0 {
		return s.c.Close()
	}
	return nil
}
