package inspect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	cfgpkg "github.com/rzbill/loglens/internal/config"
	"github.com/rzbill/loglens/internal/runtime"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

// Settings carries process-wide configuration resolved by the root command
// before any subcommand runs.
type Settings struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
}

var waitStep = 50 * time.Millisecond

// session is a runtime with a set of loaded files.
type session struct {
	rt    *runtime.Runtime
	files []runtime.FileInfo
}

func (s *session) Close() { _ = s.rt.Close() }

// load opens a runtime, loads every path and waits until each file is
// either finished or stalled on a full store. A stall is reported on warn.
func load(ctx context.Context, st *Settings, paths []string, warn io.Writer) (*session, error) {
	logger := st.Logger
	if logger == nil {
		logger = logpkg.Nop()
	}
	rt, err := runtime.Open(runtime.Options{Config: st.Config, Logger: logger})
	if err != nil {
		return nil, err
	}
	s := &session{rt: rt}
	for _, p := range paths {
		files, skipped, err := rt.OpenPath(p)
		if err != nil {
			s.Close()
			return nil, err
		}
		if skipped > 0 {
			fmt.Fprintf(warn, "%s: skipped %d archive entries\n", p, skipped)
		}
		s.files = append(s.files, files...)
	}
	for i, f := range s.files {
		partial, err := waitLoaded(ctx, rt, f)
		if err != nil && ctx.Err() != nil {
			s.Close()
			return nil, err
		}
		if err != nil {
			fmt.Fprintf(warn, "%s: %v\n", f.Title, err)
		}
		if partial {
			fmt.Fprintf(warn, "%s: store full, file only partially loaded\n", f.Title)
		}
		if fi, err := rt.File(f.ID); err == nil {
			s.files[i] = fi
		}
	}
	return s, nil
}

func waitLoaded(ctx context.Context, rt *runtime.Runtime, f runtime.FileInfo) (partial bool, err error) {
	for {
		wctx, cancel := context.WithTimeout(ctx, waitStep)
		err := rt.WaitLoaded(wctx, f.ID)
		cancel()
		switch {
		case err == nil:
			return false, nil
		case ctx.Err() != nil:
			return false, ctx.Err()
		case !errors.Is(err, context.DeadlineExceeded):
			return false, err
		case rt.Store().IsFull():
			return true, nil
		}
	}
}
