package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/loglens/internal/search"
	"github.com/rzbill/loglens/internal/spanstore"
	pebblestore "github.com/rzbill/loglens/internal/storage/pebble"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

var (
	_ spanstore.MetricsHook   = (*Metrics)(nil)
	_ search.MetricsHook      = (*Metrics)(nil)
	_ pebblestore.MetricsHook = (*Metrics)(nil)
)

func TestMetrics_StoreSize(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.StoreSize(2048, 8192, true)
	require.Equal(t, float64(2048), testutil.ToFloat64(m.CompressedBytes))
	require.Equal(t, float64(8192), testutil.ToFloat64(m.RawBytes))
	require.Equal(t, float64(1), testutil.ToFloat64(m.StoreFull))

	m.StoreSize(0, 0, false)
	require.Equal(t, float64(0), testutil.ToFloat64(m.StoreFull))
}

func TestMetrics_SearchOutcome(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SearchStarted(3)
	m.SearchFinished(10, true, time.Millisecond)
	m.SearchFinished(2, false, time.Millisecond)
	m.SearchFinished(0, false, time.Millisecond)

	require.Equal(t, float64(1), testutil.ToFloat64(m.SearchesStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(m.SearchesFinished.WithLabelValues("terminated")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.SearchesFinished.WithLabelValues("complete")))
}

func TestMetrics_WiredThroughStore(t *testing.T) {
	m := New(prometheus.NewRegistry())
	db, err := pebblestore.Open(pebblestore.Options{Metrics: m})
	require.NoError(t, err)
	st, err := spanstore.New(spanstore.Options{
		Logger:   logpkg.Nop(),
		Metrics:  m,
		Payloads: spanstore.NewPebblePayloads(db),
	})
	require.NoError(t, err)
	defer st.Close()

	app := st.AddFile("a")
	require.NoError(t, app.Append([]string{"one", "two", "three"}))
	app.Wait()
	line, err := st.GetLine(app.File(), 2)
	require.NoError(t, err)
	require.Equal(t, "two", line)

	require.Equal(t, float64(1), testutil.ToFloat64(m.SpansAppended))
	require.Equal(t, float64(3), testutil.ToFloat64(m.LinesStored))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PayloadOps.WithLabelValues("put")))
	require.Greater(t, testutil.ToFloat64(m.CompressedBytes), float64(0))

	s := search.New(st, app.File(), search.WithMetrics(m), search.WithLogger(logpkg.Nop()))
	require.NoError(t, s.StartFind(context.Background(), "t", search.FindOptions{}))
	require.Eventually(t, func() bool {
		_, p, err := s.GetNewResults(nil)
		return err == nil && p.Done
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, float64(1), testutil.ToFloat64(m.SearchesFinished.WithLabelValues("complete")))

	st.Unload(app.File())
	require.Equal(t, float64(1), testutil.ToFloat64(m.FilesUnloaded))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PayloadOps.WithLabelValues("delete_file")))
	require.Equal(t, float64(0), testutil.ToFloat64(m.CompressedBytes))
}
