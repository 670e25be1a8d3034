package spanstore

import "time"

// MetricsHook observes store activity.
type MetricsHook interface {
	SpanAppended(lines int64, compressedBytes, rawBytes int, compressTime time.Duration)
	StoreSize(compressedBytes, rawBytes int64, full bool)
	SpanDecoded(elapsed time.Duration)
	CacheEvicted()
	FileUnloaded()
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) SpanAppended(int64, int, int, time.Duration) {}
func (NoopMetrics) StoreSize(int64, int64, bool)                {}
func (NoopMetrics) SpanDecoded(time.Duration)                   {}
func (NoopMetrics) CacheEvicted()                               {}
func (NoopMetrics) FileUnloaded()                               {}
