package engine

import (
	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// metricsSet groups every counter and histogram an Engine publishes. Op
// counters use VictoriaMetrics/metrics, a process-global exposition
// registry meant to be scraped directly; record-size distributions use
// rcrowley/go-metrics, whose Histogram gives percentile readouts better
// suited to a one-off log line or admin-command dump than a scrape
// target.
type metricsSet struct {
	set *vm.Set

	sessionsOpened *vm.Counter
	upserts        *vm.Counter
	reads          *vm.Counter
	rmws           *vm.Counter
	deletes        *vm.Counter
	pendingParked  *vm.Counter
	pendingFailed  *vm.Counter

	registry      gometrics.Registry
	recordSizes   gometrics.Histogram
}

func newMetricsSet() *metricsSet {
	set := vm.NewSet()
	registry := gometrics.NewRegistry()
	recordSizes := gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015))
	registry.Register("hlkv_record_size_bytes", recordSizes)

	return &metricsSet{
		set:            set,
		sessionsOpened: set.NewCounter("hlkv_sessions_opened_total"),
		upserts:        set.NewCounter(`hlkv_ops_total{op="upsert"}`),
		reads:          set.NewCounter(`hlkv_ops_total{op="read"}`),
		rmws:           set.NewCounter(`hlkv_ops_total{op="rmw"}`),
		deletes:        set.NewCounter(`hlkv_ops_total{op="delete"}`),
		pendingParked:  set.NewCounter("hlkv_pending_parked_total"),
		pendingFailed:  set.NewCounter("hlkv_pending_failed_total"),
		registry:       registry,
		recordSizes:    recordSizes,
	}
}

// observeRecordSize feeds a freshly written record's total byte footprint
// into the size histogram.
func (m *metricsSet) observeRecordSize(n int64) {
	m.recordSizes.Update(n)
}
