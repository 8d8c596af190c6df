// Package metrics holds the daemon counters. The counter names are part of
// the client protocol (count/<name> queries) and must not change.
package metrics

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
)

// Externally visible counter names.
const (
	CounterMessages   = "msg"
	CounterDuplicates = "dubbel"
	CounterStale      = "ouder"
	CounterGCStation  = "gc_station"
	CounterGCTrain    = "gc_trein"
	CounterInjections = "injecties"
)

// Metrics is the set of daemon counters. Counters are monotonic and safe for
// concurrent use; exactness across readers is not required, only that no
// increment is lost.
type Metrics struct {
	messages   atomic.Int64
	duplicates atomic.Int64
	stale      atomic.Int64
	gcStation  atomic.Int64
	gcTrain    atomic.Int64
	injections atomic.Int64

	otel map[string]metric.Int64Counter
}

// New constructs a zeroed Metrics value.
func New() *Metrics {
	return &Metrics{}
}

// InstrumentOTel mirrors every counter into an OpenTelemetry counter on the
// given meter. The atomics stay authoritative; the OTel side only exports.
func (m *Metrics) InstrumentOTel(meter metric.Meter) error {
	names := map[string]string{
		CounterMessages:   "dvs.messages.processed",
		CounterDuplicates: "dvs.messages.duplicate",
		CounterStale:      "dvs.messages.stale",
		CounterGCStation:  "dvs.gc.station",
		CounterGCTrain:    "dvs.gc.train",
		CounterInjections: "dvs.injections",
	}
	m.otel = make(map[string]metric.Int64Counter, len(names))
	for name, instrument := range names {
		counter, err := meter.Int64Counter(instrument)
		if err != nil {
			return err
		}
		m.otel[name] = counter
	}
	return nil
}

func (m *Metrics) inc(name string, counter *atomic.Int64) {
	counter.Add(1)
	if c, ok := m.otel[name]; ok {
		c.Add(context.Background(), 1)
	}
}

// IncMessages counts one processed feed payload, successful or not.
func (m *Metrics) IncMessages() { m.inc(CounterMessages, &m.messages) }

// IncDuplicates counts a message dropped for carrying an identical timestamp.
func (m *Metrics) IncDuplicates() { m.inc(CounterDuplicates, &m.duplicates) }

// IncStale counts a message dropped for carrying an older timestamp.
func (m *Metrics) IncStale() { m.inc(CounterStale, &m.stale) }

// IncGCStation counts an unexplained overdue departure found in the station
// index.
func (m *Metrics) IncGCStation() { m.inc(CounterGCStation, &m.gcStation) }

// IncGCTrain counts an unexplained overdue departure found in the train
// index.
func (m *Metrics) IncGCTrain() { m.inc(CounterGCTrain, &m.gcTrain) }

// IncInjections counts a received injection request.
func (m *Metrics) IncInjections() { m.inc(CounterInjections, &m.injections) }

// Messages returns the processed-message counter. The downtime detector
// samples it every minute.
func (m *Metrics) Messages() int64 { return m.messages.Load() }

// Get returns the counter with the given externally visible name.
func (m *Metrics) Get(name string) (int64, bool) {
	switch name {
	case CounterMessages:
		return m.messages.Load(), true
	case CounterDuplicates:
		return m.duplicates.Load(), true
	case CounterStale:
		return m.stale.Load(), true
	case CounterGCStation:
		return m.gcStation.Load(), true
	case CounterGCTrain:
		return m.gcTrain.Load(), true
	case CounterInjections:
		return m.injections.Load(), true
	}
	return 0, false
}
