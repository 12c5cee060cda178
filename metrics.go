package textgo

import "github.com/hupe1980/textgo/internal/engine"

// MetricsObserver receives engine events. Implementations must be safe for
// concurrent use and should not block.
//
// See metrics/prometheus for a Prometheus implementation.
type MetricsObserver = engine.MetricsObserver

// NoopMetricsObserver discards every event.
type NoopMetricsObserver = engine.NoopMetricsObserver

// BasicMetricsObserver keeps in-memory counters.
//
//	m := &textgo.BasicMetricsObserver{}
//	db, _ := textgo.Open("./data", textgo.WithMetricsObserver(m))
//	fmt.Println(m.Inserts.Load(), m.Conflicts.Load())
type BasicMetricsObserver = engine.BasicMetricsObserver
