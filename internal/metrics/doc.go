// Package metrics collects statistics about command round trips.
//
// Metrics counts successful and failed exchanges, the get/set mix,
// reconnects and live sessions, and keeps a bounded latency sample for
// P99 estimation. All counters are lock-free; only the latency sample is
// guarded by a mutex.
//
// # Basic Usage
//
//	m := metrics.New()
//
//	start := time.Now()
//	// ... send a command and read the reply ...
//	m.RecordSuccess(command.KindGet, time.Since(start))
//
//	snap := m.Snapshot()
//	fmt.Println(snap.Report())
package metrics
