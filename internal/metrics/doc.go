// Package metrics collects per-connection request statistics.
//
// Metrics records the latency and outcome of each handled connection and
// derives throughput (RPS), average and P99 latency, and the error rate.
// The same type is used by the server to describe what it served and by
// the load generator to describe what it observed.
//
//	m := metrics.New()
//
//	start := time.Now()
//	err := handle(conn)
//	m.Record("GET /", time.Since(start), err)
//
//	snap := m.Snapshot()
//	fmt.Printf("Total: %d, RPS: %.2f, P99: %v\n",
//	    snap.TotalRequests, snap.RPS, snap.P99Latency)
//
// Register mirrors the counters into a Prometheus registry.
//
// All operations are safe for concurrent use.
package metrics
