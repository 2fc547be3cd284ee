// Package client provides a load generator for the hello-tcp server.
//
// The Client opens one TCP connection per request, sends a single request
// line and reads back the status line. Requests are executed on a
// worker.Pool of its own, so the generator exercises the same pool
// implementation the server uses.
//
// # Basic Usage
//
//	config := client.DefaultConfig()
//	config.Addr = "127.0.0.1:7878"
//	config.Paths = []string{"/", "/sleep"}
//	cl := client.New(config)
//
//	// Run for a duration
//	snap, err := cl.RunFor(ctx, 10*time.Second)
//
//	// Or run a fixed number of requests
//	snap, err := cl.RunRequests(ctx, 10000)
//
// Per-status counts are available in Snapshot.Routes, keyed by the status
// code ("200", "404") or "no_response" when the server hung up without
// answering.
package client
