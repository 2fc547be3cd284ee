// Package server implements the connection acceptor.
//
// A Server owns the listening socket. Each accepted connection is wrapped
// into a worker.Job that calls the connection handler, and the job is
// handed to the worker pool. The acceptor never runs handlers itself, so a
// slow handler ties up one worker but never blocks Accept.
//
//	pool, _ := worker.Build(4)
//	srv := server.New(server.DefaultConfig(), pool, h.Handle)
//	err := srv.Serve(ctx) // returns after ctx is cancelled and the pool has drained
//
// # Shutdown
//
// Cancelling ctx closes the listener, which unblocks Accept. The loop then
// exits and Serve shuts the pool down: queued and running jobs finish,
// workers are joined, and only then does Serve return. A non-zero
// PollInterval additionally bounds each Accept with a deadline.
//
// # Accept errors
//
// Timeouts and transient errors (aborted connections, descriptor
// exhaustion) are retried with a backoff of 5ms doubling up to 1s. Any
// other error ends the loop and is returned from Serve.
package server
