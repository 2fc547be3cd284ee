// Package worker provides a fixed-size goroutine pool for executing jobs.
//
// A Pool owns N workers and the producer side of an unbounded FIFO queue.
// Each worker is a dedicated goroutine that takes one job at a time from
// the queue, runs it to completion and goes back for the next one. Jobs
// are delivered to exactly one worker in submission order; which worker
// picks up which job, and the order in which concurrent jobs finish, is
// not defined.
//
// # Basic Usage
//
//	pool, err := worker.Build(4)
//	if err != nil {
//	    return err // size was < 1
//	}
//	defer pool.Shutdown()
//
//	pool.Execute(func() {
//	    // do work
//	})
//
// # Failures
//
// A panicking job is recovered inside its worker, logged and counted. The
// worker keeps serving later jobs. Errors a job wants to report are its own
// business: Job has no return value.
//
// # Shutdown
//
// Shutdown closes the queue, lets the workers drain what was already
// queued, and joins them in ascending id order. It blocks until every
// worker has exited and is safe to call more than once. Execute after
// Shutdown has begun discards the job and returns false.
//
// Shutdown must not be called from inside a job: the worker running that
// job would wait on itself.
package worker
