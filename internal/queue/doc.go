// Package queue provides an unbounded FIFO queue shared by many producers
// and many consumers.
//
// Send never blocks. Receive blocks until an item is available or the
// queue has been closed and drained. Each item is handed to exactly one
// receiver.
//
//	q := queue.New[func()]()
//	_ = q.Send(job)
//
//	for {
//	    job, ok := q.Receive()
//	    if !ok {
//	        return // closed
//	    }
//	    job()
//	}
//
// Close is idempotent. Items enqueued before Close are still delivered;
// Send after Close returns ErrClosed.
package queue
