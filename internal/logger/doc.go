// Package logger provides a small levelled logger shared by the pool,
// the acceptor and the connection handler.
//
// Each line carries a timestamp, a level and an optional scope. The scope
// names where the line came from: a worker ("worker-2"), a connection id,
// or nothing for process-wide messages.
//
//	logger.Info("", "Listening on %s", addr)
//	logger.Info("worker-0", "Received a new job")
//	logger.Warn(connID, "Failed to handle connection: %v", err)
//
// The level can be taken from configuration with ParseLevel:
//
//	lvl, err := logger.ParseLevel("debug")
//	logger.Default.SetLevel(lvl)
//
// All operations are protected by a mutex and safe for concurrent use.
package logger
