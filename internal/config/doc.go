// Package config resolves the service configuration.
//
// Values are layered: built-in defaults, then a YAML or JSON file, then
// HELLO_TCP_* environment variables. The command line applies flags on top.
//
//	cfg := config.Default()
//	if path != "" {
//	    fc, err := config.LoadFile(path)
//	    ...
//	    if err := fc.Apply(&cfg); err != nil { ... }
//	}
//	if err := config.ApplyEnv(&cfg); err != nil { ... }
//
// Pool size is passed through unchanged, including zero or negative
// values, so that the worker pool reports an invalid size itself.
package config
