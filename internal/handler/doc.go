// Package handler serves one request per TCP connection.
//
// It reads the request line, picks a route by exact match, and writes a
// status line, a Content-Length header and a page body before closing the
// connection:
//
//	GET / HTTP/1.1       200 OK with hello.html
//	GET /sleep HTTP/1.1  same, after SleepDelay
//	GET /error HTTP/1.1  no response, returns ErrRequestedFailure
//	anything else        404 NOT FOUND with 404.html
//
// Pages are embedded in the binary and can be replaced by pointing
// Config.StaticDir at a directory holding hello.html and 404.html.
//
// This is deliberately not an HTTP implementation: there is no header
// parsing, keep-alive or chunked encoding.
package handler
