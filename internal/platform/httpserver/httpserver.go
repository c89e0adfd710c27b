// Package httpserver constructs the registry's HTTP server.
package httpserver

import (
	"net/http"
	"time"
)

// New builds the server with timeouts sized for a small JSON API: every
// request is a handful of single-statement store calls, so anything slower
// than a few seconds is stuck, not busy.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
