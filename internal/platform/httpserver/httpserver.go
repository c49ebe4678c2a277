package httpserver

import (
	"net/http"
	"time"
)

// New builds the HTTP server with sane timeouts. Webhook callbacks and
// provider-bound requests both go through this server, so write timeouts
// stay above the bounded provider call timeout.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
