// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package gateway

import (
	"net/http"
	"runtime/debug"

	"github.com/juju/clock"
)

// statusRecorder remembers the status code written to a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets streamed responses pass through the recorder.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// observeRequests logs every request with its status and duration,
// and feeds the same observation to the metrics collector.
func observeRequests(next http.Handler, clk clock.Clock, metrics *Collector) http.Handler {
	access := logger.Child("access")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := clk.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		elapsed := clk.Now().Sub(start)
		access.Infof("%s %s %d %s", r.Method, r.URL.RequestURI(), recorder.status, elapsed)
		metrics.observe(r.Method, recorder.status, elapsed)
	})
}

// recoverPanics turns a panicking handler into a 500 response instead
// of tearing down the connection.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if cause := recover(); cause != nil {
				logger.Criticalf("panic serving %s %s: %v\n%s", r.Method, r.URL.Path, cause, debug.Stack())
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
