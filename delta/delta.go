// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package delta implements the delta-synchronization layer of the
// gateway. Collection GETs carrying a delta cursor are answered with
// only the members changed since that cursor; PUTs marked for delta
// tracking record a monotonically increasing update marker for the
// resource, short-circuited when a conditional token shows the write
// to be a duplicate of the last one recorded.
package delta

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/deltagate/kvstore"
)

var logger = loggo.GetLogger("deltagate.delta")

const (
	// deltaParam is the query parameter carrying the client cursor on
	// a collection GET.
	deltaParam = "delta"

	// deltaHeader marks a PUT for automatic delta tracking (value
	// "auto") and carries the new cursor on a delta GET response.
	deltaHeader = "x-delta"

	// backendHeader marks the gateway's own backend round trip so a
	// forwarded collection GET is not classified as a fresh delta
	// request when it re-enters the gateway.
	backendHeader = "x-delta-backend"

	// defaultBackendTimeout bounds the backend round trip of a delta
	// collection GET.
	defaultBackendTimeout = 120 * time.Second
)

// loopbackKey marks a request context as belonging to a backend
// round trip. The header itself is stripped on entry; classification
// only ever consults the context flag.
type loopbackKey struct{}

func withBackendLoopback(ctx context.Context) context.Context {
	return context.WithValue(ctx, loopbackKey{}, true)
}

func isBackendLoopback(r *http.Request) bool {
	flag, _ := r.Context().Value(loopbackKey{}).(bool)
	return flag
}

// HandlerConfig holds the dependencies of a delta Handler.
type HandlerConfig struct {
	// Store is the key-value store holding sequence, markers and
	// validators.
	Store kvstore.Client

	// Next is the routing collaborator requests are handed to once
	// delta bookkeeping is done.
	Next http.Handler

	// Backend is the base URL delta collection GETs are re-issued
	// against, normally the gateway's own listen address so routing
	// applies to the round trip.
	Backend *url.URL

	// Client issues the backend round trips. Defaults to a plain
	// http.Client.
	Client *http.Client

	// BackendTimeout bounds a backend round trip. Defaults to
	// defaultBackendTimeout.
	BackendTimeout time.Duration

	// DefaultExpiry is the time to live for marker and validator
	// writes when the request does not set one. Defaults to 20 days.
	DefaultExpiry time.Duration
}

// Validate returns an error if the config is missing a dependency.
func (c HandlerConfig) Validate() error {
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if c.Next == nil {
		return errors.NotValidf("nil Next")
	}
	if c.Backend == nil {
		return errors.NotValidf("nil Backend")
	}
	return nil
}

// Handler recognises delta-eligible requests and drives the PUT
// short-circuit and collection GET filtering flows. Everything else
// is passed to the next handler untouched.
type Handler struct {
	store   kvstore.Client
	next    http.Handler
	backend *url.URL
	client  *http.Client
	timeout time.Duration
	expiry  time.Duration
}

// NewHandler returns a Handler wired to the given dependencies.
func NewHandler(config HandlerConfig) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	client := config.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := config.BackendTimeout
	if timeout <= 0 {
		timeout = defaultBackendTimeout
	}
	expiry := config.DefaultExpiry
	if expiry <= 0 {
		expiry = defaultExpirySeconds * time.Second
	}
	return &Handler{
		store:   config.Store,
		next:    config.Next,
		backend: config.Backend,
		client:  client,
		timeout: timeout,
		expiry:  expiry,
	}, nil
}

// ServeHTTP is part of the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := r.Header[http.CanonicalHeaderKey(backendHeader)]; ok {
		r.Header.Del(backendHeader)
		r = r.WithContext(withBackendLoopback(r.Context()))
	}
	switch {
	case isDeltaPUT(r):
		h.handleResourcePUT(w, r)
	case isDeltaGET(r):
		h.handleCollectionGET(w, r)
	default:
		h.next.ServeHTTP(w, r)
	}
}

func isDeltaPUT(r *http.Request) bool {
	if r.Method != http.MethodPut {
		return false
	}
	return strings.EqualFold(r.Header.Get(deltaHeader), "auto")
}

func isDeltaGET(r *http.Request) bool {
	if r.Method != http.MethodGet || isBackendLoopback(r) {
		return false
	}
	return r.URL.Query().Has(deltaParam)
}

// handleResourcePUT runs the delta PUT flow: evaluate the
// conditional-update gate, allocate and persist a marker if it says
// update, then hand the request on. The inbound body is not consumed
// here; the next handler pulls it once the storage work is done,
// which keeps the client from streaming into an unbounded buffer
// while the decision is pending.
func (h *Handler) handleResourcePUT(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.shouldUpdate(ctx, r) {
		logger.Debugf("validator match for %q, skipping delta update", r.URL.Path)
		h.next.ServeHTTP(w, r)
		return
	}
	updateID, err := h.store.Incr(ctx, sequenceKey)
	if err != nil {
		logger.Errorf("incr command for key %q failed: %v", sequenceKey, err)
		serveError(w, http.StatusInternalServerError, "error incrementing/accessing sequence for update-id")
		return
	}
	key := resourceKey(r.URL.Path, resourceClass)
	if err := h.store.SetEx(ctx, key, expireAfter(r.Header, h.expiry), strconv.FormatInt(updateID, 10)); err != nil {
		logger.Errorf("setex command for key %q failed: %v", key, err)
		serveError(w, http.StatusInternalServerError, "error saving delta information")
		return
	}
	h.next.ServeHTTP(w, r)
}

// handleCollectionGET runs the delta GET flow: fetch the collection
// from the backend with the loopback marker set, then either stream
// the response through untouched (already filtered upstream) or
// filter its members against the stored markers and the client
// cursor.
func (h *Handler) handleCollectionGET(w http.ResponseWriter, r *http.Request) {
	rawCursor := r.URL.Query().Get(deltaParam)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	target := h.backend.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	})
	logger.Debugf("constructed backend uri for request: %s", target)

	breq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), r.Body)
	if err != nil {
		logger.Errorf("building backend request for %q failed: %v", target, err)
		serveError(w, http.StatusInternalServerError, "error building backend request")
		return
	}
	breq.Header = r.Header.Clone()
	breq.Header.Set(backendHeader, "")
	breq.Header.Set("Accept", "application/json")

	bresp, err := h.client.Do(breq)
	if err != nil {
		logger.Errorf("backend request to %q failed: %v", target, err)
		serveError(w, http.StatusBadGateway, "error contacting backend")
		return
	}
	defer func() {
		_ = bresp.Body.Close()
	}()

	header := w.Header()
	for name, values := range bresp.Header {
		// The body is rewritten below, so the backend length no
		// longer holds and the response goes out chunked.
		if name == "Content-Length" {
			continue
		}
		header[name] = values
	}

	if _, ok := bresp.Header[http.CanonicalHeaderKey(deltaHeader)]; ok {
		// Already filtered upstream, stream it through untouched.
		w.WriteHeader(bresp.StatusCode)
		if _, err := io.Copy(w, bresp.Body); err != nil {
			logger.Errorf("streaming backend response for %q failed: %v", target, err)
		}
		return
	}

	body, err := io.ReadAll(bresp.Body)
	if err != nil {
		logger.Errorf("reading backend response for %q failed: %v", target, err)
		serveError(w, http.StatusBadGateway, "error reading backend response")
		return
	}

	col, err := verifyCollection(r.URL.Path, body)
	if err != nil {
		cerr, ok := err.(*collectionError)
		if !ok {
			serveError(w, http.StatusInternalServerError, err.Error())
			return
		}
		serveError(w, cerr.status, cerr.message)
		return
	}

	updateID, err := strconv.ParseInt(rawCursor, 10, 64)
	if err != nil {
		logger.Errorf("bad request: invalid delta parameter %q", rawCursor)
		serveError(w, http.StatusBadRequest, "Invalid delta parameter")
		return
	}

	if len(col.members) == 0 {
		logger.Tracef("collection %q has no members, skipping storage lookup", r.URL.Path)
		header.Set(deltaHeader, strconv.FormatInt(updateID, 10))
		w.WriteHeader(bresp.StatusCode)
		_, _ = w.Write(body)
		return
	}

	prefix := resourceKey(r.URL.Path, resourceClass)
	keys := make([]string, len(col.members))
	for i, member := range col.members {
		keys[i] = prefix + ":" + member
	}
	logger.Tracef("delta resource keys for %q: %v", target, keys)

	markers, err := h.store.MGet(ctx, keys...)
	if err != nil {
		logger.Errorf("mget command for %d keys under %q failed: %v", len(keys), prefix, err)
		serveError(w, http.StatusInternalServerError, "error reading delta information")
		return
	}
	result, err := filterResources(col.members, markers, updateID)
	if err != nil {
		logger.Errorf("filtering collection %q failed: %v", r.URL.Path, err)
		serveError(w, http.StatusInternalServerError, "error reading delta information")
		return
	}

	payload, err := json.Marshal(map[string][]string{col.name: result.names})
	if err != nil {
		logger.Errorf("encoding filtered collection %q failed: %v", r.URL.Path, err)
		serveError(w, http.StatusInternalServerError, "error encoding delta information")
		return
	}
	header.Set(deltaHeader, strconv.FormatInt(result.maxUpdateID, 10))
	w.WriteHeader(bresp.StatusCode)
	_, _ = w.Write(payload)
}

// serveError replies with a plain text message. Storage failures are
// reported with a generic message; the failing key and cause only go
// to the log.
func serveError(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}
