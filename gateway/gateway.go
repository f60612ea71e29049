// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package gateway assembles the HTTP surface of the delta gateway:
// the delta handler in front of the rule router, wrapped in access
// logging, metrics and panic recovery, plus the metrics and admin
// endpoints.
package gateway

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juju/deltagate/delta"
	"github.com/juju/deltagate/kvstore"
	"github.com/juju/deltagate/routing"
)

var logger = loggo.GetLogger("deltagate.gateway")

// Config holds the dependencies of a Gateway.
type Config struct {
	// Store is the key-value store holding the delta bookkeeping.
	Store kvstore.Client

	// Router dispatches requests once delta bookkeeping is done.
	Router *routing.Router

	// SelfURL is the gateway's own base URL, used for the delta
	// collection GET round trip so routing applies to it.
	SelfURL *url.URL

	// BackendTimeout bounds that round trip. Zero means the delta
	// handler default.
	BackendTimeout time.Duration

	// DefaultTTL is the expiry applied to delta bookkeeping writes
	// when the request does not set one. Zero means the delta
	// handler default.
	DefaultTTL time.Duration

	// Clock is used to time requests. Defaults to the wall clock.
	Clock clock.Clock
}

// Validate returns an error if the config is missing a dependency.
func (c Config) Validate() error {
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if c.Router == nil {
		return errors.NotValidf("nil Router")
	}
	if c.SelfURL == nil {
		return errors.NotValidf("nil SelfURL")
	}
	return nil
}

// Gateway is the assembled http.Handler.
type Gateway struct {
	handler http.Handler
	router  *routing.Router
}

// New builds a Gateway from the supplied config.
func New(config Config) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	deltaHandler, err := delta.NewHandler(delta.HandlerConfig{
		Store:          config.Store,
		Next:           config.Router,
		Backend:        config.SelfURL,
		BackendTimeout: config.BackendTimeout,
		DefaultExpiry:  config.DefaultTTL,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	metrics := NewMetricsCollector()
	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics); err != nil {
		return nil, errors.Trace(err)
	}

	gateway := &Gateway{router: config.Router}

	var chain http.Handler = deltaHandler
	chain = recoverPanics(chain)
	chain = observeRequests(chain, clk, metrics)

	root := mux.NewRouter()
	root.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	root.HandleFunc("/admin/rules", gateway.serveRules).Methods(http.MethodGet)
	root.PathPrefix("/").Handler(chain)
	gateway.handler = root

	return gateway, nil
}

// ServeHTTP is part of the http.Handler interface.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

// ruleView is the admin wire form of a routing rule.
type ruleView struct {
	Pattern     string   `json:"pattern"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url"`
	Methods     []string `json:"methods,omitempty"`
	Timeout     int      `json:"timeout,omitempty"`
}

// serveRules reports the active rule set.
func (g *Gateway) serveRules(w http.ResponseWriter, r *http.Request) {
	rules := g.router.Rules()
	views := make([]ruleView, len(rules))
	for i, rule := range rules {
		views[i] = ruleView{
			Pattern:     rule.Pattern,
			Description: rule.Description,
			URL:         rule.URL,
			Methods:     rule.Methods,
			Timeout:     int(rule.Timeout / time.Second),
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		logger.Errorf("encoding rule set: %v", err)
	}
}
