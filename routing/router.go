// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package routing

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/juju/errors"
)

// defaultForwardTimeout bounds a forwarded request when the matching
// rule does not set its own.
const defaultForwardTimeout = 30 * time.Second

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RouterConfig holds the dependencies of a Router.
type RouterConfig struct {
	// Rules is the ordered rule set; the first match wins.
	Rules []Rule

	// Client issues the forwarded requests. Defaults to a plain
	// http.Client.
	Client *http.Client

	// DefaultTimeout bounds forwarded requests for rules without an
	// explicit timeout. Defaults to defaultForwardTimeout.
	DefaultTimeout time.Duration
}

type compiledRule struct {
	rule    Rule
	pattern *regexp.Regexp
	methods map[string]bool
}

// Router is the routing collaborator: it matches a request against the
// rule set and streams it to the matched backend.
type Router struct {
	rules          []compiledRule
	client         *http.Client
	defaultTimeout time.Duration
}

// NewRouter compiles the rule set into a Router.
func NewRouter(config RouterConfig) (*Router, error) {
	client := config.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := config.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}
	router := &Router{
		client:         client,
		defaultTimeout: timeout,
	}
	for _, rule := range config.Rules {
		pattern, err := regexp.Compile(anchored(rule.Pattern))
		if err != nil {
			return nil, errors.Annotatef(err, "compiling rule pattern %q", rule.Pattern)
		}
		compiled := compiledRule{rule: rule, pattern: pattern}
		if len(rule.Methods) > 0 {
			compiled.methods = make(map[string]bool)
			for _, method := range rule.Methods {
				compiled.methods[strings.ToUpper(method)] = true
			}
		}
		router.rules = append(router.rules, compiled)
	}
	return router, nil
}

func anchored(pattern string) string {
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	if !strings.HasSuffix(pattern, "$") {
		pattern = pattern + "$"
	}
	return pattern
}

// Rules returns the active rule set in definition order.
func (router *Router) Rules() []Rule {
	rules := make([]Rule, len(router.rules))
	for i, compiled := range router.rules {
		rules[i] = compiled.rule
	}
	return rules
}

// ServeHTTP is part of the http.Handler interface.
func (router *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, compiled := range router.rules {
		if !compiled.pattern.MatchString(r.URL.Path) {
			continue
		}
		if compiled.methods != nil && !compiled.methods[r.Method] {
			continue
		}
		router.forward(w, r, compiled)
		return
	}
	logger.Debugf("no rule matching %q", r.URL.Path)
	http.Error(w, "No rule matching "+r.URL.Path, http.StatusNotFound)
}

// forward streams the request to the rule's target, substituting
// pattern capture groups into the target URL, and streams the backend
// response back out.
func (router *Router) forward(w http.ResponseWriter, r *http.Request, compiled compiledRule) {
	target := compiled.pattern.ReplaceAllString(r.URL.Path, compiled.rule.URL)
	dest, err := url.Parse(target)
	if err != nil {
		logger.Errorf("rule %q produced invalid target %q: %v", compiled.rule.Pattern, target, err)
		http.Error(w, "Invalid forwarding target", http.StatusInternalServerError)
		return
	}
	dest.RawQuery = r.URL.RawQuery

	timeout := compiled.rule.Timeout
	if timeout <= 0 {
		timeout = router.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	freq, err := http.NewRequestWithContext(ctx, r.Method, dest.String(), r.Body)
	if err != nil {
		logger.Errorf("building forward request for %q failed: %v", dest, err)
		http.Error(w, "Invalid forwarding target", http.StatusInternalServerError)
		return
	}
	freq.Header = r.Header.Clone()
	for _, name := range hopHeaders {
		freq.Header.Del(name)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		freq.Header.Set("X-Forwarded-For", host)
	}

	logger.Tracef("forwarding %s %s to %s", r.Method, r.URL.Path, dest)
	resp, err := router.client.Do(freq)
	if err != nil {
		logger.Errorf("forwarding %s %s to %q failed: %v", r.Method, r.URL.Path, dest, err)
		http.Error(w, "Error forwarding request", http.StatusBadGateway)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	header := w.Header()
	for name, values := range resp.Header {
		header[name] = values
	}
	for _, name := range hopHeaders {
		header.Del(name)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Errorf("streaming response from %q failed: %v", dest, err)
	}
}
