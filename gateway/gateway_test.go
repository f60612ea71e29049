// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package gateway_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"github.com/alicebob/miniredis/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/deltagate/gateway"
	"github.com/juju/deltagate/kvstore"
	"github.com/juju/deltagate/routing"
)

type gatewaySuite struct {
	testing.IsolationSuite

	redis   *miniredis.Miniredis
	store   kvstore.Client
	backend *httptest.Server
	self    *httptest.Server
	gateway *gateway.Gateway
}

var _ = gc.Suite(&gatewaySuite{})

func (s *gatewaySuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)

	redis, err := miniredis.Run()
	c.Assert(err, jc.ErrorIsNil)
	s.redis = redis
	s.AddCleanup(func(c *gc.C) { redis.Close() })

	s.store, err = kvstore.NewRedis(kvstore.RedisConfig{Addr: redis.Addr()})
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(c *gc.C) { c.Assert(s.store.Close(), jc.ErrorIsNil) })

	// A stand-in for the routed backend. It accepts resource PUTs
	// and lists the "items" collection.
	s.backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/"):
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"items": ["a", "b", "c"]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	s.AddCleanup(func(c *gc.C) { s.backend.Close() })

	rules, err := routing.ParseRules([]byte(fmt.Sprintf(`{
		"/res/(.*)": {
			"url": "%s/$1"
		}
	}`, s.backend.URL)), nil)
	c.Assert(err, jc.ErrorIsNil)
	router, err := routing.NewRouter(routing.RouterConfig{Rules: rules})
	c.Assert(err, jc.ErrorIsNil)

	// The gateway needs its own URL for the delta collection round
	// trip, so serve it through an indirection and wire the URL up
	// afterwards.
	s.self = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.gateway.ServeHTTP(w, r)
	}))
	s.AddCleanup(func(c *gc.C) { s.self.Close() })

	selfURL, err := url.Parse(s.self.URL)
	c.Assert(err, jc.ErrorIsNil)

	s.gateway, err = gateway.New(gateway.Config{
		Store:   s.store,
		Router:  router,
		SelfURL: selfURL,
	})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *gatewaySuite) put(c *gc.C, path string) {
	req, err := http.NewRequest(http.MethodPut, s.self.URL+path, strings.NewReader(`{}`))
	c.Assert(err, jc.ErrorIsNil)
	req.Header.Set("x-delta", "auto")
	resp, err := http.DefaultClient.Do(req)
	c.Assert(err, jc.ErrorIsNil)
	defer resp.Body.Close()
	c.Assert(resp.StatusCode, gc.Equals, http.StatusOK)
}

func (s *gatewaySuite) get(c *gc.C, path string) (*http.Response, string) {
	resp, err := http.Get(s.self.URL + path)
	c.Assert(err, jc.ErrorIsNil)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	c.Assert(err, jc.ErrorIsNil)
	return resp, string(body)
}

func (s *gatewaySuite) TestDeltaRoundTrip(c *gc.C) {
	s.put(c, "/res/items/a")
	s.put(c, "/res/items/b")
	s.put(c, "/res/items/c")

	resp, body := s.get(c, "/res/items/?delta=0")
	c.Assert(resp.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(resp.Header.Get("x-delta"), gc.Equals, "3")

	var listing map[string][]string
	c.Assert(json.Unmarshal([]byte(body), &listing), jc.ErrorIsNil)
	c.Assert(listing, jc.DeepEquals, map[string][]string{
		"items": {"a", "b", "c"},
	})
}

func (s *gatewaySuite) TestDeltaSecondFetchIsEmpty(c *gc.C) {
	s.put(c, "/res/items/a")
	s.put(c, "/res/items/b")
	s.put(c, "/res/items/c")

	resp, _ := s.get(c, "/res/items/?delta=0")
	cursor := resp.Header.Get("x-delta")
	c.Assert(cursor, gc.Equals, "3")

	resp, body := s.get(c, "/res/items/?delta="+cursor)
	c.Assert(resp.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(resp.Header.Get("x-delta"), gc.Equals, "3")

	var listing map[string][]string
	c.Assert(json.Unmarshal([]byte(body), &listing), jc.ErrorIsNil)
	c.Assert(listing["items"], gc.HasLen, 0)
}

func (s *gatewaySuite) TestUntrackedMemberAlwaysIncluded(c *gc.C) {
	s.put(c, "/res/items/a")
	s.put(c, "/res/items/b")

	// c has no stored marker, so it reappears in every fetch no
	// matter how far the cursor has advanced.
	resp, body := s.get(c, "/res/items/?delta=2")
	c.Assert(resp.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(resp.Header.Get("x-delta"), gc.Equals, "2")

	var listing map[string][]string
	c.Assert(json.Unmarshal([]byte(body), &listing), jc.ErrorIsNil)
	c.Assert(listing, jc.DeepEquals, map[string][]string{
		"items": {"c"},
	})
}

func (s *gatewaySuite) TestDeltaPartialFetch(c *gc.C) {
	s.put(c, "/res/items/a")
	s.put(c, "/res/items/b")
	s.put(c, "/res/items/c")

	resp, body := s.get(c, "/res/items/?delta=2")
	c.Assert(resp.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(resp.Header.Get("x-delta"), gc.Equals, "3")

	var listing map[string][]string
	c.Assert(json.Unmarshal([]byte(body), &listing), jc.ErrorIsNil)
	c.Assert(listing, jc.DeepEquals, map[string][]string{
		"items": {"c"},
	})
}

func (s *gatewaySuite) TestPlainRequestsRouted(c *gc.C) {
	resp, _ := s.get(c, "/res/items/")
	c.Assert(resp.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(resp.Header.Get("x-delta"), gc.Equals, "")
}

func (s *gatewaySuite) TestUnmatchedPath(c *gc.C) {
	resp, body := s.get(c, "/nowhere")
	c.Assert(resp.StatusCode, gc.Equals, http.StatusNotFound)
	c.Assert(strings.TrimSpace(body), gc.Equals, "No rule matching /nowhere")
}

func (s *gatewaySuite) TestMetricsEndpoint(c *gc.C) {
	s.put(c, "/res/items/a")

	resp, body := s.get(c, "/metrics")
	c.Assert(resp.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(strings.Contains(body, "deltagate_requests_total"), jc.IsTrue)
}

func (s *gatewaySuite) TestAdminRules(c *gc.C) {
	resp, body := s.get(c, "/admin/rules")
	c.Assert(resp.StatusCode, gc.Equals, http.StatusOK)
	c.Assert(resp.Header.Get("Content-Type"), gc.Equals, "application/json")

	var views []map[string]interface{}
	c.Assert(json.Unmarshal([]byte(body), &views), jc.ErrorIsNil)
	c.Assert(views, gc.HasLen, 1)
	c.Assert(views[0]["pattern"], gc.Equals, "/res/(.*)")
	c.Assert(views[0]["url"], gc.Equals, s.backend.URL+"/$1")
}

func (s *gatewaySuite) TestConfigValidation(c *gc.C) {
	_, err := gateway.New(gateway.Config{})
	c.Assert(err, gc.ErrorMatches, "nil Store not valid")
}
