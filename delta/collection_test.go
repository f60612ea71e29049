// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package delta

import (
	"net/http"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type collectionSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&collectionSuite{})

func (s *collectionSuite) TestPlainMembers(c *gc.C) {
	col, err := verifyCollection("/server/tests", []byte(`{"tests": ["a", "b", "c"]}`))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(col.name, gc.Equals, "tests")
	c.Assert(col.members, jc.DeepEquals, []string{"a", "b", "c"})
}

func (s *collectionSuite) TestExpandedMembers(c *gc.C) {
	col, err := verifyCollection("/server/tests", []byte(`{"tests": [{"a": {"x": 1}}, "b"]}`))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(col.members, jc.DeepEquals, []string{"a", "b"})
}

func (s *collectionSuite) TestEmptyCollection(c *gc.C) {
	col, err := verifyCollection("/server/tests", []byte(`{"tests": []}`))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(col.name, gc.Equals, "tests")
	c.Assert(col.members, gc.HasLen, 0)
}

func (s *collectionSuite) TestNotJSON(c *gc.C) {
	_, err := verifyCollection("/server/tests", []byte(`<html>`))
	cerr := errorStatus(c, err)
	c.Assert(cerr.status, gc.Equals, http.StatusBadRequest)
	c.Assert(cerr.message, gc.Equals, "Collection from backend is not valid JSON: /server/tests")
}

func (s *collectionSuite) TestMultipleFields(c *gc.C) {
	_, err := verifyCollection("/server/tests", []byte(`{"tests": [], "more": []}`))
	cerr := errorStatus(c, err)
	c.Assert(cerr.status, gc.Equals, http.StatusBadRequest)
	c.Assert(cerr.message, gc.Equals, "Resource is not a collection: /server/tests")
}

func (s *collectionSuite) TestValueNotAnArray(c *gc.C) {
	_, err := verifyCollection("/server/tests", []byte(`{"tests": {"a": 1}}`))
	cerr := errorStatus(c, err)
	c.Assert(cerr.status, gc.Equals, http.StatusBadRequest)
	c.Assert(cerr.message, gc.Equals, "Resource is not a collection: /server/tests")
}

func (s *collectionSuite) TestBadMember(c *gc.C) {
	_, err := verifyCollection("/server/tests", []byte(`{"tests": [42]}`))
	cerr := errorStatus(c, err)
	c.Assert(cerr.status, gc.Equals, http.StatusBadRequest)
	c.Assert(cerr.message, gc.Matches, "Invalid collection member in /server/tests: .*")
}

func errorStatus(c *gc.C, err error) *collectionError {
	c.Assert(err, gc.NotNil)
	cerr, ok := err.(*collectionError)
	c.Assert(ok, jc.IsTrue)
	return cerr
}
