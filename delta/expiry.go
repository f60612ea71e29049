// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package delta

import (
	"net/http"
	"strconv"
	"time"
)

// expireAfterHeader lets a client override the expiry, in seconds, of
// the marker and validator written for its request.
const expireAfterHeader = "X-Expire-After"

// defaultExpirySeconds is 20 days.
const defaultExpirySeconds = 1728000

// expireAfter returns the time to live for marker and validator
// writes. An absent, unparseable or negative header value yields the
// fallback. The store rejects negative expiries, so those are never
// passed through.
func expireAfter(headers http.Header, fallback time.Duration) time.Duration {
	value := headers.Get(expireAfterHeader)
	if value == "" {
		logger.Debugf("no %s header, using default expiry of %s", expireAfterHeader, fallback)
		return fallback
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		logger.Warningf("%s header value %q is not a number, using default expiry of %s", expireAfterHeader, value, fallback)
		return fallback
	}
	if seconds < 0 {
		logger.Warningf("%s header value %q is negative, using default expiry of %s", expireAfterHeader, value, fallback)
		return fallback
	}
	logger.Debugf("using expiry of %d seconds from %s header", seconds, expireAfterHeader)
	return time.Duration(seconds) * time.Second
}
