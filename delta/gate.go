// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package delta

import (
	"context"
	"net/http"
)

// ifNoneMatchHeader carries the client's conditional-update token, an
// opaque validator compared against the one stored for the resource.
const ifNoneMatchHeader = "If-None-Match"

// shouldUpdate decides whether a delta PUT must allocate and persist a
// new update marker. Without a conditional token the update is
// unconditional. With one, the stored validator decides: no stored
// validator or a different one means update (and the token is written
// as the new validator first); an equal one means the write is a
// duplicate and the update is skipped. A failing validator read
// degrades to updating rather than blocking the request.
func (h *Handler) shouldUpdate(ctx context.Context, r *http.Request) bool {
	token := r.Header.Get(ifNoneMatchHeader)
	if token == "" {
		return true
	}
	key := resourceKey(r.URL.Path, etagClass)
	stored, found, err := h.store.Get(ctx, key)
	if err != nil {
		logger.Errorf("get command for key %q failed: %v", key, err)
		return true
	}
	if !found || stored == "" {
		h.saveValidator(ctx, key, token, r.Header)
		return true
	}
	if stored == token {
		return false
	}
	h.saveValidator(ctx, key, token, r.Header)
	return true
}

// saveValidator stores the conditional token for the resource. A
// failed write is logged but does not stop the marker update.
func (h *Handler) saveValidator(ctx context.Context, key, token string, headers http.Header) {
	if err := h.store.SetEx(ctx, key, expireAfter(headers, h.expiry), token); err != nil {
		logger.Errorf("setex command for key %q failed: %v", key, err)
	}
}
