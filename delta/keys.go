// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package delta

import (
	"strings"
)

const (
	// sequenceKey is the shared counter every update marker is
	// allocated from.
	sequenceKey = "delta:sequence"

	// resourceKeyPrefix namespaces the per-resource update markers.
	resourceKeyPrefix = "delta:resources"

	// etagKeyPrefix namespaces the per-resource stored validators.
	etagKeyPrefix = "delta:etags"
)

// keyClass selects the namespace a resource key is derived under.
type keyClass int

const (
	resourceClass keyClass = iota
	etagClass
)

// resourceKey derives the storage key for the given request path.
// The path is split on "/" with empty segments dropped, so "/a/b",
// "/a/b/" and "a/b" all derive the same key.
func resourceKey(path string, class keyClass) string {
	prefix := resourceKeyPrefix
	if class == etagClass {
		prefix = etagKeyPrefix
	}
	segments := []string{prefix}
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return strings.Join(segments, ":")
}
