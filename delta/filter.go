// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package delta

import (
	"strconv"

	"github.com/juju/errors"
)

// deltaResult is the outcome of filtering a collection against a
// client cursor: the members changed since the cursor, in original
// order, and the highest stored marker seen.
type deltaResult struct {
	maxUpdateID int64
	names       []string
}

// filterResources computes the members of a collection whose stored
// marker is newer than updateID. The markers slice is aligned by index
// with names; a nil or unparseable marker means the member was never
// tracked and is always included. Unparseable markers do not
// contribute to the returned maximum.
func filterResources(names []string, markers []*string, updateID int64) (deltaResult, error) {
	if len(names) != len(markers) {
		return deltaResult{}, errors.Errorf(
			"resource names and markers out of step: %d names, %d markers", len(names), len(markers))
	}
	result := deltaResult{names: make([]string, 0, len(names))}
	for i, name := range names {
		marker := markers[i]
		if marker == nil {
			result.names = append(result.names, name)
			continue
		}
		stored, err := strconv.ParseInt(*marker, 10, 64)
		if err != nil {
			// Not an error, just a resource that predates marker
			// tracking.
			result.names = append(result.names, name)
			continue
		}
		if stored > updateID {
			result.names = append(result.names, name)
		}
		if stored > result.maxUpdateID {
			result.maxUpdateID = stored
		}
	}
	return result, nil
}
