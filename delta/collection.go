// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package delta

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// collectionError reports a backend body that cannot be interpreted as
// a collection listing. The status and message are sent to the client
// verbatim.
type collectionError struct {
	status  int
	message string
}

// Error is part of the error interface.
func (e *collectionError) Error() string {
	return e.message
}

// collection is a backend collection listing decomposed into the
// wrapping field name and the member names, in listing order.
type collection struct {
	name    string
	members []string
}

// verifyCollection parses a backend response body as a collection
// listing: a JSON object with exactly one field whose value is an
// array of member names. Members may be plain strings or, for
// expanded listings, one-field objects keyed by the member name.
func verifyCollection(path string, body []byte) (collection, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return collection{}, &collectionError{
			status:  http.StatusBadRequest,
			message: fmt.Sprintf("Collection from backend is not valid JSON: %s", path),
		}
	}
	if len(root) != 1 {
		return collection{}, &collectionError{
			status:  http.StatusBadRequest,
			message: fmt.Sprintf("Resource is not a collection: %s", path),
		}
	}
	result := collection{}
	for name, raw := range root {
		result.name = name
		var members []json.RawMessage
		if err := json.Unmarshal(raw, &members); err != nil {
			return collection{}, &collectionError{
				status:  http.StatusBadRequest,
				message: fmt.Sprintf("Resource is not a collection: %s", path),
			}
		}
		result.members = make([]string, 0, len(members))
		for _, member := range members {
			name, err := memberName(member)
			if err != nil {
				return collection{}, &collectionError{
					status:  http.StatusBadRequest,
					message: fmt.Sprintf("Invalid collection member in %s: %v", path, err),
				}
			}
			result.members = append(result.members, name)
		}
	}
	return result, nil
}

func memberName(raw json.RawMessage) (string, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name, nil
	}
	var expanded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &expanded); err == nil && len(expanded) == 1 {
		for key := range expanded {
			return key, nil
		}
	}
	return "", fmt.Errorf("expected a name or a one-field object, got %s", raw)
}
