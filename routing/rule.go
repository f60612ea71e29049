// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package routing dispatches gateway requests onward to their backend.
// Destinations come from a rule set: an ordered JSON object mapping an
// anchored URL pattern to a forwarding target, with ${property}
// placeholders expanded from a configured properties map. The first
// matching rule wins.
package routing

import (
	"bytes"
	"encoding/json"
	"regexp"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("deltagate.routing")

// propertyPattern matches ${name} placeholders in rule targets.
var propertyPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Rule forwards requests whose path matches Pattern to URL. Pattern is
// an anchored regular expression; capture groups may be referenced in
// URL as $1, $2 and so on.
type Rule struct {
	// Pattern is the anchored path pattern the rule applies to.
	Pattern string

	// Description says what the rule is for, for operators.
	Description string

	// URL is the forwarding target, after property expansion.
	URL string

	// Methods restricts the rule to the named HTTP methods. Empty
	// means all methods pass.
	Methods []string

	// Timeout bounds the forwarded request. Zero means the router
	// default applies.
	Timeout time.Duration
}

// ruleBody is the wire form of a single rule entry.
type ruleBody struct {
	Description    string   `json:"description"`
	URL            string   `json:"url"`
	Methods        []string `json:"methods"`
	TimeoutSeconds int      `json:"timeout"`
}

// ParseRules parses a rule set, expanding ${property} placeholders
// from the supplied properties. Definition order is preserved, which
// is what makes first-match-wins routing predictable, so the JSON
// object is walked token by token rather than through a map.
func ParseRules(data []byte, properties map[string]string) ([]Rule, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))

	token, err := decoder.Token()
	if err != nil {
		return nil, errors.Annotate(err, "parsing rules")
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, errors.NotValidf("rules document is not a JSON object")
	}

	var rules []Rule
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return nil, errors.Annotate(err, "parsing rules")
		}
		pattern, ok := token.(string)
		if !ok {
			return nil, errors.NotValidf("rule pattern %v", token)
		}
		var body ruleBody
		if err := decoder.Decode(&body); err != nil {
			return nil, errors.Annotatef(err, "parsing rule %q", pattern)
		}
		if body.URL == "" {
			return nil, errors.NotValidf("rule %q without url", pattern)
		}
		target, err := expandProperties(body.URL, properties)
		if err != nil {
			return nil, errors.Annotatef(err, "rule %q", pattern)
		}
		rules = append(rules, Rule{
			Pattern:     pattern,
			Description: body.Description,
			URL:         target,
			Methods:     body.Methods,
			Timeout:     time.Duration(body.TimeoutSeconds) * time.Second,
		})
	}
	logger.Debugf("parsed %d routing rules", len(rules))
	return rules, nil
}

// expandProperties replaces every ${name} in target with the named
// property. An unknown property is a configuration error.
func expandProperties(target string, properties map[string]string) (string, error) {
	var missing string
	expanded := propertyPattern.ReplaceAllStringFunc(target, func(match string) string {
		name := match[2 : len(match)-1]
		value, ok := properties[name]
		if !ok && missing == "" {
			missing = name
		}
		return value
	})
	if missing != "" {
		return "", errors.NotValidf("unresolved property %q", missing)
	}
	return expanded, nil
}
