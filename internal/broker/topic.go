package broker

import "strings"

// Topic name and filter validation plus filter matching per the MQTT 3.1.1
// rules: "+" matches exactly one level, "#" matches any number of trailing
// levels and must be the last level of a filter. Topics starting with "$"
// (broker-internal topics like $SYS) are never matched by a filter whose
// first level is a wildcard.

// ValidateTopic checks a concrete (publishable) topic name. Wildcards are
// subscription syntax and are rejected here.
func ValidateTopic(topic string) error {
	if topic == "" {
		return &InvalidArgumentError{Field: "topic", Reason: "must not be empty"}
	}
	if strings.ContainsAny(topic, "+#") {
		return &InvalidArgumentError{Field: "topic", Reason: "wildcards are not allowed in a publish topic"}
	}
	if strings.ContainsRune(topic, 0) {
		return &InvalidArgumentError{Field: "topic", Reason: "must not contain NUL"}
	}
	return nil
}

// ValidateFilter checks a subscription topic filter, including wildcard
// placement: "#" only as the entire last level, "+" only as an entire level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return &InvalidArgumentError{Field: "topic", Reason: "must not be empty"}
	}
	if strings.ContainsRune(filter, 0) {
		return &InvalidArgumentError{Field: "topic", Reason: "must not contain NUL"}
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return &InvalidArgumentError{Field: "topic", Reason: `"#" must be the last level of the filter`}
			}
		case strings.Contains(level, "#"):
			return &InvalidArgumentError{Field: "topic", Reason: `"#" must occupy an entire level`}
		case level != "+" && strings.Contains(level, "+"):
			return &InvalidArgumentError{Field: "topic", Reason: `"+" must occupy an entire level`}
		}
	}
	return nil
}

// MatchFilter reports whether a concrete topic matches a subscription
// filter. Both inputs are assumed to have passed validation.
func MatchFilter(filter, topic string) bool {
	// Wildcard-leading filters never match $-prefixed topics.
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, fl := range filterLevels {
		if fl == "#" {
			// "#" also matches the parent level itself ("a/#" matches "a").
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if fl != "+" && fl != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
