package models

import "strings"

// Wildcard subscribes an endpoint to every event type.
const Wildcard = "*"

// EventFilter is the set of event-type patterns an endpoint subscribes to.
// A pattern is an exact event type, "*", or a dotted prefix such as "shipment.*".
type EventFilter []string

// Matches reports whether eventType is selected by any pattern in f.
func (f EventFilter) Matches(eventType string) bool {
	for _, pattern := range f {
		switch {
		case pattern == Wildcard:
			return true
		case pattern == eventType:
			return true
		case strings.HasSuffix(pattern, ".*"):
			prefix := strings.TrimSuffix(pattern, "*")
			if strings.HasPrefix(eventType, prefix) && len(eventType) > len(prefix) {
				return true
			}
		}
	}
	return false
}
