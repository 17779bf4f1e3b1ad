package wsclient

import (
	"encoding/json"
	"fmt"
)

// Event is a finding change notification forwarded by the relay. Data is
// the entity snapshot as published by the backend, left undecoded.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	UserID    any             `json:"userId"`
	Timestamp string          `json:"timestamp"`
}

// AuthoredBy reports whether the event was authored by the given user.
// The engine dispatches self-authored events like any other; ignoring
// them is a notification-layer policy, and this helper is how that layer
// applies it. Comparison is on the normalized string form so numeric and
// string ids referring to the same user match.
func (ev Event) AuthoredBy(userID any) bool {
	if userID == nil || ev.UserID == nil {
		return false
	}
	return fmt.Sprint(ev.UserID) == fmt.Sprint(userID)
}
