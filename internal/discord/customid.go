package discord

import (
	"errors"
	"fmt"
	"strings"
)

// Custom id kinds.
const (
	kindTrack    = "track"
	kindPrice    = "price"
	kindAnnounce = "announce"
)

// Track session actions.
const (
	actionSelect   = "select"
	actionPage     = "page"
	actionBack     = "back"
	actionMode     = "mode"
	actionResearch = "research"
	actionConfirm  = "confirm"
	actionCancel   = "cancel"
)

// maxCustomID is Discord's limit on component custom ids.
const maxCustomID = 100

var errBadCustomID = errors.New("malformed custom id")

// CustomID is a parsed component id of the form kind:key[:action[:arg]].
type CustomID struct {
	Kind   string
	Key    string
	Action string
	Arg    string
}

// String encodes the id.
func (c CustomID) String() string {
	parts := []string{c.Kind, c.Key}
	if c.Action != "" {
		parts = append(parts, c.Action)
		if c.Arg != "" {
			parts = append(parts, c.Arg)
		}
	}
	return strings.Join(parts, ":")
}

// ParseCustomID decodes a component id.
func ParseCustomID(s string) (CustomID, error) {
	if s == "" || len(s) > maxCustomID {
		return CustomID{}, errBadCustomID
	}
	parts := strings.SplitN(s, ":", 4)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return CustomID{}, fmt.Errorf("%q: %w", s, errBadCustomID)
	}
	id := CustomID{Kind: parts[0], Key: parts[1]}
	if len(parts) > 2 {
		id.Action = parts[2]
	}
	if len(parts) > 3 {
		id.Arg = parts[3]
	}

	switch id.Kind {
	case kindTrack:
		if id.Action == "" {
			return CustomID{}, fmt.Errorf("%q: missing action: %w", s, errBadCustomID)
		}
	case kindPrice, kindAnnounce:
	default:
		return CustomID{}, fmt.Errorf("%q: unknown kind: %w", s, errBadCustomID)
	}
	return id, nil
}

func trackID(sessionID, action, arg string) string {
	return CustomID{Kind: kindTrack, Key: sessionID, Action: action, Arg: arg}.String()
}
