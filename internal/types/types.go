package types

import (
	"errors"

	json "github.com/goccy/go-json"
)

// Wire-level type discriminator for frames on the command channel
const (
	TypeNavigation = "navigation"
)

// NavType selects the routing-engine variant.
type NavType string

const (
	NavDriving NavType = "driving"
	NavRiding  NavType = "riding"
	NavWalking NavType = "walking"
)

// Valid reports whether t is one of the known navigation types.
func (t NavType) Valid() bool {
	switch t {
	case NavDriving, NavRiding, NavWalking:
		return true
	}
	return false
}

// Label is the human readable name used in status messages.
func (t NavType) Label() string {
	switch t {
	case NavDriving:
		return "Driving"
	case NavRiding:
		return "Riding"
	case NavWalking:
		return "Walking"
	}
	return string(t)
}

// Point is a raw navigation point as it arrives on the wire.
// Either lng/lat or keyword (optionally with city) is expected.
type Point struct {
	Lng     *float64 `json:"lng"`
	Lat     *float64 `json:"lat"`
	Keyword *string  `json:"keyword"`
	City    *string  `json:"city"`
}

// Command is a navigation request carried by a navigation frame.
type Command struct {
	Points  []Point `json:"points"`
	Policy  *int    `json:"policy,omitempty"`
	NavType NavType `json:"nav_type,omitempty"`
}

// Frame is the envelope of every message pushed by the command source.
type Frame struct {
	Type    string   `json:"type"`
	Command *Command `json:"command,omitempty"`
}

var errNotObject = errors.New("frame is not a JSON object")

// CommandError reports a navigation frame whose command does not decode.
type CommandError struct {
	Err error
}

func (e *CommandError) Error() string { return "invalid navigation command: " + e.Err.Error() }
func (e *CommandError) Unwrap() error { return e.Err }

// DecodeFrame parses one inbound frame. Anything that is not a JSON object
// matching the frame shape is an error. A navigation frame with a malformed
// command returns its Type together with a *CommandError.
func DecodeFrame(data []byte) (Frame, error) {
	var env struct {
		Type    string          `json:"type"`
		Command json.RawMessage `json:"command"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, err
	}
	if !isObject(data) {
		return Frame{}, errNotObject
	}

	f := Frame{Type: env.Type}
	if len(env.Command) == 0 || string(env.Command) == "null" {
		return f, nil
	}
	var cmd Command
	if err := json.Unmarshal(env.Command, &cmd); err != nil {
		if f.Type == TypeNavigation {
			return f, &CommandError{Err: err}
		}
		return Frame{}, err
	}
	f.Command = &cmd
	return f, nil
}

// Navigation returns the command of an actionable navigation frame.
func (f Frame) Navigation() (*Command, bool) {
	if f.Type != TypeNavigation || f.Command == nil {
		return nil, false
	}
	return f.Command, true
}

func isObject(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
