package capture

import (
	"errors"
	"fmt"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
)

const IDPrefix = "#!::"

var (
	ErrInvalidSlashes = errors.New("invalid number of slashes, must be 1 or 2")
	ErrInvalidMode    = errors.New("invalid mode")
	ErrMissingName    = errors.New("missing name after slash")
)

// Mode - client mode
type Mode uint8

const (
	_ Mode = iota
	ModePlay
	ModePublish
)

func (m Mode) String() string {
	switch m {
	case ModePlay:
		return "play"
	case ModePublish:
		return "publish"
	default:
		return "unknown"
	}
}

// StreamID is the parsed SRT stream id of a connecting peer
type StreamID struct {
	str      string
	mode     Mode
	name     string
	password string
}

// ParseStreamID reads a stream id in either the access control syntax
// (#!::r=name,m=publish) or the short form <mode>/<name>[/<password>].
// An empty id publishes the default stream.
func ParseStreamID(src string) (StreamID, error) {
	var s StreamID
	switch {
	case src == "":
		s.mode = ModePublish
		s.name = "default"

	case strings.HasPrefix(src, IDPrefix):
		s.mode = ModePlay
		for _, kv := range strings.Split(src[len(IDPrefix):], ",") {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return StreamID{}, fmt.Errorf("invalid value %q", kv)
			}
			switch key {
			case "u", "h", "t":
			case "r":
				s.name = value
			case "s":
				s.password = value
			case "m":
				switch value {
				case "request":
					s.mode = ModePlay
				case "publish":
					s.mode = ModePublish
				default:
					return StreamID{}, ErrInvalidMode
				}
			default:
				return StreamID{}, fmt.Errorf("unsupported key '%s'", key)
			}
		}

	default:
		split := strings.Split(src, "/")
		if len(split) == 3 {
			s.password = split[2]
		} else if len(split) != 2 {
			return StreamID{}, ErrInvalidSlashes
		}
		s.name = split[1]
		switch split[0] {
		case "play":
			s.mode = ModePlay
		case "publish":
			s.mode = ModePublish
		default:
			return StreamID{}, ErrInvalidMode
		}
	}

	if len(s.name) == 0 {
		return StreamID{}, ErrMissingName
	}
	s.str = src
	return s, nil
}

// Match checks the stream id against a pattern.
// The pattern may contain * to match any number of characters.
func (s StreamID) Match(pattern string) bool {
	return wildcard.Match(pattern, s.str)
}

func (s StreamID) String() string {
	return s.str
}

func (s StreamID) Mode() Mode {
	return s.mode
}

func (s StreamID) Name() string {
	return s.name
}

func (s StreamID) Password() string {
	return s.password
}

// Allowlist admits stream ids matching any of its patterns.
// An empty allowlist admits everything.
type Allowlist []string

func (a Allowlist) Allowed(id StreamID) bool {
	if len(a) == 0 {
		return true
	}
	for _, pattern := range a {
		if id.Match(pattern) {
			return true
		}
	}
	return false
}
