package domain

import (
	"fmt"
	"strings"
)

// Action is the verdict a scan produces for a destination.
type Action uint8

const (
	// ActionNone lets the destination through.
	ActionNone Action = iota
	// ActionBlock stops the destination.
	ActionBlock
)

// String returns the wire representation of the action ("NONE" or "BLOCK").
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "NONE"
	case ActionBlock:
		return "BLOCK"
	default:
		return fmt.Sprintf("Action(%d)", a)
	}
}

// ParseAction converts "NONE" or "BLOCK" (case-insensitive) into an Action.
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return ActionNone, nil
	case "BLOCK":
		return ActionBlock, nil
	default:
		return 0, fmt.Errorf("unsupported Action: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	switch a {
	case ActionNone, ActionBlock:
		return []byte(a.String()), nil
	default:
		return nil, fmt.Errorf("unsupported Action: %d", a)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
