package sync

import "fmt"

// BindingState is a step in a binding's lifecycle:
// Created → Watching → (Reconciling) → Running → Stopped.
type BindingState int

const (
	StateCreated BindingState = iota
	StateWatching
	StateReconciling
	StateRunning
	StateStopped
)

func (s BindingState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateWatching:
		return "watching"
	case StateReconciling:
		return "reconciling"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Live reports whether the binding accepts filesystem events in this state.
func (s BindingState) Live() bool {
	return s == StateWatching || s == StateReconciling || s == StateRunning
}

// MarshalText renders the state by name in JSON.
func (s BindingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *BindingState) UnmarshalText(text []byte) error {
	for c := StateCreated; c <= StateStopped; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown binding state %q", text)
}
