// Package booking implements the three-step booking flow.
package booking

// State represents the current step of the booking flow.
type State string

const (
	StatePersonalInfo  State = "personal_info"
	StateRentalDetails State = "rental_details"
	StateConfirmation  State = "confirmation"
	StateSubmitted     State = "submitted"
	StateClosed        State = "closed"
)

// Step returns the 1-based wizard step, or 0 for terminal states.
func (s State) Step() int {
	switch s {
	case StatePersonalInfo:
		return 1
	case StateRentalDetails:
		return 2
	case StateConfirmation:
		return 3
	}
	return 0
}

// Terminal reports whether the flow has ended.
func (s State) Terminal() bool {
	return s == StateSubmitted || s == StateClosed
}

// StateTitles are short labels for each state.
var StateTitles = map[State]string{
	StatePersonalInfo:  "Personal information",
	StateRentalDetails: "Rental details",
	StateConfirmation:  "Confirmation",
	StateSubmitted:     "Booking submitted",
	StateClosed:        "Booking cancelled",
}

// FSM manages allowed state transitions. Forward moves go one step at a time;
// backward moves are always allowed.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StatePersonalInfo:  {StateRentalDetails, StateClosed},
			StateRentalDetails: {StateConfirmation, StatePersonalInfo, StateClosed},
			StateConfirmation:  {StateSubmitted, StateRentalDetails, StatePersonalInfo, StateClosed},
			StateSubmitted:     {},
			StateClosed:        {},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	allowed, ok := f.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Previous returns the state one step back.
func (f *FSM) Previous(s State) (State, bool) {
	switch s {
	case StateRentalDetails:
		return StatePersonalInfo, true
	case StateConfirmation:
		return StateRentalDetails, true
	}
	return s, false
}
