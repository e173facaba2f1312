package machine

// validTransitions contains the permitted transitions of the vending FSM.
// Dispense appears for completeness of the table even though the machine
// never rests there.
var validTransitions = map[State][]State{
	StateIdle: {
		StateHasMoney,
	},
	StateHasMoney: {
		StateSelection,
		StateIdle,
	},
	StateSelection: {
		StateDispense,
		StateIdle,
	},
	StateDispense: {
		StateIdle,
	},
}

// IsTransitionAllowed reports whether moving from one state to another is valid.
func IsTransitionAllowed(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	for _, state := range allowed {
		if state == to {
			return true
		}
	}

	return false
}
