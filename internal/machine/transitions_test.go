package machine

import "testing"

func TestIsTransitionAllowed(t *testing.T) {
	testCases := []struct {
		name     string
		from     State
		to       State
		expected bool
	}{
		{name: "idle to has money", from: StateIdle, to: StateHasMoney, expected: true},
		{name: "has money to selection", from: StateHasMoney, to: StateSelection, expected: true},
		{name: "has money back to idle on refund", from: StateHasMoney, to: StateIdle, expected: true},
		{name: "selection to dispense", from: StateSelection, to: StateDispense, expected: true},
		{name: "selection to idle on auto refund", from: StateSelection, to: StateIdle, expected: true},
		{name: "dispense to idle", from: StateDispense, to: StateIdle, expected: true},
		{name: "idle to selection invalid", from: StateIdle, to: StateSelection, expected: false},
		{name: "idle to dispense invalid", from: StateIdle, to: StateDispense, expected: false},
		{name: "has money to dispense invalid", from: StateHasMoney, to: StateDispense, expected: false},
		{name: "dispense to selection invalid", from: StateDispense, to: StateSelection, expected: false},
		{name: "unknown state invalid", from: State("unknown"), to: StateIdle, expected: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if actual := IsTransitionAllowed(tc.from, tc.to); actual != tc.expected {
				t.Errorf("IsTransitionAllowed(%s -> %s) = %t, expected %t", tc.from, tc.to, actual, tc.expected)
			}
		})
	}
}
