package machine

// State represents a vending transaction state.
type State string

const (
	// StateIdle indicates the machine is waiting for a customer.
	StateIdle State = "idle"
	// StateHasMoney indicates coins are being inserted.
	StateHasMoney State = "has_money"
	// StateSelection indicates the customer is choosing a product.
	StateSelection State = "selection"
	// StateDispense is the transient dispensing step; it is entered and left
	// within a single ChooseProduct call and is never a resting state.
	StateDispense State = "dispense"
)
