package vending

// ItemType identifies a product line stocked by the machine.
type ItemType string

const (
	// TypeCoke tags Coca-Cola cans.
	TypeCoke ItemType = "coke"
	// TypePepsi tags Pepsi cans.
	TypePepsi ItemType = "pepsi"
	// TypeJuice tags juice bottles.
	TypeJuice ItemType = "juice"
	// TypeSoda tags generic soda cans.
	TypeSoda ItemType = "soda"
)

// Valid reports whether t is a known product type.
func (t ItemType) Valid() bool {
	switch t {
	case TypeCoke, TypePepsi, TypeJuice, TypeSoda:
		return true
	}
	return false
}

// Item is an immutable product descriptor: what it is and what it costs.
type Item struct {
	Type       ItemType `json:"type"`
	PriceCents int      `json:"price_cents"`
}
