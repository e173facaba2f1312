// Package vending models the physical contents of the machine: coins,
// products, shelves, and the inventory that holds them.
package vending

import "fmt"

// Coin is one of the accepted coin denominations, valued in cents.
type Coin int

const (
	// Penny is the 1 cent coin.
	Penny Coin = 1
	// Nickel is the 5 cent coin.
	Nickel Coin = 5
	// Dime is the 10 cent coin.
	Dime Coin = 10
	// Quarter is the 25 cent coin.
	Quarter Coin = 25
)

// Cents returns the coin's face value in cents.
func (c Coin) Cents() int {
	return int(c)
}

// Valid reports whether c is an accepted denomination.
func (c Coin) Valid() bool {
	switch c {
	case Penny, Nickel, Dime, Quarter:
		return true
	}
	return false
}

// String returns the coin name for logs and display.
func (c Coin) String() string {
	switch c {
	case Penny:
		return "penny"
	case Nickel:
		return "nickel"
	case Dime:
		return "dime"
	case Quarter:
		return "quarter"
	}
	return fmt.Sprintf("coin(%d)", int(c))
}

// CoinList is the ordered sequence of coins accumulated during one transaction.
type CoinList []Coin

// Total sums the face values of all coins in the list.
func (l CoinList) Total() int {
	total := 0
	for _, c := range l {
		total += c.Cents()
	}
	return total
}

// Clone returns an independent copy so a refund cannot alias machine state.
func (l CoinList) Clone() CoinList {
	if l == nil {
		return nil
	}
	return append(CoinList(nil), l...)
}
