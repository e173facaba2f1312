package vending

import (
	"errors"
	"sync"
)

// DefaultCodeBase is the product code assigned to the first shelf.
const DefaultCodeBase = 101

var (
	// ErrInvalidCapacity indicates an inventory was requested with a non-positive shelf count.
	ErrInvalidCapacity = errors.New("inventory capacity must be positive")
	// ErrUnknownCode indicates no shelf is configured for the requested product code.
	ErrUnknownCode = errors.New("unknown product code")
	// ErrItemNotAvailable indicates the shelf exists but holds nothing dispensable.
	ErrItemNotAvailable = errors.New("item not available")
)

// ItemShelf is one storage slot: a product code, an optional item, and a sold-out flag.
type ItemShelf struct {
	Code    int
	Item    *Item
	SoldOut bool
}

// Inventory is a fixed set of shelves keyed by sequential product codes.
// It is created empty and stocked through AddItem before the machine serves
// customers; the mutex covers the operator surfaces (restock, hot reload)
// that touch it outside the transaction event stream.
type Inventory struct {
	mu       sync.RWMutex
	codeBase int
	shelves  map[int]*ItemShelf
}

// NewInventory creates capacity empty shelves with codes assigned sequentially
// starting at DefaultCodeBase.
func NewInventory(capacity int) (*Inventory, error) {
	return NewInventoryWithBase(capacity, DefaultCodeBase)
}

// NewInventoryWithBase creates capacity empty shelves with codes starting at base.
func NewInventoryWithBase(capacity, base int) (*Inventory, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	shelves := make(map[int]*ItemShelf, capacity)
	for i := 0; i < capacity; i++ {
		code := base + i
		shelves[code] = &ItemShelf{Code: code}
	}

	return &Inventory{
		codeBase: base,
		shelves:  shelves,
	}, nil
}

// AddItem stocks item on the shelf for code and clears its sold-out flag.
func (inv *Inventory) AddItem(item Item, code int) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	shelf, ok := inv.shelves[code]
	if !ok {
		return ErrUnknownCode
	}

	stocked := item
	shelf.Item = &stocked
	shelf.SoldOut = false
	return nil
}

// GetItem returns the item stocked at code. It fails with ErrUnknownCode when
// no shelf matches and with ErrItemNotAvailable when the shelf is empty or
// marked sold out.
func (inv *Inventory) GetItem(code int) (Item, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	shelf, ok := inv.shelves[code]
	if !ok {
		return Item{}, ErrUnknownCode
	}

	if shelf.Item == nil || shelf.SoldOut {
		return Item{}, ErrItemNotAvailable
	}

	return *shelf.Item, nil
}

// MarkSoldOut flags the shelf for code as no longer dispensable. Marking an
// already sold-out shelf is not an error.
func (inv *Inventory) MarkSoldOut(code int) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	shelf, ok := inv.shelves[code]
	if !ok {
		return ErrUnknownCode
	}

	shelf.SoldOut = true
	return nil
}

// Capacity returns the number of shelves.
func (inv *Inventory) Capacity() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.shelves)
}

// SoldOutCount returns how many shelves are currently not dispensable,
// counting both flagged and never-stocked shelves.
func (inv *Inventory) SoldOutCount() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	count := 0
	for _, shelf := range inv.shelves {
		if shelf.SoldOut || shelf.Item == nil {
			count++
		}
	}
	return count
}
