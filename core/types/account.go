package types

import (
	"math/big"
	"sort"
)

// Account tracks the fungible balance and the unique items owned by an
// address. Items are kept sorted by identifier so persisted encodings stay
// deterministic.
type Account struct {
	Nonce   uint64
	Balance *big.Int
	Items   []*Item
}

// EnsureAccount normalises a possibly-nil account into a usable value.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	for _, it := range a.Items {
		clone.Items = append(clone.Items, it.Clone())
	}
	return clone
}

// Item returns the owned item with the given identifier, if present.
func (a *Account) Item(id [32]byte) (*Item, bool) {
	if a == nil {
		return nil, false
	}
	for _, it := range a.Items {
		if it != nil && it.ID() == id {
			return it, true
		}
	}
	return nil, false
}

// AddItem inserts an item into the account, keeping the collection sorted.
func (a *Account) AddItem(it *Item) {
	if a == nil || it == nil {
		return
	}
	a.Items = append(a.Items, it)
	sortItems(a.Items)
}

// RemoveItem removes and returns the owned item with the given identifier.
func (a *Account) RemoveItem(id [32]byte) (*Item, bool) {
	if a == nil {
		return nil, false
	}
	for i, it := range a.Items {
		if it != nil && it.ID() == id {
			a.Items = append(a.Items[:i], a.Items[i+1:]...)
			return it, true
		}
	}
	return nil, false
}

func sortItems(items []*Item) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].ID(), items[j].ID()
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}
