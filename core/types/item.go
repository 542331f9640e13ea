package types

import (
	"bytes"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Item is a uniquely identified asset held by an account or by an escrow
// custody container. Items move between holders; they are never copied.
type Item struct {
	Kind string
	Data []byte
}

// ID derives the item identifier deterministically from the item contents.
// Two items with identical kind and data are the same item.
func (it *Item) ID() [32]byte {
	if it == nil {
		return [32]byte{}
	}
	return ethcrypto.Keccak256Hash([]byte(it.Kind), it.Data)
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	return &Item{
		Kind: it.Kind,
		Data: append([]byte(nil), it.Data...),
	}
}

// Equal reports whether two items have the same contents.
func (it *Item) Equal(other *Item) bool {
	if it == nil || other == nil {
		return it == other
	}
	return it.Kind == other.Kind && bytes.Equal(it.Data, other.Data)
}

// SanitizeItem validates the supplied item and returns a defensive copy.
func SanitizeItem(it *Item) (*Item, error) {
	if it == nil {
		return nil, fmt.Errorf("nil item")
	}
	if it.Kind == "" {
		return nil, fmt.Errorf("item kind required")
	}
	return it.Clone(), nil
}
