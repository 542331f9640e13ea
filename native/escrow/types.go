package escrow

import (
	"fmt"
	"math/big"
)

// CurrentVersion is the hub schema version this code understands. Hubs
// persisted by older deployments must be migrated before they accept
// state-changing operations again.
const CurrentVersion uint64 = 3

// DefaultFeeUnits is the exchange fee configured at bootstrap, in
// fungible-balance units.
const DefaultFeeUnits int64 = 25

// EscrowStatus represents the lifecycle states of an escrow record.
type EscrowStatus uint8

const (
	// EscrowActive records a proposed exchange whose creator pledge sits in
	// custody awaiting the recipient.
	EscrowActive EscrowStatus = iota
	// EscrowCanceled is terminal: the creator reclaimed its deposit.
	EscrowCanceled
	// EscrowExchanged is terminal: both pledges swapped custody.
	EscrowExchanged
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowActive, EscrowCanceled, EscrowExchanged:
		return true
	default:
		return false
	}
}

// Terminal reports whether the record can no longer transition.
func (s EscrowStatus) Terminal() bool {
	return s == EscrowCanceled || s == EscrowExchanged
}

// String returns the canonical lowercase status name.
func (s EscrowStatus) String() string {
	switch s {
	case EscrowActive:
		return "active"
	case EscrowCanceled:
		return "canceled"
	case EscrowExchanged:
		return "exchanged"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Escrow captures one proposed or completed exchange. The parties, the
// promised identifier sets and the promised amounts are fixed at creation;
// only Status changes afterwards, exactly once.
type Escrow struct {
	ID               [32]byte
	Creator          [20]byte
	Recipient        [20]byte
	CreatorItemIDs   [][32]byte
	CreatorAmount    *big.Int
	RecipientItemIDs [][32]byte
	RecipientAmount  *big.Int
	CreatedAt        int64
	Status           EscrowStatus
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.CreatorItemIDs = append([][32]byte(nil), e.CreatorItemIDs...)
	clone.RecipientItemIDs = append([][32]byte(nil), e.RecipientItemIDs...)
	if e.CreatorAmount != nil {
		clone.CreatorAmount = new(big.Int).Set(e.CreatorAmount)
	} else {
		clone.CreatorAmount = big.NewInt(0)
	}
	if e.RecipientAmount != nil {
		clone.RecipientAmount = new(big.Int).Set(e.RecipientAmount)
	} else {
		clone.RecipientAmount = big.NewInt(0)
	}
	return &clone
}

// CreatorItems returns the creator's deposited identifiers as a set.
func (e *Escrow) CreatorItems() *IDSet {
	set, _ := NewIDSetFromList(e.CreatorItemIDs)
	return set
}

// RecipientItems returns the promised recipient identifiers as a set.
func (e *Escrow) RecipientItems() *IDSet {
	set, _ := NewIDSetFromList(e.RecipientItemIDs)
	return set
}

// SanitizeEscrow validates and normalises the supplied record, returning a
// cloned instance with sorted identifier lists and non-nil amounts. The
// original value is not mutated.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if clone.Creator == clone.Recipient {
		return nil, fmt.Errorf("escrow creator and recipient must differ")
	}
	if clone.CreatorAmount.Sign() < 0 || clone.RecipientAmount.Sign() < 0 {
		return nil, fmt.Errorf("escrow amounts must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	creatorSet, err := NewIDSetFromList(clone.CreatorItemIDs)
	if err != nil {
		return nil, err
	}
	recipientSet, err := NewIDSetFromList(clone.RecipientItemIDs)
	if err != nil {
		return nil, err
	}
	clone.CreatorItemIDs = creatorSet.IDs()
	clone.RecipientItemIDs = recipientSet.IDs()
	return clone, nil
}

// Hub holds the ledger-wide administrative state: the schema version, the
// exchange fee, the accumulated fee balance and the record sequence counter.
// Individual escrow records live in the state backend keyed by identifier.
type Hub struct {
	Version      uint64
	FeeAmount    *big.Int
	FeeBalance   *big.Int
	NextSequence uint64
	AdminCapID   [32]byte
}

// Clone returns a deep copy of the hub parameters.
func (h *Hub) Clone() *Hub {
	if h == nil {
		return nil
	}
	clone := *h
	if h.FeeAmount != nil {
		clone.FeeAmount = new(big.Int).Set(h.FeeAmount)
	} else {
		clone.FeeAmount = big.NewInt(0)
	}
	if h.FeeBalance != nil {
		clone.FeeBalance = new(big.Int).Set(h.FeeBalance)
	} else {
		clone.FeeBalance = big.NewInt(0)
	}
	return &clone
}

// SanitizeHub validates the hub parameters and returns a normalised copy.
func SanitizeHub(h *Hub) (*Hub, error) {
	if h == nil {
		return nil, fmt.Errorf("nil hub")
	}
	clone := h.Clone()
	if clone.Version == 0 || clone.Version > CurrentVersion {
		return nil, fmt.Errorf("unsupported hub version: %d", clone.Version)
	}
	if clone.FeeAmount.Sign() < 0 {
		return nil, fmt.Errorf("hub fee must be non-negative")
	}
	if clone.FeeBalance.Sign() < 0 {
		return nil, fmt.Errorf("hub fee balance must be non-negative")
	}
	return clone, nil
}
