package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"swapyard/core/types"
)

const (
	TypeEscrowCreated   = "escrow.created"
	TypeEscrowCanceled  = "escrow.canceled"
	TypeEscrowExchanged = "escrow.exchanged"
)

// EscrowCreated is emitted when a creator opens a new escrow and deposits its
// pledge into the record's custody container.
type EscrowCreated struct {
	ID              [32]byte
	Creator         [20]byte
	Recipient       [20]byte
	CreatorItems    [][32]byte
	CreatorAmount   *big.Int
	RecipientItems  [][32]byte
	RecipientAmount *big.Int
	CreatedAt       int64
}

func (EscrowCreated) EventType() string { return TypeEscrowCreated }

func (e EscrowCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowCreated,
		Attributes: map[string]string{
			"id":              hex.EncodeToString(e.ID[:]),
			"creator":         hex.EncodeToString(e.Creator[:]),
			"recipient":       hex.EncodeToString(e.Recipient[:]),
			"creatorItems":    encodeIDList(e.CreatorItems),
			"creatorAmount":   formatAmount(e.CreatorAmount),
			"recipientItems":  encodeIDList(e.RecipientItems),
			"recipientAmount": formatAmount(e.RecipientAmount),
			"createdAt":       strconv.FormatInt(e.CreatedAt, 10),
		},
	}
}

// EscrowCanceled is emitted when the creator reclaims its deposit before the
// exchange completes.
type EscrowCanceled struct {
	ID      [32]byte
	Creator [20]byte
}

func (EscrowCanceled) EventType() string { return TypeEscrowCanceled }

func (e EscrowCanceled) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowCanceled,
		Attributes: map[string]string{
			"id":      hex.EncodeToString(e.ID[:]),
			"creator": hex.EncodeToString(e.Creator[:]),
		},
	}
}

// EscrowExchanged is emitted when both pledges have been swapped and the
// record reached its terminal exchanged state.
type EscrowExchanged struct {
	ID        [32]byte
	Creator   [20]byte
	Recipient [20]byte
	Fee       *big.Int
}

func (EscrowExchanged) EventType() string { return TypeEscrowExchanged }

func (e EscrowExchanged) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowExchanged,
		Attributes: map[string]string{
			"id":        hex.EncodeToString(e.ID[:]),
			"creator":   hex.EncodeToString(e.Creator[:]),
			"recipient": hex.EncodeToString(e.Recipient[:]),
			"fee":       formatAmount(e.Fee),
		},
	}
}
