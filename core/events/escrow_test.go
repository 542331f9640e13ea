package events

import (
	"math/big"
	"testing"
)

func TestEscrowCreatedAttributes(t *testing.T) {
	evt := EscrowCreated{
		ID:              [32]byte{0x01},
		Creator:         [20]byte{0xAA},
		Recipient:       [20]byte{0xBB},
		CreatorItems:    [][32]byte{{0x10}, {0x11}},
		CreatorAmount:   big.NewInt(100),
		RecipientItems:  [][32]byte{{0x20}},
		RecipientAmount: big.NewInt(50),
		CreatedAt:       1_700_000_000,
	}
	payload := evt.Event()
	if payload.Type != TypeEscrowCreated {
		t.Fatalf("unexpected type %q", payload.Type)
	}
	attrs := payload.Attributes
	if attrs["creatorAmount"] != "100" || attrs["recipientAmount"] != "50" {
		t.Fatalf("unexpected amounts: %q / %q", attrs["creatorAmount"], attrs["recipientAmount"])
	}
	if attrs["createdAt"] != "1700000000" {
		t.Fatalf("unexpected createdAt: %q", attrs["createdAt"])
	}
	if attrs["creator"] == attrs["recipient"] {
		t.Fatalf("parties collapsed in attributes")
	}
	if attrs["creatorItems"] == "" || attrs["recipientItems"] == "" {
		t.Fatalf("missing item identifier lists")
	}
}

func TestNilAmountFormatsAsZero(t *testing.T) {
	evt := EscrowExchanged{ID: [32]byte{0x02}, Fee: nil}
	if got := evt.Event().Attributes["fee"]; got != "0" {
		t.Fatalf("expected nil fee to format as zero, got %q", got)
	}
}

func TestCanceledCarriesCreatorOnly(t *testing.T) {
	evt := EscrowCanceled{ID: [32]byte{0x03}, Creator: [20]byte{0xCC}}
	payload := evt.Event()
	if payload.Type != TypeEscrowCanceled {
		t.Fatalf("unexpected type %q", payload.Type)
	}
	if len(payload.Attributes) != 2 {
		t.Fatalf("unexpected attribute count: %d", len(payload.Attributes))
	}
}
