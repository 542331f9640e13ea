package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"swapyard/core/events"
	"swapyard/core/types"
)

type mockState struct {
	hub          *Hub
	escrows      map[[32]byte]*Escrow
	accounts     map[[20]byte]*types.Account
	custodyBal   map[[32]byte]*big.Int
	custodyItems map[[32]byte][]*types.Item
}

func newMockState() *mockState {
	return &mockState{
		escrows:      make(map[[32]byte]*Escrow),
		accounts:     make(map[[20]byte]*types.Account),
		custodyBal:   make(map[[32]byte]*big.Int),
		custodyItems: make(map[[32]byte][]*types.Item),
	}
}

func (m *mockState) HubGet() (*Hub, bool, error) {
	if m.hub == nil {
		return nil, false, nil
	}
	return m.hub.Clone(), true, nil
}

func (m *mockState) HubPut(hub *Hub) error {
	sanitized, err := SanitizeHub(hub)
	if err != nil {
		return err
	}
	m.hub = sanitized
	return nil
}

func (m *mockState) EscrowInsert(e *Escrow) error {
	if _, ok := m.escrows[e.ID]; ok {
		return ErrDuplicateKey
	}
	return m.EscrowPut(e)
}

func (m *mockState) EscrowPut(e *Escrow) error {
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return err
	}
	m.escrows[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) EscrowGet(id [32]byte) (*Escrow, bool) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

func (m *mockState) EscrowIDsFor(addr [20]byte) ([][32]byte, error) {
	set := NewIDSet()
	for id, esc := range m.escrows {
		if esc.Creator == addr || esc.Recipient == addr {
			if err := set.Insert(id); err != nil {
				return nil, err
			}
		}
	}
	return set.IDs(), nil
}

func (m *mockState) GetAccount(addr [20]byte) (*types.Account, error) {
	acc, ok := m.accounts[addr]
	if !ok {
		return nil, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("nil account")
	}
	m.accounts[addr] = account.Clone()
	return nil
}

func (m *mockState) CustodyCredit(id [32]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid credit")
	}
	current := big.NewInt(0)
	if existing, ok := m.custodyBal[id]; ok {
		current = new(big.Int).Set(existing)
	}
	m.custodyBal[id] = current.Add(current, amount)
	return nil
}

func (m *mockState) CustodyDebit(id [32]byte, amount *big.Int) error {
	current := big.NewInt(0)
	if existing, ok := m.custodyBal[id]; ok {
		current = new(big.Int).Set(existing)
	}
	if amount == nil || amount.Sign() < 0 || current.Cmp(amount) < 0 {
		return fmt.Errorf("invalid debit")
	}
	m.custodyBal[id] = current.Sub(current, amount)
	return nil
}

func (m *mockState) CustodyBalance(id [32]byte) (*big.Int, error) {
	if existing, ok := m.custodyBal[id]; ok {
		return new(big.Int).Set(existing), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) CustodyDepositItem(id [32]byte, item *types.Item) error {
	if item == nil {
		return fmt.Errorf("nil item")
	}
	m.custodyItems[id] = append(m.custodyItems[id], item.Clone())
	return nil
}

func (m *mockState) CustodyTakeItem(id [32]byte, itemID [32]byte) (*types.Item, error) {
	held := m.custodyItems[id]
	for i, item := range held {
		if item.ID() == itemID {
			m.custodyItems[id] = append(held[:i], held[i+1:]...)
			return item, nil
		}
	}
	return nil, fmt.Errorf("item not in custody")
}

func (m *mockState) CustodyItemIDs(id [32]byte) ([][32]byte, error) {
	set := NewIDSet()
	for _, item := range m.custodyItems[id] {
		if err := set.Insert(item.ID()); err != nil {
			return nil, err
		}
	}
	return set.IDs(), nil
}

type recordingEmitter struct {
	emitted []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.emitted = append(r.emitted, evt) }

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestItem(tag byte) *types.Item {
	return &types.Item{Kind: "gem", Data: []byte{tag}}
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *AdminCap) {
	t.Helper()
	state := newMockState()
	engine := NewEngine()
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	cap, err := engine.Bootstrap(newTestAddress(0xAD))
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return engine, state, cap
}

func fundAccount(t *testing.T, state *mockState, addr [20]byte, balance int64, items ...*types.Item) {
	t.Helper()
	account := &types.Account{Balance: big.NewInt(balance)}
	for _, item := range items {
		account.AddItem(item)
	}
	if err := state.PutAccount(addr, account); err != nil {
		t.Fatalf("fund account: %v", err)
	}
}

func itemIDs(items ...*types.Item) [][32]byte {
	ids := make([][32]byte, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID())
	}
	return ids
}

func TestBootstrap(t *testing.T) {
	engine, state, cap := newTestEngine(t)
	if cap == nil {
		t.Fatalf("expected admin capability")
	}
	hub := state.hub
	if hub.Version != CurrentVersion {
		t.Fatalf("unexpected version: %d", hub.Version)
	}
	if hub.FeeAmount.Cmp(big.NewInt(DefaultFeeUnits)) != 0 {
		t.Fatalf("unexpected default fee: %s", hub.FeeAmount)
	}
	if hub.FeeBalance.Sign() != 0 {
		t.Fatalf("expected empty treasury, got %s", hub.FeeBalance)
	}
	if _, err := engine.Bootstrap(newTestAddress(0xAD)); !errors.Is(err, ErrAlreadyBootstrapped) {
		t.Fatalf("expected ErrAlreadyBootstrapped, got %v", err)
	}
}

func TestCapabilityFor(t *testing.T) {
	engine, _, cap := newTestEngine(t)
	recovered, err := engine.CapabilityFor(newTestAddress(0xAD))
	if err != nil {
		t.Fatalf("recover capability: %v", err)
	}
	if recovered.ID() != cap.ID() {
		t.Fatalf("recovered capability mismatch")
	}
	if _, err := engine.CapabilityFor(newTestAddress(0x01)); !errors.Is(err, ErrInvalidCapability) {
		t.Fatalf("expected ErrInvalidCapability, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	creator := newTestAddress(0x01)
	recipient := newTestAddress(0x02)
	gem := newTestItem(0xA1)
	fundAccount(t, state, creator, 1_000, gem)

	if _, err := engine.Create(creator, itemIDs(gem), big.NewInt(10), creator, nil, big.NewInt(5)); !errors.Is(err, ErrWrongRecipient) {
		t.Fatalf("self-trade: expected ErrWrongRecipient, got %v", err)
	}
	if _, err := engine.Create(creator, nil, big.NewInt(0), recipient, nil, big.NewInt(0)); !errors.Is(err, ErrInvalidEscrow) {
		t.Fatalf("empty escrow: expected ErrInvalidEscrow, got %v", err)
	}
	want := newTestItem(0xB1)
	dup := [][32]byte{want.ID(), want.ID()}
	if _, err := engine.Create(creator, itemIDs(gem), big.NewInt(0), recipient, dup, big.NewInt(0)); !errors.Is(err, ErrDuplicateIdentifier) {
		t.Fatalf("dup wish-list: expected ErrDuplicateIdentifier, got %v", err)
	}
	missing := newTestItem(0xFF)
	if _, err := engine.Create(creator, itemIDs(missing), big.NewInt(0), recipient, itemIDs(want), big.NewInt(0)); err == nil {
		t.Fatalf("expected failure for unowned item")
	}
	if _, err := engine.Create(creator, nil, big.NewInt(2_000), recipient, itemIDs(want), big.NewInt(0)); err == nil {
		t.Fatalf("expected failure for insufficient balance")
	}

	// A rejected create must not touch the creator's account.
	account, _ := state.GetAccount(creator)
	if account.Balance.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("creator balance mutated by rejected create: %s", account.Balance)
	}
	if _, ok := account.Item(gem.ID()); !ok {
		t.Fatalf("creator lost item on rejected create")
	}
}

func TestCreateDepositsPledgeIntoCustody(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	creator := newTestAddress(0x01)
	recipient := newTestAddress(0x02)
	x, y := newTestItem(0xA1), newTestItem(0xA2)
	z := newTestItem(0xB1)
	fundAccount(t, state, creator, 500, x, y)

	id, err := engine.Create(creator, itemIDs(x, y), big.NewInt(100), recipient, itemIDs(z), big.NewInt(50))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	esc, ok := state.EscrowGet(id)
	if !ok {
		t.Fatalf("record missing after create")
	}
	if esc.Status != EscrowActive {
		t.Fatalf("unexpected status: %s", esc.Status)
	}
	if esc.CreatorAmount.Cmp(big.NewInt(100)) != 0 || esc.RecipientAmount.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected amounts: %s / %s", esc.CreatorAmount, esc.RecipientAmount)
	}
	creatorSet := esc.CreatorItems()
	if creatorSet.Len() != 2 || !creatorSet.Contains(x.ID()) || !creatorSet.Contains(y.ID()) {
		t.Fatalf("unexpected creator item set")
	}

	account, _ := state.GetAccount(creator)
	if account.Balance.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected creator balance: %s", account.Balance)
	}
	if len(account.Items) != 0 {
		t.Fatalf("items should have moved to custody")
	}
	balance, _ := state.CustodyBalance(id)
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected custody balance: %s", balance)
	}
	held, _ := state.CustodyItemIDs(id)
	if len(held) != 2 {
		t.Fatalf("unexpected custody items: %d", len(held))
	}
}

// setupTrade opens a representative escrow: creator pledges {X, Y} and 100,
// recipient must deposit {Z} and 50.
func setupTrade(t *testing.T) (*Engine, *mockState, *AdminCap, [32]byte, [20]byte, [20]byte, *types.Item, *types.Item, *types.Item) {
	t.Helper()
	engine, state, cap := newTestEngine(t)
	creator := newTestAddress(0x01)
	recipient := newTestAddress(0x02)
	x, y := newTestItem(0xA1), newTestItem(0xA2)
	z := newTestItem(0xB1)
	fundAccount(t, state, creator, 500, x, y)
	fundAccount(t, state, recipient, 500, z)
	id, err := engine.Create(creator, itemIDs(x, y), big.NewInt(100), recipient, itemIDs(z), big.NewInt(50))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return engine, state, cap, id, creator, recipient, x, y, z
}

func defaultFee() *big.Int { return big.NewInt(DefaultFeeUnits) }

func TestExchangeSettlesBothPledges(t *testing.T) {
	engine, state, _, id, creator, recipient, x, y, z := setupTrade(t)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)

	if err := engine.Exchange(id, recipient, defaultFee(), itemIDs(z), big.NewInt(50)); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	esc, _ := state.EscrowGet(id)
	if esc.Status != EscrowExchanged {
		t.Fatalf("unexpected status: %s", esc.Status)
	}

	creatorAcc, _ := state.GetAccount(creator)
	if creatorAcc.Balance.Cmp(big.NewInt(450)) != 0 {
		t.Fatalf("creator balance: want 450, got %s", creatorAcc.Balance)
	}
	if _, ok := creatorAcc.Item(z.ID()); !ok || len(creatorAcc.Items) != 1 {
		t.Fatalf("creator should hold exactly {Z}")
	}

	recipientAcc, _ := state.GetAccount(recipient)
	// 500 - fee - 50 deposited + 100 from custody.
	want := big.NewInt(500 - DefaultFeeUnits - 50 + 100)
	if recipientAcc.Balance.Cmp(want) != 0 {
		t.Fatalf("recipient balance: want %s, got %s", want, recipientAcc.Balance)
	}
	if _, ok := recipientAcc.Item(x.ID()); !ok {
		t.Fatalf("recipient should hold X")
	}
	if _, ok := recipientAcc.Item(y.ID()); !ok {
		t.Fatalf("recipient should hold Y")
	}
	if len(recipientAcc.Items) != 2 {
		t.Fatalf("recipient should hold exactly {X, Y}")
	}

	// Custody must be empty once the record is terminal.
	balance, _ := state.CustodyBalance(id)
	if balance.Sign() != 0 {
		t.Fatalf("custody balance should be empty, got %s", balance)
	}
	held, _ := state.CustodyItemIDs(id)
	if len(held) != 0 {
		t.Fatalf("custody items should be empty")
	}

	if state.hub.FeeBalance.Cmp(defaultFee()) != 0 {
		t.Fatalf("fee balance: want %s, got %s", defaultFee(), state.hub.FeeBalance)
	}

	if len(emitter.emitted) != 1 || emitter.emitted[0].EventType() != events.TypeEscrowExchanged {
		t.Fatalf("expected one exchanged event")
	}
}

func TestCancelReturnsPledgeBeforeExchange(t *testing.T) {
	engine, state, _, id, creator, recipient, x, y, z := setupTrade(t)

	if err := engine.Cancel(id, creator); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	creatorAcc, _ := state.GetAccount(creator)
	if creatorAcc.Balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("creator should regain full balance, got %s", creatorAcc.Balance)
	}
	if _, ok := creatorAcc.Item(x.ID()); !ok {
		t.Fatalf("creator should regain X")
	}
	if _, ok := creatorAcc.Item(y.ID()); !ok {
		t.Fatalf("creator should regain Y")
	}

	if err := engine.Exchange(id, recipient, defaultFee(), itemIDs(z), big.NewInt(50)); !errors.Is(err, ErrInactiveEscrow) {
		t.Fatalf("expected ErrInactiveEscrow, got %v", err)
	}
}

func TestCreateRejectsEmptyPledges(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	creator := newTestAddress(0x01)
	recipient := newTestAddress(0x02)
	if _, err := engine.Create(creator, nil, big.NewInt(0), recipient, nil, big.NewInt(0)); !errors.Is(err, ErrInvalidEscrow) {
		t.Fatalf("expected ErrInvalidEscrow, got %v", err)
	}
}

func TestFeeAccrualAndWithdrawal(t *testing.T) {
	engine, state, cap, id, _, recipient, _, _, z := setupTrade(t)
	treasury := newTestAddress(0xEE)

	if _, err := engine.WithdrawFees(cap, treasury); !errors.Is(err, ErrEmptyTreasury) {
		t.Fatalf("expected ErrEmptyTreasury, got %v", err)
	}

	if err := engine.Exchange(id, recipient, defaultFee(), itemIDs(z), big.NewInt(50)); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	withdrawn, err := engine.WithdrawFees(cap, treasury)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Cmp(defaultFee()) != 0 {
		t.Fatalf("withdrawn: want %s, got %s", defaultFee(), withdrawn)
	}
	if state.hub.FeeBalance.Sign() != 0 {
		t.Fatalf("fee balance should reset to zero")
	}
	account, _ := state.GetAccount(treasury)
	if account.Balance.Cmp(defaultFee()) != 0 {
		t.Fatalf("treasury account: want %s, got %s", defaultFee(), account.Balance)
	}
	if _, err := engine.WithdrawFees(cap, treasury); !errors.Is(err, ErrEmptyTreasury) {
		t.Fatalf("second withdraw: expected ErrEmptyTreasury, got %v", err)
	}
}

func TestExchangeIdentityGuard(t *testing.T) {
	engine, state, _, id, _, _, _, _, z := setupTrade(t)
	stranger := newTestAddress(0x03)
	fundAccount(t, state, stranger, 500, z.Clone())

	if err := engine.Exchange(id, stranger, defaultFee(), itemIDs(z), big.NewInt(50)); !errors.Is(err, ErrWrongRecipient) {
		t.Fatalf("expected ErrWrongRecipient, got %v", err)
	}
	esc, _ := state.EscrowGet(id)
	if esc.Status != EscrowActive {
		t.Fatalf("status changed by rejected exchange: %s", esc.Status)
	}
	balance, _ := state.CustodyBalance(id)
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("custody changed by rejected exchange")
	}
}

func TestExchangeExactSetMatching(t *testing.T) {
	engine, state, _, id, _, recipient, _, _, z := setupTrade(t)
	extra := newTestItem(0xB2)
	substitute := newTestItem(0xC1)
	fundAccount(t, state, recipient, 500, z, extra, substitute)

	// Strict subset: empty deposit.
	if err := engine.Exchange(id, recipient, defaultFee(), nil, big.NewInt(50)); !errors.Is(err, ErrWrongItem) {
		t.Fatalf("subset: expected ErrWrongItem, got %v", err)
	}
	// Strict superset.
	if err := engine.Exchange(id, recipient, defaultFee(), itemIDs(z, extra), big.NewInt(50)); !errors.Is(err, ErrWrongItem) {
		t.Fatalf("superset: expected ErrWrongItem, got %v", err)
	}
	// Equal cardinality, substituted identifier.
	if err := engine.Exchange(id, recipient, defaultFee(), itemIDs(substitute), big.NewInt(50)); !errors.Is(err, ErrWrongItem) {
		t.Fatalf("substitute: expected ErrWrongItem, got %v", err)
	}
	// Duplicate deposit identifiers cannot satisfy a duplicate-free promise.
	dup := [][32]byte{z.ID(), z.ID()}
	if err := engine.Exchange(id, recipient, defaultFee(), dup, big.NewInt(50)); !errors.Is(err, ErrWrongItem) {
		t.Fatalf("duplicate: expected ErrWrongItem, got %v", err)
	}
	// The record is still active and settleable afterwards.
	if err := engine.Exchange(id, recipient, defaultFee(), itemIDs(z), big.NewInt(50)); err != nil {
		t.Fatalf("exchange after rejections: %v", err)
	}
}

func TestExchangeFeeExactness(t *testing.T) {
	engine, _, _, id, _, recipient, _, _, z := setupTrade(t)

	under := new(big.Int).Sub(defaultFee(), big.NewInt(1))
	if err := engine.Exchange(id, recipient, under, itemIDs(z), big.NewInt(50)); !errors.Is(err, ErrInsufficientPay) {
		t.Fatalf("underpay: expected ErrInsufficientPay, got %v", err)
	}
	over := new(big.Int).Add(defaultFee(), big.NewInt(1))
	if err := engine.Exchange(id, recipient, over, itemIDs(z), big.NewInt(50)); !errors.Is(err, ErrInsufficientPay) {
		t.Fatalf("overpay: expected ErrInsufficientPay, got %v", err)
	}
}

func TestExchangeWrongCoinAmount(t *testing.T) {
	engine, _, _, id, _, recipient, _, _, z := setupTrade(t)
	if err := engine.Exchange(id, recipient, defaultFee(), itemIDs(z), big.NewInt(49)); !errors.Is(err, ErrWrongCoinAmount) {
		t.Fatalf("expected ErrWrongCoinAmount, got %v", err)
	}
	if err := engine.Exchange(id, recipient, defaultFee(), itemIDs(z), big.NewInt(51)); !errors.Is(err, ErrWrongCoinAmount) {
		t.Fatalf("expected ErrWrongCoinAmount, got %v", err)
	}
}

func TestNoDoubleSettlement(t *testing.T) {
	engine, _, _, id, creator, recipient, _, _, z := setupTrade(t)

	if err := engine.Exchange(id, recipient, defaultFee(), itemIDs(z), big.NewInt(50)); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if err := engine.Exchange(id, recipient, defaultFee(), itemIDs(z), big.NewInt(50)); !errors.Is(err, ErrInactiveEscrow) {
		t.Fatalf("second exchange: expected ErrInactiveEscrow, got %v", err)
	}
	if err := engine.Cancel(id, creator); !errors.Is(err, ErrInactiveEscrow) {
		t.Fatalf("cancel after exchange: expected ErrInactiveEscrow, got %v", err)
	}
}

func TestCancelGuards(t *testing.T) {
	engine, _, _, id, _, recipient, _, _, _ := setupTrade(t)
	var unknown [32]byte
	if err := engine.Cancel(unknown, recipient); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := engine.Cancel(id, recipient); !errors.Is(err, ErrWrongOwner) {
		t.Fatalf("expected ErrWrongOwner, got %v", err)
	}
}

func TestConservationAcrossExchange(t *testing.T) {
	engine, state, _, id, creator, recipient, x, y, z := setupTrade(t)
	if err := engine.Exchange(id, recipient, defaultFee(), itemIDs(z), big.NewInt(50)); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	creatorAcc, _ := state.GetAccount(creator)
	recipientAcc, _ := state.GetAccount(recipient)

	// Every item is held exactly once, by the intended party.
	for _, item := range []*types.Item{x, y} {
		if _, ok := recipientAcc.Item(item.ID()); !ok {
			t.Fatalf("recipient missing creator pledge item")
		}
		if _, ok := creatorAcc.Item(item.ID()); ok {
			t.Fatalf("creator still holds exchanged item")
		}
	}
	if _, ok := creatorAcc.Item(z.ID()); !ok {
		t.Fatalf("creator missing recipient deposit item")
	}

	// Total balance across parties and treasury is unchanged: 500 + 500.
	total := new(big.Int).Add(creatorAcc.Balance, recipientAcc.Balance)
	total.Add(total, state.hub.FeeBalance)
	if total.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("value created or destroyed: total %s", total)
	}
}

func TestVersionGate(t *testing.T) {
	engine, state, cap := newTestEngine(t)
	creator := newTestAddress(0x01)
	recipient := newTestAddress(0x02)
	gem := newTestItem(0xA1)
	fundAccount(t, state, creator, 100, gem)

	state.hub.Version = CurrentVersion - 1

	if _, err := engine.Create(creator, itemIDs(gem), big.NewInt(0), recipient, itemIDs(newTestItem(0xB1)), big.NewInt(10)); !errors.Is(err, ErrStaleLedger) {
		t.Fatalf("create: expected ErrStaleLedger, got %v", err)
	}
	if err := engine.UpdateFee(cap, big.NewInt(1)); !errors.Is(err, ErrStaleLedger) {
		t.Fatalf("update fee: expected ErrStaleLedger, got %v", err)
	}
	if _, err := engine.WithdrawFees(cap, newTestAddress(0xEE)); !errors.Is(err, ErrStaleLedger) {
		t.Fatalf("withdraw: expected ErrStaleLedger, got %v", err)
	}

	if err := engine.Migrate(cap); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if state.hub.Version != CurrentVersion {
		t.Fatalf("version not raised: %d", state.hub.Version)
	}
	id, err := engine.Create(creator, itemIDs(gem), big.NewInt(0), recipient, itemIDs(newTestItem(0xB1)), big.NewInt(10))
	if err != nil {
		t.Fatalf("create after migrate: %v", err)
	}
	if err := engine.Migrate(cap); !errors.Is(err, ErrAlreadyCurrent) {
		t.Fatalf("expected ErrAlreadyCurrent, got %v", err)
	}

	// A later downgrade freezes settlement of existing records too.
	state.hub.Version = CurrentVersion - 1
	if err := engine.Cancel(id, creator); !errors.Is(err, ErrStaleLedger) {
		t.Fatalf("cancel: expected ErrStaleLedger, got %v", err)
	}
	if err := engine.Exchange(id, recipient, defaultFee(), itemIDs(newTestItem(0xB1)), big.NewInt(10)); !errors.Is(err, ErrStaleLedger) {
		t.Fatalf("exchange: expected ErrStaleLedger, got %v", err)
	}
	esc, _ := state.EscrowGet(id)
	if esc.Status != EscrowActive {
		t.Fatalf("stale-gated record must stay active: %s", esc.Status)
	}
}

func TestUpdateFee(t *testing.T) {
	engine, state, cap := newTestEngine(t)
	if err := engine.UpdateFee(cap, big.NewInt(40)); err != nil {
		t.Fatalf("update fee: %v", err)
	}
	if state.hub.FeeAmount.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("fee not updated: %s", state.hub.FeeAmount)
	}
	forged := &AdminCap{id: [32]byte{0x01}}
	if err := engine.UpdateFee(forged, big.NewInt(1)); !errors.Is(err, ErrInvalidCapability) {
		t.Fatalf("forged cap: expected ErrInvalidCapability, got %v", err)
	}
	if err := engine.UpdateFee(nil, big.NewInt(1)); !errors.Is(err, ErrInvalidCapability) {
		t.Fatalf("nil cap: expected ErrInvalidCapability, got %v", err)
	}
}

func TestOpenEscrowsFor(t *testing.T) {
	engine, _, _, id, creator, recipient, _, _, z := setupTrade(t)

	for _, addr := range [][20]byte{creator, recipient} {
		open, err := engine.OpenEscrowsFor(addr)
		if err != nil {
			t.Fatalf("open escrows: %v", err)
		}
		if len(open) != 1 || open[0].ID != id {
			t.Fatalf("expected the active record for %x", addr)
		}
	}
	open, err := engine.OpenEscrowsFor(newTestAddress(0x99))
	if err != nil {
		t.Fatalf("open escrows: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("stranger should have no open records")
	}

	if err := engine.Exchange(id, recipient, defaultFee(), itemIDs(z), big.NewInt(50)); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	open, err = engine.OpenEscrowsFor(creator)
	if err != nil {
		t.Fatalf("open escrows: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("settled record must not be listed as open")
	}
	if _, err := engine.Escrow(id); err != nil {
		t.Fatalf("settled record must stay queryable by id: %v", err)
	}
}

func TestCreateEmitsEvent(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	creator := newTestAddress(0x01)
	recipient := newTestAddress(0x02)
	gem := newTestItem(0xA1)
	fundAccount(t, state, creator, 100, gem)

	id, err := engine.Create(creator, itemIDs(gem), big.NewInt(10), recipient, nil, big.NewInt(5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(emitter.emitted) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.emitted))
	}
	created, ok := emitter.emitted[0].(events.EscrowCreated)
	if !ok {
		t.Fatalf("unexpected event type %T", emitter.emitted[0])
	}
	if created.ID != id || created.Creator != creator || created.Recipient != recipient {
		t.Fatalf("event payload mismatch")
	}
}
