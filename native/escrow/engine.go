package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"swapyard/core/events"
	"swapyard/core/types"
)

// engineState abstracts the subset of state-manager functionality required by
// the exchange engine: the hub parameters, the record store, the account store
// and the per-record custody containers.
type engineState interface {
	HubGet() (*Hub, bool, error)
	HubPut(*Hub) error
	EscrowInsert(*Escrow) error
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	EscrowIDsFor(addr [20]byte) ([][32]byte, error)
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	CustodyCredit(id [32]byte, amount *big.Int) error
	CustodyDebit(id [32]byte, amount *big.Int) error
	CustodyBalance(id [32]byte) (*big.Int, error)
	CustodyDepositItem(id [32]byte, item *types.Item) error
	CustodyTakeItem(id [32]byte, itemID [32]byte) (*types.Item, error)
	CustodyItemIDs(id [32]byte) ([][32]byte, error)
}

// Engine wires the exchange business logic with external state and event
// emitters. Every operation validates all of its preconditions before the
// first state write, so a rejected call leaves accounts, custody containers
// and the hub untouched. State-changing operations serialize on a single
// mutex: the state backend only guards individual key-value calls, so the
// read-validate-write sequence of each operation must not interleave with
// another or two settlements of the same record could both observe it
// active.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an exchange engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadHub() (*Hub, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	hub, ok, err := e.state.HubGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotBootstrapped
	}
	return hub, nil
}

func checkVersion(hub *Hub) error {
	if hub == nil {
		return ErrNotBootstrapped
	}
	if hub.Version != CurrentVersion {
		return ErrStaleLedger
	}
	return nil
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) loadAccount(addr [20]byte) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return types.EnsureAccount(acc), nil
}

// Bootstrap initialises the hub with the current schema version, the default
// fee and an empty treasury, and mints the one admin capability for the
// deployment. Calling it against an initialised store fails with
// ErrAlreadyBootstrapped; the surrounding process decides when a store is
// fresh.
func (e *Engine) Bootstrap(admin [20]byte) (*AdminCap, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok, err := e.state.HubGet(); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyBootstrapped
	}
	cap := mintAdminCap(admin)
	hub := &Hub{
		Version:    CurrentVersion,
		FeeAmount:  big.NewInt(DefaultFeeUnits),
		FeeBalance: big.NewInt(0),
		AdminCapID: cap.ID(),
	}
	if err := e.state.HubPut(hub); err != nil {
		return nil, err
	}
	return cap, nil
}

// UpdateFee sets the exchange fee. The holder of the admin capability is
// trusted; the only bound enforced is nonnegativity.
func (e *Engine) UpdateFee(cap *AdminCap, newFee *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	hub, err := e.loadHub()
	if err != nil {
		return err
	}
	if err := e.checkCap(hub, cap); err != nil {
		return err
	}
	if err := checkVersion(hub); err != nil {
		return err
	}
	fee := cloneBigInt(newFee)
	if fee.Sign() < 0 {
		return fmt.Errorf("escrow: fee must be non-negative")
	}
	hub.FeeAmount = fee
	return e.state.HubPut(hub)
}

// WithdrawFees zeroes the accumulated fee balance and credits it to the
// supplied address. Withdrawing from an empty treasury fails with
// ErrEmptyTreasury.
func (e *Engine) WithdrawFees(cap *AdminCap, to [20]byte) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hub, err := e.loadHub()
	if err != nil {
		return nil, err
	}
	if err := e.checkCap(hub, cap); err != nil {
		return nil, err
	}
	if err := checkVersion(hub); err != nil {
		return nil, err
	}
	if hub.FeeBalance == nil || hub.FeeBalance.Sign() == 0 {
		return nil, ErrEmptyTreasury
	}
	withdrawn := cloneBigInt(hub.FeeBalance)
	account, err := e.loadAccount(to)
	if err != nil {
		return nil, err
	}
	account.Balance = new(big.Int).Add(account.Balance, withdrawn)
	hub.FeeBalance = big.NewInt(0)
	if err := e.state.PutAccount(to, account); err != nil {
		return nil, err
	}
	if err := e.state.HubPut(hub); err != nil {
		return nil, err
	}
	return withdrawn, nil
}

// Migrate raises the hub schema version to the current code version. The
// transition is strictly one-directional; migrating an up-to-date hub fails
// with ErrAlreadyCurrent.
func (e *Engine) Migrate(cap *AdminCap) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	hub, err := e.loadHub()
	if err != nil {
		return err
	}
	if err := e.checkCap(hub, cap); err != nil {
		return err
	}
	if hub.Version >= CurrentVersion {
		return ErrAlreadyCurrent
	}
	hub.Version = CurrentVersion
	return e.state.HubPut(hub)
}

// Create opens a new escrow: the caller's named items and balance move into
// the record's custody container, the promised recipient set and amount are
// fixed, and the record is inserted keyed by a fresh identifier. Returns the
// identifier of the new record.
func (e *Engine) Create(caller [20]byte, itemIDs [][32]byte, amount *big.Int, recipient [20]byte, wantItemIDs [][32]byte, wantAmount *big.Int) ([32]byte, error) {
	var zero [32]byte
	e.mu.Lock()
	defer e.mu.Unlock()
	hub, err := e.loadHub()
	if err != nil {
		return zero, err
	}
	if err := checkVersion(hub); err != nil {
		return zero, err
	}
	if recipient == caller {
		return zero, ErrWrongRecipient
	}
	pledge := cloneBigInt(amount)
	want := cloneBigInt(wantAmount)
	if pledge.Sign() < 0 || want.Sign() < 0 {
		return zero, fmt.Errorf("escrow: amounts must be non-negative")
	}
	if len(itemIDs) == 0 && len(wantItemIDs) == 0 {
		return zero, ErrInvalidEscrow
	}
	if len(itemIDs) == 0 && pledge.Sign() == 0 {
		return zero, ErrInvalidEscrow
	}
	if len(wantItemIDs) == 0 && want.Sign() == 0 {
		return zero, ErrInvalidEscrow
	}
	wantSet, err := NewIDSetFromList(wantItemIDs)
	if err != nil {
		return zero, err
	}
	depositSet, err := NewIDSetFromList(itemIDs)
	if err != nil {
		return zero, err
	}
	account, err := e.loadAccount(caller)
	if err != nil {
		return zero, err
	}
	for _, id := range depositSet.IDs() {
		if _, ok := account.Item(id); !ok {
			return zero, fmt.Errorf("escrow: caller does not own item %x", id)
		}
	}
	if account.Balance.Cmp(pledge) < 0 {
		return zero, fmt.Errorf("escrow: insufficient balance to fund pledge")
	}

	// All preconditions hold; apply the state changes.
	id := recordID(caller, recipient, hub.NextSequence)
	deposited := make([]*types.Item, 0, depositSet.Len())
	for _, itemID := range depositSet.IDs() {
		item, _ := account.RemoveItem(itemID)
		deposited = append(deposited, item)
	}
	account.Balance = new(big.Int).Sub(account.Balance, pledge)
	esc := &Escrow{
		ID:               id,
		Creator:          caller,
		Recipient:        recipient,
		CreatorItemIDs:   depositSet.IDs(),
		CreatorAmount:    pledge,
		RecipientItemIDs: wantSet.IDs(),
		RecipientAmount:  want,
		CreatedAt:        e.now(),
		Status:           EscrowActive,
	}
	if err := e.state.EscrowInsert(esc); err != nil {
		return zero, err
	}
	for _, item := range deposited {
		if err := e.state.CustodyDepositItem(id, item); err != nil {
			return zero, err
		}
	}
	if pledge.Sign() > 0 {
		if err := e.state.CustodyCredit(id, pledge); err != nil {
			return zero, err
		}
	}
	if err := e.state.PutAccount(caller, account); err != nil {
		return zero, err
	}
	hub.NextSequence++
	if err := e.state.HubPut(hub); err != nil {
		return zero, err
	}
	e.emit(events.EscrowCreated{
		ID:              esc.ID,
		Creator:         esc.Creator,
		Recipient:       esc.Recipient,
		CreatorItems:    esc.CreatorItemIDs,
		CreatorAmount:   cloneBigInt(esc.CreatorAmount),
		RecipientItems:  esc.RecipientItemIDs,
		RecipientAmount: cloneBigInt(esc.RecipientAmount),
		CreatedAt:       esc.CreatedAt,
	})
	return id, nil
}

// Cancel returns the custodied pledge to the creator and marks the record
// canceled. Only the creator may cancel, and only while the record is active.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	hub, err := e.loadHub()
	if err != nil {
		return err
	}
	if err := checkVersion(hub); err != nil {
		return err
	}
	if esc.Status != EscrowActive {
		return ErrInactiveEscrow
	}
	if caller != esc.Creator {
		return ErrWrongOwner
	}
	account, err := e.loadAccount(caller)
	if err != nil {
		return err
	}
	if err := e.drainCustody(esc, account); err != nil {
		return err
	}
	if err := e.state.PutAccount(caller, account); err != nil {
		return err
	}
	esc.Status = EscrowCanceled
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(events.EscrowCanceled{ID: esc.ID, Creator: esc.Creator})
	return nil
}

// Exchange settles the escrow: the caller pays the configured fee, deposits
// exactly the promised items and amount, receives the creator's custodied
// pledge, and the creator receives the caller's deposit. All checks precede
// all transfers, so a failed exchange costs the caller nothing.
func (e *Engine) Exchange(id [32]byte, caller [20]byte, fee *big.Int, itemIDs [][32]byte, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	hub, err := e.loadHub()
	if err != nil {
		return err
	}
	if err := checkVersion(hub); err != nil {
		return err
	}
	payment := cloneBigInt(fee)
	if payment.Cmp(hub.FeeAmount) != 0 {
		return ErrInsufficientPay
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != EscrowActive {
		return ErrInactiveEscrow
	}
	if caller != esc.Recipient {
		return ErrWrongRecipient
	}
	deposit := cloneBigInt(amount)
	if deposit.Cmp(esc.RecipientAmount) != 0 {
		return ErrWrongCoinAmount
	}
	depositSet := NewIDSet()
	for _, itemID := range itemIDs {
		// A duplicate cannot satisfy a duplicate-free promise.
		if err := depositSet.Insert(itemID); err != nil {
			return ErrWrongItem
		}
	}
	if !depositSet.Equal(esc.RecipientItems()) {
		return ErrWrongItem
	}
	account, err := e.loadAccount(caller)
	if err != nil {
		return err
	}
	for _, itemID := range depositSet.IDs() {
		if _, ok := account.Item(itemID); !ok {
			return fmt.Errorf("escrow: caller does not own item %x", itemID)
		}
	}
	owed := new(big.Int).Add(payment, deposit)
	if account.Balance.Cmp(owed) < 0 {
		return fmt.Errorf("escrow: insufficient balance to fund deposit and fee")
	}
	creatorAccount, err := e.loadAccount(esc.Creator)
	if err != nil {
		return err
	}

	// All preconditions hold; perform the double transfer.
	account.Balance = new(big.Int).Sub(account.Balance, owed)
	hub.FeeBalance = new(big.Int).Add(hub.FeeBalance, payment)
	for _, itemID := range depositSet.IDs() {
		item, _ := account.RemoveItem(itemID)
		creatorAccount.AddItem(item)
	}
	creatorAccount.Balance = new(big.Int).Add(creatorAccount.Balance, deposit)
	if err := e.drainCustody(esc, account); err != nil {
		return err
	}
	if err := e.state.PutAccount(caller, account); err != nil {
		return err
	}
	if err := e.state.PutAccount(esc.Creator, creatorAccount); err != nil {
		return err
	}
	esc.Status = EscrowExchanged
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if err := e.state.HubPut(hub); err != nil {
		return err
	}
	e.emit(events.EscrowExchanged{
		ID:        esc.ID,
		Creator:   esc.Creator,
		Recipient: esc.Recipient,
		Fee:       payment,
	})
	return nil
}

// Escrow returns a copy of the record with the given identifier. Terminal
// records remain queryable.
func (e *Engine) Escrow(id [32]byte) (*Escrow, error) {
	return e.loadEscrow(id)
}

// OpenEscrowsFor returns the active records in which the address participates,
// as creator or as recipient.
func (e *Engine) OpenEscrowsFor(addr [20]byte) ([]*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.EscrowIDsFor(addr)
	if err != nil {
		return nil, err
	}
	open := make([]*Escrow, 0, len(ids))
	for _, id := range ids {
		esc, ok := e.state.EscrowGet(id)
		if !ok {
			continue
		}
		if esc.Status == EscrowActive {
			open = append(open, esc)
		}
	}
	return open, nil
}

// HubInfo returns a copy of the hub parameters.
func (e *Engine) HubInfo() (*Hub, error) {
	hub, err := e.loadHub()
	if err != nil {
		return nil, err
	}
	return hub.Clone(), nil
}

// drainCustody moves every custodied item and the whole custodied balance of
// the record into the supplied account.
func (e *Engine) drainCustody(esc *Escrow, account *types.Account) error {
	itemIDs, err := e.state.CustodyItemIDs(esc.ID)
	if err != nil {
		return err
	}
	for _, itemID := range itemIDs {
		item, err := e.state.CustodyTakeItem(esc.ID, itemID)
		if err != nil {
			return err
		}
		account.AddItem(item)
	}
	balance, err := e.state.CustodyBalance(esc.ID)
	if err != nil {
		return err
	}
	if balance.Sign() > 0 {
		if err := e.state.CustodyDebit(esc.ID, balance); err != nil {
			return err
		}
		account.Balance = new(big.Int).Add(account.Balance, balance)
	}
	return nil
}

func recordID(creator, recipient [20]byte, sequence uint64) [32]byte {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	return ethcrypto.Keccak256Hash(creator[:], recipient[:], seq[:])
}
