package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"swapyard/core/types"
	"swapyard/native/escrow"
	"swapyard/storage"
)

// Manager persists the hub, the escrow records, the accounts and the
// per-record custody containers in a key-value database. It implements the
// engine's state backend.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func escrowStorageKey(id [32]byte) []byte {
	return prefixedKey(escrowRecordPrefix, id[:])
}

func custodyBalanceKey(id [32]byte) []byte {
	return prefixedKey(custodyBalancePrefix, id[:])
}

func custodyItemsKey(id [32]byte) []byte {
	return prefixedKey(custodyItemsPrefix, id[:])
}

func partyIndexKey(addr [20]byte) []byte {
	return prefixedKey(partyIndexPrefix, addr[:])
}

func accountStorageKey(addr [20]byte) []byte {
	return prefixedKey(accountPrefix, addr[:])
}

func prefixedKey(prefix, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) getRLP(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) putRLP(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, raw)
}

// --- Hub parameters ---

type storedHub struct {
	Version      uint64
	FeeAmount    *big.Int
	FeeBalance   *big.Int
	NextSequence uint64
	AdminCapID   [32]byte
}

// HubGet loads the hub parameters, reporting absence on a fresh store.
func (m *Manager) HubGet() (*escrow.Hub, bool, error) {
	var stored storedHub
	ok, err := m.getRLP(hubParamsKey, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	hub, err := escrow.SanitizeHub(&escrow.Hub{
		Version:      stored.Version,
		FeeAmount:    stored.FeeAmount,
		FeeBalance:   stored.FeeBalance,
		NextSequence: stored.NextSequence,
		AdminCapID:   stored.AdminCapID,
	})
	if err != nil {
		return nil, false, err
	}
	return hub, true, nil
}

// HubPut persists the hub parameters.
func (m *Manager) HubPut(hub *escrow.Hub) error {
	sanitized, err := escrow.SanitizeHub(hub)
	if err != nil {
		return err
	}
	return m.putRLP(hubParamsKey, &storedHub{
		Version:      sanitized.Version,
		FeeAmount:    sanitized.FeeAmount,
		FeeBalance:   sanitized.FeeBalance,
		NextSequence: sanitized.NextSequence,
		AdminCapID:   sanitized.AdminCapID,
	})
}

// --- Escrow records ---

type storedEscrow struct {
	ID               [32]byte
	Creator          [20]byte
	Recipient        [20]byte
	CreatorItemIDs   [][32]byte
	CreatorAmount    *big.Int
	RecipientItemIDs [][32]byte
	RecipientAmount  *big.Int
	CreatedAt        *big.Int
	Status           uint8
}

func newStoredEscrow(e *escrow.Escrow) *storedEscrow {
	return &storedEscrow{
		ID:               e.ID,
		Creator:          e.Creator,
		Recipient:        e.Recipient,
		CreatorItemIDs:   append([][32]byte(nil), e.CreatorItemIDs...),
		CreatorAmount:    bigOrZero(e.CreatorAmount),
		RecipientItemIDs: append([][32]byte(nil), e.RecipientItemIDs...),
		RecipientAmount:  bigOrZero(e.RecipientAmount),
		CreatedAt:        big.NewInt(e.CreatedAt),
		Status:           uint8(e.Status),
	}
}

func (s *storedEscrow) toEscrow() (*escrow.Escrow, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil escrow record")
	}
	out := &escrow.Escrow{
		ID:               s.ID,
		Creator:          s.Creator,
		Recipient:        s.Recipient,
		CreatorItemIDs:   append([][32]byte(nil), s.CreatorItemIDs...),
		CreatorAmount:    bigOrZero(s.CreatorAmount),
		RecipientItemIDs: append([][32]byte(nil), s.RecipientItemIDs...),
		RecipientAmount:  bigOrZero(s.RecipientAmount),
		Status:           escrow.EscrowStatus(s.Status),
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	return escrow.SanitizeEscrow(out)
}

// EscrowInsert adds a new record, failing with ErrDuplicateKey when the
// identifier is already present.
func (m *Manager) EscrowInsert(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	ok, err := m.db.Has(escrowStorageKey(sanitized.ID))
	if err != nil {
		return err
	}
	if ok {
		return escrow.ErrDuplicateKey
	}
	if err := m.putRLP(escrowStorageKey(sanitized.ID), newStoredEscrow(sanitized)); err != nil {
		return err
	}
	if err := m.indexParty(sanitized.Creator, sanitized.ID); err != nil {
		return err
	}
	return m.indexParty(sanitized.Recipient, sanitized.ID)
}

// EscrowPut overwrites an existing record. Terminal records drop out of the
// party index; they stay queryable by identifier.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	if err := m.putRLP(escrowStorageKey(sanitized.ID), newStoredEscrow(sanitized)); err != nil {
		return err
	}
	if sanitized.Status.Terminal() {
		if err := m.unindexParty(sanitized.Creator, sanitized.ID); err != nil {
			return err
		}
		return m.unindexParty(sanitized.Recipient, sanitized.ID)
	}
	return nil
}

// EscrowGet returns a copy of the record with the given identifier.
func (m *Manager) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	var stored storedEscrow
	ok, err := m.getRLP(escrowStorageKey(id), &stored)
	if err != nil || !ok {
		return nil, false
	}
	out, err := stored.toEscrow()
	if err != nil {
		return nil, false
	}
	return out, true
}

// EscrowIDsFor returns the identifiers of the indexed records in which the
// address participates.
func (m *Manager) EscrowIDsFor(addr [20]byte) ([][32]byte, error) {
	var ids [][32]byte
	if _, err := m.getRLP(partyIndexKey(addr), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) indexParty(addr [20]byte, id [32]byte) error {
	ids, err := m.EscrowIDsFor(addr)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return m.putRLP(partyIndexKey(addr), append(ids, id))
}

func (m *Manager) unindexParty(addr [20]byte, id [32]byte) error {
	ids, err := m.EscrowIDsFor(addr)
	if err != nil {
		return err
	}
	for i, existing := range ids {
		if existing == id {
			remaining := append(ids[:i], ids[i+1:]...)
			if len(remaining) == 0 {
				return m.db.Delete(partyIndexKey(addr))
			}
			return m.putRLP(partyIndexKey(addr), remaining)
		}
	}
	return nil
}

// --- Accounts ---

type storedItem struct {
	Kind string
	Data []byte
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
	Items   []storedItem
}

// GetAccount returns a copy of the account for the address. Unknown addresses
// yield a fresh empty account.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.getRLP(accountStorageKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.EnsureAccount(nil), nil
	}
	account := &types.Account{Nonce: stored.Nonce, Balance: bigOrZero(stored.Balance)}
	for _, it := range stored.Items {
		account.AddItem(&types.Item{Kind: it.Kind, Data: append([]byte(nil), it.Data...)})
	}
	return account, nil
}

// PutAccount persists the account for the address.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	account = types.EnsureAccount(account)
	stored := &storedAccount{Nonce: account.Nonce, Balance: account.Balance}
	for _, it := range account.Items {
		if it == nil {
			continue
		}
		stored.Items = append(stored.Items, storedItem{Kind: it.Kind, Data: append([]byte(nil), it.Data...)})
	}
	return m.putRLP(accountStorageKey(addr), stored)
}

// --- Custody containers ---

// CustodyCredit adds the amount to the record's custodied balance.
func (m *Manager) CustodyCredit(id [32]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative custody credit")
	}
	balance, err := m.CustodyBalance(id)
	if err != nil {
		return err
	}
	return m.putRLP(custodyBalanceKey(id), new(big.Int).Add(balance, amount))
}

// CustodyDebit removes the amount from the record's custodied balance,
// failing when the container holds less.
func (m *Manager) CustodyDebit(id [32]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative custody debit")
	}
	balance, err := m.CustodyBalance(id)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("state: insufficient custody balance")
	}
	return m.putRLP(custodyBalanceKey(id), new(big.Int).Sub(balance, amount))
}

// CustodyBalance returns the record's custodied balance.
func (m *Manager) CustodyBalance(id [32]byte) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.getRLP(custodyBalanceKey(id), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// CustodyDepositItem stores an item in the record's custody container.
func (m *Manager) CustodyDepositItem(id [32]byte, item *types.Item) error {
	sanitized, err := types.SanitizeItem(item)
	if err != nil {
		return err
	}
	items, err := m.custodyItems(id)
	if err != nil {
		return err
	}
	itemID := sanitized.ID()
	for _, held := range items {
		if held.ID() == itemID {
			return fmt.Errorf("state: item %x already in custody", itemID)
		}
	}
	return m.putCustodyItems(id, append(items, sanitized))
}

// CustodyTakeItem removes and returns the custodied item with the given
// identifier, failing if absent.
func (m *Manager) CustodyTakeItem(id [32]byte, itemID [32]byte) (*types.Item, error) {
	items, err := m.custodyItems(id)
	if err != nil {
		return nil, err
	}
	for i, held := range items {
		if held.ID() == itemID {
			taken := held
			if err := m.putCustodyItems(id, append(items[:i], items[i+1:]...)); err != nil {
				return nil, err
			}
			return taken, nil
		}
	}
	return nil, fmt.Errorf("state: item %x not in custody", itemID)
}

// CustodyItemIDs lists the identifiers of the custodied items.
func (m *Manager) CustodyItemIDs(id [32]byte) ([][32]byte, error) {
	items, err := m.custodyItems(id)
	if err != nil {
		return nil, err
	}
	set := escrow.NewIDSet()
	for _, held := range items {
		if err := set.Insert(held.ID()); err != nil {
			return nil, err
		}
	}
	return set.IDs(), nil
}

func (m *Manager) custodyItems(id [32]byte) ([]*types.Item, error) {
	var stored []storedItem
	ok, err := m.getRLP(custodyItemsKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	items := make([]*types.Item, 0, len(stored))
	for _, it := range stored {
		items = append(items, &types.Item{Kind: it.Kind, Data: append([]byte(nil), it.Data...)})
	}
	return items, nil
}

func (m *Manager) putCustodyItems(id [32]byte, items []*types.Item) error {
	if len(items) == 0 {
		return m.db.Delete(custodyItemsKey(id))
	}
	stored := make([]storedItem, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		stored = append(stored, storedItem{Kind: it.Kind, Data: append([]byte(nil), it.Data...)})
	}
	return m.putRLP(custodyItemsKey(id), stored)
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
