package escrow

import "errors"

// Precondition failures surfaced by the escrow engine. Every violation aborts
// the whole operation; custody containers keep whatever was already deposited.
var (
	// ErrStaleLedger rejects state-changing calls against a hub whose schema
	// version lags the current code version.
	ErrStaleLedger = errors.New("escrow: hub version is stale, migration required")
	// ErrWrongRecipient rejects a create naming the caller as its own
	// recipient, or an exchange attempted by anyone but the named recipient.
	ErrWrongRecipient = errors.New("escrow: caller is not the recipient")
	// ErrWrongOwner rejects a cancel attempted by anyone but the creator.
	ErrWrongOwner = errors.New("escrow: caller is not the creator")
	// ErrInvalidEscrow rejects a create that pledges nothing on either side.
	ErrInvalidEscrow = errors.New("escrow: nothing pledged")
	// ErrDuplicateIdentifier rejects a wish-list naming an identifier twice.
	ErrDuplicateIdentifier = errors.New("escrow: duplicate item identifier")
	// ErrInactiveEscrow rejects cancel/exchange on a settled record.
	ErrInactiveEscrow = errors.New("escrow: record is not active")
	// ErrWrongItem rejects a deposit whose item set does not equal the
	// promised identifier set.
	ErrWrongItem = errors.New("escrow: deposited items do not match the promised set")
	// ErrWrongCoinAmount rejects a deposit whose balance differs from the
	// promised amount.
	ErrWrongCoinAmount = errors.New("escrow: deposited balance does not match the promised amount")
	// ErrInsufficientPay rejects a fee payment that is not exactly the
	// configured fee. Over-payment is rejected the same as under-payment.
	ErrInsufficientPay = errors.New("escrow: fee payment does not match the configured fee")
	// ErrEmptyTreasury rejects a fee withdrawal when nothing has accrued.
	ErrEmptyTreasury = errors.New("escrow: fee balance is empty")
	// ErrAlreadyCurrent rejects a migration of an up-to-date hub.
	ErrAlreadyCurrent = errors.New("escrow: hub version is already current")
	// ErrNotFound is returned when no record carries the given identifier.
	ErrNotFound = errors.New("escrow: record not found")
	// ErrDuplicateKey is returned on an identifier collision at insertion.
	// Unreachable while identifier generation consumes the hub sequence.
	ErrDuplicateKey = errors.New("escrow: record identifier already exists")
	// ErrInvalidCapability rejects admin calls without the hub's admin
	// capability.
	ErrInvalidCapability = errors.New("escrow: invalid admin capability")
	// ErrNotBootstrapped is returned when the hub has not been initialised.
	ErrNotBootstrapped = errors.New("escrow: hub not bootstrapped")
	// ErrAlreadyBootstrapped rejects a second bootstrap of the same store.
	ErrAlreadyBootstrapped = errors.New("escrow: hub already bootstrapped")
)

var errNilState = errors.New("escrow engine: state not configured")
