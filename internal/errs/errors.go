package errs

import "errors"

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound = errors.New("not_found")
	ErrInvalid  = errors.New("invalid")
	// ErrInvalidAmount rejects zero or negative posting amounts.
	ErrInvalidAmount = errors.New("invalid_amount")
	// ErrUnknownChannel signals a missing or inactive cash/bank channel.
	ErrUnknownChannel = errors.New("unknown_channel")
	// ErrConcurrentModification signals the per-channel lock could not be
	// acquired within the bounded wait. The caller retries the whole business
	// operation; the ledger never retries internally.
	ErrConcurrentModification = errors.New("concurrent_modification")
	// ErrLedgerInconsistency signals a stored before/after balance that does
	// not replay. Never auto-corrected.
	ErrLedgerInconsistency = errors.New("ledger_inconsistency")
	// ErrAlreadyReversed indicates every payment of the document already has a
	// compensating entry.
	ErrAlreadyReversed = errors.New("already_reversed")
)
