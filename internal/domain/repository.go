package domain

import (
	"context"
	"time"
)

// TransferLedger records every attempted and completed money movement,
// keyed by idempotency key. It is the source of truth preventing duplicate
// transfers across retries and restarts, and the only component permitted
// to transition a record's status. Implementations must be durable and
// linearize concurrent reservations for the same key.
type TransferLedger interface {
	// Reserve atomically claims the intent's idempotency key and creates a
	// Reserved record. If the key is already held by a Reserved or
	// Committed record it returns the existing record, non-nil, alongside
	// ErrDuplicateIntent; callers may rely on that pairing. Failed and
	// Abandoned keys are claimed afresh. Exactly one concurrent caller
	// wins.
	Reserve(ctx context.Context, intent TransferIntent) (*TransferRecord, error)

	// Commit moves Reserved -> Committed. Returns ErrUnknownRecord if no
	// Reserved record exists for the key.
	Commit(ctx context.Context, key string) error

	// Fail moves Reserved -> Failed, recording the cause. Returns
	// ErrUnknownRecord if no Reserved record exists for the key.
	Fail(ctx context.Context, key string, cause error) error

	// Abandon moves Reserved -> Abandoned, recording the cause. Abandoned
	// records are surfaced for manual reconciliation.
	Abandon(ctx context.Context, key string, cause error) error

	// RecordAttempt increments the attempt counter for a Reserved record.
	RecordAttempt(ctx context.Context, key string) error

	// Get retrieves a record by key, or ErrRecordNotFound.
	Get(ctx context.Context, key string) (*TransferRecord, error)

	// ListByStatus retrieves all records in a given status, newest first.
	ListByStatus(ctx context.Context, status TransferStatus) ([]*TransferRecord, error)
}

// AccountBalance is one account/card balance as reported by the
// aggregation API.
type AccountBalance struct {
	AmountMinor int64
	Currency    string
	AsOf        time.Time
}

// AccountSource reads current balances through the third-party
// aggregation API. Failures are classified APIErrors so the aggregator
// can choose stale-retain over fail-fast.
type AccountSource interface {
	Balance(ctx context.Context, bank BankRef, accountID string) (*AccountBalance, error)
}

// TransferRequest is the payload for the external transfer API. The client
// idempotency key is the same key used in the ledger so the external
// system's dedup lines up with the local one.
type TransferRequest struct {
	SourceRef      string
	DestinationRef string
	AmountMinor    int64
	IdempotencyKey string
}

// TransferResult is the external transfer API's acknowledgement.
type TransferResult struct {
	TransferID string
	Status     string
}

// TransferAPI executes real money movements. Only the money mover calls
// this interface.
type TransferAPI interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// StateSink publishes entity state to the home-automation state store.
// Publishing is fire-and-forget: errors are for logging only and must
// never block polling or reconciliation.
type StateSink interface {
	Publish(ctx context.Context, entityID string, value string, attributes map[string]string) error
}
