package domain

import (
	"errors"
	"fmt"
	"time"
)

// TransferStatus is the lifecycle state of a transfer record.
type TransferStatus string

const (
	// TransferReserved means the intent is claimed but the outcome of the
	// external call is not yet known.
	TransferReserved TransferStatus = "RESERVED"

	// TransferCommitted means the external transfer succeeded. Committed is
	// terminal and authoritative; a record never leaves this state.
	TransferCommitted TransferStatus = "COMMITTED"

	// TransferFailed means the external system definitively rejected the
	// transfer. A Failed key may be reserved again.
	TransferFailed TransferStatus = "FAILED"

	// TransferAbandoned means every attempt ended ambiguous and the true
	// outcome is unknown. Abandoned records must reach a human.
	TransferAbandoned TransferStatus = "ABANDONED"
)

// TransferIntent is the unit of work handed to the money mover. The
// idempotency key is derived deterministically from the triggering event,
// so re-running the same trigger collapses into a single effect.
type TransferIntent struct {
	IdempotencyKey string
	SourceRef      string
	DestinationRef string
	AmountMinor    int64
	Reason         string
	CreatedAt      time.Time
}

// Validate ensures the intent adheres to domain rules.
func (i TransferIntent) Validate() error {
	if i.IdempotencyKey == "" {
		return errors.New("transfer intent must have an idempotency key")
	}
	if i.SourceRef == "" {
		return errors.New("transfer intent must have a source reference")
	}
	if i.DestinationRef == "" {
		return errors.New("transfer intent must have a destination reference")
	}
	if i.AmountMinor <= 0 {
		return errors.New("transfer amount must be positive")
	}
	return nil
}

// TransferRecord tracks one attempted or completed money movement. Owned
// exclusively by the transfer ledger; only the ledger transitions Status.
type TransferRecord struct {
	IdempotencyKey string
	Status         TransferStatus
	SourceRef      string
	DestinationRef string
	AmountMinor    int64
	Reason         string
	Attempts       int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Terminal reports whether the record can never be reserved again.
func (r TransferRecord) Terminal() bool {
	return r.Status == TransferCommitted
}

// Direction of a pot reconciliation transfer, part of its idempotency key.
type Direction string

const (
	DirectionTopUp    Direction = "topup"
	DirectionWithdraw Direction = "withdraw"
)

// PotReconcileKey derives the idempotency key for a pot reconciliation.
// One key per pot, direction and calendar day: re-running the same day's
// reconcile dedups in the ledger instead of moving money twice.
func PotReconcileKey(bank BankRef, potID string, dir Direction, day time.Time) string {
	return fmt.Sprintf("potmgr-%s-%s-%s-%s", bank.Slug(), potID, dir, day.UTC().Format("2006-01-02"))
}

// AutoSaveKey derives the idempotency key for an auto-save trigger.
// The timestamp is truncated to the debounce window so duplicate event
// deliveries for the same track land on the same key.
func AutoSaveKey(trackID string, occurredAt time.Time, window time.Duration) string {
	bucket := occurredAt.UTC().Truncate(window)
	return fmt.Sprintf("autosave-%s-%d", trackID, bucket.Unix())
}
