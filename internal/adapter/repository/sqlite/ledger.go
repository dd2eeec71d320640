package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wrenhall/moneypots/internal/domain"
)

// transferLedger implements domain.TransferLedger on SQLite.
type transferLedger struct {
	db *DB
}

// NewTransferLedger creates the ledger repository.
func NewTransferLedger(db *DB) domain.TransferLedger {
	return &transferLedger{db: db}
}

// Reserve atomically claims the intent's idempotency key.
//
// The whole check-and-reserve is a single upsert: the insert wins for a
// fresh key, the DO UPDATE wins for a re-reservable (Failed/Abandoned) key,
// and the WHERE clause makes the statement a no-op for keys held by a
// Reserved or Committed record. RowsAffected therefore tells the winner
// from the losers, which linearizes concurrent reservations for one key.
func (l *transferLedger) Reserve(ctx context.Context, intent domain.TransferIntent) (*domain.TransferRecord, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	createdAt := intent.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO transfer_records
			(idempotency_key, status, source_ref, destination_ref, amount_minor, reason, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, '', ?, ?)
		ON CONFLICT(idempotency_key) DO UPDATE SET
			status          = excluded.status,
			source_ref      = excluded.source_ref,
			destination_ref = excluded.destination_ref,
			amount_minor    = excluded.amount_minor,
			reason          = excluded.reason,
			attempts        = 0,
			last_error      = '',
			updated_at      = excluded.updated_at
		WHERE transfer_records.status IN (?, ?)
	`

	result, err := l.db.ExecContext(ctx, query,
		intent.IdempotencyKey,
		string(domain.TransferReserved),
		intent.SourceRef,
		intent.DestinationRef,
		intent.AmountMinor,
		intent.Reason,
		createdAt,
		now,
		string(domain.TransferFailed),
		string(domain.TransferAbandoned),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve transfer: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	record, getErr := l.Get(ctx, intent.IdempotencyKey)
	if getErr != nil {
		return nil, getErr
	}

	if rows == 0 {
		// Key is held by a Reserved or Committed record: already handled.
		return record, domain.ErrDuplicateIntent
	}

	return record, nil
}

// Commit moves Reserved -> Committed. Committed is terminal; the guarded
// UPDATE can never take a record out of it.
func (l *transferLedger) Commit(ctx context.Context, key string) error {
	return l.transition(ctx, key, domain.TransferCommitted, "")
}

// Fail moves Reserved -> Failed, recording the cause.
func (l *transferLedger) Fail(ctx context.Context, key string, cause error) error {
	return l.transition(ctx, key, domain.TransferFailed, causeString(cause))
}

// Abandon moves Reserved -> Abandoned, recording the cause.
func (l *transferLedger) Abandon(ctx context.Context, key string, cause error) error {
	return l.transition(ctx, key, domain.TransferAbandoned, causeString(cause))
}

// transition applies a status change guarded on the record being Reserved.
func (l *transferLedger) transition(ctx context.Context, key string, to domain.TransferStatus, lastError string) error {
	query := `
		UPDATE transfer_records
		SET status = ?, last_error = ?, updated_at = ?
		WHERE idempotency_key = ? AND status = ?
	`

	result, err := l.db.ExecContext(ctx, query,
		string(to),
		lastError,
		time.Now().UTC(),
		key,
		string(domain.TransferReserved),
	)
	if err != nil {
		return fmt.Errorf("failed to transition transfer to %s: %w", to, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("transition to %s for key %q: %w", to, key, domain.ErrUnknownRecord)
	}

	return nil
}

// RecordAttempt increments the attempt counter for a Reserved record.
func (l *transferLedger) RecordAttempt(ctx context.Context, key string) error {
	query := `
		UPDATE transfer_records
		SET attempts = attempts + 1, updated_at = ?
		WHERE idempotency_key = ? AND status = ?
	`

	result, err := l.db.ExecContext(ctx, query, time.Now().UTC(), key, string(domain.TransferReserved))
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("record attempt for key %q: %w", key, domain.ErrUnknownRecord)
	}

	return nil
}

// Get retrieves a record by idempotency key.
func (l *transferLedger) Get(ctx context.Context, key string) (*domain.TransferRecord, error) {
	query := `
		SELECT idempotency_key, status, source_ref, destination_ref, amount_minor, reason, attempts, last_error, created_at, updated_at
		FROM transfer_records
		WHERE idempotency_key = ?
	`

	record, err := scanRecord(l.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("key %q: %w", key, domain.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to get transfer record: %w", err)
	}

	return record, nil
}

// ListByStatus retrieves all records in a given status, newest first.
func (l *transferLedger) ListByStatus(ctx context.Context, status domain.TransferStatus) ([]*domain.TransferRecord, error) {
	query := `
		SELECT idempotency_key, status, source_ref, destination_ref, amount_minor, reason, attempts, last_error, created_at, updated_at
		FROM transfer_records
		WHERE status = ?
		ORDER BY updated_at DESC
	`

	rows, err := l.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list transfer records: %w", err)
	}
	defer rows.Close()

	var records []*domain.TransferRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*domain.TransferRecord, error) {
	var record domain.TransferRecord
	var status string

	err := s.Scan(
		&record.IdempotencyKey,
		&status,
		&record.SourceRef,
		&record.DestinationRef,
		&record.AmountMinor,
		&record.Reason,
		&record.Attempts,
		&record.LastError,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Status = domain.TransferStatus(status)
	return &record, nil
}

func causeString(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}
