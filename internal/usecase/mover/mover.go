// Package mover executes transfer intents against the external transfer
// API. Every real money movement in the system passes through this single
// service, so idempotency and retry policy are enforced in one place.
package mover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenhall/moneypots/internal/domain"
)

// Service is the money mover.
type Service struct {
	Ledger domain.TransferLedger
	API    domain.TransferAPI

	// MaxAttempts bounds retries for transient and ambiguous failures.
	MaxAttempts int

	// BackoffBase is the first retry delay; each retry doubles it.
	BackoffBase time.Duration

	log   zerolog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a money mover with the given retry bounds.
func NewService(ledger domain.TransferLedger, api domain.TransferAPI, maxAttempts int, backoffBase time.Duration, log zerolog.Logger) *Service {
	return &Service{
		Ledger:      ledger,
		API:         api,
		MaxAttempts: maxAttempts,
		BackoffBase: backoffBase,
		log:         log.With().Str("component", "mover").Logger(),
		sleep:       sleepCtx,
	}
}

// Execute runs one transfer intent to a terminal ledger state.
//
// The reservation is the at-most-once guarantee: a duplicate key returns
// the existing record without touching the external API. Otherwise the
// transfer API is called with the ledger key as the client idempotency
// key; transient and ambiguous failures are retried with bounded
// exponential backoff, definitive rejections fail immediately, and a
// retry budget exhausted on an ambiguous outcome abandons the record for
// manual reconciliation rather than guessing.
func (s *Service) Execute(ctx context.Context, intent domain.TransferIntent) (*domain.TransferRecord, error) {
	record, err := s.Ledger.Reserve(ctx, intent)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateIntent) {
			s.log.Info().
				Str("key", intent.IdempotencyKey).
				Str("status", string(record.Status)).
				Msg("intent already handled, skipping transfer")
			return record, nil
		}
		return nil, fmt.Errorf("failed to reserve intent: %w", err)
	}

	s.log.Info().
		Str("key", intent.IdempotencyKey).
		Str("source", intent.SourceRef).
		Str("destination", intent.DestinationRef).
		Int64("amount_minor", intent.AmountMinor).
		Msg("executing transfer")

	var lastErr error
	lastKind := domain.FailureAmbiguous

	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		if err := s.Ledger.RecordAttempt(ctx, intent.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("failed to record attempt: %w", err)
		}

		result, err := s.API.Transfer(ctx, domain.TransferRequest{
			SourceRef:      intent.SourceRef,
			DestinationRef: intent.DestinationRef,
			AmountMinor:    intent.AmountMinor,
			IdempotencyKey: intent.IdempotencyKey,
		})
		if err == nil {
			if err := s.Ledger.Commit(ctx, intent.IdempotencyKey); err != nil {
				return nil, fmt.Errorf("failed to commit transfer: %w", err)
			}
			s.log.Info().
				Str("key", intent.IdempotencyKey).
				Str("transfer_id", result.TransferID).
				Int("attempts", attempt).
				Msg("transfer committed")
			return s.Ledger.Get(ctx, intent.IdempotencyKey)
		}

		lastErr = err
		lastKind = domain.ClassifyError(err)

		if !retryable(lastKind) {
			// Definitive rejection: record once, never retry.
			if failErr := s.Ledger.Fail(ctx, intent.IdempotencyKey, err); failErr != nil {
				return nil, fmt.Errorf("failed to mark transfer failed: %w", failErr)
			}
			s.log.Warn().
				Str("key", intent.IdempotencyKey).
				Err(err).
				Msg("transfer definitively rejected")
			record, _ := s.Ledger.Get(ctx, intent.IdempotencyKey)
			return record, fmt.Errorf("transfer rejected: %w", err)
		}

		s.log.Warn().
			Str("key", intent.IdempotencyKey).
			Int("attempt", attempt).
			Str("kind", string(lastKind)).
			Err(err).
			Msg("transfer attempt failed")

		if attempt < s.MaxAttempts {
			if err := s.sleep(ctx, s.BackoffBase<<(attempt-1)); err != nil {
				// Cancelled mid-backoff: finalize now so no record is left
				// Reserved without a retry path.
				break
			}
		}
	}

	return s.finalizeExhausted(ctx, intent.IdempotencyKey, lastKind, lastErr)
}

// finalizeExhausted settles a record whose retry budget ran out. An
// ambiguous last outcome means the money may or may not have moved, so
// the record is abandoned and surfaced; a known failure is recorded as
// Failed and may be retried by a future trigger.
func (s *Service) finalizeExhausted(ctx context.Context, key string, kind domain.FailureKind, cause error) (*domain.TransferRecord, error) {
	if kind == domain.FailureAmbiguous {
		if err := s.Ledger.Abandon(ctx, key, cause); err != nil {
			return nil, fmt.Errorf("failed to abandon transfer: %w", err)
		}
		s.log.Error().
			Str("key", key).
			Err(cause).
			Msg("transfer abandoned after ambiguous failures, needs manual reconciliation")
	} else {
		if err := s.Ledger.Fail(ctx, key, cause); err != nil {
			return nil, fmt.Errorf("failed to mark transfer failed: %w", err)
		}
		s.log.Error().
			Str("key", key).
			Err(cause).
			Msg("transfer failed after exhausting retries")
	}

	record, err := s.Ledger.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return record, fmt.Errorf("transfer did not complete: %w", cause)
}

// errStranded is recorded as the cause when a record is found Reserved at
// startup: the previous process died mid-transfer and the outcome of the
// external call is unknown.
var errStranded = errors.New("process stopped mid-transfer, outcome unknown")

// RecoverStranded abandons every record left Reserved by a previous
// process. Run at startup, before anything else touches the ledger:
// nothing is in flight yet, so a Reserved record can only be a transfer
// interrupted between reservation and its terminal transition. Abandoning
// surfaces it for manual reconciliation and frees the key, so the next
// identical trigger re-drives the transfer instead of being swallowed as
// a duplicate.
func (s *Service) RecoverStranded(ctx context.Context) error {
	records, err := s.Ledger.ListByStatus(ctx, domain.TransferReserved)
	if err != nil {
		return fmt.Errorf("failed to list reserved transfers: %w", err)
	}

	for _, rec := range records {
		if err := s.Ledger.Abandon(ctx, rec.IdempotencyKey, errStranded); err != nil {
			return fmt.Errorf("failed to abandon stranded transfer %s: %w", rec.IdempotencyKey, err)
		}
		s.log.Warn().
			Str("key", rec.IdempotencyKey).
			Int64("amount_minor", rec.AmountMinor).
			Int("attempts", rec.Attempts).
			Msg("abandoned transfer stranded by a previous run, needs manual reconciliation")
	}
	return nil
}

// retryable reports whether a failure kind may be retried by the mover.
// Unauthorized is treated like a definitive rejection: hammering the API
// with dead credentials helps nobody.
func retryable(kind domain.FailureKind) bool {
	switch kind {
	case domain.FailureTransient, domain.FailureRateLimited, domain.FailureUnavailable, domain.FailureAmbiguous:
		return true
	default:
		return false
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
