// Package potmanager keeps savings pots converged on their targets by
// emitting top-up and withdrawal intents for the money mover.
package potmanager

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenhall/moneypots/internal/domain"
	"github.com/wrenhall/moneypots/internal/usecase/aggregator"
)

// Executor runs transfer intents. Satisfied by the money mover; pots never
// call the transfer API themselves.
type Executor interface {
	Execute(ctx context.Context, intent domain.TransferIntent) (*domain.TransferRecord, error)
}

// Service reconciles pots against their target balances.
type Service struct {
	Store *aggregator.Store
	Mover Executor
	Sink  domain.StateSink
	Pots  []domain.Pot

	// Interval is both the reconciliation cadence and the freshness bound:
	// a snapshot older than one polling interval is too stale to act on.
	Interval time.Duration

	log zerolog.Logger
	now func() time.Time
}

// NewService creates a pot manager.
func NewService(store *aggregator.Store, mover Executor, sink domain.StateSink, pots []domain.Pot, interval time.Duration, log zerolog.Logger) *Service {
	return &Service{
		Store:    store,
		Mover:    mover,
		Sink:     sink,
		Pots:     pots,
		Interval: interval,
		log:      log.With().Str("component", "potmanager").Logger(),
		now:      time.Now,
	}
}

// Reconcile computes the transfer needed to bring one pot to its target.
// Returns nil when the pot is already converged (within the minimum-delta
// threshold), and ErrStaleSnapshot when any required balance is stale or
// missing: reconciliation is read-then-decide and never acts on unknown
// data.
func (s *Service) Reconcile(ctx context.Context, pot domain.Pot) (*domain.TransferIntent, error) {
	if !pot.Tracking() {
		return nil, nil
	}

	target, err := s.freshSnapshot(pot.Target)
	if err != nil {
		return nil, err
	}
	potBalance, err := s.freshSnapshot(pot.Balance)
	if err != nil {
		return nil, err
	}

	delta := target.AmountMinor - potBalance.AmountMinor
	if abs(delta) < pot.MinDeltaMinor {
		return nil, nil
	}

	if delta > 0 {
		return s.topUpIntent(ctx, pot, delta)
	}
	return s.withdrawIntent(pot, -delta), nil
}

// topUpIntent builds a top-up from the funding account, capped by what the
// funding account can spare and by the unattended top-up limit.
func (s *Service) topUpIntent(ctx context.Context, pot domain.Pot, deficit int64) (*domain.TransferIntent, error) {
	funding, err := s.freshSnapshot(pot.Funding)
	if err != nil {
		return nil, err
	}

	available := funding.AmountMinor - pot.MinFundingRemainderMinor
	if available < 0 {
		available = 0
	}

	amount := min(deficit, available)
	if amount < pot.MinDeltaMinor || amount <= 0 {
		s.log.Info().
			Str("pot", pot.ID).
			Int64("deficit_minor", deficit).
			Int64("available_minor", available).
			Msg("funding account cannot cover a meaningful top-up")
		return nil, nil
	}

	if pot.MaxAutoTopUpMinor > 0 && amount > pot.MaxAutoTopUpMinor {
		// Too large to move unattended. Flag for a human instead.
		s.flagNeedsAttention(ctx, pot, amount)
		return nil, nil
	}

	return &domain.TransferIntent{
		IdempotencyKey: domain.PotReconcileKey(pot.Bank, pot.ID, domain.DirectionTopUp, s.now()),
		SourceRef:      pot.FundingAccountID,
		DestinationRef: pot.ID,
		AmountMinor:    amount,
		Reason:         fmt.Sprintf("%s top-up", pot.Purpose),
		CreatedAt:      s.now(),
	}, nil
}

// withdrawIntent returns surplus from the pot to the funding account.
func (s *Service) withdrawIntent(pot domain.Pot, surplus int64) *domain.TransferIntent {
	return &domain.TransferIntent{
		IdempotencyKey: domain.PotReconcileKey(pot.Bank, pot.ID, domain.DirectionWithdraw, s.now()),
		SourceRef:      pot.ID,
		DestinationRef: pot.FundingAccountID,
		AmountMinor:    surplus,
		Reason:         fmt.Sprintf("%s withdrawal", pot.Purpose),
		CreatedAt:      s.now(),
	}
}

// ReconcileAll runs one reconciliation cycle over every tracking pot,
// executing emitted intents through the mover. Per-pot failures are
// isolated: one bad pot never blocks the others.
func (s *Service) ReconcileAll(ctx context.Context) {
	for _, pot := range s.Pots {
		if !pot.Tracking() {
			continue
		}

		intent, err := s.Reconcile(ctx, pot)
		if err != nil {
			if errors.Is(err, domain.ErrStaleSnapshot) {
				s.log.Info().Str("pot", pot.ID).Msg("skipping reconcile on stale balances")
			} else {
				s.log.Error().Str("pot", pot.ID).Err(err).Msg("reconcile failed")
			}
			continue
		}
		if intent == nil {
			continue
		}

		if _, err := s.Mover.Execute(ctx, *intent); err != nil {
			s.log.Error().
				Str("pot", pot.ID).
				Str("key", intent.IdempotencyKey).
				Err(err).
				Msg("pot transfer did not complete")
		}
	}
}

// Run reconciles on the interval until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReconcileAll(ctx)
		}
	}
}

// freshSnapshot reads a group balance usable for a reconciliation
// decision: present, not stale-flagged and no older than one polling
// interval.
func (s *Service) freshSnapshot(ref domain.GroupRef) (domain.BalanceSnapshot, error) {
	snap, ok := s.Store.Latest(ref)
	if !ok {
		return domain.BalanceSnapshot{}, fmt.Errorf("no snapshot for %s: %w", ref, domain.ErrStaleSnapshot)
	}
	if snap.Stale {
		return domain.BalanceSnapshot{}, fmt.Errorf("snapshot for %s is flagged stale: %w", ref, domain.ErrStaleSnapshot)
	}
	if s.now().Sub(snap.ObservedAt) > s.Interval {
		return domain.BalanceSnapshot{}, fmt.Errorf("snapshot for %s is older than the polling interval: %w", ref, domain.ErrStaleSnapshot)
	}
	return snap, nil
}

// flagNeedsAttention publishes an oversized deficit to the state sink so a
// human can approve the top-up. Best effort, like all sink publishes.
func (s *Service) flagNeedsAttention(ctx context.Context, pot domain.Pot, amount int64) {
	s.log.Warn().
		Str("pot", pot.ID).
		Int64("amount_minor", amount).
		Int64("max_auto_minor", pot.MaxAutoTopUpMinor).
		Msg("top-up exceeds unattended limit, flagging for manual approval")

	if s.Sink == nil {
		return
	}

	entityID := fmt.Sprintf("var.pot_%s_needs_attention", pot.ID)
	err := s.Sink.Publish(ctx, entityID, domain.MinorToMajorString(amount), map[string]string{
		"pot":               pot.Name,
		"max_auto_top_up":   domain.MinorToMajorString(pot.MaxAutoTopUpMinor),
		"flagged_at":        s.now().UTC().Format(time.RFC3339),
		"requires_approval": strconv.FormatBool(true),
	})
	if err != nil {
		s.log.Warn().Str("pot", pot.ID).Err(err).Msg("state sink publish failed")
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
