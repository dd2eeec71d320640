// Package aggregator polls bank balances through the aggregation API and
// combines them into one published figure per account group.
package aggregator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenhall/moneypots/internal/domain"
)

// Service is the balance aggregator for all configured banks.
type Service struct {
	Source domain.AccountSource
	Sink   domain.StateSink
	Store  *Store

	// Groups holds the configured account groups per bank. Validated at
	// startup; read-only thereafter.
	Groups map[domain.BankRef][]domain.AccountGroup

	// Interval is the polling cadence per bank.
	Interval time.Duration

	log zerolog.Logger
	now func() time.Time
}

// NewService creates a balance aggregator.
func NewService(source domain.AccountSource, sink domain.StateSink, store *Store, groups map[domain.BankRef][]domain.AccountGroup, interval time.Duration, log zerolog.Logger) *Service {
	return &Service{
		Source:   source,
		Sink:     sink,
		Store:    store,
		Groups:   groups,
		Interval: interval,
		log:      log.With().Str("component", "aggregator").Logger(),
		now:      time.Now,
	}
}

// Poll fetches and combines balances for every account group of one bank.
// Group fetches run concurrently within the bank. A failed group is marked
// stale in the store (previous value retained) instead of aborting the
// poll: partial availability beats full unavailability.
func (s *Service) Poll(ctx context.Context, bank domain.BankRef) (map[string]domain.BalanceSnapshot, error) {
	groups, ok := s.Groups[bank]
	if !ok {
		return nil, fmt.Errorf("bank %s is not configured", bank)
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		snapshots = make(map[string]domain.BalanceSnapshot, len(groups))
	)

	for _, group := range groups {
		wg.Add(1)
		go func(group domain.AccountGroup) {
			defer wg.Done()

			snap, err := s.pollGroup(ctx, group)
			if err != nil {
				s.log.Warn().
					Str("bank", string(group.Bank)).
					Str("group", group.Name).
					Err(err).
					Msg("group fetch failed, retaining stale snapshot")

				stale, held := s.Store.MarkStale(domain.GroupRef{Bank: group.Bank, Group: group.Name})
				if held {
					mu.Lock()
					snapshots[group.Name] = stale
					mu.Unlock()
				}
				return
			}

			s.Store.Put(snap)
			s.publish(ctx, snap)

			mu.Lock()
			snapshots[group.Name] = snap
			mu.Unlock()
		}(group)
	}

	wg.Wait()
	return snapshots, nil
}

// pollGroup sums the balances of a group's member accounts.
func (s *Service) pollGroup(ctx context.Context, group domain.AccountGroup) (domain.BalanceSnapshot, error) {
	var (
		total    int64
		currency string
	)

	for _, accountID := range group.AccountIDs {
		balance, err := s.Source.Balance(ctx, group.Bank, accountID)
		if err != nil {
			return domain.BalanceSnapshot{}, fmt.Errorf("account %s: %w", accountID, err)
		}

		if currency == "" {
			currency = balance.Currency
		} else if balance.Currency != currency {
			return domain.BalanceSnapshot{}, fmt.Errorf("account %s reports %s, group is %s", accountID, balance.Currency, currency)
		}

		total += balance.AmountMinor
	}

	return domain.BalanceSnapshot{
		Bank:        group.Bank,
		Group:       group.Name,
		AmountMinor: total,
		Currency:    currency,
		ObservedAt:  s.now(),
	}, nil
}

// publish pushes a fresh snapshot to the state sink. Best effort: a sink
// failure is logged and never blocks polling.
func (s *Service) publish(ctx context.Context, snap domain.BalanceSnapshot) {
	if s.Sink == nil {
		return
	}

	err := s.Sink.Publish(ctx, snap.EntityID(), domain.MinorToMajorString(snap.AmountMinor), map[string]string{
		"currency":    snap.Currency,
		"observed_at": snap.ObservedAt.UTC().Format(time.RFC3339),
		"stale":       strconv.FormatBool(snap.Stale),
	})
	if err != nil {
		s.log.Warn().
			Str("entity", snap.EntityID()).
			Err(err).
			Msg("state sink publish failed")
	}
}

// Run polls every configured bank on the interval until the context is
// cancelled. Banks poll independently: a slow bank never delays another.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for bank := range s.Groups {
		wg.Add(1)
		go func(bank domain.BankRef) {
			defer wg.Done()
			s.runBank(ctx, bank)
		}(bank)
	}

	wg.Wait()
}

// runBank is one bank's poll loop: an immediate poll, then the ticker.
func (s *Service) runBank(ctx context.Context, bank domain.BankRef) {
	log := s.log.With().Str("bank", string(bank)).Logger()

	poll := func() {
		pollCtx, cancel := context.WithTimeout(ctx, s.Interval)
		defer cancel()

		snapshots, err := s.Poll(pollCtx, bank)
		if err != nil {
			log.Error().Err(err).Msg("poll failed")
			return
		}
		log.Debug().Int("groups", len(snapshots)).Msg("poll complete")
	}

	poll()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}
