// Package autosaver turns media-playback trigger events into fixed-amount
// discretionary savings.
package autosaver

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenhall/moneypots/internal/domain"
)

// Event is one trigger delivered by the signal source. Delivery is
// at-least-once, so handling must be idempotent.
type Event struct {
	EventID    string    `json:"event_id"`
	TrackID    string    `json:"track_id"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Executor runs transfer intents. Satisfied by the money mover.
type Executor interface {
	Execute(ctx context.Context, intent domain.TransferIntent) (*domain.TransferRecord, error)
}

// Service saves a fixed amount into a pot per distinct track played.
type Service struct {
	Mover Executor
	Pot   domain.Pot

	AmountMinor int64

	// Debounce is the window within which duplicate deliveries of the same
	// track collapse into one save, enforced through the idempotency key
	// rather than a separate limiter.
	Debounce time.Duration

	// ActiveFromHour/ActiveToHour bound the active hours (UTC, half-open).
	// Equal values mean always active; a range crossing midnight wraps.
	ActiveFromHour int
	ActiveToHour   int

	log zerolog.Logger
	now func() time.Time
}

// NewService creates an auto-saver depositing into pot.
func NewService(mover Executor, pot domain.Pot, amountMinor int64, debounce time.Duration, fromHour, toHour int, log zerolog.Logger) *Service {
	return &Service{
		Mover:          mover,
		Pot:            pot,
		AmountMinor:    amountMinor,
		Debounce:       debounce,
		ActiveFromHour: fromHour,
		ActiveToHour:   toHour,
		log:            log.With().Str("component", "autosaver").Logger(),
		now:            time.Now,
	}
}

// HandleEvent processes one trigger event. Events that fail the predicate
// (no track, outside active hours) are dropped without error; accepted
// events produce an intent whose idempotency key dedups duplicate
// deliveries in the ledger.
func (s *Service) HandleEvent(ctx context.Context, event Event) (*domain.TransferRecord, error) {
	if event.TrackID == "" {
		s.log.Debug().Str("event_id", event.EventID).Msg("ignoring event without a track")
		return nil, nil
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	if !s.activeAt(occurredAt) {
		s.log.Debug().
			Str("track", event.TrackID).
			Int("hour", occurredAt.UTC().Hour()).
			Msg("ignoring event outside active hours")
		return nil, nil
	}

	intent := domain.TransferIntent{
		IdempotencyKey: domain.AutoSaveKey(event.TrackID, occurredAt, s.Debounce),
		SourceRef:      s.Pot.FundingAccountID,
		DestinationRef: s.Pot.ID,
		AmountMinor:    s.AmountMinor,
		Reason:         saveReason(event),
		CreatedAt:      s.now(),
	}

	record, err := s.Mover.Execute(ctx, intent)
	if err != nil {
		return record, fmt.Errorf("auto-save for track %s: %w", event.TrackID, err)
	}

	s.log.Info().
		Str("track", event.TrackID).
		Str("key", intent.IdempotencyKey).
		Int64("amount_minor", intent.AmountMinor).
		Msg("auto-save handled")
	return record, nil
}

// activeAt reports whether the configured hours admit a save at t.
func (s *Service) activeAt(t time.Time) bool {
	if s.ActiveFromHour == s.ActiveToHour {
		return true
	}

	hour := t.UTC().Hour()
	if s.ActiveFromHour < s.ActiveToHour {
		return hour >= s.ActiveFromHour && hour < s.ActiveToHour
	}
	// Range crosses midnight.
	return hour >= s.ActiveFromHour || hour < s.ActiveToHour
}

func saveReason(event Event) string {
	if event.Title == "" {
		return fmt.Sprintf("auto-save for track %s", event.TrackID)
	}
	if event.Artist == "" {
		return fmt.Sprintf("auto-save: %s", event.Title)
	}
	return fmt.Sprintf("auto-save: %s by %s", event.Title, event.Artist)
}
