package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wrenhall/moneypots/internal/domain"
)

// Stats summarizes the ledger for the operator-facing CLI. Abandoned
// transfers are the headline number: they are the ones that must reach
// a human for manual reconciliation.
type Stats struct {
	Reserved     int
	Committed    int
	Failed       int
	Abandoned    int
	LastActivity sql.NullString
}

// Reporter reads ledger statistics.
type Reporter struct {
	db *DB
}

// NewReporter creates a stats reporter over the ledger database.
func NewReporter(db *DB) *Reporter {
	return &Reporter{db: db}
}

// Stats retrieves per-status counts and the last ledger activity.
func (r *Reporter) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats

	for _, c := range []struct {
		status domain.TransferStatus
		dest   *int
	}{
		{domain.TransferReserved, &stats.Reserved},
		{domain.TransferCommitted, &stats.Committed},
		{domain.TransferFailed, &stats.Failed},
		{domain.TransferAbandoned, &stats.Abandoned},
	} {
		query := `SELECT COUNT(*) FROM transfer_records WHERE status = ?`
		if err := r.db.QueryRowContext(ctx, query, string(c.status)).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count %s records: %w", c.status, err)
		}
	}

	err := r.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM transfer_records`).Scan(&stats.LastActivity)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get last ledger activity: %w", err)
	}

	return &stats, nil
}
