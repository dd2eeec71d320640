package domain

import (
	"fmt"
	"strings"
	"time"
)

// BankRef identifies a financial institution. It partitions credentials
// and account groupings, so an unknown ref is a configuration error.
type BankRef string

const (
	BankAmex          BankRef = "AMEX"
	BankHSBC          BankRef = "HSBC"
	BankMonzo         BankRef = "MONZO"
	BankSantander     BankRef = "SANTANDER"
	BankStarling      BankRef = "STARLING"
	BankStarlingJoint BankRef = "STARLING_JOINT"
)

// knownBankRefs holds every institution the system can be configured for.
var knownBankRefs = map[BankRef]struct{}{
	BankAmex:          {},
	BankHSBC:          {},
	BankMonzo:         {},
	BankSantander:     {},
	BankStarling:      {},
	BankStarlingJoint: {},
}

// ParseBankRef parses a bank reference from configuration.
// Input is case-insensitive and spaces are treated as underscores
// (e.g. "starling joint" -> STARLING_JOINT).
func ParseBankRef(s string) (BankRef, error) {
	ref := BankRef(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")))
	if _, ok := knownBankRefs[ref]; !ok {
		return "", fmt.Errorf("unknown bank reference %q", s)
	}
	return ref, nil
}

// Slug returns the lowercase form used in state-sink entity IDs.
func (b BankRef) Slug() string {
	return strings.ToLower(string(b))
}

// AccountGroup is a named bucket of one or more external account/card
// identifiers under a single bank. Created from configuration at startup
// and read-only thereafter.
type AccountGroup struct {
	Bank       BankRef
	Name       string
	AccountIDs []string
}

// Validate ensures the group adheres to configuration rules.
// A group with zero configured members is a configuration error: it must
// fail at startup, never be skipped silently at poll time.
func (g AccountGroup) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("account group for %s has no name", g.Bank)
	}
	if len(g.AccountIDs) == 0 {
		return fmt.Errorf("account group %s/%s has no account identifiers", g.Bank, g.Name)
	}
	for _, id := range g.AccountIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("account group %s/%s has an empty account identifier", g.Bank, g.Name)
		}
	}
	return nil
}

// BalanceSnapshot is the combined balance of one account group at one
// point in time. Amounts are integer minor currency units; snapshots are
// superseded by the next poll, never merged.
type BalanceSnapshot struct {
	Bank        BankRef
	Group       string
	AmountMinor int64
	Currency    string
	ObservedAt  time.Time

	// Stale marks a snapshot whose latest fetch failed. The amount is the
	// last known good value and must not drive reconciliation decisions.
	Stale bool
}

// EntityID returns the state-sink entity this snapshot publishes to,
// e.g. "var.balance_monzo_current_account".
func (s BalanceSnapshot) EntityID() string {
	return fmt.Sprintf("var.balance_%s_%s", s.Bank.Slug(), s.Group)
}

// FresherThan reports whether the snapshot was observed strictly after
// the other one. Used to prevent an older fetch overwriting a newer value.
func (s BalanceSnapshot) FresherThan(other BalanceSnapshot) bool {
	return s.ObservedAt.After(other.ObservedAt)
}
