package domain

import (
	"errors"
	"fmt"
)

// PotTargetKind describes how a pot's target balance is derived.
type PotTargetKind string

const (
	// PotTargetGroupBalance keeps the pot equal to the balance of another
	// account group (e.g. a credit-card buffer pot tracking the outstanding
	// credit-card balance).
	PotTargetGroupBalance PotTargetKind = "GROUP_BALANCE"

	// PotTargetNone means the pot has no automatic target and only accepts
	// discretionary contributions (e.g. the auto-save pot).
	PotTargetNone PotTargetKind = "NONE"
)

// GroupRef points at one account group under one bank. Targets may live
// under a different bank than the pot itself: a Monzo buffer pot can track
// an Amex credit-card balance.
type GroupRef struct {
	Bank  BankRef
	Group string
}

// String returns the "bank/group" form used in configuration and logs.
func (r GroupRef) String() string {
	return fmt.Sprintf("%s/%s", r.Bank.Slug(), r.Group)
}

// Zero reports whether the ref is unset.
func (r GroupRef) Zero() bool {
	return r.Bank == "" && r.Group == ""
}

// Pot is a named, ring-fenced sub-balance within a bank account used to
// hold savings or buffer funds.
type Pot struct {
	ID      string
	Name    string
	Purpose string
	Bank    BankRef

	TargetKind PotTargetKind

	// Target is the account group whose balance the pot tracks.
	// Only meaningful when TargetKind is GROUP_BALANCE.
	Target GroupRef

	// Balance is the account group that reports the pot's own balance.
	Balance GroupRef

	// Funding is the account group whose balance limits top-ups.
	Funding GroupRef

	// FundingAccountID is the external account identifier top-ups are drawn
	// from and withdrawals are returned to; the transfer API source ref.
	FundingAccountID string

	// MinDeltaMinor suppresses transfers below this size so rounding and
	// timing noise cannot cause thrashing.
	MinDeltaMinor int64

	// MaxAutoTopUpMinor caps unattended top-ups. A larger deficit is
	// flagged for a human instead of being executed.
	MaxAutoTopUpMinor int64

	// MinFundingRemainderMinor is the balance that must remain in the
	// funding account after a top-up.
	MinFundingRemainderMinor int64
}

// Validate ensures the pot adheres to configuration rules.
func (p Pot) Validate() error {
	if p.ID == "" {
		return errors.New("pot ID cannot be empty")
	}
	if p.Name == "" {
		return errors.New("pot name cannot be empty")
	}
	switch p.TargetKind {
	case PotTargetGroupBalance:
		if p.Target.Zero() {
			return fmt.Errorf("pot %s: group-tracking pot must name a target group", p.ID)
		}
		if p.Balance.Zero() {
			return fmt.Errorf("pot %s: group-tracking pot must name a balance group", p.ID)
		}
		if p.Funding.Zero() {
			return fmt.Errorf("pot %s: group-tracking pot must name a funding group", p.ID)
		}
		if p.FundingAccountID == "" {
			return fmt.Errorf("pot %s: group-tracking pot must name a funding account", p.ID)
		}
	case PotTargetNone:
		// Discretionary pots only need a funding account for deposits.
		if p.FundingAccountID == "" {
			return fmt.Errorf("pot %s: pot must name a funding account", p.ID)
		}
	default:
		return fmt.Errorf("pot %s: target kind must be GROUP_BALANCE or NONE", p.ID)
	}
	if p.MinDeltaMinor < 0 || p.MaxAutoTopUpMinor < 0 || p.MinFundingRemainderMinor < 0 {
		return fmt.Errorf("pot %s: thresholds cannot be negative", p.ID)
	}
	return nil
}

// Tracking reports whether the pot has an automatic target to converge on.
func (p Pot) Tracking() bool {
	return p.TargetKind == PotTargetGroupBalance
}
