package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseBankRef(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    BankRef
		wantErr bool
	}{
		{name: "uppercase ref", input: "MONZO", want: BankMonzo},
		{name: "lowercase ref", input: "amex", want: BankAmex},
		{name: "spaces become underscores", input: "starling joint", want: BankStarlingJoint},
		{name: "surrounding whitespace trimmed", input: "  hsbc ", want: BankHSBC},
		{name: "unknown ref rejected", input: "NATWEST", wantErr: true},
		{name: "empty ref rejected", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBankRef(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestAccountGroup_Validate(t *testing.T) {
	tests := []struct {
		name    string
		group   AccountGroup
		wantErr bool
		errMsg  string
	}{
		{
			name:  "group with members should pass",
			group: AccountGroup{Bank: BankMonzo, Name: "current_account", AccountIDs: []string{"acc_1"}},
		},
		{
			name:    "group with no members should fail",
			group:   AccountGroup{Bank: BankAmex, Name: "credit_cards", AccountIDs: nil},
			wantErr: true,
			errMsg:  "no account identifiers",
		},
		{
			name:    "group with blank member should fail",
			group:   AccountGroup{Bank: BankMonzo, Name: "savings", AccountIDs: []string{"acc_1", " "}},
			wantErr: true,
			errMsg:  "empty account identifier",
		},
		{
			name:    "unnamed group should fail",
			group:   AccountGroup{Bank: BankMonzo, AccountIDs: []string{"acc_1"}},
			wantErr: true,
			errMsg:  "no name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.group.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBalanceSnapshot_EntityID(t *testing.T) {
	snap := BalanceSnapshot{Bank: BankStarlingJoint, Group: "current_account"}
	assert.Equal(t, "var.balance_starling_joint_current_account", snap.EntityID())
}

func TestBalanceSnapshot_FresherThan(t *testing.T) {
	now := time.Now()
	fresh := BalanceSnapshot{ObservedAt: now}
	old := BalanceSnapshot{ObservedAt: now.Add(-time.Minute)}

	assert.True(t, fresh.FresherThan(old))
	assert.False(t, old.FresherThan(fresh))
	assert.False(t, fresh.FresherThan(fresh))
}

func TestMinorMajorConversion(t *testing.T) {
	assert.Equal(t, "123.45", MinorToMajorString(12345))
	assert.Equal(t, "0.79", MinorToMajorString(79))
	assert.Equal(t, "-50.00", MinorToMajorString(-5000))

	minor, err := MajorStringToMinor("123.45")
	assert.NoError(t, err)
	assert.Equal(t, int64(12345), minor)

	// Sub-minor-unit precision must be rejected, not rounded.
	_, err = MajorStringToMinor("1.005")
	assert.Error(t, err)

	_, err = MajorStringToMinor("not-a-number")
	assert.Error(t, err)
}
