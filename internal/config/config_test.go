package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenhall/moneypots/internal/domain"
)

const fullConfig = `
poll_interval: 10m
ledger_path: /data/moneypots.db
truelayer_url: https://api.truelayer.test
monzo_url: https://api.monzo.test
hass_url: http://hass.local:8123

transfer_retry:
  max_attempts: 4
  backoff_base: 250ms

banks:
  - ref: monzo
    groups:
      current_account: [acc_current]
      credit_cards: [cc_pot_balance]
  - ref: amex
    groups:
      credit_cards: [card_amex]

pots:
  - id: pot_cc
    name: credit cards
    purpose: credit-card buffer
    bank: monzo
    target_group: amex/credit_cards
    balance_group: monzo/credit_cards
    funding_group: monzo/current_account
    funding_account_id: acc_current
    min_delta: "5.00"
    max_auto_top_up: "250.00"
    min_funding_remainder: "100.00"
  - id: pot_savings
    name: savings
    purpose: auto-save
    bank: monzo
    funding_account_id: acc_current

auto_save:
  enabled: true
  pot_id: pot_savings
  amount: "0.79"
  debounce_window: 3m
  active_from_hour: 8
  active_to_hour: 23
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "moneypots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func setTokens(t *testing.T) {
	t.Helper()
	t.Setenv("TRUELAYER_TOKEN_MONZO", "tl-monzo")
	t.Setenv("TRUELAYER_TOKEN_AMEX", "tl-amex")
	t.Setenv("MONZO_TOKEN", "monzo-token")
	t.Setenv("HASS_TOKEN", "hass-token")
}

func TestLoad_FullConfig(t *testing.T) {
	setTokens(t)

	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.PollInterval)
	assert.Equal(t, "/data/moneypots.db", cfg.LedgerPath)
	assert.Equal(t, 4, cfg.Transfer.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Transfer.BackoffBase)

	require.Len(t, cfg.Banks, 2)
	monzo, ok := cfg.Bank(domain.BankMonzo)
	require.True(t, ok)
	assert.Equal(t, "tl-monzo", monzo.Token)
	assert.Len(t, monzo.Groups, 2)

	require.Len(t, cfg.Pots, 2)
	pot, ok := cfg.Pot("pot_cc")
	require.True(t, ok)
	assert.True(t, pot.Tracking())
	assert.Equal(t, domain.GroupRef{Bank: domain.BankAmex, Group: "credit_cards"}, pot.Target)
	assert.Equal(t, int64(500), pot.MinDeltaMinor)
	assert.Equal(t, int64(25000), pot.MaxAutoTopUpMinor)
	assert.Equal(t, int64(10000), pot.MinFundingRemainderMinor)

	savings, ok := cfg.Pot("pot_savings")
	require.True(t, ok)
	assert.False(t, savings.Tracking())

	assert.True(t, cfg.AutoSave.Enabled)
	assert.Equal(t, int64(79), cfg.AutoSave.AmountMinor)
	assert.Equal(t, 3*time.Minute, cfg.AutoSave.DebounceWindow)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TRUELAYER_TOKEN_MONZO", "tl-monzo")
	t.Setenv("MONZO_TOKEN", "monzo-token")

	cfg, err := Load(writeConfig(t, `
ledger_path: /data/moneypots.db
banks:
  - ref: monzo
    groups:
      current_account: [acc_current]
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultMaxAttempts, cfg.Transfer.MaxAttempts)
	assert.Equal(t, DefaultBackoffBase, cfg.Transfer.BackoffBase)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
}

func TestLoad_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name: "empty account group fails at startup",
			yaml: `
ledger_path: /data/db
banks:
  - ref: amex
    groups:
      credit_cards: []
`,
			errMsg: "no account identifiers",
		},
		{
			name: "unknown bank ref",
			yaml: `
ledger_path: /data/db
banks:
  - ref: natwest
    groups:
      current_account: [acc_1]
`,
			errMsg: "unknown bank reference",
		},
		{
			name: "missing ledger path",
			yaml: `
banks:
  - ref: monzo
    groups:
      current_account: [acc_1]
`,
			errMsg: "ledger_path",
		},
		{
			name: "pot referencing unconfigured group",
			yaml: `
ledger_path: /data/db
banks:
  - ref: monzo
    groups:
      current_account: [acc_1]
pots:
  - id: pot_cc
    name: credit cards
    bank: monzo
    target_group: amex/credit_cards
    balance_group: monzo/credit_cards
    funding_group: monzo/current_account
    funding_account_id: acc_1
`,
			errMsg: "unconfigured account group",
		},
		{
			name: "negative retry budget",
			yaml: `
ledger_path: /data/db
transfer_retry:
  max_attempts: -3
banks:
  - ref: monzo
    groups:
      current_account: [acc_1]
`,
			errMsg: "max_attempts must be at least 1",
		},
		{
			name: "negative backoff base",
			yaml: `
ledger_path: /data/db
transfer_retry:
  backoff_base: -1s
banks:
  - ref: monzo
    groups:
      current_account: [acc_1]
`,
			errMsg: "backoff_base must not be negative",
		},
		{
			name: "auto-save pot must exist",
			yaml: `
ledger_path: /data/db
banks:
  - ref: monzo
    groups:
      current_account: [acc_1]
auto_save:
  enabled: true
  pot_id: pot_missing
`,
			errMsg: "not a configured pot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setTokens(t)

			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingBankToken(t *testing.T) {
	t.Setenv("TRUELAYER_TOKEN_MONZO", "")
	t.Setenv("MONZO_TOKEN", "monzo-token")

	_, err := Load(writeConfig(t, `
ledger_path: /data/db
banks:
  - ref: monzo
    groups:
      current_account: [acc_1]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing TRUELAYER_TOKEN_MONZO")
}
