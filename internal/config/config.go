// Package config loads the daemon configuration: a YAML file describing
// banks, account groups and pots, plus secrets injected through the
// environment (with optional .env loading for local runs).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wrenhall/moneypots/internal/domain"
)

// Defaults applied when the YAML omits a value.
const (
	DefaultPollInterval   = 15 * time.Minute
	DefaultMaxAttempts    = 5
	DefaultBackoffBase    = 500 * time.Millisecond
	DefaultDebounceWindow = 5 * time.Minute
	DefaultAutoSaveMinor  = 79 // pence per track
	DefaultListenAddr     = ":8750"
)

// Config is the immutable configuration object constructed once at startup
// and passed by reference into each component.
type Config struct {
	PollInterval time.Duration
	LedgerPath   string
	ListenAddr   string

	Transfer TransferConfig
	Banks    []BankConfig
	Pots     []domain.Pot
	AutoSave AutoSaveConfig

	TrueLayer TrueLayerConfig
	Monzo     MonzoConfig
	Hass      HassConfig
}

// TransferConfig bounds the money mover's retry policy.
type TransferConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// BankConfig is one bank's account groupings plus its API token.
type BankConfig struct {
	Ref    domain.BankRef
	Groups []domain.AccountGroup
	Token  string
}

// AutoSaveConfig drives the media-triggered discretionary saver.
type AutoSaveConfig struct {
	Enabled        bool
	PotID          string
	AmountMinor    int64
	DebounceWindow time.Duration

	// ActiveFromHour/ActiveToHour bound the hours (UTC, half-open range)
	// during which triggers produce saves. Equal values mean always active.
	ActiveFromHour int
	ActiveToHour   int
}

// TrueLayerConfig points at the aggregation API.
type TrueLayerConfig struct {
	BaseURL string
}

// MonzoConfig points at the transfer API.
type MonzoConfig struct {
	BaseURL string
	Token   string
}

// HassConfig points at the home-automation state store.
type HassConfig struct {
	BaseURL string
	Token   string
}

// rawConfig mirrors the YAML file. Money amounts are written in major
// units ("5.00") and converted to minor units during Load.
type rawConfig struct {
	PollInterval  string `yaml:"poll_interval"`
	LedgerPath    string `yaml:"ledger_path"`
	ListenAddr    string `yaml:"listen_addr"`
	TrueLayerURL  string `yaml:"truelayer_url"`
	MonzoURL      string `yaml:"monzo_url"`
	HassURL       string `yaml:"hass_url"`
	TransferRetry struct {
		MaxAttempts int    `yaml:"max_attempts"`
		BackoffBase string `yaml:"backoff_base"`
	} `yaml:"transfer_retry"`
	Banks []struct {
		Ref    string              `yaml:"ref"`
		Groups map[string][]string `yaml:"groups"`
	} `yaml:"banks"`
	Pots []struct {
		ID                  string `yaml:"id"`
		Name                string `yaml:"name"`
		Purpose             string `yaml:"purpose"`
		Bank                string `yaml:"bank"`
		TargetGroup         string `yaml:"target_group"`
		BalanceGroup        string `yaml:"balance_group"`
		FundingGroup        string `yaml:"funding_group"`
		FundingAccountID    string `yaml:"funding_account_id"`
		MinDelta            string `yaml:"min_delta"`
		MaxAutoTopUp        string `yaml:"max_auto_top_up"`
		MinFundingRemainder string `yaml:"min_funding_remainder"`
	} `yaml:"pots"`
	AutoSave struct {
		Enabled        bool   `yaml:"enabled"`
		PotID          string `yaml:"pot_id"`
		Amount         string `yaml:"amount"`
		DebounceWindow string `yaml:"debounce_window"`
		ActiveFromHour int    `yaml:"active_from_hour"`
		ActiveToHour   int    `yaml:"active_to_hour"`
	} `yaml:"auto_save"`
}

// Load reads the YAML config file, resolves secrets from the environment
// and validates the result. A .env file in the working directory is loaded
// first when present (local runs; the host injects real secrets directly).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg, err := build(&raw)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// build converts the raw YAML into the typed configuration.
func build(raw *rawConfig) (*Config, error) {
	cfg := &Config{
		LedgerPath: raw.LedgerPath,
		ListenAddr: raw.ListenAddr,
		TrueLayer:  TrueLayerConfig{BaseURL: raw.TrueLayerURL},
		Monzo:      MonzoConfig{BaseURL: raw.MonzoURL, Token: os.Getenv("MONZO_TOKEN")},
		Hass:       HassConfig{BaseURL: raw.HassURL, Token: os.Getenv("HASS_TOKEN")},
	}

	var err error
	if cfg.PollInterval, err = parseDuration(raw.PollInterval, DefaultPollInterval); err != nil {
		return nil, fmt.Errorf("invalid poll_interval: %w", err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	cfg.Transfer.MaxAttempts = raw.TransferRetry.MaxAttempts
	if cfg.Transfer.MaxAttempts == 0 {
		cfg.Transfer.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Transfer.BackoffBase, err = parseDuration(raw.TransferRetry.BackoffBase, DefaultBackoffBase); err != nil {
		return nil, fmt.Errorf("invalid transfer_retry.backoff_base: %w", err)
	}

	for _, b := range raw.Banks {
		ref, err := domain.ParseBankRef(b.Ref)
		if err != nil {
			return nil, fmt.Errorf("banks: %w", err)
		}

		bank := BankConfig{
			Ref:   ref,
			Token: os.Getenv(fmt.Sprintf("TRUELAYER_TOKEN_%s", ref)),
		}
		for name, ids := range b.Groups {
			bank.Groups = append(bank.Groups, domain.AccountGroup{
				Bank:       ref,
				Name:       name,
				AccountIDs: ids,
			})
		}
		cfg.Banks = append(cfg.Banks, bank)
	}

	for _, p := range raw.Pots {
		bank, err := domain.ParseBankRef(p.Bank)
		if err != nil {
			return nil, fmt.Errorf("pot %s: %w", p.ID, err)
		}

		pot := domain.Pot{
			ID:               p.ID,
			Name:             p.Name,
			Purpose:          p.Purpose,
			Bank:             bank,
			TargetKind:       domain.PotTargetNone,
			FundingAccountID: p.FundingAccountID,
		}

		if p.TargetGroup != "" {
			pot.TargetKind = domain.PotTargetGroupBalance
			if pot.Target, err = parseGroupRef(p.TargetGroup); err != nil {
				return nil, fmt.Errorf("pot %s target_group: %w", p.ID, err)
			}
			if pot.Balance, err = parseGroupRef(p.BalanceGroup); err != nil {
				return nil, fmt.Errorf("pot %s balance_group: %w", p.ID, err)
			}
			if pot.Funding, err = parseGroupRef(p.FundingGroup); err != nil {
				return nil, fmt.Errorf("pot %s funding_group: %w", p.ID, err)
			}
		}

		if pot.MinDeltaMinor, err = parseAmount(p.MinDelta, 0); err != nil {
			return nil, fmt.Errorf("pot %s min_delta: %w", p.ID, err)
		}
		if pot.MaxAutoTopUpMinor, err = parseAmount(p.MaxAutoTopUp, 0); err != nil {
			return nil, fmt.Errorf("pot %s max_auto_top_up: %w", p.ID, err)
		}
		if pot.MinFundingRemainderMinor, err = parseAmount(p.MinFundingRemainder, 0); err != nil {
			return nil, fmt.Errorf("pot %s min_funding_remainder: %w", p.ID, err)
		}

		cfg.Pots = append(cfg.Pots, pot)
	}

	cfg.AutoSave.Enabled = raw.AutoSave.Enabled
	cfg.AutoSave.PotID = raw.AutoSave.PotID
	cfg.AutoSave.ActiveFromHour = raw.AutoSave.ActiveFromHour
	cfg.AutoSave.ActiveToHour = raw.AutoSave.ActiveToHour
	if cfg.AutoSave.AmountMinor, err = parseAmount(raw.AutoSave.Amount, DefaultAutoSaveMinor); err != nil {
		return nil, fmt.Errorf("auto_save.amount: %w", err)
	}
	if cfg.AutoSave.DebounceWindow, err = parseDuration(raw.AutoSave.DebounceWindow, DefaultDebounceWindow); err != nil {
		return nil, fmt.Errorf("auto_save.debounce_window: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration before any polling or trigger handling
// begins. Configuration errors must fail at startup, not at poll time.
func (c *Config) Validate() error {
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger_path must be set")
	}
	if c.Transfer.MaxAttempts < 1 {
		return fmt.Errorf("transfer_retry.max_attempts must be at least 1, got %d", c.Transfer.MaxAttempts)
	}
	if c.Transfer.BackoffBase < 0 {
		return fmt.Errorf("transfer_retry.backoff_base must not be negative, got %s", c.Transfer.BackoffBase)
	}
	if len(c.Banks) == 0 {
		return fmt.Errorf("at least one bank must be configured")
	}

	groups := make(map[domain.GroupRef]struct{})
	seen := make(map[domain.BankRef]struct{})
	for _, bank := range c.Banks {
		if _, dup := seen[bank.Ref]; dup {
			return fmt.Errorf("bank %s configured twice", bank.Ref)
		}
		seen[bank.Ref] = struct{}{}

		if bank.Token == "" {
			return fmt.Errorf("missing TRUELAYER_TOKEN_%s for configured bank", bank.Ref)
		}
		if len(bank.Groups) == 0 {
			return fmt.Errorf("bank %s has no account groups", bank.Ref)
		}
		for _, g := range bank.Groups {
			if err := g.Validate(); err != nil {
				return err
			}
			groups[domain.GroupRef{Bank: g.Bank, Group: g.Name}] = struct{}{}
		}
	}

	potIDs := make(map[string]domain.Pot)
	for _, pot := range c.Pots {
		if err := pot.Validate(); err != nil {
			return err
		}
		if _, dup := potIDs[pot.ID]; dup {
			return fmt.Errorf("pot %s configured twice", pot.ID)
		}
		potIDs[pot.ID] = pot

		if pot.Tracking() {
			for _, ref := range []domain.GroupRef{pot.Target, pot.Balance, pot.Funding} {
				if _, ok := groups[ref]; !ok {
					return fmt.Errorf("pot %s references unconfigured account group %s", pot.ID, ref)
				}
			}
		}
	}

	if len(c.Pots) > 0 && c.Monzo.Token == "" {
		return fmt.Errorf("missing MONZO_TOKEN with pots configured")
	}

	if c.AutoSave.Enabled {
		pot, ok := potIDs[c.AutoSave.PotID]
		if !ok {
			return fmt.Errorf("auto_save.pot_id %q is not a configured pot", c.AutoSave.PotID)
		}
		if pot.Tracking() {
			return fmt.Errorf("auto_save pot %s must not have an automatic target", pot.ID)
		}
		if c.AutoSave.AmountMinor <= 0 {
			return fmt.Errorf("auto_save.amount must be positive")
		}
		if c.AutoSave.ActiveFromHour < 0 || c.AutoSave.ActiveFromHour > 23 ||
			c.AutoSave.ActiveToHour < 0 || c.AutoSave.ActiveToHour > 23 {
			return fmt.Errorf("auto_save active hours must be within 0-23")
		}
	}

	return nil
}

// Bank returns the configuration for one bank ref.
func (c *Config) Bank(ref domain.BankRef) (*BankConfig, bool) {
	for i := range c.Banks {
		if c.Banks[i].Ref == ref {
			return &c.Banks[i], true
		}
	}
	return nil, false
}

// Pot returns the pot with the given ID.
func (c *Config) Pot(id string) (*domain.Pot, bool) {
	for i := range c.Pots {
		if c.Pots[i].ID == id {
			return &c.Pots[i], true
		}
	}
	return nil, false
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

func parseAmount(s string, fallback int64) (int64, error) {
	if s == "" {
		return fallback, nil
	}
	return domain.MajorStringToMinor(s)
}

func parseGroupRef(s string) (domain.GroupRef, error) {
	var bank, group string
	for i := range s {
		if s[i] == '/' {
			bank, group = s[:i], s[i+1:]
			break
		}
	}
	if bank == "" || group == "" {
		return domain.GroupRef{}, fmt.Errorf("group reference %q must be in bank/group form", s)
	}

	ref, err := domain.ParseBankRef(bank)
	if err != nil {
		return domain.GroupRef{}, err
	}
	return domain.GroupRef{Bank: ref, Group: group}, nil
}
