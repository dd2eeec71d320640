package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wrenhall/moneypots/internal/adapter/hass"
	"github.com/wrenhall/moneypots/internal/adapter/monzo"
	"github.com/wrenhall/moneypots/internal/adapter/repository/sqlite"
	"github.com/wrenhall/moneypots/internal/adapter/truelayer"
	"github.com/wrenhall/moneypots/internal/config"
	"github.com/wrenhall/moneypots/internal/domain"
	"github.com/wrenhall/moneypots/internal/usecase/aggregator"
	"github.com/wrenhall/moneypots/internal/usecase/autosaver"
	"github.com/wrenhall/moneypots/internal/usecase/mover"
	"github.com/wrenhall/moneypots/internal/usecase/potmanager"
)

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the polling and reconciliation daemon",
	Long: `Run the full daemon: balance polling per bank, pot reconciliation
on the same interval, and the webhook server that feeds playback events
to the auto-saver. Stops cleanly on SIGINT/SIGTERM.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	db, err := sqlite.Open(cfg.LedgerPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.LedgerPath).Msg("failed to open ledger")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ledger := sqlite.NewTransferLedger(db)
	transfers := monzo.NewClient(cfg.Monzo.BaseURL, cfg.Monzo.Token)
	mov := mover.NewService(ledger, transfers, cfg.Transfer.MaxAttempts, cfg.Transfer.BackoffBase, log)

	// A record still Reserved from a previous run is a transfer that died
	// mid-flight; sweep them before any new intents can collide with them.
	if err := mov.RecoverStranded(ctx); err != nil {
		log.Error().Err(err).Msg("failed to recover stranded transfers")
		return err
	}

	sink := hass.NewSink(cfg.Hass.BaseURL, cfg.Hass.Token)
	source := truelayer.NewClient(cfg.TrueLayer.BaseURL, bankTokens(cfg))

	store := aggregator.NewStore()
	agg := aggregator.NewService(source, sink, store, bankGroups(cfg), cfg.PollInterval, log)
	pots := potmanager.NewService(store, mov, sink, cfg.Pots, cfg.PollInterval, log)

	var handler hass.EventHandler = eventDropper{log: log}
	if cfg.AutoSave.Enabled {
		pot, ok := cfg.Pot(cfg.AutoSave.PotID)
		if !ok {
			// Validate guarantees this, but a broken invariant here moves
			// money to the wrong place.
			log.Error().Str("pot", cfg.AutoSave.PotID).Msg("auto-save pot not configured")
			return fmt.Errorf("auto-save pot %q is not configured", cfg.AutoSave.PotID)
		}
		handler = autosaver.NewService(
			mov,
			*pot,
			cfg.AutoSave.AmountMinor,
			cfg.AutoSave.DebounceWindow,
			cfg.AutoSave.ActiveFromHour,
			cfg.AutoSave.ActiveToHour,
			log,
		)
	}
	trigger := hass.NewTriggerServer(cfg.ListenAddr, handler, log)

	log.Info().
		Int("banks", len(cfg.Banks)).
		Int("pots", len(cfg.Pots)).
		Bool("autosave", cfg.AutoSave.Enabled).
		Dur("poll_interval", cfg.PollInterval).
		Msg("starting daemon")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		agg.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		pots.Run(ctx)
	}()

	if err := trigger.Run(ctx); err != nil {
		log.Error().Err(err).Msg("trigger server failed")
		cancel()
		wg.Wait()
		return err
	}

	wg.Wait()
	log.Info().Msg("daemon stopped")
	return nil
}

// bankTokens collects the per-bank aggregation API credentials.
func bankTokens(cfg *config.Config) map[domain.BankRef]string {
	tokens := make(map[domain.BankRef]string, len(cfg.Banks))
	for _, bank := range cfg.Banks {
		tokens[bank.Ref] = bank.Token
	}
	return tokens
}

// bankGroups collects the account groupings to poll, keyed by bank.
func bankGroups(cfg *config.Config) map[domain.BankRef][]domain.AccountGroup {
	groups := make(map[domain.BankRef][]domain.AccountGroup, len(cfg.Banks))
	for _, bank := range cfg.Banks {
		groups[bank.Ref] = bank.Groups
	}
	return groups
}

// eventDropper stands in for the auto-saver when it is disabled, so the
// webhook endpoint stays up and acknowledges events without acting.
type eventDropper struct {
	log zerolog.Logger
}

func (d eventDropper) HandleEvent(_ context.Context, event autosaver.Event) (*domain.TransferRecord, error) {
	d.log.Debug().Str("event_id", event.EventID).Msg("auto-save disabled, dropping event")
	return nil, nil
}
