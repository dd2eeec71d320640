package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wrenhall/moneypots/internal/adapter/hass"
	"github.com/wrenhall/moneypots/internal/adapter/monzo"
	"github.com/wrenhall/moneypots/internal/adapter/repository/sqlite"
	"github.com/wrenhall/moneypots/internal/adapter/truelayer"
	"github.com/wrenhall/moneypots/internal/config"
	"github.com/wrenhall/moneypots/internal/domain"
	"github.com/wrenhall/moneypots/internal/usecase/aggregator"
	"github.com/wrenhall/moneypots/internal/usecase/mover"
	"github.com/wrenhall/moneypots/internal/usecase/potmanager"
)

var reconcileDryRun bool

// reconcileCmd represents the reconcile command.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Poll balances and reconcile every tracking pot once",
	Long: `Poll every configured bank, then reconcile each tracking pot
against the balance it mirrors. With --dry-run the computed transfers
are printed without touching the ledger or moving money.

Example:
  moneypots reconcile --dry-run
  moneypots reconcile`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "print intents without executing them")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	sink := hass.NewSink(cfg.Hass.BaseURL, cfg.Hass.Token)
	source := truelayer.NewClient(cfg.TrueLayer.BaseURL, bankTokens(cfg))
	store := aggregator.NewStore()
	agg := aggregator.NewService(source, sink, store, bankGroups(cfg), cfg.PollInterval, log)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.PollInterval)
	defer cancel()

	// Reconciliation only acts on fresh balances, so poll first.
	for _, bank := range cfg.Banks {
		if _, err := agg.Poll(ctx, bank.Ref); err != nil {
			log.Error().Str("bank", string(bank.Ref)).Err(err).Msg("poll failed")
		}
	}

	if reconcileDryRun {
		pots := potmanager.NewService(store, nil, sink, cfg.Pots, cfg.PollInterval, log)
		return printIntents(ctx, pots, cfg)
	}

	db, err := sqlite.Open(cfg.LedgerPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.LedgerPath).Msg("failed to open ledger")
		return err
	}
	defer db.Close()

	ledger := sqlite.NewTransferLedger(db)
	transfers := monzo.NewClient(cfg.Monzo.BaseURL, cfg.Monzo.Token)
	mov := mover.NewService(ledger, transfers, cfg.Transfer.MaxAttempts, cfg.Transfer.BackoffBase, log)

	if err := mov.RecoverStranded(ctx); err != nil {
		log.Error().Err(err).Msg("failed to recover stranded transfers")
		return err
	}

	pots := potmanager.NewService(store, mov, sink, cfg.Pots, cfg.PollInterval, log)
	pots.ReconcileAll(ctx)
	return nil
}

// printIntents runs the reconciliation decision for every tracking pot
// and prints what would be transferred.
func printIntents(ctx context.Context, pots *potmanager.Service, cfg *config.Config) error {
	for _, pot := range cfg.Pots {
		if !pot.Tracking() {
			continue
		}

		intent, err := pots.Reconcile(ctx, pot)
		switch {
		case errors.Is(err, domain.ErrStaleSnapshot):
			fmt.Printf("%-24s skipped: %v\n", pot.ID, err)
		case err != nil:
			return fmt.Errorf("failed to reconcile %s: %w", pot.ID, err)
		case intent == nil:
			fmt.Printf("%-24s converged\n", pot.ID)
		default:
			fmt.Printf("%-24s %s -> %s  %s  (%s)\n",
				pot.ID, intent.SourceRef, intent.DestinationRef,
				domain.MinorToMajorString(intent.AmountMinor), intent.IdempotencyKey)
		}
	}
	return nil
}
