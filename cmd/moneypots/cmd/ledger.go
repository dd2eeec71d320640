package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wrenhall/moneypots/internal/adapter/repository/sqlite"
	"github.com/wrenhall/moneypots/internal/config"
	"github.com/wrenhall/moneypots/internal/domain"
)

// ledgerCmd groups the transfer-ledger inspection commands.
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the transfer ledger",
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print transfer counts by status",
	RunE:  runLedgerStats,
}

var ledgerAbandonedCmd = &cobra.Command{
	Use:   "abandoned",
	Short: "List transfers whose outcome needs manual review",
	Long: `List abandoned transfers: every retry ended ambiguously, so the
money may or may not have moved. Each one needs checking against the
bank before its key can be retried.`,
	RunE: runLedgerAbandoned,
}

var ledgerReservedCmd = &cobra.Command{
	Use:   "reserved",
	Short: "List transfers currently reserved",
	Long: `List reserved transfers. While the daemon is running these are
in-flight; a record that stays reserved with nothing running was
stranded by a crash and will be abandoned at the next startup sweep.`,
	RunE: runLedgerReserved,
}

func init() {
	ledgerCmd.AddCommand(ledgerStatsCmd)
	ledgerCmd.AddCommand(ledgerAbandonedCmd)
	ledgerCmd.AddCommand(ledgerReservedCmd)
}

func openLedgerDB() (*sqlite.DB, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return sqlite.Open(cfg.LedgerPath)
}

func runLedgerStats(cmd *cobra.Command, args []string) error {
	db, err := openLedgerDB()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := sqlite.NewReporter(db).Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read ledger stats: %w", err)
	}

	fmt.Printf("reserved:  %d\n", stats.Reserved)
	fmt.Printf("committed: %d\n", stats.Committed)
	fmt.Printf("failed:    %d\n", stats.Failed)
	fmt.Printf("abandoned: %d\n", stats.Abandoned)
	if stats.LastActivity.Valid {
		fmt.Printf("last activity: %s\n", stats.LastActivity.String)
	}
	return nil
}

func runLedgerAbandoned(cmd *cobra.Command, args []string) error {
	return printByStatus(cmd, domain.TransferAbandoned, "no abandoned transfers")
}

func runLedgerReserved(cmd *cobra.Command, args []string) error {
	return printByStatus(cmd, domain.TransferReserved, "no reserved transfers")
}

func printByStatus(cmd *cobra.Command, status domain.TransferStatus, emptyMsg string) error {
	db, err := openLedgerDB()
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := sqlite.NewTransferLedger(db).ListByStatus(cmd.Context(), status)
	if err != nil {
		return fmt.Errorf("failed to list %s transfers: %w", status, err)
	}
	if len(records) == 0 {
		fmt.Println(emptyMsg)
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%s\n  %s -> %s  %s  attempts=%d\n  last error: %s\n",
			rec.IdempotencyKey, rec.SourceRef, rec.DestinationRef,
			domain.MinorToMajorString(rec.AmountMinor), rec.Attempts, rec.LastError)
	}
	return nil
}
