package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wrenhall/moneypots/internal/adapter/hass"
	"github.com/wrenhall/moneypots/internal/adapter/truelayer"
	"github.com/wrenhall/moneypots/internal/config"
	"github.com/wrenhall/moneypots/internal/domain"
	"github.com/wrenhall/moneypots/internal/usecase/aggregator"
)

var pollPublish bool

// pollCmd represents the poll command.
var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll every configured bank once and print the balances",
	Long: `Poll every configured bank once and print each account group's
balance. By default nothing is published; pass --publish to also write
the snapshots to the home-automation state store.

Example:
  moneypots poll
  moneypots poll --publish`,
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().BoolVar(&pollPublish, "publish", false, "also publish snapshots to the state store")
}

func runPoll(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	var sink domain.StateSink = noopSink{}
	if pollPublish {
		sink = hass.NewSink(cfg.Hass.BaseURL, cfg.Hass.Token)
	}

	source := truelayer.NewClient(cfg.TrueLayer.BaseURL, bankTokens(cfg))
	store := aggregator.NewStore()
	agg := aggregator.NewService(source, sink, store, bankGroups(cfg), cfg.PollInterval, log)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.PollInterval)
	defer cancel()

	failed := false
	for _, bank := range cfg.Banks {
		snapshots, err := agg.Poll(ctx, bank.Ref)
		if err != nil {
			log.Error().Str("bank", string(bank.Ref)).Err(err).Msg("poll failed")
			failed = true
			continue
		}

		groups := make([]string, 0, len(snapshots))
		for group := range snapshots {
			groups = append(groups, group)
		}
		sort.Strings(groups)

		for _, group := range groups {
			snap := snapshots[group]
			fmt.Printf("%-16s %-12s %10s %s\n",
				bank.Ref, group, domain.MinorToMajorString(snap.AmountMinor), snap.Currency)
		}
	}

	if failed {
		return fmt.Errorf("one or more banks failed to poll")
	}
	return nil
}

// noopSink discards publishes; one-shot polls print to stdout instead.
type noopSink struct{}

func (noopSink) Publish(context.Context, string, string, map[string]string) error {
	return nil
}
