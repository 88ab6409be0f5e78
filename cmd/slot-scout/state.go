package main

import (
	"context"
	"fmt"

	"github.com/devblac/slot-scout/internal/config"
	"github.com/devblac/slot-scout/internal/logging"
	"github.com/devblac/slot-scout/internal/report"
	"github.com/devblac/slot-scout/internal/source/algorand"
	"github.com/devblac/slot-scout/internal/source/evm"
	"github.com/devblac/slot-scout/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagLag      bool
	flagFindings int
)

func init() {
	stateCmd.Flags().BoolVar(&flagLag, "lag", false, "Query each source's head to show processing lag")
	stateCmd.Flags().IntVar(&flagFindings, "findings", 0, "Also list up to N recorded findings")
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show cursors and processing lag",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		cursors, err := store.ListCursors(cmd.Context())
		if err != nil {
			return err
		}
		var heads map[string]uint64
		if flagLag {
			heads = fetchHeads(cmd.Context(), cfg)
		}
		report.CursorTable(cmd.OutOrStdout(), cursors, heads)

		if flagFindings > 0 {
			findings, err := store.ListFindings(cmd.Context(), flagFindings)
			if err != nil {
				return err
			}
			report.FindingsTable(cmd.OutOrStdout(), findings)
		}
		return nil
	},
}

// fetchHeads returns the latest height per reachable source; failures are logged and skipped.
func fetchHeads(ctx context.Context, cfg *config.Config) map[string]uint64 {
	log := logging.New()
	heads := map[string]uint64{}
	for _, src := range cfg.Sources {
		switch src.Type {
		case "evm":
			cli, err := evm.NewRPCClient(src.RPCURL)
			if err != nil {
				log.Warn("dial source", "source", src.ID, "error", err)
				continue
			}
			h, err := cli.HeaderByNumber(ctx, nil)
			if err != nil {
				log.Warn("read head", "source", src.ID, "error", err)
				continue
			}
			heads[src.ID] = h.Number.Uint64()
		case "algorand":
			cli, err := algorand.NewAlgodClient(src.AlgodURL)
			if err != nil {
				log.Warn("dial source", "source", src.ID, "error", err)
				continue
			}
			st, err := cli.Status().Do(ctx)
			if err != nil {
				log.Warn("read head", "source", src.ID, "error", err)
				continue
			}
			heads[src.ID] = st.LastRound
		}
	}
	return heads
}
