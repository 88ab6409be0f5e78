package main

import (
	"fmt"
	"io"
	"os"

	"github.com/devblac/slot-scout/internal/config"
	"github.com/devblac/slot-scout/internal/report"
	"github.com/devblac/slot-scout/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagWhat   string
	flagFormat string
	flagOut    string
	flagLimit  int
)

func init() {
	exportCmd.Flags().StringVar(&flagWhat, "what", "findings", "What to export: findings|cursors")
	exportCmd.Flags().StringVar(&flagFormat, "format", report.FormatCSV, "Output format: csv|json")
	exportCmd.Flags().StringVar(&flagOut, "out", "", "Output file (default stdout)")
	exportCmd.Flags().IntVar(&flagLimit, "limit", 0, "Maximum findings to export (0 = all)")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export findings or cursors as csv/json",
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

		var w io.Writer = cmd.OutOrStdout()
		if flagOut != "" {
			f, err := os.Create(flagOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", flagOut, err)
			}
			defer f.Close()
			w = f
		}

		switch flagWhat {
		case "findings":
			findings, err := store.ListFindings(cmd.Context(), flagLimit)
			if err != nil {
				return err
			}
			return report.WriteFindings(w, flagFormat, findings)
		case "cursors":
			cursors, err := store.ListCursors(cmd.Context())
			if err != nil {
				return err
			}
			return report.WriteCursors(w, flagFormat, cursors)
		default:
			return fmt.Errorf("unsupported --what %q (want findings or cursors)", flagWhat)
		}
	},
}
