package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devblac/slot-scout/internal/config"
	"github.com/devblac/slot-scout/internal/source/algorand"
	"github.com/devblac/slot-scout/internal/source/evm"
	"github.com/spf13/cobra"
)

const defaultHTTPTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config, summarize rules and ping RPC endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)
		for _, r := range cfg.Rules {
			fmt.Fprintf(out, "- rule %s: %s\n", r.ID, describeMatch(r.Match))
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), defaultHTTPTimeout)
		defer cancel()

		failures := 0
		for _, src := range cfg.Sources {
			if err := checkSource(ctx, out, src); err != nil {
				failures++
				fmt.Fprintf(out, "- source %s (%s): ERROR %v\n", src.ID, src.Type, err)
			}
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d source(s) failed connectivity", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func checkSource(ctx context.Context, out io.Writer, src config.Source) error {
	switch strings.ToLower(src.Type) {
	case "evm":
		cli, err := evm.NewRPCClient(src.RPCURL)
		if err != nil {
			return err
		}
		defer cli.Close()
		chainID, err := cli.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("eth_chainId: %w", err)
		}
		fmt.Fprintf(out, "- source %s (evm): chainId %s OK\n", src.ID, chainID)
	case "algorand":
		cli, err := algorand.NewAlgodClient(src.AlgodURL)
		if err != nil {
			return err
		}
		status, err := cli.Status().Do(ctx)
		if err != nil {
			return fmt.Errorf("algod status: %w", err)
		}
		client := &http.Client{Timeout: defaultHTTPTimeout}
		desc := fmt.Sprintf("round %d", status.LastRound)
		// Blocks come from algod; the indexer is only checked when configured.
		if src.IndexerURL != "" {
			ver, err := pingVersions(ctx, client, src.IndexerURL)
			if err != nil {
				return fmt.Errorf("indexer: %w", err)
			}
			desc += ", indexer " + ver
		}
		fmt.Fprintf(out, "- source %s (algorand): %s OK\n", src.ID, desc)
	default:
		return fmt.Errorf("unsupported type %s", src.Type)
	}
	return nil
}

// pingVersions reads the /versions document served by algod and indexer.
func pingVersions(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	url := strings.TrimRight(baseURL, "/") + "/versions"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call versions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		Versions []string `json:"versions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(body.Versions) == 0 {
		return "unknown", nil
	}
	return body.Versions[0], nil
}

func describeMatch(m config.MatchSpec) string {
	switch strings.ToLower(m.Type) {
	case "storage_pair":
		desc := fmt.Sprintf("storage_pair %s slots %s", m.Contract, m.Slots)
		if m.Verify {
			desc += " (verified via name()/symbol())"
		}
		return desc
	case "global_state":
		if m.AppID == 0 {
			return "global_state any app"
		}
		return fmt.Sprintf("global_state app %d", m.AppID)
	default:
		return m.Type
	}
}
