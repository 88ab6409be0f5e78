package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
)

const sampleConfig = `version: 1

global:
  db_path: slot-scout.db
  confirmations:
    evm: 12
    algorand: 0

sources:
  - id: eth_main
    type: evm
    rpc_url: ${ETH_RPC_URL}
    start_block: latest-100
  - id: algo_main
    type: algorand
    algod_url: https://mainnet-api.algonode.cloud
    start_round: latest-100

rules:
  - id: token_metadata
    source: eth_main
    match:
      type: storage_pair
      contract: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
      slots: "0-2"
      verify: true
    sinks: [console]
    dedupe:
      key: "subject:symbol"
      ttl: 24h
  - id: app_metadata
    source: algo_main
    match:
      type: global_state
      where:
        - "symbol in USDC,ALGO,GOLD"
    sinks: [console]
    rate_limit:
      capacity: 5
      per_second: 1

sinks:
  - id: console
    type: stdout
`

var flagForce bool

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "Overwrite an existing config file")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := writeSampleConfig(cfgPath, flagForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (set ETH_RPC_URL or add it to .env)\n", cfgPath)
		return nil
	},
}

func writeSampleConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
