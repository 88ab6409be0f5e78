package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/devblac/slot-scout/internal/pairscan"
	"github.com/devblac/slot-scout/internal/source/evm"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	flagInput string
	flagHex   []string
)

func init() {
	scanCmd.Flags().StringVar(&flagInput, "input", "", "YAML/JSON list of storage changes (- for stdin)")
	scanCmd.Flags().StringArrayVar(&flagHex, "hex", nil, "Storage value in 0x-hex, in order (repeatable)")
}

// changeInput is one entry of a scan input file. new_value is 0x-hex or plain text.
type changeInput struct {
	Subject  string `yaml:"subject"`
	Slot     string `yaml:"slot"`
	Height   uint64 `yaml:"height"`
	TxHash   string `yaml:"txhash"`
	NewValue string `yaml:"new_value"`
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan an ordered list of storage values for a name/symbol pair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var changes []pairscan.StorageChange
		if flagInput != "" {
			var r io.Reader = cmd.InOrStdin()
			if flagInput != "-" {
				f, err := os.Open(flagInput)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				r = f
			}
			loaded, err := loadChanges(r)
			if err != nil {
				return err
			}
			changes = loaded
		}
		for i, h := range flagHex {
			if !strings.HasPrefix(h, "0x") && !strings.HasPrefix(h, "0X") {
				h = "0x" + h
			}
			v, err := decodeHex(h)
			if err != nil {
				return fmt.Errorf("--hex #%d: %w", i+1, err)
			}
			changes = append(changes, pairscan.StorageChange{NewValue: v})
		}
		printScan(cmd.OutOrStdout(), changes)
		return nil
	},
}

func loadChanges(r io.Reader) ([]pairscan.StorageChange, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	var entries []changeInput
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	out := make([]pairscan.StorageChange, 0, len(entries))
	for _, e := range entries {
		out = append(out, pairscan.StorageChange{
			Subject:  e.Subject,
			Slot:     e.Slot,
			Height:   e.Height,
			TxHash:   e.TxHash,
			NewValue: parseValue(e.NewValue),
		})
	}
	return out, nil
}

// parseValue decodes 0x-prefixed hex when it is valid hex; anything else,
// including text such as "0xBTC", is taken literally.
func parseValue(s string) []byte {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if b, err := decodeHex(s); err == nil {
			return b
		}
	}
	return []byte(s)
}

// decodeHex decodes a 0x value; a full 32-byte word is unpacked as a
// Solidity short string.
func decodeHex(s string) ([]byte, error) {
	b, err := hexutil.Decode("0x" + s[2:])
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", s, err)
	}
	return evm.UnpackSlotValue(b), nil
}

func printScan(w io.Writer, changes []pairscan.StorageChange) {
	if pair, ok := pairscan.FindNameSymbolPair(changes); ok {
		fmt.Fprintln(w, pair.String())
		return
	}
	fmt.Fprintln(w, pairscan.NoMatchMessage)
}
