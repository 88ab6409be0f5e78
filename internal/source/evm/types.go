package evm

import (
	"errors"

	"github.com/devblac/slot-scout/internal/pairscan"
)

// Chain is the identifier for EVM chains.
const Chain = "evm"

// ErrReorgDetected signals that the chain rewound; caller should restart from the updated cursor.
var ErrReorgDetected = errors.New("reorg detected")

// Finding is a name/symbol pair spotted in a contract's storage at one block.
type Finding struct {
	RuleID   string
	Chain    string
	SourceID string
	Height   uint64
	Hash     string
	Subject  string
	Slot     string
	Pair     pairscan.Pair
	Verified bool
}
