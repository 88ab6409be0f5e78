package algorand

import (
	"errors"

	"github.com/devblac/slot-scout/internal/pairscan"
)

// Chain identifier for Algorand.
const Chain = "algorand"

// ErrReorgDetected signals that the chain rewound; caller should restart from the updated cursor.
var ErrReorgDetected = errors.New("reorg detected")

// Finding is a name/symbol pair spotted in an application's global-state
// writes within one transaction.
type Finding struct {
	RuleID   string
	Chain    string
	SourceID string
	Height   uint64
	Hash     string
	TxHash   string
	AppID    uint64
	Subject  string
	Slot     string
	Pair     pairscan.Pair
}
