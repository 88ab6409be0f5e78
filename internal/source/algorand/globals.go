package algorand

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	sdk "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/devblac/slot-scout/internal/config"
	"github.com/devblac/slot-scout/internal/pairscan"
)

// RuleCollector turns application global-state deltas into storage changes.
type RuleCollector struct {
	rule  config.Rule
	appID uint64
}

// NewRuleCollector builds a collector for a global_state rule; app_id 0 watches every app.
func NewRuleCollector(rule config.Rule) (*RuleCollector, error) {
	if strings.ToLower(rule.Match.Type) != "global_state" {
		return nil, fmt.Errorf("rule %s: unsupported match.type %s for algorand", rule.ID, rule.Match.Type)
	}
	return &RuleCollector{rule: rule, appID: rule.Match.AppID}, nil
}

// Collect returns the byte writes an app call made to global state, ordered
// by key. ok is false when the transaction is not a matching app call.
func (c *RuleCollector) Collect(tx sdk.Transaction, apply sdk.ApplyData, round uint64) (appID uint64, changes []pairscan.StorageChange, ok bool) {
	if tx.Type != sdk.ApplicationCallTx {
		return 0, nil, false
	}
	appID = uint64(tx.ApplicationID)
	if appID == 0 {
		// Creation: the new id is only known from the apply data.
		appID = apply.ApplicationID
	}
	if c.appID != 0 && appID != c.appID {
		return 0, nil, false
	}

	keys := make([]string, 0, len(apply.EvalDelta.GlobalDelta))
	for k, vd := range apply.EvalDelta.GlobalDelta {
		if vd.Action == sdk.SetBytesAction {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	subject := strconv.FormatUint(appID, 10)
	for _, k := range keys {
		changes = append(changes, pairscan.StorageChange{
			Subject:  subject,
			Slot:     printableKey(k),
			Height:   round,
			NewValue: []byte(apply.EvalDelta.GlobalDelta[k].Bytes),
		})
	}
	return appID, changes, true
}

func printableKey(k string) string {
	if utf8.ValidString(k) {
		return k
	}
	return base64.StdEncoding.EncodeToString([]byte(k))
}
