// Package pairscan finds a token name followed by its symbol in a sequence
// of storage writes.
package pairscan

import (
	"fmt"
	"unicode/utf8"
)

// NoMatchMessage is reported when a sequence holds no name/symbol pair.
const NoMatchMessage = "No matching name-symbol pair found."

// StorageChange is one observed write to a storage slot. Only NewValue is
// inspected by the scanner; the rest is context carried for callers.
type StorageChange struct {
	Subject  string
	Slot     string
	Height   uint64
	TxHash   string
	OldValue []byte
	NewValue []byte
}

// Pair is a name/symbol candidate taken from two adjacent changes.
type Pair struct {
	Name   string
	Symbol string
}

func (p Pair) String() string {
	return fmt.Sprintf("Found name: '%s', symbol: '%s'", p.Name, p.Symbol)
}

// FindNameSymbolPair folds over changes as (previous, current) pairs from
// the left. A matching pair ends the scan with a result; a mismatching pair
// ends it with none. Pairs after the first mismatch are never examined, so
// a valid pair at positions (1,2) is missed when (0,1) fails.
func FindNameSymbolPair(changes []StorageChange) (Pair, bool) {
	// Every pass breaks or returns, so only changes[0] and changes[1] can
	// ever decide the result.
	for i := 1; i < len(changes); i++ {
		pair, ok := matchAdjacent(changes[i-1], changes[i])
		if !ok {
			break
		}
		return pair, true
	}
	return Pair{}, false
}

func matchAdjacent(prev, cur StorageChange) (Pair, bool) {
	name, ok := decode(prev.NewValue)
	if !ok || !IsTypicalString(name) {
		return Pair{}, false
	}
	symbol, ok := decode(cur.NewValue)
	if !ok || !IsSymbol(symbol) {
		return Pair{}, false
	}
	return Pair{Name: name, Symbol: symbol}, true
}

func decode(b []byte) (string, bool) {
	if !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}
