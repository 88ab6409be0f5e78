package evm

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/devblac/slot-scout/internal/config"
	"github.com/devblac/slot-scout/internal/pairscan"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	wordSize = 32
	// Long strings past this many bytes are left packed; no name needs more.
	maxLongString = 256
)

// StorageReader is the subset of ethclient needed to read raw slots.
type StorageReader interface {
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// UnpackSlotValue returns the string bytes of a word holding a Solidity
// short string (data left-aligned, last byte 2*len). Any other word is
// returned unchanged.
func UnpackSlotValue(word []byte) []byte {
	if len(word) != wordSize {
		return word
	}
	tag := word[wordSize-1]
	if tag&1 == 1 {
		return word
	}
	n := int(tag / 2)
	if n >= wordSize {
		return word
	}
	for _, b := range word[n : wordSize-1] {
		if b != 0 {
			return word
		}
	}
	return word[:n]
}

// longStringLen reports the byte length of a Solidity long string header word.
func longStringLen(word []byte) (int, bool) {
	if len(word) != wordSize || word[wordSize-1]&1 == 0 {
		return 0, false
	}
	v := new(big.Int).SetBytes(word)
	v.Sub(v, big.NewInt(1)).Rsh(v, 1)
	if !v.IsInt64() || v.Int64() < wordSize || v.Int64() > maxLongString {
		return 0, false
	}
	return int(v.Int64()), true
}

// RuleCollector turns a contract's slot range into storage changes between
// two consecutive blocks.
type RuleCollector struct {
	rule     config.Rule
	contract common.Address
	from     uint64
	to       uint64
}

// NewRuleCollector builds a collector for a storage_pair rule.
func NewRuleCollector(rule config.Rule) (*RuleCollector, error) {
	if rule.Match.Contract == "" {
		return nil, fmt.Errorf("rule %s: contract is required", rule.ID)
	}
	slots := rule.Match.Slots
	if slots == "" {
		slots = config.DefaultSlots
	}
	from, to, err := config.ParseSlotRange(slots)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	return &RuleCollector{
		rule:     rule,
		contract: common.HexToAddress(rule.Match.Contract),
		from:     from,
		to:       to,
	}, nil
}

// Collect reads every slot in range at height-1 and height and returns one
// change per slot whose raw word differs, in slot order. At height 0 all
// slots are compared against zero.
func (c *RuleCollector) Collect(ctx context.Context, client StorageReader, height uint64) ([]pairscan.StorageChange, error) {
	var changes []pairscan.StorageChange
	for i := uint64(0); i <= c.to-c.from; i++ {
		slot := c.from + i
		key := common.BigToHash(new(big.Int).SetUint64(slot))

		newWord, err := client.StorageAt(ctx, c.contract, key, new(big.Int).SetUint64(height))
		if err != nil {
			return nil, fmt.Errorf("storage %s slot %d at %d: %w", c.contract.Hex(), slot, height, err)
		}
		oldWord := make([]byte, wordSize)
		if height > 0 {
			oldWord, err = client.StorageAt(ctx, c.contract, key, new(big.Int).SetUint64(height-1))
			if err != nil {
				return nil, fmt.Errorf("storage %s slot %d at %d: %w", c.contract.Hex(), slot, height-1, err)
			}
		}
		if bytes.Equal(common.LeftPadBytes(oldWord, wordSize), common.LeftPadBytes(newWord, wordSize)) {
			continue
		}

		value, err := c.decodeWord(ctx, client, key, newWord, height)
		if err != nil {
			return nil, err
		}
		changes = append(changes, pairscan.StorageChange{
			Subject:  c.contract.Hex(),
			Slot:     strconv.FormatUint(slot, 10),
			Height:   height,
			OldValue: oldWord,
			NewValue: value,
		})
	}
	return changes, nil
}

// decodeWord unpacks short strings in place and follows long string headers
// to their data at keccak256(slot).
func (c *RuleCollector) decodeWord(ctx context.Context, client StorageReader, key common.Hash, word []byte, height uint64) ([]byte, error) {
	word = common.LeftPadBytes(word, wordSize)
	n, ok := longStringLen(word)
	if !ok {
		return UnpackSlotValue(word), nil
	}

	base := new(big.Int).SetBytes(crypto.Keccak256(key.Bytes()))
	data := make([]byte, 0, n+wordSize)
	for i := 0; len(data) < n; i++ {
		dataKey := common.BigToHash(new(big.Int).Add(base, big.NewInt(int64(i))))
		chunk, err := client.StorageAt(ctx, c.contract, dataKey, new(big.Int).SetUint64(height))
		if err != nil {
			return nil, fmt.Errorf("storage %s string data %d at %d: %w", c.contract.Hex(), i, height, err)
		}
		data = append(data, common.LeftPadBytes(chunk, wordSize)...)
	}
	return data[:n], nil
}
