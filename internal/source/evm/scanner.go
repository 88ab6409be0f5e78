package evm

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/devblac/slot-scout/internal/config"
	"github.com/devblac/slot-scout/internal/pairscan"
	"github.com/devblac/slot-scout/internal/storage"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// BlockClient captures the subset of ethclient used by the scanner.
type BlockClient interface {
	StorageReader
	ContractCaller
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// RPCClient is a thin wrapper over ethclient.Client that satisfies BlockClient.
type RPCClient struct {
	*ethclient.Client
}

// NewRPCClient builds an RPC client to an EVM node.
func NewRPCClient(rpcURL string) (*RPCClient, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &RPCClient{Client: c}, nil
}

// Scanner processes blocks sequentially with confirmation safety.
type Scanner struct {
	client        BlockClient
	store         *storage.Store
	source        config.Source
	confirmations uint64
	collectors    []*RuleCollector
	verifier      *Verifier
}

// NewScanner builds a scanner for a given source and its storage_pair rules.
func NewScanner(client BlockClient, store *storage.Store, source config.Source, confirmations uint64, abis map[string]*abi.ABI, rules []config.Rule) (*Scanner, error) {
	collectors := []*RuleCollector{}
	for _, r := range rules {
		if r.Source != source.ID || strings.ToLower(r.Match.Type) != "storage_pair" {
			continue
		}
		c, err := NewRuleCollector(r)
		if err != nil {
			return nil, err
		}
		collectors = append(collectors, c)
	}

	verifier, err := NewVerifier(client, abis)
	if err != nil {
		return nil, err
	}

	return &Scanner{
		client:        client,
		store:         store,
		source:        source,
		confirmations: confirmations,
		collectors:    collectors,
		verifier:      verifier,
	}, nil
}

// ProcessNext handles the next eligible block (respecting confirmations) and returns findings.
// It advances the cursor on success. If a reorg is detected, ErrReorgDetected is returned after rewinding.
func (s *Scanner) ProcessNext(ctx context.Context) ([]Finding, error) {
	curHeight, curHash, hasCursor, err := s.store.GetCursor(ctx, s.source.ID)
	if err != nil {
		return nil, err
	}

	latest, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	latestHeight := latest.Number.Uint64()

	safeHeight := latestHeight
	if s.confirmations > 0 {
		if s.confirmations > safeHeight {
			return nil, nil
		}
		safeHeight -= s.confirmations
	}

	target := curHeight + 1
	if !hasCursor {
		start, err := resolveStartHeight(s.source.StartBlock, safeHeight)
		if err != nil {
			return nil, err
		}
		target = start
	}

	if target > safeHeight {
		return nil, nil
	}

	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(target))
	if err != nil {
		return nil, fmt.Errorf("header %d: %w", target, err)
	}

	if hasCursor && header.ParentHash.Hex() != curHash {
		rewindTo := uint64(0)
		if target > 0 {
			rewindTo = target - 1
		}
		_ = s.store.UpsertCursor(ctx, s.source.ID, rewindTo, header.ParentHash.Hex())
		return nil, ErrReorgDetected
	}

	findings := []Finding{}
	for _, c := range s.collectors {
		changes, err := c.Collect(ctx, s.client, target)
		if err != nil {
			return nil, err
		}
		pair, ok := pairscan.FindNameSymbolPair(changes)
		if !ok {
			continue
		}
		f := Finding{
			RuleID:   c.rule.ID,
			Chain:    Chain,
			SourceID: s.source.ID,
			Height:   target,
			Hash:     header.Hash().Hex(),
			Subject:  c.contract.Hex(),
			Slot:     changes[0].Slot,
			Pair:     pair,
		}
		if c.rule.Match.Verify {
			// A failed call leaves the finding unverified rather than stalling the source.
			if ok, err := s.verifier.Verify(ctx, c.contract, pair, target); err == nil {
				f.Verified = ok
			}
		}
		findings = append(findings, f)
	}

	if err := s.store.UpsertCursor(ctx, s.source.ID, target, header.Hash().Hex()); err != nil {
		return nil, err
	}

	return findings, nil
}

func resolveStartHeight(start string, safeHeight uint64) (uint64, error) {
	if start == "" || start == "0" {
		return 0, nil
	}
	if strings.HasPrefix(start, "latest-") {
		offsetStr := strings.TrimPrefix(start, "latest-")
		n, err := strconv.ParseUint(offsetStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse start_block %q: %w", start, err)
		}
		if n > safeHeight {
			return 0, nil
		}
		return safeHeight - n, nil
	}

	n, err := strconv.ParseUint(start, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse start_block %q: %w", start, err)
	}
	return n, nil
}
