package algorand

import (
	"context"
	"encoding/base32"
	"fmt"
	"strconv"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/crypto"
	sdk "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/algorand/go-codec/codec"
	"github.com/devblac/slot-scout/internal/config"
	"github.com/devblac/slot-scout/internal/pairscan"
	"github.com/devblac/slot-scout/internal/storage"
)

// statusGetter models the algod Status() fluent call.
type statusGetter interface {
	Do(ctx context.Context, headers ...*common.Header) (models.NodeStatus, error)
}

// blockGetter models the algod BlockRaw() fluent call.
type blockGetter interface {
	Do(ctx context.Context, headers ...*common.Header) ([]byte, error)
}

type blockHashGetter interface {
	Do(ctx context.Context, headers ...*common.Header) (models.BlockHashResponse, error)
}

// AlgodClient is the minimal subset of the algod client we need.
type AlgodClient interface {
	Status() statusGetter
	BlockRaw(round uint64) blockGetter
	GetBlockHash(round uint64) blockHashGetter
}

// NewAlgodClient constructs a real algod client.
func NewAlgodClient(url string) (AlgodClient, error) {
	cli, err := algod.MakeClient(url, "")
	if err != nil {
		return nil, err
	}
	return &clientAdapter{c: cli}, nil
}

type clientAdapter struct {
	c *algod.Client
}

func (a *clientAdapter) Status() statusGetter { return a.c.Status() }
func (a *clientAdapter) BlockRaw(round uint64) blockGetter {
	return a.c.BlockRaw(round)
}
func (a *clientAdapter) GetBlockHash(round uint64) blockHashGetter {
	return a.c.GetBlockHash(round)
}

// Scanner processes Algorand rounds with confirmation safety.
type Scanner struct {
	client        AlgodClient
	store         *storage.Store
	source        config.Source
	confirmations uint64
	collectors    []*RuleCollector
}

// NewScanner builds a scanner for an Algorand source and its global_state rules.
func NewScanner(client AlgodClient, store *storage.Store, source config.Source, confirmations uint64, rules []config.Rule) (*Scanner, error) {
	collectors := []*RuleCollector{}
	for _, r := range rules {
		if r.Source != source.ID {
			continue
		}
		c, err := NewRuleCollector(r)
		if err != nil {
			return nil, err
		}
		collectors = append(collectors, c)
	}

	return &Scanner{
		client:        client,
		store:         store,
		source:        source,
		confirmations: confirmations,
		collectors:    collectors,
	}, nil
}

// ProcessNext handles the next eligible round (respecting confirmations) and returns findings.
// On success advances the cursor. On reorg returns ErrReorgDetected after rewinding.
func (s *Scanner) ProcessNext(ctx context.Context) ([]Finding, error) {
	curRound, curHash, hasCursor, err := s.store.GetCursor(ctx, s.source.ID)
	if err != nil {
		return nil, err
	}

	status, err := s.client.Status().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest status: %w", err)
	}
	latest := status.LastRound
	safe := latest
	if s.confirmations > 0 {
		if safe < s.confirmations {
			return nil, nil
		}
		safe -= s.confirmations
	}

	target := curRound + 1
	if !hasCursor {
		start, err := resolveStartRound(s.source.StartRound, safe)
		if err != nil {
			return nil, err
		}
		target = start
	}

	if target > safe {
		return nil, nil
	}

	raw, err := s.client.BlockRaw(target).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", target, err)
	}
	block, err := decodeBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}

	if hasCursor {
		prev := digestToString(block.BlockHeader.Branch[:])
		if prev != curHash {
			rewindTo := uint64(0)
			if target > 0 {
				rewindTo = target - 1
			}
			_ = s.store.UpsertCursor(ctx, s.source.ID, rewindTo, prev)
			return nil, ErrReorgDetected
		}
	}

	hashResp, err := s.client.GetBlockHash(target).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("block hash %d: %w", target, err)
	}
	blockHash := hashResp.Blockhash
	findings := []Finding{}
	for _, stib := range block.Payset {
		findings = s.scanTxn(findings, stib.SignedTxnWithAD, target)
	}
	for i := range findings {
		findings[i].Chain = Chain
		findings[i].SourceID = s.source.ID
		findings[i].Hash = blockHash
	}

	if err := s.store.UpsertCursor(ctx, s.source.ID, target, blockHash); err != nil {
		return nil, err
	}
	return findings, nil
}

// scanTxn checks a transaction and, depth first, its inner transactions.
func (s *Scanner) scanTxn(out []Finding, stxn sdk.SignedTxnWithAD, round uint64) []Finding {
	tx := stxn.SignedTxn.Txn
	apply := stxn.ApplyData
	for _, c := range s.collectors {
		appID, changes, ok := c.Collect(tx, apply, round)
		if !ok {
			continue
		}
		pair, found := pairscan.FindNameSymbolPair(changes)
		if !found {
			continue
		}
		out = append(out, Finding{
			RuleID:  c.rule.ID,
			Height:  round,
			TxHash:  crypto.TransactionIDString(tx),
			AppID:   appID,
			Subject: changes[0].Subject,
			Slot:    changes[0].Slot,
			Pair:    pair,
		})
	}
	for _, inner := range apply.EvalDelta.InnerTxns {
		out = s.scanTxn(out, inner, round)
	}
	return out
}

func resolveStartRound(start string, safe uint64) (uint64, error) {
	if start == "" || start == "0" {
		return 0, nil
	}
	if strings.HasPrefix(start, "latest-") {
		offsetStr := strings.TrimPrefix(start, "latest-")
		n, err := strconv.ParseUint(offsetStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse start_round %q: %w", start, err)
		}
		if n > safe {
			return 0, nil
		}
		return safe - n, nil
	}

	n, err := strconv.ParseUint(start, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse start_round %q: %w", start, err)
	}
	return n, nil
}

func digestToString(b []byte) string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
}

// blockResponse is the msgpack envelope algod returns from /v2/blocks/{round}.
type blockResponse struct {
	Block sdk.Block `codec:"block"`
}

func decodeBlock(raw []byte) (sdk.Block, error) {
	var resp blockResponse
	h := &codec.MsgpackHandle{}
	dec := codec.NewDecoderBytes(raw, h)
	if err := dec.Decode(&resp); err != nil {
		return sdk.Block{}, err
	}
	return resp.Block, nil
}
