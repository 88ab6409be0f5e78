package algorand

import (
	"context"
	"strconv"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	sdk "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/algorand/go-codec/codec"
	"github.com/devblac/slot-scout/internal/config"
	"github.com/devblac/slot-scout/internal/storage"
)

type fakeStatus struct {
	resp models.NodeStatus
	err  error
}

func (f fakeStatus) Do(ctx context.Context, headers ...*common.Header) (models.NodeStatus, error) {
	return f.resp, f.err
}

type fakeBlock struct {
	raw []byte
	err error
}

func (f fakeBlock) Do(ctx context.Context, headers ...*common.Header) ([]byte, error) {
	return f.raw, f.err
}

type fakeBlockHash struct {
	resp models.BlockHashResponse
	err  error
}

func (f fakeBlockHash) Do(ctx context.Context, headers ...*common.Header) (models.BlockHashResponse, error) {
	return f.resp, f.err
}

type fakeAlgod struct {
	t           *testing.T
	status      fakeStatus
	blocks      map[uint64]sdk.Block
	blockHashes map[uint64]string
}

func (f *fakeAlgod) Status() statusGetter {
	return f.status
}

func (f *fakeAlgod) BlockRaw(round uint64) blockGetter {
	return fakeBlock{raw: encodeBlock(f.t, f.blocks[round])}
}

func (f *fakeAlgod) GetBlockHash(round uint64) blockHashGetter {
	h := f.blockHashes[round]
	if h == "" {
		h = "hash"
	}
	return fakeBlockHash{resp: models.BlockHashResponse{Blockhash: h}}
}

func encodeBlock(t *testing.T, b sdk.Block) []byte {
	t.Helper()
	var out []byte
	enc := codec.NewEncoderBytes(&out, &codec.MsgpackHandle{})
	if err := enc.Encode(blockResponse{Block: b}); err != nil {
		t.Fatalf("encode block: %v", err)
	}
	return out
}

func appCall(appID uint64, created uint64, globals map[string]string) sdk.SignedTxnWithAD {
	delta := sdk.StateDelta{}
	for k, v := range globals {
		delta[k] = sdk.ValueDelta{Action: sdk.SetBytesAction, Bytes: v}
	}
	return sdk.SignedTxnWithAD{
		SignedTxn: sdk.SignedTxn{
			Txn: sdk.Transaction{
				Type: sdk.ApplicationCallTx,
				Header: sdk.Header{
					Sender: mustAddress(),
				},
				ApplicationFields: sdk.ApplicationFields{
					ApplicationCallTxnFields: sdk.ApplicationCallTxnFields{
						ApplicationID: sdk.AppIndex(appID),
						OnCompletion:  sdk.NoOpOC,
					},
				},
			},
		},
		ApplyData: sdk.ApplyData{
			ApplicationID: created,
			EvalDelta:     sdk.EvalDelta{GlobalDelta: delta},
		},
	}
}

func TestScannerFindsPairInGlobalState(t *testing.T) {
	store := newTestStore(t)

	rule := config.Rule{
		ID:     "app_tokens",
		Source: "algo",
		Match:  config.MatchSpec{Type: "global_state"},
	}

	// Keys sort as "name" < "symbol"; the counter write at "total" follows.
	created := appCall(0, 777, map[string]string{"name": "Pera Gold", "symbol": "PGLD"})
	created.ApplyData.EvalDelta.GlobalDelta["total"] = sdk.ValueDelta{Action: sdk.SetUintAction, Uint: 1000}

	block := sdk.Block{
		BlockHeader: sdk.BlockHeader{Round: 1},
		Payset: []sdk.SignedTxnInBlock{
			{SignedTxnWithAD: created},
		},
	}

	client := &fakeAlgod{
		t:           t,
		status:      fakeStatus{resp: models.NodeStatus{LastRound: 1}},
		blocks:      map[uint64]sdk.Block{1: block},
		blockHashes: map[uint64]string{1: "hash1"},
	}

	scanner, err := NewScanner(client, store, config.Source{ID: "algo", Type: "algorand", StartRound: "1"}, 0, []config.Rule{rule})
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}

	fs, err := scanner.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("process next: %v", err)
	}
	if len(fs) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(fs))
	}
	f := fs[0]
	if f.Hash != "hash1" || f.AppID != 777 || f.Subject != strconv.Itoa(777) {
		t.Fatalf("unexpected finding: %+v", f)
	}
	if f.Pair.Name != "Pera Gold" || f.Pair.Symbol != "PGLD" || f.Slot != "name" {
		t.Fatalf("unexpected pair: %+v", f)
	}
	h, _, ok, err := store.GetCursor(context.Background(), "algo")
	if err != nil || !ok || h != 1 {
		t.Fatalf("cursor not advanced: h=%d ok=%v err=%v", h, ok, err)
	}
}

func TestScannerFiltersByAppAndScansInnerTxns(t *testing.T) {
	store := newTestStore(t)

	rule := config.Rule{
		ID:     "one_app",
		Source: "algo",
		Match:  config.MatchSpec{Type: "global_state", AppID: 55},
	}

	outer := appCall(10, 0, map[string]string{"name": "Outer Coin", "symbol": "OUT"})
	inner := appCall(55, 0, map[string]string{"name": "Inner Coin", "symbol": "INN"})
	outer.ApplyData.EvalDelta.InnerTxns = []sdk.SignedTxnWithAD{inner}

	block := sdk.Block{
		BlockHeader: sdk.BlockHeader{Round: 3},
		Payset:      []sdk.SignedTxnInBlock{{SignedTxnWithAD: outer}},
	}
	client := &fakeAlgod{
		t:      t,
		status: fakeStatus{resp: models.NodeStatus{LastRound: 3}},
		blocks: map[uint64]sdk.Block{3: block},
	}

	scanner, err := NewScanner(client, store, config.Source{ID: "algo", Type: "algorand", StartRound: "3"}, 0, []config.Rule{rule})
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	fs, err := scanner.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("process next: %v", err)
	}
	if len(fs) != 1 || fs[0].AppID != 55 || fs[0].Pair.Symbol != "INN" {
		t.Fatalf("expected only the inner app finding, got %+v", fs)
	}
}

func TestCollectIgnoresNonAppCalls(t *testing.T) {
	c, err := NewRuleCollector(config.Rule{ID: "r", Match: config.MatchSpec{Type: "global_state"}})
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	tx := sdk.Transaction{Type: sdk.PaymentTx}
	if _, _, ok := c.Collect(tx, sdk.ApplyData{}, 1); ok {
		t.Fatalf("payment should not be collected")
	}
	if _, err := NewRuleCollector(config.Rule{ID: "r", Match: config.MatchSpec{Type: "storage_pair"}}); err == nil {
		t.Fatalf("expected storage_pair to be rejected")
	}
}

func TestScannerReorgDetection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.UpsertCursor(ctx, "algo", 1, "prevhash"); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	block := sdk.Block{
		BlockHeader: sdk.BlockHeader{
			Round:  2,
			Branch: sdk.BlockHash{}, // does not match prevhash
		},
	}
	client := &fakeAlgod{
		t:      t,
		status: fakeStatus{resp: models.NodeStatus{LastRound: 2}},
		blocks: map[uint64]sdk.Block{2: block},
	}

	scanner, err := NewScanner(client, store, config.Source{ID: "algo", Type: "algorand", StartRound: "1"}, 0, nil)
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	_, err = scanner.ProcessNext(ctx)
	if err == nil || err != ErrReorgDetected {
		t.Fatalf("expected reorg err, got %v", err)
	}
}

func mustAddress() sdk.Address {
	var a sdk.Address
	copy(a[:], []byte("SENDER0000000000000000000000000000000000000000000000000000")[:])
	return a
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(t.TempDir() + "/db.sqlite")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
