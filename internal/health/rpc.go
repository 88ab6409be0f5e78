package health

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/devblac/slot-scout/internal/source/algorand"
	"github.com/devblac/slot-scout/internal/source/evm"
)

// RPCChecker pings the node behind every configured source.
type RPCChecker struct {
	evmClients      map[string]evm.BlockClient
	algorandClients map[string]algorand.AlgodClient
}

// NewRPCChecker creates a checker for multiple RPC sources.
func NewRPCChecker(evmClients map[string]evm.BlockClient, algorandClients map[string]algorand.AlgodClient) *RPCChecker {
	return &RPCChecker{
		evmClients:      evmClients,
		algorandClients: algorandClients,
	}
}

// Check returns the ping result per source id; nil means healthy.
func (c *RPCChecker) Check(ctx context.Context) map[string]error {
	out := make(map[string]error, len(c.evmClients)+len(c.algorandClients))
	for id, cli := range c.evmClients {
		_, err := cli.HeaderByNumber(ctx, big.NewInt(0))
		out[id] = err
	}
	for id, cli := range c.algorandClients {
		_, err := cli.Status().Do(ctx)
		out[id] = err
	}
	return out
}

// Ping folds Check into a single error naming every failing source.
func (c *RPCChecker) Ping(ctx context.Context) error {
	results := c.Check(ctx)
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var errs []error
	for _, id := range ids {
		if err := results[id]; err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
