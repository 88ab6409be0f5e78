package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/devblac/slot-scout/internal/pairscan"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20MetadataABI = `[
	{"type":"function","name":"name","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"},
	{"type":"function","name":"symbol","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"}
]`

// ContractCaller is the subset of ethclient used for eth_call.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Verifier confirms a storage pair against the contract's own name() and symbol().
type Verifier struct {
	client ContractCaller
	abi    *abi.ABI
}

// NewVerifier picks a token ABI from abis, falling back to the ERC20 metadata fragment.
func NewVerifier(client ContractCaller, abis map[string]*abi.ABI) (*Verifier, error) {
	if a, ok := FindTokenABI(abis); ok {
		return &Verifier{client: client, abi: a}, nil
	}
	a, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &Verifier{client: client, abi: &a}, nil
}

// Verify reports whether contract returns the pair's name and symbol at height.
func (v *Verifier) Verify(ctx context.Context, contract common.Address, pair pairscan.Pair, height uint64) (bool, error) {
	name, err := v.callString(ctx, contract, "name", height)
	if err != nil {
		return false, err
	}
	symbol, err := v.callString(ctx, contract, "symbol", height)
	if err != nil {
		return false, err
	}
	return name == pair.Name && symbol == pair.Symbol, nil
}

func (v *Verifier) callString(ctx context.Context, contract common.Address, method string, height uint64) (string, error) {
	data, err := v.abi.Pack(method)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := v.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, new(big.Int).SetUint64(height))
	if err != nil {
		return "", fmt.Errorf("call %s on %s: %w", method, contract.Hex(), err)
	}
	vals, err := v.abi.Unpack(method, out)
	if err != nil {
		return "", fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return "", fmt.Errorf("unpack %s: got %d values", method, len(vals))
	}
	s, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("unpack %s: not a string", method)
	}
	return s, nil
}
