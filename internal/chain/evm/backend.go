// Package evm provides the EVM side of the engine: fee parameters from fee
// history, ERC-20 calldata and unsigned transaction building over go-ethereum.
package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// Backend is the subset of an Ethereum JSON-RPC client used here.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// ErrRPCURLRequired indicates an EVM chain was configured without an RPC endpoint.
var ErrRPCURLRequired = &harvesterr.HarvestError{
	Code:     "EVM_RPC_URL_REQUIRED",
	Message:  "EVM RPC URL is required",
	ExitCode: harvesterr.ExitInput,
}

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	if rpcURL == "" {
		return nil, ErrRPCURLRequired
	}
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", harvesterr.ErrNetworkError, rpcURL, err)
	}
	return c, nil
}

// Compile-time interface checks
var _ Backend = (*ethclient.Client)(nil)
