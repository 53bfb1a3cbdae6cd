package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxRequest describes an unsigned EVM call.
type TxRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
	// Gas is used as-is when set. Otherwise it is estimated, falling back to FallbackGas.
	Gas         uint64
	FallbackGas uint64
}

// UnsignedTx is a built transaction plus the fee it may cost.
type UnsignedTx struct {
	Tx      *types.Transaction
	From    common.Address
	Gas     uint64
	MaxCost *big.Int
}

// BuildTx estimates gas and fees and returns an unsigned transaction.
// EIP-1559 fee sets produce a dynamic fee tx, a bare gas price a legacy tx.
func BuildTx(ctx context.Context, backend Backend, req TxRequest, speed GasSpeed) (*UnsignedTx, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	nonce, err := backend.PendingNonceAt(ctx, req.From)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	fee, err := CalculateGasFeeParams(ctx, backend)
	if err != nil {
		return nil, err
	}
	gas := EstimateGas(ctx, backend, req)

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To

	var tx *types.Transaction
	if fee.IsLegacy() {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fee.PricePerGas(speed),
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     req.Data,
		})
	} else {
		opt := fee.Options.Option(speed)
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: opt.MaxPriorityFeePerGas,
			GasFeeCap: opt.MaxFeePerGas,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      req.Data,
		})
	}

	return &UnsignedTx{
		Tx:      tx,
		From:    req.From,
		Gas:     gas,
		MaxCost: fee.Cost(gas, speed),
	}, nil
}

// EstimateGas returns req.Gas, the node estimate, or the fallback limit.
func EstimateGas(ctx context.Context, backend Backend, req TxRequest) uint64 {
	if req.Gas > 0 {
		return req.Gas
	}
	to := req.To
	gas, err := backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  req.From,
		To:    &to,
		Value: req.Value,
		Data:  req.Data,
	})
	if err == nil && gas > 0 {
		return gas
	}
	if req.FallbackGas > 0 {
		return req.FallbackGas
	}
	if len(req.Data) == 0 {
		return GasLimitTransfer
	}
	return GasLimitSwap
}
