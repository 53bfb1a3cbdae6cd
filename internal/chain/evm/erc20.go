package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
{"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

//nolint:gochecknoglobals // parsed once on first use
var (
	erc20Once sync.Once
	erc20ABI  abi.ABI
	erc20Err  error
)

// ERC20ABI returns the parsed ERC-20 subset used by the engine.
func ERC20ABI() (abi.ABI, error) {
	erc20Once.Do(func() {
		erc20ABI, erc20Err = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
	return erc20ABI, erc20Err
}

// ApproveData packs approve(spender, amount).
func ApproveData(spender common.Address, amount *big.Int) ([]byte, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, err
	}
	return parsed.Pack("approve", spender, amount)
}

// TransferData packs transfer(to, amount).
func TransferData(to common.Address, amount *big.Int) ([]byte, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, err
	}
	return parsed.Pack("transfer", to, amount)
}

// Allowance reads allowance(owner, spender) on token.
func Allowance(ctx context.Context, backend Backend, token, owner, spender common.Address) (*big.Int, error) {
	return callUint256(ctx, backend, token, "allowance", owner, spender)
}

// BalanceOf reads balanceOf(account) on token.
func BalanceOf(ctx context.Context, backend Backend, token, account common.Address) (*big.Int, error) {
	return callUint256(ctx, backend, token, "balanceOf", account)
}

func callUint256(ctx context.Context, backend Backend, token common.Address, method string, args ...any) (*big.Int, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	result, err := backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	out, err := parsed.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpack %s: unexpected %d outputs", method, len(out))
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, out[0])
	}
	return value, nil
}
