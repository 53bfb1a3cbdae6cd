package evm_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/harvest/internal/chain/evm"
)

var errNoHistory = errors.New("method not found")

// fakeBackend is a Backend with function fields.
type fakeBackend struct {
	history   *ethereum.FeeHistory
	historyFn func() (*ethereum.FeeHistory, error)
	gasPrice  *big.Int
	callFn    func(msg ethereum.CallMsg) ([]byte, error)
	gas       uint64
	gasErr    error
	calls     []ethereum.CallMsg
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1284), nil }

func (f *fakeBackend) FeeHistory(context.Context, uint64, *big.Int, []float64) (*ethereum.FeeHistory, error) {
	if f.historyFn != nil {
		return f.historyFn()
	}
	return f.history, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	return f.callFn(msg)
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.gas, f.gasErr
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func history(blocks int, base, p25, p50, p75 int64) *ethereum.FeeHistory {
	h := &ethereum.FeeHistory{}
	for range blocks {
		h.BaseFee = append(h.BaseFee, big.NewInt(base))
		h.Reward = append(h.Reward, []*big.Int{big.NewInt(p25), big.NewInt(p50), big.NewInt(p75)})
	}
	h.BaseFee = append(h.BaseFee, big.NewInt(base))
	return h
}

func TestCalculateGasFeeParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		history     *ethereum.FeeHistory
		wantBusy    bool
		wantDefault evm.GasSpeed
		wantSlowMax int64
	}{
		{
			name:        "quiet network",
			history:     history(20, 100, 10, 20, 30),
			wantBusy:    false,
			wantDefault: evm.GasSpeedSlow,
			wantSlowMax: 210,
		},
		{
			name:        "busy network",
			history:     history(20, 100, 30, 40, 50),
			wantBusy:    true,
			wantDefault: evm.GasSpeedAverage,
			wantSlowMax: 230,
		},
		{
			name:        "zero base fee is never busy",
			history:     history(20, 0, 30, 40, 50),
			wantBusy:    false,
			wantDefault: evm.GasSpeedSlow,
			wantSlowMax: 30,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fee, err := evm.CalculateGasFeeParams(context.Background(), &fakeBackend{history: tc.history})
			require.NoError(t, err)
			require.False(t, fee.IsLegacy())
			assert.Equal(t, tc.wantBusy, fee.BusyNetwork)
			assert.Equal(t, tc.wantDefault, fee.Options.Default)
			assert.Equal(t, tc.wantSlowMax, fee.Options.Slow.MaxFeePerGas.Int64())
		})
	}
}

func TestCalculateGasFeeParamsFallback(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		historyFn: func() (*ethereum.FeeHistory, error) { return nil, errNoHistory },
		gasPrice:  big.NewInt(1000),
	}
	fee, err := evm.CalculateGasFeeParams(context.Background(), backend)
	require.NoError(t, err)
	assert.True(t, fee.IsLegacy())
	assert.Equal(t, "21000000", fee.Cost(evm.GasLimitTransfer, "").String())
}

func TestEIP1559Fee(t *testing.T) {
	t.Parallel()

	opt := evm.EIP1559Fee(big.NewInt(50), big.NewInt(3))
	assert.Equal(t, int64(103), opt.MaxFeePerGas.Int64())
	assert.Equal(t, int64(3), opt.MaxPriorityFeePerGas.Int64())
}

func TestAllowance(t *testing.T) {
	t.Parallel()

	parsed, err := evm.ERC20ABI()
	require.NoError(t, err)
	packed, err := parsed.Methods["allowance"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)

	token := common.HexToAddress("0xAcc15dC74880C9944775448304B263D191c6077F")
	owner := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc454e4438f44e")
	spender := common.HexToAddress("0x70085a09D30D6f8C4ecF6eE10120d1847383BB57")

	backend := &fakeBackend{callFn: func(ethereum.CallMsg) ([]byte, error) { return packed, nil }}
	got, err := evm.Allowance(context.Background(), backend, token, owner, spender)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Int64())

	require.Len(t, backend.calls, 1)
	assert.Equal(t, token, *backend.calls[0].To)
	assert.Equal(t, parsed.Methods["allowance"].ID, backend.calls[0].Data[:4])
}

func TestApproveData(t *testing.T) {
	t.Parallel()

	data, err := evm.ApproveData(common.HexToAddress("0x70085a09D30D6f8C4ecF6eE10120d1847383BB57"), big.NewInt(1))
	require.NoError(t, err)
	// approve(address,uint256) selector
	assert.Equal(t, []byte{0x09, 0x5e, 0xa7, 0xb3}, data[:4])
	assert.Len(t, data, 4+32+32)
}

func TestBuildTx(t *testing.T) {
	t.Parallel()

	to := common.HexToAddress("0x70085a09D30D6f8C4ecF6eE10120d1847383BB57")

	t.Run("dynamic fee", func(t *testing.T) {
		t.Parallel()
		backend := &fakeBackend{history: history(20, 100, 10, 20, 30), gas: 60000}
		tx, err := evm.BuildTx(context.Background(), backend, evm.TxRequest{To: to, Data: []byte{1}}, "")
		require.NoError(t, err)
		assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Tx.Type())
		assert.Equal(t, uint64(7), tx.Tx.Nonce())
		assert.Equal(t, uint64(60000), tx.Gas)
		assert.Equal(t, "12600000", tx.MaxCost.String())
	})

	t.Run("legacy with fallback gas", func(t *testing.T) {
		t.Parallel()
		backend := &fakeBackend{
			historyFn: func() (*ethereum.FeeHistory, error) { return nil, errNoHistory },
			gasPrice:  big.NewInt(10),
			gasErr:    errNoHistory,
		}
		tx, err := evm.BuildTx(context.Background(), backend, evm.TxRequest{To: to, Data: []byte{1}, FallbackGas: evm.GasLimitERC20Approve}, evm.GasSpeedFast)
		require.NoError(t, err)
		assert.Equal(t, uint8(types.LegacyTxType), tx.Tx.Type())
		assert.Equal(t, evm.GasLimitERC20Approve, tx.Gas)
		assert.Equal(t, "500000", tx.MaxCost.String())
	})
}
