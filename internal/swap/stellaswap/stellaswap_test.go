package stellaswap

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/chain/evm"
	"github.com/mrz1836/harvest/internal/swap"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

const (
	alice       = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
	usdcAddress = "0x931715FEE2d06333043d11F658C8CE934aC61D0c"
	wglmrAddr   = "0xAcc15dC74880C9944775448304B263D191c6077F"
)

var (
	errNoHistory = errors.New("method not found")

	moonbeam = chain.Info{Slug: chain.Moonbeam, Name: "Moonbeam", EVM: true, Symbol: "GLMR", Decimals: 18}

	glmr  = chain.Asset{Slug: "moonbeam-NATIVE-GLMR", Chain: chain.Moonbeam, Kind: chain.AssetNative, Symbol: "GLMR", Decimals: 18}
	usdc  = chain.Asset{Slug: "moonbeam-ERC20-USDC", Chain: chain.Moonbeam, Kind: chain.AssetERC20, Symbol: "USDC", Decimals: 6, ContractAddress: usdcAddress}
	wglmr = chain.Asset{Slug: "moonbeam-ERC20-WGLMR", Chain: chain.Moonbeam, Kind: chain.AssetERC20, Symbol: "WGLMR", Decimals: 18, ContractAddress: wglmrAddr}
	bad   = chain.Asset{Slug: "moonbeam-ERC20-BAD", Chain: chain.Moonbeam, Kind: chain.AssetERC20, Symbol: "BAD", Decimals: 18}
	dot   = chain.Asset{Slug: "polkadot-NATIVE-DOT", Chain: chain.Polkadot, Kind: chain.AssetNative, Symbol: "DOT", Decimals: 10}

	oneGLMR = chain.MustBalance("1000000000000000000")
)

const quoteBody = `{"isSuccess":true,"code":200,"message":"ok","result":{
"amountOutOriginal":"250000",
"execution":{"commands":"0x0b00","inputs":["0x01","0x02"]},
"trades":[{"path":["ETH","` + wglmrAddr + `","` + usdcAddress + `"],"protocol":"v2"}]}}`

type stubBackend struct {
	allowance *big.Int
	tokens    *big.Int
	native    *big.Int
}

func (s *stubBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1284), nil }

func (s *stubBackend) FeeHistory(context.Context, uint64, *big.Int, []float64) (*ethereum.FeeHistory, error) {
	return nil, errNoHistory
}

func (s *stubBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(10), nil }

func (s *stubBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	parsed, err := evm.ERC20ABI()
	if err != nil {
		return nil, err
	}
	method := "balanceOf"
	v := s.tokens
	if string(msg.Data[:4]) == string(parsed.Methods["allowance"].ID) {
		method, v = "allowance", s.allowance
	}
	return parsed.Methods[method].Outputs.Pack(v)
}

func (s *stubBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 0, errNoHistory
}

func (s *stubBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 3, nil }

func (s *stubBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return s.native, nil
}

func directory() *chain.Directory {
	d := chain.NewDirectory()
	for _, a := range []chain.Asset{glmr, usdc, wglmr, bad, dot} {
		d.RegisterAsset(a)
	}
	return d
}

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newProvider(t *testing.T, baseURL string, backend evm.Backend) *Provider {
	t.Helper()
	p := New(Options{
		Chain:   moonbeam,
		Assets:  directory(),
		BaseURL: baseURL,
		Backend: backend,
		HTTP: swap.HTTPOptions{
			RateLimiter: chain.NewRateLimiter(1000, 100),
			Retry:       &chain.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		},
		Now: func() time.Time { return fixedNow },
	})
	require.NoError(t, p.Init(context.Background()))
	return p
}

func request(from, to chain.Asset, amount chain.Balance) *swap.Request {
	return &swap.Request{
		Address:    alice,
		Pair:       swap.Pair{Slug: swap.PairSlug(from.Slug, to.Slug), From: from.Slug, To: to.Slug},
		FromAmount: amount,
		Slippage:   0.01,
	}
}

func TestGetSwapQuote(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(quoteBody))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, nil)
	q, err := p.GetSwapQuote(context.Background(), request(glmr, usdc, oneGLMR))
	require.NoError(t, err)

	assert.Equal(t, "/quote/ETH/"+usdcAddress+"/1000000000000000000/"+alice+"/1", gotPath)
	assert.Equal(t, "250000", q.ToAmount.String())
	assert.InDelta(t, 0.25, q.Rate, 1e-12)
	assert.Equal(t, []string{glmr.Slug, wglmr.Slug, usdc.Slug}, q.Route.Path)
	assert.Equal(t, fixedNow.Add(swap.DefaultQuoteTimeout).UnixMilli(), q.AliveUntil)
	assert.Equal(t, swap.ProviderStellaswap, q.Provider.ID)
	require.Len(t, q.FeeInfo.FeeComponent, 1)
	assert.Equal(t, fallbackNetworkFee.String(), q.FeeInfo.FeeComponent[0].Amount.String())
	assert.Equal(t, glmr.Slug, q.FeeInfo.DefaultFeeToken)
}

func TestGetSwapQuoteNetworkFeeFromBackend(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(quoteBody))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, &stubBackend{})
	q, err := p.GetSwapQuote(context.Background(), request(glmr, usdc, oneGLMR))
	require.NoError(t, err)
	// legacy gas price 10 times the swap gas limit
	assert.Equal(t, "3000000", q.FeeInfo.FeeComponent[0].Amount.String())
}

func TestGetSwapQuoteValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  *swap.Request
		code string
	}{
		{"unknown asset", &swap.Request{Address: alice, Pair: swap.Pair{From: "nope", To: usdc.Slug}, FromAmount: oneGLMR}, harvesterr.CodeAssetNotSupported},
		{"other chain", request(dot, usdc, oneGLMR), harvesterr.CodeAssetNotSupported},
		{"contract without address", request(glmr, bad, oneGLMR), harvesterr.CodeSwapUnknown},
		{"zero amount", request(glmr, usdc, chain.Balance{}), harvesterr.CodeAmountCannotBeZero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				_, _ = w.Write([]byte(quoteBody))
			}))
			defer srv.Close()

			_, err := newProvider(t, srv.URL, nil).GetSwapQuote(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, harvesterr.Code(err))
			assert.Zero(t, hits.Load(), "validation happens before any request")
		})
	}
}

func TestGetSwapQuoteFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not successful", http.StatusOK, `{"isSuccess":false,"code":400,"message":"no route"}`},
		{"http error", http.StatusNotFound, ``},
		{"garbage", http.StatusOK, `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newProvider(t, srv.URL, nil).GetSwapQuote(context.Background(), request(glmr, usdc, oneGLMR))
			assert.Equal(t, harvesterr.CodeErrorFetchingQuote, harvesterr.Code(err))
		})
	}
}

func quoteFor(from, to chain.Asset, amount chain.Balance) *swap.Quote {
	return &swap.Quote{
		Pair:       swap.Pair{From: from.Slug, To: to.Slug},
		FromAmount: amount,
		ToAmount:   chain.NewBalance(250000),
		AliveUntil: fixedNow.Add(time.Minute).UnixMilli(),
		FeeInfo: swap.FeeInfo{
			FeeComponent:    []swap.FeeComponent{{FeeType: swap.FeeNetwork, Amount: chain.NewBalance(1000), TokenSlug: glmr.Slug}},
			DefaultFeeToken: glmr.Slug,
			FeeOptions:      []string{glmr.Slug},
		},
		Metadata: &Execution{Commands: "0x0b00", Inputs: []string{"0x01"}},
	}
}

func TestGenerateOptimalProcess(t *testing.T) {
	t.Parallel()

	amount := chain.NewBalance(500)
	tests := []struct {
		name      string
		from      chain.Asset
		allowance int64
		want      []swap.StepType
	}{
		{"token without allowance", usdc, 0, []swap.StepType{swap.StepDefault, swap.StepTokenApproval, swap.StepSwap}},
		{"token with allowance", usdc, 500, []swap.StepType{swap.StepDefault, swap.StepSwap}},
		{"native", glmr, 0, []swap.StepType{swap.StepDefault, swap.StepSwap}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := newProvider(t, "http://unused", &stubBackend{allowance: big.NewInt(tt.allowance)})
			proc, err := p.GenerateOptimalProcess(context.Background(), &swap.ProcessParams{
				Request:       request(tt.from, wglmr, amount),
				SelectedQuote: quoteFor(tt.from, wglmr, amount),
			})
			require.NoError(t, err)
			require.NoError(t, proc.Validate())

			got := make([]swap.StepType, 0, len(proc.Steps))
			for _, s := range proc.Steps {
				got = append(got, s.Type)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "1000", proc.TotalFee[len(proc.TotalFee)-1].Total(glmr.Slug).String())
		})
	}
}

func TestGenerateOptimalProcessRequiresQuote(t *testing.T) {
	t.Parallel()

	_, err := newProvider(t, "http://unused", nil).GenerateOptimalProcess(context.Background(), &swap.ProcessParams{Request: request(glmr, usdc, oneGLMR)})
	require.ErrorIs(t, err, harvesterr.ErrInternal)
}

func TestValidateSwapProcess(t *testing.T) {
	t.Parallel()

	process := swap.DefaultProcess(glmr.Slug)
	tests := []struct {
		name    string
		from    chain.Asset
		backend *stubBackend
		quote   func(*swap.Quote)
		want    []string
	}{
		{"native covers amount and fee", glmr, &stubBackend{native: big.NewInt(1500)}, nil, nil},
		{"native short by fee", glmr, &stubBackend{native: big.NewInt(1200)}, nil, []string{harvesterr.CodeSwapNotEnoughBalance}},
		{"token balance", usdc, &stubBackend{tokens: big.NewInt(500)}, nil, nil},
		{"token short", usdc, &stubBackend{tokens: big.NewInt(499)}, nil, []string{harvesterr.CodeSwapNotEnoughBalance}},
		{"expired quote", glmr, &stubBackend{native: big.NewInt(5000)}, func(q *swap.Quote) {
			q.AliveUntil = fixedNow.Add(-time.Second).UnixMilli()
		}, []string{harvesterr.CodeQuoteTimeout}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q := quoteFor(tt.from, wglmr, chain.NewBalance(500))
			if tt.quote != nil {
				tt.quote(q)
			}
			errs := newProvider(t, "http://unused", tt.backend).ValidateSwapProcess(context.Background(), &swap.ValidateParams{
				Address:       alice,
				Process:       process,
				SelectedQuote: q,
			})
			if tt.want == nil {
				assert.True(t, errs.Empty(), "unexpected %v", errs.Codes())
				return
			}
			assert.Equal(t, tt.want, errs.Codes())
		})
	}
}

func TestValidateSwapProcessRecipient(t *testing.T) {
	t.Parallel()

	errs := newProvider(t, "http://unused", &stubBackend{native: big.NewInt(5000)}).ValidateSwapProcess(context.Background(), &swap.ValidateParams{
		Address:       alice,
		Process:       swap.DefaultProcess(glmr.Slug),
		SelectedQuote: quoteFor(glmr, wglmr, chain.NewBalance(500)),
		Recipient:     "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY",
	})
	assert.True(t, errs.Has(harvesterr.CodeInvalidRecipient))
}

func TestHandleSwapProcess(t *testing.T) {
	t.Parallel()

	p := newProvider(t, "http://unused", &stubBackend{allowance: big.NewInt(0)})
	amount := chain.NewBalance(500)
	process := swap.NewProcess(glmr.Slug).
		Add(swap.StepDetail{Name: "Approve", Type: swap.StepTokenApproval}, swap.ZeroFee(glmr.Slug)).
		Add(swap.StepDetail{Name: "Swap", Type: swap.StepSwap}, swap.ZeroFee(glmr.Slug)).
		Build()
	ctx := context.Background()

	t.Run("approval", func(t *testing.T) {
		t.Parallel()
		data, err := p.HandleSwapProcess(ctx, &swap.SubmitParams{Process: process, CurrentStep: 1, Quote: quoteFor(usdc, wglmr, amount), Address: alice})
		require.NoError(t, err)
		assert.Equal(t, swap.TxTokenApproval, data.Type)
		tx, ok := data.Transaction.(*evm.UnsignedTx)
		require.True(t, ok)
		assert.Equal(t, common.HexToAddress(usdcAddress), *tx.Tx.To())
		assert.Equal(t, []byte{0x09, 0x5e, 0xa7, 0xb3}, tx.Tx.Data()[:4])
		assert.Equal(t, evm.GasLimitERC20Approve, tx.Gas)
		assert.Equal(t, uint8(types.LegacyTxType), tx.Tx.Type())
	})

	t.Run("native swap", func(t *testing.T) {
		t.Parallel()
		data, err := p.HandleSwapProcess(ctx, &swap.SubmitParams{Process: process, CurrentStep: 2, Quote: quoteFor(glmr, wglmr, amount), Address: alice})
		require.NoError(t, err)
		assert.Equal(t, swap.TxSwap, data.Type)
		assert.Equal(t, swap.ChainEVM, data.ChainType)
		assert.Equal(t, "500", data.TransferNativeAmount.String())
		tx, ok := data.Transaction.(*evm.UnsignedTx)
		require.True(t, ok)
		assert.Equal(t, common.HexToAddress(DefaultRouter), *tx.Tx.To())
		assert.Equal(t, int64(500), tx.Tx.Value().Int64())
		router, err := parsedRouter()
		require.NoError(t, err)
		assert.Equal(t, router.Methods["execute"].ID, tx.Tx.Data()[:4])
		assert.Equal(t, evm.GasLimitSwap, tx.Gas)
	})

	t.Run("token swap sends no value", func(t *testing.T) {
		t.Parallel()
		data, err := p.HandleSwapProcess(ctx, &swap.SubmitParams{Process: process, CurrentStep: 2, Quote: quoteFor(usdc, wglmr, amount), Address: alice})
		require.NoError(t, err)
		assert.True(t, data.TransferNativeAmount.IsZero())
		tx := data.Transaction.(*evm.UnsignedTx)
		assert.Zero(t, tx.Tx.Value().Sign())
	})

	t.Run("default step", func(t *testing.T) {
		t.Parallel()
		_, err := p.HandleSwapProcess(ctx, &swap.SubmitParams{Process: process, CurrentStep: 0, Quote: quoteFor(glmr, wglmr, amount), Address: alice})
		assert.Equal(t, harvesterr.CodeUnsupported, harvesterr.Code(err))
	})
}

func TestHandleSwapProcessWithoutBackend(t *testing.T) {
	t.Parallel()

	_, err := newProvider(t, "http://unused", nil).HandleSwapProcess(context.Background(), &swap.SubmitParams{
		Process:     swap.DefaultProcess(glmr.Slug),
		CurrentStep: 1,
		Quote:       quoteFor(glmr, wglmr, chain.NewBalance(1)),
		Address:     alice,
	})
	assert.Equal(t, harvesterr.CodeNetworkLost, harvesterr.Code(err))
}

func TestExecuteData(t *testing.T) {
	t.Parallel()

	data, err := ExecuteData(&Execution{Commands: "0x0b", Inputs: []string{"0x01", "0x0203"}}, big.NewInt(1))
	require.NoError(t, err)
	assert.Greater(t, len(data), 4)

	_, err = ExecuteData(&Execution{Commands: "zz"}, big.NewInt(1))
	require.ErrorIs(t, err, harvesterr.ErrInternal)
	_, err = ExecuteData(nil, big.NewInt(1))
	require.ErrorIs(t, err, harvesterr.ErrInternal)
}

func TestDecodeExecution(t *testing.T) {
	t.Parallel()

	exec, err := decodeExecution(map[string]any{"commands": "0x0b", "inputs": []any{"0x01"}})
	require.NoError(t, err)
	assert.Equal(t, "0x0b", exec.Commands)
	assert.Equal(t, []string{"0x01"}, exec.Inputs)

	_, err = decodeExecution(nil)
	require.Error(t, err)
}

func TestInfo(t *testing.T) {
	t.Parallel()

	p := New(Options{Chain: moonbeam, Testnet: true})
	assert.Equal(t, swap.ProviderStellaswapTestnet, p.Slug())
	assert.True(t, strings.HasSuffix(p.Info().Name, "Testnet"))
	assert.False(t, p.IsReady())
}
