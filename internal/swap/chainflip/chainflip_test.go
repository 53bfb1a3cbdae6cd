package chainflip

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/chain/evm"
	"github.com/mrz1836/harvest/internal/chain/memory"
	"github.com/mrz1836/harvest/internal/swap"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

const (
	dotSender   = "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"
	ethSender   = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
	dotDeposit  = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	ethDeposit  = "0x70085a09D30D6f8C4ecF6eE10120d1847383BB57"
	usdcAddress = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

var (
	errUnavailable = errors.New("unavailable")

	polkadot = chain.Info{Slug: chain.Polkadot, Name: "Polkadot", Symbol: "DOT", Decimals: 10}
	ethChain = chain.Info{Slug: chain.Ethereum, Name: "Ethereum", EVM: true, Symbol: "ETH", Decimals: 18}

	dot  = chain.Asset{Slug: "polkadot-NATIVE-DOT", Chain: chain.Polkadot, Kind: chain.AssetNative, Symbol: "DOT", Decimals: 10}
	eth  = chain.Asset{Slug: "ethereum-NATIVE-ETH", Chain: chain.Ethereum, Kind: chain.AssetNative, Symbol: "ETH", Decimals: 18}
	usdc = chain.Asset{Slug: "ethereum-ERC20-USDC", Chain: chain.Ethereum, Kind: chain.AssetERC20, Symbol: "USDC", Decimals: 6, ContractAddress: usdcAddress}
	glmr = chain.Asset{Slug: "moonbeam-NATIVE-GLMR", Chain: chain.Moonbeam, Kind: chain.AssetNative, Symbol: "GLMR", Decimals: 18}

	tenDOT  = chain.MustBalance("100000000000")
	fixedAt = time.UnixMilli(1_700_000_000_000)
)

type stubBackend struct{}

func (stubBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (stubBackend) FeeHistory(context.Context, uint64, *big.Int, []float64) (*ethereum.FeeHistory, error) {
	return nil, errUnavailable
}

func (stubBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(2), nil }

func (stubBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errUnavailable
}

func (stubBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 0, errUnavailable
}

func (stubBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }

func (stubBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

type broker struct {
	quotes   atomic.Int32
	channels atomic.Int32
	lastQ    atomic.Value
	lastBody atomic.Value
	quote    string
	deposit  string
}

func (b *broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/environment":
		_, _ = w.Write([]byte(`{"minimumDepositAmounts":{"Polkadot":{"DOT":"40000000000"},"Ethereum":{"USDC":"20000000"}}}`))
	case "/quote":
		b.quotes.Add(1)
		b.lastQ.Store(r.URL.RawQuery)
		_, _ = w.Write([]byte(b.quote))
	case "/channel":
		b.channels.Add(1)
		var body channelRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.lastBody.Store(body)
		_, _ = w.Write([]byte(`{"id":"123-Polkadot-7","depositAddress":"` + b.deposit + `","srcChainExpiryBlock":900}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

const okQuote = `{"egressAmount":"5000000000000000","estimatedDurationSeconds":144,"lowLiquidityWarning":true,
"includedFees":[
{"type":"INGRESS","chain":"Polkadot","asset":"DOT","amount":"1000"},
{"type":"NETWORK","chain":"Ethereum","asset":"USDC","amount":"20"},
{"type":"EGRESS","chain":"Bitcoin","asset":"BTC","amount":"5"}]}`

func newProvider(t *testing.T, b *broker) *Provider {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	dir := chain.NewDirectory()
	dir.Register(polkadot, memory.New())
	dir.Register(ethChain, memory.New())
	for _, a := range []chain.Asset{dot, eth, usdc, glmr} {
		dir.RegisterAsset(a)
	}

	p := New(Options{
		Assets:   dir,
		Chains:   dir,
		Backends: map[chain.ID]evm.Backend{chain.Ethereum: stubBackend{}},
		BaseURL:  srv.URL,
		HTTP: swap.HTTPOptions{
			RateLimiter: chain.NewRateLimiter(1000, 100),
			Retry:       &chain.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		},
		Now: func() time.Time { return fixedAt },
	})
	require.NoError(t, p.Init(context.Background()))
	require.True(t, p.IsReady())
	return p
}

func request(from, to chain.Asset, amount chain.Balance, sender string) *swap.Request {
	return &swap.Request{
		Address:    sender,
		Pair:       swap.Pair{Slug: swap.PairSlug(from.Slug, to.Slug), From: from.Slug, To: to.Slug},
		FromAmount: amount,
		Slippage:   0.01,
	}
}

func TestGetSwapQuote(t *testing.T) {
	t.Parallel()

	b := &broker{quote: okQuote}
	p := newProvider(t, b)
	q, err := p.GetSwapQuote(context.Background(), request(dot, eth, tenDOT, dotSender))
	require.NoError(t, err)

	assert.Equal(t, "amount=100000000000&destAsset=ETH&destChain=Ethereum&srcAsset=DOT&srcChain=Polkadot", b.lastQ.Load())
	assert.Equal(t, "5000000000000000", q.ToAmount.String())
	assert.InDelta(t, 0.0005, q.Rate, 1e-12)
	assert.Equal(t, []string{dot.Slug, eth.Slug}, q.Route.Path)
	assert.Equal(t, int64(144), q.EstimatedArrivalTime)
	assert.True(t, q.IsLowLiquidity)
	require.NotNil(t, q.MinSwap)
	assert.Equal(t, "40000000000", q.MinSwap.String())
	assert.Equal(t, fixedAt.Add(swap.DefaultQuoteTimeout).UnixMilli(), q.AliveUntil)

	assert.Equal(t, dot.Slug, q.FeeInfo.DefaultFeeToken)
	require.Len(t, q.FeeInfo.FeeComponent, 2, "fees in unknown assets are dropped")
	assert.Equal(t, swap.FeeNetwork, q.FeeInfo.FeeComponent[0].FeeType)
	assert.Equal(t, "1000", q.FeeInfo.FeeComponent[0].Amount.String())
	assert.Equal(t, dot.Slug, q.FeeInfo.FeeComponent[0].TokenSlug)
	assert.Equal(t, swap.FeePlatform, q.FeeInfo.FeeComponent[1].FeeType)
	assert.Equal(t, usdc.Slug, q.FeeInfo.FeeComponent[1].TokenSlug)
}

func TestGetSwapQuoteErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		req       *swap.Request
		quote     string
		code      string
		wantQuery bool
	}{
		{"below minimum", request(dot, eth, chain.MustBalance("30000000000"), dotSender), okQuote, harvesterr.CodeNotMeetMinSwap, false},
		{"unsupported chain", request(glmr, eth, tenDOT, dotSender), okQuote, harvesterr.CodeAssetNotSupported, false},
		{"same asset", request(dot, dot, tenDOT, dotSender), okQuote, harvesterr.CodeAssetNotSupported, false},
		{"zero amount", request(dot, eth, chain.Balance{}, dotSender), okQuote, harvesterr.CodeAmountCannotBeZero, false},
		{"no liquidity", request(dot, eth, tenDOT, dotSender), `{"egressAmount":"0"}`, harvesterr.CodeNotEnoughLiquidity, true},
		{"bad response", request(dot, eth, tenDOT, dotSender), `not json`, harvesterr.CodeErrorFetchingQuote, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := &broker{quote: tt.quote}
			_, err := newProvider(t, b).GetSwapQuote(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, harvesterr.Code(err))
			assert.Equal(t, tt.wantQuery, b.quotes.Load() > 0)
		})
	}
}

func TestInitFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := New(Options{BaseURL: srv.URL, HTTP: swap.HTTPOptions{RateLimiter: chain.NewRateLimiter(1000, 100)}})
	require.Error(t, p.Init(context.Background()))
	assert.False(t, p.IsReady())
}

func quote(from, to chain.Asset, amount chain.Balance) *swap.Quote {
	minSwap := chain.MustBalance("40000000000")
	return &swap.Quote{
		Pair:       swap.Pair{From: from.Slug, To: to.Slug},
		FromAmount: amount,
		ToAmount:   chain.NewBalance(1),
		AliveUntil: fixedAt.Add(time.Minute).UnixMilli(),
		MinSwap:    &minSwap,
		FeeInfo:    swap.ZeroFee(dot.Slug),
	}
}

func TestGenerateOptimalProcess(t *testing.T) {
	t.Parallel()

	p := newProvider(t, &broker{quote: okQuote})
	proc, err := p.GenerateOptimalProcess(context.Background(), &swap.ProcessParams{SelectedQuote: quote(dot, eth, tenDOT)})
	require.NoError(t, err)
	require.NoError(t, proc.Validate())
	require.Len(t, proc.Steps, 2)
	assert.Equal(t, swap.StepSwap, proc.Steps[1].Type)
	assert.Equal(t, dot.Slug, proc.TotalFee[0].DefaultFeeToken)

	_, err = p.GenerateOptimalProcess(context.Background(), &swap.ProcessParams{})
	require.ErrorIs(t, err, harvesterr.ErrInternal)
}

func TestValidateSwapProcess(t *testing.T) {
	t.Parallel()

	process := swap.DefaultProcess(dot.Slug)
	tests := []struct {
		name      string
		quote     *swap.Quote
		recipient string
		want      []string
	}{
		{"evm recipient", quote(dot, eth, tenDOT), ethDeposit, nil},
		{"substrate sender to evm chain", quote(dot, eth, tenDOT), "", []string{harvesterr.CodeInvalidRecipient}},
		{"below minimum", quote(dot, eth, chain.NewBalance(5)), ethDeposit, []string{harvesterr.CodeNotMeetMinSwap}},
		{"expired", func() *swap.Quote {
			q := quote(dot, eth, tenDOT)
			q.AliveUntil = fixedAt.Add(-time.Millisecond).UnixMilli()
			return q
		}(), ethDeposit, []string{harvesterr.CodeQuoteTimeout}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			errs := newProvider(t, &broker{quote: okQuote}).ValidateSwapProcess(context.Background(), &swap.ValidateParams{
				Address:       dotSender,
				Process:       process,
				SelectedQuote: tt.quote,
				Recipient:     tt.recipient,
			})
			if tt.want == nil {
				assert.True(t, errs.Empty(), "unexpected %v", errs.Codes())
				return
			}
			assert.Equal(t, tt.want, errs.Codes())
		})
	}
}

func TestHandleSwapProcessSubstrate(t *testing.T) {
	t.Parallel()

	b := &broker{quote: okQuote, deposit: dotDeposit}
	p := newProvider(t, b)
	data, err := p.HandleSwapProcess(context.Background(), &swap.SubmitParams{
		Process:     swap.DefaultProcess(dot.Slug),
		CurrentStep: 1,
		Quote:       quote(dot, eth, tenDOT),
		Address:     dotSender,
		Recipient:   ethDeposit,
	})
	require.NoError(t, err)

	body, ok := b.lastBody.Load().(channelRequest)
	require.True(t, ok)
	assert.Equal(t, channelRequest{
		SrcChain: "Polkadot", SrcAsset: "DOT", DestChain: "Ethereum", DestAsset: "ETH",
		DestAddress: ethDeposit, Amount: "100000000000",
	}, body)

	ext, ok := data.Transaction.(*chain.Extrinsic)
	require.True(t, ok)
	assert.Equal(t, "balances.transferKeepAlive("+dotDeposit+", 100000000000)", ext.String())
	assert.Equal(t, swap.ChainSubstrate, data.ChainType)
	assert.Equal(t, chain.Polkadot, data.TxChain)
	assert.Equal(t, "123-Polkadot-7", data.TxData.DepositChannelID)
	assert.Equal(t, dotDeposit, data.TxData.DepositAddress)
	assert.Equal(t, tenDOT.String(), data.TransferNativeAmount.String())
}

func TestHandleSwapProcessERC20(t *testing.T) {
	t.Parallel()

	b := &broker{quote: okQuote, deposit: ethDeposit}
	p := newProvider(t, b)
	amount := chain.NewBalance(25_000_000)
	data, err := p.HandleSwapProcess(context.Background(), &swap.SubmitParams{
		Process:     swap.DefaultProcess(eth.Slug),
		CurrentStep: 1,
		Quote:       quote(usdc, dot, amount),
		Address:     ethSender,
		Recipient:   dotSender,
	})
	require.NoError(t, err)

	tx, ok := data.Transaction.(*evm.UnsignedTx)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress(usdcAddress), *tx.Tx.To())
	// transfer(address,uint256) selector
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, tx.Tx.Data()[:4])
	assert.Equal(t, evm.GasLimitERC20Transfer, tx.Gas)
	assert.Zero(t, tx.Tx.Value().Sign())
	assert.True(t, data.TransferNativeAmount.IsZero())
	assert.Equal(t, swap.ChainEVM, data.ChainType)
}

func TestHandleSwapProcessMissingDeposit(t *testing.T) {
	t.Parallel()

	p := newProvider(t, &broker{quote: okQuote})
	_, err := p.HandleSwapProcess(context.Background(), &swap.SubmitParams{
		Process:     swap.DefaultProcess(dot.Slug),
		CurrentStep: 1,
		Quote:       quote(dot, eth, tenDOT),
		Address:     dotSender,
		Recipient:   ethDeposit,
	})
	require.ErrorIs(t, err, harvesterr.ErrSwapUnknown)
}

func TestHandleSwapProcessRejectsApproval(t *testing.T) {
	t.Parallel()

	b := &broker{quote: okQuote, deposit: dotDeposit}
	process := swap.NewProcess(dot.Slug).
		Add(swap.StepDetail{Type: swap.StepTokenApproval}, swap.ZeroFee(dot.Slug)).
		Add(swap.StepDetail{Type: swap.StepSwap}, swap.ZeroFee(dot.Slug)).
		Build()
	_, err := newProvider(t, b).HandleSwapProcess(context.Background(), &swap.SubmitParams{
		Process: process, CurrentStep: 1, Quote: quote(dot, eth, tenDOT), Address: dotSender,
	})
	assert.Equal(t, harvesterr.CodeUnsupported, harvesterr.Code(err))
	assert.Zero(t, b.channels.Load())
}
