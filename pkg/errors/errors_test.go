package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

var (
	errInner     = errors.New("inner")
	errPlain     = errors.New("plain error")
	errLost      = errors.New("connection not open on send() on wss://rpc")
	errRejected  = errors.New("Rejected by user")
	errUnrelated = errors.New("boom")
)

func TestExitCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"success", nil, harvesterr.ExitSuccess},
		{"general error", harvesterr.ErrGeneral, harvesterr.ExitGeneral},
		{"input error", harvesterr.ErrInvalidInput, harvesterr.ExitInput},
		{"not found error", harvesterr.ErrNotFound, harvesterr.ExitNotFound},
		{"user rejected", harvesterr.ErrUserRejected, harvesterr.ExitAuth},
		{"not enough balance", harvesterr.ErrNotEnoughBalance, harvesterr.ExitPermission},
		{"plain error", errPlain, harvesterr.ExitGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, harvesterr.ExitCode(tt.err))
		})
	}
}

func TestWrapPreservesIdentity(t *testing.T) {
	t.Parallel()

	wrapped := harvesterr.Wrap(harvesterr.ErrUnsupported, "polkadot___native_staking")
	require.ErrorIs(t, wrapped, harvesterr.ErrUnsupported)
	assert.Equal(t, harvesterr.CodeUnsupported, harvesterr.Code(wrapped))
	assert.Equal(t, harvesterr.ExitInput, harvesterr.ExitCode(wrapped))

	plain := harvesterr.Wrap(errInner, "context")
	assert.Equal(t, "GENERAL_ERROR", harvesterr.Code(plain))
	require.ErrorIs(t, plain, errInner)

	assert.NoError(t, harvesterr.Wrap(nil, "nothing"))
}

func TestDetailsAndSuggestion(t *testing.T) {
	t.Parallel()

	err := harvesterr.WithDetails(harvesterr.ErrNotEnoughMinStake, map[string]string{
		"min":   "10",
		"chain": "polkadot",
	})
	assert.Equal(t, "insufficient stake (chain: polkadot) (min: 10)", err.Error())

	err = harvesterr.WithSuggestion(err, "stake at least 10 DOT")
	var he *harvesterr.HarvestError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "stake at least 10 DOT", he.Suggestion)
	assert.Equal(t, "10", he.Details["min"])
}

func TestTxUsesSentinelMessage(t *testing.T) {
	t.Parallel()

	err := harvesterr.Tx(harvesterr.CodeUnsupported, "")
	assert.Equal(t, harvesterr.ErrUnsupported.Message, err.Message)
	require.ErrorIs(t, err, harvesterr.ErrUnsupported)

	custom := harvesterr.Txf(harvesterr.CodeExceedMaxNominations, "you can only choose %d validators", 16)
	assert.Equal(t, "you can only choose 16 validators", custom.Message)
	assert.Equal(t, harvesterr.ExitInput, custom.ExitCode)
}

func TestErrorListAccumulates(t *testing.T) {
	t.Parallel()

	var list harvesterr.ErrorList
	require.True(t, list.Empty())
	require.NoError(t, list.Err())

	list.Add(harvesterr.Tx(harvesterr.CodeInvalidParams, "amount must be greater than 0"))
	list.Add(nil)
	list.Add(harvesterr.ErrExceedMaxNominations)
	list.Add(errPlain)

	assert.Len(t, list, 3)
	assert.Equal(t, []string{
		harvesterr.CodeInvalidParams,
		harvesterr.CodeExceedMaxNominations,
		harvesterr.CodeInternalError,
	}, list.Codes())
	assert.True(t, list.Has(harvesterr.CodeExceedMaxNominations))
	assert.False(t, list.Has(harvesterr.CodeNotEnoughMinStake))
	assert.Equal(t, harvesterr.CodeInvalidParams, list.First().Code)

	joined := list.Err()
	require.ErrorIs(t, joined, harvesterr.ErrExceedMaxNominations)
	require.ErrorIs(t, joined, harvesterr.ErrInvalidParams)
}

func TestDisplayMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, ""},
		{"validation verbatim", harvesterr.Tx(harvesterr.CodeNotEnoughMinStake, "stake at least 10 DOT"), "stake at least 10 DOT"},
		{"network lost", errLost, harvesterr.NetworkLostMessage},
		{"wrapped network lost", harvesterr.Classify(errLost), harvesterr.NetworkLostMessage},
		{"internal", harvesterr.ErrInternal, harvesterr.GenericMessage},
		{"plain", errUnrelated, harvesterr.GenericMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, harvesterr.DisplayMessage(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.NoError(t, harvesterr.Classify(nil))
	assert.Equal(t, harvesterr.CodeUserReject, harvesterr.Code(harvesterr.Classify(errRejected)))
	assert.Equal(t, harvesterr.CodeNetworkLost, harvesterr.Code(harvesterr.Classify(errLost)))
	assert.Equal(t, errUnrelated, harvesterr.Classify(errUnrelated))

	typed := harvesterr.ErrQuoteTimeout
	assert.Equal(t, typed, harvesterr.Classify(typed))
	assert.True(t, harvesterr.IsRejectedByUser(errRejected))
	assert.False(t, harvesterr.IsNetworkLost(errUnrelated))
}

func TestClosest(t *testing.T) {
	t.Parallel()

	candidates := []string{"DOT___native_staking___polkadot", "KSM___native_staking___kusama"}
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"exact", "DOT___native_staking___polkadot", "DOT___native_staking___polkadot"},
		{"case insensitive", "dot___native_staking___polkadot", "DOT___native_staking___polkadot"},
		{"typo", "DOT___native_stakin___polkadt", "DOT___native_staking___polkadot"},
		{"too far", "nothing", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, harvesterr.Closest(tt.input, candidates))
		})
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	err := harvesterr.Suggest(harvesterr.ErrInternal, "KSM___native_stakng___kusama", []string{"KSM___native_staking___kusama"})
	var he *harvesterr.HarvestError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "did you mean KSM___native_staking___kusama?", he.Suggestion)
	assert.Equal(t, harvesterr.CodeInternalError, he.Code)

	assert.Equal(t, harvesterr.ErrInternal, harvesterr.Suggest(harvesterr.ErrInternal, "zzz", nil))
}

func TestErrorListKeepsWrappingContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
		wantError   string
	}{
		{
			name:        "sentinel as is",
			err:         harvesterr.ErrMalformedState,
			wantCode:    harvesterr.CodeInternalError,
			wantMessage: "unexpected on-chain value shape",
			wantError:   "unexpected on-chain value shape",
		},
		{
			name:        "wrapped sentinel",
			err:         fmt.Errorf("decode staking.ledger: %w", harvesterr.ErrMalformedState),
			wantCode:    harvesterr.CodeInternalError,
			wantMessage: "decode staking.ledger: unexpected on-chain value shape",
			wantError:   "decode staking.ledger: unexpected on-chain value shape",
		},
		{
			name:        "twice wrapped validation error",
			err:         fmt.Errorf("join: %w", fmt.Errorf("pool 7: %w", harvesterr.Tx(harvesterr.CodeInvalidParams, "pool is not open"))),
			wantCode:    harvesterr.CodeInvalidParams,
			wantMessage: "join: pool 7: pool is not open",
			wantError:   "join: pool 7: pool is not open",
		},
		{
			name:        "joined errors",
			err:         errors.Join(errPlain, harvesterr.ErrMalformedState),
			wantCode:    harvesterr.CodeInternalError,
			wantMessage: "unexpected on-chain value shape",
			wantError:   "unexpected on-chain value shape: " + errPlain.Error() + "\nunexpected on-chain value shape",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var list harvesterr.ErrorList
			list.Add(tc.err)
			require.Len(t, list, 1)

			got := list.First()
			assert.Equal(t, tc.wantCode, got.Code)
			assert.Equal(t, tc.wantMessage, got.Message)
			assert.Equal(t, tc.wantError, got.Error())
			require.ErrorIs(t, got, harvesterr.New(tc.wantCode, ""))
		})
	}

	assert.Equal(t, "unexpected on-chain value shape", harvesterr.ErrMalformedState.Message, "sentinel untouched")
}
