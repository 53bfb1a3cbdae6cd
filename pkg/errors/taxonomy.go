package errors

// Basic transaction error codes.
const (
	CodeInvalidParams    = "INVALID_PARAMS"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeUnsupported      = "UNSUPPORTED"
	CodeNotEnoughBalance = "NOT_ENOUGH_BALANCE"
	CodeUserReject       = "USER_REJECT_REQUEST"
	CodeNetworkLost      = "NETWORK_LOST"
)

// Staking transaction error codes.
const (
	CodeNotEnoughMinStake      = "NOT_ENOUGH_MIN_STAKE"
	CodeExceedMaxNominations   = "EXCEED_MAX_NOMINATIONS"
	CodeInvalidActiveStake     = "INVALID_ACTIVE_STAKE"
	CodeExceedMaxUnstaking     = "EXCEED_MAX_UNSTAKING"
	CodeCanNotJoinLastEra      = "CAN_NOT_JOIN_LAST_ERA"
	CodeInactiveNominationPool = "INACTIVE_NOMINATION_POOL"
)

// Swap error codes.
const (
	CodeErrorFetchingQuote    = "ERROR_FETCHING_QUOTE"
	CodeNotMeetMinSwap        = "NOT_MEET_MIN_SWAP"
	CodeSwapUnknown           = "UNKNOWN"
	CodeAssetNotSupported     = "ASSET_NOT_SUPPORTED"
	CodeQuoteTimeout          = "QUOTE_TIMEOUT"
	CodeInvalidRecipient      = "INVALID_RECIPIENT"
	CodeSwapExceedAllowance   = "SWAP_EXCEED_ALLOWANCE"
	CodeSwapNotEnoughBalance  = "SWAP_NOT_ENOUGH_BALANCE"
	CodeNotEnoughLiquidity    = "NOT_ENOUGH_LIQUIDITY"
	CodeAmountCannotBeZero    = "AMOUNT_CANNOT_BE_ZERO"
	CodeSwapProviderNotFound  = "SWAP_PROVIDER_NOT_FOUND"
	CodeSwapProcessIncomplete = "SWAP_PROCESS_INCOMPLETE"
)

// Sentinels for the transaction taxonomy. Handlers return copies carrying
// their own message through Tx, Staking and Swap.
var (
	ErrInvalidParams    = &HarvestError{Code: CodeInvalidParams, Message: "invalid params", ExitCode: ExitInput}
	ErrInternal         = &HarvestError{Code: CodeInternalError, Message: "undefined error, please try again", ExitCode: ExitGeneral}
	ErrUnsupported      = &HarvestError{Code: CodeUnsupported, Message: "this feature is not yet available for this pool", ExitCode: ExitInput}
	ErrNotEnoughBalance = &HarvestError{Code: CodeNotEnoughBalance, Message: "insufficient balance", ExitCode: ExitPermission}
	ErrUserRejected     = &HarvestError{Code: CodeUserReject, Message: "Rejected by user", ExitCode: ExitAuth}
	ErrNetworkLost      = &HarvestError{Code: CodeNetworkLost, Message: NetworkLostMessage, ExitCode: ExitGeneral}

	ErrNotEnoughMinStake    = &HarvestError{Code: CodeNotEnoughMinStake, Message: "insufficient stake", ExitCode: ExitInput}
	ErrExceedMaxNominations = &HarvestError{Code: CodeExceedMaxNominations, Message: "too many nominations", ExitCode: ExitInput}
	ErrInvalidActiveStake   = &HarvestError{Code: CodeInvalidActiveStake, Message: "invalid remaining active stake", ExitCode: ExitInput}
	ErrExceedMaxUnstaking   = &HarvestError{Code: CodeExceedMaxUnstaking, Message: "too many pending unstake requests", ExitCode: ExitInput}
	ErrCanNotJoinLastEra    = &HarvestError{Code: CodeCanNotJoinLastEra, Message: "cannot stake in the last era of a period", ExitCode: ExitInput}
	ErrInactivePool         = &HarvestError{Code: CodeInactiveNominationPool, Message: "nomination pool is not open", ExitCode: ExitInput}

	ErrQuoteTimeout       = &HarvestError{Code: CodeQuoteTimeout, Message: "quote has expired, fetch a new one", ExitCode: ExitInput}
	ErrAssetNotSupported  = &HarvestError{Code: CodeAssetNotSupported, Message: "this swap pair is not supported", ExitCode: ExitInput}
	ErrSwapUnknown        = &HarvestError{Code: CodeSwapUnknown, Message: "undefined swap error", ExitCode: ExitGeneral}
	ErrFetchingQuote      = &HarvestError{Code: CodeErrorFetchingQuote, Message: "error fetching quote", ExitCode: ExitGeneral}
	ErrAmountZero         = &HarvestError{Code: CodeAmountCannotBeZero, Message: "amount must be greater than 0", ExitCode: ExitInput}
	ErrNotMeetMinSwap     = &HarvestError{Code: CodeNotMeetMinSwap, Message: "amount too low to swap", ExitCode: ExitInput}
	ErrProviderNotFound   = &HarvestError{Code: CodeSwapProviderNotFound, Message: "swap provider not found", ExitCode: ExitNotFound}
	ErrProcessIncomplete  = &HarvestError{Code: CodeSwapProcessIncomplete, Message: "please check your network and try again", ExitCode: ExitGeneral}
	ErrInsufficientSwap   = &HarvestError{Code: CodeSwapNotEnoughBalance, Message: "insufficient balance to swap", ExitCode: ExitPermission}
	ErrExceedAllowance    = &HarvestError{Code: CodeSwapExceedAllowance, Message: "swap amount exceeds token allowance", ExitCode: ExitPermission}
	ErrNotEnoughLiquidity = &HarvestError{Code: CodeNotEnoughLiquidity, Message: "not enough liquidity", ExitCode: ExitGeneral}
)

// Tx creates a transaction error. An empty message uses the sentinel text for the code.
func Tx(code, message string) *HarvestError {
	if message == "" {
		message = defaultMessage(code)
	}
	return New(code, message)
}

// Txf creates a transaction error with a formatted message.
func Txf(code, format string, args ...any) *HarvestError {
	return Newf(code, format, args...)
}

// IsValidation reports whether the error is an expected, user-actionable failure.
func IsValidation(err error) bool {
	switch Code(err) {
	case CodeInternalError, "GENERAL_ERROR", CodeNetworkLost, "NETWORK_ERROR", CodeErrorFetchingQuote, CodeSwapUnknown:
		return false
	}
	var he *HarvestError
	return As(err, &he)
}

func defaultMessage(code string) string {
	for _, s := range sentinels() {
		if s.Code == code {
			return s.Message
		}
	}
	return code
}

func exitCodeFor(code string) int {
	for _, s := range sentinels() {
		if s.Code == code {
			return s.ExitCode
		}
	}
	return ExitGeneral
}

func sentinels() []*HarvestError {
	return []*HarvestError{
		ErrInvalidParams, ErrInternal, ErrUnsupported, ErrNotEnoughBalance, ErrUserRejected, ErrNetworkLost,
		ErrNotEnoughMinStake, ErrExceedMaxNominations, ErrInvalidActiveStake, ErrExceedMaxUnstaking,
		ErrCanNotJoinLastEra, ErrInactivePool,
		ErrQuoteTimeout, ErrAssetNotSupported, ErrSwapUnknown, ErrFetchingQuote, ErrAmountZero,
		ErrNotMeetMinSwap, ErrProviderNotFound, ErrProcessIncomplete, ErrInsufficientSwap,
		ErrExceedAllowance, ErrNotEnoughLiquidity,
		ErrInvalidInput, ErrNotFound, ErrInvalidAddress, ErrInvalidAmount, ErrConfigInvalid,
	}
}
