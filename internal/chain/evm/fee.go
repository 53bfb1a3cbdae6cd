package evm

import (
	"context"
	"fmt"
	"math/big"
)

// GasSpeed selects one of the fee options.
type GasSpeed string

// Gas speeds.
const (
	GasSpeedSlow    GasSpeed = "slow"
	GasSpeedAverage GasSpeed = "average"
	GasSpeedFast    GasSpeed = "fast"
)

const (
	// feeHistoryBlocks is the number of recent blocks sampled.
	feeHistoryBlocks = 20

	// busyPriorityNum/busyPriorityDen: a block is busy when priority >= 0.3 * base.
	busyPriorityNum = 10
	busyPriorityDen = 3

	// GasLimitTransfer is the gas limit for native transfers.
	GasLimitTransfer uint64 = 21000
	// GasLimitERC20Transfer is the typical gas limit for ERC-20 transfers.
	GasLimitERC20Transfer uint64 = 65000
	// GasLimitERC20Approve is the gas limit for ERC-20 approve calls.
	GasLimitERC20Approve uint64 = 50000
	// GasLimitSwap is used when a swap call cannot be estimated.
	GasLimitSwap uint64 = 300000
)

//nolint:gochecknoglobals // fixed sampling percentiles
var rewardPercentiles = []float64{25, 50, 75}

// FeeOption is one EIP-1559 fee choice.
type FeeOption struct {
	MaxFeePerGas         *big.Int `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int `json:"maxPriorityFeePerGas"`
}

// FeeOptions groups the three speeds plus the suggested default.
type FeeOptions struct {
	Slow    FeeOption `json:"slow"`
	Average FeeOption `json:"average"`
	Fast    FeeOption `json:"fast"`
	Default GasSpeed  `json:"default"`
}

// Option returns the option for speed. Unknown speeds use the default.
func (o *FeeOptions) Option(speed GasSpeed) FeeOption {
	if speed == "" {
		speed = o.Default
	}
	switch speed {
	case GasSpeedFast:
		return o.Fast
	case GasSpeedAverage:
		return o.Average
	case GasSpeedSlow:
		return o.Slow
	default:
		if speed != o.Default {
			return o.Option(o.Default)
		}
		return o.Slow
	}
}

// FeeInfo is either an EIP-1559 fee set or a legacy gas price.
type FeeInfo struct {
	BusyNetwork bool        `json:"busyNetwork"`
	GasPrice    *big.Int    `json:"gasPrice,omitempty"`
	BaseGasFee  *big.Int    `json:"baseGasFee,omitempty"`
	Options     *FeeOptions `json:"options,omitempty"`
}

// IsLegacy reports whether only a gas price is available.
func (f *FeeInfo) IsLegacy() bool {
	return f.Options == nil
}

// PricePerGas returns the worst-case price per gas for speed.
func (f *FeeInfo) PricePerGas(speed GasSpeed) *big.Int {
	if f.IsLegacy() {
		if f.GasPrice == nil {
			return new(big.Int)
		}
		return new(big.Int).Set(f.GasPrice)
	}
	return new(big.Int).Set(f.Options.Option(speed).MaxFeePerGas)
}

// Cost returns gasLimit * PricePerGas(speed).
func (f *FeeInfo) Cost(gasLimit uint64, speed GasSpeed) *big.Int {
	return new(big.Int).Mul(f.PricePerGas(speed), new(big.Int).SetUint64(gasLimit))
}

// EIP1559Fee returns maxFee = 2 * base + priority.
func EIP1559Fee(baseFee, priorityFee *big.Int) FeeOption {
	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFee.Add(maxFee, priorityFee)
	return FeeOption{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: new(big.Int).Set(priorityFee),
	}
}

// CalculateGasFeeParams samples the last blocks' fee history. When the node
// does not serve fee history it falls back to the suggested gas price.
func CalculateGasFeeParams(ctx context.Context, backend Backend) (*FeeInfo, error) {
	history, err := backend.FeeHistory(ctx, feeHistoryBlocks, nil, rewardPercentiles)
	if err == nil && history != nil && len(history.BaseFee) > 0 && len(history.Reward) > 0 {
		return feeInfoFromHistory(history.BaseFee, history.Reward), nil
	}

	price, priceErr := backend.SuggestGasPrice(ctx)
	if priceErr != nil {
		return nil, fmt.Errorf("suggest gas price: %w", priceErr)
	}
	return &FeeInfo{GasPrice: price}, nil
}

func feeInfoFromHistory(baseFees []*big.Int, rewards [][]*big.Int) *FeeInfo {
	// The last base fee is the pending block's.
	base := new(big.Int).Set(baseFees[len(baseFees)-1])

	busyBlocks := 0
	sums := [3]*big.Int{new(big.Int), new(big.Int), new(big.Int)}
	for i, reward := range rewards {
		for p := range sums {
			if p < len(reward) && reward[p] != nil {
				sums[p].Add(sums[p], reward[p])
			}
		}
		if i >= len(baseFees) || len(reward) == 0 || reward[0] == nil {
			continue
		}
		blockBase := baseFees[i]
		if blockBase.Sign() <= 0 {
			continue
		}
		lhs := new(big.Int).Mul(reward[0], big.NewInt(busyPriorityNum))
		rhs := new(big.Int).Mul(blockBase, big.NewInt(busyPriorityDen))
		if lhs.Cmp(rhs) >= 0 {
			busyBlocks++
		}
	}

	blocks := len(rewards)
	busy := busyBlocks*2 >= blocks
	def := GasSpeedSlow
	if busy {
		def = GasSpeedAverage
	}

	return &FeeInfo{
		BusyNetwork: busy,
		BaseGasFee:  base,
		Options: &FeeOptions{
			Slow:    EIP1559Fee(base, roundedMean(sums[0], blocks)),
			Average: EIP1559Fee(base, roundedMean(sums[1], blocks)),
			Fast:    EIP1559Fee(base, roundedMean(sums[2], blocks)),
			Default: def,
		},
	}
}

// roundedMean divides sum by n rounding half up.
func roundedMean(sum *big.Int, n int) *big.Int {
	if n <= 0 {
		return new(big.Int)
	}
	den := big.NewInt(int64(n))
	out := new(big.Int).Mul(sum, big.NewInt(2))
	out.Add(out, den)
	return out.Quo(out, new(big.Int).Mul(den, big.NewInt(2)))
}
