package stellaswap

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

const routerABIJSON = `[
{"inputs":[{"name":"commands","type":"bytes"},{"name":"inputs","type":"bytes[]"},{"name":"deadline","type":"uint256"}],"name":"execute","outputs":[],"stateMutability":"payable","type":"function"}
]`

//nolint:gochecknoglobals // parsed once on first use
var (
	routerOnce sync.Once
	routerABI  abi.ABI
	routerErr  error
)

func parsedRouter() (abi.ABI, error) {
	routerOnce.Do(func() {
		routerABI, routerErr = abi.JSON(strings.NewReader(routerABIJSON))
	})
	return routerABI, routerErr
}

// ExecuteData packs execute(commands, inputs, deadline) for the router.
func ExecuteData(exec *Execution, deadline *big.Int) ([]byte, error) {
	if exec == nil || exec.Commands == "" {
		return nil, fmt.Errorf("%w: empty router program", harvesterr.ErrInternal)
	}
	commands, err := hexutil.Decode(exec.Commands)
	if err != nil {
		return nil, fmt.Errorf("%w: commands: %w", harvesterr.ErrInternal, err)
	}
	inputs := make([][]byte, 0, len(exec.Inputs))
	for i, in := range exec.Inputs {
		b, err := hexutil.Decode(in)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", harvesterr.ErrInternal, i, err)
		}
		inputs = append(inputs, b)
	}

	parsed, err := parsedRouter()
	if err != nil {
		return nil, err
	}
	return parsed.Pack("execute", commands, inputs, deadline)
}
