package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/chain/evm"
	"github.com/mrz1836/harvest/internal/output"
	swapsvc "github.com/mrz1836/harvest/internal/service/swap"
	"github.com/mrz1836/harvest/internal/swap"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	swapFrom      string
	swapTo        string
	swapAmount    string
	swapAddress   string
	swapRecipient string
	swapSlippage  float64
	swapYes       bool
)

// swapCmd groups swap commands.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var swapCmd = &cobra.Command{
	Use:   "swap",
	Short: "Quote and prepare token swaps across providers",
	Long: `Ask every configured swap provider for a quote, pick the best one and
walk its process step by step.

Token slugs have the form <chain>-NATIVE-<SYMBOL> or
<chain>-ERC20-<SYMBOL>-<contract>.`,
}

// swapQuoteCmd prints quotes and the process of the best one.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var swapQuoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Show quotes from every provider",
	Long: `Show one quote per provider with the receive amount, rate and route. The
optimal quote is marked with '*' and its process is listed below.`,
	Example: `  harvest swap quote --from polkadot-NATIVE-DOT --to ethereum-NATIVE-ETH --amount 50 --address 15oF...`,
	RunE: runSwapQuote,
}

// swapRunCmd walks the process of the optimal quote.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var swapRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Walk the swap process and print every step transaction",
	Long: `Validate the optimal quote and build the transaction of every process step
in order. Transactions are printed unsigned for an external signer; the
process advances with placeholder hashes. Deposit addresses are shown as
QR codes on terminals.`,
	Example: `  harvest swap run --from moonbeam-NATIVE-GLMR --to moonbeam-ERC20-xcDOT-0xFfFFfFff1FcaCBd218EDc0EbA20Fc2308C778080 --amount 100 --address 0x5aE4...`,
	RunE: runSwapRun,
}

// swapProvidersCmd lists providers.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var swapProvidersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured swap providers",
	Long: `List the swap providers in preference order. The order is set by
swap.providers in the configuration file.`,
	Example: `  harvest swap providers
  harvest swap providers -o json`,
	RunE: runSwapProviders,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	for _, c := range []*cobra.Command{swapQuoteCmd, swapRunCmd} {
		c.Flags().StringVar(&swapFrom, "from", "", "token slug to sell (required)")
		c.Flags().StringVar(&swapTo, "to", "", "token slug to buy (required)")
		c.Flags().StringVar(&swapAmount, "amount", "", "decimal amount to sell (required)")
		c.Flags().StringVar(&swapAddress, "address", "", "sender address (required)")
		c.Flags().StringVar(&swapRecipient, "recipient", "", "destination address when it differs from the sender")
		c.Flags().Float64Var(&swapSlippage, "slippage", 0, "slippage as a fraction, 0.01 for 1% (default from config)")
		for _, f := range []string{"from", "to", "amount", "address"} {
			_ = c.MarkFlagRequired(f)
		}
	}
	swapRunCmd.Flags().BoolVarP(&swapYes, "yes", "y", false, "skip the confirmation prompt")

	swapCmd.AddCommand(swapQuoteCmd, swapRunCmd, swapProvidersCmd)
	swapCmd.GroupID = groupSwap
	rootCmd.AddCommand(swapCmd)
}

// swapRequest resolves the shared flags.
func swapRequest(cc *CommandContext) (*swap.Request, error) {
	dir, err := cc.Directory()
	if err != nil {
		return nil, err
	}
	if _, err := dir.Asset(swapTo); err != nil {
		return nil, err
	}
	amount, err := parseAssetAmount(dir, swapFrom, swapAmount)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, harvesterr.ErrAmountZero
	}

	slippage := swapSlippage
	if slippage == 0 {
		slippage = cc.Cfg.Swap.DefaultSlippage
	}
	if slippage < 0 || slippage >= 1 {
		return nil, harvesterr.WithSuggestion(
			harvesterr.Wrap(harvesterr.ErrInvalidInput, "slippage %v out of range", slippage),
			"use a fraction between 0 and 1, for example 0.005 for 0.5%")
	}

	return &swap.Request{
		Address:    swapAddress,
		Pair:       swap.Pair{Slug: swap.PairSlug(swapFrom, swapTo), From: swapFrom, To: swapTo},
		FromAmount: amount,
		Slippage:   slippage,
		Recipient:  swapRecipient,
	}, nil
}

// requestSwap fetches quotes and the optimal process. A response without
// any quote returns the provider error.
func requestSwap(ctx context.Context, svc *swapsvc.Service, req *swap.Request) (*swap.RequestResult, error) {
	res, err := svc.HandleSwapRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Quote.OptimalQuote == nil {
		if res.Quote.Error != nil {
			return nil, res.Quote.Error
		}
		return nil, harvesterr.Tx(harvesterr.CodeSwapUnknown, "")
	}
	return res, nil
}

func runSwapQuote(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	req, err := swapRequest(cc)
	if err != nil {
		return err
	}
	ctx, cancel := readContext(cmd, defaultReadTimeout)
	defer cancel()

	svc, err := cc.SwapService(ctx)
	if err != nil {
		return err
	}
	res, err := requestSwap(ctx, svc, req)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if cc.format() == output.FormatJSON {
		return output.WriteJSON(w, res)
	}
	dir, err := cc.Directory()
	if err != nil {
		return err
	}
	if err := renderQuotes(w, dir, res.Quote); err != nil {
		return err
	}
	outln(w)
	return renderProcess(w, dir, res.Process)
}

func runSwapRun(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	req, err := swapRequest(cc)
	if err != nil {
		return err
	}
	ctx, cancel := readContext(cmd, defaultReadTimeout)
	defer cancel()

	svc, err := cc.SwapService(ctx)
	if err != nil {
		return err
	}
	res, err := requestSwap(ctx, svc, req)
	if err != nil {
		return err
	}
	quote := res.Quote.OptimalQuote

	w := cmd.OutOrStdout()
	dir, err := cc.Directory()
	if err != nil {
		return err
	}
	if cc.format() != output.FormatJSON {
		out(w, "Provider: %s\n", quote.Provider.Name)
		out(w, "Receive:  %s\n\n", formatAmount(dir, quote.Pair.To, quote.ToAmount))
		if err := renderProcess(w, dir, res.Process); err != nil {
			return err
		}
	}
	if !swapYes && !promptConfirmFn("Build the transactions of this swap?") {
		return harvesterr.ErrUserRejected
	}

	signer := &dryRunSigner{cmd: cmd, format: cc.format()}
	runner := svc.NewRunner(signer)
	runner.OnChange = func(s swap.State) {
		cc.logger().Debug("swap step %d/%d", s.CurrentStep, len(s.Steps))
	}

	result, err := runner.Run(ctx, &swap.Job{
		Process:   res.Process,
		Quote:     quote,
		Address:   req.Address,
		Slippage:  req.Slippage,
		Recipient: req.Recipient,
	})
	if err != nil {
		return err
	}

	if cc.format() == output.FormatJSON {
		return output.WriteJSON(w, map[string]any{
			"process": res.Process,
			"quote":   quote,
			"steps":   signer.steps,
			"txIds":   result.TxIDs,
		})
	}
	out(w, "\nBuilt %d step transaction(s).\n", len(result.TxIDs))
	return nil
}

// dryRunSigner prints every step instead of signing it and answers with a
// deterministic placeholder hash.
type dryRunSigner struct {
	cmd    *cobra.Command
	format output.Format
	steps  []*swap.StepData
}

func (s *dryRunSigner) Sign(_ context.Context, data *swap.StepData) (string, error) {
	s.steps = append(s.steps, data)
	hash, err := placeholderHash(data)
	if err != nil {
		return "", err
	}
	if s.format == output.FormatJSON {
		return hash, nil
	}

	w := s.cmd.OutOrStdout()
	out(w, "\nStep %d: %s on %s (%s)\n", len(s.steps), data.Type, data.TxChain, data.ChainType)
	switch tx := data.Transaction.(type) {
	case *chain.Extrinsic:
		out(w, "  extrinsic: %s\n", tx.String())
	case *evm.UnsignedTx:
		if to := tx.Tx.To(); to != nil {
			out(w, "  to:        %s\n", to.Hex())
		}
		out(w, "  value:     %s\n", tx.Tx.Value().String())
		out(w, "  gas:       %d\n", tx.Gas)
	}
	if !data.TransferNativeAmount.IsZero() {
		out(w, "  native:    %s\n", data.TransferNativeAmount.String())
	}
	if addr := data.TxData.DepositAddress; addr != "" {
		out(w, "  deposit:   %s (channel %s)\n", addr, data.TxData.DepositChannelID)
		output.WriteDepositQR(w, addr, output.DefaultQROptions())
	}
	out(w, "  ref:       %s\n", hash)
	return hash, nil
}

// placeholderHash stands in for a broadcast hash. EVM steps use the
// unsigned transaction hash; other steps hash their JSON encoding.
func placeholderHash(data *swap.StepData) (string, error) {
	if tx, ok := data.Transaction.(*evm.UnsignedTx); ok && tx.Tx != nil {
		return tx.Tx.Hash().Hex(), nil
	}
	raw, err := json.Marshal(data.Transaction)
	if err != nil {
		return "", fmt.Errorf("encoding step transaction: %w", err)
	}
	return crypto.Keccak256Hash(raw).Hex(), nil
}

func runSwapProviders(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	ctx, cancel := readContext(cmd, defaultReadTimeout)
	defer cancel()

	svc, err := cc.SwapService(ctx)
	if err != nil {
		return err
	}
	providers := svc.Providers()

	w := cmd.OutOrStdout()
	return cc.emit(w, providers, func(w io.Writer) error {
		t := output.NewTable("ID", "NAME", "FAQ")
		for _, p := range providers {
			t.AddRow(string(p.ID), p.Name, p.FAQ)
		}
		return t.Render(w)
	})
}
