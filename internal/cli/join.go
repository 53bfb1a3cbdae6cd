package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	core "github.com/mrz1836/harvest/internal/earning"
	"github.com/mrz1836/harvest/internal/output"
	earningsvc "github.com/mrz1836/harvest/internal/service/earning"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	joinAddress string
	joinAmount  string
	joinTargets []string
	joinPoolID  string
)

// joinCmd groups the join workflow.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Validate and build pool join transactions",
	Long: `Validate a join request, show its steps and fees, and build the unsigned
join transaction for an external signer.

Amounts are decimal amounts of the pool's input token.`,
}

// joinValidateCmd checks a join request.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var joinValidateCmd = &cobra.Command{
	Use:   "validate <pool-slug>",
	Short: "Check a join request against the pool",
	Long: `Check a join request against the pool's minimum stake, target limits and
the address's free balance. Every failed check is reported.`,
	Example: `  harvest join validate DOT___native_staking___polkadot --address 15oF... --amount 250 --target 1zugca...`,
	Args: cobra.ExactArgs(1),
	RunE: runJoinValidate,
}

// joinPathCmd shows the join steps.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var joinPathCmd = &cobra.Command{
	Use:   "path <pool-slug>",
	Short: "Show the steps and fees of joining a pool",
	Long: `Show the ordered steps needed to join a pool with the estimated fee of each.`,
	Example: `  harvest join path vDOT___liquid_staking___bifrost_dot --address 15oF... --amount 10`,
	Args: cobra.ExactArgs(1),
	RunE: runJoinPath,
}

// joinBuildCmd builds the join transaction.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var joinBuildCmd = &cobra.Command{
	Use:   "build <pool-slug>",
	Short: "Build the unsigned join transaction",
	Long: `Validate the request and build the unsigned join transaction. Nothing is
signed or broadcast.`,
	Example: `  harvest join build DOT___nomination_pool___polkadot --address 15oF... --amount 10 --pool-id 12`,
	Args: cobra.ExactArgs(1),
	RunE: runJoinBuild,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	for _, c := range []*cobra.Command{joinValidateCmd, joinPathCmd, joinBuildCmd} {
		c.Flags().StringVar(&joinAddress, "address", "", "address that joins (required)")
		c.Flags().StringVar(&joinAmount, "amount", "", "amount of the pool's input token (required)")
		c.Flags().StringArrayVar(&joinTargets, "target", nil, "target address to nominate (repeatable)")
		c.Flags().StringVar(&joinPoolID, "pool-id", "", "nomination pool id")
		_ = c.MarkFlagRequired("address")
		_ = c.MarkFlagRequired("amount")
		c.MarkFlagsMutuallyExclusive("target", "pool-id")
		joinCmd.AddCommand(c)
	}
	joinCmd.GroupID = groupEarning
	rootCmd.AddCommand(joinCmd)
}

// joinRequest resolves flags into a request. Requested targets are matched
// against the pool's target list so validation sees their real stake and
// flags; unknown addresses are passed through bare.
func joinRequest(ctx context.Context, cc *CommandContext, svc *earningsvc.Service, slug string) (*core.JoinRequest, error) {
	token, err := poolToken(svc, slug)
	if err != nil {
		return nil, err
	}
	dir, err := cc.Directory()
	if err != nil {
		return nil, err
	}
	amount, err := parseAssetAmount(dir, token, joinAmount)
	if err != nil {
		return nil, err
	}

	req := &core.JoinRequest{
		Address: joinAddress,
		Slug:    slug,
		Amount:  amount,
		PoolID:  joinPoolID,
	}
	if len(joinTargets) == 0 {
		return req, nil
	}

	known := make(map[string]core.ValidatorInfo)
	targets, err := svc.GetPoolTargets(ctx, slug)
	if err != nil {
		cc.logger().Debug("targets %s: %v", slug, err)
	}
	for _, t := range targets {
		known[t.Address] = t
	}
	h, _ := svc.Handler(slug)
	for _, addr := range joinTargets {
		if t, ok := known[addr]; ok {
			req.Selected = append(req.Selected, t)
			continue
		}
		req.Selected = append(req.Selected, core.ValidatorInfo{Address: addr, Chain: h.Chain()})
	}
	return req, nil
}

// reportedError marks an error already written to stderr.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// reportErrors turns a validation result into the command error. Several
// failures are written together so none is lost.
func reportErrors(cmd *cobra.Command, cc *CommandContext, errs harvesterr.ErrorList) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	list := make([]error, 0, len(errs))
	for _, e := range errs {
		list = append(list, e)
	}
	_ = output.FormatErrors(cmd.ErrOrStderr(), list, cc.format())
	return reportedError{errs.Err()}
}

func runJoinValidate(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.EarningService()
	if err != nil {
		return err
	}
	ctx, cancel := readContext(cmd, defaultReadTimeout)
	defer cancel()

	req, err := joinRequest(ctx, cc, svc, args[0])
	if err != nil {
		return err
	}
	if err := reportErrors(cmd, cc, svc.ValidateYieldJoin(ctx, req)); err != nil {
		return err
	}
	return output.FormatSuccess(cmd.OutOrStdout(), "join request is valid", cc.format())
}

func runJoinPath(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.EarningService()
	if err != nil {
		return err
	}
	ctx, cancel := readContext(cmd, defaultReadTimeout)
	defer cancel()

	req, err := joinRequest(ctx, cc, svc, args[0])
	if err != nil {
		return err
	}
	path, err := svc.GenerateOptimalSteps(ctx, req)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if cc.format() == output.FormatJSON {
		return output.WriteJSON(w, path)
	}
	dir, err := cc.Directory()
	if err != nil {
		return err
	}
	return renderYieldPath(w, dir, path)
}

func runJoinBuild(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	svc, err := cc.EarningService()
	if err != nil {
		return err
	}
	ctx, cancel := readContext(cmd, defaultReadTimeout)
	defer cancel()

	req, err := joinRequest(ctx, cc, svc, args[0])
	if err != nil {
		return err
	}
	if err := reportErrors(cmd, cc, svc.ValidateYieldJoin(ctx, req)); err != nil {
		return err
	}
	payload, err := svc.HandleYieldJoin(ctx, req)
	if err != nil {
		return err
	}
	return writePayload(cmd, cc, payload)
}

// writePayload prints an unsigned transaction.
func writePayload(cmd *cobra.Command, cc *CommandContext, p *core.TransactionPayload) error {
	w := cmd.OutOrStdout()
	return cc.emit(w, p, func(w io.Writer) error {
		renderPayload(w, p)
		return nil
	})
}
