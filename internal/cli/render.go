package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mrz1836/harvest/internal/chain"
	core "github.com/mrz1836/harvest/internal/earning"
	"github.com/mrz1836/harvest/internal/output"
	"github.com/mrz1836/harvest/internal/swap"
)

// out is a helper for CLI output that ignores write errors.
//
//nolint:errcheck // CLI output writes to stdout are intentionally unchecked
func out(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}

// outln is a helper for CLI output with newline.
//
//nolint:errcheck // CLI output writes to stdout are intentionally unchecked
func outln(w io.Writer, args ...any) {
	fmt.Fprintln(w, args...)
}

// formatAmount renders base units in the token's decimals. Unknown assets
// fall back to the raw integer.
func formatAmount(assets chain.AssetSource, slug string, b chain.Balance) string {
	if assets == nil {
		return b.String()
	}
	a, err := assets.Asset(slug)
	if err != nil {
		return b.String()
	}
	return chain.FormatBalance(b, a.Decimals, a.Symbol)
}

func formatPercent(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64) + "%"
}

func poolRow(assets chain.AssetSource, p *core.YieldPoolInfo) []string {
	if p.IsLoading() {
		return []string{p.Slug, string(p.Chain), string(p.Type), "loading", "-", "-", "-"}
	}
	st := p.Statistic
	apy := st.TotalAPY
	if apy == nil {
		apy = st.TotalAPR
	}
	return []string{
		p.Slug,
		string(p.Chain),
		string(p.Type),
		strconv.FormatUint(uint64(st.Era), 10),
		formatPercent(apy),
		formatAmount(assets, p.Metadata.InputAsset, st.EarningThreshold.Join),
		formatAmount(assets, p.Metadata.InputAsset, st.TVL),
	}
}

func renderPools(w io.Writer, assets chain.AssetSource, pools []*core.YieldPoolInfo) error {
	if len(pools) == 0 {
		outln(w, "No pools found.")
		return nil
	}
	t := output.NewTable("SLUG", "CHAIN", "TYPE", "ERA", "APY", "MIN JOIN", "TVL").Right(3, 4, 5, 6)
	for _, p := range pools {
		t.AddRow(poolRow(assets, p)...)
	}
	return t.Render(w)
}

func poolLine(assets chain.AssetSource, p *core.YieldPoolInfo) string {
	row := poolRow(assets, p)
	return strings.Join(row[:5], "  ")
}

func renderPositions(w io.Writer, assets chain.AssetSource, positions []*core.YieldPositionInfo) error {
	if len(positions) == 0 {
		outln(w, "No positions found.")
		return nil
	}
	t := output.NewTable("ADDRESS", "SLUG", "STATUS", "ACTIVE", "UNSTAKING", "TOTAL").Right(3, 4, 5)
	for _, p := range positions {
		t.AddRow(
			shortAddress(p.Address),
			p.Slug,
			string(p.Status),
			formatAmount(assets, p.BalanceToken, p.ActiveStake),
			formatAmount(assets, p.BalanceToken, p.UnstakeBalance),
			formatAmount(assets, p.BalanceToken, p.TotalStake),
		)
	}
	return t.Render(w)
}

func positionLine(assets chain.AssetSource, p *core.YieldPositionInfo) string {
	return fmt.Sprintf("%s  %s  %s  %s", shortAddress(p.Address), p.Slug, p.Status,
		formatAmount(assets, p.BalanceToken, p.TotalStake))
}

// renderRewards lists non-zero unclaimed rewards. JSON output keeps every entry.
func renderRewards(w io.Writer, pools map[string]string, assets chain.AssetSource, rewards []core.EarningRewardItem) error {
	t := output.NewTable("ADDRESS", "SLUG", "UNCLAIMED").Right(2)
	for _, r := range rewards {
		if r.UnclaimedReward.IsZero() {
			continue
		}
		t.AddRow(shortAddress(r.Address), r.Slug, formatAmount(assets, pools[r.Slug], r.UnclaimedReward))
	}
	if t.Len() == 0 {
		outln(w, "No unclaimed rewards.")
		return nil
	}
	return t.Render(w)
}

func renderTargets(w io.Writer, assets chain.AssetSource, token string, targets []core.ValidatorInfo) error {
	if len(targets) == 0 {
		outln(w, "No targets found.")
		return nil
	}
	t := output.NewTable("ADDRESS", "IDENTITY", "COMMISSION", "TOTAL STAKE", "NOMINATORS", "FLAGS").Right(2, 3, 4)
	for _, v := range targets {
		t.AddRow(
			shortAddress(v.Address),
			v.Identity,
			strconv.FormatFloat(v.Commission, 'f', 2, 64)+"%",
			formatAmount(assets, token, v.TotalStake),
			strconv.Itoa(v.NominatorCount),
			targetFlags(v),
		)
	}
	return t.Render(w)
}

func targetFlags(v core.ValidatorInfo) string {
	var flags []string
	if v.IsVerified {
		flags = append(flags, "verified")
	}
	if v.IsCrowded {
		flags = append(flags, "crowded")
	}
	if v.Blocked {
		flags = append(flags, "blocked")
	}
	if v.TopQuartile {
		flags = append(flags, "top")
	}
	return strings.Join(flags, ",")
}

func renderYieldPath(w io.Writer, assets chain.AssetSource, path *core.OptimalYieldPath) error {
	t := output.NewTable("STEP", "NAME", "TYPE", "FEE").Right(0, 3)
	for i, s := range path.Steps {
		fee := "-"
		if i < len(path.TotalFee) {
			fee = renderYieldFee(assets, path.TotalFee[i])
		}
		t.AddRow(strconv.Itoa(s.ID), s.Name, string(s.Type), fee)
	}
	return t.Render(w)
}

func renderYieldFee(assets chain.AssetSource, f core.FeeInfo) string {
	if f.Amount.IsZero() {
		return "0"
	}
	return formatAmount(assets, f.Slug, f.Amount)
}

func renderPayload(w io.Writer, p *core.TransactionPayload) {
	out(w, "Chain:     %s\n", p.Chain)
	out(w, "Address:   %s\n", p.Address)
	out(w, "Type:      %s\n", p.Type)
	if p.Extrinsic != nil {
		out(w, "Extrinsic: %s\n", p.Extrinsic.String())
	}
	if p.FeeToken.Slug != "" {
		out(w, "Fee token: %s\n", p.FeeToken.Slug)
	}
}

func renderQuotes(w io.Writer, assets chain.AssetSource, resp *swap.QuoteResponse) error {
	t := output.NewTable("", "PROVIDER", "RECEIVE", "RATE", "ROUTE", "VALID UNTIL").Right(2, 3)
	for _, q := range resp.Quotes {
		mark := ""
		if resp.OptimalQuote != nil && q.Provider.ID == resp.OptimalQuote.Provider.ID {
			mark = "*"
		}
		t.AddRow(
			mark,
			q.Provider.Name,
			formatAmount(assets, q.Pair.To, q.ToAmount),
			strconv.FormatFloat(q.Rate, 'f', 6, 64),
			strings.Join(q.Route.Path, " > "),
			formatMillis(q.AliveUntil),
		)
	}
	return t.Render(w)
}

func renderProcess(w io.Writer, assets chain.AssetSource, p *swap.Process) error {
	t := output.NewTable("STEP", "NAME", "TYPE", "FEE").Right(0, 3)
	for i, s := range p.Steps {
		fee := "-"
		if i < len(p.TotalFee) {
			fee = renderSwapFee(assets, p.TotalFee[i])
		}
		t.AddRow(strconv.Itoa(s.ID), s.Name, string(s.Type), fee)
	}
	return t.Render(w)
}

func renderSwapFee(assets chain.AssetSource, f swap.FeeInfo) string {
	if len(f.FeeComponent) == 0 {
		return "0"
	}
	parts := make([]string, 0, len(f.FeeComponent))
	for _, c := range f.FeeComponent {
		parts = append(parts, formatAmount(assets, c.TokenSlug, c.Amount))
	}
	return strings.Join(parts, " + ")
}

// formatMillis renders a unix millisecond timestamp in local time.
func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.TimeOnly)
}

// shortAddress keeps table columns narrow.
func shortAddress(addr string) string {
	if len(addr) <= 16 {
		return addr
	}
	return addr[:8] + "..." + addr[len(addr)-6:]
}
