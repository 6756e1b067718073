package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammScope/internal/chain"
	"ammScope/internal/config"
	"ammScope/internal/fixedpoint"
	"ammScope/internal/mirror"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print a deployed pool's state and compare local quotes",
		RunE:  runState,
	}

	cmd.Flags().String("rpc", "", "RPC URL")
	cmd.Flags().String("pool", "", "deployed AMM address")
	cmd.Flags().StringSlice("holder", nil, "share holders to look up (comma-separated)")
	cmd.Flags().Uint64("block", 0, "block number, 0 means latest")
	cmd.Flags().String("quote-in", "", "amount to quote in both directions, in tokens (e.g. 1.5)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

type stateOutput struct {
	Pool          string            `json:"pool"`
	Block         uint64            `json:"block"`
	Token1        string            `json:"token1"`
	Token2        string            `json:"token2"`
	Token1Balance string            `json:"token1_balance"`
	Token2Balance string            `json:"token2_balance"`
	Held1         string            `json:"token1_held"`
	Held2         string            `json:"token2_held"`
	K             string            `json:"k"`
	KMatches      bool              `json:"k_matches"`
	TotalShares   string            `json:"total_shares"`
	Unattributed  string            `json:"unattributed_shares"`
	Shares        map[string]string `json:"shares,omitempty"`
	Price1        string            `json:"token1_price,omitempty"`
	Price2        string            `json:"token2_price,omitempty"`
	Quotes        []quoteOutput     `json:"quotes,omitempty"`
}

type quoteOutput struct {
	Given    string `json:"given"`
	AmountIn string `json:"amount_in"`
	Local    string `json:"local"`
	Chain    string `json:"chain"`
	Match    bool   `json:"match"`
}

func runState(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadState(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	pool, err := config.ParseAddress("pool", cfg.Pool)
	if err != nil {
		return err
	}
	holders, err := config.ParseAddresses(cfg.Holders)
	if err != nil {
		return err
	}
	var quoteIn *uint256.Int
	if cfg.QuoteIn != "" {
		if quoteIn, err = fixedpoint.Parse(cfg.QuoteIn); err != nil {
			return fmt.Errorf("parse quote-in: %w", err)
		}
	}

	ctx, stop := signalContext()
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	logger.Info("state start",
		zap.String("pool", pool.Hex()),
		zap.Int("holders", len(holders)),
		zap.Uint64("block", cfg.Block),
	)

	report, err := mirror.New(chainClient, pool, logger).Report(ctx, holders, cfg.Block, quoteIn)
	if err != nil {
		return err
	}

	out := stateOutput{
		Pool:          pool.Hex(),
		Block:         cfg.Block,
		Token1:        report.Token1.Label(),
		Token2:        report.Token2.Label(),
		Token1Balance: fixedpoint.Format(report.State.Token1Balance),
		Token2Balance: fixedpoint.Format(report.State.Token2Balance),
		Held1:         fixedpoint.Format(report.Held1),
		Held2:         fixedpoint.Format(report.Held2),
		K:             fixedpoint.Units(report.ChainK),
		KMatches:      report.ChainK.Eq(report.LocalK),
		TotalShares:   fixedpoint.Format(report.State.TotalShares),
		Unattributed:  fixedpoint.Format(report.Unattributed),
		Price1:        report.Price1,
		Price2:        report.Price2,
	}
	if len(report.State.Shares) > 0 {
		out.Shares = make(map[string]string, len(report.State.Shares))
		for holder, shares := range report.State.Shares {
			out.Shares[holder.Hex()] = fixedpoint.Format(shares)
		}
	}
	for _, q := range report.Quotes {
		label := report.Token1.Label()
		if q.Given == report.State.Token2 {
			label = report.Token2.Label()
		}
		out.Quotes = append(out.Quotes, quoteOutput{
			Given:    label,
			AmountIn: fixedpoint.Format(q.AmountIn),
			Local:    formatQuote(q.Local, q.LocalErr),
			Chain:    formatQuote(q.Chain, q.ChainErr),
			Match:    q.Match(),
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatQuote(v *uint256.Int, err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return fixedpoint.Format(v)
}
