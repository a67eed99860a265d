package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/defistate/defistate-zap-go/chains"
	"github.com/defistate/defistate-zap-go/chains/ethereum"
	"github.com/defistate/defistate-zap-go/chains/memory"
	"github.com/defistate/defistate-zap-go/cmd/zap/config"
	tokenregistry "github.com/defistate/defistate-zap-go/protocols/tokenregistry"
	tokenregistryindexer "github.com/defistate/defistate-zap-go/protocols/tokenregistry/indexer"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2/calculator"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2/reserves"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2/solver"
	"github.com/defistate/defistate-zap-go/zap"
)

// Accounts used by the simulated ledger.
var (
	liquidityProvider = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	depositor         = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	orchestrator      = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

const usage = `usage: zap [-config file] [-env file] <command> -in TOKEN -out TOKEN -amount AMOUNT

commands:
  quote      solve against live reserves read over JSON-RPC
  simulate   run both deposit paths against the pools in the config file

TOKEN is a configured symbol or a token address.`

func main() {
	rootLogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, rootLogger); err != nil {
		rootLogger.Error("zap failed", "error", err)
		stop()
		os.Exit(1)
	}
}

type depositArgs struct {
	in, out, amount string
}

func run(ctx context.Context, args []string, stdout io.Writer, logger *slog.Logger) error {
	flags := flag.NewFlagSet("zap", flag.ContinueOnError)
	configPath := flags.String("config", "config.yaml", "Path to the configuration file.")
	envPath := flags.String("env", ".env", "Path to an optional env file.")
	if err := flags.Parse(args); err != nil {
		return err
	}
	rest := flags.Args()
	if len(rest) == 0 {
		return errors.New(usage)
	}

	command := flag.NewFlagSet(rest[0], flag.ContinueOnError)
	var dargs depositArgs
	command.StringVar(&dargs.in, "in", "", "Token to deposit.")
	command.StringVar(&dargs.out, "out", "", "Other token of the pool.")
	command.StringVar(&dargs.amount, "amount", "", "Amount of -in, in whole tokens.")
	if err := command.Parse(rest[1:]); err != nil {
		return err
	}
	if dargs.in == "" || dargs.out == "" || dargs.amount == "" {
		return errors.New(usage)
	}

	if err := config.LoadEnv(*envPath); err != nil {
		return err
	}
	logger.Info("Loading configuration", "path", *configPath)
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	switch rest[0] {
	case "quote":
		return runQuote(ctx, cfg, dargs, stdout, logger)
	case "simulate":
		return runSimulate(ctx, cfg, dargs, stdout, logger)
	default:
		return fmt.Errorf("unknown command %q\n%s", rest[0], usage)
	}
}

func runQuote(ctx context.Context, cfg *config.ZapConfig, dargs depositArgs, stdout io.Writer, logger *slog.Logger) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("quote needs rpc_url or %s", config.EnvRPCURL)
	}
	opts := []ethereum.Option{ethereum.WithFeeBps(cfg.Fee())}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, ethereum.WithRateLimit(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond))))
	}
	client, err := ethereum.Dial(ctx, cfg.RPCURL, cfg.FactoryAddress(), logger.With("component", "ethereum-client"), prometheus.DefaultRegisterer, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	tokens := tokenregistryindexer.New().Index(cfg.TokenList())
	tokenIn, err := resolveToken(ctx, tokens, client.Token, dargs.in)
	if err != nil {
		return err
	}
	tokenOut, err := resolveToken(ctx, tokens, client.Token, dargs.out)
	if err != nil {
		return err
	}
	return quote(ctx, client, client, tokenIn, tokenOut, dargs.amount, cfg.Slippage(), stdout, logger)
}

// quote solves both paths against the current reserves without moving any tokens.
func quote(
	ctx context.Context,
	registry chains.PoolRegistry,
	pools chains.PoolReader,
	tokenIn, tokenOut tokenregistry.Token,
	amount string,
	slippageBps uint16,
	stdout io.Writer,
	logger *slog.Logger,
) error {
	amountIn, err := tokenIn.ParseAmount(amount)
	if err != nil {
		return err
	}
	a, overflow := uint256.FromBig(amountIn)
	if overflow {
		return fmt.Errorf("%w: amount %s", uniswapv2.ErrArithmeticOverflow, amount)
	}

	reader, err := reserves.NewReader(registry, pools, logger.With("component", "reserve-reader"))
	if err != nil {
		return err
	}
	snap, err := reader.Snapshot(ctx, tokenIn.Address, tokenOut.Address)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "pair\t%s\n", snap.Pair.Hex())
	fmt.Fprintf(w, "reserves\t%s %s / %s %s\n", tokenIn.FormatAmount(snap.ReserveIn.ToBig()), tokenIn.Symbol, tokenOut.FormatAmount(snap.ReserveOut.ToBig()), tokenOut.Symbol)
	fmt.Fprintf(w, "fee\t%d bps\n", snap.FeeBps)

	pool := snap.Pool()
	spot := "n/a"
	if r, err := calculator.GetExchangeRate(tokenIn.Address, tokenOut.Address, tokenIn.Decimals, pool); err != nil {
		logger.Warn("no exchange rate for pool", "pair", snap.Pair, "error", err)
	} else {
		spot = tokenOut.FormatAmount(r)
	}
	fmt.Fprintf(w, "rate\t1 %s = %s %s\n\n", tokenIn.Symbol, spot, tokenOut.Symbol)
	fmt.Fprintln(w, "PATH\tSWAP\tMIN SWAP\tEXPECTED OUT\tMIN OUT\tUNPAIRED IN\tUNPAIRED OUT")

	for _, path := range []zap.Path{zap.PathOptimal, zap.PathSubOptimal} {
		var plan solver.SwapPlan
		if path == zap.PathOptimal {
			plan, err = solver.Solve(a, snap.ReserveIn, snap.ReserveOut, snap.FeeBps)
		} else {
			plan, err = solver.SplitHalf(a, snap.ReserveIn, snap.ReserveOut, snap.FeeBps)
		}
		if err != nil {
			return fmt.Errorf("%s plan: %w", path, err)
		}
		unpairedIn, unpairedOut, err := unpaired(plan, snap)
		if err != nil {
			return fmt.Errorf("%s plan: %w", path, err)
		}
		expected := plan.ExpectedAmountOut.ToBig()
		// Smallest swap that still buys the expected output.
		minSwap := new(big.Int)
		if expected.Sign() > 0 {
			if minSwap, err = calculator.GetAmountIn(expected, tokenIn.Address, tokenOut.Address, pool); err != nil {
				return fmt.Errorf("%s plan: %w", path, err)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			path,
			tokenIn.FormatAmount(plan.AmountToSwap.ToBig()),
			tokenIn.FormatAmount(minSwap),
			tokenOut.FormatAmount(expected),
			tokenOut.FormatAmount(calculator.ApplySlippage(expected, slippageBps)),
			tokenIn.FormatAmount(unpairedIn),
			tokenOut.FormatAmount(unpairedOut),
		)
	}
	return w.Flush()
}

// unpaired returns what a router-style deposit of the plan would leave behind.
func unpaired(plan solver.SwapPlan, snap reserves.ReservePair) (*big.Int, *big.Int, error) {
	keep := plan.AmountToKeep().ToBig()
	out := plan.ExpectedAmountOut.ToBig()
	if keep.Sign() == 0 || out.Sign() == 0 {
		return keep, out, nil
	}
	postIn, postOut := plan.PostSwapReserves(snap.ReserveIn, snap.ReserveOut)
	usedIn, usedOut, err := calculator.OptimalDepositAmounts(keep, out, postIn.ToBig(), postOut.ToBig())
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Sub(keep, usedIn), new(big.Int).Sub(out, usedOut), nil
}

func runSimulate(ctx context.Context, cfg *config.ZapConfig, dargs depositArgs, stdout io.Writer, logger *slog.Logger) error {
	tokens := tokenregistryindexer.New().Index(cfg.TokenList())
	notListed := func(_ context.Context, addr common.Address) (tokenregistry.Token, error) {
		return tokenregistry.Token{}, fmt.Errorf("%w: %s is not listed in the config", memory.ErrUnknownToken, addr.Hex())
	}
	tokenIn, err := resolveToken(ctx, tokens, notListed, dargs.in)
	if err != nil {
		return err
	}
	tokenOut, err := resolveToken(ctx, tokens, notListed, dargs.out)
	if err != nil {
		return err
	}
	amountIn, err := tokenIn.ParseAmount(dargs.amount)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSWAP\tOUT\tUSED IN\tUSED OUT\tLP MINTED (BASE UNITS)\tRETURNED IN\tRETURNED OUT\tPOOL UPDATES")
	for _, path := range []zap.Path{zap.PathOptimal, zap.PathSubOptimal} {
		res, diff, err := simulate(ctx, cfg, path, tokenIn, tokenOut, amountIn, logger)
		if err != nil {
			return fmt.Errorf("%s deposit: %w", path, err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			path,
			tokenIn.FormatAmount(res.Plan.AmountToSwap.ToBig()),
			tokenOut.FormatAmount(res.AmountOut),
			tokenIn.FormatAmount(res.AmountAUsed),
			tokenOut.FormatAmount(res.AmountBUsed),
			res.LPTokensMinted,
			tokenIn.FormatAmount(res.LeftoverA),
			tokenOut.FormatAmount(res.LeftoverB),
			len(diff.Updates),
		)
	}
	return w.Flush()
}

// simulate runs one deposit on a fresh ledger seeded from the config and
// returns the result with the pool changes it caused.
func simulate(
	ctx context.Context,
	cfg *config.ZapConfig,
	path zap.Path,
	tokenIn, tokenOut tokenregistry.Token,
	amountIn *big.Int,
	logger *slog.Logger,
) (zap.DepositResult, uniswapv2.PoolSetDiff, error) {
	ledger, err := buildLedger(cfg, logger.With("component", "memory-ledger"))
	if err != nil {
		return zap.DepositResult{}, uniswapv2.PoolSetDiff{}, err
	}
	if err := ledger.Mint(tokenIn.Address, depositor, amountIn); err != nil {
		return zap.DepositResult{}, uniswapv2.PoolSetDiff{}, err
	}
	if err := ledger.Approve(ctx, tokenIn.Address, depositor, orchestrator, amountIn); err != nil {
		return zap.DepositResult{}, uniswapv2.PoolSetDiff{}, err
	}

	z, err := zap.New(zap.Config{
		Registry:   ledger,
		Reader:     ledger,
		Executor:   ledger,
		Tokens:     ledger,
		Account:    orchestrator,
		Logger:     logger.With("component", "zap", "path", path),
		Registerer: prometheus.NewRegistry(),
	}, zap.WithSlippageToleranceBps(cfg.Slippage()))
	if err != nil {
		return zap.DepositResult{}, uniswapv2.PoolSetDiff{}, err
	}

	before := ledger.Pools()
	req := zap.DepositRequest{Caller: depositor, TokenIn: tokenIn.Address, TokenOut: tokenOut.Address, AmountIn: amountIn}
	var res zap.DepositResult
	if path == zap.PathOptimal {
		res, err = z.OptimalDeposit(ctx, req)
	} else {
		res, err = z.SubOptimalDeposit(ctx, req)
	}
	if err != nil {
		return zap.DepositResult{}, uniswapv2.PoolSetDiff{}, err
	}
	return res, uniswapv2.Differ(before, ledger.Pools()), nil
}

func buildLedger(cfg *config.ZapConfig, logger *slog.Logger) (*memory.Ledger, error) {
	ledger := memory.NewLedger(logger, memory.WithFactory(cfg.FactoryAddress(), uniswapv2.PairInitCodeHash))
	for _, t := range cfg.TokenList() {
		ledger.RegisterToken(t)
	}
	tokens := ledger.Tokens()
	for i, p := range cfg.Pools {
		tokenA, okA := tokens.GetBySymbol(p.TokenA)
		tokenB, okB := tokens.GetBySymbol(p.TokenB)
		if !okA || !okB {
			return nil, fmt.Errorf("pools[%d]: unknown token", i)
		}
		reserveA, err := tokenA.ParseAmount(p.ReserveA)
		if err != nil {
			return nil, fmt.Errorf("pools[%d]: %w", i, err)
		}
		reserveB, err := tokenB.ParseAmount(p.ReserveB)
		if err != nil {
			return nil, fmt.Errorf("pools[%d]: %w", i, err)
		}
		if _, err := ledger.CreatePair(tokenA.Address, tokenB.Address, reserveA, reserveB, cfg.PoolFee(p), liquidityProvider); err != nil {
			return nil, fmt.Errorf("pools[%d]: %w", i, err)
		}
	}
	return ledger, nil
}

// resolveToken accepts a configured symbol or an address. Addresses missing
// from the config are looked up with fallback.
func resolveToken(
	ctx context.Context,
	tokens tokenregistryindexer.IndexedTokenSystem,
	fallback func(context.Context, common.Address) (tokenregistry.Token, error),
	s string,
) (tokenregistry.Token, error) {
	if common.IsHexAddress(s) {
		addr := common.HexToAddress(s)
		if t, ok := tokens.GetByAddress(addr); ok {
			return t, nil
		}
		return fallback(ctx, addr)
	}
	if t, ok := tokens.GetBySymbol(strings.TrimSpace(s)); ok {
		return t, nil
	}
	return tokenregistry.Token{}, fmt.Errorf("%w: no token with symbol %q in the config", memory.ErrUnknownToken, s)
}
