// Package zap deposits a single asset into a two-asset constant-product pool.
//
// A deposit pulls the caller's tokens into the orchestrator account, swaps
// the planned share for the counter asset, adds both sides as liquidity with
// the liquidity tokens minted straight to the caller, and returns whatever
// the pool did not take. On any failure the orchestrator hands everything it
// received back to the caller before returning.
package zap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/defistate/defistate-zap-go/chains"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2/calculator"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2/reserves"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2/solver"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultSlippageToleranceBps is the default gap allowed between planned and realized swap output.
const DefaultSlippageToleranceBps uint16 = 50

// Path names a deposit strategy.
type Path string

const (
	// PathOptimal swaps the solver's amount so both sides match the post-swap ratio.
	PathOptimal Path = "optimal"
	// PathSubOptimal swaps half the input, as a baseline.
	PathSubOptimal Path = "suboptimal"
)

// Config holds the collaborators of a Zapper. Every field is required.
type Config struct {
	Registry   chains.PoolRegistry
	Reader     chains.PoolReader
	Executor   chains.PoolExecutor
	Tokens     chains.TokenLedger
	Account    common.Address // the orchestrator's own address
	Logger     chains.Logger
	Registerer prometheus.Registerer
}

func (c *Config) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Reader == nil {
		return errors.New("config: Reader cannot be nil")
	}
	if c.Executor == nil {
		return errors.New("config: Executor cannot be nil")
	}
	if c.Tokens == nil {
		return errors.New("config: Tokens cannot be nil")
	}
	if c.Account == (common.Address{}) {
		return errors.New("config: Account cannot be the zero address")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registerer == nil {
		return errors.New("config: Registerer cannot be nil")
	}
	return nil
}

// Option configures a Zapper.
type Option interface {
	apply(*Zapper)
}

type funcOption func(*Zapper)

func (f funcOption) apply(z *Zapper) {
	f(z)
}

func newOption(f func(*Zapper)) Option {
	return funcOption(f)
}

// WithSlippageToleranceBps sets how far below the planned output a swap may
// land before the deposit is aborted.
func WithSlippageToleranceBps(bps uint16) Option {
	return newOption(func(z *Zapper) {
		z.slippageBps = bps
	})
}

// WithSolver replaces the default solver, e.g. to change its width.
func WithSolver(s *solver.Solver) Option {
	return newOption(func(z *Zapper) {
		if s != nil {
			z.solver = s
		}
	})
}

// Zapper runs single-sided deposits through one orchestrator account.
// Deposits are serialized: the unwind returns everything the account holds
// above its pre-request balance, so two requests must never share it at once.
// Plan takes no lock.
type Zapper struct {
	mu sync.Mutex

	reader   *reserves.Reader
	executor chains.PoolExecutor
	tokens   chains.TokenLedger
	account  common.Address
	logger   chains.Logger
	metrics  *Metrics

	solver      *solver.Solver
	slippageBps uint16
}

// New builds a Zapper from cfg.
func New(cfg Config, opts ...Option) (*Zapper, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	reader, err := reserves.NewReader(cfg.Registry, cfg.Reader, cfg.Logger)
	if err != nil {
		return nil, err
	}

	z := &Zapper{
		reader:      reader,
		executor:    cfg.Executor,
		tokens:      cfg.Tokens,
		account:     cfg.Account,
		logger:      cfg.Logger,
		solver:      solver.New(),
		slippageBps: DefaultSlippageToleranceBps,
	}
	for _, opt := range opts {
		opt.apply(z)
	}
	if z.slippageBps >= calculator.MaxFeeBps {
		return nil, fmt.Errorf("slippage tolerance must be below %d bps, got %d", calculator.MaxFeeBps, z.slippageBps)
	}
	z.metrics = NewMetrics(cfg.Registerer)
	return z, nil
}

// DepositRequest asks to deposit AmountIn of TokenIn into the TokenIn/TokenOut pool.
// Caller must have approved the orchestrator account for AmountIn of TokenIn.
type DepositRequest struct {
	Caller   common.Address
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
}

// DepositResult reports a finished deposit. Side A is TokenIn and side B is
// TokenOut. Leftovers were returned to the caller.
type DepositResult struct {
	Path           Path
	Pair           common.Address
	Snapshot       reserves.ReservePair
	Plan           solver.SwapPlan
	AmountOut      *big.Int
	AmountAUsed    *big.Int
	AmountBUsed    *big.Int
	LPTokensMinted *big.Int
	LeftoverA      *big.Int
	LeftoverB      *big.Int
}

// Plan snapshots the pool and returns the swap plan a deposit on path would execute.
func (z *Zapper) Plan(ctx context.Context, path Path, tokenIn, tokenOut common.Address, amountIn *big.Int) (reserves.ReservePair, solver.SwapPlan, error) {
	if amountIn == nil {
		return reserves.ReservePair{}, solver.SwapPlan{}, ErrNilAmount
	}
	if amountIn.Sign() <= 0 {
		return reserves.ReservePair{}, solver.SwapPlan{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amountIn)
	}
	amount, overflow := uint256.FromBig(amountIn)
	if overflow {
		return reserves.ReservePair{}, solver.SwapPlan{}, fmt.Errorf("%w: amountIn %s", ErrArithmeticOverflow, amountIn)
	}

	snap, err := z.reader.Snapshot(ctx, tokenIn, tokenOut)
	if err != nil {
		return reserves.ReservePair{}, solver.SwapPlan{}, err
	}

	var plan solver.SwapPlan
	switch path {
	case PathOptimal:
		plan, err = z.solver.Solve(amount, snap.ReserveIn, snap.ReserveOut, snap.FeeBps)
	case PathSubOptimal:
		plan, err = z.solver.SplitHalf(amount, snap.ReserveIn, snap.ReserveOut, snap.FeeBps)
	default:
		err = fmt.Errorf("unknown deposit path %q", path)
	}
	if err != nil {
		return reserves.ReservePair{}, solver.SwapPlan{}, err
	}
	return snap, plan, nil
}

// OptimalDeposit deposits with the swap sized so that nothing beyond rounding dust is left unpaired.
func (z *Zapper) OptimalDeposit(ctx context.Context, req DepositRequest) (DepositResult, error) {
	return z.deposit(ctx, PathOptimal, req)
}

// SubOptimalDeposit swaps half the input before depositing. The unpaired
// remainder can be large and is returned to the caller.
func (z *Zapper) SubOptimalDeposit(ctx context.Context, req DepositRequest) (DepositResult, error) {
	return z.deposit(ctx, PathSubOptimal, req)
}

func (z *Zapper) deposit(ctx context.Context, path Path, req DepositRequest) (result DepositResult, err error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	start := time.Now()
	outcome := outcomeError
	defer func() {
		z.metrics.depositDuration.WithLabelValues(string(path)).Observe(time.Since(start).Seconds())
		z.metrics.deposits.WithLabelValues(string(path), outcome).Inc()
	}()

	snap, plan, err := z.Plan(ctx, path, req.TokenIn, req.TokenOut, req.AmountIn)
	if err != nil {
		return DepositResult{}, err
	}

	result = DepositResult{
		Path:     path,
		Pair:     snap.Pair,
		Snapshot: snap,
		Plan:     plan,
	}

	baseIn, err := z.tokens.BalanceOf(ctx, req.TokenIn, z.account)
	if err != nil {
		return DepositResult{}, fmt.Errorf("read orchestrator balance: %w", err)
	}
	baseOut, err := z.tokens.BalanceOf(ctx, req.TokenOut, z.account)
	if err != nil {
		return DepositResult{}, fmt.Errorf("read orchestrator balance: %w", err)
	}
	h := &holdings{
		z:        z,
		caller:   req.Caller,
		pair:     snap.Pair,
		tokenIn:  req.TokenIn,
		tokenOut: req.TokenOut,
		baseIn:   baseIn,
		baseOut:  baseOut,
	}

	if err := z.tokens.TransferFrom(ctx, req.TokenIn, z.account, req.Caller, z.account, req.AmountIn); err != nil {
		return DepositResult{}, fmt.Errorf("pull %s from caller %s: %w", req.AmountIn, req.Caller.Hex(), err)
	}

	// From here on the orchestrator holds the caller's tokens; every return
	// path goes through the refund.
	defer func() {
		leftoverIn, leftoverOut, uerr := h.refund(context.WithoutCancel(ctx))
		if uerr != nil {
			z.logger.Error("failed to return held tokens", "caller", req.Caller.Hex(), "pair", snap.Pair.Hex(), "error", uerr)
			err = errors.Join(err, fmt.Errorf("%w: %w", ErrUnwindFailed, uerr))
			result = DepositResult{}
			outcome = outcomeError
			return
		}
		if err != nil {
			result = DepositResult{}
			return
		}
		result.LeftoverA = leftoverIn
		result.LeftoverB = leftoverOut
	}()

	if plan.IsDegenerate() {
		z.logger.Warn("plan leaves one side empty, returning input",
			"path", path,
			"pair", snap.Pair.Hex(),
			"amountIn", req.AmountIn,
			"amountToSwap", plan.AmountToSwap.Dec(),
			"expectedAmountOut", plan.ExpectedAmountOut.Dec(),
		)
		result.AmountOut = new(big.Int)
		result.AmountAUsed = new(big.Int)
		result.AmountBUsed = new(big.Int)
		result.LPTokensMinted = new(big.Int)
		outcome = outcomeDegenerate
		return result, nil
	}

	amountToSwap := plan.AmountToSwap.ToBig()
	expected := plan.ExpectedAmountOut.ToBig()
	minOut := calculator.ApplySlippage(expected, z.slippageBps)

	if err := z.tokens.Approve(ctx, req.TokenIn, z.account, snap.Pair, amountToSwap); err != nil {
		return DepositResult{}, fmt.Errorf("approve swap input: %w", err)
	}
	realized, err := z.executor.Swap(ctx, chains.SwapRequest{
		Pair:         snap.Pair,
		Sender:       z.account,
		Recipient:    z.account,
		TokenIn:      req.TokenIn,
		TokenOut:     req.TokenOut,
		AmountIn:     amountToSwap,
		MinAmountOut: minOut,
	})
	if err != nil {
		var outErr *chains.SwapOutputError
		if errors.As(err, &outErr) {
			outcome = outcomeSlippage
			z.metrics.slippageAborts.Inc()
			z.logger.Warn("swap rejected below slippage bound", "pair", snap.Pair.Hex(), "expected", expected, "minimum", minOut, "realized", outErr.AmountOut)
			return DepositResult{}, &SlippageError{Expected: expected, Minimum: minOut, Realized: outErr.AmountOut, Err: err}
		}
		return DepositResult{}, fmt.Errorf("swap %s on %s: %w", amountToSwap, snap.Pair.Hex(), err)
	}
	if realized == nil || realized.Cmp(minOut) < 0 {
		outcome = outcomeSlippage
		z.metrics.slippageAborts.Inc()
		z.logger.Warn("swap output below slippage bound", "pair", snap.Pair.Hex(), "expected", expected, "minimum", minOut, "realized", realized)
		return DepositResult{}, &SlippageError{Expected: expected, Minimum: minOut, Realized: realized}
	}
	result.AmountOut = realized

	amountToKeep := plan.AmountToKeep().ToBig()
	if err := z.tokens.Approve(ctx, req.TokenIn, z.account, snap.Pair, amountToKeep); err != nil {
		return DepositResult{}, fmt.Errorf("approve deposit of %s: %w", req.TokenIn.Hex(), err)
	}
	if err := z.tokens.Approve(ctx, req.TokenOut, z.account, snap.Pair, realized); err != nil {
		return DepositResult{}, fmt.Errorf("approve deposit of %s: %w", req.TokenOut.Hex(), err)
	}

	added, err := z.executor.AddLiquidity(ctx, chains.AddLiquidityRequest{
		Pair:           snap.Pair,
		Sender:         z.account,
		Recipient:      req.Caller,
		TokenA:         req.TokenIn,
		TokenB:         req.TokenOut,
		AmountADesired: amountToKeep,
		AmountBDesired: realized,
		MinLiquidity:   new(big.Int),
	})
	if err != nil {
		return DepositResult{}, fmt.Errorf("add liquidity %s/%s on %s: %w", amountToKeep, realized, snap.Pair.Hex(), err)
	}

	result.AmountAUsed = added.AmountA
	result.AmountBUsed = added.AmountB
	result.LPTokensMinted = added.Liquidity
	outcome = outcomeSuccess

	z.logger.Info("deposit complete",
		"path", path,
		"pair", snap.Pair.Hex(),
		"caller", req.Caller.Hex(),
		"amountIn", req.AmountIn,
		"amountToSwap", amountToSwap,
		"amountOut", realized,
		"lpTokens", added.Liquidity,
		"leftoverA", added.LeftoverA,
		"leftoverB", added.LeftoverB,
	)
	return result, nil
}

// holdings tracks what the orchestrator holds on behalf of one caller.
type holdings struct {
	z                 *Zapper
	caller, pair      common.Address
	tokenIn, tokenOut common.Address
	baseIn, baseOut   *big.Int
}

// refund sends everything above the pre-deposit balances back to the caller
// and clears the pair's allowances.
func (h *holdings) refund(ctx context.Context) (refundIn, refundOut *big.Int, err error) {
	refundIn, errIn := h.returnExcess(ctx, h.tokenIn, h.baseIn)
	refundOut, errOut := h.returnExcess(ctx, h.tokenOut, h.baseOut)
	if err := errors.Join(errIn, errOut); err != nil {
		return nil, nil, err
	}
	return refundIn, refundOut, nil
}

func (h *holdings) returnExcess(ctx context.Context, token common.Address, base *big.Int) (*big.Int, error) {
	if err := h.z.tokens.Approve(ctx, token, h.z.account, h.pair, new(big.Int)); err != nil {
		return nil, fmt.Errorf("reset allowance of %s: %w", token.Hex(), err)
	}
	balance, err := h.z.tokens.BalanceOf(ctx, token, h.z.account)
	if err != nil {
		return nil, fmt.Errorf("read balance of %s: %w", token.Hex(), err)
	}
	excess := new(big.Int).Sub(balance, base)
	if excess.Sign() <= 0 {
		return new(big.Int), nil
	}
	if err := h.z.tokens.Transfer(ctx, token, h.z.account, h.caller, excess); err != nil {
		return nil, fmt.Errorf("return %s of %s to %s: %w", excess, token.Hex(), h.caller.Hex(), err)
	}
	return excess, nil
}
