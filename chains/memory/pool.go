package memory

import (
	"context"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-zap-go/chains"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2/calculator"
)

// Swap implements chains.PoolExecutor. The pair pulls AmountIn from Sender
// against the allowance Sender granted the pair, then pays Recipient.
// Nothing moves when the output would fall below MinAmountOut.
func (l *Ledger) Swap(_ context.Context, req chains.SwapRequest) (*big.Int, error) {
	if err := checkAmount(req.AmountIn); err != nil {
		return nil, err
	}
	if req.AmountIn.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero swap input", calculator.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.poolIndex.GetByAddress(req.Pair)
	if !ok {
		return nil, fmt.Errorf("%w: %s", uniswapv2.ErrPoolNotFound, req.Pair.Hex())
	}

	amountOut, next, err := calculator.SimulateSwap(req.AmountIn, req.TokenIn, req.TokenOut, pool)
	if err != nil {
		return nil, fmt.Errorf("swap on %s: %w", req.Pair.Hex(), err)
	}

	minOut := req.MinAmountOut
	if minOut == nil {
		minOut = new(big.Int)
	}
	if amountOut.Sign() == 0 || amountOut.Cmp(minOut) < 0 {
		return nil, &chains.SwapOutputError{AmountOut: amountOut, MinAmountOut: new(big.Int).Set(minOut)}
	}

	if err := l.checkPull(req.TokenIn, req.Pair, req.Sender, req.AmountIn); err != nil {
		return nil, err
	}
	l.pull(req.TokenIn, req.Pair, req.Sender, req.Pair, req.AmountIn)
	l.move(req.TokenOut, req.Pair, req.Recipient, amountOut)

	next.BlockTimestampLast = l.timestamp()
	if err := l.apply(uniswapv2.PoolSetDiff{Updates: []uniswapv2.Pool{next}}); err != nil {
		return nil, err
	}

	l.logger.Debug("swap executed",
		"pair", req.Pair.Hex(),
		"tokenIn", req.TokenIn.Hex(),
		"amountIn", req.AmountIn,
		"amountOut", amountOut,
	)
	return amountOut, nil
}

// AddLiquidity implements chains.PoolExecutor. The deposit is sized at the
// pair's current ratio; the unpaired remainder never leaves Sender.
func (l *Ledger) AddLiquidity(_ context.Context, req chains.AddLiquidityRequest) (chains.AddLiquidityResult, error) {
	if err := checkAmount(req.AmountADesired); err != nil {
		return chains.AddLiquidityResult{}, err
	}
	if err := checkAmount(req.AmountBDesired); err != nil {
		return chains.AddLiquidityResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.poolIndex.GetByAddress(req.Pair)
	if !ok {
		return chains.AddLiquidityResult{}, fmt.Errorf("%w: %s", uniswapv2.ErrPoolNotFound, req.Pair.Hex())
	}
	reserveA, reserveB, err := calculator.GetReserves(req.TokenA, req.TokenB, pool)
	if err != nil {
		return chains.AddLiquidityResult{}, err
	}

	amountA, amountB, err := calculator.OptimalDepositAmounts(req.AmountADesired, req.AmountBDesired, reserveA, reserveB)
	if err != nil {
		return chains.AddLiquidityResult{}, fmt.Errorf("size deposit on %s: %w", req.Pair.Hex(), err)
	}

	supply, ok := l.supply[req.Pair]
	if !ok {
		supply = new(big.Int)
	}
	liquidity, err := calculator.LiquidityMinted(amountA, amountB, reserveA, reserveB, supply)
	if err != nil {
		return chains.AddLiquidityResult{}, fmt.Errorf("deposit %s/%s on %s: %w", amountA, amountB, req.Pair.Hex(), err)
	}
	if req.MinLiquidity != nil && liquidity.Cmp(req.MinLiquidity) < 0 {
		return chains.AddLiquidityResult{}, fmt.Errorf("%w: would mint %s, want at least %s", calculator.ErrInsufficientLiquidityMinted, liquidity, req.MinLiquidity)
	}

	if err := l.checkPull(req.TokenA, req.Pair, req.Sender, amountA); err != nil {
		return chains.AddLiquidityResult{}, err
	}
	if err := l.checkPull(req.TokenB, req.Pair, req.Sender, amountB); err != nil {
		return chains.AddLiquidityResult{}, err
	}
	l.pull(req.TokenA, req.Pair, req.Sender, req.Pair, amountA)
	l.pull(req.TokenB, req.Pair, req.Sender, req.Pair, amountB)

	l.credit(req.Pair, req.Recipient, liquidity)
	l.supply[req.Pair] = new(big.Int).Add(supply, liquidity)

	next := pool.Copy()
	if pool.Token0 == req.TokenA {
		next.Reserve0.Add(next.Reserve0, amountA)
		next.Reserve1.Add(next.Reserve1, amountB)
	} else {
		next.Reserve0.Add(next.Reserve0, amountB)
		next.Reserve1.Add(next.Reserve1, amountA)
	}
	next.BlockTimestampLast = l.timestamp()
	if err := l.apply(uniswapv2.PoolSetDiff{Updates: []uniswapv2.Pool{next}}); err != nil {
		return chains.AddLiquidityResult{}, err
	}

	l.logger.Debug("liquidity added",
		"pair", req.Pair.Hex(),
		"amountA", amountA,
		"amountB", amountB,
		"liquidity", liquidity,
	)

	return chains.AddLiquidityResult{
		Liquidity: liquidity,
		AmountA:   amountA,
		AmountB:   amountB,
		LeftoverA: new(big.Int).Sub(req.AmountADesired, amountA),
		LeftoverB: new(big.Int).Sub(req.AmountBDesired, amountB),
	}, nil
}
