package calculator

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	uniswapv2 "github.com/defistate/defistate-zap-go/protocols/uniswapv2"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// Uint256Bits is the width every intermediate value must fit in for the
	// arithmetic to match what a pair contract computes.
	Uint256Bits = 256

	// MaxFeeBps is the exclusive upper bound for a pool fee.
	MaxFeeBps = 10000
)

var (
	// basisPointDivisor is a constant representing 100% in basis points (10000).
	basisPointDivisor = big.NewInt(10000)

	ten     = big.NewInt(10)
	hundred = big.NewInt(100)

	// MinimumLiquidity is permanently locked by a pair on its first mint.
	MinimumLiquidity = big.NewInt(1000)

	// precomputed 10^dec for typical ERC20 decimals (0..18)
	precomputedScales [19]*big.Int

	bigIntPool = sync.Pool{
		New: func() any {
			return new(big.Int)
		},
	}

	// ErrInvalidAmount is returned when an input/output amount is negative or zero where a positive value is required.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrNilAmount is returned when a nil pointer is passed for an amount.
	ErrNilAmount = errors.New("nil pointer passed as amount")
	// ErrInvalidFee is returned when a fee is 100% or more.
	ErrInvalidFee = errors.New("fee must be below 10000 bps")
	// ErrInvalidState is returned for internal calculation errors, like division by zero.
	ErrInvalidState = errors.New("invalid internal state")
	// ErrInsufficientLiquidity is returned when an amountOut is requested that is greater than or equal to the available reserve.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for swap")
	// ErrInsufficientLiquidityMinted is returned when a deposit would mint no liquidity tokens.
	ErrInsufficientLiquidityMinted = errors.New("insufficient liquidity minted")
)

func init() {
	precomputedScales[0] = big.NewInt(1)
	for i := 1; i < len(precomputedScales); i++ {
		precomputedScales[i] = new(big.Int).Mul(precomputedScales[i-1], ten)
	}
}

// getBig grabs a *big.Int from the pool and zeros it.
func getBig() *big.Int {
	b := bigIntPool.Get().(*big.Int)
	b.SetUint64(0)
	return b
}

// putBig returns a *big.Int to the pool.
func putBig(b *big.Int) {
	if b != nil {
		bigIntPool.Put(b)
	}
}

// GetScaledDecimal returns 10^dec. It returns a *big.Int that MUST NOT be modified.
func GetScaledDecimal(dec uint8) *big.Int {
	if int(dec) < len(precomputedScales) {
		return precomputedScales[dec]
	}
	return new(big.Int).Exp(ten, big.NewInt(int64(dec)), nil)
}

// CheckWidth returns ErrArithmeticOverflow if any value needs more than maxBits bits.
func CheckWidth(maxBits int, values ...*big.Int) error {
	for _, v := range values {
		if v.BitLen() > maxBits {
			return fmt.Errorf("%w: %d-bit value exceeds %d-bit width", uniswapv2.ErrArithmeticOverflow, v.BitLen(), maxBits)
		}
	}
	return nil
}

// FeeMultiplier returns 10000 - feeBps, the share of the input that reaches the curve.
func FeeMultiplier(feeBps uint16) (*big.Int, error) {
	if feeBps >= MaxFeeBps {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFee, feeBps)
	}
	return big.NewInt(int64(MaxFeeBps - int64(feeBps))), nil
}

// Calculator holds reusable big.Int objects to avoid memory allocations during calculations.
// Instances of this struct are NOT safe for concurrent use by themselves.
// They are intended to be managed by the sync.Pool below.
type Calculator struct {
	feeMultiplier   *big.Int
	amountInWithFee *big.Int
	numerator       *big.Int
	denominator     *big.Int

	numeratorIn   *big.Int
	denominatorIn *big.Int

	newReserve0 *big.Int
	newReserve1 *big.Int
}

var calculatorPool = sync.Pool{
	New: func() any {
		return &Calculator{
			feeMultiplier:   new(big.Int),
			amountInWithFee: new(big.Int),
			numerator:       new(big.Int),
			denominator:     new(big.Int),
			numeratorIn:     new(big.Int),
			denominatorIn:   new(big.Int),
			newReserve0:     new(big.Int),
			newReserve1:     new(big.Int),
		}
	},
}

// AmountOut applies the fee-adjusted constant-product rule to raw reserves:
//
//	amountOut = amountIn*(10000-fee)*reserveOut / (reserveIn*10000 + amountIn*(10000-fee))
//
// Empty reserves yield zero. Products wider than 256 bits are reported as
// ErrArithmeticOverflow, as the pair contract would revert on them.
func AmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint16) (*big.Int, error) {
	calc := calculatorPool.Get().(*Calculator)
	defer calculatorPool.Put(calc)
	return calc.amountOut(amountIn, reserveIn, reserveOut, feeBps)
}

// GetAmountOut calculates the output amount for a swap through the pool.
func GetAmountOut(
	amountIn *big.Int,
	tokenIn common.Address,
	tokenOut common.Address,
	pool uniswapv2.Pool,
) (*big.Int, error) {
	if amountIn == nil {
		return nil, ErrNilAmount
	}
	if amountIn.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	reserveIn, reserveOut, err := GetReserves(tokenIn, tokenOut, pool)
	if err != nil {
		return nil, err
	}
	return AmountOut(amountIn, reserveIn, reserveOut, pool.FeeBps)
}

// GetAmountIn calculates the required input amount for a desired output.
func GetAmountIn(
	amountOut *big.Int,
	tokenIn common.Address,
	tokenOut common.Address,
	pool uniswapv2.Pool,
) (*big.Int, error) {
	calc := calculatorPool.Get().(*Calculator)
	defer calculatorPool.Put(calc)
	return calc.getAmountIn(amountOut, tokenIn, tokenOut, pool)
}

// SimulateSwap calculates the result of a swap and the pool state after it.
func SimulateSwap(
	amountIn *big.Int,
	tokenIn common.Address,
	tokenOut common.Address,
	pool uniswapv2.Pool,
) (*big.Int, uniswapv2.Pool, error) {
	calc := calculatorPool.Get().(*Calculator)
	defer calculatorPool.Put(calc)
	return calc.simulateSwap(amountIn, tokenIn, tokenOut, pool)
}

func (c *Calculator) amountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint16) (*big.Int, error) {
	if amountIn == nil || reserveIn == nil || reserveOut == nil {
		return nil, ErrNilAmount
	}
	if amountIn.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int), nil
	}

	if feeBps >= MaxFeeBps {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFee, feeBps)
	}
	c.feeMultiplier.SetInt64(MaxFeeBps - int64(feeBps))
	c.amountInWithFee.Mul(amountIn, c.feeMultiplier)
	c.numerator.Mul(reserveOut, c.amountInWithFee)
	c.denominator.Mul(reserveIn, basisPointDivisor)
	c.denominator.Add(c.denominator, c.amountInWithFee)

	if err := CheckWidth(Uint256Bits, c.numerator, c.denominator); err != nil {
		return nil, err
	}
	if c.denominator.Sign() == 0 {
		return nil, fmt.Errorf("%w: pool denominator is zero", ErrInvalidState)
	}

	return new(big.Int).Div(c.numerator, c.denominator), nil
}

func (c *Calculator) getAmountIn(
	amountOut *big.Int,
	tokenIn common.Address,
	tokenOut common.Address,
	pool uniswapv2.Pool,
) (*big.Int, error) {
	if amountOut == nil {
		return nil, ErrNilAmount
	}
	if amountOut.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	reserveIn, reserveOut, err := GetReserves(tokenIn, tokenOut, pool)
	if err != nil {
		return nil, err
	}

	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: requested amountOut (%s) is >= reserveOut (%s)", ErrInsufficientLiquidity, amountOut.String(), reserveOut.String())
	}
	if pool.FeeBps >= MaxFeeBps {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFee, pool.FeeBps)
	}

	c.numeratorIn.Mul(reserveIn, amountOut)
	c.numeratorIn.Mul(c.numeratorIn, basisPointDivisor)

	c.feeMultiplier.SetInt64(MaxFeeBps - int64(pool.FeeBps))
	c.denominatorIn.Sub(reserveOut, amountOut)
	c.denominatorIn.Mul(c.denominatorIn, c.feeMultiplier)

	if c.denominatorIn.Sign() == 0 {
		return nil, fmt.Errorf("%w: pool denominator is zero", ErrInvalidState)
	}

	// amountIn = (reserveIn * amountOut * 10000) / ((reserveOut - amountOut) * (10000 - fee)) + 1
	amountIn := new(big.Int).Div(c.numeratorIn, c.denominatorIn)
	return amountIn.Add(amountIn, big.NewInt(1)), nil
}

func (c *Calculator) simulateSwap(
	amountIn *big.Int,
	tokenIn common.Address,
	tokenOut common.Address,
	pool uniswapv2.Pool,
) (*big.Int, uniswapv2.Pool, error) {
	reserveIn, reserveOut, err := GetReserves(tokenIn, tokenOut, pool)
	if err != nil {
		return nil, uniswapv2.Pool{}, err
	}
	amountOut, err := c.amountOut(amountIn, reserveIn, reserveOut, pool.FeeBps)
	if err != nil {
		return nil, uniswapv2.Pool{}, err
	}

	newPoolState := pool

	if tokenIn == pool.Token0 {
		c.newReserve0.Add(pool.Reserve0, amountIn)
		c.newReserve1.Sub(pool.Reserve1, amountOut)
	} else { // tokenIn == pool.Token1
		c.newReserve1.Add(pool.Reserve1, amountIn)
		c.newReserve0.Sub(pool.Reserve0, amountOut)
	}

	newPoolState.Reserve0 = new(big.Int).Set(c.newReserve0)
	newPoolState.Reserve1 = new(big.Int).Set(c.newReserve1)

	return amountOut, newPoolState, nil
}

// GetReserves returns the reserves for the given token pair, oriented as (in, out).
func GetReserves(tokenIn, tokenOut common.Address, pool uniswapv2.Pool) (reserveIn, reserveOut *big.Int, err error) {
	if tokenIn == pool.Token0 && tokenOut == pool.Token1 {
		return pool.Reserve0, pool.Reserve1, nil
	} else if tokenIn == pool.Token1 && tokenOut == pool.Token0 {
		return pool.Reserve1, pool.Reserve0, nil
	}
	return nil, nil, fmt.Errorf("%w: pool %s does not contain the pair %s -> %s", uniswapv2.ErrTokenMismatch, pool.Address.Hex(), tokenIn.Hex(), tokenOut.Hex())
}

// Quote returns the amount of B that pairs with amountA at the current reserve ratio,
// rounded down, as a V2 router does when sizing a deposit.
func Quote(amountA, reserveA, reserveB *big.Int) (*big.Int, error) {
	if amountA == nil || reserveA == nil || reserveB == nil {
		return nil, ErrNilAmount
	}
	if amountA.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if reserveA.Sign() <= 0 || reserveB.Sign() <= 0 {
		return nil, uniswapv2.ErrPoolEmpty
	}
	q := new(big.Int).Mul(amountA, reserveB)
	return q.Div(q, reserveA), nil
}

// OptimalDepositAmounts sizes a deposit the way a V2 router does: it keeps all of one
// side and pairs it with the quoted amount of the other, whichever fits the budgets.
func OptimalDepositAmounts(amountADesired, amountBDesired, reserveA, reserveB *big.Int) (amountA, amountB *big.Int, err error) {
	if amountADesired == nil || amountBDesired == nil || reserveA == nil || reserveB == nil {
		return nil, nil, ErrNilAmount
	}
	if reserveA.Sign() == 0 && reserveB.Sign() == 0 {
		return new(big.Int).Set(amountADesired), new(big.Int).Set(amountBDesired), nil
	}

	amountBOptimal, err := Quote(amountADesired, reserveA, reserveB)
	if err != nil {
		return nil, nil, err
	}
	if amountBOptimal.Cmp(amountBDesired) <= 0 {
		return new(big.Int).Set(amountADesired), amountBOptimal, nil
	}

	amountAOptimal, err := Quote(amountBDesired, reserveB, reserveA)
	if err != nil {
		return nil, nil, err
	}
	return amountAOptimal, new(big.Int).Set(amountBDesired), nil
}

// LiquidityMinted returns the liquidity tokens a pair mints for a deposit.
// The first deposit mints sqrt(a*b) - MinimumLiquidity; later deposits mint
// min(a*supply/reserveA, b*supply/reserveB).
func LiquidityMinted(amountA, amountB, reserveA, reserveB, totalSupply *big.Int) (*big.Int, error) {
	if amountA == nil || amountB == nil || reserveA == nil || reserveB == nil || totalSupply == nil {
		return nil, ErrNilAmount
	}
	if amountA.Sign() < 0 || amountB.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	var liquidity *big.Int
	if totalSupply.Sign() == 0 {
		liquidity = new(big.Int).Mul(amountA, amountB)
		liquidity.Sqrt(liquidity)
		liquidity.Sub(liquidity, MinimumLiquidity)
	} else {
		if reserveA.Sign() <= 0 || reserveB.Sign() <= 0 {
			return nil, uniswapv2.ErrPoolEmpty
		}
		fromA := new(big.Int).Mul(amountA, totalSupply)
		fromA.Div(fromA, reserveA)
		fromB := new(big.Int).Mul(amountB, totalSupply)
		fromB.Div(fromB, reserveB)
		liquidity = fromA
		if fromB.Cmp(fromA) < 0 {
			liquidity = fromB
		}
	}

	if liquidity.Sign() <= 0 {
		return nil, ErrInsufficientLiquidityMinted
	}
	return liquidity, nil
}

// ApplySlippage returns the minimum acceptable output for a tolerance in basis points:
// amount * (10000 - slippageBps) / 10000. A tolerance of 100% or more yields zero.
func ApplySlippage(amount *big.Int, slippageBps uint16) *big.Int {
	if amount == nil || slippageBps >= MaxFeeBps {
		return new(big.Int)
	}
	minOut := new(big.Int).Mul(amount, big.NewInt(int64(MaxFeeBps-int64(slippageBps))))
	return minOut.Div(minOut, basisPointDivisor)
}

// GetExchangeRate returns how much of tokenOut one whole unit of tokenIn buys,
// sampled with 1% of the input-side reserve so the result includes fee and price impact.
func GetExchangeRate(
	tokenIn, tokenOut common.Address,
	decimalsIn uint8,
	pool uniswapv2.Pool,
) (*big.Int, error) {
	amountIn := getBig()
	temp := getBig()

	defer func() {
		putBig(amountIn)
		putBig(temp)
	}()

	reserveIn, _, err := GetReserves(tokenIn, tokenOut, pool)
	if err != nil {
		return nil, err
	}
	if reserveIn.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero reserve for %s", uniswapv2.ErrPoolEmpty, tokenIn.Hex())
	}
	amountIn.Div(reserveIn, hundred)

	if amountIn.Sign() == 0 {
		return nil, errors.New("computed amountIn is zero")
	}

	amountOut, err := GetAmountOut(amountIn, tokenIn, tokenOut, pool)
	if err != nil {
		return nil, err
	}

	temp.Mul(GetScaledDecimal(decimalsIn), amountOut)

	// final result must NOT come from pool
	return new(big.Int).Div(temp, amountIn), nil
}
