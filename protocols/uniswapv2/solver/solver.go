// Package solver sizes the swap that turns a single-sided amount into a
// balanced constant-product deposit.
//
// Swapping s of amountIn A against reserves (Rin, Rout) leaves A-s unswapped
// and pays out(s). Requiring that pair to match the post-swap pool ratio,
//
//	(A - s) / out(s) = (Rin + s) / (Rout - out(s))
//
// reduces, with D = 10000 and F = D - feeBps, to the integer quadratic
//
//	F*s^2 + (D+F)*Rin*s - D*Rin*A = 0
//
// whose only non-negative root is
//
//	s = (isqrt(Rin*((D+F)^2*Rin + 4*F*D*A)) - (D+F)*Rin) / (2*F)
//
// Both the square root and the final division floor, so s is exactly the
// floor of the real root.
package solver

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/defistate/defistate-zap-go/protocols/uniswapv2"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2/calculator"
	"github.com/holiman/uint256"
)

// DefaultMaxWidthBits bounds every intermediate of the root computation.
// Reserves fit in 112 bits on a V2 pair, so with any 256-bit amountIn the
// discriminant stays below 2^400.
const DefaultMaxWidthBits = 512

var (
	ErrNilAmount          = calculator.ErrNilAmount
	ErrInvalidAmount      = calculator.ErrInvalidAmount
	ErrInvalidFee         = calculator.ErrInvalidFee
	ErrPoolEmpty          = uniswapv2.ErrPoolEmpty
	ErrArithmeticOverflow = uniswapv2.ErrArithmeticOverflow

	basisPoints = big.NewInt(calculator.MaxFeeBps)
	two         = big.NewInt(2)
	four        = big.NewInt(4)
)

// Solver computes swap plans. The zero value is not usable; construct with New.
// A Solver holds no mutable state and is safe for concurrent use.
type Solver struct {
	maxWidthBits int
}

// Option configures a Solver.
type Option interface {
	apply(*Solver)
}

type funcOption func(*Solver)

func (f funcOption) apply(s *Solver) {
	f(s)
}

func newOption(f func(*Solver)) Option {
	return funcOption(f)
}

// WithMaxWidthBits sets the widest intermediate the solver accepts before
// reporting ErrArithmeticOverflow. Values below 1 are ignored.
func WithMaxWidthBits(bits int) Option {
	return newOption(func(s *Solver) {
		if bits > 0 {
			s.maxWidthBits = bits
		}
	})
}

// New returns a Solver with the given options applied.
func New(opts ...Option) *Solver {
	s := &Solver{maxWidthBits: DefaultMaxWidthBits}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s
}

// MaxWidthBits returns the configured intermediate width.
func (sv *Solver) MaxWidthBits() int {
	return sv.maxWidthBits
}

var defaultSolver = New()

// Solve returns the optimal swap plan using the default width.
func Solve(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint16) (SwapPlan, error) {
	return defaultSolver.Solve(amountIn, reserveIn, reserveOut, feeBps)
}

// SplitHalf returns the naive plan that swaps half of amountIn, using the default width.
func SplitHalf(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint16) (SwapPlan, error) {
	return defaultSolver.SplitHalf(amountIn, reserveIn, reserveOut, feeBps)
}

// scratch holds reusable big.Int values for one root computation.
type scratch struct {
	a, rin          *big.Int
	f, dPlusF       *big.Int
	squared, linear *big.Int
	disc, root, s   *big.Int
	denominator     *big.Int
}

var scratchPool = sync.Pool{
	New: func() any {
		return &scratch{
			a:           new(big.Int),
			rin:         new(big.Int),
			f:           new(big.Int),
			dPlusF:      new(big.Int),
			squared:     new(big.Int),
			linear:      new(big.Int),
			disc:        new(big.Int),
			root:        new(big.Int),
			s:           new(big.Int),
			denominator: new(big.Int),
		}
	},
}

// Solve returns the plan whose unswapped remainder and swap output match the
// post-swap reserve ratio up to integer rounding. A plan that swaps nothing is
// a valid result.
func (sv *Solver) Solve(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint16) (SwapPlan, error) {
	if err := validate(amountIn, reserveIn, reserveOut, feeBps); err != nil {
		return SwapPlan{}, err
	}

	sc := scratchPool.Get().(*scratch)
	defer scratchPool.Put(sc)

	sc.a.SetBytes(amountIn.Bytes())
	sc.rin.SetBytes(reserveIn.Bytes())
	sc.f.SetInt64(calculator.MaxFeeBps - int64(feeBps))
	sc.dPlusF.Add(basisPoints, sc.f)

	// (D+F)^2 * Rin
	sc.squared.Mul(sc.dPlusF, sc.dPlusF)
	sc.squared.Mul(sc.squared, sc.rin)
	// 4 * F * D * A
	sc.linear.Mul(four, sc.f)
	sc.linear.Mul(sc.linear, basisPoints)
	sc.linear.Mul(sc.linear, sc.a)

	sc.disc.Add(sc.squared, sc.linear)
	sc.disc.Mul(sc.disc, sc.rin)
	if err := calculator.CheckWidth(sv.maxWidthBits, sc.squared, sc.linear, sc.disc); err != nil {
		return SwapPlan{}, fmt.Errorf("solving for amountIn %s: %w", amountIn.Dec(), err)
	}

	sc.root.Sqrt(sc.disc)
	// disc >= ((D+F)*Rin)^2, so the difference is never negative.
	sc.s.Mul(sc.dPlusF, sc.rin)
	sc.s.Sub(sc.root, sc.s)
	sc.denominator.Mul(two, sc.f)
	sc.s.Quo(sc.s, sc.denominator)

	if sc.s.Cmp(sc.a) > 0 {
		return SwapPlan{}, fmt.Errorf("%w: root %s exceeds amountIn %s", calculator.ErrInvalidState, sc.s.String(), amountIn.Dec())
	}

	amountToSwap, overflow := uint256.FromBig(sc.s)
	if overflow {
		return SwapPlan{}, fmt.Errorf("%w: root %s", ErrArithmeticOverflow, sc.s.String())
	}
	return sv.plan(amountIn, amountToSwap, reserveIn, reserveOut, feeBps)
}

// SplitHalf returns the baseline plan: swap floor(amountIn/2) with no regard
// for the post-swap ratio.
func (sv *Solver) SplitHalf(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint16) (SwapPlan, error) {
	if err := validate(amountIn, reserveIn, reserveOut, feeBps); err != nil {
		return SwapPlan{}, err
	}
	half := new(uint256.Int).Rsh(amountIn, 1)
	return sv.plan(amountIn, half, reserveIn, reserveOut, feeBps)
}

// plan prices amountToSwap exactly as the pool would.
func (sv *Solver) plan(amountIn, amountToSwap, reserveIn, reserveOut *uint256.Int, feeBps uint16) (SwapPlan, error) {
	out, err := calculator.AmountOut(amountToSwap.ToBig(), reserveIn.ToBig(), reserveOut.ToBig(), feeBps)
	if err != nil {
		return SwapPlan{}, fmt.Errorf("pricing swap of %s: %w", amountToSwap.Dec(), err)
	}
	expected, overflow := uint256.FromBig(out)
	if overflow {
		return SwapPlan{}, fmt.Errorf("%w: expected output %s", ErrArithmeticOverflow, out.String())
	}
	return SwapPlan{
		AmountIn:          amountIn.Clone(),
		AmountToSwap:      amountToSwap,
		ExpectedAmountOut: expected,
	}, nil
}

func validate(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint16) error {
	if amountIn == nil || reserveIn == nil || reserveOut == nil {
		return ErrNilAmount
	}
	if amountIn.IsZero() {
		return fmt.Errorf("%w: amountIn is zero", ErrInvalidAmount)
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return fmt.Errorf("%w: reserves %s/%s", ErrPoolEmpty, reserveIn.Dec(), reserveOut.Dec())
	}
	if feeBps >= calculator.MaxFeeBps {
		return fmt.Errorf("%w: got %d", ErrInvalidFee, feeBps)
	}
	return nil
}

// DustBound returns the most of each asset an optimal plan may leave unpaired
// after a router-style deposit at the post-swap reserves: 2*ceil(Rin'/Rout')+2
// of the input asset and 2*ceil(Rout'/Rin')+2 of the output asset. The bound
// holds for amountIn <= reserveIn.
func DustBound(plan SwapPlan, reserveIn, reserveOut *uint256.Int) (dustIn, dustOut *uint256.Int, err error) {
	if plan.AmountToSwap == nil || plan.ExpectedAmountOut == nil || reserveIn == nil || reserveOut == nil {
		return nil, nil, ErrNilAmount
	}
	if plan.ExpectedAmountOut.Cmp(reserveOut) >= 0 {
		return nil, nil, fmt.Errorf("%w: plan drains reserveOut %s", ErrPoolEmpty, reserveOut.Dec())
	}
	in, out := plan.PostSwapReserves(reserveIn, reserveOut)
	return ratioDust(in, out), ratioDust(out, in), nil
}

// ratioDust returns 2*ceil(num/den)+2.
func ratioDust(num, den *uint256.Int) *uint256.Int {
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(num, den, r)
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	q.Lsh(q, 1)
	return q.AddUint64(q, 2)
}
