package solver

import (
	"github.com/holiman/uint256"
)

// SwapPlan describes how a single-sided amount is split before a deposit.
type SwapPlan struct {
	// AmountIn is the full single-sided amount supplied by the depositor.
	AmountIn *uint256.Int `json:"amountIn"`
	// AmountToSwap is the portion of AmountIn sold for the counter asset.
	AmountToSwap *uint256.Int `json:"amountToSwap"`
	// ExpectedAmountOut is what the pool pays for AmountToSwap at the snapshot reserves.
	ExpectedAmountOut *uint256.Int `json:"expectedAmountOut"`
}

// AmountToKeep is the part of AmountIn that is deposited without being swapped.
func (p SwapPlan) AmountToKeep() *uint256.Int {
	if p.AmountIn == nil {
		return new(uint256.Int)
	}
	if p.AmountToSwap == nil {
		return p.AmountIn.Clone()
	}
	return new(uint256.Int).Sub(p.AmountIn, p.AmountToSwap)
}

// IsDegenerate reports whether the plan leaves nothing to pair on one side.
func (p SwapPlan) IsDegenerate() bool {
	if p.AmountToSwap == nil || p.ExpectedAmountOut == nil {
		return true
	}
	return p.AmountToSwap.IsZero() || p.ExpectedAmountOut.IsZero() || p.AmountToKeep().IsZero()
}

// PostSwapReserves returns the pool reserves, oriented as (in, out), after the plan's swap executes.
func (p SwapPlan) PostSwapReserves(reserveIn, reserveOut *uint256.Int) (*uint256.Int, *uint256.Int) {
	in := new(uint256.Int).Add(reserveIn, p.AmountToSwap)
	out := new(uint256.Int).Sub(reserveOut, p.ExpectedAmountOut)
	return in, out
}
