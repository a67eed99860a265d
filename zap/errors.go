package zap

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-zap-go/chains"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2/calculator"
)

// The deposit error taxonomy. Collaborator errors are surfaced unchanged, so
// these match with errors.Is regardless of which ledger produced them.
var (
	ErrPoolNotFound          = uniswapv2.ErrPoolNotFound
	ErrPoolEmpty             = uniswapv2.ErrPoolEmpty
	ErrArithmeticOverflow    = uniswapv2.ErrArithmeticOverflow
	ErrIdenticalTokens       = uniswapv2.ErrIdenticalTokens
	ErrZeroAddress           = uniswapv2.ErrZeroAddress
	ErrTokenMismatch         = uniswapv2.ErrTokenMismatch
	ErrInsufficientBalance   = chains.ErrInsufficientBalance
	ErrInsufficientAllowance = chains.ErrInsufficientAllowance
	ErrInvalidAmount         = calculator.ErrInvalidAmount
	ErrNilAmount             = calculator.ErrNilAmount
	ErrInvalidFee            = calculator.ErrInvalidFee

	// ErrSlippageExceeded is matched by every *SlippageError.
	ErrSlippageExceeded = errors.New("slippage exceeded")
	// ErrUnwindFailed is joined to a deposit error when held tokens could not be returned to the caller.
	ErrUnwindFailed = errors.New("unwind failed")
)

// SlippageError reports a swap whose realized output fell below the minimum
// derived from the plan's expected output.
type SlippageError struct {
	Expected *big.Int
	Minimum  *big.Int
	Realized *big.Int
	// Err is the pool's own rejection, if the pool enforced the bound.
	Err error
}

func (e *SlippageError) Error() string {
	realized := "unknown"
	if e.Realized != nil {
		realized = e.Realized.String()
	}
	return fmt.Sprintf("%s: expected %s, minimum %s, realized %s", ErrSlippageExceeded, e.Expected, e.Minimum, realized)
}

func (e *SlippageError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSlippageExceeded}
	}
	return []error{ErrSlippageExceeded, e.Err}
}
