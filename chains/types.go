package chains

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	uniswapv2 "github.com/defistate/defistate-zap-go/protocols/uniswapv2"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned by a token ledger when an account cannot cover a transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientAllowance is returned by a token ledger when a spender's allowance cannot cover a transfer.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	// ErrInsufficientOutputAmount is returned by a pool when a swap pays less than the requested minimum.
	ErrInsufficientOutputAmount = errors.New("insufficient output amount")
	// ErrReadOnly is returned by ledgers that can observe state but not change it.
	ErrReadOnly = errors.New("ledger is read-only")
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PoolRegistry resolves the pair serving two tokens, in either order.
// It returns uniswapv2.ErrPoolNotFound when no pair exists.
type PoolRegistry interface {
	GetPair(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error)
}

// PoolReader reads the current state of a pair.
type PoolReader interface {
	GetReserves(ctx context.Context, pair common.Address) (uniswapv2.Pool, error)
}

// PoolExecutor moves tokens through a pair. Tokens are pulled from the
// request's Sender against allowances granted to the pair.
type PoolExecutor interface {
	// Swap sells AmountIn of TokenIn and pays the output to Recipient.
	// It fails with a *SwapOutputError when the output is below MinAmountOut.
	Swap(ctx context.Context, req SwapRequest) (*big.Int, error)
	// AddLiquidity deposits at the pair's current ratio and mints liquidity tokens to Recipient.
	// Whatever cannot be paired stays with Sender.
	AddLiquidity(ctx context.Context, req AddLiquidityRequest) (AddLiquidityResult, error)
}

// TokenReader is the read side of an ERC-20 token ledger.
type TokenReader interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// TokenLedger moves ERC-20 balances between accounts.
type TokenLedger interface {
	TokenReader
	Approve(ctx context.Context, token, owner, spender common.Address, amount *big.Int) error
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error
}

// SwapRequest describes a single exact-input swap through a pair.
type SwapRequest struct {
	Pair         common.Address
	Sender       common.Address
	Recipient    common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
}

// AddLiquidityRequest describes a two-sided deposit into a pair.
type AddLiquidityRequest struct {
	Pair           common.Address
	Sender         common.Address
	Recipient      common.Address
	TokenA         common.Address
	TokenB         common.Address
	AmountADesired *big.Int
	AmountBDesired *big.Int
	MinLiquidity   *big.Int
}

// AddLiquidityResult reports what a deposit consumed and minted.
// Leftovers are the desired amounts the pair did not take.
type AddLiquidityResult struct {
	Liquidity *big.Int
	AmountA   *big.Int
	AmountB   *big.Int
	LeftoverA *big.Int
	LeftoverB *big.Int
}

// SwapOutputError is returned when a swap would pay less than its minimum.
type SwapOutputError struct {
	AmountOut    *big.Int
	MinAmountOut *big.Int
}

func (e *SwapOutputError) Error() string {
	return fmt.Sprintf("%s: got %s, want at least %s", ErrInsufficientOutputAmount, e.AmountOut, e.MinAmountOut)
}

func (e *SwapOutputError) Unwrap() error {
	return ErrInsufficientOutputAmount
}
