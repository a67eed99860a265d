package uniswapv2

import "errors"

var (
	// ErrPoolNotFound is returned when no pair exists for the requested tokens.
	ErrPoolNotFound = errors.New("pool not found")
	// ErrPoolEmpty is returned when either reserve of a pair is zero and no price is defined.
	ErrPoolEmpty = errors.New("pool is empty")
	// ErrArithmeticOverflow is returned when an intermediate value exceeds the permitted integer width.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	// ErrIdenticalTokens is returned when both sides of a pair are the same token.
	ErrIdenticalTokens = errors.New("identical token addresses")
	// ErrZeroAddress is returned when a token address is the zero address.
	ErrZeroAddress = errors.New("zero token address")
	// ErrTokenMismatch is returned when the specified tokens do not match the pool's tokens.
	ErrTokenMismatch = errors.New("token mismatch")
)
