package reserves

import (
	"context"
	"errors"
	"fmt"

	"github.com/defistate/defistate-zap-go/chains"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2/calculator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ReservePair is a pool's reserves oriented to a caller's (tokenIn, tokenOut).
type ReservePair struct {
	Pair               common.Address `json:"pair"`
	TokenIn            common.Address `json:"tokenIn"`
	TokenOut           common.Address `json:"tokenOut"`
	ReserveIn          *uint256.Int   `json:"reserveIn"`
	ReserveOut         *uint256.Int   `json:"reserveOut"`
	FeeBps             uint16         `json:"feeBps"`
	BlockTimestampLast uint32         `json:"blockTimestampLast"`
}

// Canonical returns the pair with the lower-addressed token first, the way the pool stores it.
func (r ReservePair) Canonical() (tokenA, tokenB common.Address, reserveA, reserveB *uint256.Int) {
	if uniswapv2.NewPairKey(r.TokenIn, r.TokenOut).Token0 == r.TokenIn {
		return r.TokenIn, r.TokenOut, r.ReserveIn, r.ReserveOut
	}
	return r.TokenOut, r.TokenIn, r.ReserveOut, r.ReserveIn
}

// Pool returns the snapshot as a canonical pool, for use with the calculator.
func (r ReservePair) Pool() uniswapv2.Pool {
	token0, token1, reserve0, reserve1 := r.Canonical()
	return uniswapv2.Pool{
		Address:            r.Pair,
		Token0:             token0,
		Token1:             token1,
		Reserve0:           reserve0.ToBig(),
		Reserve1:           reserve1.ToBig(),
		FeeBps:             r.FeeBps,
		BlockTimestampLast: r.BlockTimestampLast,
	}
}

// Reader takes reserve snapshots through a registry and a pool reader.
type Reader struct {
	registry chains.PoolRegistry
	pools    chains.PoolReader
	logger   chains.Logger
}

// NewReader returns a Reader. All arguments are required.
func NewReader(registry chains.PoolRegistry, pools chains.PoolReader, logger chains.Logger) (*Reader, error) {
	if registry == nil {
		return nil, errors.New("reserves: registry cannot be nil")
	}
	if pools == nil {
		return nil, errors.New("reserves: pool reader cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("reserves: logger cannot be nil")
	}
	return &Reader{registry: registry, pools: pools, logger: logger}, nil
}

// Snapshot returns the current reserves of the pool serving tokenIn and tokenOut.
// Argument order does not affect which pool is read, only the orientation of the result.
// It fails with uniswapv2.ErrPoolNotFound when no pool serves the pair and with
// uniswapv2.ErrPoolEmpty when either reserve is zero.
func (r *Reader) Snapshot(ctx context.Context, tokenIn, tokenOut common.Address) (ReservePair, error) {
	token0, token1, err := uniswapv2.SortTokens(tokenIn, tokenOut)
	if err != nil {
		return ReservePair{}, fmt.Errorf("snapshot %s/%s: %w", tokenIn.Hex(), tokenOut.Hex(), err)
	}

	pair, err := r.registry.GetPair(ctx, token0, token1)
	if err != nil {
		return ReservePair{}, fmt.Errorf("resolve pair %s/%s: %w", token0.Hex(), token1.Hex(), err)
	}
	if pair == (common.Address{}) {
		return ReservePair{}, fmt.Errorf("%w: %s/%s", uniswapv2.ErrPoolNotFound, token0.Hex(), token1.Hex())
	}

	pool, err := r.pools.GetReserves(ctx, pair)
	if err != nil {
		return ReservePair{}, fmt.Errorf("read reserves of %s: %w", pair.Hex(), err)
	}
	if pool.Token0 != token0 || pool.Token1 != token1 {
		return ReservePair{}, fmt.Errorf("%w: pair %s holds %s/%s", uniswapv2.ErrTokenMismatch, pair.Hex(), pool.Token0.Hex(), pool.Token1.Hex())
	}
	if pool.IsEmpty() {
		return ReservePair{}, fmt.Errorf("%w: pair %s", uniswapv2.ErrPoolEmpty, pair.Hex())
	}

	reserveIn, reserveOut, err := calculator.GetReserves(tokenIn, tokenOut, pool)
	if err != nil {
		return ReservePair{}, err
	}
	in, overflow := uint256.FromBig(reserveIn)
	if overflow {
		return ReservePair{}, fmt.Errorf("%w: reserve %s of pair %s", uniswapv2.ErrArithmeticOverflow, reserveIn, pair.Hex())
	}
	out, overflow := uint256.FromBig(reserveOut)
	if overflow {
		return ReservePair{}, fmt.Errorf("%w: reserve %s of pair %s", uniswapv2.ErrArithmeticOverflow, reserveOut, pair.Hex())
	}

	r.logger.Debug("reserve snapshot",
		"pair", pair.Hex(),
		"reserveIn", in.Dec(),
		"reserveOut", out.Dec(),
		"feeBps", pool.FeeBps,
	)

	return ReservePair{
		Pair:               pair,
		TokenIn:            tokenIn,
		TokenOut:           tokenOut,
		ReserveIn:          in,
		ReserveOut:         out,
		FeeBps:             pool.FeeBps,
		BlockTimestampLast: pool.BlockTimestampLast,
	}, nil
}
