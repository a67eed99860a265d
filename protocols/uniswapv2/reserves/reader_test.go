package reserves

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/defistate/defistate-zap-go/protocols/uniswapv2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenLow  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenHigh = common.HexToAddress("0x2000000000000000000000000000000000000002")
	pairAddr  = common.HexToAddress("0xaa00000000000000000000000000000000000001")
)

type stubRegistry struct {
	pairs map[uniswapv2.PairKey]common.Address
	err   error
	calls []uniswapv2.PairKey
}

func (s *stubRegistry) GetPair(_ context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	s.calls = append(s.calls, uniswapv2.PairKey{Token0: tokenA, Token1: tokenB})
	if s.err != nil {
		return common.Address{}, s.err
	}
	pair, ok := s.pairs[uniswapv2.NewPairKey(tokenA, tokenB)]
	if !ok {
		return common.Address{}, uniswapv2.ErrPoolNotFound
	}
	return pair, nil
}

type stubPools struct {
	pools map[common.Address]uniswapv2.Pool
}

func (s *stubPools) GetReserves(_ context.Context, pair common.Address) (uniswapv2.Pool, error) {
	p, ok := s.pools[pair]
	if !ok {
		return uniswapv2.Pool{}, errors.New("no such contract")
	}
	return p, nil
}

func newTestReader(t *testing.T, pool uniswapv2.Pool) (*Reader, *stubRegistry) {
	t.Helper()
	registry := &stubRegistry{pairs: map[uniswapv2.PairKey]common.Address{
		uniswapv2.NewPairKey(tokenLow, tokenHigh): pairAddr,
	}}
	pools := &stubPools{pools: map[common.Address]uniswapv2.Pool{pairAddr: pool}}
	reader, err := NewReader(registry, pools, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return reader, registry
}

func defaultPool() uniswapv2.Pool {
	return uniswapv2.Pool{
		Address:            pairAddr,
		Token0:             tokenLow,
		Token1:             tokenHigh,
		Reserve0:           big.NewInt(1_000_000),
		Reserve1:           big.NewInt(500_000),
		FeeBps:             30,
		BlockTimestampLast: 1700000000,
	}
}

func TestReader_Snapshot(t *testing.T) {
	t.Run("native orientation", func(t *testing.T) {
		reader, registry := newTestReader(t, defaultPool())

		snap, err := reader.Snapshot(context.Background(), tokenLow, tokenHigh)
		require.NoError(t, err)
		assert.Equal(t, pairAddr, snap.Pair)
		assert.Equal(t, uint64(1_000_000), snap.ReserveIn.Uint64())
		assert.Equal(t, uint64(500_000), snap.ReserveOut.Uint64())
		assert.Equal(t, uint16(30), snap.FeeBps)
		assert.Equal(t, uint32(1700000000), snap.BlockTimestampLast)

		// the registry always sees the canonical order
		require.Len(t, registry.calls, 1)
		assert.Equal(t, tokenLow, registry.calls[0].Token0)
	})

	t.Run("reversed orientation", func(t *testing.T) {
		reader, registry := newTestReader(t, defaultPool())

		snap, err := reader.Snapshot(context.Background(), tokenHigh, tokenLow)
		require.NoError(t, err)
		assert.Equal(t, tokenHigh, snap.TokenIn)
		assert.Equal(t, uint64(500_000), snap.ReserveIn.Uint64())
		assert.Equal(t, uint64(1_000_000), snap.ReserveOut.Uint64())

		require.Len(t, registry.calls, 1)
		assert.Equal(t, tokenLow, registry.calls[0].Token0)

		tokenA, tokenB, reserveA, reserveB := snap.Canonical()
		assert.Equal(t, tokenLow, tokenA)
		assert.Equal(t, tokenHigh, tokenB)
		assert.Equal(t, uint64(1_000_000), reserveA.Uint64())
		assert.Equal(t, uint64(500_000), reserveB.Uint64())

		pool := snap.Pool()
		want := defaultPool()
		assert.Equal(t, want.Address, pool.Address)
		assert.Equal(t, want.Token0, pool.Token0)
		assert.Equal(t, want.Token1, pool.Token1)
		assert.Zero(t, want.Reserve0.Cmp(pool.Reserve0))
		assert.Zero(t, want.Reserve1.Cmp(pool.Reserve1))
		assert.Equal(t, want.FeeBps, pool.FeeBps)
		assert.Equal(t, want.BlockTimestampLast, pool.BlockTimestampLast)
	})
}

func TestReader_SnapshotErrors(t *testing.T) {
	emptyIn := defaultPool()
	emptyIn.Reserve0 = big.NewInt(0)
	emptyOut := defaultPool()
	emptyOut.Reserve1 = big.NewInt(0)
	wrongTokens := defaultPool()
	wrongTokens.Token1 = common.HexToAddress("0x3000000000000000000000000000000000000003")
	tooWide := defaultPool()
	tooWide.Reserve0 = new(big.Int).Lsh(big.NewInt(1), 256)

	testCases := []struct {
		name        string
		pool        uniswapv2.Pool
		tokenIn     common.Address
		tokenOut    common.Address
		expectedErr error
	}{
		{name: "empty reserve0", pool: emptyIn, tokenIn: tokenLow, tokenOut: tokenHigh, expectedErr: uniswapv2.ErrPoolEmpty},
		{name: "empty reserve1", pool: emptyOut, tokenIn: tokenHigh, tokenOut: tokenLow, expectedErr: uniswapv2.ErrPoolEmpty},
		{name: "pool not found", pool: defaultPool(), tokenIn: tokenLow, tokenOut: common.HexToAddress("0x4000000000000000000000000000000000000004"), expectedErr: uniswapv2.ErrPoolNotFound},
		{name: "identical tokens", pool: defaultPool(), tokenIn: tokenLow, tokenOut: tokenLow, expectedErr: uniswapv2.ErrIdenticalTokens},
		{name: "zero address", pool: defaultPool(), tokenIn: common.Address{}, tokenOut: tokenLow, expectedErr: uniswapv2.ErrZeroAddress},
		{name: "pool serves other tokens", pool: wrongTokens, tokenIn: tokenLow, tokenOut: tokenHigh, expectedErr: uniswapv2.ErrTokenMismatch},
		{name: "reserve wider than 256 bits", pool: tooWide, tokenIn: tokenLow, tokenOut: tokenHigh, expectedErr: uniswapv2.ErrArithmeticOverflow},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reader, _ := newTestReader(t, tc.pool)
			_, err := reader.Snapshot(context.Background(), tc.tokenIn, tc.tokenOut)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.expectedErr)
		})
	}
}

func TestReader_RegistryFailure(t *testing.T) {
	reader, registry := newTestReader(t, defaultPool())
	boom := errors.New("rpc unavailable")
	registry.err = boom

	_, err := reader.Snapshot(context.Background(), tokenLow, tokenHigh)
	assert.ErrorIs(t, err, boom)
}

func TestNewReader_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewReader(nil, &stubPools{}, logger)
	assert.Error(t, err)
	_, err = NewReader(&stubRegistry{}, nil, logger)
	assert.Error(t, err)
	_, err = NewReader(&stubRegistry{}, &stubPools{}, nil)
	assert.Error(t, err)
}
