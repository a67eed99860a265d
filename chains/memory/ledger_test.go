package memory

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/defistate/defistate-zap-go/chains"
	tokenregistry "github.com/defistate/defistate-zap-go/protocols/tokenregistry"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2/calculator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	dai   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	weth  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	alice = common.HexToAddress("0xA11CE00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xB0B0000000000000000000000000000000000002")

	fixedTime = time.Unix(1700000000, 0)
)

func newTestLedger(t *testing.T) (*Ledger, common.Address) {
	t.Helper()
	l := NewLedger(slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(func() time.Time { return fixedTime }))
	l.RegisterToken(tokenregistry.Token{Address: dai, Symbol: "DAI", Decimals: 18})
	l.RegisterToken(tokenregistry.Token{Address: weth, Symbol: "WETH", Decimals: 18})

	pool, err := l.CreatePair(dai, weth, big.NewInt(1_000_000), big.NewInt(500_000), 30, bob)
	require.NoError(t, err)
	return l, pool.Address
}

func balance(t *testing.T, l *Ledger, token, account common.Address) int64 {
	t.Helper()
	b, err := l.BalanceOf(context.Background(), token, account)
	require.NoError(t, err)
	return b.Int64()
}

func TestLedger_CreatePair(t *testing.T) {
	l, pair := newTestLedger(t)

	expected, err := uniswapv2.PairFor(uniswapv2.MainnetFactory, dai, weth, uniswapv2.PairInitCodeHash)
	require.NoError(t, err)
	assert.Equal(t, expected, pair)

	assert.Equal(t, int64(707106), l.TotalSupply(pair).Int64())
	assert.Equal(t, int64(706106), balance(t, l, pair, bob))
	assert.Equal(t, int64(1000), balance(t, l, pair, common.Address{}))
	assert.Equal(t, int64(1_000_000), balance(t, l, dai, pair))
	assert.Equal(t, int64(500_000), balance(t, l, weth, pair))

	got, err := l.GetPair(context.Background(), weth, dai)
	require.NoError(t, err)
	assert.Equal(t, pair, got)

	pool, err := l.GetReserves(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, dai, pool.Token0)
	assert.Equal(t, uint32(fixedTime.Unix()), pool.BlockTimestampLast)

	_, err = l.CreatePair(weth, dai, big.NewInt(1), big.NewInt(1), 30, bob)
	assert.ErrorIs(t, err, ErrPairExists)

	_, err = l.GetPair(context.Background(), dai, alice)
	assert.ErrorIs(t, err, uniswapv2.ErrPoolNotFound)
}

func TestLedger_Tokens(t *testing.T) {
	l, pair := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Mint(dai, alice, big.NewInt(100)))

	t.Run("transfer", func(t *testing.T) {
		require.NoError(t, l.Transfer(ctx, dai, alice, bob, big.NewInt(40)))
		assert.Equal(t, int64(60), balance(t, l, dai, alice))
		assert.Equal(t, int64(40), balance(t, l, dai, bob))

		err := l.Transfer(ctx, dai, alice, bob, big.NewInt(61))
		assert.ErrorIs(t, err, chains.ErrInsufficientBalance)
		assert.Equal(t, int64(60), balance(t, l, dai, alice))
	})

	t.Run("transferFrom consumes allowance", func(t *testing.T) {
		err := l.TransferFrom(ctx, dai, bob, alice, bob, big.NewInt(10))
		assert.ErrorIs(t, err, chains.ErrInsufficientAllowance)

		require.NoError(t, l.Approve(ctx, dai, alice, bob, big.NewInt(25)))
		require.NoError(t, l.TransferFrom(ctx, dai, bob, alice, bob, big.NewInt(10)))

		left, err := l.Allowance(ctx, dai, alice, bob)
		require.NoError(t, err)
		assert.Equal(t, int64(15), left.Int64())
		assert.Equal(t, int64(50), balance(t, l, dai, alice))
	})

	t.Run("zero transfer without allowance", func(t *testing.T) {
		require.NoError(t, l.TransferFrom(ctx, weth, bob, alice, bob, big.NewInt(0)))
	})

	t.Run("invalid amounts", func(t *testing.T) {
		assert.ErrorIs(t, l.Transfer(ctx, dai, alice, bob, nil), calculator.ErrNilAmount)
		assert.ErrorIs(t, l.Approve(ctx, dai, alice, bob, big.NewInt(-1)), calculator.ErrInvalidAmount)
	})

	t.Run("decimals", func(t *testing.T) {
		d, err := l.Decimals(ctx, dai)
		require.NoError(t, err)
		assert.Equal(t, uint8(18), d)

		d, err = l.Decimals(ctx, pair)
		require.NoError(t, err)
		assert.Equal(t, LPDecimals, d)

		_, err = l.Decimals(ctx, alice)
		assert.ErrorIs(t, err, ErrUnknownToken)

		sym, ok := l.Tokens().GetBySymbol("weth")
		require.True(t, ok)
		assert.Equal(t, weth, sym.Address)
	})
}

func TestLedger_Swap(t *testing.T) {
	ctx := context.Background()

	t.Run("pays the constant-product output", func(t *testing.T) {
		l, pair := newTestLedger(t)
		require.NoError(t, l.Mint(dai, alice, big.NewInt(5000)))
		require.NoError(t, l.Approve(ctx, dai, alice, pair, big.NewInt(5000)))

		out, err := l.Swap(ctx, chains.SwapRequest{
			Pair: pair, Sender: alice, Recipient: alice,
			TokenIn: dai, TokenOut: weth,
			AmountIn: big.NewInt(5000), MinAmountOut: big.NewInt(2480),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2480), out.Int64())

		assert.Equal(t, int64(0), balance(t, l, dai, alice))
		assert.Equal(t, int64(2480), balance(t, l, weth, alice))

		pool, err := l.GetReserves(ctx, pair)
		require.NoError(t, err)
		assert.Equal(t, int64(1_005_000), pool.Reserve0.Int64())
		assert.Equal(t, int64(497_520), pool.Reserve1.Int64())
		assert.Equal(t, int64(1_005_000), balance(t, l, dai, pair))
	})

	t.Run("minimum output not met moves nothing", func(t *testing.T) {
		l, pair := newTestLedger(t)
		require.NoError(t, l.Mint(dai, alice, big.NewInt(5000)))
		require.NoError(t, l.Approve(ctx, dai, alice, pair, big.NewInt(5000)))

		_, err := l.Swap(ctx, chains.SwapRequest{
			Pair: pair, Sender: alice, Recipient: alice,
			TokenIn: dai, TokenOut: weth,
			AmountIn: big.NewInt(5000), MinAmountOut: big.NewInt(2481),
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, chains.ErrInsufficientOutputAmount)

		var outErr *chains.SwapOutputError
		require.ErrorAs(t, err, &outErr)
		assert.Equal(t, int64(2480), outErr.AmountOut.Int64())
		assert.Equal(t, int64(2481), outErr.MinAmountOut.Int64())

		assert.Equal(t, int64(5000), balance(t, l, dai, alice))
		pool, err := l.GetReserves(ctx, pair)
		require.NoError(t, err)
		assert.Equal(t, int64(1_000_000), pool.Reserve0.Int64())
	})

	t.Run("allowance is enforced", func(t *testing.T) {
		l, pair := newTestLedger(t)
		require.NoError(t, l.Mint(dai, alice, big.NewInt(5000)))

		_, err := l.Swap(ctx, chains.SwapRequest{
			Pair: pair, Sender: alice, Recipient: alice,
			TokenIn: dai, TokenOut: weth, AmountIn: big.NewInt(5000),
		})
		assert.ErrorIs(t, err, chains.ErrInsufficientAllowance)
	})

	t.Run("unknown pair", func(t *testing.T) {
		l, _ := newTestLedger(t)
		_, err := l.Swap(ctx, chains.SwapRequest{Pair: alice, TokenIn: dai, TokenOut: weth, AmountIn: big.NewInt(1)})
		assert.ErrorIs(t, err, uniswapv2.ErrPoolNotFound)
	})
}

func TestLedger_AddLiquidity(t *testing.T) {
	ctx := context.Background()
	l, pair := newTestLedger(t)

	require.NoError(t, l.Mint(dai, alice, big.NewInt(5000)))
	require.NoError(t, l.Mint(weth, alice, big.NewInt(2480)))
	require.NoError(t, l.Approve(ctx, dai, alice, pair, big.NewInt(5000)))
	require.NoError(t, l.Approve(ctx, weth, alice, pair, big.NewInt(2480)))

	res, err := l.AddLiquidity(ctx, chains.AddLiquidityRequest{
		Pair: pair, Sender: alice, Recipient: bob,
		TokenA: weth, TokenB: dai,
		AmountADesired: big.NewInt(2480), AmountBDesired: big.NewInt(5000),
		MinLiquidity: big.NewInt(1),
	})
	require.NoError(t, err)

	// 2480 WETH would need 4960 DAI; all 5000 DAI would need 2500 WETH.
	assert.Equal(t, int64(2480), res.AmountA.Int64())
	assert.Equal(t, int64(4960), res.AmountB.Int64())
	assert.Equal(t, int64(0), res.LeftoverA.Int64())
	assert.Equal(t, int64(40), res.LeftoverB.Int64())
	assert.Equal(t, int64(3507), res.Liquidity.Int64())

	assert.Equal(t, int64(40), balance(t, l, dai, alice), "unpaired remainder stays with the sender")
	assert.Equal(t, int64(706106+3507), balance(t, l, pair, bob))
	assert.Equal(t, int64(707106+3507), l.TotalSupply(pair).Int64())

	pool, err := l.GetReserves(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, int64(1_004_960), pool.Reserve0.Int64())
	assert.Equal(t, int64(502_480), pool.Reserve1.Int64())

	t.Run("minimum liquidity not met", func(t *testing.T) {
		require.NoError(t, l.Mint(dai, alice, big.NewInt(2)))
		require.NoError(t, l.Approve(ctx, dai, alice, pair, big.NewInt(2)))
		require.NoError(t, l.Approve(ctx, weth, alice, pair, big.NewInt(1)))
		require.NoError(t, l.Mint(weth, alice, big.NewInt(1)))

		_, err := l.AddLiquidity(ctx, chains.AddLiquidityRequest{
			Pair: pair, Sender: alice, Recipient: alice,
			TokenA: dai, TokenB: weth,
			AmountADesired: big.NewInt(2), AmountBDesired: big.NewInt(1),
			MinLiquidity: big.NewInt(1000),
		})
		assert.ErrorIs(t, err, calculator.ErrInsufficientLiquidityMinted)
	})
}

func TestLedger_ApplyAndSetReserves(t *testing.T) {
	l, pair := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.SetReserves(pair, big.NewInt(2_000_000), big.NewInt(250_000)))
	pool, err := l.GetReserves(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), pool.Reserve0.Int64())
	assert.Equal(t, int64(250_000), balance(t, l, weth, pair))

	before := l.Pools()
	after := []uniswapv2.Pool{before[0].Copy()}
	after[0].Reserve1 = big.NewInt(300_000)
	require.NoError(t, l.Apply(uniswapv2.Differ(before, after)))

	pool, err = l.GetReserves(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, int64(300_000), pool.Reserve1.Int64())

	assert.ErrorIs(t, l.SetReserves(alice, big.NewInt(1), big.NewInt(1)), uniswapv2.ErrPoolNotFound)

	require.NoError(t, l.Apply(uniswapv2.PoolSetDiff{Deletions: []common.Address{pair}}))
	_, err = l.GetPair(ctx, dai, weth)
	assert.ErrorIs(t, err, uniswapv2.ErrPoolNotFound)
}

func TestLedger_ConcurrentTransfers(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Mint(dai, alice, big.NewInt(1000)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Transfer(ctx, dai, alice, bob, big.NewInt(20))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), balance(t, l, dai, alice))
	assert.Equal(t, int64(1000), balance(t, l, dai, bob))
}
