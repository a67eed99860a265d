// Package ethereum reads V2 pair and ERC-20 state from an Ethereum JSON-RPC
// endpoint. The client never signs or sends transactions; every write method
// fails with chains.ErrReadOnly, so it can back a quote but not a deposit.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/defistate/defistate-zap-go/chains"
	tokenregistry "github.com/defistate/defistate-zap-go/protocols/tokenregistry"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2"
)

// DefaultFeeBps is the swap fee of canonical V2 pairs. Pairs do not expose
// their fee on-chain, so forks with a different fee need WithFeeBps.
const DefaultFeeBps uint16 = 30

const (
	factoryABIJSON = `[
	{"type":"function","name":"getPair","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"outputs":[{"name":"pair","type":"address"}]}
]`
	pairABIJSON = `[
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`
	erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`
)

var (
	factoryABI = mustParseABI(factoryABIJSON)
	pairABI    = mustParseABI(pairABIJSON)
	erc20ABI   = mustParseABI(erc20ABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}
	return parsed
}

var (
	_ chains.PoolRegistry = (*Client)(nil)
	_ chains.PoolReader   = (*Client)(nil)
	_ chains.PoolExecutor = (*Client)(nil)
	_ chains.TokenLedger  = (*Client)(nil)
)

// ContractCaller executes read-only contract calls. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call goethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client reads pair and token state through eth_call.
type Client struct {
	caller  ContractCaller
	factory common.Address
	logger  chains.Logger
	closeFn func()

	feeBps      uint16
	blockNumber *big.Int
	limiter     *rate.Limiter

	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
}

// Option configures the Client.
type Option interface {
	apply(*Client)
}

type funcOption func(*Client)

func (f funcOption) apply(c *Client) {
	f(c)
}

func newOption(f func(*Client)) Option {
	return funcOption(f)
}

// WithFeeBps sets the fee reported for every pair.
func WithFeeBps(feeBps uint16) Option {
	return newOption(func(c *Client) {
		c.feeBps = feeBps
	})
}

// WithBlockNumber pins every read to one block, so several reads describe the same state.
func WithBlockNumber(n *big.Int) Option {
	return newOption(func(c *Client) {
		if n != nil {
			c.blockNumber = new(big.Int).Set(n)
		}
	})
}

// WithRateLimit caps outgoing calls at r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return newOption(func(c *Client) {
		c.limiter = rate.NewLimiter(r, burst)
	})
}

// Dial connects to a JSON-RPC endpoint and returns a client for the pairs of factory.
func Dial(
	ctx context.Context,
	url string,
	factory common.Address,
	logger chains.Logger,
	prometheusRegistry prometheus.Registerer,
	opts ...Option,
) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc url: %w", err)
	}
	c, err := NewClient(ec, factory, logger, prometheusRegistry, opts...)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closeFn = ec.Close
	c.logger.Info("Client connected", "factory", factory.Hex())
	return c, nil
}

// NewClient wraps an existing caller.
func NewClient(
	caller ContractCaller,
	factory common.Address,
	logger chains.Logger,
	prometheusRegistry prometheus.Registerer,
	opts ...Option,
) (*Client, error) {
	if caller == nil {
		return nil, errors.New("caller cannot be nil")
	}
	if factory == (common.Address{}) {
		return nil, errors.New("factory cannot be the zero address")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if prometheusRegistry == nil {
		return nil, errors.New("prometheus registry cannot be nil")
	}

	metricsFactory := promauto.With(prometheusRegistry)
	c := &Client{
		caller:  caller,
		factory: factory,
		logger:  logger,
		feeBps:  DefaultFeeBps,
		calls: metricsFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "zap_rpc_calls_total",
			Help: "Contract calls by method and outcome.",
		}, []string{"method", "outcome"}),
		callDuration: metricsFactory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zap_rpc_call_duration_seconds",
			Help:    "Latency of contract calls by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c, nil
}

// Close releases the underlying connection if the client dialed it.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// GetPair implements chains.PoolRegistry.
func (c *Client) GetPair(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	out, err := c.call(ctx, c.factory, factoryABI, "getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	pair, err := unpackAddress(out)
	if err != nil {
		return common.Address{}, fmt.Errorf("getPair: %w", err)
	}
	if pair == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s/%s", uniswapv2.ErrPoolNotFound, tokenA.Hex(), tokenB.Hex())
	}
	return pair, nil
}

// GetReserves implements chains.PoolReader.
func (c *Client) GetReserves(ctx context.Context, pair common.Address) (uniswapv2.Pool, error) {
	token0, err := c.pairToken(ctx, pair, "token0")
	if err != nil {
		return uniswapv2.Pool{}, err
	}
	token1, err := c.pairToken(ctx, pair, "token1")
	if err != nil {
		return uniswapv2.Pool{}, err
	}

	out, err := c.call(ctx, pair, pairABI, "getReserves")
	if err != nil {
		return uniswapv2.Pool{}, err
	}
	if len(out) != 3 {
		return uniswapv2.Pool{}, fmt.Errorf("getReserves: unexpected output count %d", len(out))
	}
	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	timestamp, ok2 := out[2].(uint32)
	if !ok0 || !ok1 || !ok2 {
		return uniswapv2.Pool{}, fmt.Errorf("getReserves: unexpected output types %T, %T, %T", out[0], out[1], out[2])
	}

	return uniswapv2.Pool{
		Address:            pair,
		Token0:             token0,
		Token1:             token1,
		Reserve0:           reserve0,
		Reserve1:           reserve1,
		FeeBps:             c.feeBps,
		BlockTimestampLast: timestamp,
	}, nil
}

// BalanceOf implements chains.TokenReader.
func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, erc20ABI, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return unpackUint(out)
}

// Allowance implements chains.TokenReader.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, erc20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return unpackUint(out)
}

// Decimals implements chains.TokenReader.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.call(ctx, token, erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("decimals: unexpected output count %d", len(out))
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected output type %T", out[0])
	}
	return d, nil
}

// Token reads a token's metadata. Tokens that do not implement the optional
// name and symbol getters are returned with those fields empty.
func (c *Client) Token(ctx context.Context, token common.Address) (tokenregistry.Token, error) {
	decimals, err := c.Decimals(ctx, token)
	if err != nil {
		return tokenregistry.Token{}, err
	}
	t := tokenregistry.Token{Address: token, Decimals: decimals}
	if out, err := c.call(ctx, token, erc20ABI, "symbol"); err == nil && len(out) == 1 {
		t.Symbol, _ = out[0].(string)
	} else if err != nil {
		c.logger.Debug("token has no symbol", "token", token.Hex(), "error", err)
	}
	if out, err := c.call(ctx, token, erc20ABI, "name"); err == nil && len(out) == 1 {
		t.Name, _ = out[0].(string)
	} else if err != nil {
		c.logger.Debug("token has no name", "token", token.Hex(), "error", err)
	}
	return t, nil
}

// Approve always fails with chains.ErrReadOnly.
func (c *Client) Approve(context.Context, common.Address, common.Address, common.Address, *big.Int) error {
	return chains.ErrReadOnly
}

// Transfer always fails with chains.ErrReadOnly.
func (c *Client) Transfer(context.Context, common.Address, common.Address, common.Address, *big.Int) error {
	return chains.ErrReadOnly
}

// TransferFrom always fails with chains.ErrReadOnly.
func (c *Client) TransferFrom(context.Context, common.Address, common.Address, common.Address, common.Address, *big.Int) error {
	return chains.ErrReadOnly
}

// Swap always fails with chains.ErrReadOnly.
func (c *Client) Swap(context.Context, chains.SwapRequest) (*big.Int, error) {
	return nil, chains.ErrReadOnly
}

// AddLiquidity always fails with chains.ErrReadOnly.
func (c *Client) AddLiquidity(context.Context, chains.AddLiquidityRequest) (chains.AddLiquidityResult, error) {
	return chains.AddLiquidityResult{}, chains.ErrReadOnly
}

func (c *Client) pairToken(ctx context.Context, pair common.Address, method string) (common.Address, error) {
	out, err := c.call(ctx, pair, pairABI, method)
	if err != nil {
		return common.Address{}, err
	}
	token, err := unpackAddress(out)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", method, err)
	}
	return token, nil
}

func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.calls.WithLabelValues(method, "throttled").Inc()
			return nil, fmt.Errorf("%s on %s: %w", method, to.Hex(), err)
		}
	}

	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	start := time.Now()
	raw, err := c.caller.CallContract(ctx, goethereum.CallMsg{To: &to, Data: input}, c.blockNumber)
	c.callDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		c.calls.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("%s on %s: %w", method, to.Hex(), err)
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		c.calls.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("unpack %s from %s: %w", method, to.Hex(), err)
	}
	c.calls.WithLabelValues(method, "ok").Inc()
	return out, nil
}

func unpackAddress(out []any) (common.Address, error) {
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("unexpected output count %d", len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected output type %T", out[0])
	}
	return addr, nil
}

func unpackUint(out []any) (*big.Int, error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected output count %d", len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", out[0])
	}
	return v, nil
}
