// Package memory provides a deterministic in-process ledger that behaves like
// a V2 factory, its pairs and the ERC-20 tokens they hold. Pair liquidity
// tokens live at the pair's own address.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/defistate/defistate-zap-go/chains"
	tokenregistry "github.com/defistate/defistate-zap-go/protocols/tokenregistry"
	tokenregistryindexer "github.com/defistate/defistate-zap-go/protocols/tokenregistry/indexer"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2/calculator"
	uniswapv2indexer "github.com/defistate/defistate-zap-go/protocols/uniswapv2/indexer"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrPairExists is returned when a pair is created twice.
	ErrPairExists = errors.New("pair already exists")
	// ErrUnknownToken is returned for metadata queries on unregistered tokens.
	ErrUnknownToken = errors.New("unknown token")
)

// LPDecimals is the precision of every pair's liquidity token.
const LPDecimals uint8 = 18

var (
	_ chains.PoolRegistry = (*Ledger)(nil)
	_ chains.PoolReader   = (*Ledger)(nil)
	_ chains.PoolExecutor = (*Ledger)(nil)
	_ chains.TokenLedger  = (*Ledger)(nil)
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Ledger serializes every operation behind one mutex, so callers observe a
// single, totally ordered history.
type Ledger struct {
	mu sync.Mutex

	logger       chains.Logger
	factory      common.Address
	initCodeHash common.Hash
	now          func() time.Time

	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[allowanceKey]*big.Int
	supply     map[common.Address]*big.Int

	tokens     []tokenregistry.Token
	tokenIndex tokenregistryindexer.IndexedTokenSystem

	pools     []uniswapv2.Pool
	poolIndex uniswapv2indexer.IndexedUniswapV2
}

// Option configures the Ledger.
type Option interface {
	apply(*Ledger)
}

type funcOption func(*Ledger)

func (f funcOption) apply(l *Ledger) {
	f(l)
}

func newOption(f func(*Ledger)) Option {
	return funcOption(f)
}

// WithFactory sets the factory address and init code hash used to derive pair addresses.
func WithFactory(factory common.Address, initCodeHash common.Hash) Option {
	return newOption(func(l *Ledger) {
		l.factory = factory
		l.initCodeHash = initCodeHash
	})
}

// WithClock sets the time source used for pair timestamps.
func WithClock(now func() time.Time) Option {
	return newOption(func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	})
}

// NewLedger returns an empty ledger whose pairs are addressed like mainnet V2 pairs.
func NewLedger(logger chains.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		logger:       logger,
		factory:      uniswapv2.MainnetFactory,
		initCodeHash: uniswapv2.PairInitCodeHash,
		now:          time.Now,
		balances:     make(map[common.Address]map[common.Address]*big.Int),
		allowances:   make(map[common.Address]map[allowanceKey]*big.Int),
		supply:       make(map[common.Address]*big.Int),
		tokenIndex:   tokenregistryindexer.New().Index(nil),
		poolIndex:    uniswapv2indexer.New().Index(nil),
	}
	for _, opt := range opts {
		opt.apply(l)
	}
	return l
}

// RegisterToken records a token's metadata. Re-registering replaces it.
func (l *Ledger) RegisterToken(token tokenregistry.Token) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tokens := make([]tokenregistry.Token, 0, len(l.tokens)+1)
	for _, t := range l.tokens {
		if t.Address != token.Address {
			tokens = append(tokens, t)
		}
	}
	l.tokens = append(tokens, token)
	l.tokenIndex = tokenregistryindexer.New().Index(l.tokens)
}

// Tokens returns the registered token index.
func (l *Ledger) Tokens() tokenregistryindexer.IndexedTokenSystem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokenIndex
}

// Mint credits amount of token to an account out of thin air.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, to, amount)
	return nil
}

// CreatePair deploys a pair seeded with the given reserves. The provider
// receives sqrt(amountA*amountB) - 1000 liquidity tokens; the rest is locked
// at the zero address.
func (l *Ledger) CreatePair(tokenA, tokenB common.Address, amountA, amountB *big.Int, feeBps uint16, provider common.Address) (uniswapv2.Pool, error) {
	if err := checkAmount(amountA); err != nil {
		return uniswapv2.Pool{}, err
	}
	if err := checkAmount(amountB); err != nil {
		return uniswapv2.Pool{}, err
	}
	if _, err := calculator.FeeMultiplier(feeBps); err != nil {
		return uniswapv2.Pool{}, err
	}
	pair, err := uniswapv2.PairFor(l.factory, tokenA, tokenB, l.initCodeHash)
	if err != nil {
		return uniswapv2.Pool{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.poolIndex.GetByAddress(pair); exists {
		return uniswapv2.Pool{}, fmt.Errorf("%w: %s", ErrPairExists, pair.Hex())
	}

	liquidity, err := calculator.LiquidityMinted(amountA, amountB, new(big.Int), new(big.Int), new(big.Int))
	if err != nil {
		return uniswapv2.Pool{}, fmt.Errorf("seeding pair %s: %w", pair.Hex(), err)
	}

	token0, token1, _ := uniswapv2.SortTokens(tokenA, tokenB)
	reserve0, reserve1 := amountA, amountB
	if token0 != tokenA {
		reserve0, reserve1 = amountB, amountA
	}
	pool := uniswapv2.Pool{
		Address:            pair,
		Token0:             token0,
		Token1:             token1,
		Reserve0:           new(big.Int).Set(reserve0),
		Reserve1:           new(big.Int).Set(reserve1),
		FeeBps:             feeBps,
		BlockTimestampLast: l.timestamp(),
	}
	if err := l.apply(uniswapv2.PoolSetDiff{Additions: []uniswapv2.Pool{pool}}); err != nil {
		return uniswapv2.Pool{}, err
	}

	l.credit(pair, common.Address{}, calculator.MinimumLiquidity)
	l.credit(pair, provider, liquidity)
	l.supply[pair] = new(big.Int).Add(liquidity, calculator.MinimumLiquidity)

	l.logger.Debug("pair created", "pair", pair.Hex(), "token0", token0.Hex(), "token1", token1.Hex(), "liquidity", liquidity)
	return pool.Copy(), nil
}

// Pools returns a snapshot of every pair.
func (l *Ledger) Pools() []uniswapv2.Pool {
	l.mu.Lock()
	defer l.mu.Unlock()

	pools := make([]uniswapv2.Pool, len(l.pools))
	for i, p := range l.pools {
		pools[i] = p.Copy()
	}
	return pools
}

// Apply patches the pool set with a diff, as if other traders had moved the
// pairs. Pair token balances follow the patched reserves.
func (l *Ledger) Apply(diff uniswapv2.PoolSetDiff) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.apply(diff)
}

// SetReserves overwrites a pair's reserves.
func (l *Ledger) SetReserves(pair common.Address, reserve0, reserve1 *big.Int) error {
	if err := checkAmount(reserve0); err != nil {
		return err
	}
	if err := checkAmount(reserve1); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.poolIndex.GetByAddress(pair)
	if !ok {
		return fmt.Errorf("%w: %s", uniswapv2.ErrPoolNotFound, pair.Hex())
	}
	updated := pool.Copy()
	updated.Reserve0 = new(big.Int).Set(reserve0)
	updated.Reserve1 = new(big.Int).Set(reserve1)
	updated.BlockTimestampLast = l.timestamp()
	return l.apply(uniswapv2.PoolSetDiff{Updates: []uniswapv2.Pool{updated}})
}

// TotalSupply returns the outstanding liquidity tokens of a pair.
func (l *Ledger) TotalSupply(pair common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.supply[pair]; ok {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

// GetPair implements chains.PoolRegistry.
func (l *Ledger) GetPair(_ context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.poolIndex.GetByPair(tokenA, tokenB)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s/%s", uniswapv2.ErrPoolNotFound, tokenA.Hex(), tokenB.Hex())
	}
	return pool.Address, nil
}

// GetReserves implements chains.PoolReader.
func (l *Ledger) GetReserves(_ context.Context, pair common.Address) (uniswapv2.Pool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.poolIndex.GetByAddress(pair)
	if !ok {
		return uniswapv2.Pool{}, fmt.Errorf("%w: %s", uniswapv2.ErrPoolNotFound, pair.Hex())
	}
	return pool.Copy(), nil
}

// apply must be called with l.mu held.
func (l *Ledger) apply(diff uniswapv2.PoolSetDiff) error {
	pools, err := uniswapv2.Patcher(l.pools, diff)
	if err != nil {
		return err
	}
	l.pools = pools
	l.poolIndex = uniswapv2indexer.New().Index(l.pools)

	for _, changed := range [][]uniswapv2.Pool{diff.Additions, diff.Updates} {
		for _, p := range changed {
			l.setBalance(p.Token0, p.Address, p.Reserve0)
			l.setBalance(p.Token1, p.Address, p.Reserve1)
		}
	}
	return nil
}

func (l *Ledger) timestamp() uint32 {
	return uint32(l.now().Unix())
}

func checkAmount(amount *big.Int) error {
	if amount == nil {
		return calculator.ErrNilAmount
	}
	if amount.Sign() < 0 {
		return calculator.ErrInvalidAmount
	}
	return nil
}
