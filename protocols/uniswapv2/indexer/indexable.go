package indexer

import (
	uniswapv2 "github.com/defistate/defistate-zap-go/protocols/uniswapv2"
	"github.com/ethereum/go-ethereum/common"
)

// Indexer builds IndexedUniswapV2 views from raw pool snapshots.
type Indexer struct{}

// New creates a new Indexer.
func New() *Indexer {
	return &Indexer{}
}

// Index creates an indexed Uniswap V2 system from a raw slice of pools.
func (i *Indexer) Index(pools []uniswapv2.Pool) IndexedUniswapV2 {
	return NewIndexableUniswapV2System(pools)
}

// IndexableUniswapV2System provides fast, indexed access to Uniswap V2 pool data.
// The first pool seen for a token pair wins, which mirrors a factory that only
// ever creates one pair per token combination.
type IndexableUniswapV2System struct {
	byAddress map[common.Address]uniswapv2.Pool
	byPair    map[uniswapv2.PairKey]uniswapv2.Pool
	all       []uniswapv2.Pool
}

// NewIndexableUniswapV2System creates a new indexed Uniswap V2 system.
func NewIndexableUniswapV2System(pools []uniswapv2.Pool) *IndexableUniswapV2System {
	byAddress := make(map[common.Address]uniswapv2.Pool, len(pools))
	byPair := make(map[uniswapv2.PairKey]uniswapv2.Pool, len(pools))

	for _, p := range pools {
		byAddress[p.Address] = p
		key := uniswapv2.NewPairKey(p.Token0, p.Token1)
		if _, exists := byPair[key]; !exists {
			byPair[key] = p
		}
	}

	return &IndexableUniswapV2System{
		byAddress: byAddress,
		byPair:    byPair,
		all:       pools,
	}
}

// GetByAddress retrieves a pool by its pair address.
func (ius *IndexableUniswapV2System) GetByAddress(address common.Address) (uniswapv2.Pool, bool) {
	p, ok := ius.byAddress[address]
	return p, ok
}

// GetByPair retrieves the pool serving two tokens, in either order.
func (ius *IndexableUniswapV2System) GetByPair(tokenA, tokenB common.Address) (uniswapv2.Pool, bool) {
	p, ok := ius.byPair[uniswapv2.NewPairKey(tokenA, tokenB)]
	return p, ok
}

// All returns a defensive copy of the slice of all pools.
func (ius *IndexableUniswapV2System) All() []uniswapv2.Pool {
	allCopy := make([]uniswapv2.Pool, len(ius.all))
	copy(allCopy, ius.all)
	return allCopy
}
