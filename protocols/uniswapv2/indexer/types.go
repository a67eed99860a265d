package indexer

import (
	uniswapv2 "github.com/defistate/defistate-zap-go/protocols/uniswapv2"
	"github.com/ethereum/go-ethereum/common"
)

// IndexedUniswapV2 defines the methods for accessing indexed Uniswap V2 pool data.
type IndexedUniswapV2 interface {
	GetByAddress(address common.Address) (uniswapv2.Pool, bool)
	GetByPair(tokenA, tokenB common.Address) (uniswapv2.Pool, bool)
	All() []uniswapv2.Pool
}
