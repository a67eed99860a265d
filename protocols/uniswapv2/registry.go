package uniswapv2

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// MainnetFactory is the Uniswap V2 factory on Ethereum mainnet.
	MainnetFactory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")

	// PairInitCodeHash is keccak256 of the V2 pair creation code.
	PairInitCodeHash = common.HexToHash("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f")
)

// Pool is a point-in-time snapshot of a Uniswap V2 style pair.
// Token0 is always the token with the lower address.
type Pool struct {
	Address            common.Address `json:"address" yaml:"address"`
	Token0             common.Address `json:"token0" yaml:"token0"`
	Token1             common.Address `json:"token1" yaml:"token1"`
	Reserve0           *big.Int       `json:"reserve0" yaml:"reserve0"`
	Reserve1           *big.Int       `json:"reserve1" yaml:"reserve1"`
	FeeBps             uint16         `json:"feeBps" yaml:"feeBps"` // i.e 30 for 0.3%
	BlockTimestampLast uint32         `json:"blockTimestampLast" yaml:"blockTimestampLast"`
}

// IsEmpty reports whether either side of the pool holds no reserve, in which
// case no price is defined.
func (p Pool) IsEmpty() bool {
	return p.Reserve0 == nil || p.Reserve1 == nil || p.Reserve0.Sign() <= 0 || p.Reserve1.Sign() <= 0
}

// Contains reports whether the token is one side of the pool.
func (p Pool) Contains(token common.Address) bool {
	return token == p.Token0 || token == p.Token1
}

// PairKey identifies an unordered token pair. Build it with NewPairKey so
// that (a, b) and (b, a) map to the same key.
type PairKey struct {
	Token0 common.Address
	Token1 common.Address
}

// NewPairKey returns the canonical key for the pair, ignoring argument order.
func NewPairKey(tokenA, tokenB common.Address) PairKey {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		tokenA, tokenB = tokenB, tokenA
	}
	return PairKey{Token0: tokenA, Token1: tokenB}
}

// SortTokens orders two token addresses the same way a V2 factory does.
func SortTokens(tokenA, tokenB common.Address) (token0, token1 common.Address, err error) {
	if tokenA == tokenB {
		return common.Address{}, common.Address{}, ErrIdenticalTokens
	}
	key := NewPairKey(tokenA, tokenB)
	if key.Token0 == (common.Address{}) {
		return common.Address{}, common.Address{}, ErrZeroAddress
	}
	return key.Token0, key.Token1, nil
}

// Copy returns a deep copy of the pool so callers can mutate reserves freely.
func (p Pool) Copy() Pool {
	return deepCopyPool(p)
}

// PairFor computes the CREATE2 address a V2 factory deploys the pair of two tokens to.
func PairFor(factory, tokenA, tokenB common.Address, initCodeHash common.Hash) (common.Address, error) {
	token0, token1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	salt := crypto.Keccak256Hash(token0.Bytes(), token1.Bytes())
	return crypto.CreateAddress2(factory, salt, initCodeHash.Bytes()), nil
}
