package uniswapv2

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// deepCopyPool creates a new Pool with its own memory for the reserves, so the
// patched state never shares *big.Int values with the previous one.
func deepCopyPool(p Pool) Pool {
	newPool := p
	if p.Reserve0 != nil {
		newPool.Reserve0 = new(big.Int).Set(p.Reserve0)
	}
	if p.Reserve1 != nil {
		newPool.Reserve1 = new(big.Int).Set(p.Reserve1)
	}
	return newPool
}

// Patcher applies a diff to a previous pool snapshot and returns the new snapshot.
// Updates for pools that are not part of the previous snapshot are rejected, as are
// updates that would change a pair's tokens.
func Patcher(prevState []Pool, diff PoolSetDiff) ([]Pool, error) {
	newState := make(map[common.Address]Pool, len(prevState))
	order := make([]common.Address, 0, len(prevState)+len(diff.Additions))
	for _, pool := range prevState {
		if _, dup := newState[pool.Address]; !dup {
			order = append(order, pool.Address)
		}
		newState[pool.Address] = deepCopyPool(pool)
	}

	for _, addr := range diff.Deletions {
		delete(newState, addr)
	}

	for _, updated := range diff.Updates {
		current, ok := newState[updated.Address]
		if !ok {
			return nil, fmt.Errorf("%w: update for unknown pool %s", ErrPoolNotFound, updated.Address.Hex())
		}
		if current.Token0 != updated.Token0 || current.Token1 != updated.Token1 {
			return nil, fmt.Errorf("%w: update changes tokens of pool %s", ErrTokenMismatch, updated.Address.Hex())
		}
		newState[updated.Address] = deepCopyPool(updated)
	}

	for _, added := range diff.Additions {
		if _, exists := newState[added.Address]; !exists {
			order = append(order, added.Address)
		}
		newState[added.Address] = deepCopyPool(added)
	}

	// keep the previous ordering stable; additions go last
	finalState := make([]Pool, 0, len(newState))
	for _, addr := range order {
		if pool, ok := newState[addr]; ok {
			finalState = append(finalState, pool)
			delete(newState, addr)
		}
	}

	return finalState, nil
}

func cmpNullable(a, b *big.Int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Cmp(b)
}
