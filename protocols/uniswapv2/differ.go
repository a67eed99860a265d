package uniswapv2

import "github.com/ethereum/go-ethereum/common"

// PoolSetDiff describes how a set of pools changed between two snapshots.
type PoolSetDiff struct {
	Additions []Pool           `json:"additions,omitempty"`
	Updates   []Pool           `json:"updates,omitempty"`
	Deletions []common.Address `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d PoolSetDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

// Differ calculates the difference between two pool snapshots, keyed by pair address.
// Only reserves and the last update timestamp are compared, since a pair's tokens and
// fee never change after creation.
func Differ(old, new []Pool) PoolSetDiff {
	oldPools := make(map[common.Address]Pool, len(old))
	for _, pool := range old {
		oldPools[pool.Address] = pool
	}

	newPools := make(map[common.Address]Pool, len(new))
	for _, pool := range new {
		newPools[pool.Address] = pool
	}

	var diff PoolSetDiff

	for addr, newPool := range newPools {
		oldPool, exists := oldPools[addr]
		if !exists {
			diff.Additions = append(diff.Additions, newPool)
			continue
		}
		if reservesChanged(oldPool, newPool) {
			diff.Updates = append(diff.Updates, newPool)
		}
	}

	for addr := range oldPools {
		if _, exists := newPools[addr]; !exists {
			diff.Deletions = append(diff.Deletions, addr)
		}
	}

	return diff
}

func reservesChanged(a, b Pool) bool {
	if a.BlockTimestampLast != b.BlockTimestampLast {
		return true
	}
	return cmpNullable(a.Reserve0, b.Reserve0) != 0 || cmpNullable(a.Reserve1, b.Reserve1) != 0
}
