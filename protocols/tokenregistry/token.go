package tokenregistry

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token is a safe, structured representation of a token's data for external use.
type Token struct {
	Address  common.Address `json:"address" yaml:"address"`
	Name     string         `json:"name" yaml:"name"`
	Symbol   string         `json:"symbol" yaml:"symbol"`
	Decimals uint8          `json:"decimals" yaml:"decimals"`
}

// ParseAmount converts a human-readable amount of this token into base units.
func (t Token) ParseAmount(s string) (*big.Int, error) {
	return ParseUnits(s, t.Decimals)
}

// FormatAmount renders base units of this token as a human-readable amount.
func (t Token) FormatAmount(amount *big.Int) string {
	return FormatUnits(amount, t.Decimals)
}
