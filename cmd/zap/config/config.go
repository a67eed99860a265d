// Package config loads the zap command's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	tokenregistry "github.com/defistate/defistate-zap-go/protocols/tokenregistry"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2"
)

// EnvRPCURL overrides rpc_url when set.
const EnvRPCURL = "ZAP_RPC_URL"

const (
	DefaultFeeBps      uint16 = 30
	DefaultSlippageBps uint16 = 50
)

// TokenConfig describes a token the command can refer to by symbol.
type TokenConfig struct {
	Address  string `yaml:"address"`
	Name     string `yaml:"name"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// PoolConfig seeds a simulated pair. Reserves are human-readable amounts of
// each token, e.g. "1000.5".
type PoolConfig struct {
	TokenA   string  `yaml:"token_a"`
	TokenB   string  `yaml:"token_b"`
	ReserveA string  `yaml:"reserve_a"`
	ReserveB string  `yaml:"reserve_b"`
	FeeBps   *uint16 `yaml:"fee_bps"`
}

// ZapConfig is the command's configuration file.
type ZapConfig struct {
	RPCURL            string        `yaml:"rpc_url"`
	Factory           string        `yaml:"factory"`
	FeeBps            *uint16       `yaml:"fee_bps"`
	SlippageBps       *uint16       `yaml:"slippage_bps"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Tokens            []TokenConfig `yaml:"tokens"`
	Pools             []PoolConfig  `yaml:"pools"`

	factory common.Address
	tokens  []tokenregistry.Token
}

// LoadConfig reads and validates the file at path. The RPC URL may be
// overridden through the environment.
func LoadConfig(path string) (*ZapConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*ZapConfig, error) {
	var cfg ZapConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if url := os.Getenv(EnvRPCURL); url != "" {
		cfg.RPCURL = url
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv loads env files into the process environment. Variables already
// set are kept and missing files are skipped.
func LoadEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return nil
}

func (c *ZapConfig) validate() error {
	c.factory = uniswapv2.MainnetFactory
	if c.Factory != "" {
		if !common.IsHexAddress(c.Factory) {
			return fmt.Errorf("config: factory %q is not an address", c.Factory)
		}
		c.factory = common.HexToAddress(c.Factory)
	}
	if c.FeeBps != nil && *c.FeeBps >= 10000 {
		return fmt.Errorf("config: fee_bps must be below 10000, got %d", *c.FeeBps)
	}
	if c.SlippageBps != nil && *c.SlippageBps >= 10000 {
		return fmt.Errorf("config: slippage_bps must be below 10000, got %d", *c.SlippageBps)
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("config: requests_per_second cannot be negative")
	}

	c.tokens = make([]tokenregistry.Token, 0, len(c.Tokens))
	seen := make(map[string]bool, len(c.Tokens))
	for i, t := range c.Tokens {
		if !common.IsHexAddress(t.Address) {
			return fmt.Errorf("config: tokens[%d]: address %q is not an address", i, t.Address)
		}
		if t.Symbol == "" {
			return fmt.Errorf("config: tokens[%d]: symbol cannot be empty", i)
		}
		key := strings.ToLower(t.Symbol)
		if seen[key] {
			return fmt.Errorf("config: tokens[%d]: duplicate symbol %s", i, t.Symbol)
		}
		seen[key] = true
		c.tokens = append(c.tokens, tokenregistry.Token{
			Address:  common.HexToAddress(t.Address),
			Name:     t.Name,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
		})
	}

	for i, p := range c.Pools {
		if !seen[strings.ToLower(p.TokenA)] || !seen[strings.ToLower(p.TokenB)] {
			return fmt.Errorf("config: pools[%d]: %s/%s must both be listed under tokens", i, p.TokenA, p.TokenB)
		}
		if strings.EqualFold(p.TokenA, p.TokenB) {
			return fmt.Errorf("config: pools[%d]: tokens must differ", i)
		}
		if p.ReserveA == "" || p.ReserveB == "" {
			return fmt.Errorf("config: pools[%d]: reserves cannot be empty", i)
		}
		if p.FeeBps != nil && *p.FeeBps >= 10000 {
			return fmt.Errorf("config: pools[%d]: fee_bps must be below 10000, got %d", i, *p.FeeBps)
		}
	}
	return nil
}

// FactoryAddress returns the configured factory, defaulting to mainnet V2.
func (c *ZapConfig) FactoryAddress() common.Address {
	return c.factory
}

// TokenList returns the configured tokens.
func (c *ZapConfig) TokenList() []tokenregistry.Token {
	return c.tokens
}

// PoolFee returns the fee for a pool, falling back to the global fee.
func (c *ZapConfig) PoolFee(p PoolConfig) uint16 {
	if p.FeeBps != nil {
		return *p.FeeBps
	}
	return c.Fee()
}

// Fee returns the configured default pair fee.
func (c *ZapConfig) Fee() uint16 {
	if c.FeeBps != nil {
		return *c.FeeBps
	}
	return DefaultFeeBps
}

// Slippage returns the configured slippage tolerance.
func (c *ZapConfig) Slippage() uint16 {
	if c.SlippageBps != nil {
		return *c.SlippageBps
	}
	return DefaultSlippageBps
}
