package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tokenregistry "github.com/defistate/defistate-zap-go/protocols/tokenregistry"
	"github.com/defistate/defistate-zap-go/protocols/uniswapv2"
)

const validConfig = `
rpc_url: http://localhost:8545
slippage_bps: 75
requests_per_second: 20
tokens:
  - address: "0x6B175474E89094C44Da98b954EedeAC495271d0F"
    name: Dai Stablecoin
    symbol: DAI
    decimals: 18
  - address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
    symbol: WETH
    decimals: 18
pools:
  - token_a: DAI
    token_b: WETH
    reserve_a: "3000000"
    reserve_b: "1000"
  - token_a: weth
    token_b: dai
    reserve_a: "1"
    reserve_b: "3000"
    fee_bps: 5
`

func TestLoadConfig(t *testing.T) {
	t.Setenv(EnvRPCURL, "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, uniswapv2.MainnetFactory, cfg.FactoryAddress())
	assert.Equal(t, DefaultFeeBps, cfg.Fee())
	assert.Equal(t, uint16(75), cfg.Slippage())
	assert.Equal(t, 20.0, cfg.RequestsPerSecond)
	assert.Equal(t, []tokenregistry.Token{
		{Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Name: "Dai Stablecoin", Symbol: "DAI", Decimals: 18},
		{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Symbol: "WETH", Decimals: 18},
	}, cfg.TokenList())
	require.Len(t, cfg.Pools, 2)
	assert.Equal(t, DefaultFeeBps, cfg.PoolFee(cfg.Pools[0]))
	assert.Equal(t, uint16(5), cfg.PoolFee(cfg.Pools[1]))

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParse_EnvOverride(t *testing.T) {
	t.Setenv(EnvRPCURL, "wss://node.example")
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)
	assert.Equal(t, "wss://node.example", cfg.RPCURL)
}

func TestParse_Defaults(t *testing.T) {
	t.Setenv(EnvRPCURL, "")
	cfg, err := Parse([]byte("factory: \"0x1F98431c8aD98523631AE4a59f267346ea31F984\"\nfee_bps: 25\n"))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"), cfg.FactoryAddress())
	assert.Equal(t, uint16(25), cfg.Fee())
	assert.Equal(t, DefaultSlippageBps, cfg.Slippage())
	assert.Empty(t, cfg.TokenList())
}

func TestParse_Invalid(t *testing.T) {
	t.Setenv(EnvRPCURL, "")

	testCases := []struct {
		name string
		yaml string
	}{
		{"malformed yaml", "tokens: [\n"},
		{"bad factory", "factory: nope\n"},
		{"fee too high", "fee_bps: 10000\n"},
		{"slippage too high", "slippage_bps: 10000\n"},
		{"negative rate", "requests_per_second: -1\n"},
		{"bad token address", "tokens:\n  - address: xyz\n    symbol: X\n"},
		{"empty symbol", "tokens:\n  - address: \"0x6B175474E89094C44Da98b954EedeAC495271d0F\"\n"},
		{"duplicate symbol", "tokens:\n  - address: \"0x6B175474E89094C44Da98b954EedeAC495271d0F\"\n    symbol: DAI\n  - address: \"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2\"\n    symbol: dai\n"},
		{"unknown pool token", "tokens:\n  - address: \"0x6B175474E89094C44Da98b954EedeAC495271d0F\"\n    symbol: DAI\npools:\n  - token_a: DAI\n    token_b: WETH\n    reserve_a: \"1\"\n    reserve_b: \"1\"\n"},
		{"same pool token", "tokens:\n  - address: \"0x6B175474E89094C44Da98b954EedeAC495271d0F\"\n    symbol: DAI\npools:\n  - token_a: DAI\n    token_b: dai\n    reserve_a: \"1\"\n    reserve_b: \"1\"\n"},
		{"missing reserve", "tokens:\n  - address: \"0x6B175474E89094C44Da98b954EedeAC495271d0F\"\n    symbol: DAI\n  - address: \"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2\"\n    symbol: WETH\npools:\n  - token_a: DAI\n    token_b: WETH\n    reserve_a: \"1\"\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoadEnv(t *testing.T) {
	const key = "ZAP_CONFIG_TEST_DOTENV"
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-file\n"), 0o600))

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv(key))

	// Variables already present win over the file.
	require.NoError(t, os.Setenv(key, "from-process"))
	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "from-process", os.Getenv(key))
}
