package config_test

import (
	"LendLedger/internal/config"
	"LendLedger/internal/lending"
	fpmath "LendLedger/internal/math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_ReadsEnvironment(t *testing.T) {
	t.Setenv("LENDING_GRPC_ADDR", ":7000")
	t.Setenv("LENDING_PERSIST_BATCH_SIZE", "7")
	t.Setenv("LENDING_MAX_PRICE_AGE", "30s")
	t.Setenv("LENDING_PROJECTION_CHAN_SIZE", "not-a-number")

	cfg := config.Default()
	assert.Equal(t, ":7000", cfg.GRPCAddr)
	assert.Equal(t, 7, cfg.PersistBatchSize)
	assert.Equal(t, 30*time.Second, cfg.MaxPriceAge)
	assert.Equal(t, 2048, cfg.ProjectionChanSize)
	assert.Equal(t, [2]lending.AssetID{"SOL", "USDC"}, cfg.Assets())
	require.NoError(t, cfg.Validate())
}

func TestDefault_EmptyDSNDisablesPostgres(t *testing.T) {
	t.Setenv("LENDING_POSTGRES_DSN", "")
	assert.Empty(t, config.Default().PostgresDSN)
}

func TestPerSecondRate(t *testing.T) {
	rate, err := config.PerSecondRate("0.05")
	require.NoError(t, err)
	assert.Equal(t, lending.DefaultInterestRate, rate)

	zero, err := config.PerSecondRate("0")
	require.NoError(t, err)
	assert.Equal(t, fpmath.Fraction(0), zero)

	_, err = config.PerSecondRate("-0.01")
	assert.Error(t, err)
}

func TestApplyYAML(t *testing.T) {
	authority := uuid.New()
	cfg := config.Default()
	err := cfg.ApplyYAML([]byte(`
max_price_age: 45s
banks:
  - asset: ETH
    authority: ` + authority.String() + `
    liquidation_threshold: "0.825"
    max_ltv: "0.7"
    interest_apr: "0"
  - asset: DAI
    liquidation_threshold: "0.9"
    max_ltv: "0.85"
    liquidation_bonus: "0.02"
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 45*time.Second, cfg.MaxPriceAge)
	assert.Equal(t, [2]lending.AssetID{"ETH", "DAI"}, cfg.Assets())
	eth := cfg.Banks[0]
	assert.Equal(t, authority, eth.Authority)
	assert.Equal(t, "0.825", eth.Params.LiquidationThreshold.String())
	assert.Equal(t, fpmath.Fraction(0), eth.Params.LiquidationCloseFactor)
	assert.Equal(t, config.DefaultAuthority, cfg.Banks[1].Authority)
	assert.Equal(t, "0.02", cfg.Banks[1].Params.LiquidationBonus.String())
}

func TestApplyYAML_Errors(t *testing.T) {
	cases := map[string]string{
		"bad yaml":     "banks: [",
		"bad fraction": "banks:\n  - asset: A\n    max_ltv: \"abc\"\n",
		"too precise":  "banks:\n  - asset: A\n    max_ltv: \"0.1234567890123456789\"\n",
		"bad uuid":     "banks:\n  - asset: A\n    authority: nope\n",
		"bad duration": "max_price_age: soon\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			assert.Error(t, cfg.ApplyYAML([]byte(doc)))
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Banks = cfg.Banks[:1]
	assert.ErrorContains(t, cfg.Validate(), "exactly two banks")

	cfg = config.Default()
	cfg.Banks[1].Asset = cfg.Banks[0].Asset
	assert.ErrorContains(t, cfg.Validate(), "distinct")

	cfg = config.Default()
	cfg.Banks[0].Params.MaxLTV = 0
	assert.ErrorIs(t, cfg.Validate(), lending.ErrInvalidParams)

	cfg = config.Default()
	cfg.HTTPAddr = ""
	assert.Error(t, cfg.Validate())
}

func TestLoad_RepoConfig(t *testing.T) {
	path := filepath.Join("..", "..", "configs", "lending.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("config file: %v", err)
	}
	t.Setenv("LENDING_CONFIG", path)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "0.85", cfg.Banks[1].Params.LiquidationThreshold.String())
	want, err := config.PerSecondRate("0.08")
	require.NoError(t, err)
	assert.Equal(t, want, cfg.Banks[1].Params.InterestRate)
}
