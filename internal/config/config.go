// Package config loads the daemon configuration from LENDING_* environment
// variables and an optional YAML market file.
package config

import (
	"LendLedger/internal/lending"
	fpmath "LendLedger/internal/math"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultAuthority configures banks declared without an authority.
var DefaultAuthority = uuid.MustParse("00000000-0000-0000-0000-00000000a11c")

// BankConfig is one bank of the market pair, initialized on startup when
// it does not exist yet.
type BankConfig struct {
	Asset     lending.AssetID
	Authority uuid.UUID
	Params    lending.BankParams
}

type Config struct {
	Banks       []BankConfig
	MaxPriceAge time.Duration

	// Empty disables the event log, projections and history queries.
	PostgresDSN   string
	MigrationsDir string
	// Empty disables NATS ingestion and outbound events.
	NATSURL string

	StorePath   string
	JournalPath string

	GRPCAddr string
	HTTPAddr string

	PersistChanSize     int
	ProjectionChanSize  int
	PublishChanSize     int
	PersistBatchSize    int
	PersistFlushTimeout time.Duration
	IdempotencyCapacity int

	LogLevel string
}

// Default reads the environment. The market is SOL/USDC unless a YAML file
// names another pair.
func Default() Config {
	return Config{
		Banks:               DefaultBanks(),
		MaxPriceAge:         envDurationOrDefault("LENDING_MAX_PRICE_AGE", 60*time.Second),
		PostgresDSN:         envOrDefault("LENDING_POSTGRES_DSN", ""),
		MigrationsDir:       envOrDefault("LENDING_MIGRATIONS_DIR", "migrations"),
		NATSURL:             envOrDefault("LENDING_NATS_URL", ""),
		StorePath:           envOrDefault("LENDING_STORE_PATH", "data/ledger.db"),
		JournalPath:         envOrDefault("LENDING_JOURNAL_PATH", "data/custody.db"),
		GRPCAddr:            envOrDefault("LENDING_GRPC_ADDR", ":9090"),
		HTTPAddr:            envOrDefault("LENDING_HTTP_ADDR", ":8080"),
		PersistChanSize:     envIntOrDefault("LENDING_PERSIST_CHAN_SIZE", 1024),
		ProjectionChanSize:  envIntOrDefault("LENDING_PROJECTION_CHAN_SIZE", 2048),
		PublishChanSize:     envIntOrDefault("LENDING_PUBLISH_CHAN_SIZE", 2048),
		PersistBatchSize:    envIntOrDefault("LENDING_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout: envDurationOrDefault("LENDING_PERSIST_FLUSH_TIMEOUT", 10*time.Millisecond),
		IdempotencyCapacity: envIntOrDefault("LENDING_IDEMPOTENCY_CAPACITY", 100_000),
		LogLevel:            envOrDefault("LENDING_LOG_LEVEL", "info"),
	}
}

// DefaultBanks is SOL/USDC with threshold 0.8, max LTV 0.75, bonus 0.05,
// close factor 0.5 and 5% APR.
func DefaultBanks() []BankConfig {
	params := lending.BankParams{
		LiquidationThreshold:   fpmath.MustFraction("0.8"),
		MaxLTV:                 fpmath.MustFraction("0.75"),
		LiquidationBonus:       fpmath.MustFraction("0.05"),
		LiquidationCloseFactor: lending.DefaultCloseFactor,
		InterestRate:           lending.DefaultInterestRate,
	}
	return []BankConfig{
		{Asset: "SOL", Authority: DefaultAuthority, Params: params},
		{Asset: "USDC", Authority: DefaultAuthority, Params: params},
	}
}

// Load is Default with the YAML file at LENDING_CONFIG applied on top.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("LENDING_CONFIG"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return Config{}, err
		}
	}
	return cfg, cfg.Validate()
}

// Assets returns the market pair in bank order.
func (c Config) Assets() [2]lending.AssetID {
	var pair [2]lending.AssetID
	for i := 0; i < len(c.Banks) && i < 2; i++ {
		pair[i] = c.Banks[i].Asset
	}
	return pair
}

func (c Config) Validate() error {
	if len(c.Banks) != 2 {
		return errors.Errorf("config: market needs exactly two banks, got %d", len(c.Banks))
	}
	if c.Banks[0].Asset == "" || c.Banks[0].Asset == c.Banks[1].Asset {
		return errors.Errorf("config: banks need two distinct assets, got %q and %q", c.Banks[0].Asset, c.Banks[1].Asset)
	}
	for _, b := range c.Banks {
		if err := lending.ValidateBankParams(b.Params.WithDefaults()); err != nil {
			return errors.Wrapf(err, "config: bank %s", b.Asset)
		}
	}
	if c.MaxPriceAge <= 0 {
		return errors.New("config: max price age must be positive")
	}
	if c.GRPCAddr == "" || c.HTTPAddr == "" {
		return errors.New("config: grpc and http addresses are required")
	}
	if c.StorePath == "" || c.JournalPath == "" {
		return errors.New("config: store and journal paths are required")
	}
	if c.PersistBatchSize <= 0 {
		return errors.New("config: persist batch size must be positive")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// fileConfig is the YAML layout. Fractions are decimal strings so they
// parse exactly.
type fileConfig struct {
	MaxPriceAge string     `yaml:"max_price_age"`
	Banks       []fileBank `yaml:"banks"`
}

type fileBank struct {
	Asset                  string `yaml:"asset"`
	Authority              string `yaml:"authority"`
	LiquidationThreshold   string `yaml:"liquidation_threshold"`
	MaxLTV                 string `yaml:"max_ltv"`
	LiquidationBonus       string `yaml:"liquidation_bonus"`
	LiquidationCloseFactor string `yaml:"liquidation_close_factor"`
	InterestAPR            string `yaml:"interest_apr"`
}

// ApplyFile overrides the market section from a YAML file.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "config: read %s", path)
	}
	return c.ApplyYAML(data)
}

func (c *Config) ApplyYAML(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return errors.Wrap(err, "config: parse yaml")
	}

	if fc.MaxPriceAge != "" {
		d, err := time.ParseDuration(fc.MaxPriceAge)
		if err != nil {
			return errors.Wrap(err, "config: max_price_age")
		}
		c.MaxPriceAge = d
	}

	if len(fc.Banks) == 0 {
		return nil
	}
	banks := make([]BankConfig, 0, len(fc.Banks))
	for _, fb := range fc.Banks {
		b, err := fb.bank()
		if err != nil {
			return errors.Wrapf(err, "config: bank %q", fb.Asset)
		}
		banks = append(banks, b)
	}
	c.Banks = banks
	return nil
}

func (fb fileBank) bank() (BankConfig, error) {
	b := BankConfig{Asset: lending.AssetID(fb.Asset), Authority: DefaultAuthority}
	if fb.Authority != "" {
		id, err := uuid.Parse(fb.Authority)
		if err != nil {
			return BankConfig{}, errors.Wrap(err, "authority")
		}
		b.Authority = id
	}

	var err error
	fields := []struct {
		name string
		raw  string
		dst  *fpmath.Fraction
	}{
		{"liquidation_threshold", fb.LiquidationThreshold, &b.Params.LiquidationThreshold},
		{"max_ltv", fb.MaxLTV, &b.Params.MaxLTV},
		{"liquidation_bonus", fb.LiquidationBonus, &b.Params.LiquidationBonus},
		{"liquidation_close_factor", fb.LiquidationCloseFactor, &b.Params.LiquidationCloseFactor},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		if *f.dst, err = fpmath.ParseFraction(f.raw); err != nil {
			return BankConfig{}, errors.Wrap(err, f.name)
		}
	}
	if fb.InterestAPR != "" {
		if b.Params.InterestRate, err = PerSecondRate(fb.InterestAPR); err != nil {
			return BankConfig{}, errors.Wrap(err, "interest_apr")
		}
	}
	return b, nil
}

// PerSecondRate converts an annual rate such as "0.05" into the per-second
// fraction banks accrue with, rounded to the fraction's precision.
func PerSecondRate(apr string) (fpmath.Fraction, error) {
	d, err := decimal.NewFromString(apr)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative rate %s", apr)
	}
	perSecond := d.DivRound(decimal.NewFromInt(fpmath.SecondsPerYear), fpmath.FractionDecimals)
	return fpmath.FractionFromDecimal(perSecond)
}
