package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"cratsale/crypto"
	"cratsale/native/sale"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for saled.
type Config struct {
	ListenAddress string           `yaml:"listen" toml:"listen"`
	Environment   string           `yaml:"environment" toml:"environment"`
	Sale          SaleConfig       `yaml:"sale" toml:"sale"`
	Tokens        []Token          `yaml:"tokens" toml:"tokens"`
	Allocations   []Allocation     `yaml:"allocations" toml:"allocations"`
	State         StateConfig      `yaml:"state" toml:"state"`
	Journal       JournalConfig    `yaml:"journal" toml:"journal"`
	Auth          AuthConfig       `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig  `yaml:"rate_limit" toml:"rate_limit"`
	Log           LogConfig        `yaml:"log" toml:"log"`
	Telemetry     TelemetryConfig  `yaml:"telemetry" toml:"telemetry"`
	Server        HTTPServerConfig `yaml:"server" toml:"server"`
}

// SaleConfig describes the sale's identity and initial parameters. Tokens are
// referenced by symbol.
type SaleConfig struct {
	Address         string      `yaml:"address" toml:"address"`
	Owner           string      `yaml:"owner" toml:"owner"`
	Token           string      `yaml:"token" toml:"token"`
	PaymentTokens   []string    `yaml:"payment_tokens" toml:"payment_tokens"`
	ReferralRateBps *uint64     `yaml:"referral_rate_bps" toml:"referral_rate_bps"`
	StartPaused     bool        `yaml:"start_paused" toml:"start_paused"`
	BasePrice       string      `yaml:"base_price" toml:"base_price"`
	PriceSteps      []PriceStep `yaml:"price_steps" toml:"price_steps"`
	BonusTiers      []BonusTier `yaml:"bonus_tiers" toml:"bonus_tiers"`
}

// PriceStep overrides one rung of the price ladder.
type PriceStep struct {
	Threshold string `yaml:"threshold" toml:"threshold"`
	Price     string `yaml:"price" toml:"price"`
}

// BonusTier overrides one bonus tier.
type BonusTier struct {
	Threshold string `yaml:"threshold" toml:"threshold"`
	RateBps   uint64 `yaml:"rate_bps" toml:"rate_bps"`
}

// Token registers a token in the ledger.
type Token struct {
	Symbol   string `yaml:"symbol" toml:"symbol"`
	Address  string `yaml:"address" toml:"address"`
	Decimals uint8  `yaml:"decimals" toml:"decimals"`
}

// Allocation mints an initial balance when a token is first registered.
type Allocation struct {
	Token  string `yaml:"token" toml:"token"`
	Holder string `yaml:"holder" toml:"holder"`
	Amount string `yaml:"amount" toml:"amount"`
}

// StateConfig selects the key/value backend for ledger and sale state.
type StateConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// JournalConfig selects the relational store for the purchase journal.
type JournalConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	// DSN is a postgres connection string or, for sqlite, a file path.
	DSN string `yaml:"dsn" toml:"dsn"`
}

// AuthConfig tunes signed-request and operator authentication.
type AuthConfig struct {
	MaxClockSkew Duration       `yaml:"max_clock_skew" toml:"max_clock_skew"`
	NonceTTL     Duration       `yaml:"nonce_ttl" toml:"nonce_ttl"`
	Operator     OperatorConfig `yaml:"operator" toml:"operator"`
}

// OperatorConfig enables JWT bearer access to the journal.
type OperatorConfig struct {
	HMACSecret string `yaml:"hmac_secret" toml:"hmac_secret"`
	Issuer     string `yaml:"issuer" toml:"issuer"`
	Audience   string `yaml:"audience" toml:"audience"`
}

// RateLimitConfig throttles signed write requests per caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	Traces      bool    `yaml:"traces" toml:"traces"`
	Metrics     bool    `yaml:"metrics" toml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}

// HTTPServerConfig holds server timeouts.
type HTTPServerConfig struct {
	ReadTimeout     Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// Load reads configuration from the supplied path. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("decode config: unknown key %q", undecoded[0].String())
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "leveldb"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "/var/data/saled/state"
	}
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	if cfg.Journal.DSN == "" && cfg.Journal.Driver == "sqlite" {
		cfg.Journal.DSN = "/var/data/saled/journal.sqlite"
	}
	if cfg.Auth.MaxClockSkew.Duration == 0 {
		cfg.Auth.MaxClockSkew.Duration = 5 * time.Minute
	}
	if cfg.Auth.NonceTTL.Duration == 0 {
		cfg.Auth.NonceTTL.Duration = 24 * time.Hour
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Server.ReadTimeout.Duration == 0 {
		cfg.Server.ReadTimeout.Duration = 10 * time.Second
	}
	if cfg.Server.WriteTimeout.Duration == 0 {
		cfg.Server.WriteTimeout.Duration = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout.Duration == 0 {
		cfg.Server.ShutdownTimeout.Duration = 5 * time.Second
	}
	for i := range cfg.Tokens {
		if cfg.Tokens[i].Decimals == 0 {
			cfg.Tokens[i].Decimals = sale.Decimals
		}
	}
}

func validate(cfg Config) error {
	if len(cfg.Tokens) == 0 {
		return fmt.Errorf("at least one token must be configured")
	}
	symbols := make(map[string]struct{}, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(token.Symbol))
		if symbol == "" {
			return fmt.Errorf("token symbol required")
		}
		if _, dup := symbols[symbol]; dup {
			return fmt.Errorf("duplicate token symbol %s", symbol)
		}
		symbols[symbol] = struct{}{}
		if _, err := crypto.ParseAddress(token.Address); err != nil {
			return fmt.Errorf("token %s: %w", symbol, err)
		}
		if token.Decimals != sale.Decimals {
			return fmt.Errorf("token %s: only %d decimals are supported", symbol, sale.Decimals)
		}
	}
	for i, alloc := range cfg.Allocations {
		if _, ok := symbols[strings.ToUpper(strings.TrimSpace(alloc.Token))]; !ok {
			return fmt.Errorf("allocation %d: unknown token %q", i, alloc.Token)
		}
		if _, err := crypto.ParseAddress(alloc.Holder); err != nil {
			return fmt.Errorf("allocation %d: %w", i, err)
		}
		if _, err := sale.ParseUnits(alloc.Amount); err != nil {
			return fmt.Errorf("allocation %d: %w", i, err)
		}
	}
	switch cfg.State.Backend {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("unsupported state backend %q", cfg.State.Backend)
	}
	switch cfg.Journal.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Journal.DSN) == "" {
			return fmt.Errorf("journal.dsn required for postgres")
		}
	default:
		return fmt.Errorf("unsupported journal driver %q", cfg.Journal.Driver)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if _, err := cfg.SaleParams(); err != nil {
		return err
	}
	return nil
}

// TokenAddress resolves a configured symbol.
func (c Config) TokenAddress(symbol string) (common.Address, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, token := range c.Tokens {
		if strings.ToUpper(strings.TrimSpace(token.Symbol)) == symbol {
			return common.HexToAddress(token.Address), true
		}
	}
	return common.Address{}, false
}

// SaleParams converts the sale section into engine configuration. Omitted
// pricing tables fall back to the reference ladder and bonus table. A
// base_price without price_steps yields a flat ladder at that price.
func (c Config) SaleParams() (sale.Config, error) {
	address, err := crypto.ParseAddress(c.Sale.Address)
	if err != nil {
		return sale.Config{}, fmt.Errorf("sale.address: %w", err)
	}
	owner, err := crypto.ParseAddress(c.Sale.Owner)
	if err != nil {
		return sale.Config{}, fmt.Errorf("sale.owner: %w", err)
	}
	saleToken, ok := c.TokenAddress(c.Sale.Token)
	if !ok {
		return sale.Config{}, fmt.Errorf("sale.token: unknown token %q", c.Sale.Token)
	}
	payments := make([]common.Address, 0, len(c.Sale.PaymentTokens))
	for _, symbol := range c.Sale.PaymentTokens {
		token, ok := c.TokenAddress(symbol)
		if !ok {
			return sale.Config{}, fmt.Errorf("sale.payment_tokens: unknown token %q", symbol)
		}
		payments = append(payments, token)
	}
	params := sale.DefaultConfig(address, saleToken, owner, payments...)
	params.StartPaused = c.Sale.StartPaused
	if c.Sale.ReferralRateBps != nil {
		params.ReferralRateBps = *c.Sale.ReferralRateBps
	}
	if strings.TrimSpace(c.Sale.BasePrice) != "" || len(c.Sale.PriceSteps) > 0 {
		ladder, err := c.priceLadder()
		if err != nil {
			return sale.Config{}, err
		}
		params.Ladder = ladder
	}
	if len(c.Sale.BonusTiers) > 0 {
		tiers := make([]sale.BonusTier, 0, len(c.Sale.BonusTiers))
		for i, tier := range c.Sale.BonusTiers {
			threshold, err := sale.ParseUnits(tier.Threshold)
			if err != nil {
				return sale.Config{}, fmt.Errorf("sale.bonus_tiers[%d]: %w", i, err)
			}
			tiers = append(tiers, sale.BonusTier{Threshold: threshold, RateBps: tier.RateBps})
		}
		params.Bonus = sale.BonusTable{Tiers: tiers}
	}
	if err := params.Validate(); err != nil {
		return sale.Config{}, err
	}
	return params, nil
}

func (c Config) priceLadder() (sale.PriceLadder, error) {
	ladder := sale.DefaultPriceLadder()
	if raw := strings.TrimSpace(c.Sale.BasePrice); raw != "" {
		base, err := sale.ParseUnits(raw)
		if err != nil {
			return sale.PriceLadder{}, fmt.Errorf("sale.base_price: %w", err)
		}
		ladder.Base = base
		// The reference steps only fit the reference base.
		ladder.Steps = nil
	}
	if len(c.Sale.PriceSteps) > 0 {
		steps := make([]sale.PriceStep, 0, len(c.Sale.PriceSteps))
		for i, step := range c.Sale.PriceSteps {
			threshold, err := sale.ParseUnits(step.Threshold)
			if err != nil {
				return sale.PriceLadder{}, fmt.Errorf("sale.price_steps[%d].threshold: %w", i, err)
			}
			price, err := sale.ParseUnits(step.Price)
			if err != nil {
				return sale.PriceLadder{}, fmt.Errorf("sale.price_steps[%d].price: %w", i, err)
			}
			steps = append(steps, sale.PriceStep{Threshold: threshold, Price: price})
		}
		ladder.Steps = steps
	}
	return ladder, nil
}
