// Package fx normalizes monetary values between currencies using a static
// rate table. The rate convention is rates[CCY] = value of 1 unit of CCY
// expressed in the base currency.
package fx

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// CurrencyError marks an unresolvable rate for a referenced currency. It is
// fatal at plan time.
type CurrencyError struct {
	Currency string
}

func (e *CurrencyError) Error() string {
	return fmt.Sprintf("no FX rate defined for currency %q", e.Currency)
}

// Config is the FX configuration document.
type Config struct {
	CRMLFXConfig   string             `yaml:"crml_fx_config,omitempty"`
	BaseCurrency   string             `yaml:"base_currency"`
	OutputCurrency string             `yaml:"output_currency"`
	Rates          map[string]float64 `yaml:"rates"`
	AsOf           string             `yaml:"as_of,omitempty"`
}

// DefaultRates is the built-in rate table (value of 1 unit in USD). Used when
// no FX config is supplied.
var DefaultRates = map[string]float64{
	"USD": 1.0,
	"EUR": 1.09,
	"GBP": 1.27,
	"CHF": 1.12,
	"JPY": 0.0067,
	"SEK": 0.095,
	"NOK": 0.094,
	"DKK": 0.146,
	"CAD": 0.73,
	"AUD": 0.66,
}

var symbolToCode = map[string]string{
	"$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY", "Fr": "CHF",
}

var codeToSymbol = map[string]string{
	"USD": "$", "EUR": "€", "GBP": "£", "JPY": "¥", "CHF": "Fr",
}

// Symbol returns the display symbol for a currency code, or the input
// unchanged when unknown.
func Symbol(currency string) string {
	if s, ok := codeToSymbol[strings.ToUpper(currency)]; ok {
		return s
	}
	return currency
}

// NormalizeCode maps a currency symbol to its ISO code where known.
func NormalizeCode(currency string) string {
	if c, ok := symbolToCode[currency]; ok {
		return c
	}
	return strings.ToUpper(currency)
}

// DefaultConfig returns USD-based defaults with the built-in rate table.
func DefaultConfig() *Config {
	rates := make(map[string]float64, len(DefaultRates))
	for k, v := range DefaultRates {
		rates[k] = v
	}
	return &Config{BaseCurrency: "USD", OutputCurrency: "USD", Rates: rates}
}

// LoadConfig loads an FX config document, merging its rates over the
// defaults. An empty path returns the defaults. A broken file also falls back
// to defaults with a logged warning, per caller policy.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	if path == "" {
		return cfg
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Str("path", path).Err(err).Msg("Could not read FX config, using defaults")
		return cfg
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("Could not parse FX config, using defaults")
		return cfg
	}

	if loaded.BaseCurrency != "" {
		cfg.BaseCurrency = NormalizeCode(loaded.BaseCurrency)
	}
	if loaded.OutputCurrency != "" {
		cfg.OutputCurrency = NormalizeCode(loaded.OutputCurrency)
	} else {
		cfg.OutputCurrency = cfg.BaseCurrency
	}
	for ccy, rate := range loaded.Rates {
		cfg.Rates[NormalizeCode(ccy)] = rate
	}
	cfg.AsOf = loaded.AsOf
	return cfg
}

// Converter converts monetary amounts between currencies under a fixed rate
// table. Immutable once built; safe for concurrent use.
type Converter struct {
	base   string
	output string
	rates  map[string]float64
}

// NewConverter builds a converter from a config. The base currency always
// has an implicit rate of 1.
func NewConverter(cfg *Config) *Converter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	rates := make(map[string]float64, len(cfg.Rates)+1)
	for k, v := range cfg.Rates {
		rates[k] = v
	}
	if _, ok := rates[cfg.BaseCurrency]; !ok {
		rates[cfg.BaseCurrency] = 1.0
	}
	return &Converter{base: cfg.BaseCurrency, output: cfg.OutputCurrency, rates: rates}
}

// Base returns the base currency code.
func (c *Converter) Base() string { return c.base }

// Output returns the configured reporting currency code.
func (c *Converter) Output() string { return c.output }

func (c *Converter) rate(ccy string) (float64, error) {
	code := NormalizeCode(ccy)
	r, ok := c.rates[code]
	if !ok {
		return 0, &CurrencyError{Currency: code}
	}
	return r, nil
}

// Convert converts an amount between two currencies:
// amount_to = amount_from * rate_from / rate_to.
func (c *Converter) Convert(amount float64, from, to string) (float64, error) {
	if NormalizeCode(from) == NormalizeCode(to) {
		return amount, nil
	}
	rf, err := c.rate(from)
	if err != nil {
		return 0, err
	}
	rt, err := c.rate(to)
	if err != nil {
		return 0, err
	}
	return amount * rf / rt, nil
}

// ToBase normalizes an amount into the base currency.
func (c *Converter) ToBase(amount float64, from string) (float64, error) {
	return c.Convert(amount, from, c.base)
}

// FromBase converts a base-currency amount into an output currency.
func (c *Converter) FromBase(amount float64, to string) (float64, error) {
	return c.Convert(amount, c.base, to)
}

// HasRate reports whether a rate is defined for the currency.
func (c *Converter) HasRate(ccy string) bool {
	_, ok := c.rates[NormalizeCode(ccy)]
	return ok
}
