package fx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert_UsesBaseCurrencyRates(t *testing.T) {
	conv := NewConverter(&Config{
		BaseCurrency:   "USD",
		OutputCurrency: "EUR",
		Rates:          map[string]float64{"USD": 1.0, "EUR": 1.10, "GBP": 1.25},
	})

	v, err := conv.Convert(100, "EUR", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 110.0, v, 1e-9)

	v, err = conv.Convert(100, "GBP", "EUR")
	require.NoError(t, err)
	assert.InDelta(t, 100*1.25/1.10, v, 1e-9)

	v, err = conv.Convert(42, "USD", "USD")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v, "same-currency conversion is identity")
}

func TestConvert_RoundTripRestoresAmount(t *testing.T) {
	conv := NewConverter(DefaultConfig())
	base, err := conv.ToBase(45000, "EUR")
	require.NoError(t, err)
	back, err := conv.Convert(base, "USD", "EUR")
	require.NoError(t, err)
	assert.InDelta(t, 45000, back, 1e-6)
}

func TestConvert_MissingRateIsCurrencyError(t *testing.T) {
	conv := NewConverter(&Config{BaseCurrency: "USD", Rates: map[string]float64{"USD": 1.0}})
	_, err := conv.Convert(100, "XYZ", "USD")
	require.Error(t, err)
	var cerr *CurrencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "XYZ", cerr.Currency)
}

func TestLoadConfig_MergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
crml_fx_config: "1.0"
base_currency: EUR
output_currency: GBP
rates:
  EUR: 1.0
  GBP: 1.17
  SEK: 0.088
as_of: "2026-01-31"
`), 0o644))

	cfg := LoadConfig(path)
	assert.Equal(t, "EUR", cfg.BaseCurrency)
	assert.Equal(t, "GBP", cfg.OutputCurrency)
	assert.Equal(t, 1.17, cfg.Rates["GBP"])
	assert.Equal(t, 0.088, cfg.Rates["SEK"], "file rates override defaults")
	assert.Contains(t, cfg.Rates, "JPY", "untouched defaults survive the merge")
}

func TestLoadConfig_MissingFileFallsBack(t *testing.T) {
	cfg := LoadConfig("/nonexistent/fx.yaml")
	assert.Equal(t, "USD", cfg.BaseCurrency)
	assert.Equal(t, DefaultRates["EUR"], cfg.Rates["EUR"])
}

func TestNormalizeCode_SymbolsAndCase(t *testing.T) {
	assert.Equal(t, "USD", NormalizeCode("$"))
	assert.Equal(t, "EUR", NormalizeCode("eur"))
	assert.Equal(t, "£", Symbol("GBP"))
	assert.Equal(t, "XXX", Symbol("XXX"), "unknown codes pass through")
}
