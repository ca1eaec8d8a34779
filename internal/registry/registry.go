// Package registry holds the read-only-after-startup table of per-symbol
// trading metadata (spec §3 "Symbol metadata") plus the dispatcher tuning
// that accompanies it, loaded from YAML with environment overrides via
// viper (grounded on the reference pack's polymarket-mm config package).
package registry

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"matchcore/internal/common"
	"matchcore/internal/money"
)

// SymbolMetadata carries the static trading parameters for one symbol.
// The engine refuses any order violating these.
type SymbolMetadata struct {
	Symbol         string
	TickSize       money.Decimal // prices must be an integer multiple
	LotSize        money.Decimal // quantities must be an integer multiple
	MinPrice       money.Decimal
	MaxPrice       money.Decimal
	MaxOrderQty    money.Decimal
	DefaultSTP     common.SelfTradePolicy
	InboxHighWater int // commands queued before Overloaded is returned
}

// ValidatePrice checks a price against tick size and price bounds.
func (m SymbolMetadata) ValidatePrice(price money.Decimal) error {
	if !price.IsPositive() {
		return common.ErrInvalidPrice
	}
	if price.LessThan(m.MinPrice) || price.GreaterThan(m.MaxPrice) {
		return common.ErrInvalidPrice
	}
	if !price.DivisibleBy(m.TickSize) {
		return common.ErrInvalidPrice
	}
	return nil
}

// ValidateQuantity checks a quantity against lot size and the max order size.
func (m SymbolMetadata) ValidateQuantity(qty money.Decimal) error {
	if !qty.IsPositive() {
		return common.ErrInvalidQuantity
	}
	if qty.GreaterThan(m.MaxOrderQty) {
		return common.ErrInvalidQuantity
	}
	if !qty.DivisibleBy(m.LotSize) {
		return common.ErrInvalidQuantity
	}
	return nil
}

// Registry is the static, read-only-after-startup symbol table.
type Registry struct {
	symbols map[string]SymbolMetadata
}

// New builds a Registry from an explicit metadata set. Used directly by
// tests and by Load once viper has decoded the configuration file.
func New(symbols ...SymbolMetadata) *Registry {
	r := &Registry{symbols: make(map[string]SymbolMetadata, len(symbols))}
	for _, s := range symbols {
		r.symbols[s.Symbol] = s
	}
	return r
}

// Lookup returns the metadata for symbol, or ErrUnknownSymbol.
func (r *Registry) Lookup(symbol string) (SymbolMetadata, error) {
	m, ok := r.symbols[symbol]
	if !ok {
		return SymbolMetadata{}, common.ErrUnknownSymbol
	}
	return m, nil
}

// Symbols returns every configured symbol, in no particular order.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.symbols))
	for s := range r.symbols {
		out = append(out, s)
	}
	return out
}

// rawSymbolConfig mirrors one symbol's entry in the YAML config file.
type rawSymbolConfig struct {
	TickSize       string `mapstructure:"tick_size"`
	LotSize        string `mapstructure:"lot_size"`
	MinPrice       string `mapstructure:"min_price"`
	MaxPrice       string `mapstructure:"max_price"`
	MaxOrderQty    string `mapstructure:"max_order_qty"`
	DefaultSTP     string `mapstructure:"default_stp"`
	InboxHighWater int    `mapstructure:"inbox_high_water"`
}

// fileConfig is the top-level shape of the engine configuration file.
type fileConfig struct {
	Symbols map[string]rawSymbolConfig `mapstructure:"symbols"`
}

const defaultInboxHighWater = 10000

func parseSTP(s string) common.SelfTradePolicy {
	switch strings.ToLower(s) {
	case "canceltaker":
		return common.STPCancelTaker
	case "cancelmaker":
		return common.STPCancelMaker
	case "cancelboth":
		return common.STPCancelBoth
	default:
		return common.STPAllow
	}
}

// Load reads symbol metadata from configPath (a YAML file) with
// environment overrides of the form ENGINE__SYMBOLS__<NAME>__<FIELD>,
// mirroring spec §6's "__ as hierarchy separator" convention.
func Load(configPath string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	// viper joins prefix and key with one "_"; the extra one here makes
	// the prefix separator "__" like every other level.
	v.SetEnvPrefix("ENGINE_")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("registry: read config: %w", err)
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("registry: decode config: %w", err)
	}

	symbols := make([]SymbolMetadata, 0, len(fc.Symbols))
	for name, raw := range fc.Symbols {
		// viper lower-cases every key it decodes, map keys included;
		// symbols are upper-case ("BTC-USD").
		meta, err := decodeSymbol(strings.ToUpper(name), raw)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, meta)
	}
	return New(symbols...), nil
}

func decodeSymbol(name string, raw rawSymbolConfig) (SymbolMetadata, error) {
	tick, err := money.NewFromString(raw.TickSize)
	if err != nil {
		return SymbolMetadata{}, fmt.Errorf("registry: symbol %s tick_size: %w", name, err)
	}
	lot, err := money.NewFromString(raw.LotSize)
	if err != nil {
		return SymbolMetadata{}, fmt.Errorf("registry: symbol %s lot_size: %w", name, err)
	}
	minPrice, err := money.NewFromString(raw.MinPrice)
	if err != nil {
		return SymbolMetadata{}, fmt.Errorf("registry: symbol %s min_price: %w", name, err)
	}
	maxPrice, err := money.NewFromString(raw.MaxPrice)
	if err != nil {
		return SymbolMetadata{}, fmt.Errorf("registry: symbol %s max_price: %w", name, err)
	}
	maxQty, err := money.NewFromString(raw.MaxOrderQty)
	if err != nil {
		return SymbolMetadata{}, fmt.Errorf("registry: symbol %s max_order_qty: %w", name, err)
	}

	highWater := raw.InboxHighWater
	if highWater <= 0 {
		highWater = defaultInboxHighWater
	}

	return SymbolMetadata{
		Symbol:         name,
		TickSize:       tick,
		LotSize:        lot,
		MinPrice:       minPrice,
		MaxPrice:       maxPrice,
		MaxOrderQty:    maxQty,
		DefaultSTP:     parseSTP(raw.DefaultSTP),
		InboxHighWater: highWater,
	}, nil
}
