package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchcore/internal/common"
	"matchcore/internal/money"
)

const sampleConfig = `
symbols:
  BTC-USD:
    tick_size: "0.01"
    lot_size: "0.0001"
    min_price: "1"
    max_price: "1000000"
    max_order_qty: "1000"
    default_stp: "cancelmaker"
    inbox_high_water: 500
  ETH-USD:
    tick_size: "0.01"
    lot_size: "0.001"
    min_price: "1"
    max_price: "100000"
    max_order_qty: "5000"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDecodesSymbolMetadata(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	reg, err := Load(path)
	require.NoError(t, err)

	meta, err := reg.Lookup("BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", meta.Symbol)
	assert.True(t, meta.TickSize.Equal(money.MustFromString("0.01")))
	assert.True(t, meta.LotSize.Equal(money.MustFromString("0.0001")))
	assert.Equal(t, common.STPCancelMaker, meta.DefaultSTP)
	assert.Equal(t, 500, meta.InboxHighWater)
}

func TestLoadAppliesDefaultInboxHighWaterAndSTP(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	reg, err := Load(path)
	require.NoError(t, err)

	meta, err := reg.Lookup("ETH-USD")
	require.NoError(t, err)
	assert.Equal(t, common.STPAllow, meta.DefaultSTP)
	assert.Equal(t, defaultInboxHighWater, meta.InboxHighWater)
}

func TestLookupUnknownSymbol(t *testing.T) {
	reg := New(SymbolMetadata{Symbol: "BTC-USD"})
	_, err := reg.Lookup("DOGE-USD")
	assert.ErrorIs(t, err, common.ErrUnknownSymbol)
}

func TestValidatePriceRejectsOffTick(t *testing.T) {
	meta := SymbolMetadata{
		TickSize: money.MustFromString("0.01"),
		MinPrice: money.MustFromString("1"),
		MaxPrice: money.MustFromString("100"),
	}
	assert.NoError(t, meta.ValidatePrice(money.MustFromString("10.01")))
	assert.ErrorIs(t, meta.ValidatePrice(money.MustFromString("10.005")), common.ErrInvalidPrice)
	assert.ErrorIs(t, meta.ValidatePrice(money.MustFromString("0.5")), common.ErrInvalidPrice)
	assert.ErrorIs(t, meta.ValidatePrice(money.MustFromString("200")), common.ErrInvalidPrice)
}

func TestValidateQuantityRejectsOffLotOrOversize(t *testing.T) {
	meta := SymbolMetadata{
		LotSize:     money.MustFromString("0.001"),
		MaxOrderQty: money.MustFromString("10"),
	}
	assert.NoError(t, meta.ValidateQuantity(money.MustFromString("0.5")))
	assert.ErrorIs(t, meta.ValidateQuantity(money.MustFromString("0.0005")), common.ErrInvalidQuantity)
	assert.ErrorIs(t, meta.ValidateQuantity(money.MustFromString("11")), common.ErrInvalidQuantity)
}
