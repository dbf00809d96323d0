package domain

import "strings"

// AssetCategory groups instruments for reporting purposes.
type AssetCategory string

const (
	AssetCategoryCrypto AssetCategory = "crypto"
	AssetCategoryForex  AssetCategory = "forex"
	AssetCategoryMetal  AssetCategory = "metal"
	AssetCategoryIndex  AssetCategory = "index"
)

// Asset is an immutable instrument identity. Equality is by symbol.
type Asset struct {
	Symbol   string
	Category AssetCategory
}

// NewAsset validates and normalizes the symbol.
func NewAsset(symbol string, category AssetCategory) (Asset, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Asset{}, validationErrorf("asset.symbol", "symbol is required")
	}
	switch category {
	case AssetCategoryCrypto, AssetCategoryForex, AssetCategoryMetal, AssetCategoryIndex:
	default:
		return Asset{}, validationErrorf("asset.category", "unknown category %q", category)
	}
	return Asset{Symbol: symbol, Category: category}, nil
}

// Equal compares by symbol only.
func (a Asset) Equal(o Asset) bool { return a.Symbol == o.Symbol }
