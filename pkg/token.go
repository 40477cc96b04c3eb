package veil

import (
	"github.com/shopspring/decimal"
)

// TokenInfo is the read surface shared by every concrete token kind.
// Amounts are always handled as decimals and persisted as strings.
type TokenInfo interface {
	Symbol() string
	AssetID() string
	KernelAssetID() string
	ChainID() string
	DecimalUSDPrice() decimal.Decimal
}

// MixinToken is a network-native token.
type MixinToken struct {
	TokenSymbol   string `json:"symbol"`
	TokenAssetID  string `json:"asset_id"`
	TokenKernelID string `json:"kernel_asset_id"`
	TokenChainID  string `json:"chain_id"`
	USDPrice      string `json:"price_usd"`
}

func (t MixinToken) Symbol() string        { return t.TokenSymbol }
func (t MixinToken) AssetID() string       { return t.TokenAssetID }
func (t MixinToken) KernelAssetID() string { return t.TokenKernelID }
func (t MixinToken) ChainID() string       { return t.TokenChainID }

func (t MixinToken) DecimalUSDPrice() decimal.Decimal {
	price, err := decimal.NewFromString(t.USDPrice)
	if err != nil {
		return decimal.Zero
	}
	return price
}

// Web3Token is an external-chain token surfaced through the same
// interface so payment code never branches on the token kind.
type Web3Token struct {
	TokenSymbol   string `json:"symbol"`
	TokenAssetID  string `json:"asset_id"`
	TokenKernelID string `json:"kernel_asset_id"`
	TokenChainID  string `json:"chain_id"`
	USDPrice      string `json:"price_usd"`
}

func (t Web3Token) Symbol() string        { return t.TokenSymbol }
func (t Web3Token) AssetID() string       { return t.TokenAssetID }
func (t Web3Token) KernelAssetID() string { return t.TokenKernelID }
func (t Web3Token) ChainID() string       { return t.TokenChainID }

func (t Web3Token) DecimalUSDPrice() decimal.Decimal {
	price, err := decimal.NewFromString(t.USDPrice)
	if err != nil {
		return decimal.Zero
	}
	return price
}

// FiatValue converts a token amount to its fiat value at the current price.
func FiatValue(token TokenInfo, amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(token.DecimalUSDPrice())
}
