package vault

import "math/big"

// Rounding selects the truncation direction of a conversion. Call sites always
// round in the vault's favour: shares minted on deposit round down, assets
// charged on mint round up, shares burned on withdraw round up, assets paid on
// redeem round down.
type Rounding uint8

const (
	RoundDown Rounding = iota
	RoundUp
)

// mulDiv computes amount * numerator / denominator with the requested rounding.
func mulDiv(amount, numerator, denominator *big.Int, rounding Rounding) *big.Int {
	result := new(big.Int).Mul(amount, numerator)
	remainder := new(big.Int)
	result.QuoRem(result, denominator, remainder)
	if rounding == RoundUp && remainder.Sign() != 0 {
		result.Add(result, big.NewInt(1))
	}
	return result
}

// sharesForAssets converts an asset amount to shares given the circulating
// supply and total assets.
//
// With zero supply the conversion is the 1:1 bootstrap identity. With nonzero
// supply but zero assets the protocol is fully devalued and deposits mint
// nothing. The full-balance sentinel passes through unchanged.
func sharesForAssets(assets, totalSupply, totalAssets *big.Int, rounding Rounding) *big.Int {
	if isMaxSentinel(assets) {
		return new(big.Int).Set(assets)
	}
	if totalSupply.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	if totalAssets.Sign() == 0 {
		return big.NewInt(0)
	}
	return mulDiv(assets, totalSupply, totalAssets, rounding)
}

// assetsForShares converts a share amount to assets given the circulating
// supply and total assets. With zero supply the share amount is returned
// unchanged (degenerate identity).
func assetsForShares(shares, totalSupply, totalAssets *big.Int, rounding Rounding) *big.Int {
	if isMaxSentinel(shares) {
		return new(big.Int).Set(shares)
	}
	if totalSupply.Sign() == 0 {
		return new(big.Int).Set(shares)
	}
	return mulDiv(shares, totalAssets, totalSupply, rounding)
}
