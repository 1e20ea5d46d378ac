package shared

import "math"

// CalculateLineTotal returns the post-discount net subtotal of a single line.
func CalculateLineTotal(quantity, unitPrice, discountPercent float64) float64 {
	return RoundMoney(quantity * unitPrice * (1 - discountPercent/100))
}

// CalculateLineTotals splits a line into its discount, tax and gross parts.
func CalculateLineTotals(quantity, unitPrice, discountPercent, taxPercent float64) (discountAmount, taxAmount, lineTotal float64) {
	grossAmount := quantity * unitPrice
	discountAmount = grossAmount * (discountPercent / 100)
	netAmount := grossAmount - discountAmount
	taxAmount = netAmount * (taxPercent / 100)
	lineTotal = netAmount + taxAmount
	return RoundMoney(discountAmount), RoundMoney(taxAmount), RoundMoney(lineTotal)
}

// RoundMoney rounds to two decimal places, half away from zero.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
