package marketplace

// Marketplace service fee: 5% of the subtotal, rounded up to the next cent.
const feePercent = 5

func ServiceFeeCents(subtotalCents int64) int64 {
	return (subtotalCents*feePercent + 99) / 100
}

// OrderTotals returns (serviceFee, total) for a winning bid amount.
func OrderTotals(subtotalCents int64) (int64, int64) {
	fee := ServiceFeeCents(subtotalCents)
	return fee, subtotalCents + fee
}
