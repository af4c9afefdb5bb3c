package domain

import "github.com/shopspring/decimal"

// Amounts are the three money figures shown at checkout and sent with an order.
type Amounts struct {
	Subtotal decimal.Decimal
	Delivery decimal.Decimal
	Total    decimal.Decimal
}

// ComputeAmounts derives subtotal and total from the given lines and delivery fee.
func ComputeAmounts(lines []CartLine, delivery decimal.Decimal) Amounts {
	subtotal := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		subtotal = subtotal.Add(line.LineTotal())
	}
	return Amounts{
		Subtotal: subtotal,
		Delivery: delivery,
		Total:    subtotal.Add(delivery),
	}
}

// FormatMoney renders the amount with exactly two decimal places.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}
