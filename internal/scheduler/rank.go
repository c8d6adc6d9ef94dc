package scheduler

import (
	"slices"
)

// Ranked is anything with a profit score.
type Ranked interface {
	Profit() float64
}

// RankByProfit orders items with profit >= highProfit before the rest,
// each group sorted by profit descending. Equal profits keep input order.
// The input slice is not modified.
func RankByProfit[T Ranked](items []T, highProfit float64) []T {
	high := make([]T, 0, len(items))
	low := make([]T, 0, len(items))
	for _, it := range items {
		if it.Profit() >= highProfit {
			high = append(high, it)
		} else {
			low = append(low, it)
		}
	}

	byProfitDesc := func(a, b T) int {
		pa, pb := a.Profit(), b.Profit()
		switch {
		case pa > pb:
			return -1
		case pa < pb:
			return 1
		default:
			return 0
		}
	}
	slices.SortStableFunc(high, byProfitDesc)
	slices.SortStableFunc(low, byProfitDesc)

	return append(high, low...)
}
