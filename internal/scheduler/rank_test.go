package scheduler

import (
	"testing"
)

type item struct {
	name   string
	profit float64
}

func (i item) Profit() float64 { return i.profit }

func TestRankByProfit(t *testing.T) {
	in := []item{
		{"a", 0.2},
		{"b", 0.75},
		{"c", 0.69},
		{"d", 1.0},
		{"e", 0.7},
		{"f", 0.2},
	}

	got := RankByProfit(in, 0.7)

	want := []string{"d", "b", "e", "c", "a", "f"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].name != name {
			t.Errorf("position %d = %s, want %s", i, got[i].name, name)
		}
	}

	if in[0].name != "a" || in[1].name != "b" {
		t.Error("input slice was reordered")
	}
}

func TestRankByProfitOrdering(t *testing.T) {
	in := []item{{"x", 0.1}, {"y", 0.9}, {"z", 0.5}, {"w", 0.8}, {"v", 0.7}}
	got := RankByProfit(in, 0.7)

	seenLow := false
	for i, it := range got {
		if it.profit < 0.7 {
			seenLow = true
		} else if seenLow {
			t.Fatalf("high-profit %s after a low-profit item", it.name)
		}
		if i > 0 && (got[i-1].profit >= 0.7) == (it.profit >= 0.7) && got[i-1].profit < it.profit {
			t.Errorf("%s (%.2f) ranked after %s (%.2f)", it.name, it.profit, got[i-1].name, got[i-1].profit)
		}
	}
}

func TestRankByProfitEmpty(t *testing.T) {
	if got := RankByProfit[item](nil, 0.7); len(got) != 0 {
		t.Errorf("RankByProfit(nil) = %v", got)
	}
}

func TestRankUsesConfiguredThreshold(t *testing.T) {
	s := newTestScheduler(t)
	got := Rank(s, []item{{"low", 0.69}, {"high", 0.7}})
	if got[0].name != "high" {
		t.Errorf("Rank() first = %s, want high", got[0].name)
	}
}
