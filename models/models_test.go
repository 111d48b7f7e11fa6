package models

import (
	"testing"
	"time"
)

func TestPricePointHasData(t *testing.T) {
	tests := []struct {
		name string
		p    PricePoint
		want bool
	}{
		{"empty", PricePoint{}, false},
		{"bid only", PricePoint{Bid: 101}, true},
		{"ask only", PricePoint{Ask: 100}, true},
		{"both", PricePoint{Bid: 101, Ask: 100}, true},
	}
	for _, tt := range tests {
		if got := tt.p.HasData(); got != tt.want {
			t.Errorf("%s: HasData() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPricePointFreshness(t *testing.T) {
	now := time.Now()
	threshold := 30 * time.Second

	fresh := PricePoint{Timestamp: now.Add(-5 * time.Second).UnixMilli()}
	if !fresh.IsFresh(now, threshold) {
		t.Fatalf("point aged 5s should be fresh at 30s threshold")
	}

	stale := PricePoint{Timestamp: now.Add(-31 * time.Second).UnixMilli()}
	if stale.IsFresh(now, threshold) {
		t.Fatalf("point aged 31s should not be fresh at 30s threshold")
	}
}

func TestPricePointAge(t *testing.T) {
	now := time.Now()
	p := PricePoint{Timestamp: now.Add(-2 * time.Second).UnixMilli()}
	age := p.Age(now)
	if age < 1900*time.Millisecond || age > 2100*time.Millisecond {
		t.Fatalf("Age() = %v, want about 2s", age)
	}
}
