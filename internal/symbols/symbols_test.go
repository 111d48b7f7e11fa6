package symbols

import "testing"

func TestAllowList(t *testing.T) {
	a := NewAllowList([]string{"btc", "ETH", " sol ", "BTC", ""})

	if !a.Contains("BTC") || !a.Contains("btc") {
		t.Fatalf("expected BTC to be allow-listed")
	}
	if a.Contains("DOGE") {
		t.Fatalf("DOGE should not be allow-listed")
	}

	want := []string{"BTC", "ETH", "SOL"}
	got := a.Symbols()
	if len(got) != len(want) {
		t.Fatalf("Symbols() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Symbols()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAllowListFilter(t *testing.T) {
	a := NewAllowList([]string{"BTC", "ETH"})
	markets := map[string]string{
		"BTC":  "BTC-PERP",
		"DOGE": "DOGE-PERP",
		"eth":  "ETH-PERP",
	}
	filtered := a.Filter(markets)
	if len(filtered) != 2 {
		t.Fatalf("Filter() kept %d markets, want 2", len(filtered))
	}
	if filtered["BTC"] != "BTC-PERP" || filtered["ETH"] != "ETH-PERP" {
		t.Fatalf("unexpected filtered map: %v", filtered)
	}
}

func TestBase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BTC-PERP", "BTC"},
		{"BTC-USD-PERP", "BTC"},
		{"ETHUSDT", "ETH"},
		{"SOLUSDC", "SOL"},
		{"btc-perp", "BTC"},
		{"BTC", "BTC"},
	}
	for _, tt := range tests {
		if got := Base(tt.in); got != tt.want {
			t.Errorf("Base(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
