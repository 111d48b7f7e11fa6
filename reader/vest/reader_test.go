package vest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "spreadflow/config"
)

func venueConfig(restURL string) appconfig.VenueConfig {
	return appconfig.VenueConfig{Enabled: true, RestURL: restURL}
}

func TestParseTicker(t *testing.T) {
	bySymbol := map[string]string{"BTC-PERP": "BTC"}
	msg := []byte(`{"channel":"BTC-PERP@ticker","data":{"symbol":"BTC-PERP","bidPrice":"64250.5","askPrice":"64251.0"}}`)

	quotes := parseTicker(msg, bySymbol)
	if len(quotes) != 1 {
		t.Fatalf("parseTicker returned %d quotes, want 1", len(quotes))
	}
	q := quotes[0]
	if q.Symbol != "BTC" || q.Bid != 64250.5 || q.Ask != 64251.0 {
		t.Fatalf("unexpected quote %+v", q)
	}
}

func TestParseTickerDropsUnknownFrames(t *testing.T) {
	bySymbol := map[string]string{"BTC-PERP": "BTC"}

	tests := []struct {
		name string
		msg  string
	}{
		{"subscription ack", `{"result":null,"id":1}`},
		{"other channel", `{"channel":"BTC-PERP@depth","data":{}}`},
		{"unsubscribed market", `{"channel":"DOGE-PERP@ticker","data":{"symbol":"DOGE-PERP","bidPrice":"1","askPrice":"2"}}`},
		{"malformed json", `{"channel":`},
	}
	for _, tt := range tests {
		if quotes := parseTicker([]byte(tt.msg), bySymbol); quotes != nil {
			t.Errorf("%s: expected nil, got %v", tt.name, quotes)
		}
	}
}

func TestFetchMarketsFiltersNonTrading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exchangeInfo" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"symbols": []map[string]string{
				{"symbol": "BTC-PERP", "status": "TRADING"},
				{"symbol": "ETH-PERP", "status": "HALTED"},
				{"symbol": "SOL-PERP", "status": "TRADING"},
			},
		})
	}))
	defer srv.Close()

	a := NewAdapter(venueConfig(srv.URL), time.Second)
	markets, err := a.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("markets = %v, want BTC and SOL only", markets)
	}
	if markets["BTC"] != "BTC-PERP" || markets["SOL"] != "SOL-PERP" {
		t.Fatalf("unexpected market map %v", markets)
	}
}

func TestPollParsesLatestTickers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ticker/latest" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tickers": []map[string]string{
				{"symbol": "BTC-PERP", "bidPrice": "64000", "askPrice": "64001"},
				{"symbol": "DOGE-PERP", "bidPrice": "1", "askPrice": "2"},
			},
		})
	}))
	defer srv.Close()

	a := NewAdapter(venueConfig(srv.URL), time.Second)
	quotes, err := a.Poll(context.Background(), map[string]string{"BTC": "BTC-PERP"})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("quotes = %v, want only subscribed BTC", quotes)
	}
	if quotes[0].Symbol != "BTC" || quotes[0].Bid != 64000 || quotes[0].Ask != 64001 {
		t.Fatalf("unexpected quote %+v", quotes[0])
	}
}

func TestPollRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewAdapter(venueConfig(srv.URL), time.Second)
	if _, err := a.Poll(context.Background(), map[string]string{"BTC": "BTC-PERP"}); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}
