package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// go test -v --run TestGetDepthSnapshot
func TestGetDepthSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/depth" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("unexpected symbol: %s", got)
		}
		w.Write([]byte(`{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000"]],"asks":[["4.00000200","12.00000000"]]}`))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, 5*time.Second)
	snap, err := client.GetDepthSnapshot(context.Background(), "BTCUSDT", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snap.LastUpdateID != 1027024 {
		t.Errorf("lastUpdateId = %d, want 1027024", snap.LastUpdateID)
	}
	if len(snap.Bids) != 1 || snap.Bids[0][0] != "4.00000000" {
		t.Errorf("unexpected bids: %v", snap.Bids)
	}
}

// go test -v --run TestGetKlines
func TestGetKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1499040000000,"0.01634790","0.80000000","0.01575800","0.01577100","148976.11427815",1499644799999,"2434.19055334",308,"1756.87402397","28.46694368","0"]]`))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, 5*time.Second)
	klines, err := client.GetKlines(context.Background(), "BTCUSDT", "1m", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(klines) != 1 {
		t.Fatalf("expected 1 kline, got %d", len(klines))
	}
	k := klines[0]
	if k.Start != 1499040000000 || k.End != 1499644799999 {
		t.Errorf("unexpected times: %d %d", k.Start, k.End)
	}
	if k.Open != "0.01634790" || k.Volume != "148976.11427815" {
		t.Errorf("unexpected fields: %+v", k)
	}
	if !k.Closed {
		t.Error("REST klines must be marked closed")
	}
}

// go test -v --run TestGetRecentTrades
func TestGetRecentTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":28457,"price":"4.00000100","qty":"12.00000000","time":1499865549590,"isBuyerMaker":true}]`))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, 5*time.Second)
	trades, err := client.GetRecentTrades(context.Background(), "BTCUSDT", 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(trades) != 1 || trades[0].ID != 28457 || !trades[0].IsBuyerMaker {
		t.Errorf("unexpected trades: %+v", trades)
	}
}

// go test -v --run TestErrorStatusSurfaced
func TestErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, 5*time.Second)
	if _, err := client.GetDepthSnapshot(context.Background(), "NOPE", 100); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
