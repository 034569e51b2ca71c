package onchain_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/onchain"
)

func testConfig(url string) *config.Config {
	cfg := &config.Config{}
	cfg.OnChain = config.OnChainConfig{
		RPCURL:         url,
		RequestTimeout: time.Second,
		MaxRetries:     3,
		RetryBackoff:   time.Millisecond,
		RateLimit:      1000,
	}
	return cfg
}

func TestHTTPClientSettleSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"gameId": "game-123"})
	}))
	defer srv.Close()

	c := onchain.NewHTTPClient(testConfig(srv.URL))
	res, err := c.Settle(context.Background(), onchain.SettlementRequest{MatchID: "m1", Player1: "a", Player2: "b", BetAmount: "10", Winner: "a"})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.GameID != "game-123" {
		t.Fatalf("game id = %q, want game-123", res.GameID)
	}
}

func TestHTTPClientSettleRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"gameId": "game-456"})
	}))
	defer srv.Close()

	c := onchain.NewHTTPClient(testConfig(srv.URL))
	res, err := c.Settle(context.Background(), onchain.SettlementRequest{MatchID: "m2"})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.GameID != "game-456" {
		t.Fatalf("game id = %q, want game-456", res.GameID)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestHTTPClientSettleExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := onchain.NewHTTPClient(testConfig(srv.URL))
	_, err := c.Settle(context.Background(), onchain.SettlementRequest{MatchID: "m3"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestNoopClientSettle(t *testing.T) {
	res, err := onchain.NoopClient{}.Settle(context.Background(), onchain.SettlementRequest{MatchID: "m4"})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.GameID != "noop-m4" {
		t.Fatalf("game id = %q, want noop-m4", res.GameID)
	}
}
