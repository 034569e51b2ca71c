package priceoracle_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/priceoracle"
	"github.com/shopspring/decimal"
)

// Every mock server ignores the symbol/instId query param and returns the
// same price for whichever asset is requested — sufficient to exercise the
// weighted-average and fallback logic without three separate price levels.

func mockBinanceOK(price float64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"price": decimal.NewFromFloat(price).StringFixed(2)}
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func mockBybitOK(price float64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outer := struct {
			Result struct {
				List []struct {
					LastPrice string `json:"lastPrice"`
				} `json:"list"`
			} `json:"result"`
		}{}
		outer.Result.List = []struct {
			LastPrice string `json:"lastPrice"`
		}{{LastPrice: decimal.NewFromFloat(price).StringFixed(2)}}
		_ = json.NewEncoder(w).Encode(outer)
	})
}

func mockOKXOK(price float64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outer := struct {
			Data []struct {
				Last string `json:"last"`
			} `json:"data"`
		}{
			Data: []struct {
				Last string `json:"last"`
			}{{Last: decimal.NewFromFloat(price).StringFixed(2)}},
		}
		_ = json.NewEncoder(w).Encode(outer)
	})
}

func mockServerError() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
}

func buildCfg(binanceURL, bybitURL, okxURL string, cacheTTL time.Duration) *config.Config {
	return &config.Config{
		Price: config.PriceConfig{
			BinanceURL:    binanceURL,
			BybitURL:      bybitURL,
			OKXURL:        okxURL,
			FetchTimeout:  3 * time.Second,
			CacheTTL:      cacheTTL,
			MaxAge:        10 * time.Second,
			BinanceWeight: 50,
			BybitWeight:   30,
			OKXWeight:     20,
		},
	}
}

// TestGetSnapshot_AllSources: Binance 90000(×50) + Bybit 91000(×30) + OKX
// 92000(×20) = 90700, applied identically to BTC/ETH/SOL.
func TestGetSnapshot_AllSources(t *testing.T) {
	sBinance := httptest.NewServer(mockBinanceOK(90000))
	defer sBinance.Close()
	sBybit := httptest.NewServer(mockBybitOK(91000))
	defer sBybit.Close()
	sOKX := httptest.NewServer(mockOKXOK(92000))
	defer sOKX.Close()

	cfg := buildCfg(sBinance.URL, sBybit.URL, sOKX.URL, 0)
	oracle := priceoracle.New(cfg)

	snap, err := oracle.GetSnapshot(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	want := decimal.NewFromFloat(90700)
	for name, got := range map[string]decimal.Decimal{"BTC": snap.BTC, "ETH": snap.ETH, "SOL": snap.SOL} {
		if got.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(1)) {
			t.Errorf("%s = %s, want ~%s", name, got, want)
		}
	}
}

// TestGetSnapshot_BinanceDown verifies Bybit+OKX still produce a price when
// Binance is unreachable: 91000*30 + 92000*20 = 4570000 / 50 = 91400.
func TestGetSnapshot_BinanceDown(t *testing.T) {
	sBinance := httptest.NewServer(mockServerError())
	defer sBinance.Close()
	sBybit := httptest.NewServer(mockBybitOK(91000))
	defer sBybit.Close()
	sOKX := httptest.NewServer(mockOKXOK(92000))
	defer sOKX.Close()

	cfg := buildCfg(sBinance.URL, sBybit.URL, sOKX.URL, 0)
	oracle := priceoracle.New(cfg)

	snap, err := oracle.GetSnapshot(context.Background())
	if err != nil {
		t.Fatalf("partial failure should still return a snapshot, got: %v", err)
	}

	want := decimal.NewFromFloat(91400)
	if snap.BTC.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(1)) {
		t.Errorf("BTC = %s, want ~%s", snap.BTC, want)
	}
}

// TestGetSnapshot_AllDown confirms an error when every exchange fails.
func TestGetSnapshot_AllDown(t *testing.T) {
	sBinance := httptest.NewServer(mockServerError())
	defer sBinance.Close()
	sBybit := httptest.NewServer(mockServerError())
	defer sBybit.Close()
	sOKX := httptest.NewServer(mockServerError())
	defer sOKX.Close()

	cfg := buildCfg(sBinance.URL, sBybit.URL, sOKX.URL, 0)
	oracle := priceoracle.New(cfg)

	_, err := oracle.GetSnapshot(context.Background())
	if err == nil {
		t.Fatal("expected error when all exchanges are down")
	}
}

// TestGetCached_Hit verifies GetCached returns a fresh snapshot after a warm-up
// fetch with a long TTL.
func TestGetCached_Hit(t *testing.T) {
	sBinance := httptest.NewServer(mockBinanceOK(87000))
	defer sBinance.Close()
	sBybit := httptest.NewServer(mockBybitOK(87000))
	defer sBybit.Close()
	sOKX := httptest.NewServer(mockOKXOK(87000))
	defer sOKX.Close()

	cfg := buildCfg(sBinance.URL, sBybit.URL, sOKX.URL, 60*time.Second)
	oracle := priceoracle.New(cfg)

	if _, err := oracle.GetSnapshot(context.Background()); err != nil {
		t.Fatalf("warm-up fetch failed: %v", err)
	}

	snap, ok := oracle.GetCached()
	if !ok {
		t.Fatal("expected cache hit after successful fetch with 60s TTL")
	}
	if snap.SOL.IsZero() {
		t.Error("cached SOL price should not be zero")
	}
}

// TestGetCached_Expires confirms the cache is always considered stale with
// a zero TTL.
func TestGetCached_Expires(t *testing.T) {
	sBinance := httptest.NewServer(mockBinanceOK(87000))
	defer sBinance.Close()
	sBybit := httptest.NewServer(mockBybitOK(87000))
	defer sBybit.Close()
	sOKX := httptest.NewServer(mockOKXOK(87000))
	defer sOKX.Close()

	cfg := buildCfg(sBinance.URL, sBybit.URL, sOKX.URL, 0)
	oracle := priceoracle.New(cfg)

	if _, err := oracle.GetSnapshot(context.Background()); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if _, ok := oracle.GetCached(); ok {
		t.Error("with TTL=0, cache should be considered expired immediately")
	}
}

// TestExchangeStatus reflects which exchanges succeeded in the most recent
// fetch.
func TestExchangeStatus(t *testing.T) {
	sBinance := httptest.NewServer(mockServerError())
	defer sBinance.Close()
	sBybit := httptest.NewServer(mockBybitOK(91000))
	defer sBybit.Close()
	sOKX := httptest.NewServer(mockOKXOK(92000))
	defer sOKX.Close()

	cfg := buildCfg(sBinance.URL, sBybit.URL, sOKX.URL, 0)
	oracle := priceoracle.New(cfg)

	if _, err := oracle.GetSnapshot(context.Background()); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	status := oracle.ExchangeStatus()
	if status["binance"] {
		t.Error("binance should be reported unhealthy")
	}
	if !status["bybit"] || !status["okx"] {
		t.Error("bybit and okx should be reported healthy")
	}
}
