// Package priceoracle fans out to multiple exchanges for BTC/ETH/SOL spot
// prices, computes a weighted average per asset, and exposes a single-writer
// cached snapshot to the rest of the application (§4.1).
package priceoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	exchangeBinance = "binance"
	exchangeBybit   = "bybit"
	exchangeOKX     = "okx"
)

// symbol maps a domain.Asset to each exchange's instrument identifier.
type symbol struct {
	binance string
	bybit   string
	okx     string
}

var symbols = map[domain.Asset]symbol{
	domain.AssetBTC: {binance: "BTCUSDT", bybit: "BTCUSDT", okx: "BTC-USDT"},
	domain.AssetETH: {binance: "ETHUSDT", bybit: "ETHUSDT", okx: "ETH-USDT"},
	domain.AssetSOL: {binance: "SOLUSDT", bybit: "SOLUSDT", okx: "SOL-USDT"},
}

// exchangeDef describes one (exchange, asset) price feed.
type exchangeDef struct {
	exchange string
	asset    domain.Asset
	weight   decimal.Decimal
	fetch    func(ctx context.Context, inst string) (decimal.Decimal, error)
}

// Oracle fetches weighted BTC/ETH/SOL prices from Binance, Bybit and OKX in
// parallel and caches the result (§4.1).
type Oracle struct {
	client *http.Client
	cfg    *config.PriceConfig

	mu       sync.RWMutex
	cached   domain.PriceSnapshot
	hasCache bool

	statusMu    sync.RWMutex
	lastSuccess map[string]time.Time

	exchanges []exchangeDef
}

// New constructs an Oracle from the given config.
func New(cfg *config.Config) *Oracle {
	o := &Oracle{
		client: &http.Client{Timeout: cfg.Price.FetchTimeout},
		cfg:    &cfg.Price,
		lastSuccess: map[string]time.Time{
			exchangeBinance: {},
			exchangeBybit:   {},
			exchangeOKX:     {},
		},
	}

	weights := map[string]decimal.Decimal{
		exchangeBinance: decimal.NewFromInt(int64(cfg.Price.BinanceWeight)),
		exchangeBybit:   decimal.NewFromInt(int64(cfg.Price.BybitWeight)),
		exchangeOKX:     decimal.NewFromInt(int64(cfg.Price.OKXWeight)),
	}

	for _, asset := range []domain.Asset{domain.AssetBTC, domain.AssetETH, domain.AssetSOL} {
		o.exchanges = append(o.exchanges,
			exchangeDef{exchange: exchangeBinance, asset: asset, weight: weights[exchangeBinance], fetch: o.fetchBinance},
			exchangeDef{exchange: exchangeBybit, asset: asset, weight: weights[exchangeBybit], fetch: o.fetchBybit},
			exchangeDef{exchange: exchangeOKX, asset: asset, weight: weights[exchangeOKX], fetch: o.fetchOKX},
		)
	}

	return o
}

// GetSnapshot returns the current weighted BTC/ETH/SOL prices. A fresh
// in-memory cache (younger than CacheTTL) is returned without hitting the
// network. At least one exchange must report a price per asset; an asset
// with zero successful sources returns domain.ErrAllSourcesFailed.
func (o *Oracle) GetSnapshot(ctx context.Context) (domain.PriceSnapshot, error) {
	o.mu.RLock()
	if o.hasCache && time.Since(o.cached.Timestamp) < o.cfg.CacheTTL {
		snap := o.cached
		o.mu.RUnlock()
		return snap, nil
	}
	o.mu.RUnlock()

	type result struct {
		exchange string
		asset    domain.Asset
		price    decimal.Decimal
		err      error
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.client.Timeout)
	defer cancel()

	resultCh := make(chan result, len(o.exchanges))
	for _, ex := range o.exchanges {
		ex := ex
		go func() {
			sym := symbols[ex.asset]
			var inst string
			switch ex.exchange {
			case exchangeBinance:
				inst = sym.binance
			case exchangeBybit:
				inst = sym.bybit
			case exchangeOKX:
				inst = sym.okx
			}
			p, err := ex.fetch(fetchCtx, inst)
			resultCh <- result{exchange: ex.exchange, asset: ex.asset, price: p, err: err}
		}()
	}

	bySource := make(map[domain.Asset][]domain.PriceSource, 3)
	now := time.Now()
	for range o.exchanges {
		r := <-resultCh
		if r.err != nil || r.price.IsZero() {
			continue
		}
		weight := decimal.Zero
		for _, ex := range o.exchanges {
			if ex.exchange == r.exchange && ex.asset == r.asset {
				weight = ex.weight
				break
			}
		}
		bySource[r.asset] = append(bySource[r.asset], domain.PriceSource{
			Exchange: r.exchange, Price: r.price, Weight: weight, FetchedAt: now,
		})

		o.statusMu.Lock()
		o.lastSuccess[r.exchange] = now
		o.statusMu.Unlock()
	}

	snap := domain.PriceSnapshot{Timestamp: now}
	btc, ok := domain.WeightedAverage(bySource[domain.AssetBTC])
	if !ok {
		return domain.PriceSnapshot{}, fmt.Errorf("priceoracle: BTC: %w", domain.ErrAllSourcesFailed)
	}
	snap.BTC = btc
	eth, ok := domain.WeightedAverage(bySource[domain.AssetETH])
	if !ok {
		return domain.PriceSnapshot{}, fmt.Errorf("priceoracle: ETH: %w", domain.ErrAllSourcesFailed)
	}
	snap.ETH = eth
	sol, ok := domain.WeightedAverage(bySource[domain.AssetSOL])
	if !ok {
		return domain.PriceSnapshot{}, fmt.Errorf("priceoracle: SOL: %w", domain.ErrAllSourcesFailed)
	}
	snap.SOL = sol

	o.mu.Lock()
	o.cached = snap
	o.hasCache = true
	o.mu.Unlock()

	return snap, nil
}

// GetCached returns the most recent snapshot without triggering a fetch, and
// whether it is still within CacheTTL.
func (o *Oracle) GetCached() (domain.PriceSnapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.hasCache || time.Since(o.cached.Timestamp) >= o.cfg.CacheTTL {
		return domain.PriceSnapshot{}, false
	}
	return o.cached, true
}

// ExchangeStatus reports, per exchange, whether it succeeded within the last
// 5 seconds. Used by the back-office health dashboard.
func (o *Oracle) ExchangeStatus() map[string]bool {
	threshold := 5 * time.Second
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	status := make(map[string]bool, len(o.lastSuccess))
	for name, t := range o.lastSuccess {
		status[name] = !t.IsZero() && time.Since(t) < threshold
	}
	return status
}

// ──────────────────────────────────────────────────────────────────────────────
// Exchange fetchers
// ──────────────────────────────────────────────────────────────────────────────

func (o *Oracle) fetchBinance(ctx context.Context, inst string) (decimal.Decimal, error) {
	url := o.cfg.BinanceURL + "/api/v3/ticker/price?symbol=" + inst
	body, err := o.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: %w", err)
	}
	var resp struct {
		Price string `json:"price"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("binance parse: %w", err)
	}
	if resp.Price == "" {
		return decimal.Zero, fmt.Errorf("binance: empty price field")
	}
	return decimal.NewFromString(resp.Price)
}

func (o *Oracle) fetchBybit(ctx context.Context, inst string) (decimal.Decimal, error) {
	url := o.cfg.BybitURL + "/v5/market/tickers?category=spot&symbol=" + inst
	body, err := o.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit: %w", err)
	}
	var resp struct {
		Result struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("bybit parse: %w", err)
	}
	if len(resp.Result.List) == 0 || resp.Result.List[0].LastPrice == "" {
		return decimal.Zero, fmt.Errorf("bybit: empty result list")
	}
	return decimal.NewFromString(resp.Result.List[0].LastPrice)
}

func (o *Oracle) fetchOKX(ctx context.Context, inst string) (decimal.Decimal, error) {
	url := o.cfg.OKXURL + "/api/v5/market/ticker?instId=" + inst
	body, err := o.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("okx: %w", err)
	}
	var resp struct {
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("okx parse: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].Last == "" {
		return decimal.Zero, fmt.Errorf("okx: empty data field")
	}
	return decimal.NewFromString(resp.Data[0].Last)
}

func (o *Oracle) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "duelbackend-arena/1.0")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
