package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable means no trustworthy rate could be obtained right now.
// Callers must treat the operation as retryable, never as a mismatch.
var ErrPriceUnavailable = errors.New("price oracle unavailable")

// PriceOracle converts a fiat amount into the given crypto asset.
type PriceOracle interface {
	Convert(ctx context.Context, fiatAmount decimal.Decimal, asset string) (decimal.Decimal, error)
}

// Assets accepted by the payment provider, mapped to CoinGecko IDs.
var coinGeckoIDs = map[string]string{
	"USDT": "tether",
	"TON":  "the-open-network",
	"SOL":  "solana",
	"TRX":  "tron",
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"DOGE": "dogecoin",
	"LTC":  "litecoin",
	"PEPE": "pepe",
	"SHIB": "shiba-inu",
	"BNB":  "binancecoin",
}

const rateCacheTTL = 5 * time.Minute

type cachedRate struct {
	rate      decimal.Decimal // fiat per 1 unit of asset
	fetchedAt time.Time
}

// CoinGeckoOracle fetches spot rates from the CoinGecko simple-price API and
// keeps a short-lived per-asset cache so a burst of conversions does not
// hammer the API. The cache lives in the oracle instance, not a package
// global, and uses an injected clock so tests control expiry.
type CoinGeckoOracle struct {
	BaseURL      string
	FiatCurrency string // lowercase CoinGecko vs_currency, e.g. "brl"
	HTTPClient   *http.Client
	Clock        clockwork.Clock

	mu    sync.Mutex
	cache map[string]cachedRate
}

func NewCoinGeckoOracle(clock clockwork.Clock) *CoinGeckoOracle {
	baseURL := os.Getenv("COINGECKO_API_BASE")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	fiat := os.Getenv("FIAT_CURRENCY")
	if fiat == "" {
		fiat = "brl"
	}
	return &CoinGeckoOracle{
		BaseURL:      baseURL,
		FiatCurrency: fiat,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		Clock: clock,
		cache: make(map[string]cachedRate),
	}
}

// Convert returns fiatAmount worth of the asset, rounded to 8 decimal places.
func (o *CoinGeckoOracle) Convert(ctx context.Context, fiatAmount decimal.Decimal, asset string) (decimal.Decimal, error) {
	rate, err := o.rate(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return fiatAmount.Div(rate).Round(8), nil
}

// Refresh pre-warms the cache for every supported asset. Used by the rate
// sync worker; individual failures are logged and skipped.
func (o *CoinGeckoOracle) Refresh(ctx context.Context) {
	for asset := range coinGeckoIDs {
		if _, err := o.rate(ctx, asset); err != nil {
			log.Printf("[ORACLE] refresh failed for %s: %v", asset, err)
		}
	}
}

func (o *CoinGeckoOracle) rate(ctx context.Context, asset string) (decimal.Decimal, error) {
	geckoID, ok := coinGeckoIDs[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("asset %s not supported: %w", asset, ErrPriceUnavailable)
	}

	now := o.Clock.Now()

	o.mu.Lock()
	cached, hit := o.cache[asset]
	o.mu.Unlock()
	if hit && now.Sub(cached.fetchedAt) < rateCacheTTL {
		return cached.rate, nil
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s", o.BaseURL, geckoID, o.FiatCurrency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko request failed: %w: %v", ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("coingecko returned status %d: %w", resp.StatusCode, ErrPriceUnavailable)
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("decode coingecko response: %w: %v", ErrPriceUnavailable, err)
	}

	quote, ok := payload[geckoID][o.FiatCurrency]
	if !ok || quote <= 0 {
		return decimal.Zero, fmt.Errorf("no %s quote for %s: %w", o.FiatCurrency, geckoID, ErrPriceUnavailable)
	}

	rate := decimal.NewFromFloat(quote)
	o.mu.Lock()
	o.cache[asset] = cachedRate{rate: rate, fetchedAt: now}
	o.mu.Unlock()

	return rate, nil
}

// SupportedAssets lists the asset codes the oracle can price.
func SupportedAssets() []string {
	assets := make([]string, 0, len(coinGeckoIDs))
	for asset := range coinGeckoIDs {
		assets = append(assets, asset)
	}
	return assets
}
