package workers

import (
	"context"
	"log"
	"time"

	"number-shop-system/services"
)

// PollRates keeps the oracle's rate cache warm so deposit-open and webhook
// validation rarely wait on a live CoinGecko round trip. Failures are logged
// and retried next tick; the oracle itself still fetches on demand.
func PollRates(ctx context.Context, oracle *services.CoinGeckoOracle, pollInterval time.Duration) {
	log.Println("Starting exchange-rate polling...")

	// Warm the cache once at startup before the first tick.
	refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	oracle.Refresh(refreshCtx)
	cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Exchange-rate polling stopped.")
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			oracle.Refresh(refreshCtx)
			cancel()
		}
	}
}
