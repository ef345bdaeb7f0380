// Package ticker wraps the Binance 24hr ticker REST endpoint for batched
// price snapshots.
package ticker

import (
	"context"
	"strconv"

	binance "github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"github.com/finwatch-lab/cryptofolio/internal/logger"
	"github.com/finwatch-lab/cryptofolio/internal/types"
	"github.com/finwatch-lab/cryptofolio/pkg/errors"
)

// PriceStatsService abstracts the Binance 24hr price-change-stats service
// so tests can mock it.
type PriceStatsService interface {
	Symbols(symbols []string) PriceStatsService
	Do(ctx context.Context) ([]*binance.PriceChangeStats, error)
}

// realPriceStatsService wraps the actual binance service.
type realPriceStatsService struct {
	service *binance.ListPriceChangeStatsService
}

func (r *realPriceStatsService) Symbols(symbols []string) PriceStatsService {
	r.service = r.service.Symbols(symbols)

	return r
}

func (r *realPriceStatsService) Do(ctx context.Context) ([]*binance.PriceChangeStats, error) {
	return r.service.Do(ctx)
}

// Client fetches batched price snapshots. A single call maps each requested
// pair to its last price and 24h percent change. Pairs unknown to the
// exchange are simply absent from the result. There is no retry; the caller
// decides what a failed fetch means.
type Client struct {
	newStats func() PriceStatsService
	log      *logger.Logger
}

// NewClient creates a Client talking to the given REST base URL. Public
// market data needs no API credentials.
func NewClient(baseURL string, log *logger.Logger) *Client {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}

	return &Client{
		newStats: func() PriceStatsService {
			return &realPriceStatsService{service: client.NewListPriceChangeStatsService()}
		},
		log: log,
	}
}

// NewClientWithService creates a Client backed by a custom service factory.
// Used in tests.
func NewClientWithService(newStats func() PriceStatsService, log *logger.Logger) *Client {
	return &Client{
		newStats: newStats,
		log:      log,
	}
}

// FetchPrices fetches the 24hr stats for every pair in one batched request.
// The returned map is keyed by pair symbol; entries with unparseable price
// fields are dropped and logged.
func (c *Client) FetchPrices(ctx context.Context, pairs []string) (map[string]types.PriceQuote, error) {
	if len(pairs) == 0 {
		return nil, errors.New(errors.ErrCodeNoPairsRequested, "no pairs requested")
	}

	stats, err := c.newStats().Symbols(pairs).Do(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTickerFetchFailed, "failed to fetch 24hr ticker stats", err)
	}

	quotes := make(map[string]types.PriceQuote, len(stats))

	for _, stat := range stats {
		price, priceErr := strconv.ParseFloat(stat.LastPrice, 64)
		change, changeErr := strconv.ParseFloat(stat.PriceChangePercent, 64)

		if priceErr != nil || changeErr != nil {
			c.log.Warn("Dropping unparseable ticker entry",
				zap.String("symbol", stat.Symbol),
				zap.String("last_price", stat.LastPrice),
				zap.String("price_change_percent", stat.PriceChangePercent),
			)

			continue
		}

		quotes[stat.Symbol] = types.PriceQuote{
			Price:     price,
			Change24h: change,
		}
	}

	return quotes, nil
}
