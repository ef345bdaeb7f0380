package types

import "time"

// Asset represents a single holding with its derived valuation fields.
type Asset struct {
	// Name is the asset symbol and the unique key within the portfolio (e.g. "BTC")
	Name string `json:"name" yaml:"name"`
	// Quantity is the amount held; always positive
	Quantity float64 `json:"quantity" yaml:"quantity"`
	// Price is the last known unit price in the quote currency
	Price float64 `json:"price" yaml:"price"`
	// Change is the 24h percent change reported by the price feed
	Change float64 `json:"change" yaml:"change"`
	// Cost is Price * Quantity, recomputed on every mutation
	Cost float64 `json:"cost" yaml:"cost"`
	// PortfolioShare is Cost as a percentage of the portfolio total cost
	PortfolioShare float64 `json:"portfolio_share" yaml:"portfolio_share"`
}

// PriceQuote is a point-in-time price and 24h change for a trading pair.
type PriceQuote struct {
	// Price is the last traded price; non-negative
	Price float64 `json:"price" yaml:"price"`
	// Change24h is the 24h percent change
	Change24h float64 `json:"change_24h" yaml:"change_24h"`
}

// PriceTick is a single incoming price update from the streaming feed,
// already normalized to the bare asset name (quote suffix stripped).
type PriceTick struct {
	// Name is the asset symbol (e.g. "BTC")
	Name string `json:"name" yaml:"name"`
	// Price is the latest traded price
	Price float64 `json:"price" yaml:"price"`
	// Change is the 24h percent change
	Change float64 `json:"change" yaml:"change"`
}

// PortfolioSnapshot is the persisted portfolio state.
type PortfolioSnapshot struct {
	// ID identifies the snapshot write; regenerated on every save
	ID string `json:"id" yaml:"id"`
	// SavedAt is the wall-clock time of the save
	SavedAt time.Time `json:"saved_at" yaml:"saved_at"`
	// Assets is the ordered list of holdings
	Assets []Asset `json:"assets" yaml:"assets"`
	// TotalCost is the sum of all asset costs
	TotalCost float64 `json:"total_cost" yaml:"total_cost"`
}
