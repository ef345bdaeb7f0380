// Package portfolio holds the authoritative portfolio state and its derived
// aggregates. Every mutation re-establishes the invariants before it
// returns: totalCost equals the sum of asset costs, and shares sum to 100
// whenever totalCost is positive.
package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/finwatch-lab/cryptofolio/internal/logger"
	"github.com/finwatch-lab/cryptofolio/internal/types"
)

// PriceFetcher fetches a batched price snapshot for trading pairs.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, pairs []string) (map[string]types.PriceQuote, error)
}

// Subscriber manages the streaming subscription set.
type Subscriber interface {
	Subscribe(name string)
	Unsubscribe(name string)
}

// OnChange is invoked after every completed mutation with the new state.
// It runs inside the mutation's critical section so observers see snapshots
// in mutation order.
type OnChange func(snapshot types.PortfolioSnapshot)

// Store is the single source of truth for assets and aggregates. All
// mutations are serialized: each runs its read-modify-recompute cycle to
// completion before the next begins, so concurrent operations can race only
// on completion order, never on the derived invariants.
type Store struct {
	mu sync.Mutex

	assets    []types.Asset
	totalCost float64
	loading   int

	fetcher  PriceFetcher
	subs     Subscriber
	quote    string
	onChange OnChange
	log      *logger.Logger
}

// NewStore creates an empty Store. quoteAsset is appended to asset names to
// form the trading pairs used against the price feed.
func NewStore(fetcher PriceFetcher, subs Subscriber, quoteAsset string, log *logger.Logger) *Store {
	return &Store{
		assets:    nil,
		totalCost: 0,
		loading:   0,
		fetcher:   fetcher,
		subs:      subs,
		quote:     quoteAsset,
		onChange:  nil,
		log:       log,
	}
}

// SetOnChange installs the state-change observer. Must be called before the
// store is shared.
func (s *Store) SetOnChange(fn OnChange) {
	s.onChange = fn
}

// Loading reports whether a REST-backed operation is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loading > 0
}

// TotalCost returns the current portfolio total cost.
func (s *Store) TotalCost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.totalCost
}

// Assets returns a copy of the current asset list.
func (s *Store) Assets() []types.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.assetsCopyLocked()
}

// Asset looks up a holding by name.
func (s *Store) Asset(name string) optional.Option[types.Asset] {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, asset := range s.assets {
		if asset.Name == name {
			return optional.Some(asset)
		}
	}

	return optional.None[types.Asset]()
}

// Snapshot returns the persistable portfolio state.
func (s *Store) Snapshot() types.PortfolioSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

// AddAsset inserts or grows a holding. The current price is fetched once;
// when the fetch fails or omits the pair the asset still enters the
// portfolio with price 0 and change 0, so adding never fails outright.
// The symbol is subscribed on the stream so later ticks keep it current.
// Quantity validation is the caller's job.
func (s *Store) AddAsset(ctx context.Context, name string, quantity float64) types.Asset {
	s.beginLoading()
	defer s.endLoading()

	pair := name + s.quote

	quote := types.PriceQuote{Price: 0, Change24h: 0}
	priced := false

	quotes, err := s.fetcher.FetchPrices(ctx, []string{pair})
	if err != nil {
		s.log.Warn("Price fetch failed, adding asset unpriced",
			zap.String("symbol", name),
			zap.Error(err),
		)
	} else if q, ok := quotes[pair]; ok {
		quote = q
		priced = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result types.Asset

	if idx := s.indexLocked(name); idx >= 0 {
		// Names are unique keys: adding a held symbol grows the position.
		asset := &s.assets[idx]
		asset.Quantity += quantity

		if priced {
			asset.Price = quote.Price
			asset.Change = quote.Change24h
		}

		asset.Cost = asset.Price * asset.Quantity
		result = *asset
	} else {
		result = types.Asset{
			Name:           name,
			Quantity:       quantity,
			Price:          quote.Price,
			Change:         quote.Change24h,
			Cost:           quote.Price * quantity,
			PortfolioShare: 0,
		}
		s.assets = append(s.assets, result)
	}

	s.recomputeLocked()

	if idx := s.indexLocked(name); idx >= 0 {
		result = s.assets[idx]
	}

	s.subs.Subscribe(name)
	s.notifyLocked()

	return result
}

// RemoveAsset drops a holding and unsubscribes its symbol. Removing an
// absent name is a no-op: state is untouched and nothing is unsubscribed.
func (s *Store) RemoveAsset(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(name)
	if idx < 0 {
		return
	}

	s.assets = append(s.assets[:idx], s.assets[idx+1:]...)
	s.recomputeLocked()

	s.subs.Unsubscribe(name)
	s.notifyLocked()
}

// BulkReprice replaces the whole asset collection with assets repriced from
// a single batched fetch. Pairs missing from the response keep their
// previous price and change, and a failed fetch keeps the entire batch.
func (s *Store) BulkReprice(ctx context.Context, assets []types.Asset) {
	s.beginLoading()
	defer s.endLoading()

	repriced := make([]types.Asset, len(assets))
	copy(repriced, assets)

	if len(assets) > 0 {
		pairs := make([]string, len(assets))
		for i, asset := range assets {
			pairs[i] = asset.Name + s.quote
		}

		quotes, err := s.fetcher.FetchPrices(ctx, pairs)
		if err != nil {
			s.log.Warn("Bulk reprice fetch failed, keeping previous prices",
				zap.Int("assets", len(assets)),
				zap.Error(err),
			)
		} else {
			for i := range repriced {
				if q, ok := quotes[repriced[i].Name+s.quote]; ok {
					repriced[i].Price = q.Price
					repriced[i].Change = q.Change24h
				}
			}
		}
	}

	for i := range repriced {
		repriced[i].Cost = repriced[i].Price * repriced[i].Quantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.assets = repriced
	s.recomputeLocked()
	s.notifyLocked()
}

// ApplyPriceTick updates one asset from a streaming tick. Ticks for symbols
// not in the portfolio are no-ops. The total is adjusted incrementally by
// the cost delta rather than resummed.
func (s *Store) ApplyPriceTick(tick types.PriceTick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(tick.Name)
	if idx < 0 {
		return
	}

	asset := &s.assets[idx]
	oldCost := asset.Cost

	asset.Price = tick.Price
	asset.Change = tick.Change
	asset.Cost = asset.Price * asset.Quantity

	s.totalCost += asset.Cost - oldCost
	s.recomputeSharesLocked()
	s.notifyLocked()
}

// indexLocked returns the position of name in the asset list, or -1.
func (s *Store) indexLocked(name string) int {
	for i := range s.assets {
		if s.assets[i].Name == name {
			return i
		}
	}

	return -1
}

// recomputeLocked resums the total and refreshes every share.
func (s *Store) recomputeLocked() {
	total := 0.0
	for i := range s.assets {
		total += s.assets[i].Cost
	}

	s.totalCost = total
	s.recomputeSharesLocked()
}

// recomputeSharesLocked refreshes every share. With a zero total every
// share is explicitly zeroed so removal of the last holding never leaves
// NaN, Inf, or stale percentages behind.
func (s *Store) recomputeSharesLocked() {
	for i := range s.assets {
		if s.totalCost > 0 {
			s.assets[i].PortfolioShare = s.assets[i].Cost / s.totalCost * 100
		} else {
			s.assets[i].PortfolioShare = 0
		}
	}
}

func (s *Store) assetsCopyLocked() []types.Asset {
	out := make([]types.Asset, len(s.assets))
	copy(out, s.assets)

	return out
}

func (s *Store) snapshotLocked() types.PortfolioSnapshot {
	return types.PortfolioSnapshot{
		ID:        "",
		SavedAt:   time.Time{},
		Assets:    s.assetsCopyLocked(),
		TotalCost: s.totalCost,
	}
}

// notifyLocked publishes the post-mutation state to the observer.
func (s *Store) notifyLocked() {
	if s.onChange != nil {
		s.onChange(s.snapshotLocked())
	}
}

func (s *Store) beginLoading() {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
}

func (s *Store) endLoading() {
	s.mu.Lock()
	s.loading--
	s.mu.Unlock()
}
