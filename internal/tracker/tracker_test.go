package tracker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/finwatch-lab/cryptofolio/internal/logger"
	"github.com/finwatch-lab/cryptofolio/internal/portfolio"
	"github.com/finwatch-lab/cryptofolio/internal/storage"
	"github.com/finwatch-lab/cryptofolio/internal/types"
)

type mockFetcher struct {
	mu     sync.Mutex
	quotes map[string]types.PriceQuote
}

func (m *mockFetcher) FetchPrices(_ context.Context, pairs []string) (map[string]types.PriceQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]types.PriceQuote)
	for _, pair := range pairs {
		if quote, ok := m.quotes[pair]; ok {
			result[pair] = quote
		}
	}

	return result, nil
}

type mockStream struct {
	mu         sync.Mutex
	opened     int
	shutdowns  int
	subscribed []string
	ticks      chan types.PriceTick
}

func newMockStream() *mockStream {
	return &mockStream{ticks: make(chan types.PriceTick, 16)}
}

func (m *mockStream) Open() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
}

func (m *mockStream) Subscribe(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, name)
}

func (m *mockStream) Unsubscribe(string) {}

func (m *mockStream) Ticks() <-chan types.PriceTick {
	return m.ticks
}

func (m *mockStream) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdowns++
}

func (m *mockStream) subs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.subscribed...)
}

type TrackerTestSuite struct {
	suite.Suite

	fetcher   *mockFetcher
	stream    *mockStream
	snapshots *storage.FileSnapshotStore
	store     *portfolio.Store
	tracker   *Tracker
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerTestSuite))
}

func (suite *TrackerTestSuite) SetupTest() {
	suite.fetcher = &mockFetcher{quotes: map[string]types.PriceQuote{
		"BTCUSDT": {Price: 50000, Change24h: 1.5},
		"ETHUSDT": {Price: 2500, Change24h: -0.5},
	}}
	suite.stream = newMockStream()
	suite.snapshots = storage.NewFileSnapshotStore(
		filepath.Join(suite.T().TempDir(), "portfolio.json"),
		logger.NewNopLogger(),
	)
	suite.store = portfolio.NewStore(suite.fetcher, suite.stream, "USDT", logger.NewNopLogger())
	suite.tracker = NewTracker(suite.store, suite.stream, suite.snapshots, logger.NewNopLogger())
}

func (suite *TrackerTestSuite) TestStartFreshInstall() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	suite.tracker.Start(ctx)

	suite.Empty(suite.store.Assets())
	suite.Equal(1, suite.stream.opened)
	suite.Empty(suite.stream.subs())

	cancel()
	suite.tracker.Wait()
	suite.Equal(1, suite.stream.shutdowns)
}

func (suite *TrackerTestSuite) TestStartRestoresAndRepricesSnapshot() {
	saved := types.PortfolioSnapshot{
		Assets: []types.Asset{
			{Name: "BTC", Quantity: 2, Price: 40000, Cost: 80000, PortfolioShare: 100},
			{Name: "ETH", Quantity: 4, Price: 2000, Cost: 8000, PortfolioShare: 0},
		},
		TotalCost: 88000,
	}
	suite.Require().NoError(suite.snapshots.Save(saved))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	suite.tracker.Start(ctx)

	assets := suite.store.Assets()
	suite.Require().Len(assets, 2)
	suite.InDelta(50000, assets[0].Price, 1e-9)
	suite.InDelta(100000, assets[0].Cost, 1e-9)
	suite.InDelta(2500, assets[1].Price, 1e-9)
	suite.ElementsMatch([]string{"BTC", "ETH"}, suite.stream.subs())

	// The repriced state is saved immediately, not only on the next
	// mutation.
	persisted, err := suite.snapshots.Load()
	suite.Require().NoError(err)
	suite.InDelta(110000, persisted.TotalCost, 1e-9)
}

func (suite *TrackerTestSuite) TestTicksFlowIntoStore() {
	suite.Require().NoError(suite.snapshots.Save(types.PortfolioSnapshot{
		Assets: []types.Asset{{Name: "BTC", Quantity: 1, Price: 40000, Cost: 40000, PortfolioShare: 100}},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	suite.tracker.Start(ctx)

	suite.stream.ticks <- types.PriceTick{Name: "BTC", Price: 52000, Change: 3.1}

	suite.Require().Eventually(func() bool {
		asset, ok := suite.store.Asset("BTC").Take()
		return ok == nil && asset.Price == 52000
	}, 2*time.Second, 5*time.Millisecond)

	suite.InDelta(52000, suite.store.TotalCost(), 1e-9)

	// Tick application persists through the change observer.
	persisted, err := suite.snapshots.Load()
	suite.Require().NoError(err)
	suite.InDelta(52000, persisted.TotalCost, 1e-9)
}

func (suite *TrackerTestSuite) TestMutationsPersistAcrossRestart() {
	ctx, cancel := context.WithCancel(context.Background())
	suite.tracker.Start(ctx)

	suite.store.AddAsset(ctx, "BTC", 2)

	cancel()
	suite.tracker.Wait()

	// A second tracker over the same snapshot file picks the holding
	// back up.
	restarted := NewTracker(
		portfolio.NewStore(suite.fetcher, newMockStream(), "USDT", logger.NewNopLogger()),
		newMockStream(),
		suite.snapshots,
		logger.NewNopLogger(),
	)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	restarted.Start(ctx2)

	assets := restarted.store.Assets()
	suite.Require().Len(assets, 1)
	suite.Equal("BTC", assets[0].Name)
	suite.InDelta(2, assets[0].Quantity, 1e-9)
	suite.InDelta(100000, assets[0].Cost, 1e-9)
}

func (suite *TrackerTestSuite) TestShutdownOnContextCancel() {
	ctx, cancel := context.WithCancel(context.Background())

	suite.tracker.Start(ctx)
	cancel()
	suite.tracker.Wait()

	suite.Equal(1, suite.stream.shutdowns)
}
