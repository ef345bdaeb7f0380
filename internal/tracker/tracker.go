// Package tracker wires the portfolio store to the price feed: it
// restores the saved portfolio, refreshes it over REST, opens the
// streaming connection, and applies live ticks until stopped.
package tracker

import (
	"context"

	"go.uber.org/zap"

	"github.com/finwatch-lab/cryptofolio/internal/logger"
	"github.com/finwatch-lab/cryptofolio/internal/portfolio"
	"github.com/finwatch-lab/cryptofolio/internal/storage"
	"github.com/finwatch-lab/cryptofolio/internal/types"
)

// PriceStream is the streaming side of the feed as the tracker uses it.
type PriceStream interface {
	Open()
	Subscribe(name string)
	Ticks() <-chan types.PriceTick
	Shutdown()
}

// Tracker drives the live synchronization loop. All tick application
// happens on a single goroutine so mutations stay ordered.
type Tracker struct {
	store     *portfolio.Store
	stream    PriceStream
	snapshots storage.SnapshotStore
	log       *logger.Logger

	done chan struct{}
}

func NewTracker(store *portfolio.Store, stream PriceStream, snapshots storage.SnapshotStore, log *logger.Logger) *Tracker {
	return &Tracker{
		store:     store,
		stream:    stream,
		snapshots: snapshots,
		log:       log,
		done:      make(chan struct{}),
	}
}

// Start restores the saved portfolio, reprices it, subscribes every
// held symbol, opens the stream, and launches the tick loop. A snapshot
// that fails to load is logged and skipped so the tracker still comes
// up with an empty portfolio.
func (t *Tracker) Start(ctx context.Context) {
	snapshot, err := t.snapshots.Load()
	if err != nil {
		t.log.Error("Failed to load portfolio snapshot, starting empty", zap.Error(err))
		snapshot = types.PortfolioSnapshot{}
	}

	t.store.BulkReprice(ctx, snapshot.Assets)

	for _, asset := range snapshot.Assets {
		t.stream.Subscribe(asset.Name)
	}

	// Persist after the reprice so later mutations save on top of
	// current prices. The save callback runs under the store lock,
	// which keeps snapshots ordered with mutations.
	t.store.SetOnChange(func(snap types.PortfolioSnapshot) {
		if err := t.snapshots.Save(snap); err != nil {
			t.log.Error("Failed to save portfolio snapshot", zap.Error(err))
		}
	})

	if err := t.snapshots.Save(t.store.Snapshot()); err != nil {
		t.log.Error("Failed to save repriced snapshot", zap.Error(err))
	}

	t.stream.Open()

	go t.run(ctx)
}

// run applies ticks until the context is cancelled.
func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)
	defer t.stream.Shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-t.stream.Ticks():
			if !ok {
				return
			}

			t.store.ApplyPriceTick(tick)
		}
	}
}

// Wait blocks until the tick loop has exited.
func (t *Tracker) Wait() {
	<-t.done
}
