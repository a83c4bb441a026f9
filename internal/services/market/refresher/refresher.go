// Package refresher keeps the top-100 coin table current: it bootstraps from
// the cache, polls the price source on an interval and marks rows whose price
// moved since the previous snapshot.
package refresher

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/domain"
	"github.com/vadiminshakov/coinverse/internal/events"
	"github.com/vadiminshakov/coinverse/internal/metrics"
	"github.com/vadiminshakov/coinverse/internal/services/market/loader"
	"github.com/vadiminshakov/coinverse/internal/storage/cachestore"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultMarkerWindow = 500 * time.Millisecond
)

// TopCoinsFetcher is the part of the price client the loop needs.
type TopCoinsFetcher interface {
	FetchTop100(ctx context.Context) []domain.Coin
}

// TableUpdate is published whenever the visible table or its markers change.
type TableUpdate struct {
	Coins   []domain.Coin               `json:"coins"`
	Markers map[string]domain.Direction `json:"markers"`
	Loading bool                        `json:"loading"`
}

// Config configures a Refresher.
type Config struct {
	Interval     time.Duration
	MarkerWindow time.Duration
}

// Refresher owns the in-memory coin table and its transient direction markers.
type Refresher struct {
	list         *loader.Loader[[]domain.Coin]
	interval     time.Duration
	markerWindow time.Duration
	updates      *events.Broadcaster[TableUpdate]
	logger       *zap.Logger

	mu           sync.RWMutex
	table        []domain.Coin
	prevPrices   map[string]float64
	markers      map[string]domain.Direction
	loading      bool
	clearTimers  map[*time.Timer]struct{}
	bootstrapped bool
	stopped      bool
}

// New creates a refresher reading and writing the list snapshot through cache.
func New(cfg Config, client TopCoinsFetcher, cache loader.Cache, logger *zap.Logger) (*Refresher, error) {
	if client == nil {
		return nil, errors.New("price client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MarkerWindow <= 0 {
		cfg.MarkerWindow = DefaultMarkerWindow
	}

	logger = logger.With(zap.String("component", "refresher"))

	list, err := loader.New(loader.Options[[]domain.Coin]{
		Key:    cachestore.KeyCoinList,
		Cache:  cache,
		Policy: loader.StaleWhileRevalidate,
		Fetch: func(ctx context.Context) ([]domain.Coin, error) {
			return client.FetchTop100(ctx), nil
		},
		// an empty list means "no fresher data", never "zero coins"
		Valid:  func(coins []domain.Coin) bool { return len(coins) > 0 },
		Logger: logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create list loader")
	}

	return &Refresher{
		list:         list,
		interval:     cfg.Interval,
		markerWindow: cfg.MarkerWindow,
		updates:      events.NewBroadcaster[TableUpdate](16),
		logger:       logger,
		prevPrices:   map[string]float64{},
		markers:      map[string]domain.Direction{},
		loading:      true,
		clearTimers:  map[*time.Timer]struct{}{},
	}, nil
}

// Bootstrap seeds the table from the cached snapshot. With no usable cache it
// performs a refresh right away.
func (r *Refresher) Bootstrap(ctx context.Context) {
	r.mu.Lock()
	if r.bootstrapped {
		r.mu.Unlock()
		return
	}
	r.bootstrapped = true
	r.mu.Unlock()

	if coins, ok := r.list.Cached(); ok && len(coins) > 0 {
		r.mu.Lock()
		r.table = coins
		r.prevPrices = domain.PriceIndex(coins)
		r.loading = false
		r.mu.Unlock()

		metrics.TableSize.Set(float64(len(coins)))
		r.logger.Info("table seeded from cache", zap.Int("coins", len(coins)))
		r.publish()
		return
	}

	r.Refresh(ctx)
}

// Refresh fetches the list once. A non-empty result is persisted, diffed
// against the previous prices and becomes the visible table; an empty result
// leaves everything untouched.
func (r *Refresher) Refresh(ctx context.Context) bool {
	err := r.list.Revalidate(ctx, r.apply)
	switch {
	case err == nil:
		metrics.RefreshTotal.WithLabelValues(metrics.RefreshOK).Inc()
		return true
	case ctx.Err() != nil:
		return false
	case errors.Is(err, loader.ErrSuperseded):
		metrics.RefreshTotal.WithLabelValues(metrics.RefreshDiscarded).Inc()
		r.logger.Debug("refresh result superseded by a newer one")
		return false
	}

	metrics.RefreshTotal.WithLabelValues(metrics.RefreshEmpty).Inc()
	r.logger.Warn("fetch failed, using stale or cached data", zap.Error(err))

	r.mu.Lock()
	wasLoading := r.loading
	r.loading = false
	r.mu.Unlock()
	if wasLoading {
		r.publish()
	}

	return false
}

// apply runs under the loader's commit lock, after the cache write.
func (r *Refresher) apply(coins []domain.Coin) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}

	markers := domain.DiffPrices(r.prevPrices, coins)
	r.table = coins
	r.prevPrices = domain.PriceIndex(coins)
	r.markers = markers
	r.loading = false
	if len(markers) > 0 {
		r.scheduleClearLocked()
	}
	r.mu.Unlock()

	metrics.TableSize.Set(float64(len(coins)))
	r.logger.Debug("table refreshed", zap.Int("coins", len(coins)), zap.Int("markers", len(markers)))
	r.publish()
}

func (r *Refresher) scheduleClearLocked() {
	var t *time.Timer
	t = time.AfterFunc(r.markerWindow, func() {
		r.mu.Lock()
		delete(r.clearTimers, t)
		if r.stopped || len(r.markers) == 0 {
			r.mu.Unlock()
			return
		}
		r.markers = map[string]domain.Direction{}
		r.mu.Unlock()
		r.publish()
	})
	r.clearTimers[t] = struct{}{}
}

// Run bootstraps the table and refreshes it every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	r.Bootstrap(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.stop()

	r.logger.Info("refresh loop started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresh loop stopped")
			return nil
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

func (r *Refresher) stop() {
	r.mu.Lock()
	r.stopped = true
	for t := range r.clearTimers {
		t.Stop()
		delete(r.clearTimers, t)
	}
	r.mu.Unlock()

	r.updates.Close()
}

// Snapshot returns a copy of the current table state.
func (r *Refresher) Snapshot() TableUpdate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Refresher) snapshotLocked() TableUpdate {
	coins := make([]domain.Coin, len(r.table))
	copy(coins, r.table)
	markers := make(map[string]domain.Direction, len(r.markers))
	for id, d := range r.markers {
		markers[id] = d
	}
	return TableUpdate{Coins: coins, Markers: markers, Loading: r.loading}
}

// Table returns a copy of the visible table.
func (r *Refresher) Table() []domain.Coin {
	return r.Snapshot().Coins
}

// Markers returns a copy of the current direction markers.
func (r *Refresher) Markers() map[string]domain.Direction {
	return r.Snapshot().Markers
}

// Search filters the visible table by name or symbol. It never touches the
// network or the cache.
func (r *Refresher) Search(query string) []domain.Coin {
	return domain.FilterCoins(r.Table(), query)
}

// Coin returns the visible row for id.
func (r *Refresher) Coin(id string) (domain.Coin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.table {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Coin{}, false
}

// Subscribe returns a channel of table updates. The channel is closed when
// the loop stops or Unsubscribe is called.
func (r *Refresher) Subscribe() chan TableUpdate {
	return r.updates.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (r *Refresher) Unsubscribe(ch chan TableUpdate) {
	r.updates.Unsubscribe(ch)
}

func (r *Refresher) publish() {
	r.updates.Publish(r.Snapshot())
}
