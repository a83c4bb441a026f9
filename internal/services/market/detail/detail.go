// Package detail serves per-coin data: the detail snapshot, price history and
// chart indicators.
package detail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/domain"
	"github.com/vadiminshakov/coinverse/internal/services/market/indicators"
	"github.com/vadiminshakov/coinverse/internal/services/market/loader"
	"github.com/vadiminshakov/coinverse/internal/storage/cachestore"
)

const (
	DefaultHistoryDays   = 365
	DefaultHistoryMaxAge = 10 * time.Minute
	maxLoaders           = 512
)

// ErrUnavailable means neither the network nor the cache had data for a coin.
var ErrUnavailable = errors.New("coin data unavailable")

// UnavailableMessage is the user-facing text for ErrUnavailable.
func UnavailableMessage(coinID string) string {
	return fmt.Sprintf("Could not load data for %s. Please try again later.", coinID)
}

// Client is the part of the price client used for per-coin data.
type Client interface {
	FetchDetail(ctx context.Context, coinID string) (domain.Coin, error)
	FetchHistory(ctx context.Context, coinID string, days int) []domain.HistoricalBar
}

// Config configures a Service.
type Config struct {
	HistoryDays   int
	HistoryMaxAge time.Duration
}

// Service loads coin details network-first and price history
// stale-while-revalidate, both through the shared cache.
type Service struct {
	client        Client
	cache         loader.Cache
	historyDays   int
	historyMaxAge time.Duration
	logger        *zap.Logger

	mu        sync.Mutex
	details   map[string]*loader.Loader[domain.Coin]
	histories map[string]*loader.Loader[[]domain.HistoricalBar]

	settingsMu sync.Mutex
}

// New creates a detail service.
func New(cfg Config, client Client, cache loader.Cache, logger *zap.Logger) (*Service, error) {
	if client == nil {
		return nil, errors.New("price client is required")
	}
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = DefaultHistoryDays
	}
	if cfg.HistoryMaxAge <= 0 {
		cfg.HistoryMaxAge = DefaultHistoryMaxAge
	}

	return &Service{
		client:        client,
		cache:         cache,
		historyDays:   cfg.HistoryDays,
		historyMaxAge: cfg.HistoryMaxAge,
		logger:        logger.With(zap.String("component", "detail")),
		details:       map[string]*loader.Loader[domain.Coin]{},
		histories:     map[string]*loader.Loader[[]domain.HistoricalBar]{},
	}, nil
}

// Coin returns the freshest snapshot of a coin, falling back to the last
// cached one when the upstream call fails.
func (s *Service) Coin(ctx context.Context, coinID string) (domain.Coin, loader.Source, error) {
	if err := domain.ValidateCoinID(coinID); err != nil {
		return domain.Coin{}, "", err
	}

	l, err := s.detailLoader(coinID)
	if err != nil {
		return domain.Coin{}, "", err
	}

	coin, src, err := l.Load(ctx)
	if err != nil {
		if errors.Is(err, loader.ErrNoData) {
			s.logger.Warn("coin detail unavailable", zap.String("coin", coinID))
			return domain.Coin{}, "", errors.Wrap(ErrUnavailable, coinID)
		}
		return domain.Coin{}, "", err
	}

	return coin, src, nil
}

// History returns the coin's bars, serving the cache first and refreshing it
// in the background once it is older than the configured max age. An empty
// slice means no history is available yet.
func (s *Service) History(ctx context.Context, coinID string) ([]domain.HistoricalBar, loader.Source, error) {
	if err := domain.ValidateCoinID(coinID); err != nil {
		return nil, "", err
	}

	l, err := s.historyLoader(coinID)
	if err != nil {
		return nil, "", err
	}

	bars, src, err := l.Load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		s.logger.Info("no price history available", zap.String("coin", coinID), zap.Error(err))
		return []domain.HistoricalBar{}, "", nil
	}

	return bars, src, nil
}

func (s *Service) detailLoader(coinID string) (*loader.Loader[domain.Coin], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.details[coinID]; ok {
		return l, nil
	}

	l, err := loader.New(loader.Options[domain.Coin]{
		Key:    cachestore.DetailKey(coinID),
		Cache:  s.cache,
		Policy: loader.NetworkFirst,
		Fetch: func(ctx context.Context) (domain.Coin, error) {
			return s.client.FetchDetail(ctx, coinID)
		},
		Logger: s.logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create detail loader")
	}

	if len(s.details) >= maxLoaders {
		s.details = map[string]*loader.Loader[domain.Coin]{}
	}
	s.details[coinID] = l
	return l, nil
}

func (s *Service) historyLoader(coinID string) (*loader.Loader[[]domain.HistoricalBar], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.histories[coinID]; ok {
		return l, nil
	}

	l, err := loader.New(loader.Options[[]domain.HistoricalBar]{
		Key:    cachestore.HistoryKey(coinID),
		Cache:  s.cache,
		Policy: loader.StaleWhileRevalidate,
		MaxAge: s.historyMaxAge,
		Fetch: func(ctx context.Context) ([]domain.HistoricalBar, error) {
			return s.client.FetchHistory(ctx, coinID, s.historyDays), nil
		},
		Valid:  func(bars []domain.HistoricalBar) bool { return len(bars) > 0 },
		Logger: s.logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create history loader")
	}

	if len(s.histories) >= maxLoaders {
		s.histories = map[string]*loader.Loader[[]domain.HistoricalBar]{}
	}
	s.histories[coinID] = l
	return l, nil
}

// Wait blocks until background history revalidations finish.
func (s *Service) Wait() {
	s.mu.Lock()
	loaders := make([]*loader.Loader[[]domain.HistoricalBar], 0, len(s.histories))
	for _, l := range s.histories {
		loaders = append(loaders, l)
	}
	s.mu.Unlock()

	for _, l := range loaders {
		l.Wait()
	}
}

// IndicatorSettings returns the saved chart indicators or the defaults.
func (s *Service) IndicatorSettings() []domain.IndicatorSpec {
	var specs []domain.IndicatorSpec
	if s.cache.Read(cachestore.KeyIndicatorSettings, &specs) {
		if err := domain.ValidateIndicators(specs); err == nil {
			return specs
		}
		s.logger.Warn("saved indicator settings are invalid, using defaults")
	}
	return domain.DefaultIndicators()
}

// SaveIndicatorSettings validates and persists the chart indicators.
func (s *Service) SaveIndicatorSettings(specs []domain.IndicatorSpec) error {
	if err := domain.ValidateIndicators(specs); err != nil {
		return err
	}

	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	s.cache.Write(cachestore.KeyIndicatorSettings, specs)
	return nil
}

// Indicators computes the configured indicators over the coin's history.
func (s *Service) Indicators(ctx context.Context, coinID string) ([]indicators.Result, error) {
	bars, _, err := s.History(ctx, coinID)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, errors.Wrap(ErrUnavailable, coinID)
	}

	return indicators.ComputeAll(bars, s.IndicatorSettings())
}

// IndicatorSummary returns the latest value of every configured indicator line.
func (s *Service) IndicatorSummary(ctx context.Context, coinID string) ([]indicators.Latest, error) {
	results, err := s.Indicators(ctx, coinID)
	if err != nil {
		return nil, err
	}

	out := make([]indicators.Latest, len(results))
	for i, r := range results {
		out[i] = r.Latest()
	}
	return out, nil
}
