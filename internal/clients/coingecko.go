package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/domain"
	"github.com/vadiminshakov/coinverse/pkg/retrier"
)

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	defaultTimeout      = 15 * time.Second
	defaultMaxRetries   = 2
	maxResponseBytes    = 8 << 20
	demoAPIKeyHeader    = "x-cg-demo-api-key"
)

// MarketDataClient is the read side of the upstream price source.
type MarketDataClient interface {
	// FetchTop100 returns the top coins by market cap, or an empty slice on any failure.
	FetchTop100(ctx context.Context) []domain.Coin
	// FetchHistory returns daily-or-coarser OHLC bars, or an empty slice on any failure.
	FetchHistory(ctx context.Context, coinID string, days int) []domain.HistoricalBar
	// FetchDetail returns the current snapshot of one coin.
	FetchDetail(ctx context.Context, coinID string) (domain.Coin, error)
}

// CoinGeckoConfig configures CoinGeckoClient.
type CoinGeckoConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	// WithVolume merges the market_chart volume series into history bars.
	WithVolume bool
	// RetryInterval is the first backoff step; zero uses the retrier default.
	RetryInterval time.Duration
}

// CoinGeckoClient talks to the CoinGecko public REST API.
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	withVolume bool
	httpClient *http.Client
	retrier    *retrier.Retrier
	logger     *zap.Logger
}

// NewCoinGeckoClient creates a new client. A nil logger disables logging.
func NewCoinGeckoClient(cfg CoinGeckoConfig, logger *zap.Logger) *CoinGeckoClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCoinGeckoURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	logger = logger.With(zap.String("component", "coingecko"))

	opts := []retrier.Option{
		retrier.WithMaxRetries(cfg.MaxRetries),
		retrier.WithRetryIf(isRetryable),
		retrier.WithOnRetry(func(attempt int, err error) {
			logger.Debug("retrying upstream request", zap.Int("attempt", attempt), zap.Error(err))
		}),
	}
	if cfg.RetryInterval > 0 {
		opts = append(opts, retrier.WithInitialInterval(cfg.RetryInterval))
	}

	return &CoinGeckoClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		withVolume: cfg.WithVolume,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retrier: retrier.New(opts...),
		logger:  logger,
	}
}

// statusError is a non-2xx upstream response.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream responded %s", e.status)
}

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= http.StatusInternalServerError
	}
	// transport failures and timeouts
	return true
}

type marketCoin struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`
	Name                     string   `json:"name"`
	Image                    string   `json:"image"`
	CurrentPrice             float64  `json:"current_price"`
	MarketCap                float64  `json:"market_cap"`
	MarketCapRank            int      `json:"market_cap_rank"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
}

type coinDetail struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	MarketCapRank int    `json:"market_cap_rank"`
	Image         struct {
		Large string `json:"large"`
	} `json:"image"`
	MarketData *struct {
		CurrentPrice             map[string]float64 `json:"current_price"`
		MarketCap                map[string]float64 `json:"market_cap"`
		PriceChangePercentage24h *float64           `json:"price_change_percentage_24h"`
	} `json:"market_data"`
}

type marketChart struct {
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// FetchTop100 returns the first page of coins ordered by market cap.
func (c *CoinGeckoClient) FetchTop100(ctx context.Context) []domain.Coin {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("order", "market_cap_desc")
	q.Set("per_page", "100")
	q.Set("page", "1")
	q.Set("sparkline", "false")

	var raw []marketCoin
	if err := c.getJSON(ctx, "/coins/markets", q, &raw); err != nil {
		c.logger.Warn("failed to fetch crypto data", zap.Error(err))
		return []domain.Coin{}
	}

	coins := make([]domain.Coin, 0, len(raw))
	for _, m := range raw {
		coins = append(coins, domain.Coin{
			ID:        m.ID,
			Rank:      m.MarketCapRank,
			Name:      m.Name,
			Symbol:    strings.ToUpper(m.Symbol),
			Price:     m.CurrentPrice,
			MarketCap: m.MarketCap,
			Change24h: m.PriceChangePercentage24h,
			Image:     m.Image,
		})
	}

	return coins
}

// FetchHistory returns OHLC bars for the last days days.
func (c *CoinGeckoClient) FetchHistory(ctx context.Context, coinID string, days int) []domain.HistoricalBar {
	logger := c.logger.With(zap.String("coin", coinID))
	if coinID == "" || days <= 0 {
		logger.Warn("invalid history request", zap.Int("days", days))
		return []domain.HistoricalBar{}
	}

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", fmt.Sprintf("%d", days))

	var raw [][]float64
	if err := c.getJSON(ctx, "/coins/"+url.PathEscape(coinID)+"/ohlc", q, &raw); err != nil {
		logger.Warn("failed to fetch historical data", zap.Error(err))
		return []domain.HistoricalBar{}
	}

	bars := make([]domain.HistoricalBar, 0, len(raw))
	for _, t := range raw {
		if len(t) < 5 {
			continue
		}
		bars = append(bars, domain.HistoricalBar{
			Timestamp: int64(t[0]),
			Open:      t[1],
			High:      t[2],
			Low:       t[3],
			Close:     t[4],
		})
	}

	if c.withVolume && len(bars) > 0 {
		var chart marketChart
		if err := c.getJSON(ctx, "/coins/"+url.PathEscape(coinID)+"/market_chart", q, &chart); err != nil {
			logger.Info("volume series unavailable, volume left at zero", zap.Error(err))
		} else {
			mergeVolumes(bars, chart.TotalVolumes)
		}
	}

	return bars
}

// mergeVolumes sets each bar's volume to the latest sample taken at or before
// the bar's timestamp. Bars before the first sample keep zero volume.
func mergeVolumes(bars []domain.HistoricalBar, samples [][2]float64) {
	if len(samples) == 0 {
		return
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i][0] < samples[j][0] })

	for i := range bars {
		ts := float64(bars[i].Timestamp)
		idx := sort.Search(len(samples), func(j int) bool { return samples[j][0] > ts }) - 1
		if idx >= 0 {
			bars[i].Volume = samples[idx][1]
		}
	}
}

// FetchDetail returns the current market snapshot of one coin.
func (c *CoinGeckoClient) FetchDetail(ctx context.Context, coinID string) (domain.Coin, error) {
	if coinID == "" {
		return domain.Coin{}, errors.New("coin id is empty")
	}

	q := url.Values{}
	q.Set("localization", "false")
	q.Set("tickers", "false")
	q.Set("market_data", "true")
	q.Set("community_data", "false")
	q.Set("developer_data", "false")
	q.Set("sparkline", "false")

	var raw coinDetail
	if err := c.getJSON(ctx, "/coins/"+url.PathEscape(coinID), q, &raw); err != nil {
		return domain.Coin{}, errors.Wrapf(err, "fetch detail for %s", coinID)
	}
	if raw.ID == "" || raw.MarketData == nil {
		return domain.Coin{}, errors.Errorf("invalid detail payload for %s", coinID)
	}

	return domain.Coin{
		ID:        raw.ID,
		Rank:      raw.MarketCapRank,
		Name:      raw.Name,
		Symbol:    strings.ToUpper(raw.Symbol),
		Price:     raw.MarketData.CurrentPrice["usd"],
		MarketCap: raw.MarketData.MarketCap["usd"],
		Change24h: raw.MarketData.PriceChangePercentage24h,
		Image:     raw.Image.Large,
	}, nil
}

func (c *CoinGeckoClient) getJSON(ctx context.Context, path string, query url.Values, dst any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	body, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, endpoint)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return errors.Wrap(err, "decode upstream response")
	}

	return nil
}

func (c *CoinGeckoClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(demoAPIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, status: resp.Status}
	}

	return body, nil
}
