package detail

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/domain"
	"github.com/vadiminshakov/coinverse/internal/services/market/loader"
	"github.com/vadiminshakov/coinverse/internal/storage/cachestore"
)

type fakeClient struct {
	mu           sync.Mutex
	detail       domain.Coin
	detailErr    error
	history      []domain.HistoricalBar
	historyCalls int
	historyDays  int
}

func (f *fakeClient) FetchDetail(ctx context.Context, coinID string) (domain.Coin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detailErr != nil {
		return domain.Coin{}, f.detailErr
	}
	return f.detail, nil
}

func (f *fakeClient) FetchHistory(ctx context.Context, coinID string, days int) []domain.HistoricalBar {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	f.historyDays = days
	return f.history
}

func (f *fakeClient) setDetailErr(err error) {
	f.mu.Lock()
	f.detailErr = err
	f.mu.Unlock()
}

func newService(t *testing.T, client Client) (*Service, *cachestore.Store) {
	t.Helper()
	cache, err := cachestore.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	svc, err := New(Config{HistoryDays: 30}, client, cache, zap.NewNop())
	require.NoError(t, err)
	return svc, cache
}

func bars(n int) []domain.HistoricalBar {
	out := make([]domain.HistoricalBar, n)
	for i := range out {
		c := float64(10 + i)
		out[i] = domain.HistoricalBar{Timestamp: int64(i) * 1000, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 5}
	}
	return out
}

func TestCoin_NetworkFirstWithCacheFallback(t *testing.T) {
	client := &fakeClient{detail: domain.Coin{ID: "bitcoin", Name: "Bitcoin", Symbol: "BTC", Price: 100}}
	svc, cache := newService(t, client)

	coin, src, err := svc.Coin(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, loader.SourceNetwork, src)
	assert.Equal(t, 100.0, coin.Price)

	var cached domain.Coin
	require.True(t, cache.Read(cachestore.DetailKey("bitcoin"), &cached))
	assert.Equal(t, coin, cached)

	client.setDetailErr(errors.New("503"))
	coin, src, err = svc.Coin(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, loader.SourceCache, src)
	assert.Equal(t, 100.0, coin.Price)
}

func TestCoin_UnavailableWithoutCache(t *testing.T) {
	svc, _ := newService(t, &fakeClient{detailErr: errors.New("down")})

	_, _, err := svc.Coin(context.Background(), "dogecoin")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "Could not load data for dogecoin. Please try again later.", UnavailableMessage("dogecoin"))
}

func TestCoin_InvalidID(t *testing.T) {
	svc, _ := newService(t, &fakeClient{})
	for _, id := range []string{"", "../etc", "Bitcoin", "a b"} {
		_, _, err := svc.Coin(context.Background(), id)
		assert.ErrorIs(t, err, domain.ErrInvalidCoinID, id)
	}
}

func TestHistory_ColdThenCached(t *testing.T) {
	client := &fakeClient{history: bars(5)}
	svc, cache := newService(t, client)

	got, src, err := svc.History(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, loader.SourceNetwork, src)
	assert.Equal(t, bars(5), got)
	assert.Equal(t, 30, client.historyDays)

	var cached []domain.HistoricalBar
	require.True(t, cache.Read(cachestore.HistoryKey("bitcoin"), &cached))
	assert.Equal(t, bars(5), cached)

	got, src, err = svc.History(context.Background(), "bitcoin")
	require.NoError(t, err)
	svc.Wait()
	assert.Equal(t, loader.SourceCache, src)
	assert.Equal(t, bars(5), got)
}

func TestHistory_EmptyFetchKeepsCache(t *testing.T) {
	client := &fakeClient{}
	svc, cache := newService(t, client)
	cache.Write(cachestore.HistoryKey("bitcoin"), bars(3))

	got, _, err := svc.History(context.Background(), "bitcoin")
	require.NoError(t, err)
	svc.Wait()
	assert.Equal(t, bars(3), got)

	var cached []domain.HistoricalBar
	require.True(t, cache.Read(cachestore.HistoryKey("bitcoin"), &cached))
	assert.Equal(t, bars(3), cached)
}

func TestHistory_NothingAvailable(t *testing.T) {
	svc, _ := newService(t, &fakeClient{})

	got, _, err := svc.History(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestIndicatorSettings_DefaultsAndSave(t *testing.T) {
	svc, _ := newService(t, &fakeClient{})

	assert.Equal(t, domain.DefaultIndicators(), svc.IndicatorSettings())

	specs := []domain.IndicatorSpec{
		{Name: "EMA", CalcParams: []any{6.0, 12.0, 20.0}},
		{Name: "RSI", CalcParams: []any{6.0, 12.0, 24.0}},
	}
	require.NoError(t, svc.SaveIndicatorSettings(specs))
	assert.Equal(t, specs, svc.IndicatorSettings())

	err := svc.SaveIndicatorSettings([]domain.IndicatorSpec{{Name: "NOPE"}})
	assert.Error(t, err)
	assert.Equal(t, specs, svc.IndicatorSettings())
}

func TestIndicatorSummary(t *testing.T) {
	client := &fakeClient{history: bars(60)}
	svc, _ := newService(t, client)

	summary, err := svc.IndicatorSummary(context.Background(), "bitcoin")
	require.NoError(t, err)
	svc.Wait()

	require.Len(t, summary, 3)
	assert.Equal(t, "MA", summary[0].Name)
	assert.Equal(t, "VOL", summary[1].Name)
	require.NotNil(t, summary[1].Values["VOLUME"])
	assert.Equal(t, 5.0, *summary[1].Values["VOLUME"])
	assert.Equal(t, "MACD", summary[2].Name)
}

func TestIndicatorSummary_NoHistory(t *testing.T) {
	svc, _ := newService(t, &fakeClient{})
	_, err := svc.IndicatorSummary(context.Background(), "bitcoin")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSaveIndicatorSettings_RejectsUncomputableParams(t *testing.T) {
	client := &fakeClient{history: bars(60)}
	svc, _ := newService(t, client)

	for _, specs := range [][]domain.IndicatorSpec{
		{{Name: "MACD", CalcParams: []any{26, 12, 9}}},
		{{Name: "MA", CalcParams: []any{0.5, 10, 30}}},
	} {
		assert.Error(t, svc.SaveIndicatorSettings(specs))
	}
	assert.Equal(t, domain.DefaultIndicators(), svc.IndicatorSettings())

	summary, err := svc.IndicatorSummary(context.Background(), "bitcoin")
	require.NoError(t, err)
	svc.Wait()
	assert.Len(t, summary, 3)
}
