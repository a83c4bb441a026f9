package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vadiminshakov/coinverse/internal/domain"
	"github.com/vadiminshakov/coinverse/internal/services/chat"
	"github.com/vadiminshakov/coinverse/internal/services/identity"
	"github.com/vadiminshakov/coinverse/internal/services/market/detail"
	"github.com/vadiminshakov/coinverse/internal/services/market/indicators"
	"github.com/vadiminshakov/coinverse/internal/services/market/loader"
	"github.com/vadiminshakov/coinverse/internal/services/market/refresher"
	"github.com/vadiminshakov/coinverse/internal/storage/chatlog"
	"github.com/vadiminshakov/coinverse/internal/storage/users"
)

type fakeTable struct {
	mu   sync.Mutex
	snap refresher.TableUpdate
	subs []chan refresher.TableUpdate
}

func (f *fakeTable) Snapshot() refresher.TableUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeTable) Search(query string) []domain.Coin {
	return domain.FilterCoins(f.Snapshot().Coins, query)
}

func (f *fakeTable) Subscribe() chan refresher.TableUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan refresher.TableUpdate, 4)
	f.subs = append(f.subs, ch)
	return ch
}

func (f *fakeTable) Unsubscribe(chan refresher.TableUpdate) {}

func (f *fakeTable) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeTable) publish(u refresher.TableUpdate) {
	f.mu.Lock()
	f.snap = u
	subs := append([]chan refresher.TableUpdate(nil), f.subs...)
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- u
	}
}

type fakeDetails struct {
	mu       sync.Mutex
	coins    map[string]domain.Coin
	settings []domain.IndicatorSpec
}

func (f *fakeDetails) Coin(_ context.Context, id string) (domain.Coin, loader.Source, error) {
	if err := domain.ValidateCoinID(id); err != nil {
		return domain.Coin{}, "", err
	}
	c, ok := f.coins[id]
	if !ok {
		return domain.Coin{}, "", errors.Wrap(detail.ErrUnavailable, id)
	}
	return c, loader.SourceNetwork, nil
}

func (f *fakeDetails) History(_ context.Context, id string) ([]domain.HistoricalBar, loader.Source, error) {
	return []domain.HistoricalBar{{Timestamp: 1, Open: 1, High: 2, Low: 1, Close: 2}}, loader.SourceCache, nil
}

func (f *fakeDetails) IndicatorSummary(_ context.Context, id string) ([]indicators.Latest, error) {
	if _, ok := f.coins[id]; !ok {
		return nil, errors.Wrap(detail.ErrUnavailable, id)
	}
	v := 1.5
	return []indicators.Latest{{Name: "MA", Params: []float64{5}, Values: map[string]*float64{"MA5": &v}}}, nil
}

func (f *fakeDetails) IndicatorSettings() []domain.IndicatorSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settings == nil {
		return domain.DefaultIndicators()
	}
	return f.settings
}

func (f *fakeDetails) SaveIndicatorSettings(specs []domain.IndicatorSpec) error {
	if err := domain.ValidateIndicators(specs); err != nil {
		return err
	}
	f.mu.Lock()
	f.settings = specs
	f.mu.Unlock()
	return nil
}

type fixture struct {
	table   *fakeTable
	details *fakeDetails
	chat    *chat.Service
	auth    *identity.Provider
	http    *httptest.Server
	srv     *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	change := 1.234
	table := &fakeTable{snap: refresher.TableUpdate{
		Coins: []domain.Coin{
			{ID: "bitcoin", Rank: 1, Name: "Bitcoin", Symbol: "BTC", Price: 64250.5, MarketCap: 1.27e12, Change24h: &change},
			{ID: "dogecoin", Rank: 8, Name: "Dogecoin", Symbol: "DOGE", Price: 0.1234, MarketCap: 1.8e10},
		},
		Markers: map[string]domain.Direction{"bitcoin": domain.DirectionUp},
	}}
	details := &fakeDetails{coins: map[string]domain.Coin{"bitcoin": table.snap.Coins[0]}}

	store, err := chatlog.NewWALStore(t.TempDir(), 100, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	chatSvc, err := chat.NewService(chat.Config{}, store, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(chatSvc.Close)

	accounts, err := users.NewFileStore(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)
	auth, err := identity.NewProvider(identity.ProviderConfig{BcryptCost: bcrypt.MinCost}, accounts, zap.NewNop())
	require.NoError(t, err)

	srv, err := NewServer(":0", table, details, chatSvc, auth, zap.NewNop())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{table: table, details: details, chat: chatSvc, auth: auth, http: ts, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequest(method, f.http.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func (f *fixture) register(t *testing.T) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["token"].(string)
}

func TestCoins_ListAndSearch(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/coins", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["coins"], 2)
	assert.Equal(t, false, body["loading"])
	assert.Equal(t, "up", body["markers"].(map[string]any)["bitcoin"])

	_, body = f.do(t, http.MethodGet, "/api/coins?q=doge", "", nil)
	coins := body["coins"].([]any)
	require.Len(t, coins, 1)
	assert.Equal(t, "dogecoin", coins[0].(map[string]any)["id"])

	_, body = f.do(t, http.MethodGet, "/api/coins?q=zzz", "", nil)
	assert.Empty(t, body["coins"])
}

func TestCoin_Detail(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/coins/bitcoin", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "network", body["source"])

	resp, body = f.do(t, http.MethodGet, "/api/coins/solana", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "Could not load data for solana. Please try again later.", body["error"])

	resp, _ = f.do(t, http.MethodGet, "/api/coins/NOT%20VALID", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCoin_HistoryAndIndicators(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/coins/bitcoin/history", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["bars"], 1)

	resp, body = f.do(t, http.MethodGet, "/api/coins/bitcoin/indicators", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["indicators"], 1)

	resp, _ = f.do(t, http.MethodGet, "/api/coins/solana/indicators", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestIndicatorSettings(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodGet, "/api/indicators", "", nil)
	assert.Len(t, body["indicators"], 3)
	assert.Len(t, body["catalog"], len(domain.IndicatorCatalog))

	update := map[string]any{"indicators": []domain.IndicatorSpec{{Name: "RSI", CalcParams: []any{6, 12, 24}}}}

	resp, _ := f.do(t, http.MethodPut, "/api/indicators", "", update)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := f.register(t)
	resp, body = f.do(t, http.MethodPut, "/api/indicators", token, update)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["indicators"], 1)

	bad := map[string]any{"indicators": []domain.IndicatorSpec{{Name: "NOPE"}}}
	resp, _ = f.do(t, http.MethodPut, "/api/indicators", token, bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthFlow(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/auth/session", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["user"])

	resp, body = f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "al", "email": "alice@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Username must be at least 3 characters.", body["error"])

	token := f.register(t)

	resp, body = f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice2", "email": "alice@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "The email address is already in use by another account.", body["error"])

	_, body = f.do(t, http.MethodGet, "/api/auth/session", token, nil)
	assert.Equal(t, "alice", body["user"].(map[string]any)["displayName"])

	resp, body = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid email or password.", body["error"])

	resp, body = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["token"])

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	resp, _ = f.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, body = f.do(t, http.MethodGet, "/api/auth/session", token, nil)
	assert.Nil(t, body["user"])
}

func TestChat_SendRequiresSession(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/chat/bitcoin/messages", "", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := f.register(t)

	resp, _ = f.do(t, http.MethodPost, "/api/chat/bitcoin/messages", token, map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/api/chat/bitcoin/messages", token, map[string]string{"text": " gm "})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "gm", body["text"])
	assert.Equal(t, "alice", body["userName"])
	assert.NotNil(t, body["timestamp"])

	_, body = f.do(t, http.MethodGet, "/api/chat/bitcoin/messages", "", nil)
	assert.Len(t, body["messages"], 1)

	_, body = f.do(t, http.MethodGet, "/api/chat/ethereum/messages", "", nil)
	assert.Empty(t, body["messages"])
}

func TestChat_SocketDeliversRoomUpdates(t *testing.T) {
	f := newFixture(t)
	token := f.register(t)

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/chat/bitcoin/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first RoomUpdate
	require.NoError(t, conn.ReadJSON(&first))
	assert.Empty(t, first.Messages)

	resp, _ := f.do(t, http.MethodPost, "/api/chat/bitcoin/messages", token, map[string]string{"text": "to the moon"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var next RoomUpdate
	require.NoError(t, conn.ReadJSON(&next))
	require.Len(t, next.Messages, 1)
	assert.Equal(t, "to the moon", next.Messages[0].Text)
}

func TestCoinStream(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.http.URL+"/api/coins/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan refresher.TableUpdate, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var u refresher.TableUpdate
			if json.Unmarshal([]byte(data), &u) == nil {
				events <- u
			}
		}
	}()

	select {
	case u := <-events:
		assert.Len(t, u.Coins, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("no initial snapshot")
	}

	require.Eventually(t, func() bool { return f.table.subscribers() == 1 }, time.Second, 10*time.Millisecond)
	f.table.publish(refresher.TableUpdate{Coins: []domain.Coin{{ID: "tether", Name: "Tether", Symbol: "USDT", Price: 1}}})

	select {
	case u := <-events:
		require.Len(t, u.Coins, 1)
		assert.Equal(t, "tether", u.Coins[0].ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no update")
	}
}

func TestIndex_FirstPaint(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.http.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	page := sb.String()

	assert.Contains(t, page, "$64,250.50")
	assert.Contains(t, page, "$0.1234")
	assert.Contains(t, page, "$1.27T")
	assert.Contains(t, page, "1.23%")
	assert.Contains(t, page, "N/A")
	assert.Contains(t, page, `class="price-up"`)
}

func TestIndex_SkeletonWhileLoading(t *testing.T) {
	f := newFixture(t)
	f.table.publish(refresher.TableUpdate{Loading: true})

	resp, err := http.Get(f.http.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
	}
	assert.Equal(t, 10, strings.Count(sb.String(), `class="skeleton"`))
}

func TestSessionToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, sessionToken(r))

	r.AddCookie(&http.Cookie{Name: sessionCookie, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", sessionToken(r))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", sessionToken(r))
}

func TestServeUntilDone_WaitsForInFlightRequests(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusNoContent)
	})}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.srv.serveUntilDone(ctx, server, func() error { return server.Serve(ln) }) }()

	status := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()

	<-entered
	cancel()
	select {
	case <-done:
		t.Fatal("returned while a request was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, http.StatusNoContent, <-status)
}

func TestServeUntilDone_EndsStreamsOnShutdown(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	entered := make(chan struct{})
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(entered)
		<-r.Context().Done()
	})}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.srv.serveUntilDone(ctx, server, func() error { return server.Serve(ln) }) }()

	go func() {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err == nil {
			// hold the stream open until the server ends it
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}()

	<-entered
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout - time.Second):
		t.Fatal("stream kept the server from stopping")
	}
}
