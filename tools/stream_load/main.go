// Command stream_load opens many concurrent table streams (SSE) or chat
// sockets (WebSocket) against a coinverse server and reports throughput.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/logging"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	events      atomic.Int64
}

func (c *counters) fields(start time.Time) []zap.Field {
	return []zap.Field{
		zap.Int64("connected", c.connected.Load()),
		zap.Int64("connect_errs", c.connectErrs.Load()),
		zap.Int64("stream_errs", c.streamErrs.Load()),
		zap.Int64("events", c.events.Load()),
		zap.Duration("elapsed", time.Since(start).Truncate(time.Second)),
	}
}

func main() {
	var (
		server      string
		mode        string
		room        string
		connections int
		duration    time.Duration
		rampUp      time.Duration
	)

	flag.StringVar(&server, "server", "http://localhost:8080", "coinverse server url")
	flag.StringVar(&mode, "mode", "sse", "sse (table stream) or ws (chat socket)")
	flag.StringVar(&room, "room", "bitcoin", "chat room for ws mode")
	flag.IntVar(&connections, "conns", 1000, "number of concurrent connections to open")
	flag.DurationVar(&duration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", 0, "spread connection starts across this window")
	flag.Parse()

	logger, err := logging.New("info", "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if connections <= 0 {
		logger.Fatal("invalid connection count", zap.Int("conns", connections))
	}
	if rampUp == 0 && connections > 100 {
		// 1 second per 500 connections
		rampUp = max(time.Duration(connections/500)*time.Second, time.Second)
	}

	var connect func(ctx context.Context, c *counters)
	switch mode {
	case "sse":
		connect = sseConnector(server+"/api/coins/stream", connections)
	case "ws":
		u, err := url.Parse(server)
		if err != nil {
			logger.Fatal("invalid server url", zap.Error(err))
		}
		u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
		u.Path = "/api/chat/" + url.PathEscape(room) + "/ws"
		connect = wsConnector(u.String())
	default:
		logger.Fatal("unknown mode", zap.String("mode", mode))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, duration)
		defer stop()
	}

	logger.Info("starting load",
		zap.String("server", server), zap.String("mode", mode),
		zap.Int("conns", connections), zap.Duration("dur", duration), zap.Duration("ramp", rampUp))

	var (
		c     counters
		wg    sync.WaitGroup
		start = time.Now()
	)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("status", c.fields(start)...)
			}
		}
	}()

	interval := rampUp / time.Duration(connections)
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			connect(ctx, &c)
		}()
	}

	wg.Wait()

	elapsed := max(time.Since(start), time.Millisecond)
	logger.Info("done", append(c.fields(start),
		zap.Float64("events_per_sec", float64(c.events.Load())/elapsed.Seconds()))...)
}

// sseConnector counts "table" events; heartbeats are ignored.
func sseConnector(target string, connections int) func(ctx context.Context, c *counters) {
	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 100,
			MaxIdleConns:        connections + 100,
			MaxIdleConnsPerHost: connections + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	return func(ctx context.Context, c *counters) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			c.connectErrs.Add(1)
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := client.Do(req)
		if err != nil {
			c.connectErrs.Add(1)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			c.connectErrs.Add(1)
			return
		}

		c.connected.Add(1)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
		for scanner.Scan() {
			if scanner.Text() == "event: table" {
				c.events.Add(1)
			}
		}
		if ctx.Err() == nil {
			c.streamErrs.Add(1)
		}
	}
}

// wsConnector counts room updates pushed over the chat socket.
func wsConnector(target string) func(ctx context.Context, c *counters) {
	dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	return func(ctx context.Context, c *counters) {
		conn, _, err := dialer.DialContext(ctx, target, nil)
		if err != nil {
			c.connectErrs.Add(1)
			return
		}
		defer conn.Close()
		c.connected.Add(1)

		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if ctx.Err() == nil {
					c.streamErrs.Add(1)
				}
				return
			}
			c.events.Add(1)
		}
	}
}
