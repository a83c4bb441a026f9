package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/domain"
	"github.com/vadiminshakov/coinverse/internal/metrics"
	"github.com/vadiminshakov/coinverse/internal/services/market/detail"
	"github.com/vadiminshakov/coinverse/internal/services/market/indicators"
	"github.com/vadiminshakov/coinverse/internal/services/market/loader"
)

type coinsResponse struct {
	Coins   []domain.Coin               `json:"coins"`
	Markers map[string]domain.Direction `json:"markers"`
	Loading bool                        `json:"loading"`
}

type coinResponse struct {
	Coin   domain.Coin   `json:"coin"`
	Source loader.Source `json:"source"`
}

type historyResponse struct {
	Bars   []domain.HistoricalBar `json:"bars"`
	Source loader.Source          `json:"source,omitempty"`
}

type indicatorsResponse struct {
	Indicators []domain.IndicatorSpec `json:"indicators"`
	Catalog    []domain.IndicatorInfo `json:"catalog,omitempty"`
}

type coinIndicatorsResponse struct {
	Indicators []indicators.Latest `json:"indicators"`
}

func (s *Server) handleCoins(w http.ResponseWriter, r *http.Request) {
	snap := s.table.Snapshot()
	coins := snap.Coins
	if q := r.URL.Query().Get("q"); q != "" {
		coins = s.table.Search(q)
	}
	if coins == nil {
		coins = []domain.Coin{}
	}

	s.writeJSON(w, http.StatusOK, coinsResponse{Coins: coins, Markers: snap.Markers, Loading: snap.Loading})
}

// handleCoinStream pushes the table as "table" events: the current snapshot
// first, then every change.
func (s *Server) handleCoinStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates := s.table.Subscribe()
	defer s.table.Unsubscribe(updates)

	gauge := metrics.StreamClients.WithLabelValues("coins")
	gauge.Inc()
	defer gauge.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send a comment heartbeat so proxies keep the connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	var seq uint64
	send := func(v any) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		seq++
		fmt.Fprintf(w, "id: %d\n", seq)
		fmt.Fprintf(w, "event: table\n")
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return nil
	}

	if err := send(s.table.Snapshot()); err != nil {
		s.logger.Error("coin stream initial snapshot", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := send(update); err != nil {
				s.logger.Error("coin stream update", zap.Error(err))
			}
		}
	}
}

func (s *Server) handleCoin(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	coin, src, err := s.details.Coin(r.Context(), id)
	if err != nil {
		s.writeCoinError(w, id, err)
		return
	}

	s.writeJSON(w, http.StatusOK, coinResponse{Coin: coin, Source: src})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	bars, src, err := s.details.History(r.Context(), id)
	if err != nil {
		s.writeCoinError(w, id, err)
		return
	}

	s.writeJSON(w, http.StatusOK, historyResponse{Bars: bars, Source: src})
}

func (s *Server) handleCoinIndicators(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	latest, err := s.details.IndicatorSummary(r.Context(), id)
	if err != nil {
		s.writeCoinError(w, id, err)
		return
	}

	s.writeJSON(w, http.StatusOK, coinIndicatorsResponse{Indicators: latest})
}

func (s *Server) writeCoinError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCoinID):
		s.writeError(w, http.StatusBadRequest, "Unknown coin.")
	case errors.Is(err, detail.ErrUnavailable):
		s.writeError(w, http.StatusBadGateway, detail.UnavailableMessage(id))
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		s.logger.Error("coin request failed", zap.String("coin", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, detail.UnavailableMessage(id))
	}
}

func (s *Server) handleGetIndicators(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, indicatorsResponse{
		Indicators: s.details.IndicatorSettings(),
		Catalog:    domain.IndicatorCatalog,
	})
}

func (s *Server) handlePutIndicators(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req indicatorsResponse
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	if err := s.details.SaveIndicatorSettings(req.Indicators); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, indicatorsResponse{Indicators: s.details.IndicatorSettings()})
}
