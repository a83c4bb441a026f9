package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/domain"
	"github.com/vadiminshakov/coinverse/internal/metrics"
	"github.com/vadiminshakov/coinverse/internal/services/chat"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// RoomUpdate is pushed to chat sockets: the room's latest messages, oldest first.
type RoomUpdate struct {
	Messages []domain.ChatMessage `json:"messages"`
	Error    string               `json:"error,omitempty"`
}

type sendRequest struct {
	Text string `json:"text"`
}

// latestBox keeps only the newest room list; each delivery is a full list so
// older pending ones can be dropped.
type latestBox struct {
	mu      sync.Mutex
	pending *RoomUpdate
	ready   chan struct{}
}

func newLatestBox() *latestBox {
	return &latestBox{ready: make(chan struct{}, 1)}
}

func (b *latestBox) put(u RoomUpdate) {
	b.mu.Lock()
	b.pending = &u
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *latestBox) take() (RoomUpdate, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return RoomUpdate{}, false
	}
	u := *b.pending
	b.pending = nil
	return u, true
}

func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if err := domain.ValidateCoinID(room); err != nil {
		s.writeError(w, http.StatusBadRequest, "Unknown room.")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	gauge := metrics.StreamClients.WithLabelValues("chat")
	gauge.Inc()
	defer gauge.Dec()

	ctx := r.Context()
	box := newLatestBox()
	failed := make(chan error, 1)

	unsubscribe := s.chat.Subscribe(ctx, room,
		func(msgs []domain.ChatMessage) {
			box.put(RoomUpdate{Messages: msgs})
		},
		func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	)
	defer unsubscribe()

	// reader: only control frames are expected; a read error means the peer left
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case err := <-failed:
			s.logger.Info("chat subscription ended", zap.String("room", room), zap.Error(err))
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteJSON(RoomUpdate{Error: "Chat is unavailable."})
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-box.ready:
			u, ok := box.take()
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(u); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleChatRecent(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.chat.Recent(r.PathValue("room"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Unknown room.")
		return
	}
	s.writeJSON(w, http.StatusOK, RoomUpdate{Messages: msgs})
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Malformed request body.")
		return
	}

	room := r.PathValue("room")
	msg, err := s.chat.Send(r.Context(), room, req.Text, user.Author())
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusCreated, msg)
	case errors.Is(err, domain.ErrInvalidCoinID):
		s.writeError(w, http.StatusBadRequest, "Unknown room.")
	case errors.Is(err, chat.ErrEmptyMessage):
		s.writeError(w, http.StatusBadRequest, "Message is empty.")
	case errors.Is(err, chat.ErrMessageTooLong):
		s.writeError(w, http.StatusBadRequest, "Message is too long.")
	case errors.Is(err, chat.ErrNoAuthor):
		s.writeError(w, http.StatusUnauthorized, "Please sign in again.")
	default:
		s.logger.Error("chat send failed", zap.String("room", room), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Message could not be sent. Please try again.")
	}
}
