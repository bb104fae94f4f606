package httpserver

import (
	"net/http"
	"strings"
	"time"

	"fx-arena/internal/auth"
	"fx-arena/internal/ledger"
	"fx-arena/internal/metrics"
	"fx-arena/internal/pricefeed"
	"fx-arena/internal/risk"

	"github.com/gorilla/websocket"
)

// WSHandler streams live quotes plus the caller's account metrics
// (equity, margin level, margin state) on every tick.
type WSHandler struct {
	bus      *pricefeed.Bus
	verifier *auth.Verifier
	ledger   *ledger.Ledger
	quotes   ledger.QuoteSource
	monitor  *risk.Monitor
	origin   string
	upgrader websocket.Upgrader
}

func NewWSHandler(bus *pricefeed.Bus, verifier *auth.Verifier, l *ledger.Ledger, quotes ledger.QuoteSource, monitor *risk.Monitor, origin string) *WSHandler {
	return &WSHandler{
		bus:      bus,
		verifier: verifier,
		ledger:   l,
		quotes:   quotes,
		monitor:  monitor,
		origin:   origin,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type tickWS struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	TS     int64  `json:"ts"`
}

type accountWS struct {
	ParticipantID string `json:"participant_id"`
	Equity        string `json:"equity"`
	UsedMargin    string `json:"used_margin"`
	FreeMargin    string `json:"free_margin"`
	FloatingPnL   string `json:"floating_pnl"`
	MarginLevel   string `json:"margin_level"`
	MarginState   string `json:"margin_state"`
	OpenCount     int    `json:"open_count"`
	TS            int64  `json:"ts"`
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "*" {
		return true
	}
	reqOrigin := r.Header.Get("Origin")
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		if strings.Contains(reqOrigin, "localhost") || strings.Contains(reqOrigin, "127.0.0.1") {
			return true
		}
	}
	return strings.EqualFold(reqOrigin, origin)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	if _, err := h.verifier.ParseToken(token); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	participantID := r.URL.Query().Get("participant_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	metrics.WebSocketClients.Inc()
	defer metrics.WebSocketClients.Dec()

	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lastAccountAt := time.Time{}
	for {
		select {
		case t, ok := <-sub:
			if !ok {
				return
			}
			evt := wsEvent{Type: "quote", Data: tickWS{
				Symbol: t.Symbol,
				Bid:    t.Bid.String(),
				Ask:    t.Ask.String(),
				TS:     t.Timestamp.UnixMilli(),
			}}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
			if participantID == "" {
				continue
			}
			if !lastAccountAt.IsZero() && time.Since(lastAccountAt) < 200*time.Millisecond {
				continue
			}
			m, err := h.ledger.ComputeMetrics(participantID, h.quotes)
			if err != nil {
				continue
			}
			payload := accountWS{
				ParticipantID: participantID,
				Equity:        m.Equity.String(),
				UsedMargin:    m.UsedMargin.String(),
				FreeMargin:    m.FreeMargin.String(),
				FloatingPnL:   m.FloatingPnL.String(),
				MarginLevel:   m.MarginLevel,
				OpenCount:     m.OpenCount,
				TS:            time.Now().UnixMilli(),
			}
			if h.monitor != nil {
				payload.MarginState = string(h.monitor.State(participantID))
			}
			if err := conn.WriteJSON(wsEvent{Type: "account", Data: payload}); err != nil {
				return
			}
			lastAccountAt = time.Now()
		case <-done:
			return
		}
	}
}
