package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/marstr/collection/v2"
	"github.com/sirupsen/logrus"

	"spread-arbitrage-scanner/arbitrage"
	"spread-arbitrage-scanner/market"
)

const (
	DefaultAlertCooldown = 10 * time.Second
	DefaultQuoteInterval = 500 * time.Millisecond

	cooldownRoutes = 1024
	clientBuffer   = 64
	writeWait      = 5 * time.Second
)

type Options struct {
	Address string
	// AlertCooldown suppresses repeats of the same route (symbol, buy, sell).
	AlertCooldown time.Duration
	QuoteInterval time.Duration
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub serves live quotes and opportunities to browser clients over
// WebSocket and a small JSON API. It is an arbitrage.Sink.
type Hub struct {
	store    *market.Store
	log      *logrus.Entry
	opts     Options
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	clientsMu sync.Mutex
	clients   map[*client]struct{}
	closed    bool

	cooldownMu sync.Mutex
	lastAlert  *collection.LRUCache[string, time.Time]

	now func() time.Time
}

var _ arbitrage.Sink = (*Hub)(nil)

func NewHub(store *market.Store, opts Options, log *logrus.Entry) *Hub {
	if opts.AlertCooldown <= 0 {
		opts.AlertCooldown = DefaultAlertCooldown
	}
	if opts.QuoteInterval <= 0 {
		opts.QuoteInterval = DefaultQuoteInterval
	}
	h := &Hub{
		store: store,
		log:   log,
		opts:  opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:   make(map[*client]struct{}),
		lastAlert: collection.NewLRUCache[string, time.Time](cooldownRoutes),
		now:       time.Now,
	}
	h.mux = http.NewServeMux()
	h.mux.HandleFunc("/ws", h.handleWebSocket)
	h.mux.HandleFunc("/api/v0/quotes", methods(map[string]http.HandlerFunc{
		http.MethodGet: h.getQuotes,
	}))
	h.mux.HandleFunc("/healthz", h.health)
	return h
}

func (h *Hub) Handler() http.Handler { return h.mux }

// Run serves HTTP on opts.Address and pushes quote snapshots until ctx is
// done.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              h.opts.Address,
		Handler:           h.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go h.publishQuotes(ctx)

	errc := make(chan error, 1)
	go func() {
		h.log.WithField("addr", h.opts.Address).Info("hub listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdown)
	h.closeClients()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Emit broadcasts an opportunity unless the same route fired within the
// cooldown.
func (h *Hub) Emit(opp arbitrage.Opportunity) {
	now := h.now()
	key := opp.Key()

	h.cooldownMu.Lock()
	last, seen := h.lastAlert.Get(key)
	if seen && now.Sub(last) < h.opts.AlertCooldown {
		h.cooldownMu.Unlock()
		return
	}
	h.lastAlert.Put(key, now)
	h.cooldownMu.Unlock()

	h.broadcast(map[string]any{
		"type":        "arbitrage",
		"opportunity": opp,
	})
}

func (h *Hub) publishQuotes(ctx context.Context) {
	ticker := time.NewTicker(h.opts.QuoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.ClientCount() == 0 || h.store.Len() == 0 {
				continue
			}
			h.broadcast(map[string]any{
				"type":   "quotes",
				"quotes": h.store.All(),
			})
		}
	}
}

func (h *Hub) broadcast(message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.log.WithError(err).Error("encode broadcast")
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.log.Debug("client too slow, dropping message")
		}
	}
}

func (h *Hub) ClientCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	total, ok := h.register(c)
	if !ok {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.log.WithField("clients", total).Info("websocket client connected")

	go c.writePump()
	defer func() {
		h.remove(c)
		h.log.WithField("clients", h.ClientCount()).Info("websocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// register adds c unless the hub has already shut down.
func (h *Hub) register(c *client) (int, bool) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if h.closed {
		return 0, false
	}
	h.clients[c] = struct{}{}
	return len(h.clients), true
}

func (h *Hub) remove(c *client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeClients() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// writePump is the only writer of c.conn.
func (c *client) writePump() {
	defer c.conn.Close()
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeWait))
}

func (h *Hub) getQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbol")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{`missing required query parameter, "symbol"`})
		return
	}
	sym, err := market.ParseSymbol(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": sym,
		"quotes": h.store.Snapshot(sym),
	})
}

func (h *Hub) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": h.ClientCount(),
		"symbols": h.store.Symbols(),
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// methods dispatches by HTTP method and answers 405 with an Allow header
// for anything else.
func methods(handlers map[string]http.HandlerFunc) http.HandlerFunc {
	allow := make([]string, 0, len(handlers))
	for m := range handlers {
		allow = append(allow, m)
	}
	sort.Strings(allow)
	allowed := strings.Join(allow, ", ")

	return func(w http.ResponseWriter, r *http.Request) {
		handler, ok := handlers[r.Method]
		if !ok {
			w.Header().Set("Allow", allowed)
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{"method not allowed, use " + allowed})
			return
		}
		handler(w, r)
	}
}
