// Package feedtest provides a mock exchange feed server for testing.
// It serves the 24hr ticker REST endpoint and a WebSocket stream that
// honors SUBSCRIBE and UNSUBSCRIBE control frames the way Binance does.
package feedtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Quote is the mock market state for one trading pair.
type Quote struct {
	Price     float64
	Change24h float64
}

// controlFrame mirrors the stream control message shape.
type controlFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// feedConn tracks one WebSocket client and its subscription set.
type feedConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	streams map[string]bool
}

// Server is a mock exchange feed for tests. It supports both the REST
// 24hr ticker endpoint and WebSocket ticker streaming.
type Server struct {
	mu sync.RWMutex

	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader

	quotes map[string]Quote

	connMu sync.Mutex
	conns  map[*feedConn]bool
}

// NewServer creates a mock feed preloaded with the given quotes.
func NewServer(quotes map[string]Quote) *Server {
	server := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		quotes: make(map[string]Quote),
		conns:  make(map[*feedConn]bool),
	}

	for symbol, quote := range quotes {
		server.quotes[symbol] = quote
	}

	return server
}

// Start starts the mock server on the given address.
// If address is empty or ":0", a random available port is used.
func (s *Server) Start(address string) error {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener

	router := mux.NewRouter()
	router.HandleFunc("/api/v3/ticker/24hr", s.handleTicker24hr).Methods("GET")
	router.HandleFunc("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			fmt.Printf("HTTP server error: %v\n", err)
		}
	}()

	return nil
}

// Stop stops the mock server.
func (s *Server) Stop() error {
	s.connMu.Lock()
	for fc := range s.conns {
		fc.conn.Close()
	}
	s.conns = make(map[*feedConn]bool)
	s.connMu.Unlock()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// Address returns the address the server is listening on.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// BaseURL returns the REST base URL for the server.
func (s *Server) BaseURL() string {
	return "http://" + s.Address()
}

// WebSocketURL returns the stream URL for the server.
func (s *Server) WebSocketURL() string {
	return "ws://" + s.Address() + "/ws"
}

// SetQuote updates the REST quote for a symbol.
func (s *Server) SetQuote(symbol string, quote Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = quote
}

// PushTick broadcasts a 24hrTicker event to every client subscribed to
// the symbol's ticker stream.
func (s *Server) PushTick(symbol string, price, changePercent float64) {
	event := map[string]interface{}{
		"e": "24hrTicker",
		"E": time.Now().UnixMilli(),
		"s": symbol,
		"c": strconv.FormatFloat(price, 'f', 8, 64),
		"P": strconv.FormatFloat(changePercent, 'f', 2, 64),
	}

	stream := streamName(symbol)

	s.connMu.Lock()
	defer s.connMu.Unlock()

	for fc := range s.conns {
		fc.writeMu.Lock()
		if fc.streams[stream] {
			fc.conn.WriteJSON(event)
		}
		fc.writeMu.Unlock()
	}
}

// DisconnectAll closes every WebSocket client without stopping the
// server, simulating a dropped feed.
func (s *Server) DisconnectAll() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	for fc := range s.conns {
		fc.conn.Close()
	}
	s.conns = make(map[*feedConn]bool)
}

// ConnectionCount returns the number of live WebSocket clients.
func (s *Server) ConnectionCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	return len(s.conns)
}

// Subscriptions returns the streams subscribed across all clients.
func (s *Server) Subscriptions() []string {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	var streams []string
	for fc := range s.conns {
		fc.writeMu.Lock()
		for stream := range fc.streams {
			streams = append(streams, stream)
		}
		fc.writeMu.Unlock()
	}

	return streams
}

// handleTicker24hr handles GET /api/v3/ticker/24hr
func (s *Server) handleTicker24hr(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var symbols []string

	if symbolsParam := r.URL.Query().Get("symbols"); symbolsParam != "" {
		if err := json.Unmarshal([]byte(symbolsParam), &symbols); err != nil {
			http.Error(w, "Invalid symbols parameter", http.StatusBadRequest)
			return
		}
	} else if symbolParam := r.URL.Query().Get("symbol"); symbolParam != "" {
		symbols = []string{symbolParam}
	} else {
		for symbol := range s.quotes {
			symbols = append(symbols, symbol)
		}
	}

	type statsResponse struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
	}

	response := []statsResponse{}
	for _, symbol := range symbols {
		quote, ok := s.quotes[symbol]
		if !ok {
			continue
		}

		response = append(response, statsResponse{
			Symbol:             symbol,
			LastPrice:          strconv.FormatFloat(quote.Price, 'f', 8, 64),
			PriceChangePercent: strconv.FormatFloat(quote.Change24h, 'f', 3, 64),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleWebSocket upgrades the connection and serves control frames.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	fc := &feedConn{
		conn:    conn,
		streams: make(map[string]bool),
	}

	s.connMu.Lock()
	s.conns[fc] = true
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		delete(s.conns, fc)
		s.connMu.Unlock()
		conn.Close()
	}()

	for {
		var frame controlFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		fc.writeMu.Lock()
		switch frame.Method {
		case "SUBSCRIBE":
			for _, stream := range frame.Params {
				fc.streams[stream] = true
			}
		case "UNSUBSCRIBE":
			for _, stream := range frame.Params {
				delete(fc.streams, stream)
			}
		}

		// Binance acknowledges control frames with a null result.
		conn.WriteJSON(map[string]interface{}{
			"result": nil,
			"id":     frame.ID,
		})
		fc.writeMu.Unlock()
	}
}

func streamName(symbol string) string {
	return strings.ToLower(symbol) + "@ticker"
}
