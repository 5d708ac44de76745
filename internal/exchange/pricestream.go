package exchange

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DefaultStreamURL is the spot all-market mini-ticker stream. One connection
// covers every symbol a signal might name.
const DefaultStreamURL = "wss://stream.binance.com:9443/ws/!miniTicker@arr"

// FuturesStreamURL is the USD-M equivalent.
const FuturesStreamURL = "wss://fstream.binance.com/ws/!miniTicker@arr"

// maxTickAge is how long a cached tick is trusted before callers fall back
// to a REST lookup.
const maxTickAge = 10 * time.Second

type tick struct {
	price decimal.Decimal
	at    time.Time
}

// PriceStream caches live prices from the mini-ticker websocket stream.
// Everything else in this process polls; the stream just saves a REST round
// trip per symbol per cycle when it is healthy.
type PriceStream struct {
	url  string
	conn *websocket.Conn

	mu      sync.RWMutex
	ticks   map[string]tick
	running bool
	stopCh  chan struct{}
}

// NewPriceStream creates a stream client for url (DefaultStreamURL for spot).
func NewPriceStream(url string) *PriceStream {
	return &PriceStream{
		url:   url,
		ticks: make(map[string]tick),
	}
}

// Start connects and begins caching ticks, reconnecting on failure. A
// stream stopped earlier can be started again.
func (s *PriceStream) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	// The previous stop closed the channel; each run gets its own.
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	go s.run(stop)
	log.Info().Str("url", s.url).Msg("📈 Price stream started")
}

// Stop closes the connection.
func (s *PriceStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	if s.conn != nil {
		s.conn.Close()
	}
}

// Price returns the cached price for symbol if a fresh tick exists.
func (s *PriceStream) Price(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.ticks[symbol]
	if !ok || time.Since(t.at) > maxTickAge {
		return decimal.Zero, false
	}
	return t.price, true
}

func (s *PriceStream) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// run owns its stop channel: a stream restarted after Stop spins up a fresh
// goroutine with a fresh channel, and this one exits on its own.
func (s *PriceStream) run(stop <-chan struct{}) {
	for {
		conn, err := s.connect()
		if err != nil {
			log.Error().Err(err).Msg("Price stream connection failed")
			select {
			case <-time.After(5 * time.Second):
			case <-stop:
				return
			}
			continue
		}

		s.readMessages(conn)

		select {
		case <-stop:
			return
		default:
			log.Warn().Msg("Price stream disconnected, reconnecting...")
			time.Sleep(time.Second)
		}
	}
}

func (s *PriceStream) connect() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	log.Info().Str("url", s.url).Msg("🔌 Price stream connected")
	return conn, nil
}

func (s *PriceStream) readMessages(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.isRunning() {
				log.Error().Err(err).Msg("Price stream read error")
			}
			return
		}
		s.handleMessage(message)
	}
}

// handleMessage ingests a mini-ticker array frame: one entry per symbol that
// ticked in the last second, close price in "c".
func (s *PriceStream) handleMessage(data []byte) {
	var tickers []struct {
		Symbol string `json:"s"`
		Close  string `json:"c"`
	}
	if err := json.Unmarshal(data, &tickers); err != nil {
		return
	}

	now := time.Now()
	s.mu.Lock()
	for _, t := range tickers {
		price, err := decimal.NewFromString(t.Close)
		if err != nil {
			continue
		}
		s.ticks[t.Symbol] = tick{price: price, at: now}
	}
	s.mu.Unlock()
}
