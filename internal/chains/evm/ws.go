package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Factory log monitor — real-time PairCreated detection via eth_subscribe.
// ---------------------------------------------------------------------------

// pairCreatedTopic is keccak256("PairCreated(address,address,address,uint256)").
const pairCreatedTopic = "0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e9"

// WSConfig configures the factory log monitor.
type WSConfig struct {
	WSEndpoint       string   `yaml:"ws_endpoint"`
	Factories        []string `yaml:"factories"` // factory contract addresses to watch
	ReconnectDelayMs int      `yaml:"reconnect_delay_ms"`
	PingIntervalS    int      `yaml:"ping_interval_s"`
	MaxReconnects    int      `yaml:"max_reconnects"` // 0 = unlimited
}

// DefaultWSConfig returns mainnet defaults (Uniswap V2 factory).
func DefaultWSConfig() WSConfig {
	return WSConfig{
		Factories: []string{
			"0x5c69bee701ef814a2b6a3edd4b1652cb9cc5aa6f", // Uniswap V2
		},
		ReconnectDelayMs: 1000,
		PingIntervalS:    30,
	}
}

// PairLog is one decoded PairCreated event.
type PairLog struct {
	Factory     string    `json:"factory"`
	Token0      string    `json:"token0"`
	Token1      string    `json:"token1"`
	PairAddress string    `json:"pair_address"`
	Block       uint64    `json:"block"`
	TxHash      string    `json:"tx_hash"`
	DetectedAt  time.Time `json:"detected_at"`
}

// WSMonitor subscribes to factory logs and emits decoded PairCreated events.
type WSMonitor struct {
	config WSConfig

	mu   sync.Mutex
	conn *websocket.Conn

	messagesRecv  atomic.Int64
	pairsDetected atomic.Int64
	reconnects    atomic.Int64
	connected     atomic.Bool
}

// NewWSMonitor creates a factory log monitor.
func NewWSMonitor(config WSConfig) *WSMonitor {
	return &WSMonitor{config: config}
}

// Start connects and begins monitoring. Each call allocates a fresh event
// channel, so a stopped monitor can be started again; the channel closes
// once ctx is cancelled and the run loop has exited.
func (m *WSMonitor) Start(ctx context.Context) <-chan PairLog {
	ch := make(chan PairLog, 256)
	go m.runLoop(ctx, ch)
	return ch
}

func (m *WSMonitor) runLoop(ctx context.Context, ch chan<- PairLog) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("evm ws: runLoop panic recovered")
		}
		close(ch)
	}()

	reconnectDelay := time.Duration(m.config.ReconnectDelayMs) * time.Millisecond
	reconnectCount := 0

	for {
		select {
		case <-ctx.Done():
			m.disconnect()
			return
		default:
		}

		if m.config.MaxReconnects > 0 && reconnectCount >= m.config.MaxReconnects {
			log.Error().Int("max", m.config.MaxReconnects).Msg("evm ws: max reconnects reached")
			return
		}

		if err := m.connect(ctx); err != nil {
			log.Warn().Err(err).Str("endpoint", m.config.WSEndpoint).Msg("evm ws: connect failed")
			reconnectCount++
			m.reconnects.Add(1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		reconnectCount = 0
		m.readLoop(ctx, ch)
		m.disconnect()

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
			m.reconnects.Add(1)
		}
	}
}

func (m *WSMonitor) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, m.config.WSEndpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.config.WSEndpoint, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	// One logs subscription per watched factory.
	for i, factory := range m.config.Factories {
		sub := map[string]any{
			"jsonrpc": "2.0",
			"id":      i + 1,
			"method":  "eth_subscribe",
			"params": []any{
				"logs",
				map[string]any{
					"address": factory,
					"topics":  []string{pairCreatedTopic},
				},
			},
		}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe factory %s: %w", factory, err)
		}
	}

	m.connected.Store(true)
	log.Info().
		Str("endpoint", m.config.WSEndpoint).
		Int("factories", len(m.config.Factories)).
		Msg("evm ws: subscribed to PairCreated logs")
	return nil
}

func (m *WSMonitor) disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connected.Store(false)
}

func (m *WSMonitor) readLoop(ctx context.Context, ch chan<- PairLog) {
	pingTicker := time.NewTicker(time.Duration(m.config.PingIntervalS) * time.Second)
	defer pingTicker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pingTicker.C:
				m.mu.Lock()
				conn := m.conn
				m.mu.Unlock()
				if conn == nil {
					return
				}
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		m.mu.Lock()
		conn := m.conn
		m.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("evm ws: read failed, reconnecting")
			}
			return
		}
		m.messagesRecv.Add(1)
		m.handleMessage(ctx, ch, data)
	}
}

// subscription notification envelope.
type logNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Address     string   `json:"address"`
			Topics      []string `json:"topics"`
			Data        string   `json:"data"`
			BlockNumber string   `json:"blockNumber"`
			TxHash      string   `json:"transactionHash"`
		} `json:"result"`
	} `json:"params"`
}

func (m *WSMonitor) handleMessage(ctx context.Context, ch chan<- PairLog, data []byte) {
	var note logNotification
	if err := json.Unmarshal(data, &note); err != nil || note.Method != "eth_subscription" {
		return // subscription ack or unrelated frame
	}

	res := note.Params.Result
	if len(res.Topics) < 3 || res.Topics[0] != pairCreatedTopic {
		return
	}

	// topics[1] and topics[2] are the indexed token addresses, left-padded
	// to 32 bytes; the first data word is the pair address.
	pairAddr, ok := addressWord(res.Data, 0)
	if !ok {
		return
	}

	pl := PairLog{
		Factory:     res.Address,
		Token0:      topicAddress(res.Topics[1]),
		Token1:      topicAddress(res.Topics[2]),
		PairAddress: pairAddr,
		Block:       hexToUint64(res.BlockNumber),
		TxHash:      res.TxHash,
		DetectedAt:  time.Now(),
	}
	m.pairsDetected.Add(1)

	if ctx.Err() != nil {
		return
	}
	select {
	case ch <- pl:
	default:
		log.Warn().Str("pair", pl.PairAddress).Msg("evm ws: event buffer full, dropping pair")
	}
}

// Stats returns monitor counters.
func (m *WSMonitor) Stats() (messages, pairs, reconnects int64, connected bool) {
	return m.messagesRecv.Load(), m.pairsDetected.Load(), m.reconnects.Load(), m.connected.Load()
}
