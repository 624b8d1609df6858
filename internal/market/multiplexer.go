// Package market implements the WebSocket Multiplexer (C5): it subscribes
// to {symbol x timeframe} kline streams, parses partial and closed candles,
// and emits them to the batch writer, with exponential-backoff reconnect and
// application-level keepalive pings. Generalized from the teacher's
// single-symbol internal/market/streamer.go dialer.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"perpfutures-ingestor/internal/models"
)

const maxStreamsPerConnection = 200

// Config tunes reconnect/keepalive timing; zero values fall back to the
// spec's defaults.
type Config struct {
	BaseURL             string // e.g. "wss://fstream.binance.com"
	MaxReconnectDelay   time.Duration
	PingInterval        time.Duration
	PingTimeout         time.Duration
	ReceiveIdleTimeout  time.Duration // triggers an application-level ping
	DialTimeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "wss://fstream.binance.com"
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 60 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 10 * time.Second
	}
	if c.ReceiveIdleTimeout == 0 {
		c.ReceiveIdleTimeout = 30 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// Multiplexer manages one or more sharded WS connections covering every
// (symbol, timeframe) pair requested.
type Multiplexer struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	out     chan<- models.Candle

	shards []*shard
}

// NewMultiplexer builds the sharded connection set for symbols x timeframes.
// It rejects unknown timeframes at subscribe time (spec §4.5) and shards
// beyond maxStreamsPerConnection streams per connection rather than
// truncating.
func NewMultiplexer(cfg Config, symbols, timeframes []string, logger *slog.Logger, metrics *Metrics, out chan<- models.Candle) (*Multiplexer, error) {
	cfg = cfg.withDefaults()

	var streams []string
	for _, sym := range symbols {
		for _, tf := range timeframes {
			s, ok := streamName(sym, tf)
			if !ok {
				return nil, fmt.Errorf("unsupported timeframe %q for symbol %q", tf, sym)
			}
			streams = append(streams, s)
		}
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("no streams to subscribe to")
	}

	m := &Multiplexer{cfg: cfg, logger: logger, metrics: metrics, out: out}
	for i := 0; i < len(streams); i += maxStreamsPerConnection {
		end := i + maxStreamsPerConnection
		if end > len(streams) {
			end = len(streams)
		}
		m.shards = append(m.shards, newShard(cfg, logger, metrics, out, streams[i:end]))
	}
	return m, nil
}

// Run starts every shard and blocks until ctx is cancelled, at which point
// all shards close their connections and Run returns.
func (m *Multiplexer) Run(ctx context.Context) {
	done := make(chan struct{}, len(m.shards))
	for _, s := range m.shards {
		go func(s *shard) {
			s.run(ctx)
			done <- struct{}{}
		}(s)
	}
	for range m.shards {
		<-done
	}
}

// buildURL constructs the single-stream or multiplexed-stream URL per §4.5.
func buildURL(baseURL string, streams []string) string {
	if len(streams) == 1 {
		return baseURL + "/ws/" + streams[0]
	}
	return baseURL + "/stream?streams=" + strings.Join(streams, "/")
}

// shard owns one physical WS connection covering a subset of streams, and
// drives the DISCONNECTED -> CONNECTING -> OPEN -> CLOSING state machine
// from §4.5 with exponential-backoff reconnect.
type shard struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	out     chan<- models.Candle
	url     string
}

func newShard(cfg Config, logger *slog.Logger, metrics *Metrics, out chan<- models.Candle, streams []string) *shard {
	return &shard{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		out:     out,
		url:     buildURL(cfg.BaseURL, streams),
	}
}

func (s *shard) run(ctx context.Context) {
	b := &backoff.Backoff{
		Min:    1 * time.Second,
		Max:    s.cfg.MaxReconnectDelay,
		Factor: 2,
		Jitter: false,
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.metrics.SetReconnectDelay(0)
		s.logger.Info("market: connecting", "url", s.url)

		dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
		cancel()
		if err != nil {
			s.logger.Error("market: connect failed", "error", err)
			s.metrics.RecordReconnect()
			delay := b.Duration()
			s.metrics.SetReconnectDelay(delay)
			if !sleepOrDone(ctx, delay) {
				return
			}
			continue
		}

		s.metrics.SetConnected(true)
		b.Reset()
		s.logger.Info("market: connected", "url", s.url)

		s.readLoop(ctx, conn)

		conn.Close()
		s.metrics.SetConnected(false)

		select {
		case <-ctx.Done():
			return
		default:
		}
		s.metrics.RecordReconnect()
		delay := b.Duration()
		s.metrics.SetReconnectDelay(delay)
		if !sleepOrDone(ctx, delay) {
			return
		}
	}
}

// readLoop reads frames until an error or idle timeout trips, at which
// point it sends an application-level ping; a failed ping ends the loop
// (CLOSING in the state machine) and the caller reconnects.
func (s *shard) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReceiveIdleTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				if pingErr := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.PingTimeout)); pingErr != nil {
					s.logger.Error("market: keepalive ping failed", "error", pingErr)
					return
				}
				continue
			}
			s.logger.Error("market: read error", "error", err)
			return
		}

		candle, perr := ParseKlineMessage(message)
		if perr != nil {
			s.metrics.RecordParseError()
			continue
		}

		s.metrics.RecordMessage()

		select {
		case s.out <- candle:
		case <-ctx.Done():
			return
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
