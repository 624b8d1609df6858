package market

import (
	"sync/atomic"
	"time"
)

// Metrics is the observable, thread-safe counter set from §4.5. The
// multiplexer owns messages_received/parse_errors/reconnect_count/
// last_message_time/is_connected/reconnect_delay; the batch writer updates
// batch_buffer_size/total_batches_flushed/total_candles_batched on the same
// struct so operators read one health snapshot.
type Metrics struct {
	messagesReceived    atomic.Int64
	parseErrors         atomic.Int64
	reconnectCount      atomic.Int64
	lastMessageUnixNano atomic.Int64
	connected           atomic.Bool
	reconnectDelayMS    atomic.Int64
	batchBufferSize     atomic.Int64
	totalBatchesFlushed atomic.Int64
	totalCandlesBatched atomic.Int64
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) RecordMessage() {
	m.messagesReceived.Add(1)
	m.lastMessageUnixNano.Store(time.Now().UnixNano())
}

func (m *Metrics) RecordParseError()            { m.parseErrors.Add(1) }
func (m *Metrics) RecordReconnect()              { m.reconnectCount.Add(1) }
func (m *Metrics) SetConnected(v bool)            { m.connected.Store(v) }
func (m *Metrics) SetReconnectDelay(d time.Duration) { m.reconnectDelayMS.Store(d.Milliseconds()) }
func (m *Metrics) SetBatchBufferSize(n int)        { m.batchBufferSize.Store(int64(n)) }
func (m *Metrics) AddBatchFlushed(candles int) {
	m.totalBatchesFlushed.Add(1)
	m.totalCandlesBatched.Add(int64(candles))
}

// Snapshot is a point-in-time, allocation-free copy for exposition.
type Snapshot struct {
	MessagesReceived    int64
	ParseErrors         int64
	ReconnectCount      int64
	LastMessageTime     time.Time
	IsConnected         bool
	ReconnectDelay      time.Duration
	BatchBufferSize     int64
	TotalBatchesFlushed int64
	TotalCandlesBatched int64
}

func (m *Metrics) Snapshot() Snapshot {
	var last time.Time
	if ns := m.lastMessageUnixNano.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Snapshot{
		MessagesReceived:    m.messagesReceived.Load(),
		ParseErrors:         m.parseErrors.Load(),
		ReconnectCount:      m.reconnectCount.Load(),
		LastMessageTime:     last,
		IsConnected:         m.connected.Load(),
		ReconnectDelay:      time.Duration(m.reconnectDelayMS.Load()) * time.Millisecond,
		BatchBufferSize:     m.batchBufferSize.Load(),
		TotalBatchesFlushed: m.totalBatchesFlushed.Load(),
		TotalCandlesBatched: m.totalCandlesBatched.Load(),
	}
}
