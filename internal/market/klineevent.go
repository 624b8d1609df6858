package market

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/apperrors"
	"perpfutures-ingestor/internal/models"
)

// binanceIntervals maps a canonical timeframe name to its Binance kline
// stream interval token. Timeframes outside this table are rejected at
// subscribe time per §4.5.
var binanceIntervals = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "2h": "2h", "4h": "4h", "6h": "6h", "8h": "8h", "12h": "12h",
	"1d": "1d", "3d": "3d", "1w": "1w", "1M": "1M",
}

// ToBinanceInterval translates a timeframe name to its Binance stream
// interval token.
func ToBinanceInterval(timeframe string) (string, bool) {
	v, ok := binanceIntervals[timeframe]
	return v, ok
}

// streamName builds the lower(symbol)+"@kline_"+interval stream name.
func streamName(symbol, timeframe string) (string, bool) {
	interval, ok := ToBinanceInterval(timeframe)
	if !ok {
		return "", false
	}
	return strings.ToLower(symbol) + "@kline_" + interval, true
}

// wsKlinePayload is the raw exchange kline envelope, covering both the
// single-stream ({"e":"kline",...}) and multi-stream ({"stream":...,
// "data":{...}}) shapes.
type wsKlinePayload struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`

	EventType string    `json:"e"`
	EventTime int64     `json:"E"`
	Symbol    string    `json:"s"`
	Kline     klineData `json:"k"`
}

type klineData struct {
	StartTime int64  `json:"t"`
	EndTime   int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`

	Open  json.Number `json:"o"`
	High  json.Number `json:"h"`
	Low   json.Number `json:"l"`
	Close json.Number `json:"c"`
	Vol   json.Number `json:"v"`

	IsClosed bool `json:"x"`
}

// timeframeByInterval inverts binanceIntervals for parsing incoming events,
// which report Binance interval tokens, back to canonical timeframe names.
var timeframeByInterval = func() map[string]string {
	m := make(map[string]string, len(binanceIntervals))
	for tf, interval := range binanceIntervals {
		m[interval] = tf
	}
	return m
}()

// ParseKlineMessage parses one raw WS text frame into a models.Candle. It
// accepts both single-stream and multi-stream envelopes, ignores non-kline
// events, and rejects messages with invalid OHLC values.
func ParseKlineMessage(raw []byte) (models.Candle, error) {
	var env wsKlinePayload
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.Candle{}, &apperrors.ParseError{Op: "ParseKlineMessage", Err: err}
	}

	k := env.Kline
	eventType := env.EventType
	if len(env.Data) > 0 {
		var inner struct {
			EventType string    `json:"e"`
			Kline     klineData `json:"k"`
		}
		if err := json.Unmarshal(env.Data, &inner); err != nil {
			return models.Candle{}, &apperrors.ParseError{Op: "ParseKlineMessage inner", Err: err}
		}
		eventType = inner.EventType
		k = inner.Kline
	}

	if eventType != "kline" {
		return models.Candle{}, &apperrors.ParseError{Op: "ParseKlineMessage", Err: errNotKline}
	}

	open, err1 := decimal.NewFromString(k.Open.String())
	high, err2 := decimal.NewFromString(k.High.String())
	low, err3 := decimal.NewFromString(k.Low.String())
	closePrice, err4 := decimal.NewFromString(k.Close.String())
	vol, err5 := decimal.NewFromString(k.Vol.String())
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return models.Candle{}, &apperrors.ParseError{Op: "ParseKlineMessage decimal", Err: errBadNumber}
	}

	tf, ok := timeframeByInterval[k.Interval]
	if !ok {
		tf = k.Interval
	}

	c := models.Candle{
		Symbol:    k.Symbol,
		Timeframe: tf,
		Timestamp: time.UnixMilli(k.StartTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    vol,
		IsClosed:  k.IsClosed,
	}

	if !c.Valid() {
		return models.Candle{}, &apperrors.ValidationError{Op: "ParseKlineMessage", Reason: "ohlc invariant violated"}
	}

	return c, nil
}
