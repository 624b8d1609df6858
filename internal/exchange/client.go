// Package exchange is the REST Fetcher (C4): a stateless client over the
// Binance perpetual-futures REST API for kline backfill, exchange
// discovery, and 24h ticker snapshots. Grounded on the teacher's
// cmd/live/live_adausdt_15m.go and cmd/backfill/backfill_adausdt_15m.go
// go-binance client usage, generalized beyond a single hardcoded symbol.
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/apperrors"
	"perpfutures-ingestor/internal/models"
)

const defaultTimeout = 5 * time.Second

// rateLimitSleep is a var (not a const) so tests can shrink it instead of
// actually blocking 60s on a simulated 429, matching internal/metrics'
// rateLimitSleep.
var rateLimitSleep = 60 * time.Second

// binanceRateLimitCode is the APIError code Binance returns for "too many
// requests" (HTTP 429) — see
// https://binance-docs.github.io/apidocs/futures/en/#error-codes.
const binanceRateLimitCode = -1003

// isRateLimited reports whether err is the Binance APIError Binance raises
// on HTTP 429.
func isRateLimited(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == binanceRateLimitCode
	}
	return false
}

// withRateLimitRetry calls fn once, and if it fails with a 429 sleeps
// rateLimitSleep and retries exactly once — spec §4.3/§9's "429 triggers a
// 60-second sleep and a single retry on that page", applied uniformly to
// every Binance REST call the way internal/metrics already applies it to
// CoinGecko's.
func withRateLimitRetry[T any](fn func() (T, error)) (T, error) {
	result, err := fn()
	if err != nil && isRateLimited(err) {
		time.Sleep(rateLimitSleep)
		result, err = fn()
	}
	return result, err
}

// Client wraps the go-binance futures client with the bounded-lifetime
// request helpers the ingestion engine needs.
type Client struct {
	raw     *futures.Client
	timeout time.Duration
}

func NewClient(apiKey, apiSecret string) *Client {
	return &Client{raw: futures.NewClient(apiKey, apiSecret), timeout: defaultTimeout}
}

// FetchKlines backfills up to limit bars for symbol/timeframe, paginating
// forward from startTime (if non-zero) 1500 bars at a time, matching the
// teacher's backfill cursor logic (cursor = lastCandle.CloseTime + 1).
func (c *Client) FetchKlines(ctx context.Context, symbol, timeframe string, startTime time.Time, limit int) ([]models.Candle, error) {
	interval, ok := binanceIntervalOf(timeframe)
	if !ok {
		return nil, &apperrors.ValidationError{Op: "FetchKlines", Reason: "unsupported timeframe " + timeframe}
	}

	var out []models.Candle
	cursor := startTime.UnixMilli()

	for len(out) < limit {
		svc := c.raw.NewKlinesService().Symbol(symbol).Interval(interval).Limit(1500)
		if cursor > 0 {
			svc = svc.StartTime(cursor)
		}
		klines, err := withRateLimitRetry(func() ([]*futures.Kline, error) {
			reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return svc.Do(reqCtx)
		})
		if err != nil {
			return out, &apperrors.TransientNetworkError{Op: "FetchKlines", Err: err}
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			candle, perr := toCandle(symbol, timeframe, k)
			if perr != nil {
				continue
			}
			out = append(out, candle)
		}

		last := klines[len(klines)-1]
		cursor = last.CloseTime + 1

		if len(klines) < 1500 {
			break
		}
		time.Sleep(100 * time.Millisecond) // rate-limit courtesy between pages
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func toCandle(symbol, timeframe string, k *futures.Kline) (models.Candle, error) {
	open, err1 := decimal.NewFromString(k.Open)
	high, err2 := decimal.NewFromString(k.High)
	low, err3 := decimal.NewFromString(k.Low)
	closePrice, err4 := decimal.NewFromString(k.Close)
	vol, err5 := decimal.NewFromString(k.Volume)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return models.Candle{}, &apperrors.ParseError{Op: "toCandle", Err: err1}
	}
	c := models.Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    vol,
		IsClosed:  true,
	}
	if !c.Valid() {
		return models.Candle{}, &apperrors.ValidationError{Op: "toCandle", Reason: "ohlc invariant violated"}
	}
	return c, nil
}

// Ticker24h is the subset of the 24hr ticker endpoint the refresher needs.
type Ticker24h struct {
	Symbol      string
	LastPrice   decimal.Decimal
	QuoteVolume decimal.Decimal
}

// FetchAllTickers24h fetches every symbol's 24h ticker in one call.
func (c *Client) FetchAllTickers24h(ctx context.Context) (map[string]Ticker24h, error) {
	svc := c.raw.NewListPriceChangeStatsService()
	tickers, err := withRateLimitRetry(func() ([]*futures.PriceChangeStats, error) {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return svc.Do(reqCtx)
	})
	if err != nil {
		return nil, &apperrors.TransientNetworkError{Op: "FetchAllTickers24h", Err: err}
	}

	out := make(map[string]Ticker24h, len(tickers))
	for _, t := range tickers {
		lastPrice, err1 := decimal.NewFromString(t.LastPrice)
		quoteVol, err2 := decimal.NewFromString(t.QuoteVolume)
		if err1 != nil || err2 != nil {
			continue
		}
		out[t.Symbol] = Ticker24h{Symbol: t.Symbol, LastPrice: lastPrice, QuoteVolume: quoteVol}
	}
	return out, nil
}

// PerpetualSymbol is the subset of exchangeInfo's symbol entries the
// universe selector filters on.
type PerpetualSymbol struct {
	Symbol       string
	ContractType string
	Status       string
}

// FetchExchangeInfo returns every perpetual symbol with TRADING status.
func (c *Client) FetchExchangeInfo(ctx context.Context) ([]PerpetualSymbol, error) {
	svc := c.raw.NewExchangeInfoService()
	info, err := withRateLimitRetry(func() (*futures.ExchangeInfo, error) {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return svc.Do(reqCtx)
	})
	if err != nil {
		return nil, &apperrors.TransientNetworkError{Op: "FetchExchangeInfo", Err: err}
	}

	var out []PerpetualSymbol
	for _, s := range info.Symbols {
		if string(s.ContractType) == "PERPETUAL" && string(s.Status) == "TRADING" {
			out = append(out, PerpetualSymbol{
				Symbol:       s.Symbol,
				ContractType: string(s.ContractType),
				Status:       string(s.Status),
			})
		}
	}
	return out, nil
}

func binanceIntervalOf(timeframe string) (string, bool) {
	m := map[string]string{
		"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
		"1h": "1h", "2h": "2h", "4h": "4h", "6h": "6h", "8h": "8h", "12h": "12h",
		"1d": "1d", "3d": "3d", "1w": "1w", "1M": "1M",
	}
	v, ok := m[timeframe]
	return v, ok
}
