// Package universe is the Universe Selector (C3): it discovers
// exchange-available perpetuals, intersects them with the top-market-cap
// list, and emits the active ingestion universe. Grounded on
// original_source/services/ingestion-service/main.py's
// get_qualified_symbols.
package universe

import (
	"context"
	"log/slog"
	"strings"

	"perpfutures-ingestor/internal/exchange"
	"perpfutures-ingestor/internal/metrics"
)

// defaultSymbols is the compiled-in fallback used when both the exchange
// and metrics-provider discoveries come back empty.
var defaultSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

type Selector struct {
	exchangeClient *exchange.Client
	metricsClient  *metrics.Client
	limit          int
	logger         *slog.Logger
}

func NewSelector(exchangeClient *exchange.Client, metricsClient *metrics.Client, limit int, logger *slog.Logger) *Selector {
	return &Selector{exchangeClient: exchangeClient, metricsClient: metricsClient, limit: limit, logger: logger}
}

// Select runs the §4.3 algorithm: fetch exchange perpetuals P, fetch top-N
// market-cap entries M, map each M row to upper(symbol)+"USDT", and emit the
// intersection preserving M's market-cap order. If P is empty, emit M
// unfiltered with a warning. If the M∩P intersection is empty — whether
// because both inputs were empty or because they simply shared no
// symbols — fall back to the compiled-in default list, preserving the
// always-non-empty invariant (see SPEC_FULL.md OPEN QUESTION DECISIONS #6).
func (s *Selector) Select(ctx context.Context) ([]string, error) {
	perpetuals, err := s.exchangeClient.FetchExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	perpSet := make(map[string]bool, len(perpetuals))
	for _, p := range perpetuals {
		perpSet[p.Symbol] = true
	}

	topMetrics, err := s.metricsClient.FetchTopMetrics(ctx, s.limit)
	if err != nil {
		return nil, err
	}

	var mapped []string
	seen := make(map[string]bool)
	for _, m := range topMetrics {
		sym := strings.ToUpper(m.Symbol) + "USDT"
		if !seen[sym] {
			seen[sym] = true
			mapped = append(mapped, sym)
		}
	}

	if len(perpSet) == 0 {
		s.logger.Warn("universe: exchange discovery returned no perpetuals, using unfiltered metrics list")
		if len(mapped) == 0 {
			s.logger.Warn("universe: metrics discovery also empty, falling back to default symbols")
			return defaultSymbols, nil
		}
		return mapped, nil
	}

	var active []string
	for _, sym := range mapped {
		if perpSet[sym] {
			active = append(active, sym)
		}
	}

	if len(active) == 0 {
		s.logger.Warn("universe: empty intersection, falling back to default symbols")
		return defaultSymbols, nil
	}

	return active, nil
}
