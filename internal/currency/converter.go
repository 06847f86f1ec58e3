// Package currency converts amounts for display and normalization. Stored
// expense amounts are never altered; conversion output is a view.
package currency

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	dErrors "expensio/pkg/domain-errors"
)

// RateCache is an optional read-through cache for cross-rate lookups. A nil
// cache disables caching; failures degrade to the static table.
type RateCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// rates maps a currency to its value in USD cents-per-unit terms, expressed
// as units of USD per unit of currency. The table is deliberately static:
// live feeds belong to an external collaborator, and display conversion only
// needs stable, plausible ratios.
var rates = map[string]float64{
	"USD": 1.0,
	"EUR": 1.09,
	"GBP": 1.27,
	"JPY": 0.0067,
	"CHF": 1.12,
	"CAD": 0.73,
	"AUD": 0.66,
	"SGD": 0.74,
	"INR": 0.012,
	"IDR": 0.000061,
}

const cacheTTL = 10 * time.Minute

// Converter performs table-based conversion with an optional cache in front.
type Converter struct {
	cache  RateCache
	logger *slog.Logger
}

func NewConverter(cache RateCache, logger *slog.Logger) *Converter {
	return &Converter{cache: cache, logger: logger}
}

// Supported reports whether the currency code can be stored and converted.
func (c *Converter) Supported(code string) bool {
	_, ok := rates[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// Convert converts an amount in minor units between currencies. Unknown
// codes fail with a validation error naming the code.
func (c *Converter) Convert(ctx context.Context, amount int64, from, to string) (int64, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return amount, nil
	}

	rate, err := c.rate(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return int64(float64(amount)*rate + 0.5), nil
}

func (c *Converter) rate(ctx context.Context, from, to string) (float64, error) {
	fromUSD, ok := rates[from]
	if !ok {
		return 0, dErrors.Newf(dErrors.CodeValidation, "unsupported currency %q", from)
	}
	toUSD, ok := rates[to]
	if !ok {
		return 0, dErrors.Newf(dErrors.CodeValidation, "unsupported currency %q", to)
	}

	key := fmt.Sprintf("fx:%s:%s", from, to)
	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, key); err == nil && cached != "" {
			if rate, err := strconv.ParseFloat(cached, 64); err == nil {
				return rate, nil
			}
		}
	}

	rate := fromUSD / toUSD
	if c.cache != nil {
		if err := c.cache.Set(ctx, key, strconv.FormatFloat(rate, 'f', -1, 64), cacheTTL); err != nil {
			c.logger.Warn("failed to cache fx rate", "key", key, "error", err)
		}
	}
	return rate, nil
}
