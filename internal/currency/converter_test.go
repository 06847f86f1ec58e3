package currency

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "expensio/pkg/domain-errors"
)

type fakeCache struct {
	entries map[string]string
	getErr  error
	setErr  error
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	if c.getErr != nil {
		return "", c.getErr
	}
	return c.entries[key], nil
}

func (c *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.sets++
	c.entries[key] = value
	return nil
}

type ConverterSuite struct {
	suite.Suite
	ctx context.Context
}

func TestConverterSuite(t *testing.T) {
	suite.Run(t, new(ConverterSuite))
}

func (s *ConverterSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *ConverterSuite) TestSupported() {
	c := NewConverter(nil, slog.Default())
	s.True(c.Supported("USD"))
	s.True(c.Supported("  eur "))
	s.False(c.Supported("XXX"))
	s.False(c.Supported(""))
}

func (s *ConverterSuite) TestConvert() {
	c := NewConverter(nil, slog.Default())

	s.Run("same currency is the identity", func() {
		out, err := c.Convert(s.ctx, 12345, "usd", "USD")
		s.Require().NoError(err)
		s.Equal(int64(12345), out)
	})

	s.Run("cross rate goes through USD", func() {
		// 100.00 EUR at 1.09 USD/EUR is 109.00 USD.
		out, err := c.Convert(s.ctx, 10000, "EUR", "USD")
		s.Require().NoError(err)
		s.Equal(int64(10900), out)
	})

	s.Run("unknown code is a validation error", func() {
		_, err := c.Convert(s.ctx, 100, "XXX", "USD")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = c.Convert(s.ctx, 100, "USD", "XXX")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ConverterSuite) TestCacheUsage() {
	s.Run("populates and then reads the cache", func() {
		cache := newFakeCache()
		c := NewConverter(cache, slog.Default())

		first, err := c.Convert(s.ctx, 10000, "EUR", "USD")
		s.Require().NoError(err)
		s.Equal(1, cache.sets)

		second, err := c.Convert(s.ctx, 10000, "EUR", "USD")
		s.Require().NoError(err)
		s.Equal(first, second)
		s.Equal(1, cache.sets, "a cache hit does not rewrite the entry")
	})

	s.Run("cache hit wins over the table", func() {
		cache := newFakeCache()
		cache.entries["fx:EUR:USD"] = "2.0"
		c := NewConverter(cache, slog.Default())

		out, err := c.Convert(s.ctx, 100, "EUR", "USD")
		s.Require().NoError(err)
		s.Equal(int64(200), out)
	})

	s.Run("cache failures degrade to the table", func() {
		cache := newFakeCache()
		cache.getErr = errors.New("redis down")
		cache.setErr = errors.New("redis down")
		c := NewConverter(cache, slog.Default())

		out, err := c.Convert(s.ctx, 10000, "EUR", "USD")
		s.Require().NoError(err)
		s.Equal(int64(10900), out)
	})
}
