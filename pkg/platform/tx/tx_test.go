package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEmptyContext(t *testing.T) {
	_, ok := From(context.Background())
	assert.False(t, ok)
}

func TestWithTxNilIsANoop(t *testing.T) {
	ctx := WithTx(context.Background(), nil)
	_, ok := From(ctx)
	assert.False(t, ok)
}

func TestRunnerWithoutDatabaseRunsInline(t *testing.T) {
	// In-memory deployments have no database to transact against; the
	// boundary degrades to calling the function with the untouched context.
	var runner *Runner
	ran := false
	err := runner.WithinTx(context.Background(), func(ctx context.Context) error {
		_, ok := From(ctx)
		assert.False(t, ok)
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	sentinelErr := errors.New("bootstrap failed")
	err = NewRunner(nil).WithinTx(context.Background(), func(ctx context.Context) error {
		return sentinelErr
	})
	assert.ErrorIs(t, err, sentinelErr)
}
