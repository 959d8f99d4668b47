package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ybi-research/scalp-backtest/internal/errs"
)

func TestSentinelsWrapWithErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("portfolio: %w: 2 positions remained open", errs.ErrInvariantViolation)
	assert.ErrorIs(t, wrapped, errs.ErrInvariantViolation)
	assert.False(t, errors.Is(wrapped, errs.ErrConfig))
}

func TestRejectedIntentError(t *testing.T) {
	r := errs.RejectedIntent{Ticker: "AAAA", Reason: "qty_lt_1"}
	assert.Equal(t, "rejected intent AAAA: qty_lt_1", r.Error())
}

func TestSentinelsAreDistinct(t *testing.T) {
	all := []error{
		errs.ErrConfig, errs.ErrDataUnavailable, errs.ErrUniverseEmpty,
		errs.ErrStrategyRejection, errs.ErrInvariantViolation, errs.ErrProviderAuth, errs.ErrNotFound,
	}
	for i, a := range all {
		for j, b := range all {
			if i == j {
				continue
			}
			assert.NotErrorIs(t, a, b)
		}
	}
}
