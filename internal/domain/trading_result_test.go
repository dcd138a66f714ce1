package domain_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spimexlab/spimex-api/internal/domain"
)

func TestNewTradingResult(t *testing.T) {
	t.Parallel()

	tradeDate := time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC)

	t.Run("derives identifiers from the exchange product ID", func(t *testing.T) {
		t.Parallel()

		r, err := domain.NewTradingResult(
			"A100ANK060F",
			"Бензин (АИ-100-К5), Ангарск",
			"ст. Ангарск",
			"60", "4800000", 2, tradeDate,
		)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, r.ID)
		assert.Equal(t, "A100", r.OilID)
		assert.Equal(t, "ANK", r.DeliveryBasisID)
		assert.Equal(t, "F", r.DeliveryTypeID)
		assert.Equal(t, tradeDate, r.TradeDate)
		assert.False(t, r.CreatedAt.IsZero())
	})

	t.Run("rejects empty exchange product ID", func(t *testing.T) {
		t.Parallel()

		_, err := domain.NewTradingResult("", "name", "basis", "1", "1", 1, tradeDate)
		assert.ErrorIs(t, err, domain.ErrEmptyExchangeProductID)
	})

	t.Run("rejects product IDs too short to carry identifiers", func(t *testing.T) {
		t.Parallel()

		_, err := domain.NewTradingResult("A100", "name", "basis", "1", "1", 1, tradeDate)
		assert.ErrorIs(t, err, domain.ErrShortExchangeProductID)
	})

	t.Run("rejects zero trade date", func(t *testing.T) {
		t.Parallel()

		_, err := domain.NewTradingResult("A100ANK060F", "name", "basis", "1", "1", 1, time.Time{})
		assert.ErrorIs(t, err, domain.ErrZeroTradeDate)
	})

	t.Run("rejects negative contract count", func(t *testing.T) {
		t.Parallel()

		_, err := domain.NewTradingResult("A100ANK060F", "name", "basis", "1", "1", -1, tradeDate)
		assert.ErrorIs(t, err, domain.ErrNegativeContractCount)
	})
}

func TestTradingResultValidate(t *testing.T) {
	t.Parallel()

	r := domain.TradingResult{
		ExchangeProductID: "A100ANK060F",
		TradeDate:         time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC),
	}
	assert.ErrorIs(t, r.Validate(), domain.ErrEmptyResultID)

	r.ID = uuid.New()
	assert.NoError(t, r.Validate())
}
