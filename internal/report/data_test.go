package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastSunday(t *testing.T) {
	wed := time.Date(2025, 11, 19, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 11, 16, 8, 0, 0, 0, time.UTC), LastSunday(wed))

	sun := time.Date(2025, 11, 16, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, sun, LastSunday(sun))
}

func TestRatesFor(t *testing.T) {
	w := &Weekly{
		Activity: Activity{Leads: 40, Qualified: 10, FormSubmitted: 8, MeetingHeld: 4, Purchased: 1},
		Traffic:  Traffic{Chatbot: 30, LeadMagnet: 6, BOF: 2, Organic: 2},
	}
	r := RatesFor(w)
	assert.InDelta(t, 0.25, r.QualifyRate, 0.0001)
	assert.InDelta(t, 0.5, r.ShowRate, 0.0001)
	assert.InDelta(t, 0.25, r.CloseRate, 0.0001)
	assert.InDelta(t, 0.2, r.AttributionCoverage, 0.0001)

	assert.Equal(t, Rates{}, RatesFor(&Weekly{}))
}

func TestChangeBetween(t *testing.T) {
	cur := &Weekly{Activity: Activity{Leads: 30, Purchased: 2}, Revenue: 1500}
	prev := &Weekly{Activity: Activity{Leads: 40, Purchased: 0}, Revenue: 1000}

	c := ChangeBetween(cur, prev)
	assert.InDelta(t, -25, c.Leads, 0.0001)
	assert.Zero(t, c.Purchased)
	assert.InDelta(t, 50, c.Revenue, 0.0001)
}

func TestPaymentsBySource(t *testing.T) {
	mock := newMockPool(t)
	from, until := Window(reportEnd)
	mock.ExpectQuery(`(?s)GROUP BY 1`).
		WithArgs("t-1", from, until).
		WillReturnRows(pgxmock.NewRows([]string{"source", "count", "sum"}).
			AddRow("import", 1, 300.0).
			AddRow("stripe", 3, 2400.0))

	got, err := NewBuilder(mock).PaymentsBySource(context.Background(), "t-1", from, until)
	require.NoError(t, err)
	assert.Equal(t, map[string]SourceTotal{
		"stripe":   {Count: 3, Amount: 2400},
		"denefits": {},
		"import":   {Count: 1, Amount: 300},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentsBySource_QueryError(t *testing.T) {
	mock := newMockPool(t)
	from, until := Window(reportEnd)
	mock.ExpectQuery(`GROUP BY 1`).WillReturnError(errors.New("timeout"))

	_, err := NewBuilder(mock).PaymentsBySource(context.Background(), "t-1", from, until)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payments by source")
}
