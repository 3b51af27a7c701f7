package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-cli/internal/contact"
	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/model"
)

type mockResolver struct{ mock.Mock }

func (m *mockResolver) ResolveWithRetry(ctx context.Context, id contact.Identity) contact.Result {
	args := m.Called(ctx, id)
	return args.Get(0).(contact.Result)
}

type mockUpdater struct{ mock.Mock }

func (m *mockUpdater) ApplyPurchase(ctx context.Context, q db.Querier, contactID string, up contact.PurchaseUpdate) (contact.Aggregates, error) {
	args := m.Called(ctx, q, contactID, up)
	return args.Get(0).(contact.Aggregates), args.Error(1)
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	m, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

const insertPattern = `(?s)INSERT INTO payments .* ON CONFLICT \(tenant_id, payment_event_id\) DO NOTHING`

func stripeInput(amount float64) Input {
	return Input{
		TenantID: "t-1",
		EventID:  "cs_test_1",
		Email:    "Buyer@Example.com",
		Name:     "Pat Buyer",
		Amount:   amount,
		PaidAt:   time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
		Source:   model.PaymentSourceStripe,
		Category: model.CategorizeCheckout(amount),
	}
}

func matched(id string) contact.Result {
	return contact.Result{Status: contact.Matched, ContactID: id, Method: model.MatchMethodEmail, Confidence: 1}
}

func TestRecord_LinkedUpdatesContact(t *testing.T) {
	pool := newMockPool(t)
	res := &mockResolver{}
	upd := &mockUpdater{}
	w := NewWriter(pool, res, upd)

	res.On("ResolveWithRetry", mock.Anything, mock.MatchedBy(func(id contact.Identity) bool {
		return id.TenantID == "t-1" && id.Email == "Buyer@Example.com"
	})).Return(matched("c-1"))

	when := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	upd.On("ApplyPurchase", mock.Anything, mock.Anything, "c-1", contact.PurchaseUpdate{
		Category: model.CategoryDeposit,
		Email:    "Buyer@Example.com",
	}).Return(contact.Aggregates{PurchaseAmount: 100, PurchaseDate: &when, Stage: model.StageDepositPaid}, nil)

	pool.ExpectBegin()
	pool.ExpectQuery(insertPattern).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("p-1"))
	pool.ExpectCommit()

	out, err := w.Record(context.Background(), stripeInput(100))
	require.NoError(t, err)

	assert.Equal(t, "p-1", out.PaymentID)
	assert.Equal(t, "c-1", out.ContactID)
	assert.False(t, out.Orphan)
	assert.Equal(t, "linked", out.Label())
	require.NotNil(t, out.Aggregates)
	assert.Equal(t, model.StageDepositPaid, out.Aggregates.Stage)
	assert.NoError(t, pool.ExpectationsWereMet())
	res.AssertExpectations(t)
	upd.AssertExpectations(t)
}

func TestRecord_OrphanSkipsUpdater(t *testing.T) {
	pool := newMockPool(t)
	res := &mockResolver{}
	upd := &mockUpdater{}
	w := NewWriter(pool, res, upd)

	res.On("ResolveWithRetry", mock.Anything, mock.Anything).
		Return(contact.Result{Status: contact.NotFound, Method: model.MatchMethodNotMatched})

	pool.ExpectBegin()
	pool.ExpectQuery(insertPattern).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("p-2"))
	pool.ExpectCommit()

	out, err := w.Record(context.Background(), stripeInput(2500))
	require.NoError(t, err)

	assert.True(t, out.Orphan)
	assert.Empty(t, out.ContactID)
	assert.Equal(t, model.MatchMethodNotMatched, out.Method)
	assert.Equal(t, "orphan", out.Label())
	upd.AssertNotCalled(t, "ApplyPurchase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRecord_DuplicateChangesNothing(t *testing.T) {
	pool := newMockPool(t)
	res := &mockResolver{}
	upd := &mockUpdater{}
	w := NewWriter(pool, res, upd)

	res.On("ResolveWithRetry", mock.Anything, mock.Anything).Return(matched("c-1"))

	pool.ExpectBegin()
	pool.ExpectQuery(insertPattern).WillReturnError(pgx.ErrNoRows)
	pool.ExpectCommit()

	out, err := w.Record(context.Background(), stripeInput(2500))
	require.NoError(t, err)

	assert.True(t, out.Duplicate)
	assert.Empty(t, out.PaymentID)
	assert.Empty(t, out.ContactID)
	assert.Equal(t, "duplicate", out.Label())
	upd.AssertNotCalled(t, "ApplyPurchase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRecord_LookupFailedWritesNothing(t *testing.T) {
	pool := newMockPool(t)
	res := &mockResolver{}
	w := NewWriter(pool, res, &mockUpdater{})

	res.On("ResolveWithRetry", mock.Anything, mock.Anything).Return(contact.Result{
		Status: contact.LookupFailed,
		Method: model.MatchMethodNotMatched,
		Err:    errors.New("connection reset"),
	})

	_, err := w.Record(context.Background(), stripeInput(100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	// No Begin was expected, so any write would fail the expectations.
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRecord_MiscellaneousIsStoredButNotCounted(t *testing.T) {
	pool := newMockPool(t)
	res := &mockResolver{}
	upd := &mockUpdater{}
	w := NewWriter(pool, res, upd)

	res.On("ResolveWithRetry", mock.Anything, mock.Anything).Return(matched("c-1"))

	pool.ExpectBegin()
	pool.ExpectQuery(insertPattern).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("p-3"))
	pool.ExpectCommit()

	in := stripeInput(49)
	require.Equal(t, model.CategoryMiscellaneous, in.Category)
	out, err := w.Record(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "c-1", out.ContactID)
	assert.Nil(t, out.Aggregates)
	upd.AssertNotCalled(t, "ApplyPurchase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRecord_PendingStatusNotCounted(t *testing.T) {
	pool := newMockPool(t)
	res := &mockResolver{}
	upd := &mockUpdater{}
	w := NewWriter(pool, res, upd)

	res.On("ResolveWithRetry", mock.Anything, mock.Anything).Return(matched("c-1"))

	pool.ExpectBegin()
	pool.ExpectQuery(insertPattern).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("p-4"))
	pool.ExpectCommit()

	in := stripeInput(2500)
	in.Status = model.PaymentStatusPending
	_, err := w.Record(context.Background(), in)
	require.NoError(t, err)
	upd.AssertNotCalled(t, "ApplyPurchase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRecord_UpdaterErrorRollsBack(t *testing.T) {
	pool := newMockPool(t)
	res := &mockResolver{}
	upd := &mockUpdater{}
	w := NewWriter(pool, res, upd)

	res.On("ResolveWithRetry", mock.Anything, mock.Anything).Return(matched("c-1"))
	upd.On("ApplyPurchase", mock.Anything, mock.Anything, "c-1", mock.Anything).
		Return(contact.Aggregates{}, errors.New("deadlock detected"))

	pool.ExpectBegin()
	pool.ExpectQuery(insertPattern).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("p-5"))
	pool.ExpectRollback()

	_, err := w.Record(context.Background(), stripeInput(2500))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRecord_RefundRecomputes(t *testing.T) {
	pool := newMockPool(t)
	res := &mockResolver{}
	upd := &mockUpdater{}
	w := NewWriter(pool, res, upd)

	res.On("ResolveWithRetry", mock.Anything, mock.Anything).Return(matched("c-1"))
	upd.On("ApplyPurchase", mock.Anything, mock.Anything, "c-1", mock.MatchedBy(func(up contact.PurchaseUpdate) bool {
		return up.Category == model.CategoryRefund
	})).Return(contact.Aggregates{PurchaseAmount: 1500, Stage: model.StagePurchased}, nil)

	pool.ExpectBegin()
	pool.ExpectQuery(insertPattern).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("p-6"))
	pool.ExpectCommit()

	in := stripeInput(-1000)
	in.EventID = "re_1"
	in.Category = model.CategoryRefund
	in.Status = model.PaymentStatusRefunded
	out, err := w.Record(context.Background(), in)
	require.NoError(t, err)

	require.NotNil(t, out.Aggregates)
	assert.InDelta(t, 1500, out.Aggregates.PurchaseAmount, 0.001)
	// A refund never demotes the stage.
	assert.Equal(t, model.StagePurchased, out.Aggregates.Stage)
}

func TestRecord_Validation(t *testing.T) {
	w := NewWriter(newMockPool(t), &mockResolver{}, &mockUpdater{})

	cases := map[string]func(*Input){
		"tenant":   func(in *Input) { in.TenantID = "" },
		"event id": func(in *Input) { in.EventID = "" },
		"source":   func(in *Input) { in.Source = "" },
		"category": func(in *Input) { in.Category = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := stripeInput(100)
			mutate(&in)
			_, err := w.Record(context.Background(), in)
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestInputDefaults(t *testing.T) {
	in := Input{TenantID: "t", EventID: "e", Source: "import", Category: model.CategoryBNPL}
	require.NoError(t, in.validate())
	assert.Equal(t, model.PaymentStatusPaid, in.Status)
	assert.Equal(t, "usd", in.Currency)
	assert.False(t, in.PaidAt.IsZero())
}
