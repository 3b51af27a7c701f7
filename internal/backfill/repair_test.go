package backfill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-cli/internal/contact"
	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/payment"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

type fakePayments struct {
	mu          sync.Mutex
	orphans     []model.Payment
	filter      payment.OrphanFilter
	linked      map[string]string
	raced       map[string]bool
	linkErr     error
	contacts    []string
	listErr     error
	onlyMissing bool
}

func (f *fakePayments) ListOrphans(_ context.Context, filter payment.OrphanFilter) ([]model.Payment, error) {
	f.filter = filter
	return f.orphans, f.listErr
}

func (f *fakePayments) Link(_ context.Context, _ db.Querier, paymentID, contactID, _ string, _ float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return false, f.linkErr
	}
	if f.raced[paymentID] {
		return false, nil
	}
	if f.linked == nil {
		f.linked = map[string]string{}
	}
	f.linked[paymentID] = contactID
	return true, nil
}

func (f *fakePayments) ContactsWithPayments(_ context.Context, _ string, onlyMissing bool) ([]string, error) {
	f.onlyMissing = onlyMissing
	return f.contacts, nil
}

// fakeResolver answers by email.
type fakeResolver map[string]contact.Result

func (f fakeResolver) ResolveWithRetry(_ context.Context, id contact.Identity) contact.Result {
	if r, ok := f[id.Email]; ok {
		return r
	}
	return contact.Result{Status: contact.NotFound}
}

type fakeUpdater struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeUpdater) ApplyPurchase(_ context.Context, _ db.Querier, contactID string, _ contact.PurchaseUpdate) (contact.Aggregates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, contactID)
	return contact.Aggregates{}, f.err
}

func orphan(id, email string, cat model.PaymentCategory) model.Payment {
	return model.Payment{
		ID:             id,
		TenantID:       "t-1",
		PaymentEventID: "evt-" + id,
		CustomerEmail:  email,
		Amount:         250,
		Status:         model.PaymentStatusPaid,
		Category:       cat,
	}
}

func TestRepair_LinksMatches(t *testing.T) {
	pool := newMockPool(t)
	pool.ExpectBegin()
	pool.ExpectCommit()
	pool.ExpectBegin()
	pool.ExpectCommit()

	payments := &fakePayments{orphans: []model.Payment{
		orphan("p-1", "a@example.com", model.CategoryFullPurchase),
		orphan("p-2", "nobody@example.com", model.CategoryFullPurchase),
		orphan("p-3", "down@example.com", model.CategoryDeposit),
		orphan("p-4", "misc@example.com", model.CategoryMiscellaneous),
	}}
	resolver := fakeResolver{
		"a@example.com":    {Status: contact.Matched, ContactID: "c-1", Method: "email", Confidence: 1},
		"down@example.com": {Status: contact.LookupFailed, Err: errors.New("timeout")},
		"misc@example.com": {Status: contact.Matched, ContactID: "c-4", Method: "phone", Confidence: 0.95},
	}
	updater := &fakeUpdater{}
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	rep, err := NewRepairer(pool, payments, resolver, updater).Run(context.Background(), RepairOptions{
		TenantID:    "t-1",
		Since:       since,
		Concurrency: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, payment.OrphanFilter{TenantID: "t-1", Since: since}, payments.filter)
	assert.Equal(t, 4, rep.Scanned)
	assert.Equal(t, 2, rep.Linked)
	assert.Equal(t, 1, rep.StillOrphaned)
	assert.Equal(t, 1, rep.LookupFailed)
	assert.Equal(t, 0, rep.Errors)
	assert.Equal(t, map[string]int{"email": 1, "phone": 1}, rep.ByMethod)
	assert.Equal(t, map[string]string{"p-1": "c-1", "p-4": "c-4"}, payments.linked)
	// Miscellaneous payments link but do not count toward purchases.
	assert.Equal(t, []string{"c-1"}, updater.calls)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRepair_DryRunWritesNothing(t *testing.T) {
	pool := newMockPool(t)
	payments := &fakePayments{orphans: []model.Payment{orphan("p-1", "a@example.com", model.CategoryFullPurchase)}}
	resolver := fakeResolver{"a@example.com": {Status: contact.Matched, ContactID: "c-1", Method: "email", Confidence: 1}}
	updater := &fakeUpdater{}

	rep, err := NewRepairer(pool, payments, resolver, updater).Run(context.Background(), RepairOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Linked)
	require.Len(t, rep.Changes, 1)
	assert.Equal(t, "c-1", rep.Changes[0].ContactID)
	assert.Empty(t, payments.linked)
	assert.Empty(t, updater.calls)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRepair_AlreadyLinkedElsewhere(t *testing.T) {
	pool := newMockPool(t)
	pool.ExpectBegin()
	pool.ExpectCommit()

	payments := &fakePayments{
		orphans: []model.Payment{orphan("p-1", "a@example.com", model.CategoryFullPurchase)},
		raced:   map[string]bool{"p-1": true},
	}
	resolver := fakeResolver{"a@example.com": {Status: contact.Matched, ContactID: "c-1", Method: "email", Confidence: 1}}
	updater := &fakeUpdater{}

	rep, err := NewRepairer(pool, payments, resolver, updater).Run(context.Background(), RepairOptions{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Linked)
	assert.Equal(t, 1, rep.StillOrphaned)
	assert.Empty(t, updater.calls)
}

func TestRepair_UpdateFailureRollsBack(t *testing.T) {
	pool := newMockPool(t)
	pool.ExpectBegin()
	pool.ExpectRollback()

	payments := &fakePayments{orphans: []model.Payment{orphan("p-1", "a@example.com", model.CategoryFullPurchase)}}
	resolver := fakeResolver{"a@example.com": {Status: contact.Matched, ContactID: "c-1", Method: "email", Confidence: 1}}
	updater := &fakeUpdater{err: errors.New("deadlock")}

	rep, err := NewRepairer(pool, payments, resolver, updater).Run(context.Background(), RepairOptions{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Errors)
	assert.Equal(t, 0, rep.Linked)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRepair_ListError(t *testing.T) {
	pool := newMockPool(t)
	payments := &fakePayments{listErr: errors.New("db down")}
	_, err := NewRepairer(pool, payments, fakeResolver{}, &fakeUpdater{}).Run(context.Background(), RepairOptions{})
	assert.Error(t, err)
}

func TestRecompute(t *testing.T) {
	pool := newMockPool(t)
	pool.MatchExpectationsInOrder(false)
	for range 3 {
		pool.ExpectBegin()
		pool.ExpectCommit()
	}

	payments := &fakePayments{contacts: []string{"c-1", "c-2", "c-3"}}
	updater := &fakeUpdater{}

	rep, err := NewRepairer(pool, payments, fakeResolver{}, updater).Recompute(context.Background(), "t-1", true, 1)
	require.NoError(t, err)
	assert.True(t, payments.onlyMissing)
	assert.Equal(t, &RecomputeReport{Contacts: 3, Updated: 3}, rep)
	assert.ElementsMatch(t, []string{"c-1", "c-2", "c-3"}, updater.calls)
}
