package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/payment"
)

var now = time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

const stripeCSV = "\ufeffid,Created (UTC),Amount,Currency,Status,Type,Description,Customer Email,Customer Name\n" +
	"ch_1,2025-11-03 15:04:05,100.00,USD,Paid,charge,Deposit,Ann@Example.com ,Ann Lee\n" +
	"ch_2,11/04/2025,\"$1,997.00\",usd,Paid,charge,Program,bob@example.com,Bob Ray\n" +
	"re_3,2025-11-05,50.00,usd,available,refund,Refund for ch_1,ann@example.com,Ann Lee\n" +
	",,,,,,,,\n" +
	"ch_4,2025-11-06,25.00,usd,Paid,charge,,cus_123,No Email\n" +
	"ch_5,2026-02-01,500.00,usd,Paid,charge,,late@example.com,\n" +
	"ch_6,2025-11-07,2000.00,usd,Failed,charge,,fay@example.com,Fay Orr\n" +
	"ch_7,2025-11-07,2000.00,usd,Canceled,charge,,fay@example.com,Fay Orr\n" +
	"ch_8,2025-11-08,\"12,500.00\",usd,Paid,charge,Clinic package,gus@example.com,Gus Hale\n"

func TestReadCSV(t *testing.T) {
	tbl, err := ReadCSV(context.Background(), strings.NewReader(stripeCSV))
	require.NoError(t, err)
	assert.Equal(t, "id", tbl.Header[0])
	// The blank row is dropped.
	assert.Len(t, tbl.Rows, 8)
	assert.Equal(t, "Ann@Example.com", tbl.Rows[0][7])
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader(""))
	assert.Error(t, err)
}

func TestReadFile_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Contracts")
	require.NoError(t, err)
	for _, rec := range [][]string{
		{"Contract Code", "Customer Email", "Financed Amount", "Contract Date"},
		{"DNF-1", "cara@example.com", "3,500.00", "2025-10-20"},
	} {
		r := sheet.AddRow()
		for _, v := range rec {
			r.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "denefits.xlsx")
	require.NoError(t, f.Save(path))

	tbl, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "DNF-1", tbl.Rows[0][0])

	_, err = ReadXLSX(path, "Missing")
	assert.Error(t, err)
}

func TestMap_Stripe(t *testing.T) {
	tbl, err := ReadCSV(context.Background(), strings.NewReader(stripeCSV))
	require.NoError(t, err)

	m, err := Map(tbl, FormatStripe, "t-1", now)
	require.NoError(t, err)
	assert.Equal(t, FormatStripe, m.Format)
	require.Len(t, m.Inputs, 4)
	assert.Equal(t, []int{2, 3, 4, 10}, m.Lines)

	dep := m.Inputs[0]
	assert.Equal(t, "t-1", dep.TenantID)
	assert.Equal(t, "ch_1", dep.EventID)
	assert.Equal(t, "ann@example.com", dep.Email)
	assert.Equal(t, 100.0, dep.Amount)
	assert.Equal(t, "usd", dep.Currency)
	assert.Equal(t, model.CategoryDeposit, dep.Category)
	assert.Equal(t, model.PaymentSourceImport, dep.Source)
	assert.Equal(t, time.Date(2025, 11, 3, 15, 4, 5, 0, time.UTC), dep.PaidAt)
	assert.Contains(t, string(dep.Raw), `"Customer Name":"Ann Lee"`)

	full := m.Inputs[1]
	assert.Equal(t, 1997.0, full.Amount)
	assert.Equal(t, model.CategoryFullPurchase, full.Category)

	refund := m.Inputs[2]
	assert.Equal(t, -50.0, refund.Amount)
	assert.Equal(t, model.CategoryRefund, refund.Category)
	assert.Equal(t, model.PaymentStatusRefunded, refund.Status)

	// Large amounts are dollars, not cents.
	big := m.Inputs[3]
	assert.Equal(t, "ch_8", big.EventID)
	assert.Equal(t, 12500.0, big.Amount)
	assert.Equal(t, model.PaymentStatusPaid, big.Status)

	assert.Equal(t, []Skip{
		{Line: 6, Reason: "missing email"},
		{Line: 7, Reason: "payment date in the future"},
		{Line: 8, Reason: `status "Failed" is not paid`},
		{Line: 9, Reason: `status "Canceled" is not paid`},
	}, m.Skips)
}

func TestMap_StripeUnsettledStatuses(t *testing.T) {
	for _, status := range []string{"Failed", "Canceled", "Incomplete", "Refunded", "Pending", "Uncaptured"} {
		tbl := &Table{
			Header: []string{"id", "Status", "Amount", "Created", "Email"},
			Rows:   [][]string{{"ch_x", status, "2000.00", "2025-11-03", "a@example.com"}},
		}
		m, err := Map(tbl, FormatStripe, "t-1", now)
		require.NoError(t, err)
		assert.Empty(t, m.Inputs, status)
		require.Len(t, m.Skips, 1, status)
		assert.Contains(t, m.Skips[0].Reason, "is not paid", status)
	}
}

func TestMap_StripeDerivedID(t *testing.T) {
	tbl := &Table{
		Header: []string{"Amount", "Created", "Email"},
		Rows:   [][]string{{"19970", "2025-11-03", "a@example.com"}},
	}
	m, err := Map(tbl, FormatStripe, "t-1", now)
	require.NoError(t, err)
	require.Len(t, m.Inputs, 1)
	assert.Equal(t, 19970.0, m.Inputs[0].Amount)
	// No processor id: the id is derived and stable.
	assert.True(t, strings.HasPrefix(m.Inputs[0].EventID, "import_"))

	again, err := Map(tbl, FormatStripe, "t-1", now)
	require.NoError(t, err)
	assert.Equal(t, m.Inputs[0].EventID, again.Inputs[0].EventID)
}

func TestMap_Denefits(t *testing.T) {
	tbl := &Table{
		Header: []string{"Contract Code", "Customer Email", "Financed Amount", "Contract Date", "Status"},
		Rows: [][]string{
			{"DNF-1", "cara@example.com", "3,500.00", "10/20/2025", "Active"},
			{"DNF-2", "dan@example.com", "0", "10/21/2025", "Active"},
			{"DNF-3", "erin@example.com", "75000", "10/22/2025", "Active"},
			{"DNF-4", "finn@example.com", "2,400.00", "10/23/2025", "Cancelled"},
		},
	}
	m, err := Map(tbl, FormatDenefits, "t-1", now)
	require.NoError(t, err)
	require.Len(t, m.Inputs, 1)

	in := m.Inputs[0]
	assert.Equal(t, "DNF-1", in.EventID)
	assert.Equal(t, "DNF-1", in.DenefitsContractCode)
	assert.Equal(t, model.CategoryBNPL, in.Category)
	assert.Equal(t, model.PaymentStatusActive, in.Status)
	assert.Equal(t, 3500.0, in.Amount)

	assert.Equal(t, []Skip{
		{Line: 3, Reason: "missing or zero amount"},
		{Line: 4, Reason: "amount above review threshold"},
		{Line: 5, Reason: `contract status "Cancelled"`},
	}, m.Skips)
}

func TestMap_DenefitsPaymentPlanExport(t *testing.T) {
	tbl := &Table{
		Header: []string{"Payment Plan ID", "Customer Email", "Customer Name", "Payment Plan Amount", "Payment Plan Status", "Payment Plan Sign Up Date"},
		Rows: [][]string{
			{"PP-9", "gia@example.com", "Gia Moss", "4200", "Active", "11/02/2025"},
			{"PP-10", "hal@example.com", "Hal Roe", "1800", "Canceled", "11/03/2025"},
		},
	}
	m, err := Map(tbl, FormatDenefits, "t-1", now)
	require.NoError(t, err)
	require.Len(t, m.Inputs, 1)
	assert.Equal(t, "PP-9", m.Inputs[0].EventID)
	assert.Equal(t, 4200.0, m.Inputs[0].Amount)
	assert.Equal(t, time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC), m.Inputs[0].PaidAt)
	assert.Equal(t, []Skip{{Line: 3, Reason: `contract status "Canceled"`}}, m.Skips)
}

func TestMap_UnknownFormat(t *testing.T) {
	_, err := Map(&Table{}, "paypal", "t-1", now)
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1,234.56", 1234.56, true},
		{"$99", 99, true},
		{"(50.00)", -50, true},
		{"€12.50", 12.5, true},
		{"", 0, false},
		{"n/a", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-11-03", time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)},
		{"11/3/2025", time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)},
		{"11/03/25", time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)},
		{"2025-11-03T10:00:00-05:00", time.Date(2025, 11, 3, 15, 0, 0, 0, time.UTC)},
		{"11/3/2025 2:30 PM", time.Date(2025, 11, 3, 14, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.in)
		require.True(t, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, ok := ParseDate("yesterday")
	assert.False(t, ok)
}

type fakeRecorder struct {
	seen map[string]bool
	fail map[string]bool
}

func (f *fakeRecorder) Record(_ context.Context, in payment.Input) (payment.Outcome, error) {
	if f.fail[in.EventID] {
		return payment.Outcome{}, errors.New("deadlock")
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[in.EventID] {
		return payment.Outcome{Duplicate: true}, nil
	}
	f.seen[in.EventID] = true
	if strings.HasPrefix(in.Email, "orphan") {
		return payment.Outcome{PaymentID: "p-" + in.EventID, Orphan: true}, nil
	}
	return payment.Outcome{PaymentID: "p-" + in.EventID, ContactID: "c-1"}, nil
}

func mapped(ids ...string) *Mapped {
	m := &Mapped{}
	for i, id := range ids {
		email := "a@example.com"
		if strings.HasPrefix(id, "o") {
			email = "orphan@example.com"
		}
		m.Inputs = append(m.Inputs, payment.Input{EventID: id, Email: email})
		m.Lines = append(m.Lines, i+2)
	}
	return m
}

func TestImport(t *testing.T) {
	rec := &fakeRecorder{fail: map[string]bool{"bad": true}}
	m := mapped("e1", "o2", "e1", "bad")
	m.Skips = []Skip{{Line: 9, Reason: "missing email"}}

	rep, err := NewImporter(rec).Import(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Rows)
	assert.Equal(t, 2, rep.Imported)
	assert.Equal(t, 1, rep.Linked)
	assert.Equal(t, 1, rep.Orphans)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Equal(t, 1, rep.Errors)
	assert.Len(t, rep.Skips, 1)
}

func TestImport_FailOnDuplicate(t *testing.T) {
	rec := &fakeRecorder{seen: map[string]bool{"e1": true}}
	rep, err := NewImporter(rec).Import(context.Background(), mapped("e0", "e1", "e2"), Options{FailOnDuplicate: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrDuplicate)
	assert.Equal(t, 1, rep.Imported)
	assert.False(t, rec.seen["e2"])
}

func TestImport_DryRun(t *testing.T) {
	rec := &fakeRecorder{}
	rep, err := NewImporter(rec).Import(context.Background(), mapped("e1"), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Imported)
	assert.Empty(t, rec.seen)
}

type fakeTwins struct {
	// byKey maps "email|amount" to webhook event ids.
	byKey map[string][]string
	err   error
	calls int
}

func (f *fakeTwins) StripeTwins(_ context.Context, _, email string, amount float64, _ time.Time) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byKey[email+"|"+strconv.FormatFloat(amount, 'f', 2, 64)], nil
}

func stripeMapped(rows ...payment.Input) *Mapped {
	m := &Mapped{Format: FormatStripe}
	for i, in := range rows {
		m.Inputs = append(m.Inputs, in)
		m.Lines = append(m.Lines, i+2)
	}
	return m
}

func TestImport_StripeRowRecordedByWebhook(t *testing.T) {
	rec := &fakeRecorder{}
	twins := &fakeTwins{byKey: map[string][]string{"a@example.com|2000.00": {"evt_1"}}}
	m := stripeMapped(
		payment.Input{EventID: "ch_1", Email: "a@example.com", Amount: 2000},
		payment.Input{EventID: "ch_2", Email: "b@example.com", Amount: 500},
	)

	rep, err := NewImporter(rec, WithTwinFinder(twins)).Import(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Equal(t, 1, rep.Imported)
	assert.False(t, rec.seen["ch_1"], "a payment the webhook recorded is not written again")
	assert.True(t, rec.seen["ch_2"])
}

func TestImport_StripeTwinClaimedOnce(t *testing.T) {
	rec := &fakeRecorder{}
	twins := &fakeTwins{byKey: map[string][]string{"a@example.com|500.00": {"evt_1"}}}
	// Two equal deposits, only one of which reached the webhook.
	m := stripeMapped(
		payment.Input{EventID: "ch_1", Email: "a@example.com", Amount: 500},
		payment.Input{EventID: "ch_2", Email: "a@example.com", Amount: 500},
	)

	rep, err := NewImporter(rec, WithTwinFinder(twins)).Import(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Equal(t, 1, rep.Imported)
	assert.True(t, rec.seen["ch_2"])
}

func TestImport_StripeTwinFailOnDuplicate(t *testing.T) {
	rec := &fakeRecorder{}
	twins := &fakeTwins{byKey: map[string][]string{"a@example.com|2000.00": {"evt_1"}}}
	m := stripeMapped(payment.Input{EventID: "ch_1", Email: "a@example.com", Amount: 2000})

	_, err := NewImporter(rec, WithTwinFinder(twins)).Import(context.Background(), m, Options{FailOnDuplicate: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrDuplicate)
}

func TestImport_StripeTwinLookupError(t *testing.T) {
	rec := &fakeRecorder{}
	twins := &fakeTwins{err: errors.New("connection reset")}
	m := stripeMapped(payment.Input{EventID: "ch_1", Email: "a@example.com", Amount: 2000})

	rep, err := NewImporter(rec, WithTwinFinder(twins)).Import(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Errors)
	assert.Empty(t, rec.seen)
}

func TestImport_DenefitsSkipsTwinLookup(t *testing.T) {
	rec := &fakeRecorder{}
	twins := &fakeTwins{}
	m := mapped("DNF-1")
	m.Format = FormatDenefits

	_, err := NewImporter(rec, WithTwinFinder(twins)).Import(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Zero(t, twins.calls)
	assert.True(t, rec.seen["DNF-1"])
}
