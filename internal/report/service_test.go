package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/pkg/anthropic"
	amocks "github.com/sells-group/funnel-cli/pkg/anthropic/mocks"
	nmocks "github.com/sells-group/funnel-cli/pkg/notion/mocks"
)

type staticAds []string

func (s staticAds) LeadMagnetAdIDs(*model.Tenant) []string { return s }

func testTenant() *model.Tenant {
	return &model.Tenant{ID: "t-1", Slug: "ppcu", Name: "PPCU", ReportEmail: "owner@example.com", IsActive: true}
}

func TestRunWeekly_SendsAndArchives(t *testing.T) {
	mock1 := newMockPool(t)
	expectWeekly(mock1, []string{"lm-1"})

	llm := amocks.NewMockClient(t)
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{Text: "Great week."}, nil)
	notion := nmocks.NewMockClient(t)
	notion.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).Return(nil, errors.New("notion down"))

	sender := &fakeSender{}
	svc := NewService(NewBuilder(mock1), staticAds{"lm-1"},
		WithNarrator(NewNarrator(llm, "m", 0)),
		WithMailer(NewMailerWithSender(sender, "reports@example.com")),
		WithArchiver(NewArchiver(notion, "db-1")),
	)

	d, err := svc.RunWeekly(context.Background(), testTenant(), reportEnd)
	require.NoError(t, err)
	assert.True(t, d.Sent)
	assert.Equal(t, []string{"owner@example.com"}, d.Recipients)
	assert.Equal(t, "Great week.", d.Weekly.Narrative)
	assert.Empty(t, d.PageID)
	assert.Len(t, sender.sent, 1)
	assert.NoError(t, mock1.ExpectationsWereMet())
}

func TestRunWeekly_NarrativeFailureStillSends(t *testing.T) {
	pool := newMockPool(t)
	expectWeekly(pool, []string{})

	llm := amocks.NewMockClient(t)
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))
	sender := &fakeSender{}

	svc := NewService(NewBuilder(pool), staticAds(nil),
		WithNarrator(NewNarrator(llm, "m", 0)),
		WithMailer(NewMailerWithSender(sender, "reports@example.com")),
	)
	d, err := svc.RunWeekly(context.Background(), testTenant(), reportEnd)
	require.NoError(t, err)
	assert.Empty(t, d.Weekly.Narrative)
	assert.True(t, d.Sent)
}

func TestRunWeekly_SendFailure(t *testing.T) {
	pool := newMockPool(t)
	expectWeekly(pool, []string{})

	svc := NewService(NewBuilder(pool), staticAds(nil),
		WithMailer(NewMailerWithSender(&fakeSender{err: errors.New("refused")}, "reports@example.com")))
	d, err := svc.RunWeekly(context.Background(), testTenant(), reportEnd)
	require.Error(t, err)
	require.NotNil(t, d)
	assert.False(t, d.Sent)
}

func TestRunWeekly_NoRecipients(t *testing.T) {
	pool := newMockPool(t)
	expectWeekly(pool, []string{})
	sender := &fakeSender{}

	tn := testTenant()
	tn.ReportEmail = ""
	svc := NewService(NewBuilder(pool), staticAds(nil), WithMailer(NewMailerWithSender(sender, "reports@example.com")))
	d, err := svc.RunWeekly(context.Background(), tn, reportEnd)
	require.NoError(t, err)
	assert.False(t, d.Sent)
	assert.Empty(t, sender.sent)
}

func TestBuild_ReadsEndAsCalendarDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	pool := newMockPool(t)
	expectRange(pool,
		time.Date(2025, 11, 7, 0, 0, 0, 0, ny),
		time.Date(2025, 11, 14, 0, 0, 0, 0, ny),
		[]string{})

	svc := NewService(NewBuilder(pool), staticAds(nil), WithLocation(ny))
	d, err := svc.Build(context.Background(), testTenant(), time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "Nov 7-13", d.Weekly.Label)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRunMonthly_AttachesContactSheet(t *testing.T) {
	pool := newMockPool(t)
	expectMonthly(pool)
	sender := &fakeSender{}

	svc := NewService(NewBuilder(pool), staticAds(nil), WithMailer(NewMailerWithSender(sender, "reports@example.com")))
	d, err := svc.RunMonthly(context.Background(), testTenant(), reportEnd, MonthlyOptions{})
	require.NoError(t, err)
	assert.True(t, d.Sent)
	assert.Equal(t, []string{"owner@example.com"}, d.Recipients)
	require.Len(t, d.Rendered.Attachments, 1)
	assert.Equal(t, "ppcu_monthly_data_2025-10-17_to_2025-11-13.csv", d.Rendered.Attachments[0].Name)
	assert.True(t, strings.HasPrefix(string(d.Rendered.Attachments[0].Data), "Name,Email,Subscribed"))

	require.Len(t, sender.sent, 1)
	var buf bytes.Buffer
	_, err = sender.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ppcu_monthly_data_2025-10-17_to_2025-11-13.csv")
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRunMonthly_TestMode(t *testing.T) {
	pool := newMockPool(t)
	expectMonthly(pool)
	sender := &fakeSender{}

	svc := NewService(NewBuilder(pool), staticAds(nil),
		WithMailer(NewMailerWithSender(sender, "reports@example.com")),
		WithTestRecipients([]string{"qa@example.com"}),
	)
	d, err := svc.RunMonthly(context.Background(), testTenant(), reportEnd, MonthlyOptions{Test: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"qa@example.com"}, d.Recipients)
	assert.True(t, strings.HasPrefix(d.Rendered.Subject, "[TEST] PPCU Monthly"))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"qa@example.com"}, sender.sent[0].GetHeader("To"))
}

func TestRunMonthly_TestModeNeedsRecipients(t *testing.T) {
	pool := newMockPool(t)
	expectMonthly(pool)
	sender := &fakeSender{}

	svc := NewService(NewBuilder(pool), staticAds(nil), WithMailer(NewMailerWithSender(sender, "reports@example.com")))
	_, err := svc.RunMonthly(context.Background(), testTenant(), reportEnd, MonthlyOptions{Test: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test_recipients")
	assert.Empty(t, sender.sent)
}

func TestWeeklyData_DefaultsToLastSunday(t *testing.T) {
	pool := newMockPool(t)
	sunday := time.Date(2025, 11, 16, 0, 0, 0, 0, time.UTC)
	cf, cu := Window(sunday)
	pf, pu := Window(sunday.AddDate(0, 0, -7))
	expectRange(pool, cf, cu, []string{"lm-1"})
	expectRange(pool, pf, pu, []string{"lm-1"})
	pool.ExpectQuery(`GROUP BY 1`).
		WithArgs("t-1", cf, cu).
		WillReturnRows(pgxmock.NewRows([]string{"source", "count", "sum"}).AddRow("denefits", 1, 4000.0))

	svc := NewService(NewBuilder(pool), staticAds{"lm-1"})
	svc.now = func() time.Time { return time.Date(2025, 11, 19, 10, 0, 0, 0, time.UTC) }

	data, err := svc.WeeklyData(context.Background(), testTenant(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "2025-11-16", data.WeekEnding)
	assert.Equal(t, "Nov 10-16", data.Current.Label)
	assert.Equal(t, "Nov 3-9", data.Previous.Label)
	assert.InDelta(t, 0.5, data.Rates.QualifyRate, 0.0001)
	assert.Zero(t, data.Change.Revenue)
	assert.Equal(t, SourceTotal{Count: 1, Amount: 4000}, data.Payments["denefits"])
	assert.Equal(t, SourceTotal{}, data.Payments["stripe"])
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestTrigger_PreviewCustomRange(t *testing.T) {
	pool := newMockPool(t)
	expectRange(pool,
		time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 14, 0, 0, 0, 0, time.UTC),
		[]string{})
	sender := &fakeSender{}

	svc := NewService(NewBuilder(pool), staticAds(nil), WithMailer(NewMailerWithSender(sender, "reports@example.com")))
	d, err := svc.Trigger(context.Background(), testTenant(), TriggerOptions{
		Start:   time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2025, 11, 13, 0, 0, 0, 0, time.UTC),
		To:      []string{"analyst@example.com"},
		Preview: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Nov 1-13", d.Weekly.Label)
	assert.Equal(t, []string{"analyst@example.com"}, d.Recipients)
	assert.False(t, d.Sent)
	assert.Contains(t, d.Rendered.HTML, "Nov 1-13")
	assert.Empty(t, sender.sent)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestTrigger_SendsToOverride(t *testing.T) {
	pool := newMockPool(t)
	expectWeekly(pool, []string{})
	sender := &fakeSender{}

	svc := NewService(NewBuilder(pool), staticAds(nil), WithMailer(NewMailerWithSender(sender, "reports@example.com")))
	svc.now = func() time.Time { return reportEnd }

	d, err := svc.Trigger(context.Background(), testTenant(), TriggerOptions{To: []string{"analyst@example.com"}})
	require.NoError(t, err)
	assert.True(t, d.Sent)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"analyst@example.com"}, sender.sent[0].GetHeader("To"))
}

func TestTrigger_NoMailer(t *testing.T) {
	pool := newMockPool(t)
	expectWeekly(pool, []string{})

	svc := NewService(NewBuilder(pool), staticAds(nil))
	svc.now = func() time.Time { return reportEnd }

	d, err := svc.Trigger(context.Background(), testTenant(), TriggerOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail is not configured")
	require.NotNil(t, d)
	assert.False(t, d.Sent)
}
