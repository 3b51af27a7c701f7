package metaads

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

	"github.com/sells-group/funnel-cli/internal/tenant"
	"github.com/sells-group/funnel-cli/pkg/meta"
	"github.com/sells-group/funnel-cli/pkg/meta/mocks"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	m, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

var creds = tenant.MetaCredentials{AccessToken: "tok", AdAccountID: "act_1", PixelID: "px", CAPIAccessToken: "capi"}

func expectUpsert(m pgxmock.PgxPoolIface, table string, cols []string, n int64) {
	m.ExpectBegin()
	m.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_` + table + `"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	m.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_" + table}, cols).WillReturnResult(n)
	m.ExpectExec(`INSERT INTO "` + table + `"`).WillReturnResult(pgxmock.NewResult("INSERT", n))
	m.ExpectCommit()
}

func TestSync(t *testing.T) {
	pool := newMockPool(t)
	client := mocks.NewMockClient(t)

	client.On("AdInsights", mock.Anything, "tok", "act_1", "last_7d").Return([]meta.AdInsight{
		{AdID: "1", AdName: "Hook A", Spend: "10.50", Impressions: "100", Clicks: "5", Reach: "90",
			Actions: []meta.Action{{ActionType: "lead", Value: "2"}}},
		{AdID: "2", Spend: "4.50"},
		{AdID: "1", AdName: "Hook A", Spend: "99"}, // repeated row is ignored
	}, nil)
	client.On("Ads", mock.Anything, "tok", "act_1").Return([]meta.Ad{
		{ID: "2", Name: "Hook B", Status: "PAUSED"},
	}, nil)

	expectUpsert(pool, "meta_ads", adsUpsert.Columns, 2)
	expectUpsert(pool, "meta_ad_insights", insightsUpsert.Columns, 2)

	s := NewSyncer(pool, client)
	s.now = func() time.Time { return time.Date(2025, 11, 20, 15, 4, 0, 0, time.UTC) }

	res, err := s.Sync(context.Background(), "t-1", creds)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC), res.SnapshotDate)
	assert.Equal(t, int64(2), res.Ads)
	assert.Equal(t, int64(2), res.Insights)
	assert.InDelta(t, 15.0, res.Spend, 0.001)
	assert.Equal(t, int64(2), res.Leads)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSync_AdsListFailureStillStoresInsights(t *testing.T) {
	pool := newMockPool(t)
	client := mocks.NewMockClient(t)

	client.On("AdInsights", mock.Anything, "tok", "act_1", "last_7d").
		Return([]meta.AdInsight{{AdID: "1", AdName: "Hook A", Spend: "1"}}, nil)
	client.On("Ads", mock.Anything, "tok", "act_1").Return(nil, errors.New("rate limited"))

	expectUpsert(pool, "meta_ads", adsUpsert.Columns, 1)
	expectUpsert(pool, "meta_ad_insights", insightsUpsert.Columns, 1)

	res, err := NewSyncer(pool, client).Sync(context.Background(), "t-1", creds)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Insights)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSync_InsightsError(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("AdInsights", mock.Anything, "tok", "act_1", "last_7d").Return(nil, errors.New("boom"))

	_, err := NewSyncer(newMockPool(t), client).Sync(context.Background(), "t-1", creds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch insights")
}

func TestSync_MissingCredentials(t *testing.T) {
	_, err := NewSyncer(nil, nil).Sync(context.Background(), "t-1", tenant.MetaCredentials{})
	assert.Error(t, err)
}
