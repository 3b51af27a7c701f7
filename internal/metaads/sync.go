// Package metaads syncs Meta ad performance into Postgres and runs the
// Conversions API outbox.
package metaads

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/tenant"
	"github.com/sells-group/funnel-cli/pkg/meta"
)

var (
	adsUpsert = db.UpsertConfig{
		Table:        "meta_ads",
		Columns:      []string{"ad_id", "tenant_id", "ad_name", "adset_id", "campaign_id", "status", "updated_at"},
		ConflictKeys: []string{"ad_id"},
	}
	insightsUpsert = db.UpsertConfig{
		Table:        "meta_ad_insights",
		Columns:      []string{"ad_id", "tenant_id", "snapshot_date", "spend", "impressions", "clicks", "reach", "leads", "ctr", "cpc"},
		ConflictKeys: []string{"ad_id", "snapshot_date"},
	}
)

// SyncResult summarises one sync.
type SyncResult struct {
	SnapshotDate time.Time
	Ads          int64
	Insights     int64
	Spend        float64
	Leads        int64
}

// Syncer pulls trailing seven-day ad insights and stores a daily snapshot.
type Syncer struct {
	pool   db.Pool
	client meta.Client
	now    func() time.Time
}

// NewSyncer creates a Syncer.
func NewSyncer(pool db.Pool, client meta.Client) *Syncer {
	return &Syncer{pool: pool, client: client, now: time.Now}
}

// Sync fetches ad-level last_7d insights for the tenant's account and
// upserts them under today's snapshot date. Re-running on the same day
// overwrites.
func (s *Syncer) Sync(ctx context.Context, tenantID string, creds tenant.MetaCredentials) (SyncResult, error) {
	if tenantID == "" {
		return SyncResult{}, eris.New("metaads: tenant id is required")
	}
	if creds.AccessToken == "" || creds.AdAccountID == "" {
		return SyncResult{}, eris.New("metaads: access token and ad account id are required")
	}
	log := zap.L().With(
		zap.String("component", "metaads.sync"),
		zap.String("tenant", tenantID),
		zap.String("ad_account", creds.AdAccountID),
	)

	insights, err := s.client.AdInsights(ctx, creds.AccessToken, creds.AdAccountID, "last_7d")
	if err != nil {
		return SyncResult{}, eris.Wrap(err, "metaads: fetch insights")
	}

	// Status comes from the ads edge; names fall back to the insight rows.
	status := map[string]meta.Ad{}
	ads, err := s.client.Ads(ctx, creds.AccessToken, creds.AdAccountID)
	if err != nil {
		log.Warn("metaads: ads list unavailable, storing names only", zap.Error(err))
	}
	for _, a := range ads {
		status[a.ID] = a
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	res := SyncResult{SnapshotDate: today}

	adRows := make([][]any, 0, len(insights))
	insightRows := make([][]any, 0, len(insights))
	seen := make(map[string]bool, len(insights))
	for _, in := range insights {
		if in.AdID == "" || seen[in.AdID] {
			continue
		}
		seen[in.AdID] = true

		a := status[in.AdID]
		name := in.AdName
		if name == "" {
			name = a.Name
		}
		adRows = append(adRows, []any{in.AdID, tenantID, name, firstNonEmpty(in.AdsetID, a.AdsetID), firstNonEmpty(in.CampaignID, a.CampaignID), a.Status, s.now().UTC()})

		spend := meta.ParseFloat(in.Spend)
		leads := in.Leads()
		res.Spend += spend
		res.Leads += leads
		insightRows = append(insightRows, []any{
			in.AdID, tenantID, today, spend,
			meta.ParseInt(in.Impressions), meta.ParseInt(in.Clicks), meta.ParseInt(in.Reach),
			leads, meta.ParseFloat(in.CTR), meta.ParseFloat(in.CPC),
		})
	}

	if res.Ads, err = db.BulkUpsert(ctx, s.pool, adsUpsert, adRows); err != nil {
		return res, err
	}
	if res.Insights, err = db.BulkUpsert(ctx, s.pool, insightsUpsert, insightRows); err != nil {
		return res, err
	}

	log.Info("metaads: insights synced",
		zap.Time("snapshot_date", today),
		zap.Int64("ads", res.Ads),
		zap.Int64("insights", res.Insights),
		zap.Float64("spend", res.Spend),
	)
	return res, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
