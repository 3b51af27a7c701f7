package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var insightCfg = UpsertConfig{
	Table:        "meta_ad_insights",
	Columns:      []string{"ad_id", "snapshot_date", "spend"},
	ConflictKeys: []string{"ad_id", "snapshot_date"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, insightCfg, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "meta_ads",
		ConflictKeys: []string{"ad_id"},
	}, [][]any{{"1", "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "meta_ads",
		Columns: []string{"ad_id", "ad_name"},
	}, [][]any{{"1", "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_meta_ad_insights"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_meta_ad_insights"}, insightCfg.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("ad_id", "snapshot_date"\) DO UPDATE SET "spend" = EXCLUDED."spend"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, insightCfg, [][]any{
		{"ad-1", "2025-11-20", 10.5},
		{"ad-2", "2025-11-20", 4.0},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_meta_ad_insights"}, insightCfg.Columns).
		WillReturnError(fmt.Errorf("permission denied"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, insightCfg, [][]any{{"ad-1", "2025-11-20", 1.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for meta_ad_insights")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildMergeSQL(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{
			name: "update non-key columns",
			cfg: UpsertConfig{
				Table:        "meta_ads",
				Columns:      []string{"ad_id", "ad_name"},
				ConflictKeys: []string{"ad_id"},
			},
			want: `INSERT INTO "meta_ads" ("ad_id", "ad_name") SELECT "ad_id", "ad_name" FROM "tmp" ON CONFLICT ("ad_id") DO UPDATE SET "ad_name" = EXCLUDED."ad_name"`,
		},
		{
			name: "do nothing",
			cfg: UpsertConfig{
				Table:        "meta_ads",
				Columns:      []string{"ad_id", "ad_name"},
				ConflictKeys: []string{"ad_id"},
				DoNothing:    true,
			},
			want: `INSERT INTO "meta_ads" ("ad_id", "ad_name") SELECT "ad_id", "ad_name" FROM "tmp" ON CONFLICT ("ad_id") DO NOTHING`,
		},
		{
			name: "only keys",
			cfg: UpsertConfig{
				Table:        "meta_ads",
				Columns:      []string{"ad_id"},
				ConflictKeys: []string{"ad_id"},
			},
			want: `INSERT INTO "meta_ads" ("ad_id") SELECT "ad_id" FROM "tmp" ON CONFLICT ("ad_id") DO NOTHING`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildMergeSQL(tt.cfg, "tmp"))
		})
	}
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"meta_ads"`, sanitizeTable("meta_ads"))
	assert.Equal(t, `"public"."meta_ads"`, sanitizeTable("public.meta_ads"))
}
