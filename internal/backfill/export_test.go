package backfill

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/funnel-cli/internal/model"
)

func TestExportOrphans(t *testing.T) {
	p := orphan("p-1", "a@example.com", model.CategoryFullPurchase)
	p.PaymentDate = time.Date(2025, 11, 3, 15, 0, 0, 0, time.UTC)
	p.CustomerName = "Ann Lee"
	p.Currency = "usd"
	p.PaymentSource = "stripe"

	var buf bytes.Buffer
	require.NoError(t, ExportOrphans(&buf, []model.Payment{p}))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	sheet, ok := f.Sheet[OrphanSheet]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 2)

	assert.Equal(t, "Payment ID", sheet.Rows[0].Cells[0].Value)
	row := sheet.Rows[1]
	assert.Equal(t, "p-1", row.Cells[0].Value)
	assert.Equal(t, "2025-11-03", row.Cells[3].Value)
	assert.Equal(t, "Ann Lee", row.Cells[5].Value)
	amount, err := row.Cells[7].Float()
	require.NoError(t, err)
	assert.Equal(t, 250.0, amount)
	assert.Equal(t, "full_purchase", row.Cells[11].Value)
}

func TestExportOrphans_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportOrphans(&buf, nil))
	assert.NotZero(t, buf.Len())
}
