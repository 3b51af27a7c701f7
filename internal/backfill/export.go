package backfill

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/funnel-cli/internal/model"
)

// OrphanSheet is the worksheet name in exported workbooks.
const OrphanSheet = "Orphans"

var orphanHeader = []string{
	"Payment ID", "Event ID", "Tenant", "Date", "Email", "Name", "Phone",
	"Amount", "Currency", "Status", "Source", "Category",
}

// ExportOrphans writes orphans to w as an xlsx workbook with one row per
// payment, for manual matching.
func ExportOrphans(w io.Writer, orphans []model.Payment) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(OrphanSheet)
	if err != nil {
		return eris.Wrap(err, "backfill: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range orphanHeader {
		header.AddCell().SetString(h)
	}
	for _, p := range orphans {
		row := sheet.AddRow()
		for _, v := range []string{
			p.ID, p.PaymentEventID, p.TenantID, p.PaymentDate.UTC().Format(time.DateOnly),
			p.CustomerEmail, p.CustomerName, p.CustomerPhone,
		} {
			row.AddCell().SetString(v)
		}
		row.AddCell().SetFloat(p.Amount)
		for _, v := range []string{p.Currency, string(p.Status), p.PaymentSource, string(p.Category)} {
			row.AddCell().SetString(v)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "backfill: write workbook")
	}
	return nil
}
