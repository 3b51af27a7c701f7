package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/model"
)

// MonthWeeks is how many report weeks a monthly report spans.
const MonthWeeks = 4

// MonthWeek is one week of a monthly report. AdSpend is the trailing seven
// day snapshot taken inside the week.
type MonthWeek struct {
	Label    string    `json:"label"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Activity Activity  `json:"activity"`
	Revenue  float64   `json:"revenue"`
	AdSpend  float64   `json:"ad_spend"`
}

// ActiveContact is a contact with funnel activity inside the monthly window.
type ActiveContact struct {
	Name          string
	Email         string
	Subscribed    *time.Time
	Qualified     *time.Time
	LinkClicked   *time.Time
	FormSubmitted *time.Time
	MeetingHeld   *time.Time
	Purchased     *time.Time
	Source        string
	AdID          string
}

// Monthly is one tenant's four week overview.
type Monthly struct {
	TenantID string          `json:"tenant_id"`
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
	Label    string          `json:"label"`
	Weeks    []MonthWeek     `json:"weeks"`
	Totals   Activity        `json:"totals"`
	Revenue  float64         `json:"revenue"`
	AdSpend  float64         `json:"ad_spend"`
	CPL      float64         `json:"cpl"`
	CPA      float64         `json:"cpa"`
	ROAS     float64         `json:"roas"`
	Contacts []ActiveContact `json:"-"`
}

func (a *Activity) add(o Activity) {
	a.Leads += o.Leads
	a.Qualified += o.Qualified
	a.LinkClicked += o.LinkClicked
	a.FormSubmitted += o.FormSubmitted
	a.MeetingHeld += o.MeetingHeld
	a.Purchased += o.Purchased
}

const weekSpendSQL = `SELECT coalesce(sum(spend), 0)::float8 FROM meta_ad_insights
WHERE tenant_id = $1
	AND snapshot_date = (SELECT max(snapshot_date) FROM meta_ad_insights
		WHERE tenant_id = $1 AND snapshot_date >= $2 AND snapshot_date < $3)`

const lastActivityExpr = `greatest(subscribe_date, dm_qualified_date, link_click_date, form_submit_date, appointment_held_date, purchase_date)`

const activeContactsSQL = `SELECT name, email, subscribe_date, dm_qualified_date, link_click_date,
	form_submit_date, appointment_held_date, purchase_date, source, ad_id
FROM (
	SELECT id,
		trim(coalesce(first_name, '') || ' ' || coalesce(last_name, '')) AS name,
		coalesce(email_primary, '') AS email,
		subscribe_date, dm_qualified_date, link_click_date,
		form_submit_date, appointment_held_date, purchase_date,
		coalesce(source, '') AS source,
		coalesce(ad_id, '') AS ad_id,
		` + lastActivityExpr + ` AS last_activity
	FROM contacts
	WHERE tenant_id = $1 AND coalesce(source, '') <> $4
) c
WHERE last_activity >= $2 AND last_activity < $3
ORDER BY last_activity DESC, id ASC`

// Monthly builds the four report weeks ending on end's day plus the list of
// contacts active in that span.
func (b *Builder) Monthly(ctx context.Context, tenantID string, end time.Time) (*Monthly, error) {
	if tenantID == "" {
		return nil, eris.New("report: tenant id is required")
	}
	_, until := Window(end)
	from := until.AddDate(0, 0, -7*MonthWeeks)
	m := &Monthly{
		TenantID: tenantID,
		Start:    from,
		End:      until.Add(-time.Second),
		Label:    Label(from, until),
		Weeks:    make([]MonthWeek, 0, MonthWeeks),
		Contacts: []ActiveContact{},
	}

	for i := range MonthWeeks {
		ws := from.AddDate(0, 0, 7*i)
		we := ws.AddDate(0, 0, 7)
		wk := MonthWeek{Label: Label(ws, we), Start: ws, End: we.Add(-time.Second)}

		var err error
		if wk.Activity, err = b.activity(ctx, tenantID, ws, we); err != nil {
			return nil, err
		}
		if wk.Revenue, err = b.revenue(ctx, tenantID, ws, we); err != nil {
			return nil, err
		}
		if err := b.q.QueryRow(ctx, weekSpendSQL, tenantID, ws, we).Scan(&wk.AdSpend); err != nil {
			return nil, eris.Wrapf(err, "report: ad spend for %s week %s", tenantID, wk.Label)
		}

		m.Totals.add(wk.Activity)
		m.Revenue += wk.Revenue
		m.AdSpend += wk.AdSpend
		m.Weeks = append(m.Weeks, wk)
	}

	rows, err := b.q.Query(ctx, activeContactsSQL, tenantID, from, until, model.SourceInstagramHistorical)
	if err != nil {
		return nil, eris.Wrapf(err, "report: active contacts for %s", tenantID)
	}
	defer rows.Close()
	for rows.Next() {
		var c ActiveContact
		if err := rows.Scan(&c.Name, &c.Email, &c.Subscribed, &c.Qualified, &c.LinkClicked,
			&c.FormSubmitted, &c.MeetingHeld, &c.Purchased, &c.Source, &c.AdID); err != nil {
			return nil, eris.Wrap(err, "report: scan active contact")
		}
		m.Contacts = append(m.Contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "report: iterate active contacts")
	}

	m.CPL = ratio(m.AdSpend, float64(m.Totals.Leads))
	m.CPA = ratio(m.AdSpend, float64(m.Totals.Purchased))
	m.ROAS = ratio(m.Revenue, m.AdSpend)

	zap.L().Debug("report: monthly built",
		zap.String("tenant", tenantID),
		zap.String("span", m.Label),
		zap.Int("contacts", len(m.Contacts)),
		zap.Float64("revenue", m.Revenue),
	)
	return m, nil
}

var contactColumns = []string{
	"Name", "Email", "Subscribed", "Qualified", "Link Clicked",
	"Form Submitted", "Meeting Held", "Purchased", "Source", "Ad ID",
}

// ContactsCSV writes contacts as a CSV sheet with one column per funnel
// date. Dates are calendar days in loc.
func ContactsCSV(contacts []ActiveContact, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	day := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.In(loc).Format(time.DateOnly)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(contactColumns); err != nil {
		return nil, eris.Wrap(err, "report: write csv header")
	}
	for _, c := range contacts {
		rec := []string{
			c.Name, c.Email,
			day(c.Subscribed), day(c.Qualified), day(c.LinkClicked),
			day(c.FormSubmitted), day(c.MeetingHeld), day(c.Purchased),
			c.Source, c.AdID,
		}
		if err := w.Write(rec); err != nil {
			return nil, eris.Wrap(err, "report: write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrap(err, "report: flush csv")
	}
	return buf.Bytes(), nil
}
