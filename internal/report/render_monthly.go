package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
)

var monthlyTmpl = template.Must(template.New("monthly").Funcs(funcs).Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="margin:0;padding:0;background:#f9fafb;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;">
<div style="max-width:600px;margin:0 auto;padding:16px;">
<div style="background:#1f2937;padding:20px;border-radius:8px 8px 0 0;text-align:center;">
<h1 style="color:white;margin:0;font-size:20px;">{{.Title}} Monthly Report</h1>
<p style="color:#9ca3af;margin:4px 0 0 0;font-size:13px;">{{.M.Label}}</p>
</div>
{{if .Intro}}<div style="background:white;padding:16px;"><p style="margin:0;font-size:14px;line-height:1.5;">This overview covers the last four report weeks. Each week shows how many contacts reached each funnel step and the revenue collected. The attached sheet lists every contact with activity in the period so the numbers can be checked row by row.</p></div>{{end}}
<div style="background:#eff6ff;padding:16px;"><table style="width:100%;"><tr>
<td style="text-align:center;"><div style="font-size:24px;font-weight:700;color:#1e40af;">{{.M.Totals.Leads}}</div><div style="font-size:12px;color:#6b7280;">Leads</div></td>
<td style="text-align:center;"><div style="font-size:24px;font-weight:700;color:#1e40af;">{{.M.Totals.Purchased}}</div><div style="font-size:12px;color:#6b7280;">Sales</div></td>
<td style="text-align:center;"><div style="font-size:24px;font-weight:700;color:#059669;">{{money .M.Revenue}}</div><div style="font-size:12px;color:#6b7280;">Revenue</div></td>
</tr></table></div>
<div style="background:white;padding:16px;"><p style="margin:0 0 8px 0;font-weight:600;">Revenue by Week</p>
<img src="{{.RevenueChart}}" alt="Revenue" style="width:100%;height:auto;"/>
<table style="width:100%;font-size:13px;">
<tr><td style="color:#6b7280;">Week</td><td style="text-align:right;color:#6b7280;">Leads</td><td style="text-align:right;color:#6b7280;">Sales</td><td style="text-align:right;color:#6b7280;">Revenue</td></tr>
{{range .M.Weeks}}<tr><td>{{.Label}}</td><td style="text-align:right;">{{.Activity.Leads}}</td><td style="text-align:right;">{{.Activity.Purchased}}</td><td style="text-align:right;font-weight:600;">{{money .Revenue}}</td></tr>
{{end}}</table></div>
<div style="background:white;padding:16px;"><p style="margin:0 0 8px 0;font-weight:600;">Funnel</p>
<img src="{{.FunnelChart}}" alt="Funnel" style="width:100%;height:auto;"/>
</div>
<div style="background:#f3f4f6;padding:16px;"><p style="margin:0 0 12px 0;font-weight:600;">Ad Performance</p>
<table style="width:100%;font-size:13px;">
<tr><td style="color:#6b7280;">Ad Spend</td><td style="text-align:right;font-weight:600;">{{money .M.AdSpend}}</td></tr>
<tr><td style="color:#6b7280;">CPL</td><td style="text-align:right;font-weight:600;">${{fixed .M.CPL}}</td></tr>
<tr><td style="color:#6b7280;">CPA</td><td style="text-align:right;font-weight:600;">${{fixed .M.CPA}}</td></tr>
<tr><td style="color:#6b7280;">ROAS</td><td style="text-align:right;font-weight:600;color:{{roasColor .M.ROAS}};">{{fixed .M.ROAS}}x</td></tr>
</table></div>
<div style="background:#eff6ff;padding:12px;text-align:center;border-top:1px solid #e5e7eb;"><p style="margin:0;font-size:12px;color:#1e40af;">CSV attached with {{len .M.Contacts}} active contacts</p></div>
<div style="text-align:center;padding:12px;background:#1f2937;border-radius:0 0 8px 8px;"><span style="color:#6b7280;font-size:11px;">Funnel Analytics</span></div>
</div></body></html>
`))

// RevenueChartURL returns a quickchart.io bar image of revenue per week.
func RevenueChartURL(weeks []MonthWeek) string {
	labels := make([]string, 0, len(weeks))
	data := make([]float64, 0, len(weeks))
	for _, w := range weeks {
		labels = append(labels, w.Label)
		data = append(data, w.Revenue)
	}
	cfg := map[string]any{
		"type": "bar",
		"data": map[string]any{
			"labels":   labels,
			"datasets": []map[string]any{{"data": data, "backgroundColor": "#059669"}},
		},
		"options": map[string]any{
			"plugins": map[string]any{"legend": map[string]any{"display": false}},
		},
	}
	b, _ := json.Marshal(cfg)
	return "https://quickchart.io/chart?c=" + url.QueryEscape(string(b)) + "&w=550&h=220&bkg=white"
}

// RenderMonthly produces the monthly email. intro adds a paragraph that
// explains the report to first-time readers. The contact sheet is attached
// by the caller.
func RenderMonthly(title string, m *Monthly, intro bool) (*Rendered, error) {
	if m == nil {
		return nil, eris.New("report: nothing to render")
	}
	var html bytes.Buffer
	err := monthlyTmpl.Execute(&html, map[string]any{
		"Title":        title,
		"M":            m,
		"Intro":        intro,
		"RevenueChart": template.URL(RevenueChartURL(m.Weeks)),
		"FunnelChart":  template.URL(ChartURL(m.Totals)),
	})
	if err != nil {
		return nil, eris.Wrap(err, "report: render monthly html")
	}
	return &Rendered{
		Subject: fmt.Sprintf("%s Monthly: %s Revenue | %d Sales", title, money(m.Revenue), m.Totals.Purchased),
		HTML:    html.String(),
		Text:    MonthlyText(title, m),
	}, nil
}

// MonthlyText renders m as one aligned row per week plus totals.
func MonthlyText(title string, m *Monthly) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Monthly Report (%s)\n\n", title, m.Label)

	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Week\tLeads\tQualified\tMeetings\tSales\tRevenue\t")
	for _, w := range m.Weeks {
		a := w.Activity
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\t\n", w.Label, a.Leads, a.Qualified, a.MeetingHeld, a.Purchased, money(w.Revenue))
	}
	t := m.Totals
	fmt.Fprintf(tw, "Total\t%d\t%d\t%d\t%d\t%s\t\n", t.Leads, t.Qualified, t.MeetingHeld, t.Purchased, money(m.Revenue))
	_ = tw.Flush()

	fmt.Fprintf(&sb, "\nAd Spend %s, CPL $%.2f, CPA $%.2f, ROAS %.2fx\n", money(m.AdSpend), m.CPL, m.CPA, m.ROAS)
	fmt.Fprintf(&sb, "Active contacts: %d\n", len(m.Contacts))
	return sb.String()
}
