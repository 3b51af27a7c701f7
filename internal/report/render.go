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

// Rendered is a report ready to send.
type Rendered struct {
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// Attachment is a file sent alongside a report.
type Attachment struct {
	Name string
	Data []byte
}

const (
	colorSuccess = "#059669"
	colorDanger  = "#dc2626"
)

var funcs = template.FuncMap{
	"money": money,
	"fixed": func(f float64) string { return fmt.Sprintf("%.2f", f) },
	"inc":   func(i int) int { return i + 1 },
	"roasColor": func(r float64) string {
		if r >= 1 {
			return colorSuccess
		}
		return colorDanger
	},
}

var emailTmpl = template.Must(template.New("weekly").Funcs(funcs).Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="margin:0;padding:0;background:#f9fafb;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;">
<div style="max-width:600px;margin:0 auto;padding:16px;">
<div style="background:#1f2937;padding:20px;border-radius:8px 8px 0 0;text-align:center;">
<h1 style="color:white;margin:0;font-size:20px;">{{.Title}} Weekly Report</h1>
<p style="color:#9ca3af;margin:4px 0 0 0;font-size:13px;">Week of {{.W.Label}}</p>
</div>
<div style="background:#eff6ff;padding:16px;"><table style="width:100%;"><tr>
<td style="text-align:center;"><div style="font-size:24px;font-weight:700;color:#1e40af;">{{.W.Activity.Leads}}</div><div style="font-size:12px;color:#6b7280;">Leads</div></td>
<td style="text-align:center;"><div style="font-size:24px;font-weight:700;color:#1e40af;">{{.W.Activity.Purchased}}</div><div style="font-size:12px;color:#6b7280;">Purchased</div></td>
<td style="text-align:center;"><div style="font-size:24px;font-weight:700;color:#059669;">{{money .W.Revenue}}</div><div style="font-size:12px;color:#6b7280;">Revenue</div></td>
</tr></table></div>
{{if .W.Narrative}}<div style="background:white;padding:16px;"><p style="margin:0;font-size:14px;line-height:1.5;">{{.W.Narrative}}</p></div>{{end}}
<div style="background:white;padding:16px;"><p style="margin:0 0 8px 0;font-weight:600;">Funnel This Week</p>
<img src="{{.ChartURL}}" alt="Funnel" style="width:100%;height:auto;"/>
<table style="width:100%;font-size:13px;">
{{range .Steps}}<tr><td style="color:#6b7280;">{{.Name}}</td><td style="text-align:right;font-weight:600;">{{.Count}}</td></tr>
{{end}}</table></div>
<div style="background:#f3f4f6;padding:16px;"><p style="margin:0 0 12px 0;font-weight:600;">Ad Performance</p>
<table style="width:100%;font-size:13px;">
<tr><td style="color:#6b7280;">Ad Spend</td><td style="text-align:right;font-weight:600;">{{money .W.AdSpend}}</td></tr>
<tr><td style="color:#6b7280;">CPL</td><td style="text-align:right;font-weight:600;">${{fixed .W.CPL}}</td></tr>
<tr><td style="color:#6b7280;">CPA</td><td style="text-align:right;font-weight:600;">${{fixed .W.CPA}}</td></tr>
<tr><td style="color:#6b7280;">ROAS</td><td style="text-align:right;font-weight:600;color:{{roasColor .W.ROAS}};">{{fixed .W.ROAS}}x</td></tr>
</table></div>
<div style="background:white;padding:16px;"><p style="margin:0 0 8px 0;font-weight:600;">Top Ads</p>
{{range $i, $ad := .W.TopAds}}<div style="padding:4px 0;">{{inc $i}}. {{$ad.Name}} - {{$ad.Leads}} leads</div>
{{else}}<p style="color:#6b7280;">No attributed ads</p>{{end}}
</div>
<div style="background:#f3f4f6;padding:16px;"><p style="margin:0 0 12px 0;font-weight:600;">Traffic Sources</p>
<table style="width:100%;font-size:13px;">
<tr><td style="color:#6b7280;">Chatbot (TOF/MOF)</td><td style="text-align:right;">{{.W.Traffic.Chatbot}}</td></tr>
<tr><td style="color:#6b7280;">Lead Magnet</td><td style="text-align:right;">{{.W.Traffic.LeadMagnet}}</td></tr>
<tr><td style="color:#6b7280;">BOF Ads</td><td style="text-align:right;">{{.W.Traffic.BOF}}</td></tr>
<tr><td style="color:#6b7280;">Website / Organic</td><td style="text-align:right;">{{.W.Traffic.Organic}}</td></tr>
</table></div>
<div style="text-align:center;padding:12px;background:#1f2937;border-radius:0 0 8px 8px;"><span style="color:#6b7280;font-size:11px;">Funnel Analytics</span></div>
</div></body></html>
`))

type step struct {
	Name  string
	Count int
}

func steps(a Activity) []step {
	return []step{
		{"Leads", a.Leads},
		{"Qualified", a.Qualified},
		{"Link Clicked", a.LinkClicked},
		{"Form Submit", a.FormSubmitted},
		{"Meeting Held", a.MeetingHeld},
		{"Purchased", a.Purchased},
	}
}

// ChartURL returns a quickchart.io horizontal bar image of the funnel.
func ChartURL(a Activity) string {
	var labels []string
	var data []int
	for _, s := range steps(a) {
		labels = append(labels, s.Name)
		data = append(data, s.Count)
	}
	cfg := map[string]any{
		"type": "horizontalBar",
		"data": map[string]any{
			"labels": labels,
			"datasets": []map[string]any{{
				"data":            data,
				"backgroundColor": []string{"#3b82f6", "#2563eb", "#0891b2", "#0d9488", "#059669", "#065f46"},
			}},
		},
		"options": map[string]any{
			"plugins": map[string]any{"legend": map[string]any{"display": false}},
		},
	}
	b, _ := json.Marshal(cfg)
	return "https://quickchart.io/chart?c=" + url.QueryEscape(string(b)) + "&w=550&h=220&bkg=white"
}

// Render produces the subject, HTML body and plain-text body for w.
// title is the tenant's display name.
func Render(title string, w *Weekly) (*Rendered, error) {
	if w == nil {
		return nil, eris.New("report: nothing to render")
	}
	var html bytes.Buffer
	err := emailTmpl.Execute(&html, map[string]any{
		"Title":    title,
		"W":        w,
		"Steps":    steps(w.Activity),
		"ChartURL": template.URL(ChartURL(w.Activity)),
	})
	if err != nil {
		return nil, eris.Wrap(err, "report: render html")
	}
	return &Rendered{
		Subject: fmt.Sprintf("%s Weekly: %s - %s Revenue", title, w.Label, money(w.Revenue)),
		HTML:    html.String(),
		Text:    Text(title, w),
	}, nil
}

// Text renders w as an aligned plain-text table.
func Text(title string, w *Weekly) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Weekly Report (%s)\n\n", title, w.Label)

	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, s := range steps(w.Activity) {
		fmt.Fprintf(tw, "%s\t%d\t\n", s.Name, s.Count)
	}
	fmt.Fprintf(tw, "Revenue\t%s\t\n", money(w.Revenue))
	fmt.Fprintf(tw, "Ad Spend\t%s\t\n", money(w.AdSpend))
	fmt.Fprintf(tw, "CPL\t$%.2f\t\n", w.CPL)
	fmt.Fprintf(tw, "CPA\t$%.2f\t\n", w.CPA)
	fmt.Fprintf(tw, "ROAS\t%.2fx\t\n", w.ROAS)
	_ = tw.Flush()

	sb.WriteString("\nTop Ads\n")
	if len(w.TopAds) == 0 {
		sb.WriteString("  No attributed ads\n")
	}
	for i, ad := range w.TopAds {
		fmt.Fprintf(&sb, "  %d. %s - %d leads\n", i+1, ad.Name, ad.Leads)
	}

	t := w.Traffic
	fmt.Fprintf(&sb, "\nTraffic: chatbot %d, lead magnet %d, BOF %d, organic %d\n",
		t.Chatbot, t.LeadMagnet, t.BOF, t.Organic)
	if w.Narrative != "" {
		sb.WriteString("\n" + w.Narrative + "\n")
	}
	return sb.String()
}

// money formats whole dollars with thousands separators: $12,345.
func money(f float64) string {
	neg := f < 0
	if neg {
		f = -f
	}
	s := fmt.Sprintf("%.0f", f)
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-$" + string(out)
	}
	return "$" + string(out)
}
