package report

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/pkg/notion"
)

// Archive database property names.
const (
	propWeek     = "Week"
	propTenant   = "Tenant"
	propStart    = "Start"
	propLeads    = "Leads"
	propPurchase = "Purchased"
	propRevenue  = "Revenue"
	propSpend    = "Ad Spend"
	propROAS     = "ROAS"
)

// Archiver keeps one Notion page per tenant and week.
type Archiver struct {
	client notion.Client
	dbID   string
}

// NewArchiver creates an Archiver writing into the database dbID.
func NewArchiver(client notion.Client, dbID string) *Archiver {
	return &Archiver{client: client, dbID: dbID}
}

// PageTitle is the title used for a tenant's week.
func PageTitle(title string, w *Weekly) string {
	return fmt.Sprintf("%s %s", title, w.Start.Format("2006-01-02"))
}

// Archive upserts the week's page and returns its id. Reruns for the same
// week update the properties in place.
func (a *Archiver) Archive(ctx context.Context, title string, w *Weekly) (string, error) {
	props := notionapi.Properties{
		propTenant:   notion.Text(title),
		propStart:    notion.Date(w.Start),
		propLeads:    notion.Number(float64(w.Activity.Leads)),
		propPurchase: notion.Number(float64(w.Activity.Purchased)),
		propRevenue:  notion.Number(w.Revenue),
		propSpend:    notion.Number(w.AdSpend),
		propROAS:     notion.Number(w.ROAS),
	}

	children := []notionapi.Block{notion.Heading("Week of " + w.Label)}
	if w.Narrative != "" {
		children = append(children, notion.Paragraph(w.Narrative))
	}
	for _, s := range steps(w.Activity) {
		children = append(children, notion.Bullet(fmt.Sprintf("%s: %d", s.Name, s.Count)))
	}
	children = append(children, notion.Heading("Top Ads"))
	for i, ad := range w.TopAds {
		children = append(children, notion.Bullet(fmt.Sprintf("%d. %s - %d leads", i+1, ad.Name, ad.Leads)))
	}

	id, err := notion.UpsertPage(ctx, a.client, a.dbID, propWeek, PageTitle(title, w), props, children)
	if err != nil {
		return "", eris.Wrapf(err, "report: archive %s", w.Label)
	}
	return id, nil
}
