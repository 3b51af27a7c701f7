package report

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/pkg/anthropic"
)

const narrativeSystem = `You write the opening paragraph of a weekly marketing funnel report for a
small business owner. Use plain language, three or four sentences, no
headings or bullet points. Mention the biggest change worth acting on. Do
not invent numbers that are not in the data.`

// Narrator writes a short summary of a report with an LLM.
type Narrator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewNarrator creates a Narrator.
func NewNarrator(client anthropic.Client, model string, maxTokens int64) *Narrator {
	if maxTokens <= 0 {
		maxTokens = 600
	}
	return &Narrator{client: client, model: model, maxTokens: maxTokens}
}

// Summarize returns the narrative for w.
func (n *Narrator) Summarize(ctx context.Context, title string, w *Weekly) (string, error) {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "report: marshal metrics")
	}
	temp := 0.3
	resp, err := n.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       n.model,
		MaxTokens:   n.maxTokens,
		System:      narrativeSystem,
		Prompt:      "Business: " + title + "\nWeek: " + w.Label + "\n\nMetrics (JSON):\n" + string(data),
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrap(err, "report: narrative")
	}
	return resp.Text, nil
}
