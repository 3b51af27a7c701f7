package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/payment"
)

// Recorder records one payment. payment.Writer implements it.
type Recorder interface {
	Record(ctx context.Context, in payment.Input) (payment.Outcome, error)
}

// Options controls an import run.
type Options struct {
	DryRun bool
	// FailOnDuplicate stops the run at the first event id already on file.
	FailOnDuplicate bool
}

// Report counts an import run.
type Report struct {
	Rows       int
	Imported   int
	Linked     int
	Orphans    int
	Duplicates int
	Errors     int
	Skips      []Skip
}

// TwinFinder finds webhook rows for a payment whose export id differs
// from the webhook's. payment.PostgresStore implements it.
type TwinFinder interface {
	StripeTwins(ctx context.Context, tenantID, email string, amount float64, at time.Time) ([]string, error)
}

// Importer records mapped rows one by one. Each row is its own
// transaction inside the writer, so a failed row never blocks the rest.
type Importer struct {
	rec   Recorder
	twins TwinFinder
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithTwinFinder makes Stripe imports skip rows the webhook already
// recorded under its own event id.
func WithTwinFinder(f TwinFinder) ImporterOption {
	return func(im *Importer) { im.twins = f }
}

// NewImporter creates an Importer.
func NewImporter(rec Recorder, opts ...ImporterOption) *Importer {
	im := &Importer{rec: rec}
	for _, o := range opts {
		o(im)
	}
	return im
}

// Import records m.Inputs in order.
func (im *Importer) Import(ctx context.Context, m *Mapped, opts Options) (*Report, error) {
	rep := &Report{Rows: len(m.Inputs) + len(m.Skips), Skips: m.Skips}
	if opts.DryRun {
		return rep, nil
	}

	// claimed holds webhook event ids already paired with an earlier row,
	// so two equal charges in one export pair with two webhook rows.
	claimed := map[string]bool{}
	for i, in := range m.Inputs {
		if ctx.Err() != nil {
			return rep, eris.Wrap(ctx.Err(), "ingest: import cancelled")
		}
		line := m.Lines[i]

		if m.Format == FormatStripe && im.twins != nil {
			twin, err := im.claimTwin(ctx, in, claimed)
			if err != nil {
				rep.Errors++
				zap.L().Error("ingest: twin lookup failed",
					zap.Int("line", line),
					zap.String("event_id", in.EventID),
					zap.Error(err),
				)
				continue
			}
			if twin != "" {
				rep.Duplicates++
				zap.L().Debug("ingest: row already recorded by webhook",
					zap.Int("line", line),
					zap.String("event_id", in.EventID),
					zap.String("webhook_event_id", twin),
				)
				if opts.FailOnDuplicate {
					return rep, eris.Wrapf(payment.ErrDuplicate, "ingest: line %d matches webhook event %s", line, twin)
				}
				continue
			}
		}

		out, err := im.rec.Record(ctx, in)
		if err != nil {
			rep.Errors++
			zap.L().Error("ingest: row failed",
				zap.Int("line", line),
				zap.String("event_id", in.EventID),
				zap.Error(err),
			)
			continue
		}
		switch {
		case out.Duplicate:
			rep.Duplicates++
			if opts.FailOnDuplicate {
				return rep, eris.Wrapf(payment.ErrDuplicate, "ingest: line %d event %s", line, in.EventID)
			}
		case out.Orphan:
			rep.Imported++
			rep.Orphans++
		default:
			rep.Imported++
			rep.Linked++
		}
	}

	zap.L().Info("ingest: import complete",
		zap.Int("rows", rep.Rows),
		zap.Int("imported", rep.Imported),
		zap.Int("linked", rep.Linked),
		zap.Int("orphans", rep.Orphans),
		zap.Int("duplicates", rep.Duplicates),
		zap.Int("skipped", len(rep.Skips)),
		zap.Int("errors", rep.Errors),
	)
	return rep, nil
}

// claimTwin returns the first unclaimed webhook event id matching in, or ""
// when the payment has not been seen.
func (im *Importer) claimTwin(ctx context.Context, in payment.Input, claimed map[string]bool) (string, error) {
	ids, err := im.twins.StripeTwins(ctx, in.TenantID, in.Email, in.Amount, in.PaidAt)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		if !claimed[id] {
			claimed[id] = true
			return id, nil
		}
	}
	return "", nil
}
