package report

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/model"
)

// AdConfig supplies a tenant's lead magnet ads.
type AdConfig interface {
	LeadMagnetAdIDs(t *model.Tenant) []string
}

// Delivery is the outcome of one weekly run.
type Delivery struct {
	Weekly     *Weekly
	Rendered   *Rendered
	Recipients []string
	Sent       bool
	PageID     string
}

// Service wires the builder to the optional narrator, mailer and archiver.
type Service struct {
	builder  *Builder
	ads      AdConfig
	narrator *Narrator
	mailer   *Mailer
	archiver *Archiver
	loc      *time.Location
	now      func() time.Time
	testTo   []string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithNarrator adds an LLM summary to each report.
func WithNarrator(n *Narrator) ServiceOption { return func(s *Service) { s.narrator = n } }

// WithMailer enables delivery by email.
func WithMailer(m *Mailer) ServiceOption { return func(s *Service) { s.mailer = m } }

// WithArchiver enables the Notion archive.
func WithArchiver(a *Archiver) ServiceOption { return func(s *Service) { s.archiver = a } }

// WithLocation sets the timezone that defines report days.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithTestRecipients sets where test-mode monthly runs are mailed.
func WithTestRecipients(to []string) ServiceOption { return func(s *Service) { s.testTo = to } }

// NewService creates a Service.
func NewService(builder *Builder, ads AdConfig, opts ...ServiceOption) *Service {
	s := &Service{builder: builder, ads: ads, loc: time.UTC, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// day maps t to midnight of its calendar day in the service's timezone. A
// non-zero t is read as a calendar date, so a parsed "2025-11-13" stays the
// 13th whatever its location. Zero means today.
func (s *Service) day(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now().In(s.loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

// Build computes and renders the week ending on end without delivering it.
// A zero end means today in the service's timezone.
func (s *Service) Build(ctx context.Context, t *model.Tenant, end time.Time) (*Delivery, error) {
	w, err := s.builder.Weekly(ctx, t.ID, s.ads.LeadMagnetAdIDs(t), s.day(end))
	if err != nil {
		return nil, err
	}
	return s.render(ctx, t, w)
}

func (s *Service) render(ctx context.Context, t *model.Tenant, w *Weekly) (*Delivery, error) {
	if s.narrator != nil {
		text, err := s.narrator.Summarize(ctx, t.Name, w)
		if err != nil {
			zap.L().Warn("report: narrative skipped", zap.String("tenant", t.Slug), zap.Error(err))
		} else {
			w.Narrative = text
		}
	}
	r, err := Render(t.Name, w)
	if err != nil {
		return nil, err
	}
	return &Delivery{Weekly: w, Rendered: r, Recipients: t.ReportRecipients()}, nil
}

// RunWeekly builds the report, mails it to the tenant's recipients and
// archives it. A failed archive is logged; a failed send is returned.
func (s *Service) RunWeekly(ctx context.Context, t *model.Tenant, end time.Time) (*Delivery, error) {
	log := zap.L().With(zap.String("tenant", t.Slug))

	d, err := s.Build(ctx, t, end)
	if err != nil {
		return nil, err
	}

	if s.mailer != nil {
		if len(d.Recipients) == 0 {
			log.Warn("report: tenant has no report recipients")
		} else {
			if err := s.mailer.Send(d.Recipients, d.Rendered); err != nil {
				return d, eris.Wrapf(err, "report: deliver %s", t.Slug)
			}
			d.Sent = true
		}
	}

	if s.archiver != nil {
		id, err := s.archiver.Archive(ctx, t.Name, d.Weekly)
		if err != nil {
			log.Warn("report: archive failed", zap.Error(err))
		} else {
			d.PageID = id
		}
	}

	log.Info("report: weekly complete",
		zap.String("week", d.Weekly.Label),
		zap.Bool("sent", d.Sent),
		zap.Int("recipients", len(d.Recipients)),
		zap.String("notion_page", d.PageID),
	)
	return d, nil
}

// MonthlyOptions tune one monthly run. Test mails the configured test
// recipients instead of the tenant's list and marks the subject.
type MonthlyOptions struct {
	Test  bool
	Intro bool
}

// MonthlyDelivery is the outcome of one monthly run.
type MonthlyDelivery struct {
	Monthly    *Monthly
	Rendered   *Rendered
	Recipients []string
	Sent       bool
}

// RunMonthly builds the four weeks ending on end, attaches the active
// contact sheet and mails it when a mailer is configured.
func (s *Service) RunMonthly(ctx context.Context, t *model.Tenant, end time.Time, opts MonthlyOptions) (*MonthlyDelivery, error) {
	log := zap.L().With(zap.String("tenant", t.Slug))

	m, err := s.builder.Monthly(ctx, t.ID, s.day(end))
	if err != nil {
		return nil, err
	}
	r, err := RenderMonthly(t.Name, m, opts.Intro)
	if err != nil {
		return nil, err
	}
	sheet, err := ContactsCSV(m.Contacts, s.loc)
	if err != nil {
		return nil, err
	}
	r.Attachments = append(r.Attachments, Attachment{
		Name: fmt.Sprintf("%s_monthly_data_%s_to_%s.csv", t.Slug, m.Start.Format(time.DateOnly), m.End.Format(time.DateOnly)),
		Data: sheet,
	})

	d := &MonthlyDelivery{Monthly: m, Rendered: r, Recipients: t.ReportRecipients()}
	if opts.Test {
		if len(s.testTo) == 0 {
			return d, eris.New("report: report.test_recipients is not set")
		}
		d.Recipients = s.testTo
		r.Subject = "[TEST] " + r.Subject
	}

	if s.mailer != nil {
		if len(d.Recipients) == 0 {
			log.Warn("report: tenant has no report recipients")
		} else {
			if err := s.mailer.Send(d.Recipients, r); err != nil {
				return d, eris.Wrapf(err, "report: deliver monthly %s", t.Slug)
			}
			d.Sent = true
		}
	}

	log.Info("report: monthly complete",
		zap.String("span", m.Label),
		zap.Bool("test", opts.Test),
		zap.Bool("sent", d.Sent),
		zap.Int("contacts", len(m.Contacts)),
	)
	return d, nil
}

// WeeklyData returns the week ending on weekEnding with the prior week for
// comparison. A zero weekEnding means the most recent Sunday.
func (s *Service) WeeklyData(ctx context.Context, t *model.Tenant, weekEnding time.Time) (*WeeklyData, error) {
	end := s.day(weekEnding)
	if weekEnding.IsZero() {
		end = LastSunday(end)
	}
	ads := s.ads.LeadMagnetAdIDs(t)

	cur, err := s.builder.Weekly(ctx, t.ID, ads, end)
	if err != nil {
		return nil, err
	}
	prev, err := s.builder.Weekly(ctx, t.ID, ads, end.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	pays, err := s.builder.PaymentsBySource(ctx, t.ID, cur.Start, cur.End.Add(time.Second))
	if err != nil {
		return nil, err
	}
	return &WeeklyData{
		WeekEnding: end.Format(time.DateOnly),
		Current:    cur,
		Previous:   prev,
		Rates:      RatesFor(cur),
		Change:     ChangeBetween(cur, prev),
		Payments:   pays,
	}, nil
}

// TriggerOptions drive an ad-hoc report. Start and End are inclusive
// calendar days; a zero End means today and a zero Start means six days
// before End. To overrides the tenant's recipients.
type TriggerOptions struct {
	Start   time.Time
	End     time.Time
	To      []string
	Preview bool
}

// Trigger builds a report over an arbitrary range. Without Preview it is
// mailed and never archived.
func (s *Service) Trigger(ctx context.Context, t *model.Tenant, opts TriggerOptions) (*Delivery, error) {
	from, until := Window(s.day(opts.End))
	if !opts.Start.IsZero() {
		from = s.day(opts.Start)
	}
	w, err := s.builder.Range(ctx, t.ID, s.ads.LeadMagnetAdIDs(t), from, until)
	if err != nil {
		return nil, err
	}
	d, err := s.render(ctx, t, w)
	if err != nil {
		return nil, err
	}
	if len(opts.To) > 0 {
		d.Recipients = opts.To
	}
	if opts.Preview {
		return d, nil
	}

	if s.mailer == nil {
		return d, eris.New("report: mail is not configured")
	}
	if len(d.Recipients) == 0 {
		return d, eris.Errorf("report: no recipients for %s", t.Slug)
	}
	if err := s.mailer.Send(d.Recipients, d.Rendered); err != nil {
		return d, eris.Wrapf(err, "report: deliver %s", t.Slug)
	}
	d.Sent = true
	zap.L().Info("report: triggered report sent",
		zap.String("tenant", t.Slug),
		zap.String("range", w.Label),
		zap.Strings("to", d.Recipients),
	)
	return d, nil
}
