// Package backfill repairs orphaned payments and recomputes contact
// purchase aggregates in bulk.
package backfill

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/funnel-cli/internal/contact"
	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/payment"
)

const defaultConcurrency = 4

// Payments is the part of payment.PostgresStore the repairer needs.
type Payments interface {
	ListOrphans(ctx context.Context, f payment.OrphanFilter) ([]model.Payment, error)
	Link(ctx context.Context, q db.Querier, paymentID, contactID, method string, confidence float64) (bool, error)
	ContactsWithPayments(ctx context.Context, tenantID string, onlyMissing bool) ([]string, error)
}

// Resolver matches a payer to a contact.
type Resolver interface {
	ResolveWithRetry(ctx context.Context, id contact.Identity) contact.Result
}

// Updater recomputes a contact's purchase fields inside a transaction.
type Updater interface {
	ApplyPurchase(ctx context.Context, q db.Querier, contactID string, up contact.PurchaseUpdate) (contact.Aggregates, error)
}

// RepairOptions scopes one repair run.
type RepairOptions struct {
	TenantID    string
	Since       time.Time
	Limit       int
	DryRun      bool
	Concurrency int
}

// Change is one payment the run linked, or would link in a dry run.
type Change struct {
	PaymentID      string
	PaymentEventID string
	ContactID      string
	Method         string
	Confidence     float64
	Amount         float64
}

// RepairReport counts the outcome of a repair run.
type RepairReport struct {
	Scanned       int
	Linked        int
	StillOrphaned int
	LookupFailed  int
	Errors        int
	ByMethod      map[string]int
	Changes       []Change
}

// Repairer re-links orphaned payments.
type Repairer struct {
	pool     db.Pool
	payments Payments
	resolver Resolver
	updater  Updater
}

// NewRepairer creates a Repairer.
func NewRepairer(pool db.Pool, payments Payments, resolver Resolver, updater Updater) *Repairer {
	return &Repairer{pool: pool, payments: payments, resolver: resolver, updater: updater}
}

// Run resolves every orphan in scope and links the matches. Each link and
// its aggregate recompute share one transaction. Orphans whose lookup
// failed are counted and left alone. Per-payment errors are counted, not
// returned, so one bad row does not stop the run.
func (r *Repairer) Run(ctx context.Context, opts RepairOptions) (*RepairReport, error) {
	orphans, err := r.payments.ListOrphans(ctx, payment.OrphanFilter{
		TenantID: opts.TenantID,
		Since:    opts.Since,
		Limit:    opts.Limit,
	})
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("tenant", opts.TenantID),
		zap.Int("orphans", len(orphans)),
		zap.Bool("dry_run", opts.DryRun),
	)
	log.Info("backfill: repair starting")
	start := time.Now()

	rep := &RepairReport{Scanned: len(orphans), ByMethod: map[string]int{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency(opts.Concurrency))
	for i := range orphans {
		p := orphans[i]
		g.Go(func() error {
			change, status, err := r.repairOne(gctx, p, opts.DryRun)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				rep.Errors++
				zap.L().Error("backfill: repair failed", zap.String("payment_id", p.ID), zap.Error(err))
			case status == contact.LookupFailed:
				rep.LookupFailed++
			case change == nil:
				rep.StillOrphaned++
			default:
				rep.Linked++
				rep.ByMethod[change.Method]++
				rep.Changes = append(rep.Changes, *change)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, eris.Wrap(err, "backfill: repair run")
	}

	log.Info("backfill: repair complete",
		zap.Int("linked", rep.Linked),
		zap.Int("still_orphaned", rep.StillOrphaned),
		zap.Int("lookup_failed", rep.LookupFailed),
		zap.Int("errors", rep.Errors),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rep, nil
}

// repairOne returns a nil change when the payment stays orphaned.
func (r *Repairer) repairOne(ctx context.Context, p model.Payment, dryRun bool) (*Change, contact.Status, error) {
	res := r.resolver.ResolveWithRetry(ctx, contact.Identity{
		TenantID: p.TenantID,
		Email:    p.CustomerEmail,
		Phone:    p.CustomerPhone,
		Name:     p.CustomerName,
	})
	switch res.Status {
	case contact.LookupFailed:
		zap.L().Warn("backfill: lookup failed, orphan skipped", zap.String("payment_id", p.ID), zap.Error(res.Err))
		return nil, res.Status, nil
	case contact.NotFound:
		return nil, res.Status, nil
	}

	change := &Change{
		PaymentID:      p.ID,
		PaymentEventID: p.PaymentEventID,
		ContactID:      res.ContactID,
		Method:         res.Method,
		Confidence:     res.Confidence,
		Amount:         p.Amount,
	}
	if dryRun {
		return change, res.Status, nil
	}

	linked := false
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		ok, err := r.payments.Link(ctx, tx, p.ID, res.ContactID, res.Method, res.Confidence)
		if err != nil || !ok {
			return err
		}
		linked = true
		if !p.Category.Counts() || !p.Status.Counts() {
			return nil
		}
		_, err = r.updater.ApplyPurchase(ctx, tx, res.ContactID, contact.PurchaseUpdate{
			Category: p.Category,
			Email:    p.CustomerEmail,
		})
		return err
	})
	if err != nil {
		return nil, res.Status, err
	}
	if !linked {
		// Linked by someone else since it was listed.
		return nil, res.Status, nil
	}
	return change, res.Status, nil
}

// RecomputeReport counts a recompute run.
type RecomputeReport struct {
	Contacts int
	Updated  int
	Errors   int
}

// Recompute reapplies purchase aggregates for every contact with counting
// payments. onlyMissing restricts it to contacts without a purchase date.
func (r *Repairer) Recompute(ctx context.Context, tenantID string, onlyMissing bool, workers int) (*RecomputeReport, error) {
	ids, err := r.payments.ContactsWithPayments(ctx, tenantID, onlyMissing)
	if err != nil {
		return nil, err
	}
	rep := &RecomputeReport{Contacts: len(ids)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency(workers))
	for _, id := range ids {
		g.Go(func() error {
			err := db.WithTx(gctx, r.pool, func(tx pgx.Tx) error {
				_, err := r.updater.ApplyPurchase(gctx, tx, id, contact.PurchaseUpdate{})
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Errors++
				zap.L().Error("backfill: recompute failed", zap.String("contact_id", id), zap.Error(err))
				return nil
			}
			rep.Updated++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, eris.Wrap(err, "backfill: recompute run")
	}
	zap.L().Info("backfill: recompute complete",
		zap.String("tenant", tenantID),
		zap.Int("contacts", rep.Contacts),
		zap.Int("updated", rep.Updated),
		zap.Int("errors", rep.Errors),
	)
	return rep, nil
}

func concurrency(n int) int {
	if n <= 0 {
		return defaultConcurrency
	}
	return n
}
