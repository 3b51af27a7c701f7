// Package contact resolves identity fields to contacts and maintains the
// contact's funnel stage and purchase aggregates.
package contact

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/monitoring"
	"github.com/sells-group/funnel-cli/internal/resilience"
)

// Status tags a resolver result.
type Status int

const (
	// NotFound means every pass ran cleanly and none matched.
	NotFound Status = iota
	// Matched carries the contact id.
	Matched
	// LookupFailed means a query errored; the cascade stopped early.
	LookupFailed
)

func (s Status) String() string {
	switch s {
	case Matched:
		return "matched"
	case LookupFailed:
		return "lookup_failed"
	default:
		return "not_found"
	}
}

// Identity is the set of optional fields a payment or webhook carries.
type Identity struct {
	TenantID string
	Email    string
	Phone    string
	MCID     string
	GHLID    string
	Name     string
}

// Result is the outcome of one resolution.
type Result struct {
	Status     Status
	ContactID  string
	Method     string
	Confidence float64
	// Candidates is how many contacts matched the winning pass.
	Candidates int
	Err        error
}

func notFound() Result {
	return Result{Status: NotFound, Method: model.MatchMethodNotMatched}
}

// Resolver runs the identity cascade against a db.Querier.
type Resolver struct {
	q               db.Querier
	nameSimilarity  float64
	retry           resilience.RetryConfig
	retryOnNotFound bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithNameSimilarity sets the trigram threshold for the fuzzy name pass.
func WithNameSimilarity(threshold float64) Option {
	return func(r *Resolver) {
		if threshold > 0 {
			r.nameSimilarity = threshold
		}
	}
}

// WithRetry enables ResolveWithRetry backoff. onNotFound also retries clean
// misses, covering payments that arrive before the CRM creates the contact.
func WithRetry(cfg resilience.RetryConfig, onNotFound bool) Option {
	return func(r *Resolver) {
		r.retry = cfg
		r.retryOnNotFound = onNotFound
	}
}

// NewResolver creates a resolver. Without WithRetry, ResolveWithRetry runs once.
func NewResolver(q db.Querier, opts ...Option) *Resolver {
	r := &Resolver{
		q:              q,
		nameSimilarity: 0.6,
		retry:          resilience.RetryConfig{MaxAttempts: 1},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// WithQuerier returns a copy bound to q, typically an open transaction.
func (r *Resolver) WithQuerier(q db.Querier) *Resolver {
	cp := *r
	cp.q = q
	return &cp
}

// ForBatch returns a copy that still retries transient failures but treats
// NotFound as final. Offline runs over historical rows use it: a contact
// that is missing now will not appear a few seconds later.
func (r *Resolver) ForBatch() *Resolver {
	cp := *r
	cp.retryOnNotFound = false
	return &cp
}

const rankedPrefix = `SELECT id, count(*) OVER () FROM contacts WHERE tenant_id = $1 AND `
const rankedSuffix = ` ORDER BY created_at ASC, id ASC LIMIT 1`

const foldedNameExpr = `lower(f_unaccent(coalesce(first_name, '') || ' ' || coalesce(last_name, '')))`

type pass struct {
	method     string
	confidence float64
	where      string
	args       []any
}

// exactPasses are the identifier and email passes.
func exactPasses(id Identity) []pass {
	var ps []pass
	if v := strings.TrimSpace(id.MCID); v != "" {
		ps = append(ps, pass{model.MatchMethodMCID, 1.0, `mc_id = $2`, []any{v}})
	}
	if v := strings.TrimSpace(id.GHLID); v != "" {
		ps = append(ps, pass{model.MatchMethodGHLID, 1.0, `ghl_id = $2`, []any{v}})
	}
	if v := NormalizeEmail(id.Email); v != "" {
		ps = append(ps, pass{model.MatchMethodEmail, 1.0,
			`(lower(trim(email_primary)) = $2 OR lower(trim(email_booking)) = $2 OR lower(trim(email_payment)) = $2)`,
			[]any{v}})
	}
	return ps
}

func (r *Resolver) allPasses(id Identity) []pass {
	ps := exactPasses(id)
	if key := phoneKey(NormalizePhone(id.Phone)); key != "" {
		ps = append(ps, pass{model.MatchMethodPhone, 0.95,
			`right(regexp_replace(coalesce(phone, ''), '[^0-9]', '', 'g'), 10) = $2`,
			[]any{key}})
	}
	if name := FoldName(id.Name); len(strings.Fields(name)) >= 2 {
		ps = append(ps, pass{model.MatchMethodNameFuzzy, 0.85,
			`(` + foldedNameExpr + ` LIKE '%' || $2 || '%' OR similarity(` + foldedNameExpr + `, $3) >= $4)`,
			[]any{escapeLike(name), name, r.nameSimilarity}})
	}
	return ps
}

// Resolve runs the full cascade: external ids, email, phone, fuzzy name.
// The first pass with a hit wins. A query error stops the cascade with
// LookupFailed and is never reported as NotFound.
func (r *Resolver) Resolve(ctx context.Context, id Identity) Result {
	return r.run(ctx, id, r.allPasses(id))
}

// ResolveExact runs only the external id and email passes. Webhook
// find-or-create uses it so a fuzzy hit never merges two people.
func (r *Resolver) ResolveExact(ctx context.Context, id Identity) Result {
	return r.run(ctx, id, exactPasses(id))
}

func (r *Resolver) run(ctx context.Context, id Identity, passes []pass) Result {
	res := r.cascade(ctx, id, passes)
	monitoring.RecordResolve(res.Method, res.Status.String())
	return res
}

func (r *Resolver) cascade(ctx context.Context, id Identity, passes []pass) Result {
	if id.TenantID == "" {
		return Result{Status: LookupFailed, Method: model.MatchMethodNotMatched, Err: eris.New("contact: tenant id is required")}
	}
	log := zap.L().With(zap.String("tenant", id.TenantID))

	for _, p := range passes {
		args := append([]any{id.TenantID}, p.args...)
		var contactID string
		var n int
		err := r.q.QueryRow(ctx, rankedPrefix+p.where+rankedSuffix, args...).Scan(&contactID, &n)
		if errors.Is(err, pgx.ErrNoRows) {
			log.Debug("resolve: no match", zap.String("match_method", p.method))
			continue
		}
		if err != nil {
			log.Warn("resolve: lookup failed", zap.String("match_method", p.method), zap.Error(err))
			return Result{
				Status: LookupFailed,
				Method: model.MatchMethodNotMatched,
				Err:    eris.Wrapf(err, "contact: resolve by %s", p.method),
			}
		}
		if n > 1 {
			log.Warn("resolve: ambiguous match, taking oldest",
				zap.String("match_method", p.method),
				zap.Int("candidates", n),
				zap.String("contact_id", contactID),
			)
		}
		log.Debug("resolve: matched",
			zap.String("match_method", p.method),
			zap.String("contact_id", contactID),
		)
		return Result{
			Status:     Matched,
			ContactID:  contactID,
			Method:     p.method,
			Confidence: p.confidence,
			Candidates: n,
		}
	}
	return notFound()
}

var errNotFound = errors.New("contact: not found")

// ResolveWithRetry re-runs Resolve with backoff on a transient LookupFailed
// and, when configured, on NotFound.
func (r *Resolver) ResolveWithRetry(ctx context.Context, id Identity) Result {
	if r.retry.MaxAttempts <= 1 {
		return r.Resolve(ctx, id)
	}

	cfg := r.retry
	cfg.ShouldRetry = func(err error) bool {
		if errors.Is(err, errNotFound) {
			return r.retryOnNotFound
		}
		return resilience.IsTransient(err)
	}
	cfg.OnRetry = resilience.RetryLogger("resolver", "resolve")

	res, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (Result, error) {
		res := r.Resolve(ctx, id)
		switch res.Status {
		case NotFound:
			return res, errNotFound
		case LookupFailed:
			return res, res.Err
		}
		return res, nil
	})
	switch {
	case err == nil:
		return res
	case errors.Is(err, errNotFound):
		return notFound()
	default:
		return Result{Status: LookupFailed, Method: model.MatchMethodNotMatched, Err: err}
	}
}
