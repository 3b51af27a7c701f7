// Package cron exposes scheduled jobs and report endpoints over
// authenticated HTTP.
package cron

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/metaads"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/report"
	"github.com/sells-group/funnel-cli/internal/tenant"
)

// CentnerSlug is the tenant served by the dedicated Centner report route.
const CentnerSlug = "centner"

// Tenants resolves tenants and their Meta credentials.
type Tenants interface {
	Active(ctx context.Context, slug string) (*model.Tenant, error)
	Meta(ctx context.Context, t *model.Tenant) (tenant.MetaCredentials, error)
}

// Reports runs the reports for one tenant.
type Reports interface {
	RunWeekly(ctx context.Context, t *model.Tenant, end time.Time) (*report.Delivery, error)
	RunMonthly(ctx context.Context, t *model.Tenant, end time.Time, opts report.MonthlyOptions) (*report.MonthlyDelivery, error)
	WeeklyData(ctx context.Context, t *model.Tenant, weekEnding time.Time) (*report.WeeklyData, error)
	Trigger(ctx context.Context, t *model.Tenant, opts report.TriggerOptions) (*report.Delivery, error)
}

// Syncer pulls Meta insights for one tenant.
type Syncer interface {
	Sync(ctx context.Context, tenantID string, creds tenant.MetaCredentials) (metaads.SyncResult, error)
}

// Flusher sends pending Conversions API events.
type Flusher interface {
	Flush(ctx context.Context, limit int) (metaads.FlushResult, error)
}

// Deps are the jobs the endpoints trigger. Nil jobs answer 503. AdminSecret
// guards /api/admin; empty answers 503 there.
type Deps struct {
	Tenants     Tenants
	Reports     Reports
	Syncer      Syncer
	Flusher     Flusher
	FlushBatch  int
	AdminSecret string
}

// Handler serves /api/cron.
type Handler struct {
	Deps
	secret string
}

// New creates a Handler. An empty secret rejects every request.
func New(secret string, d Deps) *Handler {
	if d.FlushBatch <= 0 {
		d.FlushBatch = 100
	}
	return &Handler{Deps: d, secret: secret}
}

// Routes mounts every endpoint on r. Admin routes use their own secret.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/cron", func(r chi.Router) {
		r.Use(bearer(h.secret))
		r.Get("/weekly-report", h.weeklyReport)
		r.Get("/centner-weekly-report", h.centnerReport)
		r.Get("/monthly-report", h.monthlyReport)
		r.Get("/sync-meta-ads", h.syncMetaAds)
		r.Get("/flush-capi", h.flushCAPI)
	})
	r.Route("/api/reports", func(r chi.Router) {
		r.Use(bearer(h.secret))
		r.Get("/weekly-data", h.weeklyData)
		r.Post("/weekly-data", h.weeklyData)
	})
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.adminEnabled, bearer(h.AdminSecret))
		r.Get("/trigger-report", h.triggerReport)
		r.Post("/trigger-report", h.triggerReport)
	})
}

// bearer rejects requests whose bearer token is not secret. An empty secret
// rejects every request.
func bearer(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if secret == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) adminEnabled(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.AdminSecret == "" {
			notConfigured(w, "admin endpoint")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) weeklyReport(w http.ResponseWriter, r *http.Request) {
	h.runReport(w, r, r.URL.Query().Get("tenant"))
}

func (h *Handler) centnerReport(w http.ResponseWriter, r *http.Request) {
	h.runReport(w, r, CentnerSlug)
}

func (h *Handler) runReport(w http.ResponseWriter, r *http.Request, slug string) {
	if h.Reports == nil {
		notConfigured(w, "weekly report")
		return
	}
	t, ok := h.tenant(w, r, slug)
	if !ok {
		return
	}
	d, err := h.Reports.RunWeekly(r.Context(), t, time.Time{})
	if err != nil {
		zap.L().Error("cron: weekly report failed", zap.String("tenant", t.Slug), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	wk := d.Weekly
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"tenant":     t.Slug,
		"week":       wk.Label,
		"sent":       d.Sent,
		"recipients": d.Recipients,
		"metrics": map[string]any{
			"leads":     wk.Activity.Leads,
			"purchased": wk.Activity.Purchased,
			"revenue":   wk.Revenue,
			"ad_spend":  wk.AdSpend,
			"roas":      wk.ROAS,
		},
	})
}

func (h *Handler) monthlyReport(w http.ResponseWriter, r *http.Request) {
	if h.Reports == nil {
		notConfigured(w, "monthly report")
		return
	}
	q := r.URL.Query()
	t, ok := h.tenant(w, r, q.Get("tenant"))
	if !ok {
		return
	}
	opts := report.MonthlyOptions{Test: q.Get("test") == "true", Intro: q.Get("intro") == "true"}
	d, err := h.Reports.RunMonthly(r.Context(), t, time.Time{}, opts)
	if err != nil {
		zap.L().Error("cron: monthly report failed", zap.String("tenant", t.Slug), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	m := d.Monthly
	weeks := make([]map[string]any, 0, len(m.Weeks))
	for _, wk := range m.Weeks {
		weeks = append(weeks, map[string]any{"week": wk.Label, "leads": wk.Activity.Leads, "purchased": wk.Activity.Purchased, "revenue": wk.Revenue})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"tenant":     t.Slug,
		"period":     m.Label,
		"test":       opts.Test,
		"sent":       d.Sent,
		"recipients": d.Recipients,
		"contacts":   len(m.Contacts),
		"weeks":      weeks,
		"totals": map[string]any{
			"leads":     m.Totals.Leads,
			"purchased": m.Totals.Purchased,
			"revenue":   m.Revenue,
			"ad_spend":  m.AdSpend,
			"roas":      m.ROAS,
		},
	})
}

func (h *Handler) weeklyData(w http.ResponseWriter, r *http.Request) {
	if h.Reports == nil {
		notConfigured(w, "weekly data")
		return
	}
	q := r.URL.Query()
	end, ok := dateParam(w, q.Get("week_ending"), "week_ending")
	if !ok {
		return
	}
	t, ok := h.tenant(w, r, q.Get("tenant"))
	if !ok {
		return
	}
	data, err := h.Reports.WeeklyData(r.Context(), t, end)
	if err != nil {
		zap.L().Error("cron: weekly data failed", zap.String("tenant", t.Slug), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tenant": t.Slug, "data": data})
}

func (h *Handler) triggerReport(w http.ResponseWriter, r *http.Request) {
	if h.Reports == nil {
		notConfigured(w, "report trigger")
		return
	}
	q := r.URL.Query()
	start, ok := dateParam(w, q.Get("start"), "start")
	if !ok {
		return
	}
	end, ok := dateParam(w, q.Get("end"), "end")
	if !ok {
		return
	}
	t, ok := h.tenant(w, r, q.Get("tenant"))
	if !ok {
		return
	}
	opts := report.TriggerOptions{Start: start, End: end, Preview: q.Get("preview") == "true"}
	if to := strings.TrimSpace(q.Get("to")); to != "" {
		opts.To = strings.Split(to, ",")
	}

	d, err := h.Reports.Trigger(r.Context(), t, opts)
	if err != nil {
		zap.L().Error("admin: trigger report failed", zap.String("tenant", t.Slug), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if opts.Preview {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(d.Rendered.HTML))
		return
	}
	wk := d.Weekly
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tenant":  t.Slug,
		"summary": map[string]any{
			"range":     wk.Label,
			"leads":     wk.Activity.Leads,
			"purchased": wk.Activity.Purchased,
			"revenue":   wk.Revenue,
			"ad_spend":  wk.AdSpend,
			"roas":      wk.ROAS,
		},
		"email": map[string]any{
			"to":      d.Recipients,
			"subject": d.Rendered.Subject,
			"sent":    d.Sent,
		},
	})
}

// dateParam parses an optional YYYY-MM-DD query value. It answers 400 and
// returns false on a malformed value.
func dateParam(w http.ResponseWriter, v, name string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, true
	}
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": name + " must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return d, true
}

func (h *Handler) syncMetaAds(w http.ResponseWriter, r *http.Request) {
	if h.Syncer == nil {
		notConfigured(w, "meta ads sync")
		return
	}
	t, ok := h.tenant(w, r, r.URL.Query().Get("tenant"))
	if !ok {
		return
	}
	creds, err := h.Tenants.Meta(r.Context(), t)
	if err != nil {
		zap.L().Error("cron: meta credentials", zap.String("tenant", t.Slug), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "meta credentials unavailable"})
		return
	}
	res, err := h.Syncer.Sync(r.Context(), t.ID, creds)
	if err != nil {
		zap.L().Error("cron: meta ads sync failed", zap.String("tenant", t.Slug), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"tenant":        t.Slug,
		"snapshot_date": res.SnapshotDate.Format(time.DateOnly),
		"ads":           res.Ads,
		"insights":      res.Insights,
		"spend":         res.Spend,
		"leads":         res.Leads,
	})
}

func (h *Handler) flushCAPI(w http.ResponseWriter, r *http.Request) {
	if h.Flusher == nil {
		notConfigured(w, "capi flush")
		return
	}
	res, err := h.Flusher.Flush(r.Context(), h.FlushBatch)
	if err != nil {
		zap.L().Error("cron: capi flush failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sent": res.Sent, "failed": res.Failed})
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request, slug string) (*model.Tenant, bool) {
	t, err := h.Tenants.Active(r.Context(), slug)
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "unknown tenant"})
		return nil, false
	case err != nil:
		zap.L().Error("cron: tenant lookup", zap.String("slug", slug), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "tenant lookup failed"})
		return nil, false
	}
	return t, true
}

func notConfigured(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": what + " is not configured"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
