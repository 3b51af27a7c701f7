// Package webhook receives provider callbacks, records payments and funnel
// events, and appends one webhook log row per call.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/contact"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/monitoring"
	"github.com/sells-group/funnel-cli/internal/payment"
	"github.com/sells-group/funnel-cli/internal/tenant"
	"github.com/sells-group/funnel-cli/pkg/manychat"
)

// ErrBadSignature is returned when a Stripe-Signature header is missing or
// does not verify.
var ErrBadSignature = errors.New("webhook: bad signature")

// Tenants resolves the tenant in the URL and its provider secrets.
type Tenants interface {
	Active(ctx context.Context, slug string) (*model.Tenant, error)
	StripeWebhookSecret(ctx context.Context, t *model.Tenant) (string, error)
	ManyChatAPIKey(ctx context.Context, t *model.Tenant) (string, error)
}

// Payments records payment events.
type Payments interface {
	Record(ctx context.Context, in payment.Input) (payment.Outcome, error)
}

// Linker finds or creates contacts by exact identifiers.
type Linker interface {
	FindOrCreate(ctx context.Context, seed *model.Contact) (string, bool, error)
}

// Resolver matches contacts by exact identifiers only.
type Resolver interface {
	ResolveExact(ctx context.Context, id contact.Identity) contact.Result
}

// Events applies funnel events to contacts.
type Events interface {
	ApplyEvent(ctx context.Context, contactID string, ev model.ContactEvent) (bool, error)
}

// Contacts reads contacts.
type Contacts interface {
	Get(ctx context.Context, id string) (*model.Contact, error)
}

// CAPI queues Conversions API events.
type CAPI interface {
	Enqueue(ctx context.Context, ev *model.CAPIEvent) (string, error)
}

// Logs appends webhook log rows.
type Logs interface {
	Append(ctx context.Context, l *model.WebhookLog) error
}

// Deps are the collaborators a Handler needs. CAPI and ManyChat are
// optional.
type Deps struct {
	Tenants  Tenants
	Payments Payments
	Linker   Linker
	Resolver Resolver
	Events   Events
	Contacts Contacts
	Logs     Logs
	CAPI     CAPI
	ManyChat manychat.Client

	ManyChatTimeout time.Duration
	MaxBodyBytes    int64
}

// Handler serves the provider webhook routes.
type Handler struct {
	Deps
}

// New creates a Handler.
func New(d Deps) *Handler {
	if d.ManyChatTimeout <= 0 {
		d.ManyChatTimeout = 5 * time.Second
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 1 << 20
	}
	return &Handler{Deps: d}
}

// Routes mounts the webhook endpoints on r. The Denefits route is left out
// when denefits is false.
func (h *Handler) Routes(r chi.Router, denefits bool) {
	r.Post("/api/webhooks", h.handleManyChat)
	r.Route("/api/webhooks/{tenant}", func(r chi.Router) {
		r.Post("/stripe", h.handleStripe)
		r.Post("/manychat", h.handleManyChat)
		r.Post("/ghl", h.handleGHL)
		r.Post("/perspective", h.handlePerspective)
		if denefits {
			r.Post("/denefits", h.handleDenefits)
		}
	})
}

// result is what a provider handler reports back for logging and the
// response body.
type result struct {
	status model.WebhookStatus
	fields map[string]any
}

func done(status model.WebhookStatus, kv ...any) result {
	r := result{status: status, fields: map[string]any{}}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			r.fields[k] = kv[i+1]
		}
	}
	return r
}

// payloadError marks input the caller must fix. It maps to 400.
type payloadError struct {
	msg string
}

func (e *payloadError) Error() string { return e.msg }

func badPayload(msg string) error { return &payloadError{msg: msg} }

// call carries one request through tenant lookup, body read and logging.
type call struct {
	h      *Handler
	w      http.ResponseWriter
	r      *http.Request
	tenant *model.Tenant
	body   []byte
	entry  *model.WebhookLog
}

// begin resolves the tenant and reads the body. It writes the response and
// returns nil when the request cannot proceed.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request, source string) *call {
	slug := chi.URLParam(r, "tenant")
	t, err := h.Tenants.Active(r.Context(), slug)
	if errors.Is(err, tenant.ErrNotFound) {
		monitoring.RecordWebhook(source, "unknown_tenant")
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "unknown tenant"})
		return nil
	}
	if err != nil {
		zap.L().Error("webhook: tenant lookup failed", zap.String("source", source), zap.Error(err))
		monitoring.RecordWebhook(source, string(model.WebhookError))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "tenant lookup failed"})
		return nil
	}

	c := &call{
		h:      h,
		w:      w,
		r:      r,
		tenant: t,
		entry:  &model.WebhookLog{TenantID: t.ID, Source: source},
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.MaxBodyBytes))
	if err != nil {
		c.finish(result{}, badPayload("unreadable body"))
		return nil
	}
	c.body = body
	if json.Valid(body) {
		c.entry.Payload = body
	}
	return c
}

// finish writes the webhook log row and the response.
func (c *call) finish(res result, err error) {
	e := c.entry
	code := http.StatusOK
	resp := map[string]any{"success": true}

	var pe *payloadError
	switch {
	case err == nil:
		e.Status = res.status
		for k, v := range res.fields {
			resp[k] = v
		}
	case errors.As(err, &pe), errors.Is(err, ErrBadSignature):
		e.Status = model.WebhookError
		e.ErrorMessage = err.Error()
		code = http.StatusBadRequest
		resp = map[string]any{"success": false, "error": err.Error()}
	default:
		e.Status = model.WebhookError
		e.ErrorMessage = err.Error()
		code = http.StatusInternalServerError
		resp = map[string]any{"success": false, "error": "processing failed"}
	}

	log := zap.L().With(
		zap.String("tenant", e.TenantID),
		zap.String("source", e.Source),
		zap.String("event_type", e.EventType),
		zap.String("status", string(e.Status)),
	)
	switch {
	case code >= 500:
		log.Error("webhook: processing failed", zap.Error(err))
	case code >= 400:
		log.Warn("webhook: rejected", zap.Error(err))
	default:
		log.Info("webhook: handled", zap.String("contact_id", e.ContactID), zap.String("payment_event_id", e.PaymentEventID))
	}

	// The log row must survive a client that hung up mid-request.
	ctx := context.WithoutCancel(c.r.Context())
	if lerr := c.h.Logs.Append(ctx, e); lerr != nil {
		zap.L().Warn("webhook: log write failed", zap.String("source", e.Source), zap.Error(lerr))
	}
	monitoring.RecordWebhook(e.Source, string(e.Status))
	writeJSON(c.w, code, resp)
}

func (h *Handler) enqueueCAPI(ctx context.Context, ev *model.CAPIEvent) {
	if h.CAPI == nil || ev == nil {
		return
	}
	if _, err := h.CAPI.Enqueue(ctx, ev); err != nil {
		zap.L().Warn("webhook: capi enqueue failed",
			zap.String("tenant", ev.TenantID),
			zap.String("event", string(ev.EventName)),
			zap.Error(err),
		)
	}
}

// userData builds CAPI identity fields from a stored contact, filling gaps
// from the fallbacks carried by the webhook.
func (h *Handler) userData(ctx context.Context, contactID string, fallback model.CAPIUserData) (model.CAPIUserData, string) {
	u := fallback
	u.ExternalID = contactID
	if h.Contacts == nil {
		return u, ""
	}
	c, err := h.Contacts.Get(ctx, contactID)
	if err != nil || c == nil {
		if err != nil {
			zap.L().Warn("webhook: contact read for capi failed", zap.String("contact_id", contactID), zap.Error(err))
		}
		return u, ""
	}
	u.Email = firstNonEmpty(u.Email, c.BestEmail())
	u.Phone = firstNonEmpty(c.Phone, u.Phone)
	u.FirstName = firstNonEmpty(c.FirstName, u.FirstName)
	u.LastName = firstNonEmpty(c.LastName, u.LastName)
	return u, c.AdID
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("webhook: write response", zap.Error(err))
	}
}

// decodeObject parses a JSON object, unwrapping a one-element array the way
// Make.com and GHL workflows deliver them.
func decodeObject(body []byte) (object, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, badPayload("invalid JSON body")
	}
	if arr, ok := raw.([]any); ok {
		if len(arr) == 0 {
			return nil, badPayload("empty payload array")
		}
		raw = arr[0]
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, badPayload("payload is not an object")
	}
	return object(obj), nil
}

func wrapProcessing(err error, what string) error {
	var pe *payloadError
	if errors.As(err, &pe) {
		return err
	}
	return eris.Wrap(err, "webhook: "+what)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
