package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/sells-group/funnel-cli/internal/contact"
	"github.com/sells-group/funnel-cli/internal/metaads"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/payment"
)

func (h *Handler) handleStripe(w http.ResponseWriter, r *http.Request) {
	c := h.begin(w, r, model.SourceStripe)
	if c == nil {
		return
	}
	res, err := h.processStripe(r.Context(), c, r.Header.Get("Stripe-Signature"))
	c.finish(res, err)
}

// verifyStripe checks the signature against the tenant's secret. API
// version mismatches are tolerated because only stable fields are read.
func (h *Handler) verifyStripe(ctx context.Context, c *call, sig string) (stripe.Event, error) {
	if sig == "" {
		return stripe.Event{}, ErrBadSignature
	}
	secret, err := h.Tenants.StripeWebhookSecret(ctx, c.tenant)
	if err != nil {
		return stripe.Event{}, eris.Wrap(err, "webhook: stripe secret")
	}
	if secret == "" {
		return stripe.Event{}, eris.New("webhook: stripe webhook secret is not configured")
	}
	ev, err := webhook.ConstructEventWithOptions(c.body, sig, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, ErrBadSignature
	}
	return ev, nil
}

func (h *Handler) processStripe(ctx context.Context, c *call, sig string) (result, error) {
	ev, err := h.verifyStripe(ctx, c, sig)
	if err != nil {
		return result{}, err
	}
	c.entry.EventType = string(ev.Type)

	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return h.stripeCheckoutCompleted(ctx, c, ev)
	case stripe.EventType("checkout.session.created"), stripe.EventTypeCheckoutSessionExpired:
		return h.stripeCheckoutStarted(ctx, c, ev)
	case stripe.EventTypeChargeRefunded:
		return h.stripeRefund(ctx, c, ev)
	default:
		return done(model.WebhookSkipped, "event_type", string(ev.Type)), nil
	}
}

func decodeEventObject(ev stripe.Event, dst any) error {
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return badPayload("stripe event has no data object")
	}
	if err := json.Unmarshal(ev.Data.Raw, dst); err != nil {
		return badPayload("stripe event data object is malformed")
	}
	return nil
}

// cents converts a Stripe minor-unit amount to dollars.
func cents(v int64) float64 {
	return float64(v) / 100
}

func eventTime(ev stripe.Event) time.Time {
	if ev.Created == 0 {
		return time.Now().UTC()
	}
	return time.Unix(ev.Created, 0).UTC()
}

func outcomeStatus(out payment.Outcome) model.WebhookStatus {
	switch {
	case out.Duplicate:
		return model.WebhookDuplicate
	case out.Orphan:
		return model.WebhookProcessedOrphan
	default:
		return model.WebhookProcessed
	}
}

func (h *Handler) stripeCheckoutCompleted(ctx context.Context, c *call, ev stripe.Event) (result, error) {
	var s stripe.CheckoutSession
	if err := decodeEventObject(ev, &s); err != nil {
		return result{}, err
	}

	email := s.CustomerEmail
	var name, phone string
	if d := s.CustomerDetails; d != nil {
		email = firstNonEmpty(email, d.Email)
		name, phone = d.Name, d.Phone
	}
	var customerID string
	if s.Customer != nil {
		customerID = s.Customer.ID
	}
	amount := cents(s.AmountTotal)

	in := payment.Input{
		TenantID:         c.tenant.ID,
		EventID:          ev.ID,
		Email:            email,
		Name:             name,
		Phone:            phone,
		Amount:           amount,
		Currency:         string(s.Currency),
		PaidAt:           eventTime(ev),
		Status:           model.PaymentStatusPaid,
		Source:           model.PaymentSourceStripe,
		Type:             "buy_in_full",
		Category:         model.CategorizeCheckout(amount),
		StripeSessionID:  s.ID,
		StripeCustomerID: customerID,
		Raw:              c.body,
	}
	c.entry.PaymentEventID = in.EventID

	out, err := h.Payments.Record(ctx, in)
	if err != nil {
		return result{}, err
	}
	c.entry.ContactID = out.ContactID

	if !out.Duplicate && !out.Orphan && (in.Category == model.CategoryDeposit || in.Category == model.CategoryFullPurchase) {
		first, last := contact.SplitName(name)
		user, adID := h.userData(ctx, out.ContactID, model.CAPIUserData{Email: email, Phone: phone, FirstName: first, LastName: last})
		capi := metaads.PurchaseEvent(c.tenant.ID, out.ContactID, user, amount, in.EventID)
		capi.AdID = adID
		capi.ContentName = "Stripe Purchase"
		h.enqueueCAPI(ctx, capi)
	}

	return done(outcomeStatus(out),
		"payment_id", out.PaymentID,
		"contact_id", out.ContactID,
		"category", string(in.Category),
		"duplicate", out.Duplicate,
		"orphan", out.Orphan,
	), nil
}

// stripeCheckoutStarted stamps checkout_started_date on a contact matched
// by email. Sessions without a known contact are skipped.
func (h *Handler) stripeCheckoutStarted(ctx context.Context, c *call, ev stripe.Event) (result, error) {
	var s stripe.CheckoutSession
	if err := decodeEventObject(ev, &s); err != nil {
		return result{}, err
	}
	email := strings.TrimSpace(s.CustomerEmail)
	if email == "" {
		return done(model.WebhookSkipped, "reason", "no customer email"), nil
	}

	res := h.Resolver.ResolveExact(ctx, contact.Identity{TenantID: c.tenant.ID, Email: email})
	switch res.Status {
	case contact.LookupFailed:
		return result{}, res.Err
	case contact.NotFound:
		return done(model.WebhookSkipped, "reason", "no matching contact"), nil
	}
	c.entry.ContactID = res.ContactID

	prefix := "stripe_checkout_"
	if ev.Type == stripe.EventTypeCheckoutSessionExpired {
		prefix = "stripe_checkout_expired_"
	}
	applied, err := h.Events.ApplyEvent(ctx, res.ContactID, model.ContactEvent{
		Type:          model.EventCheckoutStarted,
		Source:        model.SourceStripe,
		SourceEventID: prefix + s.ID,
		OccurredAt:    eventTime(ev),
		Payload:       c.body,
	})
	if err != nil {
		return result{}, err
	}
	status := model.WebhookProcessed
	if !applied {
		status = model.WebhookDuplicate
	}
	return done(status, "contact_id", res.ContactID), nil
}

// refundDelta picks the idempotency key and amount for one charge.refunded
// delivery. amount_refunded is cumulative across partial refunds, so the
// newest refund object is recorded under its own id when the charge lists
// its refunds, and the change from previous_attributes otherwise.
func refundDelta(ev stripe.Event, ch *stripe.Charge) (string, int64) {
	if ch.Refunds != nil {
		var latest *stripe.Refund
		for _, r := range ch.Refunds.Data {
			if r != nil && r.ID != "" && (latest == nil || r.Created > latest.Created) {
				latest = r
			}
		}
		if latest != nil && latest.Amount > 0 {
			return latest.ID, latest.Amount
		}
	}
	amount := ch.AmountRefunded
	if ev.Data != nil {
		if prev, ok := ev.Data.PreviousAttributes["amount_refunded"].(float64); ok && int64(prev) < amount {
			amount -= int64(prev)
		}
	}
	return ev.ID, amount
}

// stripeRefund records the newest refund as a negative payment, which also
// recomputes the contact's purchase amount.
func (h *Handler) stripeRefund(ctx context.Context, c *call, ev stripe.Event) (result, error) {
	var ch stripe.Charge
	if err := decodeEventObject(ev, &ch); err != nil {
		return result{}, err
	}
	var email, name, phone string
	if b := ch.BillingDetails; b != nil {
		email, name, phone = b.Email, b.Name, b.Phone
	}
	email = firstNonEmpty(email, ch.ReceiptEmail)
	var customerID string
	if ch.Customer != nil {
		customerID = ch.Customer.ID
	}

	eventID, refunded := refundDelta(ev, &ch)
	in := payment.Input{
		TenantID:         c.tenant.ID,
		EventID:          eventID,
		Email:            email,
		Name:             name,
		Phone:            phone,
		Amount:           -cents(refunded),
		Currency:         string(ch.Currency),
		PaidAt:           eventTime(ev),
		Status:           model.PaymentStatusRefunded,
		Source:           model.PaymentSourceStripe,
		Type:             "refund",
		Category:         model.CategoryRefund,
		StripeCustomerID: customerID,
		Raw:              c.body,
	}
	c.entry.PaymentEventID = in.EventID

	out, err := h.Payments.Record(ctx, in)
	if err != nil {
		return result{}, err
	}
	c.entry.ContactID = out.ContactID
	return done(outcomeStatus(out),
		"payment_id", out.PaymentID,
		"contact_id", out.ContactID,
		"refund", -in.Amount,
		"duplicate", out.Duplicate,
	), nil
}
