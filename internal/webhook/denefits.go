package webhook

import (
	"context"
	"net/http"
	"strings"

	"github.com/sells-group/funnel-cli/internal/contact"
	"github.com/sells-group/funnel-cli/internal/metaads"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/payment"
)

const (
	denefitsContractCreated  = "contract.created"
	denefitsRecurringPayment = "contract.payments.recurring_payment"
	denefitsPaymentType      = "buy_now_pay_later"
)

func (h *Handler) handleDenefits(w http.ResponseWriter, r *http.Request) {
	c := h.begin(w, r, model.SourceDenefits)
	if c == nil {
		return
	}
	res, err := h.processDenefits(r.Context(), c)
	c.finish(res, err)
}

func (h *Handler) processDenefits(ctx context.Context, c *call) (result, error) {
	body, err := decodeObject(c.body)
	if err != nil {
		return result{}, err
	}
	typ := body.str("webhook_type", "event_type", "type")
	c.entry.EventType = typ

	if typ != denefitsContractCreated && typ != denefitsRecurringPayment {
		return done(model.WebhookSkipped, "event_type", typ), nil
	}

	contract := body.obj("data").obj("contract")
	if len(contract) == 0 {
		contract = body
	}

	eventID := contract.str("contract_code")
	if eventID == "" {
		if id := contract.str("contract_id"); id != "" {
			eventID = "denefits_" + id
		}
	}
	if eventID == "" {
		return result{}, badPayload("denefits contract has no contract_code or contract_id")
	}
	c.entry.PaymentEventID = eventID

	email := contract.str("customer_email", "email")
	if email == "" {
		email = contract.obj("customer").str("email")
	}
	name := strings.TrimSpace(contract.str("customer_first_name") + " " + contract.str("customer_last_name"))
	phone := contract.str("customer_mobile", "customer_phone")
	amount := contract.num("financed_amount", "amount")

	in := payment.Input{
		TenantID:             c.tenant.ID,
		EventID:              eventID,
		Email:                email,
		Name:                 name,
		Phone:                phone,
		Amount:               amount,
		Currency:             "usd",
		PaidAt:               parseTime(contract.str("date_added")),
		Status:               model.PaymentStatusActive,
		Source:               model.PaymentSourceDenefits,
		Type:                 denefitsPaymentType,
		Category:             model.CategoryBNPL,
		DenefitsContractCode: contract.str("contract_code"),
		Raw:                  c.body,
	}
	out, err := h.Payments.Record(ctx, in)
	if err != nil {
		return result{}, err
	}
	c.entry.ContactID = out.ContactID

	if typ == denefitsContractCreated && !out.Duplicate && !out.Orphan {
		first, last := contact.SplitName(name)
		user, adID := h.userData(ctx, out.ContactID, model.CAPIUserData{Email: email, Phone: phone, FirstName: first, LastName: last})
		capi := metaads.PurchaseEvent(c.tenant.ID, out.ContactID, user, amount, eventID)
		capi.AdID = adID
		capi.ContentName = "Denefits Financing"
		h.enqueueCAPI(ctx, capi)
	}

	return done(outcomeStatus(out),
		"payment_id", out.PaymentID,
		"contact_id", out.ContactID,
		"duplicate", out.Duplicate,
		"orphan", out.Orphan,
	), nil
}
