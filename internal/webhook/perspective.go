package webhook

import (
	"context"
	"net/http"
	"strings"

	"github.com/sells-group/funnel-cli/internal/contact"
	"github.com/sells-group/funnel-cli/internal/metaads"
	"github.com/sells-group/funnel-cli/internal/model"
)

const perspectiveSource = "instagram_direct"

// deprecatedFunnels are funnel name fragments that no longer feed the
// pipeline.
var deprecatedFunnels = []string{"checkout", "supplements", "_lm"}

func (h *Handler) handlePerspective(w http.ResponseWriter, r *http.Request) {
	c := h.begin(w, r, model.SourcePerspective)
	if c == nil {
		return
	}
	res, err := h.processPerspective(r.Context(), c)
	c.finish(res, err)
}

func perspectiveTags(body object, funnelName, funnelID string) map[string]string {
	lower := strings.ToLower(funnelName)
	booking := "jane"
	if strings.Contains(lower, "calendly") {
		booking = "calendly"
	}
	traffic := "website_other"
	if strings.Contains(lower, "manychat") {
		traffic = "manychat"
	}
	tags := body.strMap("tags")
	tags["funnel"] = funnelName
	tags["booking_source"] = booking
	tags["traffic_source"] = traffic
	if funnelID != "" {
		tags["perspective_funnel_id"] = funnelID
	}
	return tags
}

func (h *Handler) processPerspective(ctx context.Context, c *call) (result, error) {
	body, err := decodeObject(c.body)
	if err != nil {
		return result{}, err
	}
	funnelName := body.str("funnelName")
	funnelID := body.str("funnelId")
	c.entry.EventType = string(model.EventFormSubmitted)

	lower := strings.ToLower(funnelName)
	for _, frag := range deprecatedFunnels {
		if strings.Contains(lower, frag) {
			return done(model.WebhookSkipped,
				"message", "Deprecated funnel skipped",
				"funnel", funnelName,
			), nil
		}
	}

	profile := body.obj("profile")
	values := body.obj("values")
	meta := body.obj("meta")

	email := firstNonEmpty(profile.obj("email").str("value"), profile.str("email"), values.str("email"))
	if email == "" {
		return result{}, badPayload("missing email")
	}
	firstName := firstNonEmpty(profile.obj("firstName").str("value"), profile.str("firstName"), values.str("firstName", "first_name"))
	phone := firstNonEmpty(profile.obj("phone").str("value"), profile.str("phone"), values.str("phone"))
	adID := firstNonEmpty(values.str("ad_id", "AD_ID", "adid"), meta.str("ad_id", "utm_content"))
	convertedAt := parseTime(firstNonEmpty(values.str("ps_converted_at"), meta.str("ps_converted_at")))

	first, last := contact.SplitName(firstName)
	seed := &model.Contact{
		TenantID:      c.tenant.ID,
		EmailPrimary:  email,
		Phone:         phone,
		FirstName:     first,
		LastName:      last,
		AdID:          adID,
		Source:        perspectiveSource,
		FunnelVariant: funnelName,
		Stage:         model.StageFormSubmitted,
	}
	contactID, created, err := h.Linker.FindOrCreate(ctx, seed)
	if err != nil {
		return result{}, wrapProcessing(err, "perspective contact")
	}
	c.entry.ContactID = contactID

	key := firstNonEmpty(funnelID, funnelName)
	applied, err := h.Events.ApplyEvent(ctx, contactID, model.ContactEvent{
		Type:          model.EventFormSubmitted,
		Source:        model.SourcePerspective,
		SourceEventID: "perspective_" + key + "_" + contact.NormalizeEmail(email),
		OccurredAt:    convertedAt,
		Tags:          perspectiveTags(body, funnelName, funnelID),
		Payload:       c.entry.Payload,
	})
	if err != nil {
		return result{}, wrapProcessing(err, "perspective event")
	}

	if applied {
		user, storedAd := h.userData(ctx, contactID, model.CAPIUserData{
			Email:     email,
			Phone:     phone,
			FirstName: first,
			LastName:  last,
		})
		h.enqueueCAPI(ctx, metaads.InitiateCheckoutEvent(c.tenant.ID, contactID, user, firstNonEmpty(storedAd, adID)))
	}

	status := model.WebhookProcessed
	if !applied {
		status = model.WebhookDuplicate
	}
	return done(status,
		"contact_id", contactID,
		"is_new", created,
		"funnel_variant", funnelName,
	), nil
}
