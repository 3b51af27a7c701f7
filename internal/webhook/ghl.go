package webhook

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sells-group/funnel-cli/internal/metaads"
	"github.com/sells-group/funnel-cli/internal/model"
)

// GHL workflow event types.
const (
	ghlOpportunityCreate = "OpportunityCreate"
	ghlMeetingCompleted  = "MeetingCompleted"
	ghlPackageSent       = "PackageSent"
	ghlNoShow            = "NoShow"
	ghlContactUpdate     = "ContactUpdate"

	ghlStageFormFilled = "form_filled"
	ghlFunnelVariant   = "jane_paid"
)

func (h *Handler) handleGHL(w http.ResponseWriter, r *http.Request) {
	c := h.begin(w, r, model.SourceGHL)
	if c == nil {
		return
	}
	res, err := h.processGHL(r.Context(), c)
	c.finish(res, err)
}

// ghlEventFromStage derives an event type from a pipeline stage name when
// the workflow did not send one.
func ghlEventFromStage(stage string) string {
	s := strings.ToLower(stage)
	has := func(subs ...string) bool {
		for _, sub := range subs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}
	switch {
	case has("no show"):
		return ghlNoShow
	case has(ghlStageFormFilled, "meeting_booked", "dc booked", "scheduled", "booked"):
		return ghlOpportunityCreate
	case has("meeting_attended", "completed", "attended"):
		return ghlMeetingCompleted
	case has("package", "sent"):
		return ghlPackageSent
	default:
		return ghlContactUpdate
	}
}

// ghlFunnelEvent maps a GHL event to the funnel event it records.
func ghlFunnelEvent(eventType, stage string) model.EventType {
	switch eventType {
	case ghlOpportunityCreate:
		if strings.EqualFold(stage, ghlStageFormFilled) {
			return model.EventFormSubmitted
		}
		return model.EventAppointmentScheduled
	case ghlMeetingCompleted:
		return model.EventAppointmentHeld
	case ghlPackageSent:
		return model.EventPackageSent
	default:
		return model.EventContactUpdated
	}
}

func (h *Handler) processGHL(ctx context.Context, c *call) (result, error) {
	body, err := decodeObject(c.body)
	if err != nil {
		return result{}, err
	}
	cd := body.obj("customData")

	ghlID := firstNonEmpty(cd.str("contact_id"), body.str("contact_id"))
	if ghlID == "" {
		return result{}, badPayload("missing contact_id")
	}
	c.entry.GHLID = ghlID

	// "pipleline_stage" is a typo baked into live workflows.
	stage := cd.str("pipeline_stage", "pipleline_stage")
	if stage == "" {
		stage = body.str("pipeline_stage")
	}
	eventType := firstNonEmpty(cd.str("event_type"), body.str("type"))
	if eventType == "" {
		eventType = ghlEventFromStage(stage)
	}
	c.entry.EventType = eventType

	if eventType == ghlNoShow {
		return done(model.WebhookSkipped, "event_type", eventType), nil
	}

	mcID := cd.str("MC_ID")
	adID := cd.str("AD_ID")
	c.entry.MCID = mcID
	source := cd.str("source")
	if source == "" {
		source = model.SourceWebsite
		if mcID != "" || adID != "" {
			source = model.SourceInstagram
		}
	}
	email := firstNonEmpty(cd.str("email"), body.str("email"))

	seed := &model.Contact{
		TenantID:      c.tenant.ID,
		GHLID:         ghlID,
		MCID:          mcID,
		EmailPrimary:  email,
		EmailBooking:  email,
		Phone:         firstNonEmpty(cd.str("phone"), body.str("phone")),
		FirstName:     firstNonEmpty(cd.str("first_name"), body.str("first_name")),
		LastName:      firstNonEmpty(cd.str("last_name"), body.str("last_name")),
		AdID:          adID,
		Source:        source,
		FunnelVariant: ghlFunnelVariant,
		Stage:         model.StageFormSubmitted,
	}
	contactID, created, err := h.Linker.FindOrCreate(ctx, seed)
	if err != nil {
		return result{}, wrapProcessing(err, "ghl contact")
	}
	c.entry.ContactID = contactID

	evType := ghlFunnelEvent(eventType, stage)
	ev := model.ContactEvent{
		Type:          evType,
		Source:        model.SourceGHL,
		SourceEventID: "ghl_" + ghlID + "_" + string(evType),
		Payload:       c.entry.Payload,
	}
	if stage != "" {
		ev.Tags = map[string]string{"ghl_stage": stage}
	}
	if evType == model.EventAppointmentScheduled {
		ev.OccurredAt = parseTime(firstNonEmpty(
			cd.str("Discovery Call Time (EST)"),
			body.str("Discovery Call Time (EST)"),
			cd.str("appointment_start_time"),
			body.obj("calendar").str("startTime"),
		))
	}
	if evType == model.EventContactUpdated {
		ev.SourceEventID = ""
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	applied, err := h.Events.ApplyEvent(ctx, contactID, ev)
	if err != nil {
		return result{}, wrapProcessing(err, "ghl event")
	}

	if evType == model.EventAppointmentScheduled && applied {
		user, storedAd := h.userData(ctx, contactID, model.CAPIUserData{
			Email:     email,
			Phone:     seed.Phone,
			FirstName: seed.FirstName,
			LastName:  seed.LastName,
		})
		h.enqueueCAPI(ctx, metaads.AddToCartEvent(c.tenant.ID, contactID, user, firstNonEmpty(storedAd, adID)))
	}

	status := model.WebhookProcessed
	if !applied {
		status = model.WebhookDuplicate
	}
	return done(status,
		"contact_id", contactID,
		"is_new", created,
		"event_type", string(evType),
	), nil
}
