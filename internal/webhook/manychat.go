package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/metaads"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/pkg/manychat"
)

// legacyEvents maps event names older automations still send.
var legacyEvents = map[string]model.EventType{
	"contact_created": model.EventContactSubscribed,
	"contact_update":  model.EventContactUpdated,
}

func (h *Handler) handleManyChat(w http.ResponseWriter, r *http.Request) {
	c := h.begin(w, r, model.SourceManyChat)
	if c == nil {
		return
	}
	res, err := h.processManyChat(r.Context(), c)
	c.finish(res, err)
}

// subscriber extracts the ManyChat profile from the body. A bare
// subscriber_id is expanded through the API when the tenant has a key;
// a failed lookup continues with the id alone.
func (h *Handler) subscriber(ctx context.Context, c *call, body object) (*manychat.Subscriber, error) {
	if raw := body.obj("subscriber"); len(raw) > 0 {
		if id, ok := raw["id"].(float64); ok {
			raw["id"] = strconv.FormatFloat(id, 'f', -1, 64)
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, badPayload("subscriber is malformed")
		}
		var s manychat.Subscriber
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, badPayload("subscriber is malformed")
		}
		if s.ID == "" {
			return nil, badPayload("subscriber has no id")
		}
		return &s, nil
	}

	id := body.str("subscriber_id")
	if id == "" {
		return nil, badPayload("missing subscriber or subscriber_id")
	}
	minimal := &manychat.Subscriber{ID: id}
	if h.ManyChat == nil {
		return minimal, nil
	}

	log := zap.L().With(zap.String("tenant", c.tenant.Slug), zap.String("mc_id", id))
	key, err := h.Tenants.ManyChatAPIKey(ctx, c.tenant)
	if err != nil || key == "" {
		log.Debug("webhook: no manychat key, using minimal subscriber", zap.Error(err))
		return minimal, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, h.ManyChatTimeout)
	defer cancel()
	s, err := h.ManyChat.GetSubscriber(fetchCtx, key, id)
	if err != nil || s == nil {
		log.Warn("webhook: manychat subscriber fetch failed", zap.Error(err))
		return minimal, nil
	}
	if s.ID == "" {
		s.ID = id
	}
	return s, nil
}

// manyChatEvent names the funnel event. An explicit event_type wins;
// otherwise the most advanced flag set in custom fields decides.
func manyChatEvent(body object, s *manychat.Subscriber) model.EventType {
	if t := body.str("event_type"); t != "" {
		if mapped, ok := legacyEvents[t]; ok {
			return mapped
		}
		return model.EventType(t)
	}
	f := s.CustomFields
	switch {
	case f.String("MCB_CLICKED_LINK") != "":
		return model.EventLinkClicked
	case f.String("MCB_SENT_LINK") != "":
		return model.EventLinkSent
	case f.String("MCB_LEAD_CONTACT") != "":
		return model.EventDMQualified
	case f.String("MCB_LEAD") != "":
		return model.EventContactSubscribed
	default:
		return model.EventContactUpdated
	}
}

func (h *Handler) processManyChat(ctx context.Context, c *call) (result, error) {
	body, err := decodeObject(c.body)
	if err != nil {
		return result{}, err
	}
	s, err := h.subscriber(ctx, c, body)
	if err != nil {
		return result{}, err
	}
	c.entry.MCID = s.ID

	evType := manyChatEvent(body, s)
	c.entry.EventType = string(evType)

	f := s.CustomFields
	source := firstNonEmpty(body.str("source", "Source"), f.String("source", "Source"), model.SourceInstagram)
	chatbot := firstNonEmpty(body.str("chatbot_AB"), f.String("chatbot_AB", "Chatbot AB Test"))

	seed := &model.Contact{
		TenantID:     c.tenant.ID,
		MCID:         s.ID,
		FirstName:    s.FirstName,
		LastName:     s.LastName,
		EmailPrimary: firstNonEmpty(s.Email, f.String("custom field email", "MCB_SEARCH_EMAIL")),
		Phone:        s.BestPhone(),
		AdID:         f.String("AD_ID", "ADID"),
		Source:       source,
		ChatbotAB:    chatbot,
		Stage:        model.StageNew,
	}
	contactID, created, err := h.Linker.FindOrCreate(ctx, seed)
	if err != nil {
		return result{}, wrapProcessing(err, "manychat contact")
	}
	c.entry.ContactID = contactID

	tags := map[string]string{"source": source}
	if chatbot != "" {
		tags["chatbot"] = chatbot
	}
	var sourceEventID string
	if evType != model.EventContactUpdated {
		sourceEventID = "mc_" + s.ID + "_" + string(evType)
	}
	applied, err := h.Events.ApplyEvent(ctx, contactID, model.ContactEvent{
		Type:          evType,
		Source:        model.SourceManyChat,
		SourceEventID: sourceEventID,
		Tags:          tags,
		Payload:       c.entry.Payload,
	})
	if err != nil {
		return result{}, wrapProcessing(err, "manychat event")
	}

	if evType == model.EventDMQualified && applied {
		user, adID := h.userData(ctx, contactID, model.CAPIUserData{
			Email:     seed.EmailPrimary,
			Phone:     seed.Phone,
			FirstName: seed.FirstName,
			LastName:  seed.LastName,
		})
		h.enqueueCAPI(ctx, metaads.LeadEvent(c.tenant.ID, contactID, user, firstNonEmpty(adID, seed.AdID)))
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
