package model

import "time"

// EventType names a funnel event delivered by a webhook source.
type EventType string

const (
	EventContactSubscribed    EventType = "contact_subscribed"
	EventContactUpdated       EventType = "contact_updated"
	EventDMQualified          EventType = "dm_qualified"
	EventLinkSent             EventType = "link_sent"
	EventLinkClicked          EventType = "link_clicked"
	EventFormSubmitted        EventType = "form_submitted"
	EventAppointmentScheduled EventType = "appointment_scheduled"
	EventAppointmentHeld      EventType = "appointment_held"
	EventPackageSent          EventType = "package_sent"
	EventCheckoutStarted      EventType = "checkout_started"
)

// eventSpec binds an event to the contact column it stamps and the stage it
// implies. Events without a column only merge fields and tags.
type eventSpec struct {
	Column string
	Stage  Stage
}

var eventSpecs = map[EventType]eventSpec{
	EventContactSubscribed:    {"subscribe_date", StageContactSubscribed},
	EventDMQualified:          {"dm_qualified_date", StageDMQualified},
	EventLinkSent:             {"link_send_date", StageLinkSent},
	EventLinkClicked:          {"link_click_date", StageLinkClicked},
	EventFormSubmitted:        {"form_submit_date", StageFormSubmitted},
	EventAppointmentScheduled: {"appointment_date", StageAppointmentScheduled},
	EventAppointmentHeld:      {"appointment_held_date", StageAppointmentHeld},
	EventPackageSent:          {"package_sent_date", StagePackageSent},
	EventCheckoutStarted:      {"checkout_started_date", ""},
}

// DateColumn returns the contacts column stamped by this event, or "".
func (e EventType) DateColumn() string {
	return eventSpecs[e].Column
}

// Stage returns the stage implied by this event, or "" when it implies none.
func (e EventType) Stage() Stage {
	return eventSpecs[e].Stage
}

// ContactEvent is one funnel event applied to a contact.
type ContactEvent struct {
	Type          EventType         `json:"event_type"`
	Source        string            `json:"source"`
	SourceEventID string            `json:"source_event_id,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Tags          map[string]string `json:"tags,omitempty"`
	Payload       []byte            `json:"-"`
}
