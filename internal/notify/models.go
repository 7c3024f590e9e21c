package notify

import (
	"maps"
	"slices"
	"time"
)

// EventType names what happened.
type EventType string

const (
	EventAgentRegistered  EventType = "agent.registered"
	EventAgentRevoked     EventType = "agent.revoked"
	EventAgentDeleted     EventType = "agent.deleted"
	EventApprovalNeeded   EventType = "approval.needed"
	EventApprovalResolved EventType = "approval.resolved"
	EventSMSReceived      EventType = "sms.received"
	EventAgentError       EventType = "agent.error"
)

// EventTypes lists every type Emit may carry.
var EventTypes = []EventType{
	EventAgentRegistered,
	EventAgentRevoked,
	EventAgentDeleted,
	EventApprovalNeeded,
	EventApprovalResolved,
	EventSMSReceived,
	EventAgentError,
}

// IsKnown reports whether t is one of EventTypes.
func (t EventType) IsKnown() bool {
	return slices.Contains(EventTypes, t)
}

// Agent identifies the passport an event is about.
type Agent struct {
	PassportID string `json:"passport_id"`
	Name       string `json:"name"`
}

// Action is a follow-up the receiver can offer its user, such as approving
// a pending request.
type Action struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	URL   string `json:"url,omitempty"`
}

// Event is the envelope POSTed to webhook destinations. Treat it as
// immutable once built.
type Event struct {
	Type      EventType      `json:"event"`
	Agent     Agent          `json:"agent"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Actions   []Action       `json:"actions,omitempty"`
}

// NewEvent builds the canonical envelope stamped with the current time.
func NewEvent(eventType EventType, agent Agent, data map[string]any, actions ...Action) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		Type:      eventType,
		Agent:     agent,
		Data:      maps.Clone(data),
		Timestamp: time.Now().UTC(),
		Actions:   slices.Clone(actions),
	}
}

// WebhookConfig is one destination. A nil Events filter subscribes to every
// event type.
type WebhookConfig struct {
	URL    string      `json:"url"`
	Secret string      `json:"secret,omitempty"`
	Events []EventType `json:"events,omitempty"`
}

// Accepts reports whether the destination subscribed to eventType.
func (c WebhookConfig) Accepts(eventType EventType) bool {
	if c.Events == nil {
		return true
	}
	return slices.Contains(c.Events, eventType)
}

func (c WebhookConfig) clone() WebhookConfig {
	c.Events = slices.Clone(c.Events)
	return c
}

// DeliveryStatus is the outcome of a single delivery attempt.
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryRecord is appended to the delivery log for every attempt.
type DeliveryRecord struct {
	EventType EventType      `json:"event_type"`
	URL       string         `json:"url"`
	Status    DeliveryStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}
