package domain

import (
	"strings"
	"time"
)

// InboundMessage is the canonical form of one provider message.
type InboundMessage struct {
	MessageID         string
	ContactID         string
	Text              string
	Timestamp         time.Time
	SenderDisplayName string
	ChannelHandle     string
}

// EventType names a ConversationEvent.
type EventType string

const (
	EventConnected            EventType = "connected"
	EventMessage              EventType = "message"
	EventConversationClosed   EventType = "conversation_closed"
	EventConversationReopened EventType = "conversation_reopened"
)

// ConversationEvent is pushed to live subscribers of one contact.
type ConversationEvent struct {
	Type      EventType `json:"type"`
	ContactID string    `json:"contact_id"`
	MessageID string    `json:"message_id,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Name      string    `json:"name,omitempty"`
	Text      string    `json:"text,omitempty"`
	Date      time.Time `json:"date"`
}

// MessageEvent builds the event published for a recorded message.
func MessageEvent(m Message, name string) ConversationEvent {
	return ConversationEvent{
		Type:      EventMessage,
		ContactID: m.ContactID,
		MessageID: m.ID,
		Direction: m.Direction,
		Name:      name,
		Text:      m.Text,
		Date:      m.SentAt,
	}
}

// ContactIDFromPhone strips formatting from an international phone number,
// "+34 600 111 222" -> "34600111222".
func ContactIDFromPhone(phone string) string {
	return strings.TrimPrefix(strings.Join(strings.Fields(phone), ""), "+")
}

// PhoneFromContactID returns the canonical international form of a contact id.
func PhoneFromContactID(contactID string) string {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return ""
	}
	if strings.HasPrefix(contactID, "+") {
		return contactID
	}
	return "+" + contactID
}
