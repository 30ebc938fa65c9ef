// Package webhook turns WhatsApp Cloud API webhook payloads into
// domain.InboundMessage values.
package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"booking-inbox/internal/domain"
)

// PlaceholderText stands in for messages without a text body (media,
// reactions, unsupported types).
const PlaceholderText = "no text available"

// Payload is the provider batch: entry[].changes[].value.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Contacts         []Contact         `json:"contacts"`
	Messages         []Message         `json:"messages"`
	Statuses         []json.RawMessage `json:"statuses"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// Parse decodes a raw webhook body.
func Parse(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("webhook: decode payload: %w", err)
	}
	return p, nil
}

// Normalize flattens every message of every entry and change. Payloads with
// no messages, such as delivery status callbacks, yield nothing. now is used
// when the provider omits a usable timestamp.
func Normalize(p Payload, now time.Time) []domain.InboundMessage {
	var out []domain.InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			for _, msg := range v.Messages {
				contactID := domain.ContactIDFromPhone(msg.From)
				if contactID == "" {
					continue
				}
				out = append(out, domain.InboundMessage{
					MessageID:         messageID(msg.ID),
					ContactID:         contactID,
					Text:              messageText(msg),
					Timestamp:         messageTime(msg.Timestamp, now),
					SenderDisplayName: displayName(v.Contacts, msg.From),
					ChannelHandle:     strings.TrimSpace(v.Metadata.PhoneNumberID),
				})
			}
		}
	}
	return out
}

func messageID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return "in_" + uuid.NewString()
}

func messageText(msg Message) string {
	if msg.Text != nil && strings.TrimSpace(msg.Text.Body) != "" {
		return msg.Text.Body
	}
	return PlaceholderText
}

// messageTime reads the provider's epoch-seconds field.
func messageTime(raw string, now time.Time) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return now.UTC()
	}
	return time.Unix(secs, 0).UTC()
}

func displayName(contacts []Contact, from string) string {
	for _, c := range contacts {
		if c.WaID != "" && c.WaID == from {
			return c.Profile.Name
		}
	}
	if len(contacts) > 0 {
		return contacts[0].Profile.Name
	}
	return ""
}
