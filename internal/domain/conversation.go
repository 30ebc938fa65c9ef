package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a Conversation.
type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusActive    Status = "Active"
	StatusClosed    Status = "Closed"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusActive, StatusClosed:
		return true
	}
	return false
}

// Direction of a Message relative to this system.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConversationExists = errors.New("conversation already exists")
	ErrConversationClosed = errors.New("conversation is closed")
	ErrDuplicateMessage   = errors.New("message already recorded")
)

// Conversation tracks one contact's messaging lifecycle. There is at most one
// per ContactID.
type Conversation struct {
	ContactID     string
	Name          string
	LastMessage   string
	LastMessageAt time.Time
	ChannelID     string
	AppointmentID string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Message is an append-only history entry owned by a Conversation.
type Message struct {
	ID        string
	Direction Direction
	ContactID string
	Text      string
	SentAt    time.Time
	// ConversationID references the owning Conversation (its contact id).
	ConversationID string
}

// Appointment is a pending booking mirrored from the calendar source.
type Appointment struct {
	ID       string
	Phone    string // canonical international format, e.g. +34600111222
	Name     string
	StartsAt time.Time
}

// Delivery is what the transport reports for an accepted outbound message.
type Delivery struct {
	MessageID string
	Raw       []byte
}
