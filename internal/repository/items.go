package repository

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"booking-inbox/internal/domain"
)

func conversationKey(contactID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: contactPK(contactID)},
		"SK": &types.AttributeValueMemberS{Value: skConversation},
	}
}

func conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	lastMessageAt := formatTime(conv.LastMessageAt)
	item := map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: contactPK(conv.ContactID)},
		"SK":            &types.AttributeValueMemberS{Value: skConversation},
		"GSI1PK":        &types.AttributeValueMemberS{Value: gsi1Conversations},
		"GSI1SK":        &types.AttributeValueMemberS{Value: lastMessageAt},
		"contactId":     &types.AttributeValueMemberS{Value: conv.ContactID},
		"name":          &types.AttributeValueMemberS{Value: conv.Name},
		"lastMessage":   &types.AttributeValueMemberS{Value: conv.LastMessage},
		"lastMessageAt": &types.AttributeValueMemberS{Value: lastMessageAt},
		"channelId":     &types.AttributeValueMemberS{Value: conv.ChannelID},
		"appointmentId": &types.AttributeValueMemberS{Value: conv.AppointmentID},
		"status":        &types.AttributeValueMemberS{Value: string(conv.Status)},
		"createdAt":     &types.AttributeValueMemberS{Value: formatTime(conv.CreatedAt)},
		"updatedAt":     &types.AttributeValueMemberS{Value: formatTime(conv.UpdatedAt)},
	}
	if conv.Status != domain.StatusClosed {
		item["GSI2PK"] = &types.AttributeValueMemberS{Value: gsi2Open}
		item["GSI2SK"] = &types.AttributeValueMemberS{Value: lastMessageAt}
	}
	return item
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	contactID, err := strAttr(item, "contactId")
	if err != nil {
		return domain.Conversation{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Conversation{}, err
	}
	if !domain.Status(status).Valid() {
		return domain.Conversation{}, fmt.Errorf("repository: unknown status %q", status)
	}
	lastMessageAt, err := timeAttr(item, "lastMessageAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	updatedAt, err := timeAttr(item, "updatedAt")
	if err != nil {
		return domain.Conversation{}, err
	}

	return domain.Conversation{
		ContactID:     contactID,
		Name:          optStrAttr(item, "name"),
		LastMessage:   optStrAttr(item, "lastMessage"),
		LastMessageAt: lastMessageAt,
		ChannelID:     optStrAttr(item, "channelId"),
		AppointmentID: optStrAttr(item, "appointmentId"),
		Status:        domain.Status(status),
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = msg.ContactID
	}
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: contactPK(msg.ContactID)},
		"SK":           &types.AttributeValueMemberS{Value: msgSK(msg.SentAt, msg.ID)},
		"messageId":    &types.AttributeValueMemberS{Value: msg.ID},
		"direction":    &types.AttributeValueMemberS{Value: string(msg.Direction)},
		"contactId":    &types.AttributeValueMemberS{Value: msg.ContactID},
		"text":         &types.AttributeValueMemberS{Value: msg.Text},
		"sentAt":       &types.AttributeValueMemberS{Value: formatTime(msg.SentAt)},
		"conversation": &types.AttributeValueMemberS{Value: conversationID},
	}
}

// messageIDItem is the marker that makes a provider message id unique per
// contact.
func messageIDItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: contactPK(msg.ContactID)},
		"SK":        &types.AttributeValueMemberS{Value: msgIDSK(msg.ID)},
		"messageSK": &types.AttributeValueMemberS{Value: msgSK(msg.SentAt, msg.ID)},
	}
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "messageId")
	if err != nil {
		return domain.Message{}, err
	}
	contactID, err := strAttr(item, "contactId")
	if err != nil {
		return domain.Message{}, err
	}
	direction, err := strAttr(item, "direction")
	if err != nil {
		return domain.Message{}, err
	}
	sentAt, err := timeAttr(item, "sentAt")
	if err != nil {
		return domain.Message{}, err
	}

	return domain.Message{
		ID:             id,
		Direction:      domain.Direction(direction),
		ContactID:      contactID,
		Text:           optStrAttr(item, "text"),
		SentAt:         sentAt,
		ConversationID: optStrAttr(item, "conversation"),
	}, nil
}

func appointmentItem(appt domain.Appointment) map[string]types.AttributeValue {
	startsAt := formatTime(appt.StartsAt)
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: appointmentPK(appt.Phone)},
		"SK":            &types.AttributeValueMemberS{Value: skAppointment},
		"GSI1PK":        &types.AttributeValueMemberS{Value: gsi1Appointments},
		"GSI1SK":        &types.AttributeValueMemberS{Value: startsAt},
		"appointmentId": &types.AttributeValueMemberS{Value: appt.ID},
		"phone":         &types.AttributeValueMemberS{Value: canonicalPhone(appt.Phone)},
		"name":          &types.AttributeValueMemberS{Value: appt.Name},
		"startsAt":      &types.AttributeValueMemberS{Value: startsAt},
	}
}

func itemToAppointment(item map[string]types.AttributeValue) (domain.Appointment, error) {
	id, err := strAttr(item, "appointmentId")
	if err != nil {
		return domain.Appointment{}, err
	}
	phone, err := strAttr(item, "phone")
	if err != nil {
		return domain.Appointment{}, err
	}
	startsAt, err := timeAttr(item, "startsAt")
	if err != nil {
		return domain.Appointment{}, err
	}
	return domain.Appointment{
		ID:       id,
		Phone:    phone,
		Name:     optStrAttr(item, "name"),
		StartsAt: startsAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

// optStrAttr allows missing attributes, as older items may lack them.
func optStrAttr(item map[string]types.AttributeValue, key string) string {
	s, _ := strAttr(item, key)
	return s
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	t, err := parseTime(optStrAttr(item, key))
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
