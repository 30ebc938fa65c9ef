package usecase

import (
	"context"
	"strings"

	"booking-inbox/internal/domain"
)

type SendInput struct {
	ContactID string
	Text      string
	Reopen    bool
}

type SendOutput struct {
	MessageID    string
	Delivery     domain.Delivery
	Conversation domain.Conversation
	// Persisted is false when the transport accepted the message but the
	// record could not be written.
	Persisted bool
}

// Send delivers an operator message and records it. A Closed conversation is
// rejected before any transport call unless in.Reopen is set. Transport
// failures abort without persisting; persistence failures after a successful
// send are logged and not rolled back.
func (s *ConversationService) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	in.ContactID = domain.ContactIDFromPhone(in.ContactID)
	in.Text = strings.TrimSpace(in.Text)
	if in.ContactID == "" || in.Text == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "missing_fields", nil)
	}

	conv, found, err := s.store.GetConversation(ctx, in.ContactID)
	if err != nil {
		return SendOutput{}, storeError("conversation_lookup_error", err)
	}
	if found && conv.Status == domain.StatusClosed && !in.Reopen {
		return SendOutput{}, newError(ErrorConversationClosed, "conversation_closed", domain.ErrConversationClosed)
	}

	delivery, err := s.transport.SendText(ctx, in.ContactID, in.Text)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok {
			s.logger.Warn("send rejected by provider", "contact_id", in.ContactID, "upstream_status", status)
		}
		return SendOutput{}, transportError("send_error", err)
	}

	out := SendOutput{
		MessageID: deliveryID(delivery, "out"),
		Delivery:  delivery,
	}
	rec, err := s.RecordOutbound(ctx, OutboundInput{
		ContactID: in.ContactID,
		Text:      in.Text,
		MessageID: out.MessageID,
		SentAt:    s.now(),
		ChannelID: conv.ChannelID,
		Reopen:    in.Reopen,
	})
	if err != nil {
		s.logger.Error("reconciliation gap: message sent but not recorded",
			"contact_id", in.ContactID, "message_id", out.MessageID, "err", err)
		out.Conversation = conv
		return out, nil
	}
	out.Conversation = rec.Conversation
	out.Persisted = true
	return out, nil
}
