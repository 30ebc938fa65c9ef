package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"booking-inbox/internal/domain"
)

const (
	DefaultClosedAutoReply = "This conversation is closed. If you would like to talk to us again, please book a new appointment or write to us by email."
	DefaultCloseNotice     = "We have closed this conversation. If you would like to talk to us again, please book a new appointment or write to us by email."
	DefaultAutoCloseNotice = "This conversation was closed after a period of inactivity. If you would like to talk to us again, please book a new appointment or write to us by email."

	defaultListingLimit = 50
	defaultHistoryLimit = 100
)

type ConversationStore interface {
	GetConversation(ctx context.Context, contactID string) (domain.Conversation, bool, error)
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	UpdateConversation(ctx context.Context, conv domain.Conversation) error
	UpdateOpenConversation(ctx context.Context, conv domain.Conversation) error
	AppendMessage(ctx context.Context, msg domain.Message) error
	HasMessages(ctx context.Context, contactID string) (bool, error)
	ListMessages(ctx context.Context, contactID string, limit int) ([]domain.Message, error)
	ListConversations(ctx context.Context, includeClosed bool, limit int) ([]domain.Conversation, error)
}

type AppointmentFinder interface {
	FindAppointmentByPhone(ctx context.Context, phone string) (domain.Appointment, bool, error)
}

type Transport interface {
	SendText(ctx context.Context, to, text string) (domain.Delivery, error)
}

type Publisher interface {
	Publish(ev domain.ConversationEvent)
}

// ConversationService owns the conversation state machine: Scheduled,
// Active and Closed. Inbound messages never reopen a Closed conversation.
type ConversationService struct {
	store        ConversationStore
	appointments AppointmentFinder
	transport    Transport
	events       Publisher
	logger       *slog.Logger

	closedAutoReply string
	closeNotice     string

	now func() time.Time
}

type ConversationOptions struct {
	ClosedAutoReply string
	CloseNotice     string
	Logger          *slog.Logger
}

func NewConversationService(store ConversationStore, appts AppointmentFinder, transport Transport, events Publisher, opts ConversationOptions) (*ConversationService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if appts == nil {
		return nil, errors.New("usecase: appointment finder must not be nil")
	}
	if transport == nil {
		return nil, errors.New("usecase: transport must not be nil")
	}
	if events == nil {
		return nil, errors.New("usecase: publisher must not be nil")
	}
	s := &ConversationService{
		store:           store,
		appointments:    appts,
		transport:       transport,
		events:          events,
		logger:          opts.Logger,
		closedAutoReply: strings.TrimSpace(opts.ClosedAutoReply),
		closeNotice:     strings.TrimSpace(opts.CloseNotice),
		now:             time.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.closedAutoReply == "" {
		s.closedAutoReply = DefaultClosedAutoReply
	}
	if s.closeNotice == "" {
		s.closeNotice = DefaultCloseNotice
	}
	return s, nil
}

// InboundResult describes the effects of one RecordInbound call.
type InboundResult struct {
	Conversation  domain.Conversation
	InitialStatus domain.Status // set when the conversation was created by this call
	Created       bool
	Duplicate     bool
	Messages      []domain.Message
}

// RecordInbound applies one inbound message. A Closed conversation keeps its
// status; the message is recorded and answered with the closed auto-reply. A
// message id seen before has no effect.
func (s *ConversationService) RecordInbound(ctx context.Context, in domain.InboundMessage) (InboundResult, error) {
	in.ContactID = domain.ContactIDFromPhone(in.ContactID)
	if in.ContactID == "" {
		return InboundResult{}, newError(ErrorInvalidInput, "missing_contact_id", nil)
	}
	if strings.TrimSpace(in.MessageID) == "" {
		in.MessageID = localID("in")
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = s.now()
	}
	in.Timestamp = in.Timestamp.UTC()

	conv, found, err := s.store.GetConversation(ctx, in.ContactID)
	if err != nil {
		return InboundResult{}, storeError("conversation_lookup_error", err)
	}
	if found && conv.Status == domain.StatusClosed {
		return s.recordClosedInbound(ctx, conv, in)
	}

	res := InboundResult{}
	var appt domain.Appointment
	var hasAppt bool
	if !found || conv.AppointmentID == "" {
		appt, hasAppt, err = s.appointments.FindAppointmentByPhone(ctx, domain.PhoneFromContactID(in.ContactID))
		if err != nil {
			return InboundResult{}, storeError("appointment_lookup_error", err)
		}
	}
	if !found {
		conv, res.Created, err = s.createOnFirstContact(ctx, in, appt, hasAppt)
		if err != nil {
			return InboundResult{}, err
		}
		if res.Created {
			res.InitialStatus = conv.Status
		} else if conv.Status == domain.StatusClosed {
			// Lost the creation race to a conversation that is already closed.
			return s.recordClosedInbound(ctx, conv, in)
		}
	}

	msg := domain.Message{
		ID:             in.MessageID,
		Direction:      domain.DirectionIn,
		ContactID:      in.ContactID,
		Text:           in.Text,
		SentAt:         in.Timestamp,
		ConversationID: conv.ContactID,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			s.logger.Debug("duplicate inbound message ignored", "contact_id", in.ContactID, "message_id", in.MessageID)
			res.Conversation = conv
			res.Duplicate = true
			return res, nil
		}
		return InboundResult{}, storeError("message_append_error", err)
	}
	res.Messages = append(res.Messages, msg)

	next := conv
	next.Status = domain.StatusActive
	if in.SenderDisplayName != "" {
		next.Name = in.SenderDisplayName
	}
	if in.ChannelHandle != "" {
		next.ChannelID = in.ChannelHandle
	}
	if hasAppt && next.AppointmentID == "" {
		next.AppointmentID = appt.ID
	}
	// Out-of-order deliveries do not regress the last-message fields. A
	// Scheduled conversation only holds the seed placeholder.
	if conv.Status == domain.StatusScheduled || !in.Timestamp.Before(conv.LastMessageAt) {
		next.LastMessage = in.Text
		next.LastMessageAt = in.Timestamp
	}
	next.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateOpenConversation(ctx, next); err != nil {
		if !errors.Is(err, domain.ErrConversationClosed) {
			return InboundResult{}, storeError("conversation_update_error", err)
		}
		// Closed between our read and write; the message stays in history.
		s.logger.Info("conversation closed concurrently, not reopening", "contact_id", in.ContactID, "message_id", in.MessageID)
		next = conv
		next.Status = domain.StatusClosed
	}
	res.Conversation = next

	s.events.Publish(domain.MessageEvent(msg, in.SenderDisplayName))
	return res, nil
}

// createOnFirstContact creates the conversation for a contact seen for the
// first time. If another writer created it first, the stored one is returned.
func (s *ConversationService) createOnFirstContact(ctx context.Context, in domain.InboundMessage, appt domain.Appointment, hasAppt bool) (domain.Conversation, bool, error) {
	status := domain.StatusActive
	if hasAppt {
		hasMsgs, err := s.store.HasMessages(ctx, in.ContactID)
		if err != nil {
			return domain.Conversation{}, false, storeError("history_lookup_error", err)
		}
		if !hasMsgs {
			status = domain.StatusScheduled
		}
	}

	now := s.now().UTC()
	conv := domain.Conversation{
		ContactID:     in.ContactID,
		Name:          in.SenderDisplayName,
		LastMessage:   in.Text,
		LastMessageAt: in.Timestamp,
		ChannelID:     in.ChannelHandle,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if hasAppt {
		conv.AppointmentID = appt.ID
		if conv.Name == "" {
			conv.Name = appt.Name
		}
	}

	err := s.store.CreateConversation(ctx, conv)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, domain.ErrConversationExists) {
		return domain.Conversation{}, false, storeError("conversation_create_error", err)
	}
	existing, ok, err := s.store.GetConversation(ctx, in.ContactID)
	if err != nil {
		return domain.Conversation{}, false, storeError("conversation_lookup_error", err)
	}
	if !ok {
		return domain.Conversation{}, false, newError(ErrorInternal, "conversation_vanished", nil)
	}
	return existing, false, nil
}

func (s *ConversationService) recordClosedInbound(ctx context.Context, conv domain.Conversation, in domain.InboundMessage) (InboundResult, error) {
	res := InboundResult{Conversation: conv}
	s.logger.Info("inbound message on closed conversation", "contact_id", in.ContactID, "message_id", in.MessageID)

	inMsg := domain.Message{
		ID:             in.MessageID,
		Direction:      domain.DirectionIn,
		ContactID:      in.ContactID,
		Text:           in.Text,
		SentAt:         in.Timestamp,
		ConversationID: conv.ContactID,
	}
	if err := s.store.AppendMessage(ctx, inMsg); err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			res.Duplicate = true
			return res, nil
		}
		return InboundResult{}, storeError("message_append_error", err)
	}
	res.Messages = append(res.Messages, inMsg)
	s.events.Publish(domain.MessageEvent(inMsg, in.SenderDisplayName))

	delivery, err := s.transport.SendText(ctx, in.ContactID, s.closedAutoReply)
	if err != nil {
		return res, transportError("closed_auto_reply_error", err)
	}
	outMsg := domain.Message{
		ID:             deliveryID(delivery, "out_closed"),
		Direction:      domain.DirectionOut,
		ContactID:      in.ContactID,
		Text:           s.closedAutoReply,
		SentAt:         s.now().UTC(),
		ConversationID: conv.ContactID,
	}
	if err := s.store.AppendMessage(ctx, outMsg); err != nil {
		s.logger.Error("reconciliation gap: auto-reply sent but not recorded",
			"contact_id", in.ContactID, "message_id", outMsg.ID, "err", err)
		return res, nil
	}
	res.Messages = append(res.Messages, outMsg)
	s.events.Publish(domain.MessageEvent(outMsg, ""))
	return res, nil
}

// OutboundInput is a message already accepted by the transport.
type OutboundInput struct {
	ContactID string
	Text      string
	MessageID string
	SentAt    time.Time
	ChannelID string
	// Reopen allows recording on a Closed conversation, setting it Active.
	Reopen bool
}

// OutboundResult reports the recorded state after an outbound message.
type OutboundResult struct {
	Conversation domain.Conversation
	Message      domain.Message
	Reopened     bool
}

// RecordOutbound records an outbound message, creating the conversation when
// the contact is unknown. A Closed conversation is rejected unless in.Reopen.
func (s *ConversationService) RecordOutbound(ctx context.Context, in OutboundInput) (OutboundResult, error) {
	in.ContactID = domain.ContactIDFromPhone(in.ContactID)
	if in.ContactID == "" || strings.TrimSpace(in.Text) == "" {
		return OutboundResult{}, newError(ErrorInvalidInput, "missing_fields", nil)
	}
	if in.MessageID == "" {
		in.MessageID = localID("out")
	}
	if in.SentAt.IsZero() {
		in.SentAt = s.now()
	}
	in.SentAt = in.SentAt.UTC()

	conv, found, err := s.store.GetConversation(ctx, in.ContactID)
	if err != nil {
		return OutboundResult{}, storeError("conversation_lookup_error", err)
	}
	if found && conv.Status == domain.StatusClosed && !in.Reopen {
		return OutboundResult{}, newError(ErrorConversationClosed, "conversation_closed", domain.ErrConversationClosed)
	}

	res := OutboundResult{}
	now := s.now().UTC()
	if !found {
		conv = domain.Conversation{
			ContactID:     in.ContactID,
			LastMessage:   in.Text,
			LastMessageAt: in.SentAt,
			ChannelID:     in.ChannelID,
			Status:        domain.StatusActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			if !errors.Is(err, domain.ErrConversationExists) {
				return OutboundResult{}, storeError("conversation_create_error", err)
			}
			if conv, found, err = s.store.GetConversation(ctx, in.ContactID); err != nil {
				return OutboundResult{}, storeError("conversation_lookup_error", err)
			}
			if !found {
				return OutboundResult{}, newError(ErrorInternal, "conversation_vanished", nil)
			}
			if conv.Status == domain.StatusClosed && !in.Reopen {
				return OutboundResult{}, newError(ErrorConversationClosed, "conversation_closed", domain.ErrConversationClosed)
			}
		}
	}

	msg := domain.Message{
		ID:             in.MessageID,
		Direction:      domain.DirectionOut,
		ContactID:      in.ContactID,
		Text:           in.Text,
		SentAt:         in.SentAt,
		ConversationID: conv.ContactID,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil && !errors.Is(err, domain.ErrDuplicateMessage) {
		return OutboundResult{}, storeError("message_append_error", err)
	}
	res.Message = msg

	if found {
		next := conv
		res.Reopened = conv.Status == domain.StatusClosed
		next.Status = domain.StatusActive
		if in.ChannelID != "" && next.ChannelID == "" {
			next.ChannelID = in.ChannelID
		}
		if conv.Status == domain.StatusScheduled || !in.SentAt.Before(conv.LastMessageAt) {
			next.LastMessage = in.Text
			next.LastMessageAt = in.SentAt
		}
		next.UpdatedAt = now

		update := s.store.UpdateOpenConversation
		if in.Reopen {
			update = s.store.UpdateConversation
		}
		if err := update(ctx, next); err != nil {
			if !errors.Is(err, domain.ErrConversationClosed) {
				return OutboundResult{}, storeError("conversation_update_error", err)
			}
			s.logger.Info("conversation closed concurrently, not reopening", "contact_id", in.ContactID, "message_id", msg.ID)
			next = conv
			next.Status = domain.StatusClosed
			res.Reopened = false
		}
		conv = next
	}
	res.Conversation = conv

	if res.Reopened {
		s.events.Publish(domain.ConversationEvent{
			Type:      domain.EventConversationReopened,
			ContactID: in.ContactID,
			Date:      now,
		})
	}
	s.events.Publish(domain.MessageEvent(msg, ""))
	return res, nil
}

// Close sends notice (the default close notice when empty), records it and
// marks the conversation Closed. Calling it on a Closed conversation sends
// one more notice.
func (s *ConversationService) Close(ctx context.Context, contactID, notice string) (domain.Message, error) {
	msg, _, err := s.closeIf(ctx, contactID, notice, nil)
	return msg, err
}

// CloseStale closes contactID only if it is still open and its last message
// is older than cutoff. It reports whether the conversation was closed.
func (s *ConversationService) CloseStale(ctx context.Context, contactID, notice string, cutoff time.Time) (bool, error) {
	_, closed, err := s.closeIf(ctx, contactID, notice, func(conv domain.Conversation) bool {
		return conv.Status != domain.StatusClosed && conv.LastMessageAt.Before(cutoff)
	})
	return closed, err
}

func (s *ConversationService) closeIf(ctx context.Context, contactID, notice string, cond func(domain.Conversation) bool) (domain.Message, bool, error) {
	contactID = domain.ContactIDFromPhone(contactID)
	if contactID == "" {
		return domain.Message{}, false, newError(ErrorInvalidInput, "missing_contact_id", nil)
	}
	notice = strings.TrimSpace(notice)
	if notice == "" {
		notice = s.closeNotice
	}

	conv, found, err := s.store.GetConversation(ctx, contactID)
	if err != nil {
		return domain.Message{}, false, storeError("conversation_lookup_error", err)
	}
	if !found {
		return domain.Message{}, false, newError(ErrorNotFound, "conversation_not_found", domain.ErrNotFound)
	}
	if cond != nil && !cond(conv) {
		return domain.Message{}, false, nil
	}

	delivery, err := s.transport.SendText(ctx, contactID, notice)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok {
			s.logger.Warn("close notice rejected by provider", "contact_id", contactID, "upstream_status", status)
		}
		return domain.Message{}, false, transportError("close_notice_error", err)
	}

	now := s.now().UTC()
	msg := domain.Message{
		ID:             deliveryID(delivery, "out_close"),
		Direction:      domain.DirectionOut,
		ContactID:      contactID,
		Text:           notice,
		SentAt:         now,
		ConversationID: conv.ContactID,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		s.logger.Error("reconciliation gap: close notice sent but not recorded",
			"contact_id", contactID, "message_id", msg.ID, "err", err)
	}

	conv.Status = domain.StatusClosed
	conv.LastMessage = notice
	conv.LastMessageAt = now
	conv.UpdatedAt = now
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return msg, false, storeError("conversation_update_error", err)
	}

	s.events.Publish(domain.MessageEvent(msg, ""))
	s.events.Publish(domain.ConversationEvent{
		Type:      domain.EventConversationClosed,
		ContactID: contactID,
		Text:      notice,
		Date:      now,
	})
	return msg, true, nil
}

// Reopen moves a conversation back to Active. It is the only way out of
// Closed.
func (s *ConversationService) Reopen(ctx context.Context, contactID string) (domain.Conversation, error) {
	contactID = domain.ContactIDFromPhone(contactID)
	if contactID == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "missing_contact_id", nil)
	}
	conv, found, err := s.store.GetConversation(ctx, contactID)
	if err != nil {
		return domain.Conversation{}, storeError("conversation_lookup_error", err)
	}
	if !found {
		return domain.Conversation{}, newError(ErrorNotFound, "conversation_not_found", domain.ErrNotFound)
	}
	if conv.Status != domain.StatusClosed {
		return conv, nil
	}

	now := s.now().UTC()
	conv.Status = domain.StatusActive
	conv.UpdatedAt = now
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return domain.Conversation{}, storeError("conversation_update_error", err)
	}
	s.events.Publish(domain.ConversationEvent{
		Type:      domain.EventConversationReopened,
		ContactID: contactID,
		Date:      now,
	})
	return conv, nil
}

// Conversations lists conversations by last-message time, newest first.
func (s *ConversationService) Conversations(ctx context.Context, includeClosed bool, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = defaultListingLimit
	}
	convs, err := s.store.ListConversations(ctx, includeClosed, limit)
	if err != nil {
		return nil, storeError("conversation_list_error", err)
	}
	return convs, nil
}

// History returns up to limit of the latest messages, oldest first.
func (s *ConversationService) History(ctx context.Context, contactID string, limit int) ([]domain.Message, error) {
	contactID = domain.ContactIDFromPhone(contactID)
	if contactID == "" {
		return nil, newError(ErrorInvalidInput, "missing_contact_id", nil)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	msgs, err := s.store.ListMessages(ctx, contactID, limit)
	if err != nil {
		return nil, storeError("message_list_error", err)
	}
	return msgs, nil
}

func deliveryID(d domain.Delivery, prefix string) string {
	if id := strings.TrimSpace(d.MessageID); id != "" {
		return id
	}
	return localID(prefix)
}

var localID = func(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
