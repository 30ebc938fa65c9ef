package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"booking-inbox/internal/domain"
)

// memStore is an in-memory ConversationStore with the same conditional
// semantics as the DynamoDB repository.
type memStore struct {
	mu           sync.Mutex
	convs        map[string]domain.Conversation
	msgs         map[string][]domain.Message
	msgIDs       map[string]struct{}
	appointments map[string]domain.Appointment

	getErr     error
	createErr  error
	updateErr  error
	appendErr  error
	staleErr   error
	upcoming   []domain.Appointment
	failAppend map[string]error // by message id prefix
	updates    int
}

func newMemStore() *memStore {
	return &memStore{
		convs:        map[string]domain.Conversation{},
		msgs:         map[string][]domain.Message{},
		msgIDs:       map[string]struct{}{},
		appointments: map[string]domain.Appointment{},
		failAppend:   map[string]error{},
	}
}

func (m *memStore) GetConversation(_ context.Context, contactID string) (domain.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.Conversation{}, false, m.getErr
	}
	c, ok := m.convs[contactID]
	return c, ok, nil
}

func (m *memStore) CreateConversation(_ context.Context, conv domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.convs[conv.ContactID]; ok {
		return domain.ErrConversationExists
	}
	m.convs[conv.ContactID] = conv
	return nil
}

func (m *memStore) UpdateConversation(_ context.Context, conv domain.Conversation) error {
	return m.update(conv, false)
}

func (m *memStore) UpdateOpenConversation(_ context.Context, conv domain.Conversation) error {
	return m.update(conv, true)
}

func (m *memStore) update(conv domain.Conversation, requireOpen bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	cur, ok := m.convs[conv.ContactID]
	if !ok {
		return domain.ErrNotFound
	}
	if requireOpen && cur.Status == domain.StatusClosed {
		return domain.ErrConversationClosed
	}
	conv.CreatedAt = cur.CreatedAt
	m.convs[conv.ContactID] = conv
	m.updates++
	return nil
}

func (m *memStore) AppendMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	for prefix, err := range m.failAppend {
		if len(msg.ID) >= len(prefix) && msg.ID[:len(prefix)] == prefix {
			return err
		}
	}
	key := msg.ContactID + "/" + msg.ID
	if _, ok := m.msgIDs[key]; ok {
		return domain.ErrDuplicateMessage
	}
	m.msgIDs[key] = struct{}{}
	m.msgs[msg.ContactID] = append(m.msgs[msg.ContactID], msg)
	return nil
}

func (m *memStore) HasMessages(_ context.Context, contactID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs[contactID]) > 0, nil
}

func (m *memStore) ListMessages(_ context.Context, contactID string, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := append([]domain.Message(nil), m.msgs[contactID]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].SentAt.Before(msgs[j].SentAt) })
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (m *memStore) ListConversations(_ context.Context, includeClosed bool, limit int) ([]domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Conversation
	for _, c := range m.convs {
		if !includeClosed && c.Status == domain.StatusClosed {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListStaleConversations(_ context.Context, cutoff time.Time) ([]domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleErr != nil {
		return nil, m.staleErr
	}
	var out []domain.Conversation
	for _, c := range m.convs {
		if c.Status != domain.StatusClosed && c.LastMessageAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out, nil
}

func (m *memStore) FindAppointmentByPhone(_ context.Context, phone string) (domain.Appointment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[phone]
	return a, ok, nil
}

func (m *memStore) ListUpcomingAppointments(_ context.Context, from time.Time, limit int) ([]domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Appointment
	for _, a := range m.upcoming {
		if !a.StartsAt.Before(from) {
			out = append(out, a)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) conv(contactID string) domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.convs[contactID]
}

func (m *memStore) messages(contactID string) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Message(nil), m.msgs[contactID]...)
}

func (m *memStore) count(contactID string, dir domain.Direction) int {
	n := 0
	for _, msg := range m.messages(contactID) {
		if msg.Direction == dir {
			n++
		}
	}
	return n
}

type sentText struct {
	to   string
	text string
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentText
	err  error
	seq  int
}

func (f *fakeTransport) SendText(_ context.Context, to, text string) (domain.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Delivery{}, f.err
	}
	f.seq++
	f.sent = append(f.sent, sentText{to: to, text: text})
	id := fmt.Sprintf("wamid.out.%d", f.seq)
	return domain.Delivery{MessageID: id, Raw: []byte(`{"messages":[{"id":"` + id + `"}]}`)}, nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ConversationEvent
}

func (p *recordingPublisher) Publish(ev domain.ConversationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type httpErr struct{ code int }

func (e *httpErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *httpErr) HTTPStatusCode() int { return e.code }

var errBoom = errors.New("boom")
