// Package httpapi is the HTTP shell: provider webhook, operator portal
// endpoints and live subscriptions.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"booking-inbox/internal/domain"
	"booking-inbox/internal/integrations/paramstore"
	"booking-inbox/internal/usecase"
)

const (
	maxBodyBytes = 1 << 20

	openListingLimit = 50
	allListingLimit  = 100
	historyLimit     = 100

	defaultKeepAlive   = 25 * time.Second
	defaultIdleTimeout = 30 * time.Minute
)

type Conversations interface {
	RecordInbound(ctx context.Context, in domain.InboundMessage) (usecase.InboundResult, error)
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
	Close(ctx context.Context, contactID, notice string) (domain.Message, error)
	Reopen(ctx context.Context, contactID string) (domain.Conversation, error)
	Conversations(ctx context.Context, includeClosed bool, limit int) ([]domain.Conversation, error)
	History(ctx context.Context, contactID string, limit int) ([]domain.Message, error)
}

type AppointmentSync interface {
	Run(ctx context.Context) (usecase.SyncResult, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, contactID string) <-chan domain.ConversationEvent
}

type Options struct {
	VerifyToken    paramstore.Secret
	APIKey         paramstore.Secret
	AllowedOrigins []string
	// KeepAlive is the SSE comment interval; IdleTimeout closes a
	// subscription that delivered nothing for that long.
	KeepAlive   time.Duration
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

type Server struct {
	conversations Conversations
	syncer        AppointmentSync
	subscriber    Subscriber
	verifyToken   paramstore.Secret
	apiKey        paramstore.Secret
	origins       []string
	keepAlive     time.Duration
	idleTimeout   time.Duration
	logger        *slog.Logger

	// baseCtx outlives requests; webhook processing runs on it.
	baseCtx  context.Context
	inflight sync.WaitGroup

	now func() time.Time
}

func NewServer(conversations Conversations, syncer AppointmentSync, subscriber Subscriber, opts Options) (*Server, error) {
	if conversations == nil {
		return nil, errors.New("httpapi: conversations must not be nil")
	}
	if syncer == nil {
		return nil, errors.New("httpapi: appointment sync must not be nil")
	}
	if subscriber == nil {
		return nil, errors.New("httpapi: subscriber must not be nil")
	}
	if opts.VerifyToken == nil || opts.APIKey == nil {
		return nil, errors.New("httpapi: verify token and api key secrets are required")
	}
	s := &Server{
		conversations: conversations,
		syncer:        syncer,
		subscriber:    subscriber,
		verifyToken:   opts.VerifyToken,
		apiKey:        opts.APIKey,
		origins:       opts.AllowedOrigins,
		keepAlive:     opts.KeepAlive,
		idleTimeout:   opts.IdleTimeout,
		logger:        opts.Logger,
		baseCtx:       context.Background(),
		now:           time.Now,
	}
	if s.keepAlive <= 0 {
		s.keepAlive = defaultKeepAlive
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = defaultIdleTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Handler returns the routed handler with CORS and correlation ids applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleBanner)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /webhooks/whatsapp", s.handleVerify)
	mux.HandleFunc("POST /webhooks/whatsapp", s.handleWebhook)

	mux.HandleFunc("GET /portal/conversations", s.requireAPIKey(s.handleConversations(false, openListingLimit)))
	mux.HandleFunc("GET /portal/conversations/all", s.requireAPIKey(s.handleConversations(true, allListingLimit)))
	mux.HandleFunc("GET /portal/messages", s.requireAPIKey(s.handleMessages))
	mux.HandleFunc("POST /portal/send", s.requireAPIKey(s.handleSend))
	mux.HandleFunc("POST /portal/close", s.requireAPIKey(s.handleClose))
	mux.HandleFunc("POST /portal/reopen", s.requireAPIKey(s.handleReopen))
	mux.HandleFunc("POST /sync/appointments", s.requireAPIKey(s.handleSync))

	mux.HandleFunc("GET /sse", s.requireStreamKey(s.handleSSE))
	mux.HandleFunc("GET /ws", s.requireStreamKey(s.handleWebSocket))

	return corsMiddleware(s.origins, withCorrelationID(mux))
}

// Wait blocks until webhook batches accepted so far have been processed.
func (s *Server) Wait() {
	s.inflight.Wait()
}

type correlationKey struct{}

func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Correlation-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationKey{}, id)))
	})
}

func correlationID(r *http.Request) string {
	id, _ := r.Context().Value(correlationKey{}).(string)
	return id
}

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "booking-inbox is running\n")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

type conversationResponse struct {
	ContactID     string    `json:"contactId"`
	Name          string    `json:"name,omitempty"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	ChannelID     string    `json:"channelId,omitempty"`
	AppointmentID string    `json:"appointmentId,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toConversationResponse(c domain.Conversation) conversationResponse {
	return conversationResponse{
		ContactID:     c.ContactID,
		Name:          c.Name,
		LastMessage:   c.LastMessage,
		LastMessageAt: c.LastMessageAt,
		ChannelID:     c.ChannelID,
		AppointmentID: c.AppointmentID,
		Status:        string(c.Status),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

type messageResponse struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	ContactID string    `json:"contactId"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sentAt"`
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		ID:        m.ID,
		Direction: string(m.Direction),
		ContactID: m.ContactID,
		Text:      m.Text,
		SentAt:    m.SentAt,
	}
}

func (s *Server) handleConversations(includeClosed bool, limit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := s.conversations.Conversations(r.Context(), includeClosed, limit)
		if err != nil {
			s.logFailure(r, "list conversations failed", err)
			writeError(w, err)
			return
		}
		out := make([]conversationResponse, 0, len(convs))
		for _, c := range convs {
			out = append(out, toConversationResponse(c))
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "conversations": out})
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	contactID := contactIDParam(r)
	if contactID == "" {
		writeError(w, invalidInput("missing_contact_id"))
		return
	}
	msgs, err := s.conversations.History(r.Context(), contactID, historyLimit)
	if err != nil {
		s.logFailure(r, "list messages failed", err)
		writeError(w, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "messages": out})
}

type sendRequest struct {
	ContactID string `json:"contactId"`
	Text      string `json:"text"`
	Reopen    bool   `json:"reopen"`
}

type sendResponse struct {
	OK           bool                 `json:"ok"`
	MessageID    string               `json:"messageId"`
	Transport    json.RawMessage      `json:"transport,omitempty"`
	Conversation conversationResponse `json:"conversation"`
	Persisted    bool                 `json:"persisted"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.ContactID) == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, invalidInput("missing_fields"))
		return
	}
	out, err := s.conversations.Send(r.Context(), usecase.SendInput{
		ContactID: req.ContactID,
		Text:      req.Text,
		Reopen:    req.Reopen,
	})
	if err != nil {
		s.logFailure(r, "send failed", err)
		writeError(w, err)
		return
	}
	resp := sendResponse{
		OK:           true,
		MessageID:    out.MessageID,
		Conversation: toConversationResponse(out.Conversation),
		Persisted:    out.Persisted,
	}
	if json.Valid(out.Delivery.Raw) {
		resp.Transport = out.Delivery.Raw
	}
	writeJSON(w, http.StatusOK, resp)
}

type contactRequest struct {
	ContactID string `json:"contactId"`
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.ContactID) == "" {
		writeError(w, invalidInput("missing_contact_id"))
		return
	}
	msg, err := s.conversations.Close(r.Context(), req.ContactID, "")
	if err != nil {
		s.logFailure(r, "close failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"status":    string(domain.StatusClosed),
		"messageId": msg.ID,
	})
}

func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.ContactID) == "" {
		writeError(w, invalidInput("missing_contact_id"))
		return
	}
	conv, err := s.conversations.Reopen(r.Context(), req.ContactID)
	if err != nil {
		s.logFailure(r, "reopen failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "conversation": toConversationResponse(conv)})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.syncer.Run(r.Context())
	if err != nil {
		s.logFailure(r, "appointment sync failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "created": res.Created, "total": res.Total})
}

func (s *Server) logFailure(r *http.Request, msg string, err error) {
	s.logger.Warn(msg, "code", usecase.CodeOf(err), "err", err, "correlation_id", correlationID(r))
}

func decodeJSONBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return invalidInput("unreadable_body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return invalidInput("invalid_json")
	}
	return nil
}

// contactIDParam accepts contact_id and the provider's wa_id spelling.
func contactIDParam(r *http.Request) string {
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("contact_id")); v != "" {
		return v
	}
	return strings.TrimSpace(q.Get("wa_id"))
}
