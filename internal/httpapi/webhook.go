package httpapi

import (
	"context"
	"io"
	"net/http"
	"strings"

	"booking-inbox/internal/webhook"
)

// handleVerify answers the provider's subscription handshake. Both the
// hub.-prefixed parameter names and bare names are accepted.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := firstParam(q.Get("hub.mode"), q.Get("mode"))
	token := firstParam(q.Get("hub.verify_token"), q.Get("verify_token"))
	challenge := firstParam(q.Get("hub.challenge"), q.Get("challenge"))

	expected, err := s.verifyToken.Value(r.Context())
	if err != nil {
		s.logger.Error("webhook verify token unavailable", "err", err, "correlation_id", correlationID(r))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if mode != "subscribe" || !keyValid(token, expected) {
		s.logger.Warn("webhook verification failed", "mode", mode, "correlation_id", correlationID(r))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	s.logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// handleWebhook acknowledges the provider before any processing. The batch
// is processed in the background; failures are logged per message.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	w.WriteHeader(http.StatusOK)
	if err != nil {
		s.logger.Warn("webhook body unreadable", "err", err, "correlation_id", correlationID(r))
		return
	}

	id := correlationID(r)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.processWebhook(s.baseCtx, body, id)
	}()
}

func (s *Server) processWebhook(ctx context.Context, body []byte, correlationID string) {
	payload, err := webhook.Parse(body)
	if err != nil {
		s.logger.Warn("webhook payload rejected", "err", err, "correlation_id", correlationID)
		return
	}
	msgs := webhook.Normalize(payload, s.now())
	if len(msgs) == 0 {
		s.logger.Debug("webhook carried no messages", "correlation_id", correlationID)
		return
	}
	for _, in := range msgs {
		res, err := s.conversations.RecordInbound(ctx, in)
		if err != nil {
			s.logger.Error("inbound message not recorded",
				"contact_id", in.ContactID, "message_id", in.MessageID, "err", err, "correlation_id", correlationID)
			continue
		}
		if res.Duplicate {
			s.logger.Info("duplicate inbound message ignored",
				"contact_id", in.ContactID, "message_id", in.MessageID, "correlation_id", correlationID)
		}
	}
}

func firstParam(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
