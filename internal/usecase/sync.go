package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"booking-inbox/internal/domain"
)

const (
	defaultSyncLimit = 50

	ScheduledPlaceholder = "Appointment scheduled (no messages yet)"
)

type UpcomingLister interface {
	ListUpcomingAppointments(ctx context.Context, from time.Time, limit int) ([]domain.Appointment, error)
}

type ConversationSeeder interface {
	CreateConversation(ctx context.Context, conv domain.Conversation) error
}

// Reconciler seeds a Scheduled conversation for every upcoming appointment
// whose contact has none yet. Existing conversations are never touched.
type Reconciler struct {
	appointments UpcomingLister
	store        ConversationSeeder
	channelID    string
	limit        int
	logger       *slog.Logger
	now          func() time.Time
}

type ReconcilerOptions struct {
	ChannelID string
	Limit     int
	Logger    *slog.Logger
}

func NewReconciler(appts UpcomingLister, store ConversationSeeder, opts ReconcilerOptions) (*Reconciler, error) {
	if appts == nil {
		return nil, errors.New("usecase: appointment lister must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: conversation seeder must not be nil")
	}
	r := &Reconciler{
		appointments: appts,
		store:        store,
		channelID:    strings.TrimSpace(opts.ChannelID),
		limit:        opts.Limit,
		logger:       opts.Logger,
		now:          time.Now,
	}
	if r.limit <= 0 {
		r.limit = defaultSyncLimit
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

type SyncResult struct {
	Created int `json:"created"`
	Total   int `json:"total"`
	Failed  int `json:"failed"`
}

// Run performs one reconciliation pass.
func (r *Reconciler) Run(ctx context.Context) (SyncResult, error) {
	now := r.now().UTC()
	appts, err := r.appointments.ListUpcomingAppointments(ctx, now, r.limit)
	if err != nil {
		return SyncResult{}, storeError("appointment_list_error", err)
	}

	res := SyncResult{Total: len(appts)}
	for _, appt := range appts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		contactID := domain.ContactIDFromPhone(appt.Phone)
		if contactID == "" {
			continue
		}
		err := r.store.CreateConversation(ctx, domain.Conversation{
			ContactID:     contactID,
			Name:          appt.Name,
			LastMessage:   ScheduledPlaceholder,
			LastMessageAt: now,
			ChannelID:     r.channelID,
			AppointmentID: appt.ID,
			Status:        domain.StatusScheduled,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		switch {
		case err == nil:
			res.Created++
			r.logger.Info("scheduled conversation created", "contact_id", contactID, "appointment_id", appt.ID)
		case errors.Is(err, domain.ErrConversationExists):
		default:
			res.Failed++
			r.logger.Warn("scheduled conversation create failed", "contact_id", contactID, "appointment_id", appt.ID, "err", err)
		}
	}
	r.logger.Info("appointment sync finished", "created", res.Created, "total", res.Total, "failed", res.Failed)
	return res, nil
}
