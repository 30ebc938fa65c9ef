package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"booking-inbox/internal/domain"
)

func newTestReconciler(t *testing.T, store *memStore, now time.Time) *Reconciler {
	t.Helper()
	r, err := NewReconciler(store, store, ReconcilerOptions{ChannelID: "PNID-1"})
	require.NoError(t, err)
	r.now = func() time.Time { return now }
	return r
}

func TestNewReconciler_Validation(t *testing.T) {
	_, err := NewReconciler(nil, newMemStore(), ReconcilerOptions{})
	require.Error(t, err)
	_, err = NewReconciler(newMemStore(), nil, ReconcilerOptions{})
	require.Error(t, err)
}

func TestReconciler_SeedsScheduledConversations(t *testing.T) {
	store := newMemStore()
	store.upcoming = []domain.Appointment{
		{ID: "appt-1", Phone: "+34600111222", Name: "Ana", StartsAt: baseTime.Add(24 * time.Hour)},
		{ID: "appt-2", Phone: "+34 600 999 888", Name: "Luis", StartsAt: baseTime.Add(48 * time.Hour)},
		{ID: "appt-3", Phone: "", StartsAt: baseTime.Add(48 * time.Hour)},
	}
	store.convs["34600999888"] = domain.Conversation{ContactID: "34600999888", Status: domain.StatusClosed, Name: "keep"}
	r := newTestReconciler(t, store, baseTime)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, SyncResult{Created: 1, Total: 3}, res)

	seeded := store.conv("34600111222")
	require.Equal(t, domain.StatusScheduled, seeded.Status)
	require.Equal(t, "Ana", seeded.Name)
	require.Equal(t, "appt-1", seeded.AppointmentID)
	require.Equal(t, "PNID-1", seeded.ChannelID)
	require.Equal(t, ScheduledPlaceholder, seeded.LastMessage)
	require.Equal(t, baseTime, seeded.LastMessageAt)

	require.Equal(t, domain.StatusClosed, store.conv("34600999888").Status)
	require.Equal(t, "keep", store.conv("34600999888").Name)

	// Reruns are no-ops.
	res, err = r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, SyncResult{Created: 0, Total: 3}, res)
}

func TestReconciler_IgnoresPastAppointments(t *testing.T) {
	store := newMemStore()
	store.upcoming = []domain.Appointment{{ID: "old", Phone: "+1", StartsAt: baseTime.Add(-time.Hour)}}
	r := newTestReconciler(t, store, baseTime)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, SyncResult{}, res)
}

func TestReconciler_CountsFailures(t *testing.T) {
	store := newMemStore()
	store.upcoming = []domain.Appointment{{ID: "a", Phone: "+1", StartsAt: baseTime.Add(time.Hour)}}
	store.createErr = errBoom
	r := newTestReconciler(t, store, baseTime)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, SyncResult{Total: 1, Failed: 1}, res)
}
