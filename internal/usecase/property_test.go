package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"booking-inbox/internal/domain"
)

var contactIDs = rapid.StringMatching(`[1-9][0-9]{7,11}`)

// A Closed conversation never changes status on inbound messages, and each
// distinct inbound message adds exactly one IN and one OUT message.
func TestProperty_ClosedInboundNeverReopens(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(t)
		contactID := contactIDs.Draw(t, "contact")
		h.seed(domain.Conversation{ContactID: contactID, Status: domain.StatusClosed, LastMessage: "closed"})

		n := rapid.IntRange(1, 8).Draw(t, "messages")
		distinct := 0
		seen := map[int]bool{}
		for i := 0; i < n; i++ {
			id := rapid.IntRange(0, 4).Draw(t, "id")
			_, err := h.svc.RecordInbound(context.Background(), inbound(contactID, fmt.Sprintf("wamid.%d", id), "ping", baseTime.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
			if !seen[id] {
				seen[id] = true
				distinct++
			}
			require.Equal(t, domain.StatusClosed, h.store.conv(contactID).Status)
		}
		require.Equal(t, distinct, h.store.count(contactID, domain.DirectionIn))
		require.Equal(t, distinct, h.store.count(contactID, domain.DirectionOut))
		require.Equal(t, distinct, h.transport.calls())
		require.Equal(t, "closed", h.store.conv(contactID).LastMessage)
	})
}

// First contact with an appointment and no history starts Scheduled; every
// later inbound leaves the conversation Active.
func TestProperty_InitialStatus(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(t)
		contactID := contactIDs.Draw(t, "contact")
		hasAppt := rapid.Bool().Draw(t, "appointment")
		hasHistory := rapid.Bool().Draw(t, "history")
		if hasAppt {
			phone := domain.PhoneFromContactID(contactID)
			h.store.appointments[phone] = domain.Appointment{ID: "appt", Phone: phone}
		}
		if hasHistory {
			h.store.msgs[contactID] = []domain.Message{{ID: "prior", ContactID: contactID, Direction: domain.DirectionOut, SentAt: baseTime}}
		}

		res, err := h.svc.RecordInbound(context.Background(), inbound(contactID, "first", "hola", baseTime))
		require.NoError(t, err)
		require.True(t, res.Created)
		want := domain.StatusActive
		if hasAppt && !hasHistory {
			want = domain.StatusScheduled
		}
		require.Equal(t, want, res.InitialStatus)
		require.Equal(t, domain.StatusActive, h.store.conv(contactID).Status)

		more := rapid.IntRange(0, 5).Draw(t, "more")
		for i := 0; i < more; i++ {
			res, err := h.svc.RecordInbound(context.Background(), inbound(contactID, fmt.Sprintf("m%d", i), "x", baseTime.Add(time.Duration(i+1)*time.Minute)))
			require.NoError(t, err)
			require.False(t, res.Created)
			require.Equal(t, domain.StatusActive, h.store.conv(contactID).Status)
		}
	})
}

// Repeated closes keep the conversation Closed and add one notice per call.
func TestProperty_CloseIdempotentInEffect(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(t)
		contactID := contactIDs.Draw(t, "contact")
		status := rapid.SampledFrom([]domain.Status{domain.StatusScheduled, domain.StatusActive}).Draw(t, "status")
		h.seed(domain.Conversation{ContactID: contactID, Status: status})

		calls := rapid.IntRange(1, 4).Draw(t, "calls")
		for i := 1; i <= calls; i++ {
			_, err := h.svc.Close(context.Background(), contactID, "bye")
			require.NoError(t, err)
			require.Equal(t, domain.StatusClosed, h.store.conv(contactID).Status)
			require.Equal(t, i, h.store.count(contactID, domain.DirectionOut))
		}
	})
}

// Arbitrary interleavings of inbound, send and close never let an inbound
// message move a Closed conversation out of Closed, and message history only
// grows.
func TestProperty_ClosedOnlyLeftByReopen(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(t)
		contactID := contactIDs.Draw(t, "contact")
		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		history := 0
		for i := 0; i < steps; i++ {
			before, existed := h.store.convs[contactID]
			h.advance(time.Minute)
			op := rapid.SampledFrom([]string{"inbound", "send", "close", "reopen"}).Draw(t, "op")
			switch op {
			case "inbound":
				_, err := h.svc.RecordInbound(context.Background(), inbound(contactID, fmt.Sprintf("in%d", i), "x", h.clock))
				require.NoError(t, err)
				if existed && before.Status == domain.StatusClosed {
					require.Equal(t, domain.StatusClosed, h.store.conv(contactID).Status)
				} else {
					require.Equal(t, domain.StatusActive, h.store.conv(contactID).Status)
				}
			case "send":
				_, err := h.svc.Send(context.Background(), SendInput{ContactID: contactID, Text: "y"})
				if existed && before.Status == domain.StatusClosed {
					require.Equal(t, ErrorConversationClosed, CodeOf(err))
				} else {
					require.NoError(t, err)
				}
			case "close":
				_, err := h.svc.Close(context.Background(), contactID, "")
				if !existed {
					require.Equal(t, ErrorNotFound, CodeOf(err))
				} else {
					require.NoError(t, err)
					require.Equal(t, domain.StatusClosed, h.store.conv(contactID).Status)
				}
			case "reopen":
				_, err := h.svc.Reopen(context.Background(), contactID)
				if existed {
					require.NoError(t, err)
					require.Equal(t, domain.StatusActive, h.store.conv(contactID).Status)
				}
			}
			now := len(h.store.messages(contactID))
			require.GreaterOrEqual(t, now, history)
			history = now
		}
	})
}
