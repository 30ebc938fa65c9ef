package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"booking-inbox/internal/domain"
)

func newTestSweeper(t *testing.T, h *harness) *Sweeper {
	t.Helper()
	sw, err := NewSweeper(h.store, h.svc, SweeperOptions{CloseAfter: 24 * time.Hour})
	require.NoError(t, err)
	sw.now = func() time.Time { return h.clock }
	return sw
}

func TestNewSweeper_Validation(t *testing.T) {
	_, err := NewSweeper(nil, &ConversationService{}, SweeperOptions{})
	require.Error(t, err)
	_, err = NewSweeper(newMemStore(), nil, SweeperOptions{})
	require.Error(t, err)
}

func TestSweeper_ClosesStaleOnly(t *testing.T) {
	h := newHarness(t)
	h.seed(domain.Conversation{ContactID: "stale", Status: domain.StatusActive, LastMessageAt: baseTime.Add(-25 * time.Hour)})
	h.seed(domain.Conversation{ContactID: "fresh", Status: domain.StatusActive, LastMessageAt: baseTime.Add(-time.Hour)})
	h.seed(domain.Conversation{ContactID: "seed", Status: domain.StatusScheduled, LastMessageAt: baseTime.Add(-48 * time.Hour)})
	h.seed(domain.Conversation{ContactID: "done", Status: domain.StatusClosed, LastMessageAt: baseTime.Add(-48 * time.Hour)})
	sw := newTestSweeper(t, h)

	res, err := sw.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepResult{Considered: 2, Closed: 2}, res)

	require.Equal(t, domain.StatusClosed, h.store.conv("stale").Status)
	require.Equal(t, domain.StatusClosed, h.store.conv("seed").Status)
	require.Equal(t, domain.StatusActive, h.store.conv("fresh").Status)

	out := h.store.messages("stale")
	require.Len(t, out, 1)
	require.Equal(t, DefaultAutoCloseNotice, out[0].Text)
	require.Empty(t, h.store.messages("fresh"))
	require.Empty(t, h.store.messages("done"))

	// A second run finds nothing.
	res, err = sw.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepResult{}, res)
}

type flakyTransport struct {
	fakeTransport
	failFor string
}

func (f *flakyTransport) SendText(ctx context.Context, to, text string) (domain.Delivery, error) {
	if to == f.failFor {
		return domain.Delivery{}, errors.New("provider down")
	}
	return f.fakeTransport.SendText(ctx, to, text)
}

func TestSweeper_IsolatesFailures(t *testing.T) {
	h := newHarness(t)
	ft := &flakyTransport{failFor: "a"}
	svc, err := NewConversationService(h.store, h.store, ft, h.events, ConversationOptions{})
	require.NoError(t, err)
	svc.now = func() time.Time { return h.clock }
	h.svc = svc

	h.seed(domain.Conversation{ContactID: "a", Status: domain.StatusActive, LastMessageAt: baseTime.Add(-30 * time.Hour)})
	h.seed(domain.Conversation{ContactID: "b", Status: domain.StatusActive, LastMessageAt: baseTime.Add(-30 * time.Hour)})
	sw := newTestSweeper(t, h)

	res, err := sw.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepResult{Considered: 2, Closed: 1, Failed: 1}, res)
	require.Equal(t, domain.StatusActive, h.store.conv("a").Status)
	require.Equal(t, domain.StatusClosed, h.store.conv("b").Status)

	// The failed one is picked up again next run.
	ft.failFor = ""
	res, err = sw.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepResult{Considered: 1, Closed: 1}, res)
}

func TestSweeper_SkipsConversationTouchedAfterListing(t *testing.T) {
	h := newHarness(t)
	h.seed(domain.Conversation{ContactID: "a", Status: domain.StatusActive, LastMessageAt: baseTime.Add(-30 * time.Hour)})
	sw := newTestSweeper(t, h)

	lister := listerFunc(func(ctx context.Context, cutoff time.Time) ([]domain.Conversation, error) {
		convs, err := h.store.ListStaleConversations(ctx, cutoff)
		// A message lands between the listing and the close.
		c := h.store.convs["a"]
		c.LastMessageAt = h.clock
		h.store.convs["a"] = c
		return convs, err
	})
	sw.lister = lister

	res, err := sw.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepResult{Considered: 1}, res)
	require.Equal(t, domain.StatusActive, h.store.conv("a").Status)
	require.Zero(t, h.transport.calls())
}

type listerFunc func(ctx context.Context, cutoff time.Time) ([]domain.Conversation, error)

func (f listerFunc) ListStaleConversations(ctx context.Context, cutoff time.Time) ([]domain.Conversation, error) {
	return f(ctx, cutoff)
}

func TestSweeper_ListError(t *testing.T) {
	h := newHarness(t)
	h.store.staleErr = errBoom
	sw := newTestSweeper(t, h)
	_, err := sw.Run(context.Background())
	requireCode(t, err, ErrorUpstreamUnavailable)
}
