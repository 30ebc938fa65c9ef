package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"booking-inbox/internal/domain"
)

const defaultCloseAfter = 24 * time.Hour

type StaleLister interface {
	ListStaleConversations(ctx context.Context, cutoff time.Time) ([]domain.Conversation, error)
}

type staleCloser interface {
	CloseStale(ctx context.Context, contactID, notice string, cutoff time.Time) (bool, error)
}

// Sweeper closes open conversations whose last message is older than the
// configured threshold.
type Sweeper struct {
	lister     StaleLister
	closer     staleCloser
	closeAfter time.Duration
	notice     string
	logger     *slog.Logger
	now        func() time.Time
}

type SweeperOptions struct {
	CloseAfter time.Duration
	Notice     string
	Logger     *slog.Logger
}

func NewSweeper(lister StaleLister, conversations *ConversationService, opts SweeperOptions) (*Sweeper, error) {
	if lister == nil {
		return nil, errors.New("usecase: stale lister must not be nil")
	}
	if conversations == nil {
		return nil, errors.New("usecase: conversation service must not be nil")
	}
	return newSweeper(lister, conversations, opts), nil
}

func newSweeper(lister StaleLister, closer staleCloser, opts SweeperOptions) *Sweeper {
	s := &Sweeper{
		lister:     lister,
		closer:     closer,
		closeAfter: opts.CloseAfter,
		notice:     strings.TrimSpace(opts.Notice),
		logger:     opts.Logger,
		now:        time.Now,
	}
	if s.closeAfter <= 0 {
		s.closeAfter = defaultCloseAfter
	}
	if s.notice == "" {
		s.notice = DefaultAutoCloseNotice
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

type SweepResult struct {
	Considered int `json:"considered"`
	Closed     int `json:"closed"`
	Failed     int `json:"failed"`
}

// Run performs one sweep. Per-conversation failures are logged and counted;
// the conversation stays open and is selected again by the next run.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	cutoff := s.now().UTC().Add(-s.closeAfter)
	stale, err := s.lister.ListStaleConversations(ctx, cutoff)
	if err != nil {
		return SweepResult{}, storeError("stale_list_error", err)
	}

	res := SweepResult{Considered: len(stale)}
	for _, conv := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		closed, err := s.closer.CloseStale(ctx, conv.ContactID, s.notice, cutoff)
		if err != nil {
			res.Failed++
			s.logger.Warn("auto-close failed", "contact_id", conv.ContactID, "code", CodeOf(err), "err", err)
			continue
		}
		if closed {
			res.Closed++
		}
	}
	s.logger.Info("auto-close sweep finished",
		"considered", res.Considered, "closed", res.Closed, "failed", res.Failed, "cutoff", cutoff)
	return res, nil
}
