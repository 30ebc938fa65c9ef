// Package handler runs the periodic jobs from EventBridge scheduled events.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"booking-inbox/internal/usecase"
)

const (
	JobSweep = "sweep"
	JobSync  = "sync"
)

type Sweeper interface {
	Run(ctx context.Context) (usecase.SweepResult, error)
}

type Syncer interface {
	Run(ctx context.Context) (usecase.SyncResult, error)
}

type Handler struct {
	sweeper Sweeper
	syncer  Syncer
	logger  *slog.Logger
}

func NewHandler(sweeper Sweeper, syncer Syncer) (*Handler, error) {
	if sweeper == nil {
		return nil, errors.New("handler: sweeper must not be nil")
	}
	if syncer == nil {
		return nil, errors.New("handler: syncer must not be nil")
	}
	return &Handler{sweeper: sweeper, syncer: syncer, logger: slog.Default()}, nil
}

// Response reports the counts of the jobs that ran.
type Response struct {
	Sweep *usecase.SweepResult `json:"sweep,omitempty"`
	Sync  *usecase.SyncResult  `json:"sync,omitempty"`
}

type jobDetail struct {
	Job string `json:"job"`
}

// Handle runs the job named by detail.job ("sweep" or "sync"), or both when
// no job is named. A failing job does not prevent the other from running;
// the invocation fails if any job failed.
func (h *Handler) Handle(ctx context.Context, ev events.CloudWatchEvent) (Response, error) {
	job, err := jobName(ev.Detail)
	if err != nil {
		return Response{}, err
	}

	var (
		resp Response
		errs []error
	)
	if job == "" || job == JobSync {
		res, err := h.syncer.Run(ctx)
		if err != nil {
			h.logger.Error("appointment sync failed", "code", usecase.CodeOf(err), "err", err, "event_id", ev.ID)
			errs = append(errs, fmt.Errorf("sync: %w", err))
		} else {
			resp.Sync = &res
		}
	}
	if job == "" || job == JobSweep {
		res, err := h.sweeper.Run(ctx)
		if err != nil {
			h.logger.Error("auto-close sweep failed", "code", usecase.CodeOf(err), "err", err, "event_id", ev.ID)
			errs = append(errs, fmt.Errorf("sweep: %w", err))
		} else {
			resp.Sweep = &res
		}
	}
	return resp, errors.Join(errs...)
}

func jobName(detail json.RawMessage) (string, error) {
	if len(detail) == 0 {
		return "", nil
	}
	var d jobDetail
	if err := json.Unmarshal(detail, &d); err != nil {
		return "", fmt.Errorf("handler: invalid event detail: %w", err)
	}
	job := strings.ToLower(strings.TrimSpace(d.Job))
	switch job {
	case "", JobSweep, JobSync:
		return job, nil
	default:
		return "", fmt.Errorf("handler: unknown job %q", d.Job)
	}
}
