package executor

import (
	"context"
	"log/slog"
	"time"

	"aaronromeo.com/mailsweep/pkg/base"
	"aaronromeo.com/mailsweep/pkg/models/auditlog"
	"github.com/pkg/errors"
)

// Deleter issues one idempotent remote deletion. adapter.Conn satisfies it.
type Deleter interface {
	DeleteMessage(ctx context.Context, folder string, uid uint32) error
}

type Executor struct {
	sink   auditlog.Sink
	logger *slog.Logger
	clock  func() time.Time
}

type ExecutorOption func(*Executor) error

func NewExecutor(opts ...ExecutorOption) (*Executor, error) {
	ex := Executor{clock: time.Now}
	for _, opt := range opts {
		err := opt(&ex)
		if err != nil {
			return nil, err
		}
	}

	if ex.sink == nil {
		return nil, errors.New("requires audit sink")
	}
	if ex.logger == nil {
		return nil, errors.New("requires slogger")
	}

	return &ex, nil
}

func WithAuditLog(sink auditlog.Sink) ExecutorOption {
	return func(ex *Executor) error {
		ex.sink = sink
		return nil
	}
}

func WithLogger(logger *slog.Logger) ExecutorOption {
	// slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return func(ex *Executor) error {
		ex.logger = logger
		return nil
	}
}

func WithClock(clock func() time.Time) ExecutorOption {
	return func(ex *Executor) error {
		ex.clock = clock
		return nil
	}
}

// Execute processes candidates in the order received and returns one
// DeletionRecord per candidate, whatever happens to it. In DRY_RUN mode no
// delete is issued. In LIVE mode a single failed delete is recorded and the
// batch continues; once ctx is done no further deletes are issued and the
// remaining candidates are recorded as FAILED so the accounting stays total.
// Only a failed audit append aborts the batch; records appended before the
// failure remain and are returned alongside the error.
func (ex *Executor) Execute(ctx context.Context, deleter Deleter, runID string, candidates []base.Candidate, mode base.Mode) ([]base.DeletionRecord, error) {
	if mode != base.ModeDryRun && mode != base.ModeLive {
		return nil, errors.Errorf("unsupported execution mode %q", mode)
	}
	if mode == base.ModeLive && deleter == nil {
		return nil, errors.New("live mode requires a deleter")
	}

	records := make([]base.DeletionRecord, 0, len(candidates))
	for _, candidate := range candidates {
		record := base.DeletionRecord{
			RunID:      runID,
			AccountID:  candidate.Account.ID,
			Folder:     candidate.Message.Folder,
			MessageUID: candidate.Message.UID,
			Sender:     candidate.Message.Sender,
			Subject:    candidate.Message.Subject,
			ReceivedAt: candidate.Message.ReceivedAt,
		}

		switch {
		case mode == base.ModeDryRun:
			record.Outcome = base.OutcomeSkippedDryRun
			ex.logger.Info("Dry run, would delete",
				slog.String("account", candidate.Account.ID),
				slog.String("sender", candidate.Message.Sender),
				slog.String("subject", candidate.Message.Subject))
		case ctx.Err() != nil:
			record.Outcome = base.OutcomeFailed
			record.ErrorDetail = "run canceled before deletion"
		default:
			record.Outcome, record.ErrorDetail = ex.deleteOne(ctx, deleter, candidate)
		}

		record.ActionedAt = ex.clock()

		if err := ex.sink.Append(ctx, record); err != nil {
			ex.logger.ErrorContext(ctx, err.Error(), slog.Any("error", err))
			return records, err
		}
		records = append(records, record)
	}

	return records, nil
}

func (ex *Executor) deleteOne(ctx context.Context, deleter Deleter, candidate base.Candidate) (base.Outcome, string) {
	if err := deleter.DeleteMessage(ctx, candidate.Message.Folder, candidate.Message.UID); err != nil {
		return base.OutcomeFailed, err.Error()
	}

	ex.logger.Warn("Deleted message",
		slog.String("account", candidate.Account.ID),
		slog.String("sender", candidate.Message.Sender),
		slog.String("subject", candidate.Message.Subject))
	return base.OutcomeDeleted, ""
}
