package executor_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"aaronromeo.com/mailsweep/pkg/base"
	"aaronromeo.com/mailsweep/pkg/mock"
	"aaronromeo.com/mailsweep/pkg/models/auditlog"
	"aaronromeo.com/mailsweep/pkg/models/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeleter struct {
	failUIDs map[uint32]error
	deleted  []uint32
}

func (d *fakeDeleter) DeleteMessage(_ context.Context, _ string, uid uint32) error {
	if err, ok := d.failUIDs[uid]; ok {
		return err
	}
	d.deleted = append(d.deleted, uid)
	return nil
}

type failingSink struct {
	allowed int
	seen    int
}

func (s *failingSink) Append(_ context.Context, _ base.DeletionRecord) error {
	if s.seen >= s.allowed {
		return &base.AuditWriteError{Err: fmt.Errorf("disk full")}
	}
	s.seen++
	return nil
}

func (s *failingSink) Query(_ context.Context, _ auditlog.Filter) ([]base.DeletionRecord, error) {
	return nil, nil
}

func fakeClock() func() time.Time {
	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func candidateFixtures(n int) []base.Candidate {
	account := base.Account{ID: "gmail1", Email: "user@gmail.com"}
	candidates := make([]base.Candidate, 0, n)
	for i := 1; i <= n; i++ {
		candidates = append(candidates, base.Candidate{
			Account: account,
			Message: base.Message{
				UID:        uint32(i),
				Folder:     "INBOX",
				Sender:     "promo@shop.com",
				Subject:    fmt.Sprintf("Sale %d", i),
				ReceivedAt: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
			},
		})
	}
	return candidates
}

func newExecutor(t *testing.T, sink auditlog.Sink) *executor.Executor {
	t.Helper()
	ex, err := executor.NewExecutor(
		executor.WithAuditLog(sink),
		executor.WithLogger(mock.SetupLogger(t)),
		executor.WithClock(fakeClock()),
	)
	require.NoError(t, err)
	return ex
}

func TestExecuteDryRunIssuesNoDeletes(t *testing.T) {
	sink := auditlog.NewMemoryLog()
	ex := newExecutor(t, sink)
	deleter := &fakeDeleter{}

	records, err := ex.Execute(context.Background(), deleter, "run-1", candidateFixtures(2), base.ModeDryRun)
	require.NoError(t, err)

	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, base.OutcomeSkippedDryRun, record.Outcome)
		assert.Empty(t, record.ErrorDetail)
		assert.False(t, record.ActionedAt.IsZero())
	}
	assert.Empty(t, deleter.deleted)

	persisted, err := sink.Query(context.Background(), auditlog.Filter{RunID: "run-1"})
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestExecuteLiveRecordsEveryCandidate(t *testing.T) {
	sink := auditlog.NewMemoryLog()
	ex := newExecutor(t, sink)
	deleter := &fakeDeleter{}
	candidates := candidateFixtures(3)

	records, err := ex.Execute(context.Background(), deleter, "run-1", candidates, base.ModeLive)
	require.NoError(t, err)

	require.Len(t, records, len(candidates))
	for i, record := range records {
		assert.Equal(t, base.OutcomeDeleted, record.Outcome)
		assert.Equal(t, candidates[i].Message.UID, record.MessageUID)
		assert.Equal(t, "gmail1", record.AccountID)
	}
	assert.Equal(t, []uint32{1, 2, 3}, deleter.deleted)
}

func TestExecuteLiveContinuesPastSingleFailure(t *testing.T) {
	sink := auditlog.NewMemoryLog()
	ex := newExecutor(t, sink)
	deleter := &fakeDeleter{failUIDs: map[uint32]error{
		2: &base.DeleteError{AccountID: "gmail1", Folder: "INBOX", MessageUID: 2, Err: fmt.Errorf("connection reset")},
	}}

	records, err := ex.Execute(context.Background(), deleter, "run-1", candidateFixtures(3), base.ModeLive)
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, base.OutcomeDeleted, records[0].Outcome)
	assert.Equal(t, base.OutcomeFailed, records[1].Outcome)
	assert.Contains(t, records[1].ErrorDetail, "connection reset")
	assert.Equal(t, base.OutcomeDeleted, records[2].Outcome)
	assert.Equal(t, []uint32{1, 3}, deleter.deleted)
}

func TestExecuteCanceledContextStopsNewDeletes(t *testing.T) {
	sink := auditlog.NewMemoryLog()
	ex := newExecutor(t, sink)
	deleter := &fakeDeleter{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, err := ex.Execute(ctx, deleter, "run-1", candidateFixtures(2), base.ModeLive)
	require.NoError(t, err)

	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, base.OutcomeFailed, record.Outcome)
		assert.Equal(t, "run canceled before deletion", record.ErrorDetail)
	}
	assert.Empty(t, deleter.deleted)
}

func TestExecuteAuditFailureAbortsBatch(t *testing.T) {
	sink := &failingSink{allowed: 1}
	ex := newExecutor(t, sink)
	deleter := &fakeDeleter{}

	records, err := ex.Execute(context.Background(), deleter, "run-1", candidateFixtures(3), base.ModeLive)
	require.Error(t, err)

	var auditErr *base.AuditWriteError
	assert.ErrorAs(t, err, &auditErr)
	// The first record made it to the sink; the batch stops at the failure.
	assert.Len(t, records, 1)
	assert.Equal(t, []uint32{1, 2}, deleter.deleted)
}

func TestExecuteRejectsSearchMode(t *testing.T) {
	ex := newExecutor(t, auditlog.NewMemoryLog())

	_, err := ex.Execute(context.Background(), &fakeDeleter{}, "run-1", candidateFixtures(1), base.ModeSearch)
	assert.Error(t, err)
}

func TestExecuteLiveRequiresDeleter(t *testing.T) {
	ex := newExecutor(t, auditlog.NewMemoryLog())

	_, err := ex.Execute(context.Background(), nil, "run-1", candidateFixtures(1), base.ModeLive)
	assert.Error(t, err)
}
