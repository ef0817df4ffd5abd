package scanner

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"aaronromeo.com/mailsweep/pkg/base"
	"aaronromeo.com/mailsweep/pkg/models/adapter"
	"aaronromeo.com/mailsweep/pkg/models/archive"
	"aaronromeo.com/mailsweep/pkg/models/executor"
	"aaronromeo.com/mailsweep/pkg/models/matcher"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// AccountState tracks where an account task is in its lifecycle.
type AccountState string

const (
	StatePending    AccountState = "pending"
	StateConnecting AccountState = "connecting"
	StateListing    AccountState = "listing"
	StateMatching   AccountState = "matching"
	StateDone       AccountState = "done"
	StateErrored    AccountState = "errored"
)

// AccountSummary is the per-account outcome carried by a finished run.
type AccountSummary struct {
	AccountID  string       `json:"accountId"`
	State      AccountState `json:"state"`
	Processed  int          `json:"processed"`
	Candidates int          `json:"candidates"`
	Err        string       `json:"error,omitempty"`
}

// RunRequest describes one scan invocation.
type RunRequest struct {
	Accounts []base.Account     `json:"accounts"`
	Criteria base.MatchCriteria `json:"criteria"`
	Mode     base.Mode          `json:"mode"`
}

// RunResult is the terminal state of a run. A run always completes with a
// result; account failures show up only in the summaries.
type RunResult struct {
	RunID           string                `json:"runId"`
	Mode            base.Mode             `json:"mode"`
	Accounts        []AccountSummary      `json:"accounts"`
	Candidates      []base.Candidate      `json:"candidates,omitempty"`
	Records         []base.DeletionRecord `json:"records,omitempty"`
	TotalProcessed  int                   `json:"totalProcessed"`
	TotalCandidates int                   `json:"totalCandidates"`
}

type ScanEngine struct {
	client      adapter.MailboxClient
	exec        *executor.Executor
	archiver    *archive.Archiver
	logger      *slog.Logger
	concurrency int
	clock       func() time.Time
	newRunID    func() string
}

type ScanEngineOption func(*ScanEngine) error

func NewScanEngine(opts ...ScanEngineOption) (*ScanEngine, error) {
	engine := ScanEngine{
		concurrency: 4,
		clock:       time.Now,
		newRunID:    uuid.NewString,
	}
	for _, opt := range opts {
		err := opt(&engine)
		if err != nil {
			return nil, err
		}
	}

	if engine.client == nil {
		return nil, errors.New("requires mailbox client")
	}
	if engine.exec == nil {
		return nil, errors.New("requires executor")
	}
	if engine.logger == nil {
		return nil, errors.New("requires slogger")
	}
	if engine.concurrency < 1 {
		return nil, errors.New("concurrency must be at least 1")
	}

	return &engine, nil
}

func WithMailboxClient(client adapter.MailboxClient) ScanEngineOption {
	return func(engine *ScanEngine) error {
		engine.client = client
		return nil
	}
}

func WithExecutor(exec *executor.Executor) ScanEngineOption {
	return func(engine *ScanEngine) error {
		engine.exec = exec
		return nil
	}
}

func WithArchiver(ar *archive.Archiver) ScanEngineOption {
	return func(engine *ScanEngine) error {
		engine.archiver = ar
		return nil
	}
}

func WithLogger(logger *slog.Logger) ScanEngineOption {
	// slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return func(engine *ScanEngine) error {
		engine.logger = logger
		return nil
	}
}

func WithConcurrency(n int) ScanEngineOption {
	return func(engine *ScanEngine) error {
		engine.concurrency = n
		return nil
	}
}

func WithClock(clock func() time.Time) ScanEngineOption {
	return func(engine *ScanEngine) error {
		engine.clock = clock
		return nil
	}
}

func WithRunIDFn(fn func() string) ScanEngineOption {
	return func(engine *ScanEngine) error {
		engine.newRunID = fn
		return nil
	}
}

// Run processes every account in the request, bounded by the configured
// concurrency. Account-level failures are isolated and summarized; the only
// error Run itself returns is a failure to persist audit records.
func (engine *ScanEngine) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	switch req.Mode {
	case base.ModeSearch, base.ModeDryRun, base.ModeLive:
	default:
		return RunResult{}, errors.Errorf("unsupported run mode %q", req.Mode)
	}

	result := RunResult{
		RunID:    engine.newRunID(),
		Mode:     req.Mode,
		Accounts: make([]AccountSummary, len(req.Accounts)),
	}
	engine.logger.Info("Starting run",
		slog.String("run_id", result.RunID),
		slog.String("mode", string(req.Mode)),
		slog.Int("accounts", len(req.Accounts)))

	var (
		mu         sync.Mutex
		candidates []base.Candidate
		records    []base.DeletionRecord
		auditErr   error
	)

	sem := make(chan struct{}, engine.concurrency)
	var wg sync.WaitGroup
	for i := range req.Accounts {
		result.Accounts[i] = AccountSummary{
			AccountID: req.Accounts[i].ID,
			State:     StatePending,
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				result.Accounts[i].State = StateErrored
				result.Accounts[i].Err = ctx.Err().Error()
				return
			}

			accCandidates, accRecords, accAuditErr := engine.scanAccount(
				ctx, req.Accounts[i], req.Criteria, req.Mode, result.RunID, &result.Accounts[i])

			mu.Lock()
			defer mu.Unlock()
			candidates = append(candidates, accCandidates...)
			records = append(records, accRecords...)
			if accAuditErr != nil && auditErr == nil {
				auditErr = accAuditErr
			}
		}(i)
	}
	wg.Wait()

	for _, summary := range result.Accounts {
		result.TotalProcessed += summary.Processed
		result.TotalCandidates += summary.Candidates
	}
	if req.Mode == base.ModeSearch {
		result.Candidates = candidates
	} else {
		// Across accounts the audit order is completion time, not account
		// order.
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].ActionedAt.Before(records[j].ActionedAt)
		})
		result.Records = records
	}

	engine.logger.Info("Run finished",
		slog.String("run_id", result.RunID),
		slog.Int("processed", result.TotalProcessed),
		slog.Int("candidates", result.TotalCandidates))

	return result, auditErr
}

// scanAccount drives one account through the connect/list/match lifecycle
// and, outside of search mode, hands its candidates to the executor over
// the still-open connection. The returned error is an audit persistence
// failure only; everything else lands in the summary.
func (engine *ScanEngine) scanAccount(
	ctx context.Context,
	account base.Account,
	criteria base.MatchCriteria,
	mode base.Mode,
	runID string,
	summary *AccountSummary,
) ([]base.Candidate, []base.DeletionRecord, error) {
	summary.State = StateConnecting
	conn, err := engine.client.Connect(ctx, account)
	if err != nil {
		engine.logger.ErrorContext(ctx, "Failed to connect account",
			slog.String("account", account.ID), slog.Any("error", err))
		summary.State = StateErrored
		summary.Err = err.Error()
		return nil, nil, nil
	}
	defer func() {
		if err := conn.Close(); err != nil {
			engine.logger.Warn("Failed to close connection",
				slog.String("account", account.ID), slog.Any("error", err))
		}
	}()

	now := engine.clock()
	var candidates []base.Candidate
	var folderErrs []string
	for _, folder := range account.ScanFolders() {
		summary.State = StateListing
		msgs, err := conn.ListMessages(ctx, folder)
		if err != nil {
			engine.logger.ErrorContext(ctx, "Failed to list folder",
				slog.String("account", account.ID),
				slog.String("folder", folder),
				slog.Any("error", err))
			folderErrs = append(folderErrs, err.Error())
			continue
		}

		summary.State = StateMatching
		for _, msg := range msgs {
			summary.Processed++
			if matcher.Matches(msg, criteria, now) {
				candidates = append(candidates, base.Candidate{Account: account, Message: msg})
			}
		}
	}
	summary.Candidates = len(candidates)

	var records []base.DeletionRecord
	if mode != base.ModeSearch && len(candidates) > 0 {
		var deleter executor.Deleter = conn
		if engine.archiver != nil {
			deleter = archivingDeleter{conn: conn, archiver: engine.archiver, account: account}
		}

		records, err = engine.exec.Execute(ctx, deleter, runID, candidates, mode)
		if err != nil {
			summary.State = StateErrored
			summary.Err = err.Error()
			return candidates, records, err
		}
	}

	summary.State = StateDone
	if len(folderErrs) > 0 {
		summary.Err = strings.Join(folderErrs, "; ")
	}
	return candidates, records, nil
}

// archivingDeleter saves a copy of the message before deleting it. An
// archive failure keeps the message on the server.
type archivingDeleter struct {
	conn     adapter.Conn
	archiver *archive.Archiver
	account  base.Account
}

func (d archivingDeleter) DeleteMessage(ctx context.Context, folder string, uid uint32) error {
	msg, err := d.conn.FetchFull(ctx, folder, uid)
	if err != nil {
		return errors.Wrap(err, "archive before delete")
	}
	if err := d.archiver.Save(ctx, d.account, folder, msg); err != nil {
		return errors.Wrap(err, "archive before delete")
	}
	return d.conn.DeleteMessage(ctx, folder, uid)
}
