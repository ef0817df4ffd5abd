package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aaronromeo.com/mailsweep/handlers"
	"aaronromeo.com/mailsweep/pkg/base"
	"aaronromeo.com/mailsweep/pkg/models/auditlog"
	"aaronromeo.com/mailsweep/pkg/models/scanner"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	req    scanner.RunRequest
	result scanner.RunResult
	err    error
}

func (e *stubEngine) Run(_ context.Context, req scanner.RunRequest) (scanner.RunResult, error) {
	e.req = req
	return e.result, e.err
}

func newApp(engine handlers.ScanRunner, sink auditlog.Sink, accounts []base.Account) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if engine != nil {
			c.Locals("engine", engine)
		}
		if sink != nil {
			c.Locals("auditlog", sink)
		}
		if accounts != nil {
			c.Locals("accounts", accounts)
		}
		return c.Next()
	})
	app.Get("/api/health", handlers.Health)
	app.Get("/api/accounts", handlers.Accounts)
	app.Post("/api/search", handlers.Search)
	app.Get("/api/audit", handlers.AuditLog)
	return app
}

func TestHealth(t *testing.T) {
	app := newApp(nil, nil, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "healthy")
}

func TestAccounts(t *testing.T) {
	accounts := []base.Account{{ID: "gmail1", Email: "user@gmail.com", CredentialRef: "GMAIL1_PASSWORD"}}
	app := newApp(nil, nil, accounts)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/accounts", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "gmail1")
	// The credential reference never crosses the wire.
	assert.NotContains(t, string(body), "GMAIL1_PASSWORD")
}

func TestAccountsWithoutLocals(t *testing.T) {
	app := newApp(nil, nil, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/accounts", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestSearchRunsSearchMode(t *testing.T) {
	engine := &stubEngine{result: scanner.RunResult{
		RunID:           "run-1",
		Mode:            base.ModeSearch,
		TotalCandidates: 3,
	}}
	accounts := []base.Account{{ID: "gmail1", Email: "user@gmail.com"}}
	app := newApp(engine, nil, accounts)

	req := httptest.NewRequest("POST", "/api/search",
		strings.NewReader(`{"sender":"promo@shop.com","minAge":"60m"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	assert.Equal(t, base.ModeSearch, engine.req.Mode)
	assert.Equal(t, "promo@shop.com", engine.req.Criteria.Sender)
	assert.Equal(t, time.Hour, engine.req.Criteria.MinAge)

	var result scanner.RunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, 3, result.TotalCandidates)
}

func TestSearchRejectsEmptyCriteria(t *testing.T) {
	app := newApp(&stubEngine{}, nil, []base.Account{{ID: "gmail1"}})

	req := httptest.NewRequest("POST", "/api/search", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSearchRejectsBadMinAge(t *testing.T) {
	app := newApp(&stubEngine{}, nil, []base.Account{{ID: "gmail1"}})

	req := httptest.NewRequest("POST", "/api/search", strings.NewReader(`{"minAge":"soon"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAuditLogFilters(t *testing.T) {
	sink := auditlog.NewMemoryLog()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Append(context.Background(), base.DeletionRecord{
		RunID: "run-1", AccountID: "gmail1", Outcome: base.OutcomeDeleted, ActionedAt: t0,
	}))
	require.NoError(t, sink.Append(context.Background(), base.DeletionRecord{
		RunID: "run-1", AccountID: "yahoo1", Outcome: base.OutcomeFailed, ActionedAt: t0.Add(time.Second),
	}))

	app := newApp(nil, sink, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/audit?outcome=failed", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Log []base.DeletionRecord `json:"log"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Log, 1)
	assert.Equal(t, "yahoo1", payload.Log[0].AccountID)
}

func TestAuditLogRejectsBadSince(t *testing.T) {
	app := newApp(nil, auditlog.NewMemoryLog(), nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/audit?since=yesterday", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
