package handlers

import (
	"context"
	"time"

	"aaronromeo.com/mailsweep/internal/config"
	"aaronromeo.com/mailsweep/pkg/base"
	"aaronromeo.com/mailsweep/pkg/models/auditlog"
	"aaronromeo.com/mailsweep/pkg/models/scanner"
	"github.com/gofiber/fiber/v2"
)

// ScanRunner is the engine surface the HTTP layer drives. Search only; the
// HTTP surface never deletes.
type ScanRunner interface {
	Run(ctx context.Context, req scanner.RunRequest) (scanner.RunResult, error)
}

// SearchRequest is the inbound search payload.
type SearchRequest struct {
	Sender      string `json:"sender"`
	SenderExact bool   `json:"senderExact"`
	Subject     string `json:"subject"`
	MinAge      string `json:"minAge"`
}

// Health reports liveness.
func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Accounts lists the configured accounts without credentials.
func Accounts(c *fiber.Ctx) error {
	accounts, ok := c.Locals("accounts").([]base.Account)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).SendString("Could not retrieve accounts")
	}
	return c.JSON(fiber.Map{"accounts": accounts})
}

// Search runs a SEARCH-mode scan across all configured accounts.
func Search(c *fiber.Ctx) error {
	engine, ok := c.Locals("engine").(ScanRunner)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).SendString("Could not retrieve scan engine")
	}
	accounts, ok := c.Locals("accounts").([]base.Account)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).SendString("Could not retrieve accounts")
	}

	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid search request")
	}

	minAge, err := config.ParseRelativeDuration(req.MinAge)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid minAge")
	}

	criteria := base.MatchCriteria{
		Sender:      req.Sender,
		SenderExact: req.SenderExact,
		Subject:     req.Subject,
		MinAge:      minAge,
	}
	if criteria.Empty() {
		return c.Status(fiber.StatusBadRequest).
			SendString("At least one search criteria (sender, subject or minAge) must be provided")
	}

	result, err := engine.Run(c.UserContext(), scanner.RunRequest{
		Accounts: accounts,
		Criteria: criteria,
		Mode:     base.ModeSearch,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}

	return c.JSON(result)
}

// AuditLog returns deletion history, optionally filtered by query params.
func AuditLog(c *fiber.Ctx) error {
	sink, ok := c.Locals("auditlog").(auditlog.Sink)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).SendString("Could not retrieve audit log")
	}

	filter := auditlog.Filter{
		RunID:     c.Query("run"),
		AccountID: c.Query("account"),
		Outcome:   base.Outcome(c.Query("outcome")),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid since timestamp")
		}
		filter.Since = t
	}

	records, err := sink.Query(c.UserContext(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}

	return c.JSON(fiber.Map{"log": records})
}
