package http

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/service"
)

// Archiver uploads a compliance record and returns its key and a download URL.
type Archiver interface {
	Archive(ctx context.Context, r domain.ComplianceRecord) (string, string, error)
}

type DeliveryLister interface {
	PendingFor(ctx context.Context, alertID string) ([]domain.PendingDelivery, error)
}

// Deps are the optional collaborators behind some routes. Nil fields disable them.
type Deps struct {
	Archiver   Archiver
	Deliveries DeliveryLister
}

func Register(app *fiber.App, engine *service.Engine, deps Deps) {
	h := &handlers{engine: engine, deps: deps}

	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	g := app.Group("/")
	g.Post("readings", h.ingest)

	g.Get("alerts", h.listAlerts)
	g.Post("alerts/clear", h.clearAlert)
	g.Get("alerts/:id", h.getAlert)
	g.Post("alerts/:id/ack", h.ackAlert)
	g.Post("alerts/:id/resolve", h.resolveAlert)
	g.Get("alerts/:id/deliveries", h.deliveries)

	g.Get("tanks", func(c *fiber.Ctx) error { return c.JSON(engine.Tanks()) })
	g.Get("tanks/:id", h.getTank)
	g.Put("tanks/:id/level", h.updateTank)

	g.Get("devices/:id/cooldowns/:action", h.cooldown)

	g.Get("facilities/:id/compliance", h.compliance)
	g.Post("facilities/:id/compliance/archive", h.archive)
}

type handlers struct {
	engine *service.Engine
	deps   Deps
}

// writeError maps engine errors onto status codes.
func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	body := fiber.Map{"error": err.Error(), "kind": domain.ErrorKind(err)}

	var ve *domain.ValidationError
	switch domain.ErrorKind(err) {
	case "validation":
		status = fiber.StatusBadRequest
		if errors.As(err, &ve) {
			body["field"] = ve.Field
		}
	case "not_found":
		status = fiber.StatusNotFound
	case "invalid_state":
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(body)
}

func badRequest(field, reason string) error {
	return &domain.ValidationError{Field: field, Reason: reason}
}

func (h *handlers) ingest(c *fiber.Ctx) error {
	payload, err := service.DecodePayload(c.Body())
	if err != nil {
		return writeError(c, err)
	}
	res, err := h.engine.IngestReading(c.UserContext(), payload)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(res)
}

func (h *handlers) listAlerts(c *fiber.Ctx) error {
	f := domain.AlertFilter{
		Category:   domain.Category(strings.ToUpper(c.Query("category"))),
		DeviceID:   c.Query("device_id"),
		FacilityID: c.Query("facility_id"),
	}
	for _, s := range splitList(c.Query("severity")) {
		t, err := domain.ParseTier(s)
		if err != nil {
			return writeError(c, badRequest("severity", err.Error()))
		}
		f.Severities = append(f.Severities, t)
	}
	for _, s := range splitList(c.Query("status")) {
		st := domain.Status(strings.ToUpper(s))
		if st != domain.StatusActive && st != domain.StatusAcknowledged && st != domain.StatusResolved {
			return writeError(c, badRequest("status", "unknown status "+s))
		}
		f.Statuses = append(f.Statuses, st)
	}
	if f.Category != "" && !f.Category.Valid() {
		return writeError(c, badRequest("category", "unknown category "+string(f.Category)))
	}
	var err error
	if f.From, err = parseTime(c.Query("from"), "from"); err != nil {
		return writeError(c, err)
	}
	if f.To, err = parseTime(c.Query("to"), "to"); err != nil {
		return writeError(c, err)
	}
	return c.JSON(h.engine.ListAlerts(f))
}

func (h *handlers) getAlert(c *fiber.Ctx) error {
	a, err := h.engine.GetAlert(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(a)
}

type transitionRequest struct {
	By    string `json:"by"`
	Notes string `json:"notes"`
}

func (h *handlers) ackAlert(c *fiber.Ctx) error {
	var req transitionRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, badRequest("body", err.Error()))
	}
	a, err := h.engine.AcknowledgeAlert(c.UserContext(), c.Params("id"), req.By, req.Notes)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(a)
}

func (h *handlers) resolveAlert(c *fiber.Ctx) error {
	var req transitionRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, badRequest("body", err.Error()))
	}
	a, err := h.engine.ResolveAlert(c.UserContext(), c.Params("id"), req.By, req.Notes)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(a)
}

type clearRequest struct {
	DeviceID string `json:"device_id"`
	Category string `json:"category"`
	By       string `json:"by"`
}

func (h *handlers) clearAlert(c *fiber.Ctx) error {
	var req clearRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, badRequest("body", err.Error()))
	}
	if req.DeviceID == "" {
		return writeError(c, badRequest("device_id", "required"))
	}
	a, err := h.engine.ClearAlert(c.UserContext(), req.DeviceID, domain.Category(strings.ToUpper(req.Category)), req.By)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(a)
}

func (h *handlers) deliveries(c *fiber.Ctx) error {
	if h.deps.Deliveries == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "delivery log not configured"})
	}
	id := c.Params("id")
	if _, err := h.engine.GetAlert(id); err != nil {
		return writeError(c, err)
	}
	items, err := h.deps.Deliveries.PendingFor(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(items)
}

func (h *handlers) getTank(c *fiber.Ctx) error {
	t, err := h.engine.Tank(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(t)
}

type levelRequest struct {
	LevelPct  *float64 `json:"level_pct"`
	Timestamp string   `json:"timestamp"`
}

func (h *handlers) updateTank(c *fiber.Ctx) error {
	var req levelRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, badRequest("body", err.Error()))
	}
	if req.LevelPct == nil {
		return writeError(c, badRequest("level_pct", "required"))
	}
	ts, err := parseTime(req.Timestamp, "timestamp")
	if err != nil {
		return writeError(c, err)
	}
	upd, err := h.engine.UpdateTankLevel(c.UserContext(), c.Params("id"), *req.LevelPct, ts)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(upd)
}

func (h *handlers) cooldown(c *fiber.Ctx) error {
	st, err := h.engine.CooldownStatus(c.Params("id"), domain.ActionType(strings.ToUpper(c.Params("action"))))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(st)
}

func (h *handlers) report(c *fiber.Ctx) (domain.ComplianceRecord, error) {
	end, err := parseTime(c.Query("end"), "end")
	if err != nil {
		return domain.ComplianceRecord{}, err
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start, err := parseTime(c.Query("start"), "start")
	if err != nil {
		return domain.ComplianceRecord{}, err
	}
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}
	return h.engine.ComplianceReport(c.Params("id"), start, end)
}

func (h *handlers) compliance(c *fiber.Ctx) error {
	rec, err := h.report(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(rec)
}

func (h *handlers) archive(c *fiber.Ctx) error {
	if h.deps.Archiver == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "report archive not configured"})
	}
	rec, err := h.report(c)
	if err != nil {
		return writeError(c, err)
	}
	key, url, err := h.deps.Archiver.Archive(c.UserContext(), rec)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"key": key, "url": url, "report": rec})
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseTime(s, field string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, badRequest(field, "expected RFC3339 time")
	}
	return t, nil
}
