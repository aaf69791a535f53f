// Package api implements the REST API for cohort definitions, expression
// parsing and time humanizing.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/lemonberrylabs/cohort-reporting/pkg/bind"
	"github.com/lemonberrylabs/cohort-reporting/pkg/definition"
	"github.com/lemonberrylabs/cohort-reporting/pkg/expr"
	"github.com/lemonberrylabs/cohort-reporting/pkg/store"
	"github.com/lemonberrylabs/cohort-reporting/pkg/timespan"
)

// Server is the REST API server.
type Server struct {
	app      *fiber.App
	registry store.Registry
	parser   *expr.Parser
	logger   *slog.Logger
	clock    timespan.Clock
	locale   string
	access   io.Writer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for request failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithParser replaces the default parser built around the registry.
func WithParser(p *expr.Parser) Option {
	return func(s *Server) { s.parser = p }
}

// WithClock sets the clock used when a timespan request omits its reference.
func WithClock(c timespan.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithLocale sets the locale used when a timespan request names none.
func WithLocale(locale string) Option {
	return func(s *Server) { s.locale = locale }
}

// WithAccessLog writes one line per request to w.
func WithAccessLog(w io.Writer) Option {
	return func(s *Server) { s.access = w }
}

// New creates a new API server backed by registry.
func New(registry store.Registry, opts ...Option) *Server {
	srv := &Server{
		registry: registry,
		logger:   slog.New(slog.DiscardHandler),
		clock:    time.Now,
		locale:   "en",
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.parser == nil {
		srv.parser = expr.New(registry, expr.WithLogger(srv.logger))
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		UnescapePath:          true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	app.Use(recover.New())
	if srv.access != nil {
		app.Use(logger.New(logger.Config{Output: srv.access}))
	}

	srv.Register(app)
	srv.app = app
	return srv
}

// Register mounts the API routes on app.
func (s *Server) Register(app *fiber.App) {
	app.Post("/v1/definitions", s.createDefinition)
	app.Get("/v1/definitions", s.listDefinitions)
	app.Get("/v1/definitions/:name", s.getDefinition)
	app.Patch("/v1/definitions/:name", s.updateDefinition)
	app.Delete("/v1/definitions/:name", s.deleteDefinition)

	app.Post("/v1/expressions\\:parse", s.parseExpression)
	app.Get("/v1/timespan", s.humanize)
}

// Listen starts the HTTP server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// --- Definition Handlers ---

func (s *Server) createDefinition(c *fiber.Ctx) error {
	var def definition.Definition
	if err := json.Unmarshal(c.Body(), &def); err != nil {
		return badRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}

	created, err := s.registry.Create(c.UserContext(), &def)
	if err != nil {
		return s.fail(c, err)
	}
	s.logger.Info("created definition", slog.String("name", created.Name))
	return c.Status(fiber.StatusOK).JSON(created)
}

func (s *Server) getDefinition(c *fiber.Ctx) error {
	def, err := s.registry.Get(c.UserContext(), c.Params("name"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(def)
}

func (s *Server) listDefinitions(c *fiber.Ctx) error {
	defs, err := s.registry.List(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}

	if kind := c.Query("kind"); kind != "" {
		filtered := defs[:0]
		for _, d := range defs {
			if string(d.Kind) == kind {
				filtered = append(filtered, d)
			}
		}
		defs = filtered
	}
	if defs == nil {
		defs = []*definition.Definition{}
	}
	return c.JSON(fiber.Map{"definitions": defs})
}

// updateDefinition merges the request body into the stored definition, so
// omitted fields keep their values.
func (s *Server) updateDefinition(c *fiber.Ctx) error {
	name := c.Params("name")
	existing, err := s.registry.Get(c.UserContext(), name)
	if err != nil {
		return s.fail(c, err)
	}
	if err := json.Unmarshal(c.Body(), existing); err != nil {
		return badRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}

	updated, err := s.registry.Update(c.UserContext(), name, existing)
	if err != nil {
		return s.fail(c, err)
	}
	s.logger.Info("updated definition", slog.String("name", updated.Name))
	return c.JSON(updated)
}

func (s *Server) deleteDefinition(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := s.registry.Delete(c.UserContext(), name); err != nil {
		return s.fail(c, err)
	}
	s.logger.Info("deleted definition", slog.String("name", name))
	return c.JSON(fiber.Map{"name": name, "deleted": true})
}

// --- Expression Handlers ---

type parseRequest struct {
	Expression string       `json:"expression"`
	Context    bind.Context `json:"context,omitempty"`
}

type parseResponse struct {
	Expression string             `json:"expression"`
	Normalized string             `json:"normalized"`
	Tokens     expr.TokenSequence `json:"tokens"`
	Bindings   []bind.Binding     `json:"bindings,omitempty"`
}

func (s *Server) parseExpression(c *fiber.Ctx) error {
	var req parseRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}

	seq, err := s.parser.Parse(c.UserContext(), req.Expression)
	if err != nil {
		return s.fail(c, err)
	}
	if seq == nil {
		seq = expr.TokenSequence{}
	}

	resp := parseResponse{
		Expression: req.Expression,
		Normalized: seq.String(),
		Tokens:     seq,
	}
	if req.Context != nil {
		resp.Bindings, err = bind.Resolve(seq, req.Context)
		if err != nil {
			return s.fail(c, err)
		}
	}
	return c.JSON(resp)
}

// --- Timespan Handlers ---

func (s *Server) humanize(c *fiber.Ctx) error {
	other, err := ParseInstant(c.Query("other"))
	if err != nil {
		return badRequest(c, fmt.Sprintf("other: %v", err))
	}

	reference := s.clock()
	if ref := c.Query("reference"); ref != "" {
		if reference, err = ParseInstant(ref); err != nil {
			return badRequest(c, fmt.Sprintf("reference: %v", err))
		}
	}

	locale := c.Query("locale", s.locale)
	loc := timespan.ParseLocale(locale)
	phrase := timespan.Humanize(reference, other)
	return c.JSON(fiber.Map{
		"reference": reference.Format(time.RFC3339),
		"other":     other.Format(time.RFC3339),
		"phrase":    phrase,
		"keys":      timespan.Keys(phrase),
		"text":      loc.Render(phrase),
		"locale":    loc.Language().String(),
	})
}

// ParseInstant accepts RFC 3339 timestamps and plain dates.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("a timestamp is required")
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an RFC 3339 timestamp or YYYY-MM-DD date", s)
}
