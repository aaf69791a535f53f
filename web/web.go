// Package web provides the embedded web UI for browsing cohort definitions
// and trying out expressions.
package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/text/language"

	"github.com/lemonberrylabs/cohort-reporting/pkg/bind"
	"github.com/lemonberrylabs/cohort-reporting/pkg/definition"
	"github.com/lemonberrylabs/cohort-reporting/pkg/expr"
	"github.com/lemonberrylabs/cohort-reporting/pkg/store"
	"github.com/lemonberrylabs/cohort-reporting/pkg/suggest"
	"github.com/lemonberrylabs/cohort-reporting/pkg/timespan"
	"github.com/lemonberrylabs/cohort-reporting/pkg/types"
)

//go:embed templates/*.html
var templateFS embed.FS

// Handler serves the web UI pages.
type Handler struct {
	registry store.Registry
	parser   *expr.Parser
	locale   string
	clock    timespan.Clock
}

// pageData wraps all page-specific data with common fields.
type pageData struct {
	NavActive string
	Locale    string
	Data      any
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock sets the clock that "updated ... ago" is measured against.
func WithClock(c timespan.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithParser replaces the parser used by the playground.
func WithParser(p *expr.Parser) Option {
	return func(h *Handler) { h.parser = p }
}

// New creates a new web UI handler. locale is the default rendering
// language; requests may override it with ?locale= or Accept-Language.
func New(registry store.Registry, locale string, opts ...Option) *Handler {
	h := &Handler{
		registry: registry,
		locale:   locale,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.parser == nil {
		h.parser = expr.New(registry)
	}
	return h
}

func (h *Handler) render(c *fiber.Ctx, status int, page string, navActive string, data any) error {
	loc := h.localizer(c)
	funcMap := template.FuncMap{
		"since": func(t time.Time) string {
			if t.IsZero() {
				return "—"
			}
			return loc.Render(timespan.Since(t, h.clock))
		},
		"formatTime": formatTime,
		"truncate":   truncate,
		"join":       strings.Join,
	}

	// Each page is parsed with the layout so that page-level define blocks
	// do not collide.
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+page)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString(fmt.Sprintf("template error: %v", err))
	}

	pd := pageData{
		NavActive: navActive,
		Locale:    loc.Language().String(),
		Data:      data,
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, page, pd); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString(fmt.Sprintf("template error: %v", err))
	}

	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.Status(status).Send(buf.Bytes())
}

// localizer picks the request's language: ?locale= first, then the
// preferred Accept-Language entry, then the handler default.
func (h *Handler) localizer(c *fiber.Ctx) *timespan.Localizer {
	if l := c.Query("locale"); l != "" {
		return timespan.ParseLocale(l)
	}
	if header := c.Get(fiber.HeaderAcceptLanguage); header != "" {
		if tags, _, err := language.ParseAcceptLanguage(header); err == nil && len(tags) > 0 {
			return timespan.NewLocalizer(tags[0])
		}
	}
	return timespan.ParseLocale(h.locale)
}

// Register adds web UI routes to the Fiber app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/ui", h.definitionList)
	app.Get("/ui/definitions/:name", h.definitionDetail)
	app.Get("/ui/parse", h.parsePlayground)

	// Redirect root to UI
	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/ui")
	})
}

// --- Page Data Types ---

type definitionListContent struct {
	Definitions []*definition.Definition
	Kind        string
	Kinds       []definition.Kind
}

type definitionDetailContent struct {
	Definition *definition.Definition
	Properties []property
}

type property struct {
	Key   string
	Value string
}

type parseContent struct {
	Expression  string
	Normalized  string
	Tokens      expr.TokenSequence
	Bindings    []bind.Binding
	BindError   string
	Error       string
	ErrorKind   string
	Position    int
	Suggestions []string
}

type notFoundContent struct {
	Message     string
	Suggestions []string
}

// --- Page Handlers ---

func (h *Handler) definitionList(c *fiber.Ctx) error {
	defs, err := h.registry.List(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString(fmt.Sprintf("listing definitions: %v", err))
	}

	kinds := map[definition.Kind]bool{}
	for _, d := range defs {
		kinds[d.Kind] = true
	}
	content := definitionListContent{Kind: c.Query("kind")}
	for k := range kinds {
		content.Kinds = append(content.Kinds, k)
	}
	sort.Slice(content.Kinds, func(i, j int) bool { return content.Kinds[i] < content.Kinds[j] })

	for _, d := range defs {
		if content.Kind == "" || string(d.Kind) == content.Kind {
			content.Definitions = append(content.Definitions, d)
		}
	}
	sort.SliceStable(content.Definitions, func(i, j int) bool {
		return content.Definitions[i].UpdatedAt.After(content.Definitions[j].UpdatedAt)
	})

	return h.render(c, fiber.StatusOK, "definitions.html", "definitions", content)
}

func (h *Handler) definitionDetail(c *fiber.Ctx) error {
	name := c.Params("name")
	def, err := h.registry.Get(c.UserContext(), name)
	if err != nil {
		if !errors.Is(err, definition.ErrNotFound) {
			return c.Status(fiber.StatusServiceUnavailable).SendString(fmt.Sprintf("loading definition: %v", err))
		}
		return h.render(c, fiber.StatusNotFound, "not_found.html", "", notFoundContent{
			Message:     fmt.Sprintf("Definition '%s' not found", name),
			Suggestions: h.suggestions(c, name),
		})
	}

	props := make([]property, 0, len(def.Properties))
	for k, v := range def.Properties {
		props = append(props, property{Key: k, Value: v})
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Key < props[j].Key })

	return h.render(c, fiber.StatusOK, "definition.html", "definitions", definitionDetailContent{
		Definition: def,
		Properties: props,
	})
}

// parsePlayground parses ?expression= and shows its tokens, or the error
// with its position. Placeholder values are shown as deferred since no
// report context exists here.
func (h *Handler) parsePlayground(c *fiber.Ctx) error {
	content := parseContent{Expression: c.Query("expression"), Position: -1}
	if strings.TrimSpace(content.Expression) == "" {
		return h.render(c, fiber.StatusOK, "parse.html", "parse", content)
	}

	seq, err := h.parser.Parse(c.UserContext(), content.Expression)
	if err != nil {
		content.Error = err.Error()
		var ee *types.ExpressionError
		if errors.As(err, &ee) {
			content.ErrorKind = ee.Kind.String()
			content.Position = ee.Pos
			if ee.Kind == types.KindUnresolvedReference {
				content.Suggestions = h.suggestions(c, ee.Definition)
			}
		}
		return h.render(c, fiber.StatusOK, "parse.html", "parse", content)
	}

	content.Normalized = seq.String()
	content.Tokens = seq
	if content.Bindings, err = bind.Preview(seq); err != nil {
		content.BindError = err.Error()
	}
	return h.render(c, fiber.StatusOK, "parse.html", "parse", content)
}

func (h *Handler) suggestions(c *fiber.Ctx, name string) []string {
	names, err := store.Names(c.UserContext(), h.registry)
	if err != nil {
		return nil
	}
	return suggest.Names(name, names, suggest.DefaultLimit)
}

// --- Template Helpers ---

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
