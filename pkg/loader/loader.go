// Package loader reads cohort definitions from YAML or JSON files into a
// registry and keeps the registry in step with a watched directory.
//
// A file holds either a single definition or a list of them:
//
//	name: EnrolledOnDate
//	kind: patient-state
//	parameters:
//	  - name: untilDate
//	    type: Date
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/cohort-reporting/pkg/definition"
	"github.com/lemonberrylabs/cohort-reporting/pkg/store"
)

// DefaultDebounce is how long Watch waits after the last change to a file
// before reloading it.
const DefaultDebounce = 100 * time.Millisecond

// IsDefinitionFile reports whether path has a recognised definition file extension.
func IsDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// Decode parses one definition or a list of definitions. Parameter types
// are normalized and every definition is validated.
func Decode(data []byte) ([]*definition.Definition, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
		doc = doc.Content[0]
	}

	var defs []*definition.Definition
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&defs); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var d definition.Definition
		if err := doc.Decode(&d); err != nil {
			return nil, err
		}
		defs = append(defs, &d)
	default:
		return nil, fmt.Errorf("line %d: expected a definition or a list of definitions", doc.Line)
	}

	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		if d == nil {
			return nil, fmt.Errorf("entry %d: empty definition", i)
		}
		d.Normalize()
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("definition %q declared more than once", d.Name)
		}
		seen[d.Name] = true
	}
	return defs, nil
}

// LoadFile reads and decodes a definition file.
func LoadFile(path string) ([]*definition.Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the configured definitions directory
	if err != nil {
		return nil, err
	}
	defs, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return defs, nil
}

// Loader saves definitions from files into a registry, remembering which
// file each definition came from so removals can be applied.
type Loader struct {
	registry store.Registry
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	sources map[string][]string // file path -> definition names
}

// Option configures a Loader.
type Option func(*Loader)

// WithDebounce sets the quiet period Watch waits for before reloading.
func WithDebounce(d time.Duration) Option {
	return func(l *Loader) { l.debounce = d }
}

// New creates a loader that writes into registry.
func New(registry store.Registry, logger *slog.Logger, opts ...Option) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Loader{
		registry: registry,
		logger:   logger,
		debounce: DefaultDebounce,
		sources:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadDir loads every definition file directly inside dir. Files that fail
// to read, decode or save are logged and skipped. It returns the number of
// definitions saved.
func (l *Loader) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading definitions directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !IsDefinitionFile(entry.Name()) {
			continue
		}
		n, err := l.LoadPath(ctx, filepath.Join(dir, entry.Name()))
		if err != nil {
			l.logger.Warn("skipping definition file",
				slog.String("file", entry.Name()),
				slog.String("error", err.Error()))
			continue
		}
		loaded += n
	}

	l.logger.Info("loaded definitions",
		slog.Int("count", loaded),
		slog.String("dir", dir))
	return loaded, nil
}

// LoadPath (re)loads a single file. Definitions the file declared on a
// previous load but no longer does are deleted from the registry.
func (l *Loader) LoadPath(ctx context.Context, path string) (int, error) {
	defs, err := LoadFile(path)
	if err != nil {
		return 0, err
	}

	names := make([]string, 0, len(defs))
	for _, d := range defs {
		if _, err := l.registry.Save(ctx, d); err != nil {
			// Keep what did land attributed to path so a later removal
			// still deletes it.
			l.mu.Lock()
			l.sources[path] = mergeNames(l.sources[path], names)
			l.mu.Unlock()
			return len(names), fmt.Errorf("saving %q: %w", d.Name, err)
		}
		names = append(names, d.Name)
		l.logger.Debug("loaded definition",
			slog.String("name", d.Name),
			slog.String("file", filepath.Base(path)))
	}

	l.mu.Lock()
	previous := l.sources[path]
	l.sources[path] = names
	l.mu.Unlock()

	l.deleteDropped(ctx, path, previous, names)
	return len(names), nil
}

func mergeNames(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, n := range b {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// Forget deletes every definition that was loaded from path.
func (l *Loader) Forget(ctx context.Context, path string) {
	l.mu.Lock()
	previous, ok := l.sources[path]
	delete(l.sources, path)
	l.mu.Unlock()

	if ok {
		l.deleteDropped(ctx, path, previous, nil)
	}
}

// Sources returns the loaded files and the definition names each declared.
func (l *Loader) Sources() map[string][]string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string][]string, len(l.sources))
	for path, names := range l.sources {
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		out[path] = sorted
	}
	return out
}

func (l *Loader) deleteDropped(ctx context.Context, path string, previous, current []string) {
	keep := make(map[string]bool, len(current))
	for _, n := range current {
		keep[n] = true
	}
	for _, name := range previous {
		if keep[name] || l.claimedElsewhere(path, name) {
			continue
		}
		if err := l.registry.Delete(ctx, name); err != nil && !errors.Is(err, definition.ErrNotFound) {
			l.logger.Warn("could not remove definition",
				slog.String("name", name),
				slog.String("error", err.Error()))
			continue
		}
		l.logger.Info("removed definition",
			slog.String("name", name),
			slog.String("file", filepath.Base(path)))
	}
}

func (l *Loader) claimedElsewhere(path, name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for p, names := range l.sources {
		if p == path {
			continue
		}
		for _, n := range names {
			if n == name {
				return true
			}
		}
	}
	return false
}
