// Package registry maps table names and attachment aliases to the backend
// that owns them.
//
// Two kinds of entries live here:
//   - attachments: external files registered by USE, owned by the backend
//     that created the view
//   - catalog tables: native tables and views discovered by SyncCatalog
//
// All methods are atomic with respect to each other; one RWMutex guards the
// map. Aliases are stored NFC-normalized and matched exactly; the router
// adds a case-insensitive fallback on top of Resolve.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/noctra/internal/backend"
	"github.com/roach88/noctra/internal/ir"
	"github.com/roach88/noctra/internal/rql"
)

// KindTable marks entries discovered from a backend catalog rather than
// attached by USE.
const KindTable rql.SourceKind = "table"

// Entry is one registered name.
type Entry struct {
	Alias  string         `json:"alias" yaml:"alias"`
	Source backend.Source `json:"source" yaml:"source"`
	Owner  backend.ID     `json:"owner" yaml:"owner"`
}

// IsAttachment reports whether the entry came from USE.
func (e Entry) IsAttachment() bool { return e.Source.Kind != KindTable }

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for catalog sync diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{entries: make(map[string]Entry), logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds alias → (src, owner). Registering the same alias again with
// the same source and owner is a no-op; any other collision is a
// RegistryConflict error and leaves the existing entry untouched.
func (r *Registry) Register(alias string, src backend.Source, owner backend.ID) error {
	key := ir.NormalizeIdent(alias)
	if key == "" {
		return ir.NewRegistryConflictError(alias, "alias must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.entries[key]; ok {
		if cur.Owner == owner && cur.Source == src {
			return nil
		}
		return ir.NewRegistryConflictError(key, conflictMessage(key, cur, owner))
	}
	r.entries[key] = Entry{Alias: key, Source: src, Owner: owner}
	return nil
}

func conflictMessage(alias string, cur Entry, owner backend.ID) string {
	if cur.Owner != owner {
		return fmt.Sprintf("alias %q is already owned by %s", alias, cur.Owner)
	}
	if !cur.IsAttachment() {
		return fmt.Sprintf("alias %q is already a table in %s", alias, cur.Owner)
	}
	return fmt.Sprintf("alias %q is already attached to %s", alias, cur.Source.Location)
}

// Resolve returns the owner of alias.
func (r *Registry) Resolve(alias string) (backend.ID, bool) {
	e, ok := r.Lookup(alias)
	return e.Owner, ok
}

// Lookup returns the entry for alias.
func (r *Registry) Lookup(alias string) (Entry, bool) {
	key := ir.NormalizeIdent(alias)
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// ResolveFold finds alias ignoring case. It succeeds only when exactly one
// entry matches, so an ambiguous fold never picks a backend arbitrarily.
func (r *Registry) ResolveFold(alias string) (Entry, bool) {
	key := ir.NormalizeIdent(alias)
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[key]; ok {
		return e, true
	}
	var found Entry
	n := 0
	for k, e := range r.entries {
		if strings.EqualFold(k, key) {
			found = e
			n++
		}
	}
	return found, n == 1
}

// Unregister removes alias and reports whether it was present.
func (r *Registry) Unregister(alias string) bool {
	key := ir.NormalizeIdent(alias)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	return true
}

// Entries returns a snapshot of every entry sorted by alias.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// SyncCatalog reconciles owner's catalog entries with tables, the names the
// backend currently reports. Entries for dropped tables are removed and new
// tables are added. A view created by USE shows up in the catalog under its
// alias and is already registered; an attachment whose view is gone from
// the catalog is unregistered and logged. A table whose name is taken by
// another owner is skipped and logged.
func (r *Registry) SyncCatalog(owner backend.ID, tables []string) {
	want := make(map[string]bool, len(tables))
	for _, t := range tables {
		want[ir.NormalizeIdent(t)] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.entries {
		if e.Owner != owner || want[key] {
			continue
		}
		if e.IsAttachment() {
			r.logger.Warn("attachment view missing from catalog",
				"alias", e.Alias,
				"backend", owner,
				"location", e.Source.Location)
		}
		delete(r.entries, key)
	}

	names := make([]string, 0, len(want))
	for name := range want {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "" {
			continue
		}
		if cur, ok := r.entries[name]; ok {
			if cur.Owner != owner {
				r.logger.Warn("catalog table shadowed by existing entry",
					"table", name,
					"backend", owner,
					"owner", cur.Owner)
			}
			continue
		}
		r.entries[name] = Entry{
			Alias:  name,
			Source: backend.Source{Kind: KindTable, Location: name},
			Owner:  owner,
		}
	}
}
