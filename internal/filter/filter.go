// Package filter decides which domain objects of a kind are synchronized.
//
// A kind without a filter includes everything. Filters are built from
// configuration as id glob patterns (exclude takes precedence) and an
// optional boolean expr-lang expression evaluated against the document.
package filter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
	"github.com/gobwas/glob"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/resource"
)

// Filter decides inclusion and explains the decision.
type Filter interface {
	Decide(obj any) (include bool, reason string)
}

// Predicate is a plain inclusion function.
type Predicate func(obj any) bool

// Decide implements Filter.
func (p Predicate) Decide(obj any) (bool, string) {
	if p(obj) {
		return true, "included by predicate"
	}
	return false, "excluded by predicate"
}

// Rule is the configured form of a filter.
type Rule struct {
	// Include lists id glob patterns; when set, an id must match one.
	Include []string `yaml:"include" json:"include,omitempty"`

	// Exclude lists id glob patterns; a match always excludes.
	Exclude []string `yaml:"exclude" json:"exclude,omitempty"`

	// Expr is a boolean expression over the document fields.
	Expr string `yaml:"expr" json:"expr,omitempty"`
}

// Empty reports whether the rule filters nothing.
func (r Rule) Empty() bool {
	return len(r.Include) == 0 && len(r.Exclude) == 0 && r.Expr == ""
}

type pattern struct {
	source string
	glob   glob.Glob
}

// RuleFilter is a compiled Rule. Ids are matched as "party_id/id".
type RuleFilter struct {
	include []pattern
	exclude []pattern
	expr    string
	program *exprvm.Program
}

// Compile validates and compiles rule.
func Compile(rule Rule) (*RuleFilter, error) {
	f := &RuleFilter{expr: rule.Expr}
	var err error
	if f.include, err = compilePatterns(rule.Include); err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	if f.exclude, err = compilePatterns(rule.Exclude); err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}
	if rule.Expr != "" {
		program, err := exprlang.Compile(rule.Expr,
			exprlang.Env(map[string]any{}),
			exprlang.AllowUndefinedVariables(),
			exprlang.AsBool(),
		)
		if err != nil {
			return nil, fmt.Errorf("compile expression %q: %w", rule.Expr, err)
		}
		f.program = program
	}
	return f, nil
}

func compilePatterns(sources []string) ([]pattern, error) {
	out := make([]pattern, 0, len(sources))
	for _, src := range sources {
		// filepath.Match catches malformed patterns gobwas would accept.
		if _, err := filepath.Match(src, "test"); err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", src, err)
		}
		// No separators: '*' also matches across '/'.
		g, err := glob.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", src, err)
		}
		out = append(out, pattern{source: src, glob: g})
	}
	return out, nil
}

// Decide implements Filter.
//
// Logic:
//  1. id matches an exclude pattern -> exclude
//  2. include patterns set and none matches -> exclude
//  3. expression set and evaluates false (or fails) -> exclude
//  4. otherwise include
func (f *RuleFilter) Decide(obj any) (bool, string) {
	doc := Document(obj)
	id := idOf(doc)

	for _, p := range f.exclude {
		if p.glob.Match(id) {
			return false, fmt.Sprintf("excluded by pattern '%s'", p.source)
		}
	}
	if len(f.include) > 0 {
		matched := false
		for _, p := range f.include {
			if p.glob.Match(id) {
				matched = true
				break
			}
		}
		if !matched {
			return false, fmt.Sprintf("no match found in include patterns for %q", id)
		}
	}

	if f.program != nil {
		out, err := exprlang.Run(f.program, doc)
		if err != nil {
			slog.Warn("filter expression failed", "expr", f.expr, "id", id, "error", err)
			return false, fmt.Sprintf("expression %q failed: %v", f.expr, err)
		}
		if ok, _ := out.(bool); !ok {
			return false, fmt.Sprintf("excluded by expression %q", f.expr)
		}
	}
	return true, "included"
}

// Document renders obj as a plain map for id matching and expressions.
// Unrecognized inputs yield an empty map.
func Document(obj any) map[string]any {
	switch v := obj.(type) {
	case map[string]any:
		return v
	case canon.Object:
		return canon.ToAny(v).(map[string]any)
	case []byte:
		return fromJSON(v)
	case json.RawMessage:
		return fromJSON(v)
	case nil:
		return map[string]any{}
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return map[string]any{}
	}
	return fromJSON(data)
}

func fromJSON(data []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// DocumentID returns the "party_id/id" form of obj that id patterns match,
// or "" when obj carries neither key.
func DocumentID(obj any) string {
	doc := Document(obj)
	if _, ok := doc[resource.KeyPartyID]; !ok {
		if _, ok := doc[resource.KeyID]; !ok {
			return ""
		}
	}
	return idOf(doc)
}

func idOf(doc map[string]any) string {
	party, _ := doc[resource.KeyPartyID].(string)
	id, _ := doc[resource.KeyID].(string)
	return resource.Identity{PartyID: party, ID: id}.String()
}

// Set holds one filter per kind. Kinds without a filter include everything.
//
// Thread-safety: Set is safe for concurrent use.
type Set struct {
	mu     sync.RWMutex
	byKind map[string]Filter
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{byKind: make(map[string]Filter)}
}

// FromRules compiles one filter per kind. Empty rules are skipped.
func FromRules(rules map[string]Rule) (*Set, error) {
	s := NewSet()
	for kind, rule := range rules {
		if rule.Empty() {
			continue
		}
		f, err := Compile(rule)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", kind, err)
		}
		s.Set(kind, f)
	}
	return s, nil
}

// Set installs f for kind, replacing any previous filter.
func (s *Set) Set(kind string, f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKind[kind] = f
}

// Decide applies the kind's filter. A nil Set includes everything.
func (s *Set) Decide(kind string, obj any) (bool, string) {
	if s == nil {
		return true, "no filter"
	}
	s.mu.RLock()
	f, ok := s.byKind[kind]
	s.mu.RUnlock()
	if !ok {
		return true, "no filter"
	}
	return f.Decide(obj)
}

// Include reports only the decision.
func (s *Set) Include(kind string, obj any) bool {
	ok, _ := s.Decide(kind, obj)
	return ok
}
