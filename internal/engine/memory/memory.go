// Package memory is an in-process engine.Engine used by tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/and161185/graph-accounts/internal/engine"
	"github.com/and161185/graph-accounts/internal/errs"
)

const (
	uriField  = "uri"
	typeField = "type"
)

// Engine keeps nodes in maps keyed by uri. It enforces uniqueness of uri and
// of non-empty email per type, the way the persistent engines' constraints do.
type Engine struct {
	mu    sync.RWMutex
	nodes map[string]map[string]any
}

var _ engine.Engine = (*Engine)(nil)

// New returns an empty engine.
func New() *Engine {
	return &Engine{nodes: map[string]map[string]any{}}
}

// Lookup returns the requested fields of matching nodes ordered by uri.
func (e *Engine) Lookup(ctx context.Context, m engine.Match, fields ...string) ([]engine.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := engine.CheckMatch(m); err != nil {
		return nil, err
	}
	if err := engine.CheckFields(fields...); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	matched := e.match(m)
	out := make([]engine.Row, 0, len(matched))
	for _, n := range matched {
		row := make(engine.Row, len(fields))
		for _, f := range fields {
			if v, ok := n[f]; ok {
				row[f] = v
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// Count returns the number of matching nodes.
func (e *Engine) Count(ctx context.Context, m engine.Match) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := engine.CheckMatch(m); err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return int64(len(e.match(m))), nil
}

// Set applies assignments to the single node selected by an exact match.
// Nothing happens when no node matches.
func (e *Engine) Set(ctx context.Context, m engine.Match, set ...engine.Assignment) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := engine.CheckMatch(m); err != nil {
		return 0, err
	}
	if err := engine.CheckAssignments(set); err != nil {
		return 0, err
	}
	if m.Prefix {
		return 0, fmt.Errorf("memory: set requires an exact match")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	matched := e.match(m)
	for _, n := range matched {
		for _, a := range set {
			if a.Field == uriField || a.Field == typeField {
				return 0, fmt.Errorf("memory: %s is immutable", a.Field)
			}
			if a.Field == string(engine.EmailIndex) {
				if email, _ := a.Value.(string); e.emailTaken(m.Type, email, n[uriField]) {
					return 0, fmt.Errorf("memory: email %q: %w", email, errs.ErrAlreadyExists)
				}
			}
		}
	}
	for _, n := range matched {
		for _, a := range set {
			if a.Value == nil {
				delete(n, a.Field)
				continue
			}
			n[a.Field] = a.Value
		}
	}
	return int64(len(matched)), nil
}

// Create stores a new node. props must carry a non-empty string uri.
func (e *Engine) Create(ctx context.Context, typ string, props ...engine.Assignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := engine.CheckAssignments(props); err != nil {
		return err
	}

	node := map[string]any{typeField: typ}
	for _, p := range props {
		if p.Value != nil {
			node[p.Field] = p.Value
		}
	}
	node[typeField] = typ
	uri, _ := node[uriField].(string)
	if uri == "" {
		return fmt.Errorf("memory: node without uri")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.nodes[uri]; ok {
		return fmt.Errorf("memory: uri %q: %w", uri, errs.ErrAlreadyExists)
	}
	if email, _ := node[string(engine.EmailIndex)].(string); e.emailTaken(typ, email, uri) {
		return fmt.Errorf("memory: email %q: %w", email, errs.ErrAlreadyExists)
	}
	e.nodes[uri] = node
	return nil
}

// Len returns the number of stored nodes.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.nodes)
}

func (e *Engine) emailTaken(typ, email string, self any) bool {
	if email == "" {
		return false
	}
	for uri, n := range e.nodes {
		if uri != self && n[typeField] == typ && n[string(engine.EmailIndex)] == email {
			return true
		}
	}
	return false
}

// match must be called with e.mu held.
func (e *Engine) match(m engine.Match) []map[string]any {
	uris := make([]string, 0)
	for uri, n := range e.nodes {
		if n[typeField] != m.Type {
			continue
		}
		v, _ := n[string(m.Index)].(string)
		if m.Prefix && strings.HasPrefix(v, m.Key) || !m.Prefix && v == m.Key {
			uris = append(uris, uri)
		}
	}
	sort.Strings(uris)

	out := make([]map[string]any, 0, len(uris))
	for _, uri := range uris {
		out = append(out, e.nodes[uri])
	}
	return out
}
