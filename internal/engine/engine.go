// Package engine defines the indexed query engine the account store runs on.
//
// Every query selects nodes of one type through one auto-maintained index,
// either by exact key or by key prefix. Values always travel as bound
// parameters; only index and field names are spliced into query text, and
// those are checked with ValidField first.
package engine

import (
	"context"
	"fmt"
	"regexp"
)

// Index names an auto-maintained index.
type Index string

// Indexes maintained for account nodes.
const (
	URIIndex   Index = "uri"
	EmailIndex Index = "email"
)

// Match selects nodes of Type whose Index field equals Key, or starts with
// Key when Prefix is set.
type Match struct {
	Index  Index
	Key    string
	Prefix bool
	Type   string
}

// Assignment writes Value to a node property. A nil Value clears the property
// on Set and omits it on Create.
type Assignment struct {
	Field string
	Value any
}

// Engine executes index queries. Implementations must be safe for concurrent use.
type Engine interface {
	// Lookup returns the requested fields of every node selected by m.
	Lookup(ctx context.Context, m Match, fields ...string) ([]Row, error)
	// Count returns how many nodes m selects.
	Count(ctx context.Context, m Match) (int64, error)
	// Set applies all assignments atomically to the node m selects and
	// returns how many nodes were updated. No match is not an error.
	Set(ctx context.Context, m Match, set ...Assignment) (int64, error)
	// Create writes a new node of type typ. A uniqueness violation is
	// reported as an error matching errs.ErrAlreadyExists.
	Create(ctx context.Context, typ string, props ...Assignment) error
}

var fieldRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidField reports whether name may be spliced into query text.
func ValidField(name string) bool { return fieldRe.MatchString(name) }

// CheckMatch validates the names used by m.
func CheckMatch(m Match) error {
	if !ValidField(string(m.Index)) {
		return fmt.Errorf("engine: bad index name %q", m.Index)
	}
	if m.Type == "" {
		return fmt.Errorf("engine: match without type")
	}
	return nil
}

// CheckFields validates property names.
func CheckFields(fields ...string) error {
	for _, f := range fields {
		if !ValidField(f) {
			return fmt.Errorf("engine: bad field name %q", f)
		}
	}
	return nil
}

// CheckAssignments validates assignment field names.
func CheckAssignments(set []Assignment) error {
	if len(set) == 0 {
		return fmt.Errorf("engine: nothing to set")
	}
	for _, a := range set {
		if !ValidField(a.Field) {
			return fmt.Errorf("engine: bad field name %q", a.Field)
		}
	}
	return nil
}
