package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/and161185/graph-accounts/internal/engine"
	"github.com/and161185/graph-accounts/internal/errs"
)

// Engine stores nodes as rows of (uri, type, props jsonb). The uri index is
// the primary key; any other index reads props->>'<index>'.
type Engine struct{ db *DB }

var _ engine.Engine = (*Engine)(nil)

// NewEngine constructs a node engine on db.
func NewEngine(db *DB) *Engine { return &Engine{db: db} }

// Lookup returns the requested fields of matching nodes ordered by uri.
func (e *Engine) Lookup(ctx context.Context, m engine.Match, fields ...string) ([]engine.Row, error) {
	if err := engine.CheckMatch(m); err != nil {
		return nil, err
	}
	if err := engine.CheckFields(fields...); err != nil {
		return nil, err
	}

	where, key := whereClause(m)
	q := `SELECT uri, props FROM nodes WHERE ` + where + ` ORDER BY uri`
	rows, err := e.db.Pool.Query(ctx, q, m.Type, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Row
	for rows.Next() {
		var (
			uri string
			raw []byte
		)
		if err := rows.Scan(&uri, &raw); err != nil {
			return nil, err
		}
		props, err := decodeProps(raw)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", uri, err)
		}
		row := make(engine.Row, len(fields))
		for _, f := range fields {
			switch f {
			case "uri":
				row[f] = uri
			case "type":
				row[f] = m.Type
			default:
				if v, ok := props[f]; ok && v != nil {
					row[f] = v
				}
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of matching nodes.
func (e *Engine) Count(ctx context.Context, m engine.Match) (int64, error) {
	if err := engine.CheckMatch(m); err != nil {
		return 0, err
	}
	where, key := whereClause(m)
	var n int64
	if err := e.db.Pool.QueryRow(ctx, `SELECT count(*) FROM nodes WHERE `+where, m.Type, key).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Set merges non-nil assignments into props and strips nil ones in one UPDATE.
func (e *Engine) Set(ctx context.Context, m engine.Match, set ...engine.Assignment) (int64, error) {
	if err := engine.CheckMatch(m); err != nil {
		return 0, err
	}
	if err := engine.CheckAssignments(set); err != nil {
		return 0, err
	}
	if m.Prefix {
		return 0, fmt.Errorf("postgres: set requires an exact match")
	}

	patch := make(map[string]any, len(set))
	drop := make([]string, 0)
	for _, a := range set {
		if a.Field == "uri" || a.Field == "type" {
			return 0, fmt.Errorf("postgres: %s is immutable", a.Field)
		}
		if a.Value == nil {
			drop = append(drop, a.Field)
			continue
		}
		patch[a.Field] = a.Value
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return 0, err
	}

	where, key := whereClause(m)
	q := `UPDATE nodes SET props = (props || $3::jsonb) - $4::text[] WHERE ` + where
	tag, err := e.db.Pool.Exec(ctx, q, m.Type, key, string(body), drop)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("postgres set: %w", errs.ErrAlreadyExists)
	}
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Create inserts a node. props must carry a non-empty string uri.
func (e *Engine) Create(ctx context.Context, typ string, props ...engine.Assignment) error {
	if err := engine.CheckAssignments(props); err != nil {
		return err
	}
	if typ == "" {
		return fmt.Errorf("postgres: create without type")
	}

	var uri string
	values := make(map[string]any, len(props))
	for _, p := range props {
		switch {
		case p.Field == "uri":
			uri, _ = p.Value.(string)
		case p.Field == "type":
		case p.Value != nil:
			values[p.Field] = p.Value
		}
	}
	if uri == "" {
		return fmt.Errorf("postgres: node without uri")
	}
	body, err := json.Marshal(values)
	if err != nil {
		return err
	}

	const q = `INSERT INTO nodes (uri, type, props) VALUES ($1, $2, $3::jsonb)`
	_, err = e.db.Pool.Exec(ctx, q, uri, typ, string(body))
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres create %s: %w", uri, errs.ErrAlreadyExists)
	}
	return err
}

// EscapeLike escapes the LIKE metacharacters of s using backslash.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// whereClause selects by type ($1) and index key ($2). It returns the bound
// key, turned into a LIKE pattern for prefix matches.
func whereClause(m engine.Match) (string, string) {
	col := "uri"
	if m.Index != engine.URIIndex {
		col = "props->>'" + string(m.Index) + "'"
	}
	if m.Prefix {
		return `type = $1 AND ` + col + ` LIKE $2 ESCAPE '\'`, EscapeLike(m.Key) + "%"
	}
	return `type = $1 AND ` + col + ` = $2`, m.Key
}

func decodeProps(raw []byte) (map[string]any, error) {
	props := map[string]any{}
	if len(raw) == 0 {
		return props, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&props); err != nil {
		return nil, err
	}
	return props, nil
}
