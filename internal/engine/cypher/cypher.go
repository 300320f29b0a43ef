// Package cypher runs engine queries against Neo4j.
package cypher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/and161185/graph-accounts/internal/engine"
	"github.com/and161185/graph-accounts/internal/errs"
)

// Label carried by every node written by this engine.
const Label = "resource"

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// Runner executes one Cypher statement and returns all records.
type Runner interface {
	Run(ctx context.Context, mode neo4j.AccessMode, query string, params map[string]any) ([]*neo4j.Record, error)
}

// Engine implements engine.Engine with Cypher.
type Engine struct {
	run Runner
	log *zap.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New returns an engine using run. A nil logger discards output.
func New(run Runner, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{run: run, log: log}
}

// Lookup returns the requested fields of matching nodes ordered by the index key.
func (e *Engine) Lookup(ctx context.Context, m engine.Match, fields ...string) ([]engine.Row, error) {
	if err := engine.CheckMatch(m); err != nil {
		return nil, err
	}
	if err := engine.CheckFields(fields...); err != nil {
		return nil, err
	}

	ret := make([]string, 0, len(fields))
	for _, f := range fields {
		ret = append(ret, "n."+f+" AS "+f)
	}
	if len(ret) == 0 {
		ret = append(ret, "n."+string(m.Index)+" AS "+string(m.Index))
	}
	q := matchClause(m) + " RETURN " + strings.Join(ret, ", ") + " ORDER BY n." + string(m.Index)

	recs, err := e.run.Run(ctx, neo4j.AccessModeRead, q, matchParams(m))
	if err != nil {
		return nil, fmt.Errorf("cypher lookup: %w", err)
	}
	rows := make([]engine.Row, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, toRow(rec))
	}
	return rows, nil
}

// Count returns the number of matching nodes.
func (e *Engine) Count(ctx context.Context, m engine.Match) (int64, error) {
	if err := engine.CheckMatch(m); err != nil {
		return 0, err
	}
	q := matchClause(m) + " RETURN count(n) AS number"
	recs, err := e.run.Run(ctx, neo4j.AccessModeRead, q, matchParams(m))
	if err != nil {
		return 0, fmt.Errorf("cypher count: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return toRow(recs[0]).Int64("number"), nil
}

// Set writes every assignment in one statement. Nil values remove the property.
func (e *Engine) Set(ctx context.Context, m engine.Match, set ...engine.Assignment) (int64, error) {
	if err := engine.CheckMatch(m); err != nil {
		return 0, err
	}
	if err := engine.CheckAssignments(set); err != nil {
		return 0, err
	}
	if m.Prefix {
		return 0, fmt.Errorf("cypher: set requires an exact match")
	}

	params := matchParams(m)
	clauses := make([]string, 0, len(set))
	for i, a := range set {
		if a.Field == "uri" || a.Field == "type" {
			return 0, fmt.Errorf("cypher: %s is immutable", a.Field)
		}
		p := fmt.Sprintf("v%d", i)
		clauses = append(clauses, "n."+a.Field+" = $"+p)
		params[p] = a.Value
	}
	q := matchClause(m) + " SET " + strings.Join(clauses, ", ") + " RETURN count(n) AS updated"

	recs, err := e.run.Run(ctx, neo4j.AccessModeWrite, q, params)
	if err != nil {
		return 0, e.mapWriteErr("cypher set", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return toRow(recs[0]).Int64("updated"), nil
}

// Create writes a node labelled Label with props and a type marker.
func (e *Engine) Create(ctx context.Context, typ string, props ...engine.Assignment) error {
	if err := engine.CheckAssignments(props); err != nil {
		return err
	}
	if typ == "" {
		return fmt.Errorf("cypher: create without type")
	}

	values := make(map[string]any, len(props)+1)
	for _, p := range props {
		if p.Value != nil {
			values[p.Field] = p.Value
		}
	}
	values["type"] = typ
	if uri, _ := values["uri"].(string); uri == "" {
		return fmt.Errorf("cypher: node without uri")
	}

	_, err := e.run.Run(ctx, neo4j.AccessModeWrite, "CREATE (n:"+Label+" $props)", map[string]any{"props": values})
	if err != nil {
		return e.mapWriteErr("cypher create", err)
	}
	return nil
}

// EnsureConstraints creates the unique constraints backing the uri and email indexes.
func EnsureConstraints(ctx context.Context, run Runner) error {
	for _, idx := range []engine.Index{engine.URIIndex, engine.EmailIndex} {
		q := fmt.Sprintf("CREATE CONSTRAINT %s_%s_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
			Label, idx, Label, idx)
		if _, err := run.Run(ctx, neo4j.AccessModeWrite, q, nil); err != nil {
			return fmt.Errorf("ensure %s constraint: %w", idx, err)
		}
	}
	return nil
}

func (e *Engine) mapWriteErr(op string, err error) error {
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) && nerr.Code == constraintViolation {
		e.log.Debug("constraint violation", zap.String("op", op), zap.String("msg", nerr.Msg))
		return fmt.Errorf("%s: %w", op, errs.ErrAlreadyExists)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func matchClause(m engine.Match) string {
	op := " = $key"
	if m.Prefix {
		op = " STARTS WITH $key"
	}
	return "MATCH (n:" + Label + ") WHERE n.type = $type AND n." + string(m.Index) + op
}

func matchParams(m engine.Match) map[string]any {
	return map[string]any{"type": m.Type, "key": m.Key}
}

func toRow(rec *neo4j.Record) engine.Row {
	row := make(engine.Row, len(rec.Keys))
	for i, k := range rec.Keys {
		if i < len(rec.Values) && rec.Values[i] != nil {
			row[k] = rec.Values[i]
		}
	}
	return row
}
