package cypher

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// DriverRunner runs statements in short-lived sessions of a Neo4j driver.
type DriverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewDriverRunner wraps driver. An empty database selects the server default.
func NewDriverRunner(driver neo4j.DriverWithContext, database string) *DriverRunner {
	return &DriverRunner{driver: driver, database: database}
}

// Connect opens a driver with basic auth and checks the server is reachable.
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return driver, nil
}

// Run executes query and collects every record.
func (r *DriverRunner) Run(ctx context.Context, mode neo4j.AccessMode, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: r.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}
