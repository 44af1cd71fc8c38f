package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/pkg/circuitbreaker"
	"github.com/healthsphere/grounded-reports/pkg/logger"
	"github.com/healthsphere/grounded-reports/pkg/retry"
)

// Client keeps a per-user history of conditions detected in processed
// reports:
//
//	(:User)-[:SUBMITTED]->(:Report)-[:INDICATES]->(:Condition)
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// ConditionRecord is a condition with how often and when it was last seen.
type ConditionRecord struct {
	Name     string
	Reports  int64
	LastSeen time.Time
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		OpenTimeout:      20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func(int) error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// EnsureConstraints creates the uniqueness constraints the merges rely on.
func (c *Client) EnsureConstraints(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
		`CREATE CONSTRAINT report_id IF NOT EXISTS FOR (r:Report) REQUIRE r.id IS UNIQUE`,
		`CREATE CONSTRAINT condition_name IF NOT EXISTS FOR (c:Condition) REQUIRE c.name IS UNIQUE`,
	}
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		for _, stmt := range statements {
			if _, err := session.Run(ctx, stmt, nil); err != nil {
				return fmt.Errorf("failed to create constraint: %w", err)
			}
		}
		return nil
	})
}

// RecordConditions links a processed report and its detected conditions to
// the user. Recording the same report twice is a no-op.
func (c *Client) RecordConditions(ctx context.Context, userID, reportID string, conditions []string) error {
	if userID == "" || reportID == "" {
		return nil
	}

	query := `
		MERGE (u:User {id: $user_id})
		MERGE (r:Report {id: $report_id})
		ON CREATE SET r.created_at = timestamp()
		MERGE (u)-[:SUBMITTED]->(r)
		WITH r
		UNWIND $conditions AS name
		MERGE (cond:Condition {name: name})
		MERGE (r)-[:INDICATES]->(cond)
	`

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return tx.Run(ctx, query, map[string]any{
				"user_id":    userID,
				"report_id":  reportID,
				"conditions": conditions,
			})
		})
		if err != nil {
			return fmt.Errorf("failed to record conditions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Conditions recorded in graph",
		zap.String("user_id", userID),
		zap.String("report_id", reportID),
		zap.Strings("conditions", conditions),
	)
	return nil
}

// ConditionsForUser returns conditions from the user's earlier reports,
// most recently seen first.
func (c *Client) ConditionsForUser(ctx context.Context, userID string) ([]ConditionRecord, error) {
	query := `
		MATCH (:User {id: $user_id})-[:SUBMITTED]->(r:Report)-[:INDICATES]->(cond:Condition)
		RETURN cond.name AS name, count(r) AS reports, max(r.created_at) AS last_seen
		ORDER BY last_seen DESC, name
		LIMIT 20
	`

	records := []ConditionRecord{}
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, query, map[string]any{"user_id": userID})
		if err != nil {
			return fmt.Errorf("failed to query conditions: %w", err)
		}

		records = records[:0]
		for result.Next(ctx) {
			record := result.Record()
			name, _, _ := neo4j.GetRecordValue[string](record, "name")
			reports, _, _ := neo4j.GetRecordValue[int64](record, "reports")
			lastSeen, _, _ := neo4j.GetRecordValue[int64](record, "last_seen")
			records = append(records, ConditionRecord{
				Name:     name,
				Reports:  reports,
				LastSeen: time.UnixMilli(lastSeen),
			})
		}
		return result.Err()
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Condition history loaded", zap.String("user_id", userID), zap.Int("conditions", len(records)))
	return records, nil
}

// ConditionNames is ConditionsForUser reduced to names.
func (c *Client) ConditionNames(ctx context.Context, userID string) ([]string, error) {
	records, err := c.ConditionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names, nil
}
