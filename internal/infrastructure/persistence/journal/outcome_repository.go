// Package journal records settled dispatch reports so operators can look up
// what every sink answered for a correlation ID.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/conversion"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/persistence/database"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversion_outcomes (
		correlation_id TEXT NOT NULL,
		external_id    TEXT NOT NULL DEFAULT '',
		event          TEXT NOT NULL,
		sink           TEXT NOT NULL,
		position       INTEGER NOT NULL,
		status         TEXT NOT NULL,
		reason         TEXT NOT NULL DEFAULT '',
		duration_ms    BIGINT NOT NULL DEFAULT 0,
		created_at     TEXT NOT NULL,
		dispatched_at  TEXT NOT NULL,
		settled_at     TEXT NOT NULL,
		PRIMARY KEY (correlation_id, dispatched_at, sink)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversion_outcomes_correlation ON conversion_outcomes (correlation_id)`,
}

// OutcomeRepository persists reports in the conversion_outcomes table
type OutcomeRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewOutcomeRepository ensures the schema exists.
func NewOutcomeRepository(db *database.DB, logger *logging.ChanneledLogger) (*OutcomeRepository, error) {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("create journal schema: %w", err)
		}
	}
	return &OutcomeRepository{db: db, logger: logger}, nil
}

// Record stores one row per sink outcome in a single transaction.
func (r *OutcomeRepository) Record(ctx context.Context, report conversion.Report) error {
	start := time.Now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback()

	query := r.db.Rebind(`INSERT INTO conversion_outcomes
		(correlation_id, external_id, event, sink, position, status, reason, duration_ms, created_at, dispatched_at, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	for i, outcome := range report.Outcomes {
		_, err := tx.ExecContext(ctx, query,
			report.CorrelationID,
			report.ExternalID,
			string(report.Event),
			outcome.Sink,
			i,
			string(outcome.Status),
			outcome.Reason,
			outcome.Duration.Milliseconds(),
			formatTime(report.CreatedAt),
			formatTime(report.DispatchedAt),
			formatTime(report.SettledAt),
		)
		if err != nil {
			return fmt.Errorf("insert outcome %s: %w", outcome.Sink, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal tx: %w", err)
	}
	if r.logger != nil {
		r.logger.Database().Debug("Recorded dispatch report", "correlationId", report.CorrelationID, "sinks", len(report.Outcomes), "duration", time.Since(start))
	}
	return nil
}

// ListByCorrelation returns every recorded dispatch for a correlation ID,
// oldest first.
func (r *OutcomeRepository) ListByCorrelation(ctx context.Context, correlationID string) ([]conversion.Report, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`SELECT external_id, event, sink, status, reason, duration_ms, created_at, dispatched_at, settled_at
		FROM conversion_outcomes WHERE correlation_id = ? ORDER BY dispatched_at, position`), correlationID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var reports []conversion.Report
	index := make(map[string]int)
	for rows.Next() {
		var (
			externalID, event, sink, status, reason string
			durationMS                              int64
			created, dispatched, settled            string
		)
		if err := rows.Scan(&externalID, &event, &sink, &status, &reason, &durationMS, &created, &dispatched, &settled); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}

		key := dispatched + "|" + event
		i, ok := index[key]
		if !ok {
			reports = append(reports, conversion.Report{
				CorrelationID: correlationID,
				ExternalID:    externalID,
				Event:         conversion.Name(event),
				State:         conversion.Settled,
				CreatedAt:     parseTime(created),
				DispatchedAt:  parseTime(dispatched),
				SettledAt:     parseTime(settled),
			})
			i = len(reports) - 1
			index[key] = i
		}
		reports[i].Outcomes = append(reports[i].Outcomes, conversion.Outcome{
			Sink:     sink,
			Status:   conversion.Status(status),
			Reason:   reason,
			Duration: time.Duration(durationMS) * time.Millisecond,
		})
	}
	return reports, rows.Err()
}

// timeLayout keeps every fraction nine digits wide so stored timestamps sort
// as text in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime also accepts rows written with trimmed fractions.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
