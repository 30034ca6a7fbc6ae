package outcome

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rgkrishnan/vaani/internal/session"
)

// PostgresRecorder persists call outcomes in PostgreSQL. Used when
// DATABASE_URL is configured; the schema is created on startup.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

func NewPostgresRecorder(ctx context.Context, databaseURL string) (*PostgresRecorder, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRecorder{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_outcomes (
			record_id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			persona TEXT NOT NULL,
			locale TEXT NOT NULL,
			reason TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			duration_seconds INT NOT NULL,
			caller_turns INT NOT NULL,
			agent_turns INT NOT NULL,
			campaign_id TEXT,
			campaign_name TEXT,
			segment TEXT,
			objective TEXT,
			interest TEXT,
			notification_type TEXT,
			priority TEXT,
			reference_id TEXT,
			delivered BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_outcomes_campaign ON call_outcomes (campaign_id);`,
		`CREATE INDEX IF NOT EXISTS idx_call_outcomes_started ON call_outcomes (started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (r *PostgresRecorder) Record(ctx context.Context, o session.Outcome) error {
	var (
		campaignID, campaignName, segment, objective string
		notificationType, priority, referenceID      string
	)
	if o.Campaign != nil {
		campaignID = o.Campaign.CampaignID
		campaignName = o.Campaign.CampaignName
		segment = o.Campaign.Segment
		objective = o.Campaign.Objective
	}
	if o.Notification != nil {
		notificationType = o.Notification.NotificationType
		priority = o.Notification.Priority
		referenceID = o.Notification.ReferenceID
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO call_outcomes (
			record_id, call_id, direction, persona, locale, reason,
			started_at, ended_at, duration_seconds, caller_turns, agent_turns,
			campaign_id, campaign_name, segment, objective, interest,
			notification_type, priority, reference_id, delivered
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		uuid.NewString(), o.CallID, string(o.Direction), string(o.Persona), o.Locale, string(o.Reason),
		o.StartedAt.UTC(), o.EndedAt.UTC(), int(o.Duration/time.Second), o.CallerTurns, o.AgentTurns,
		campaignID, campaignName, segment, objective, o.Interest,
		notificationType, priority, referenceID, o.Delivered,
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) MarketingStats(ctx context.Context, campaignID string) (MarketingStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT COALESCE(NULLIF(interest, ''), 'no-response'), COUNT(*)
		 FROM call_outcomes
		 WHERE direction = $1 AND ($2 = '' OR campaign_id = $2)
		 GROUP BY 1`,
		string(session.DirectionOutboundMarketing), campaignID,
	)
	if err != nil {
		return MarketingStats{}, fmt.Errorf("query marketing stats: %w", err)
	}
	defer rows.Close()

	stats := MarketingStats{InterestBreakdown: make(map[string]int)}
	for rows.Next() {
		var interest string
		var count int
		if err := rows.Scan(&interest, &count); err != nil {
			return MarketingStats{}, fmt.Errorf("scan stats row: %w", err)
		}
		stats.InterestBreakdown[interest] = count
		stats.TotalCalls += count
	}
	if err := rows.Err(); err != nil {
		return MarketingStats{}, fmt.Errorf("iterate stats rows: %w", err)
	}
	computeMarketingRates(&stats)
	return stats, nil
}

func (r *PostgresRecorder) NotificationStats(ctx context.Context) (NotificationStats, error) {
	var stats NotificationStats
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE delivered)
		 FROM call_outcomes WHERE direction = $1`,
		string(session.DirectionOutboundNotification),
	).Scan(&stats.TotalCalls, &stats.Delivered)
	if err != nil {
		return NotificationStats{}, fmt.Errorf("query notification stats: %w", err)
	}
	if stats.TotalCalls > 0 {
		stats.DeliveryRate = float64(stats.Delivered) / float64(stats.TotalCalls) * 100
	}
	return stats, nil
}

func (r *PostgresRecorder) Close() error {
	r.pool.Close()
	return nil
}
