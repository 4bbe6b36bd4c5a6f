package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/yashkuceriya/EventIQ-Platform/internal/model"
)

// Postgres is the production RecordStore.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a pooled connection, pings it and ensures the schema
// exists before returning.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	s := &Postgres{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	log.Printf("[store] connected to postgres")
	return s, nil
}

func (s *Postgres) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		type VARCHAR(255) NOT NULL,
		source VARCHAR(255) NOT NULL,
		severity VARCHAR(32) NOT NULL,
		message TEXT NOT NULL,
		metadata JSONB,
		user_id VARCHAR(255),
		timestamp TIMESTAMPTZ NOT NULL,
		validated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_type_timestamp ON events(type, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_events_source ON events(source);

	CREATE TABLE IF NOT EXISTS insights (
		id UUID PRIMARY KEY,
		event_id UUID NOT NULL,
		type VARCHAR(32) NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		producing_model VARCHAR(255) NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_insights_event_id ON insights(event_id);
	CREATE INDEX IF NOT EXISTS idx_insights_type_created ON insights(type, created_at DESC);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

func (s *Postgres) SaveEvent(ctx context.Context, ev model.AdmittedEvent) error {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}
	const q = `
		INSERT INTO events (id, type, source, severity, message, metadata, user_id, timestamp, validated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q,
		ev.ID, ev.Type, ev.Source, string(ev.Severity), ev.Message,
		metadata, nullIfEmpty(ev.UserID), ev.Timestamp, ev.ValidatedAt,
	); err != nil {
		return fmt.Errorf("store: save event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *Postgres) QueryRecent(ctx context.Context, eventType string, since time.Time, limit int) ([]model.AdmittedEvent, error) {
	const q = `
		SELECT id, type, source, severity, message, metadata, user_id, timestamp, validated_at
		FROM events
		WHERE type = $1 AND timestamp >= $2
		ORDER BY timestamp DESC
		LIMIT $3`
	rows, err := s.db.QueryContext(ctx, q, eventType, since, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query recent %s: %w", eventType, err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func (s *Postgres) CreateInsight(ctx context.Context, in model.Insight) (model.Insight, error) {
	metadata, err := json.Marshal(in.Metadata)
	if err != nil {
		return model.Insight{}, fmt.Errorf("store: marshal insight metadata: %w", err)
	}
	const q = `
		INSERT INTO insights (id, event_id, type, confidence, title, description, producing_model, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := s.db.ExecContext(ctx, q,
		in.ID, in.EventID, string(in.Type), in.Confidence, in.Title,
		in.Description, in.ProducingModel, metadata, in.CreatedAt,
	); err != nil {
		return model.Insight{}, fmt.Errorf("store: create insight %s: %w", in.ID, err)
	}
	return in, nil
}

const eventColumns = "id, type, source, severity, message, metadata, user_id, timestamp, validated_at"
const insightColumns = "id, event_id, type, confidence, title, description, producing_model, metadata, created_at"

func (s *Postgres) ListEvents(ctx context.Context, offset, limit int) ([]model.EventWithInsights, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count events: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY timestamp DESC OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()
	events, err := collectEvents(rows)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	byEvent := map[string][]model.Insight{}
	if len(ids) > 0 {
		irows, err := s.db.QueryContext(ctx,
			`SELECT `+insightColumns+` FROM insights WHERE event_id = ANY($1) ORDER BY created_at DESC`,
			pq.Array(ids))
		if err != nil {
			return nil, 0, fmt.Errorf("store: list insights for events: %w", err)
		}
		defer irows.Close()
		insights, err := collectInsights(irows)
		if err != nil {
			return nil, 0, err
		}
		for _, in := range insights {
			byEvent[in.EventID] = append(byEvent[in.EventID], in)
		}
	}

	out := make([]model.EventWithInsights, 0, len(events))
	for _, ev := range events {
		insights := byEvent[ev.ID]
		if insights == nil {
			insights = []model.Insight{}
		}
		out = append(out, model.EventWithInsights{AdmittedEvent: ev, Insights: insights})
	}
	return out, total, nil
}

func (s *Postgres) ListInsights(ctx context.Context, insightType string, offset, limit int) ([]model.InsightWithEvent, int64, error) {
	where := ""
	countQuery := `SELECT COUNT(*) FROM insights`
	countArgs := []any{}
	listArgs := []any{offset, limit}
	if insightType != "" {
		where = ` WHERE type = $3`
		countQuery += ` WHERE type = $1`
		countArgs = append(countArgs, insightType)
		listArgs = append(listArgs, insightType)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count insights: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insightColumns+` FROM insights`+where+` ORDER BY created_at DESC OFFSET $1 LIMIT $2`,
		listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list insights: %w", err)
	}
	defer rows.Close()
	insights, err := collectInsights(rows)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]string, 0, len(insights))
	for _, in := range insights {
		ids = append(ids, in.EventID)
	}
	events := map[string]model.AdmittedEvent{}
	if len(ids) > 0 {
		erows, err := s.db.QueryContext(ctx,
			`SELECT `+eventColumns+` FROM events WHERE id = ANY($1)`, pq.Array(ids))
		if err != nil {
			return nil, 0, fmt.Errorf("store: load events for insights: %w", err)
		}
		defer erows.Close()
		evs, err := collectEvents(erows)
		if err != nil {
			return nil, 0, err
		}
		for _, ev := range evs {
			events[ev.ID] = ev
		}
	}

	out := make([]model.InsightWithEvent, 0, len(insights))
	for _, in := range insights {
		item := model.InsightWithEvent{Insight: in}
		if ev, ok := events[in.EventID]; ok {
			evCopy := ev
			item.Event = &evCopy
		}
		out = append(out, item)
	}
	return out, total, nil
}

func (s *Postgres) Dashboard(ctx context.Context, since time.Time) (model.DashboardStats, error) {
	stats := model.DashboardStats{Timestamp: time.Now().UTC()}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&stats.TotalEvents); err != nil {
		return model.DashboardStats{}, fmt.Errorf("store: dashboard totals: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE timestamp >= $1`, since).Scan(&stats.RecentEvents); err != nil {
		return model.DashboardStats{}, fmt.Errorf("store: dashboard recent: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE severity = 'critical' AND timestamp >= $1`, since).Scan(&stats.CriticalEvents); err != nil {
		return model.DashboardStats{}, fmt.Errorf("store: dashboard critical: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM insights WHERE type = 'anomaly' AND created_at >= $1`, since).Scan(&stats.AnomalyCount); err != nil {
		return model.DashboardStats{}, fmt.Errorf("store: dashboard anomalies: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT date_trunc('hour', timestamp) AS hour, severity, COUNT(*)
		FROM events
		WHERE timestamp >= $1
		GROUP BY hour, severity
		ORDER BY hour ASC`, since)
	if err != nil {
		return model.DashboardStats{}, fmt.Errorf("store: dashboard timeline: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b model.TimelineBucket
		var severity string
		if err := rows.Scan(&b.Hour, &severity, &b.Count); err != nil {
			return model.DashboardStats{}, fmt.Errorf("store: scan timeline bucket: %w", err)
		}
		b.Severity = model.Severity(severity)
		stats.EventTimeline = append(stats.EventTimeline, b)
	}
	if err := rows.Err(); err != nil {
		return model.DashboardStats{}, fmt.Errorf("store: iterate timeline: %w", err)
	}
	return stats, nil
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

func collectEvents(rows *sql.Rows) ([]model.AdmittedEvent, error) {
	var out []model.AdmittedEvent
	for rows.Next() {
		var ev model.AdmittedEvent
		var severity string
		var metadata []byte
		var userID sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Source, &severity, &ev.Message,
			&metadata, &userID, &ev.Timestamp, &ev.ValidatedAt); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.Severity = model.Severity(severity)
		if userID.Valid {
			ev.UserID = userID.String
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("store: unmarshal metadata for %s: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate events: %w", err)
	}
	return out, nil
}

func collectInsights(rows *sql.Rows) ([]model.Insight, error) {
	var out []model.Insight
	for rows.Next() {
		var in model.Insight
		var insightType string
		var metadata []byte
		if err := rows.Scan(&in.ID, &in.EventID, &insightType, &in.Confidence, &in.Title,
			&in.Description, &in.ProducingModel, &metadata, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan insight: %w", err)
		}
		in.Type = model.InsightType(insightType)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &in.Metadata); err != nil {
				return nil, fmt.Errorf("store: unmarshal insight metadata for %s: %w", in.ID, err)
			}
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate insights: %w", err)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
