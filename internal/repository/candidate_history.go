package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"AlertGate/internal/domain/models"
	domrepo "AlertGate/internal/domain/repository"
	pkgch "AlertGate/pkg/clickhouse"
	applogger "AlertGate/pkg/logger"
)

var _ domrepo.CandidateHistory = (*CHCandidateHistory)(nil)

// CHCandidateHistory implements CandidateHistory backed by ClickHouse.
type CHCandidateHistory struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHCandidateHistory(ch *pkgch.Client, database string) *CHCandidateHistory {
	if database == "" {
		database = "alertgate"
	}
	return &CHCandidateHistory{db: ch.DB(), database: database, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHCandidateHistory) SetLogger(l *applogger.Logger) { s.l = l }

// Schema returns the idempotent DDL for the history tables.
func (s *CHCandidateHistory) Schema() []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, s.database),
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.candidate_history (
            candidate_id String,
            strategy     LowCardinality(String),
            tier         UInt8,
            confidence   UInt8,
            score        Float64,
            features     Array(Float64),
            at           DateTime64(3, 'UTC')
        ) ENGINE = MergeTree
        ORDER BY (at, candidate_id)
        TTL toDateTime(at) + INTERVAL 90 DAY`, s.database),
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.candidate_outcomes (
            candidate_id String,
            actionable   UInt8,
            recorded_at  DateTime64(3, 'UTC')
        ) ENGINE = ReplacingMergeTree(recorded_at)
        ORDER BY candidate_id`, s.database),
	}
}

func (s *CHCandidateHistory) Append(ctx context.Context, rec models.HistoryRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s.candidate_history
        (candidate_id, strategy, tier, confidence, score, features, at) VALUES (?, ?, ?, ?, ?, ?, ?)`, s.database)
	features := rec.Features
	if features == nil {
		features = []float64{}
	}
	_, err := s.db.ExecContext(ctx, q,
		rec.CandidateID, rec.Strategy, uint8(rec.Tier), uint8(models.ClampConfidence(rec.Confidence)),
		rec.Score, features, rec.At.UTC())
	if err != nil {
		s.l.Error("clickhouse history insert error", applogger.String("candidate_id", rec.CandidateID), applogger.Error(err))
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *CHCandidateHistory) RecordOutcome(ctx context.Context, candidateID string, actionable bool) error {
	var seen uint64
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count() FROM %s.candidate_history WHERE candidate_id = ?`, s.database), candidateID)
	if err := row.Scan(&seen); err != nil {
		return fmt.Errorf("lookup candidate %s: %w", candidateID, err)
	}
	if seen == 0 {
		return fmt.Errorf("candidate %s: %w", candidateID, models.ErrNotFound)
	}
	var flag uint8
	if actionable {
		flag = 1
	}
	q := fmt.Sprintf(`INSERT INTO %s.candidate_outcomes (candidate_id, actionable, recorded_at) VALUES (?, ?, ?)`, s.database)
	if _, err := s.db.ExecContext(ctx, q, candidateID, flag, time.Now().UTC()); err != nil {
		return fmt.Errorf("record outcome %s: %w", candidateID, err)
	}
	return nil
}

// Recent returns the newest limit records in chronological order.
func (s *CHCandidateHistory) Recent(ctx context.Context, limit int) ([]models.HistoryRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	const qtpl = `
        SELECT h.candidate_id, h.strategy, h.tier, h.confidence, h.score, h.features, h.at, o.actionable, o.known
        FROM (
            SELECT candidate_id, strategy, tier, confidence, score, features, at
            FROM %[1]s.candidate_history
            ORDER BY at DESC
            LIMIT ?
        ) AS h
        LEFT JOIN (
            SELECT candidate_id, argMax(actionable, recorded_at) AS actionable, toUInt8(1) AS known
            FROM %[1]s.candidate_outcomes
            GROUP BY candidate_id
        ) AS o USING candidate_id
        ORDER BY h.at ASC
    `
	return s.query(ctx, "recent", fmt.Sprintf(qtpl, s.database), limit)
}

func (s *CHCandidateHistory) Since(ctx context.Context, since time.Time) ([]models.HistoryRecord, error) {
	const qtpl = `
        SELECT h.candidate_id, h.strategy, h.tier, h.confidence, h.score, h.features, h.at, o.actionable, o.known
        FROM %[1]s.candidate_history AS h
        LEFT JOIN (
            SELECT candidate_id, argMax(actionable, recorded_at) AS actionable, toUInt8(1) AS known
            FROM %[1]s.candidate_outcomes
            GROUP BY candidate_id
        ) AS o USING candidate_id
        WHERE h.at >= ?
        ORDER BY h.at ASC
    `
	return s.query(ctx, "since", fmt.Sprintf(qtpl, s.database), since.UTC())
}

func (s *CHCandidateHistory) query(ctx context.Context, op, q string, args ...any) ([]models.HistoryRecord, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse history query error", applogger.String("op", op), applogger.Error(err))
		return nil, fmt.Errorf("history %s: %w", op, err)
	}
	defer rows.Close()

	var out []models.HistoryRecord
	for rows.Next() {
		var (
			rec               models.HistoryRecord
			tier, conf        uint8
			actionable, known uint8
		)
		if err := rows.Scan(&rec.CandidateID, &rec.Strategy, &tier, &conf, &rec.Score, &rec.Features, &rec.At, &actionable, &known); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec.Tier = models.Tier(tier)
		rec.Confidence = int(conf)
		if known == 1 {
			v := actionable == 1
			rec.Actionable = &v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse history ok",
		applogger.String("op", op),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}
