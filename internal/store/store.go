// Package store persists round results to PostgreSQL.
package store

import (
	"context"
	"fmt"
	"time"

	"bot-arena/internal/config"
	"bot-arena/internal/game"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// SaveTimeout bounds a single SaveRound issued from the engine hook.
const SaveTimeout = 5 * time.Second

// Store wraps a pgx connection pool.
type Store struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// Open connects to cfg.DSN and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &Store{Pool: pool, log: log}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// ResultRow is one agent's line in round_results.
type ResultRow struct {
	Round      int
	Ordinal    int
	Name       string
	Team       string
	Rank       int
	Status     string
	Score      float64
	Total      float64
	Kills      int
	Exceptions int
	Messages   int
	ThinkMs    float64
	KilledBy   string
	Eliminated bool
}

// rowsFor flattens a summary into one row per agent.
func rowsFor(sum game.RoundSummary) []ResultRow {
	out := make(map[string]bool, len(sum.Eliminated))
	for _, name := range sum.Eliminated {
		out[name] = true
	}
	rows := make([]ResultRow, 0, len(sum.Standings))
	for _, st := range sum.Standings {
		a := st.Agent
		rows = append(rows, ResultRow{
			Round:      sum.Round,
			Ordinal:    a.Ordinal,
			Name:       a.Name,
			Team:       a.Team,
			Rank:       st.Rank,
			Status:     st.Status,
			Score:      a.Score,
			Total:      st.Total,
			Kills:      a.Kills,
			Exceptions: a.Exceptions,
			Messages:   a.Messages,
			ThinkMs:    float64(a.ThinkTime) / float64(time.Millisecond),
			KilledBy:   a.KilledBy,
			Eliminated: out[a.Name],
		})
	}
	return rows
}

// SaveRound records a finished round. Saving the same round twice
// overwrites the earlier rows.
func (s *Store) SaveRound(ctx context.Context, sum game.RoundSummary) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	winner := ""
	if sum.Final {
		winner = sum.Leader
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO matches (match_id, rounds_played, leader, winner)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (match_id) DO UPDATE SET
		   rounds_played = GREATEST(matches.rounds_played, EXCLUDED.rounds_played),
		   leader = EXCLUDED.leader,
		   winner = EXCLUDED.winner,
		   updated_at = now()`,
		sum.MatchID, sum.Round, sum.Leader, winner)
	if err != nil {
		return fmt.Errorf("upsert match: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range rowsFor(sum) {
		batch.Queue(
			`INSERT INTO round_results (match_id, round, ordinal, name, team, rank, status,
			        score, total, kills, exceptions, messages, think_ms, killed_by, eliminated)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			 ON CONFLICT (match_id, round, ordinal) DO UPDATE SET
			   name = EXCLUDED.name, team = EXCLUDED.team, rank = EXCLUDED.rank,
			   status = EXCLUDED.status, score = EXCLUDED.score, total = EXCLUDED.total,
			   kills = EXCLUDED.kills, exceptions = EXCLUDED.exceptions,
			   messages = EXCLUDED.messages, think_ms = EXCLUDED.think_ms,
			   killed_by = EXCLUDED.killed_by, eliminated = EXCLUDED.eliminated`,
			sum.MatchID, r.Round, r.Ordinal, r.Name, r.Team, r.Rank, r.Status,
			r.Score, r.Total, r.Kills, r.Exceptions, r.Messages, r.ThinkMs, r.KilledBy, r.Eliminated)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Results loads the rows of one round, best rank first.
func (s *Store) Results(ctx context.Context, matchID uuid.UUID, round int) ([]ResultRow, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT round, ordinal, name, team, rank, status, score, total,
		        kills, exceptions, messages, think_ms, killed_by, eliminated
		 FROM round_results WHERE match_id = $1 AND round = $2 ORDER BY rank`,
		matchID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		var r ResultRow
		if err := rows.Scan(
			&r.Round, &r.Ordinal, &r.Name, &r.Team, &r.Rank, &r.Status, &r.Score, &r.Total,
			&r.Kills, &r.Exceptions, &r.Messages, &r.ThinkMs, &r.KilledBy, &r.Eliminated,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Winner returns the recorded winner of a match, empty while it is running.
func (s *Store) Winner(ctx context.Context, matchID uuid.UUID) (string, error) {
	var winner string
	err := s.Pool.QueryRow(ctx,
		`SELECT winner FROM matches WHERE match_id = $1`, matchID).Scan(&winner)
	return winner, err
}

// Hooks returns an engine hook that saves each finished round.
func (s *Store) Hooks() game.Hooks {
	return game.Hooks{
		OnRoundOver: func(sum game.RoundSummary) {
			ctx, cancel := context.WithTimeout(context.Background(), SaveTimeout)
			defer cancel()
			if err := s.SaveRound(ctx, sum); err != nil {
				s.log.Error("save round failed",
					zap.String("match", sum.MatchID.String()),
					zap.Int("round", sum.Round),
					zap.Error(err))
				return
			}
			s.log.Debug("round saved", zap.Int("round", sum.Round))
		},
	}
}
