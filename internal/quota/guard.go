// Package quota enforces per-session and per-origin daily query limits.
// The guard is fail-open: any internal error while checking or incrementing
// results in the query being allowed, on the theory that availability
// outranks strict quota accuracy.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Default daily limits. Overridable via Config.
const (
	DefaultSessionDailyLimit = 30
	DefaultOriginDailyLimit  = 1000
)

// LimitType values reported on a denied Decision.
const (
	LimitSession = "session"
	LimitOrigin  = "origin"
)

// Config carries the daily limits for a Guard.
type Config struct {
	SessionDailyLimit int
	OriginDailyLimit  int
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed      bool   `json:"allowed"`
	LimitType    string `json:"limit_type,omitempty"` // "session" or "origin" when denied
	SessionCount int    `json:"session_count"`
	OriginCount  int    `json:"origin_count"`
}

// Usage reports a session's consumption for today.
type Usage struct {
	QueriesToday     int        `json:"queries_today"`
	QueriesRemaining int        `json:"queries_remaining"`
	DailyLimit       int        `json:"daily_limit"`
	LastQueryAt      *time.Time `json:"last_query_at,omitempty"`
}

// Guard checks and increments daily query counters keyed by (identity, day).
//
// Concurrent requests from the same identity get no stronger isolation than
// read-compare-increment: two racing requests can both observe the
// pre-increment count and both be admitted. Documented property, not a bug.
type Guard struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

// NewGuard creates a Guard over the user_sessions table.
func NewGuard(db *sql.DB, cfg Config) *Guard {
	if cfg.SessionDailyLimit <= 0 {
		cfg.SessionDailyLimit = DefaultSessionDailyLimit
	}
	if cfg.OriginDailyLimit <= 0 {
		cfg.OriginDailyLimit = DefaultOriginDailyLimit
	}
	return &Guard{db: db, cfg: cfg, now: time.Now}
}

func (g *Guard) today() string {
	return g.now().UTC().Format("2006-01-02")
}

// CheckAndIncrement admits or rejects one pipeline invocation. On any
// internal error the query is allowed (fail-open) and the error is logged.
func (g *Guard) CheckAndIncrement(ctx context.Context, sessionID, origin string) Decision {
	d, err := g.checkAndIncrement(ctx, sessionID, origin)
	if err != nil {
		slog.Error("quota check failed, allowing query", "error", err)
		return Decision{Allowed: true}
	}
	return d
}

func (g *Guard) checkAndIncrement(ctx context.Context, sessionID, origin string) (Decision, error) {
	day := g.today()

	sessionCount, err := g.sessionCount(ctx, sessionID, day)
	if err != nil {
		return Decision{}, err
	}
	originCount, err := g.originCount(ctx, origin, day)
	if err != nil {
		return Decision{}, err
	}

	if sessionCount >= g.cfg.SessionDailyLimit {
		return Decision{Allowed: false, LimitType: LimitSession, SessionCount: sessionCount, OriginCount: originCount}, nil
	}
	if originCount >= g.cfg.OriginDailyLimit {
		return Decision{Allowed: false, LimitType: LimitOrigin, SessionCount: sessionCount, OriginCount: originCount}, nil
	}

	now := g.now().UTC().Format(time.RFC3339)
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO user_sessions (session_id, origin, query_count, last_query_date, last_query_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (session_id, last_query_date)
		DO UPDATE SET query_count = query_count + 1, last_query_at = excluded.last_query_at`,
		sessionID, origin, day, now)
	if err != nil {
		return Decision{}, fmt.Errorf("incrementing quota counter: %w", err)
	}

	return Decision{Allowed: true, SessionCount: sessionCount + 1, OriginCount: originCount + 1}, nil
}

func (g *Guard) sessionCount(ctx context.Context, sessionID, day string) (int, error) {
	query, args, err := sq.Select("query_count").
		From("user_sessions").
		Where(sq.Eq{"session_id": sessionID, "last_query_date": day}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building session count query: %w", err)
	}

	var count int
	err = g.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading session count: %w", err)
	}
	return count, nil
}

func (g *Guard) originCount(ctx context.Context, origin, day string) (int, error) {
	query, args, err := sq.Select("COALESCE(SUM(query_count), 0)").
		From("user_sessions").
		Where(sq.Eq{"origin": origin, "last_query_date": day}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building origin count query: %w", err)
	}

	var count int
	if err := g.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("reading origin count: %w", err)
	}
	return count, nil
}

// Usage returns today's consumption for a session. Errors degrade to a
// zero-usage report, consistent with the fail-open policy.
func (g *Guard) Usage(ctx context.Context, sessionID string) Usage {
	day := g.today()

	var count int
	var lastAt sql.NullString
	err := g.db.QueryRowContext(ctx, `
		SELECT query_count, last_query_at FROM user_sessions
		WHERE session_id = ? AND last_query_date = ?`, sessionID, day).Scan(&count, &lastAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		slog.Error("reading usage stats failed", "error", err)
	}

	u := Usage{
		QueriesToday:     count,
		QueriesRemaining: max(0, g.cfg.SessionDailyLimit-count),
		DailyLimit:       g.cfg.SessionDailyLimit,
	}
	if lastAt.Valid {
		if t, err := time.Parse(time.RFC3339, lastAt.String); err == nil {
			u.LastQueryAt = &t
		}
	}
	return u
}

// ResetSession deletes today's counter row for a session. Administrative
// operation; not part of the query path.
func (g *Guard) ResetSession(ctx context.Context, sessionID string) error {
	_, err := g.db.ExecContext(ctx,
		"DELETE FROM user_sessions WHERE session_id = ? AND last_query_date = ?",
		sessionID, g.today())
	if err != nil {
		return fmt.Errorf("resetting session %s: %w", sessionID, err)
	}
	return nil
}
