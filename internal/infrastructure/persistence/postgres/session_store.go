package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/session"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/shared"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/domain/stats"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/internal/tracker"
	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SessionStore implements tracker.Store for PostgreSQL.
type SessionStore struct {
	conn *Connection
}

var _ tracker.Store = (*SessionStore)(nil)

// NewSessionStore creates a new SessionStore.
func NewSessionStore(conn *Connection) *SessionStore {
	return &SessionStore{conn: conn}
}

// wrapTransient maps infrastructure failures onto the domain's
// store-unavailable error so the engine's retry policy matches them.
func wrapTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return shared.WrapError("store", op, shared.ErrStoreUnavailable, "postgres unavailable", err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Session Markers
// ─────────────────────────────────────────────────────────────────────────────

// OpenSessionMarker upserts the durable open marker for a user.
func (s *SessionStore) OpenSessionMarker(ctx context.Context, marker session.OpenMarker) error {
	query := `
		INSERT INTO session_markers (
			user_id, session_id, room_id, room_label, started_at, last_heartbeat_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			room_id = EXCLUDED.room_id,
			room_label = EXCLUDED.room_label,
			started_at = EXCLUDED.started_at,
			last_heartbeat_at = EXCLUDED.last_heartbeat_at,
			updated_at = NOW()
	`

	_, err := s.conn.Exec(ctx, query,
		marker.UserID.String(),
		marker.SessionID.String(),
		marker.RoomID.String(),
		marker.RoomLabel,
		marker.StartedAt,
		marker.LastHeartbeatAt,
	)
	return wrapTransient("OpenSessionMarker", err)
}

// TouchSessionMarker refreshes the marker's heartbeat timestamp.
func (s *SessionStore) TouchSessionMarker(ctx context.Context, userID session.UserID, at time.Time) error {
	query := `
		UPDATE session_markers
		SET last_heartbeat_at = GREATEST(last_heartbeat_at, $2), updated_at = NOW()
		WHERE user_id = $1
	`

	_, err := s.conn.Exec(ctx, query, userID.String(), at)
	return wrapTransient("TouchSessionMarker", err)
}

// CloseSessionMarker removes the marker on clean finalize.
func (s *SessionStore) CloseSessionMarker(ctx context.Context, userID session.UserID) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM session_markers WHERE user_id = $1`, userID.String())
	return wrapTransient("CloseSessionMarker", err)
}

// QueryOpenMarkers returns every crash-left open marker.
func (s *SessionStore) QueryOpenMarkers(ctx context.Context) ([]session.OpenMarker, error) {
	query := `
		SELECT user_id, session_id, room_id, room_label, started_at, last_heartbeat_at
		FROM session_markers
		ORDER BY started_at
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, wrapTransient("QueryOpenMarkers", err)
	}
	defer rows.Close()

	var markers []session.OpenMarker
	for rows.Next() {
		var (
			userID, sessionID, roomID, roomLabel string
			startedAt, lastHeartbeatAt           time.Time
		)
		if err := rows.Scan(&userID, &sessionID, &roomID, &roomLabel, &startedAt, &lastHeartbeatAt); err != nil {
			return nil, fmt.Errorf("postgres: scan marker: %w", err)
		}
		markers = append(markers, session.OpenMarker{
			SessionID:       session.ID(sessionID),
			UserID:          session.UserID(userID),
			RoomID:          session.RoomID(roomID),
			RoomLabel:       roomLabel,
			StartedAt:       startedAt,
			LastHeartbeatAt: lastHeartbeatAt,
		})
	}
	return markers, wrapTransient("QueryOpenMarkers", rows.Err())
}

// ─────────────────────────────────────────────────────────────────────────────
// Finalization
// ─────────────────────────────────────────────────────────────────────────────

// ApplyFinalize applies one finalization in a single transaction: the
// guard insert, the daily stat upsert, and the monthly and all-time
// rollups. The guard insert is first; when the session ID was already
// recorded the transaction credits nothing and reports applied=false.
func (s *SessionStore) ApplyFinalize(ctx context.Context, f stats.Finalization) (bool, error) {
	var applied bool

	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO finalized_sessions (session_id, user_id, room_id, date, minutes, points)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (session_id) DO NOTHING
		`, f.SessionID, f.UserID, f.RoomID, f.Date, f.Minutes, f.Points)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			applied = false
			return nil
		}
		applied = true

		if _, err := tx.Exec(ctx, `
			INSERT INTO daily_stats (user_id, date, total_minutes, session_count, points_earned)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, date) DO UPDATE SET
				total_minutes = daily_stats.total_minutes + EXCLUDED.total_minutes,
				session_count = daily_stats.session_count + EXCLUDED.session_count,
				points_earned = daily_stats.points_earned + EXCLUDED.points_earned,
				updated_at = NOW()
		`, f.UserID, f.Date, f.Minutes, f.SessionCountDelta, f.Points); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO monthly_stats (user_id, month, total_minutes, session_count, points_earned)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, month) DO UPDATE SET
				total_minutes = monthly_stats.total_minutes + EXCLUDED.total_minutes,
				session_count = monthly_stats.session_count + EXCLUDED.session_count,
				points_earned = monthly_stats.points_earned + EXCLUDED.points_earned,
				updated_at = NOW()
		`, f.UserID, timeutil.MonthString(f.Date), f.Minutes, f.SessionCountDelta, f.Points); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO alltime_stats (user_id, total_minutes, session_count, points_earned, first_session_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id) DO UPDATE SET
				total_minutes = alltime_stats.total_minutes + EXCLUDED.total_minutes,
				session_count = alltime_stats.session_count + EXCLUDED.session_count,
				points_earned = alltime_stats.points_earned + EXCLUDED.points_earned,
				updated_at = NOW()
		`, f.UserID, f.Minutes, f.SessionCountDelta, f.Points, f.Date)
		return err
	})
	if err != nil {
		return false, wrapTransient("ApplyFinalize", err)
	}
	return applied, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Daily Stats
// ─────────────────────────────────────────────────────────────────────────────

// EnsureDailyStat creates the fresh zero-minute row for a date.
func (s *SessionStore) EnsureDailyStat(ctx context.Context, userID session.UserID, date time.Time) error {
	query := `
		INSERT INTO daily_stats (user_id, date)
		VALUES ($1, $2)
		ON CONFLICT (user_id, date) DO NOTHING
	`

	_, err := s.conn.Exec(ctx, query, userID.String(), date)
	return wrapTransient("EnsureDailyStat", err)
}

// ArchiveDailyStat flips the one-way archived flag on a day's row.
func (s *SessionStore) ArchiveDailyStat(ctx context.Context, userID session.UserID, date time.Time) error {
	query := `
		UPDATE daily_stats
		SET archived = TRUE, updated_at = NOW()
		WHERE user_id = $1 AND date = $2 AND NOT archived
	`

	_, err := s.conn.Exec(ctx, query, userID.String(), date)
	return wrapTransient("ArchiveDailyStat", err)
}

// ArchiveDailyStatsBefore archives every non-archived row dated before the
// given day.
func (s *SessionStore) ArchiveDailyStatsBefore(ctx context.Context, date time.Time) (int, error) {
	query := `
		UPDATE daily_stats
		SET archived = TRUE, updated_at = NOW()
		WHERE date < $1 AND NOT archived
	`

	tag, err := s.conn.Exec(ctx, query, date)
	if err != nil {
		return 0, wrapTransient("ArchiveDailyStatsBefore", err)
	}
	return int(tag.RowsAffected()), nil
}

// QueryDailyStat returns a user's row for a date, or nil when absent.
func (s *SessionStore) QueryDailyStat(ctx context.Context, userID session.UserID, date time.Time) (*stats.DailyStat, error) {
	query := `
		SELECT user_id, date, total_minutes, session_count, points_earned, archived
		FROM daily_stats
		WHERE user_id = $1 AND date = $2
	`

	var stat stats.DailyStat
	err := s.conn.QueryRow(ctx, query, userID.String(), date).Scan(
		&stat.UserID,
		&stat.Date,
		&stat.TotalMinutes,
		&stat.SessionCount,
		&stat.PointsEarned,
		&stat.Archived,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, wrapTransient("QueryDailyStat", err)
	}
	return &stat, nil
}
