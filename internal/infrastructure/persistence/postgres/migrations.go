// Package postgres implements the PostgreSQL persistence layer for the
// Hogwarts Productivity Hub.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: SESSION MARKERS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create session markers
-- Version: 001
-- Purpose: durable "session open" records used by crash recovery

CREATE TABLE IF NOT EXISTS session_markers (
    user_id VARCHAR(32) PRIMARY KEY,
    session_id UUID NOT NULL,
    room_id VARCHAR(32) NOT NULL,
    room_label VARCHAR(100) NOT NULL DEFAULT '',
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    last_heartbeat_at TIMESTAMP WITH TIME ZONE NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_session_markers_heartbeat ON session_markers(last_heartbeat_at);
CREATE INDEX IF NOT EXISTS idx_session_markers_room ON session_markers(room_id);
`

const migration001Down = `
DROP TABLE IF EXISTS session_markers;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: DAILY STATS AND FINALIZATION GUARD
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create stats tables
-- Version: 002
-- Purpose: per-day presence totals, house points, and the exactly-once
-- finalization guard

CREATE TABLE IF NOT EXISTS daily_stats (
    id SERIAL PRIMARY KEY,
    user_id VARCHAR(32) NOT NULL,
    date DATE NOT NULL,
    total_minutes INTEGER NOT NULL DEFAULT 0,
    session_count INTEGER NOT NULL DEFAULT 0,
    points_earned INTEGER NOT NULL DEFAULT 0,
    archived BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE(user_id, date),
    CONSTRAINT valid_minutes CHECK (total_minutes >= 0),
    CONSTRAINT valid_points CHECK (points_earned >= 0)
);

CREATE INDEX IF NOT EXISTS idx_daily_stats_user_date ON daily_stats(user_id, date DESC);
CREATE INDEX IF NOT EXISTS idx_daily_stats_date ON daily_stats(date) WHERE NOT archived;

-- One row per finalized session. The INSERT ... ON CONFLICT DO NOTHING
-- against this table is the exactly-once guard: a retry or a recovery
-- re-finalize inserts zero rows and credits nothing.
CREATE TABLE IF NOT EXISTS finalized_sessions (
    session_id UUID PRIMARY KEY,
    user_id VARCHAR(32) NOT NULL,
    room_id VARCHAR(32) NOT NULL,
    date DATE NOT NULL,
    minutes INTEGER NOT NULL,
    points INTEGER NOT NULL,
    finalized_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_finalized_sessions_user ON finalized_sessions(user_id, date DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS finalized_sessions;
DROP TABLE IF EXISTS daily_stats;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: MONTHLY AND ALL-TIME AGGREGATES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create aggregate tables
-- Version: 003
-- Purpose: rollups updated in the same transaction as each finalize

CREATE TABLE IF NOT EXISTS monthly_stats (
    id SERIAL PRIMARY KEY,
    user_id VARCHAR(32) NOT NULL,
    month CHAR(7) NOT NULL, -- YYYY-MM
    total_minutes INTEGER NOT NULL DEFAULT 0,
    session_count INTEGER NOT NULL DEFAULT 0,
    points_earned INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE(user_id, month)
);

CREATE INDEX IF NOT EXISTS idx_monthly_stats_month ON monthly_stats(month, points_earned DESC);

CREATE TABLE IF NOT EXISTS alltime_stats (
    user_id VARCHAR(32) PRIMARY KEY,
    total_minutes BIGINT NOT NULL DEFAULT 0,
    session_count INTEGER NOT NULL DEFAULT 0,
    points_earned BIGINT NOT NULL DEFAULT 0,
    first_session_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_alltime_stats_points ON alltime_stats(points_earned DESC);
`

const migration003Down = `
DROP TABLE IF EXISTS alltime_stats;
DROP TABLE IF EXISTS monthly_stats;
`

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_session_markers",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_daily_stats",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_aggregates",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}
