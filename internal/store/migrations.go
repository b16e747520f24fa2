package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	source              TEXT NOT NULL,
	title               TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	start_time          DATETIME NOT NULL,
	end_time            DATETIME NOT NULL,
	attendees           TEXT NOT NULL DEFAULT '[]',
	location            TEXT NOT NULL DEFAULT '',
	recurrence          TEXT NOT NULL DEFAULT '',
	priority            TEXT NOT NULL DEFAULT 'normal' CHECK(priority IN ('low', 'normal', 'high')),
	is_critical         INTEGER NOT NULL DEFAULT 0,
	is_urgent           INTEGER NOT NULL DEFAULT 0,
	is_spam             INTEGER NOT NULL DEFAULT 0,
	spam_reason         TEXT NOT NULL DEFAULT '',
	spam_score          REAL NOT NULL DEFAULT 0,
	is_completed        INTEGER NOT NULL DEFAULT 0,
	completed_at        DATETIME,
	raw_payload         TEXT NOT NULL DEFAULT '',
	external_id         TEXT NOT NULL DEFAULT '',
	sync_status         TEXT NOT NULL DEFAULT 'synced' CHECK(sync_status IN ('synced', 'pending', 'conflict', 'error')),
	sync_direction      TEXT NOT NULL DEFAULT 'inbound' CHECK(sync_direction IN ('inbound', 'outbound', 'bidirectional')),
	last_synced_at      DATETIME,
	external_updated_at DATETIME,
	sync_error          TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL,
	CHECK (end_time >= start_time),
	CHECK (is_completed = 0 OR completed_at IS NOT NULL)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_user_source_external
	ON tasks(user_id, source, external_id) WHERE external_id != '';
CREATE INDEX IF NOT EXISTS idx_tasks_user_start ON tasks(user_id, start_time);
CREATE INDEX IF NOT EXISTS idx_tasks_user_sync ON tasks(user_id, source, sync_status);

CREATE TABLE IF NOT EXISTS reminders (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	source      TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	start_time  DATETIME NOT NULL,
	end_time    DATETIME NOT NULL,
	is_all_day  INTEGER NOT NULL DEFAULT 0,
	raw_payload TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_reminders_user_source_external
	ON reminders(user_id, source, external_id) WHERE external_id != '';
CREATE INDEX IF NOT EXISTS idx_reminders_user_start ON reminders(user_id, start_time);

CREATE TABLE IF NOT EXISTS daily_plans (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	plan_date    TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'completed', 'cancelled')),
	energy_level INTEGER,
	entries      TEXT NOT NULL DEFAULT '[]',
	generated_at DATETIME NOT NULL,
	UNIQUE(user_id, plan_date)
);

CREATE INDEX IF NOT EXISTS idx_daily_plans_date_status ON daily_plans(plan_date, status);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	task_id      TEXT NOT NULL,
	plan_id      TEXT NOT NULL DEFAULT '',
	type         TEXT NOT NULL DEFAULT 'nudge',
	message      TEXT NOT NULL,
	scheduled_at DATETIME NOT NULL,
	sent_at      DATETIME,
	status       TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'sent', 'dismissed')),
	created_at   DATETIME NOT NULL
);

-- The at-most-once guard: only one non-dismissed row per (user, task, plan).
CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_active_reservation
	ON notifications(user_id, task_id, plan_id) WHERE status != 'dismissed';
CREATE INDEX IF NOT EXISTS idx_notifications_user_status ON notifications(user_id, status);

CREATE TABLE IF NOT EXISTS task_feedback (
	id                      TEXT PRIMARY KEY,
	user_id                 TEXT NOT NULL,
	task_id                 TEXT NOT NULL,
	plan_id                 TEXT NOT NULL DEFAULT '',
	action                  TEXT NOT NULL CHECK(action IN ('done', 'snoozed')),
	snooze_duration_minutes INTEGER NOT NULL DEFAULT 0,
	at                      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_feedback_user_at ON task_feedback(user_id, at);
CREATE INDEX IF NOT EXISTS idx_task_feedback_user_task ON task_feedback(user_id, task_id);

CREATE TABLE IF NOT EXISTS energy_levels (
	user_id    TEXT NOT NULL,
	date       TEXT NOT NULL,
	level      INTEGER NOT NULL CHECK(level BETWEEN 1 AND 5),
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (user_id, date)
);

CREATE TABLE IF NOT EXISTS provider_credentials (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	provider      TEXT NOT NULL CHECK(provider IN ('calendar', 'mail', 'task_manager')),
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expiry        DATETIME NOT NULL,
	scopes        TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'revoked')),
	updated_at    DATETIME NOT NULL,
	UNIQUE(user_id, provider)
);

CREATE TABLE IF NOT EXISTS task_dependencies (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	task_id         TEXT NOT NULL,
	blocked_by_task TEXT NOT NULL,
	type            TEXT NOT NULL DEFAULT 'blocks' CHECK(type IN ('blocks', 'depends_on', 'related_to')),
	created_at      DATETIME NOT NULL,
	UNIQUE(user_id, task_id, blocked_by_task),
	CHECK (task_id != blocked_by_task)
);

CREATE TABLE IF NOT EXISTS user_settings (
	user_id       TEXT PRIMARY KEY,
	email         TEXT NOT NULL DEFAULT '',
	timezone      TEXT NOT NULL DEFAULT 'UTC',
	email_enabled INTEGER NOT NULL DEFAULT 0
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
