package sqlite

import (
	"database/sql"
	"fmt"
)

// SchemaSQL is the authoritative schema. Tests load it through Open.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS tasks (
	id                       TEXT PRIMARY KEY,
	title                    TEXT NOT NULL DEFAULT '',
	description              TEXT NOT NULL DEFAULT '',
	category                 TEXT NOT NULL,
	urgency                  TEXT NOT NULL DEFAULT 'normal',
	lat                      REAL NOT NULL,
	lng                      REAL NOT NULL,
	people_needed            INTEGER NOT NULL DEFAULT 0,
	accepted_volunteer_count INTEGER NOT NULL DEFAULT 0,
	requester_name           TEXT NOT NULL DEFAULT '',
	requester_email          TEXT NOT NULL DEFAULT '',
	requester_phone          TEXT NOT NULL DEFAULT '',
	created_at               INTEGER NOT NULL,
	escalation_deadline      INTEGER NOT NULL,
	end_time                 INTEGER,
	contacted                INTEGER NOT NULL DEFAULT 0,
	contacted_at             INTEGER,
	assigned_business_id     TEXT,
	volunteer_info           TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_escalation
	ON tasks (contacted, accepted_volunteer_count, escalation_deadline);

CREATE TABLE IF NOT EXISTS businesses (
	id                      TEXT PRIMARY KEY,
	name                    TEXT NOT NULL DEFAULT '',
	contact_person          TEXT NOT NULL DEFAULT '',
	email                   TEXT NOT NULL DEFAULT '',
	phone                   TEXT NOT NULL DEFAULT '',
	services                TEXT NOT NULL DEFAULT '[]',
	lat                     REAL NOT NULL,
	lng                     REAL NOT NULL,
	coverage_radius_km      REAL NOT NULL DEFAULT 0,
	capacity                INTEGER NOT NULL DEFAULT 0,
	current_load            INTEGER NOT NULL DEFAULT 0 CHECK (current_load >= 0),
	reliability             REAL NOT NULL DEFAULT 0,
	avg_response_time_hours REAL NOT NULL DEFAULT 0,
	operating_hours         TEXT NOT NULL DEFAULT '{}',
	timezone                TEXT NOT NULL DEFAULT '',
	last_contacted_at       INTEGER,
	is_active               INTEGER NOT NULL DEFAULT 1,
	total_assigned          INTEGER NOT NULL DEFAULT 0,
	successful_assignments  INTEGER NOT NULL DEFAULT 0,
	created_at              INTEGER NOT NULL,
	updated_at              INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sweeps (
	id          TEXT PRIMARY KEY,
	node_id     TEXT NOT NULL DEFAULT '',
	trigger_by  TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	results     TEXT NOT NULL DEFAULT '[]'
);
`

// InitSchema creates the tables if they do not exist.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(SchemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
