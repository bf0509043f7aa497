package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,
	`
	CREATE TABLE IF NOT EXISTS terms (
		id TEXT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		description TEXT,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		academic_year INT NOT NULL,
		sequence INT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		payment_window1_start DATE,
		payment_window1_end DATE,
		payment_window2_start DATE,
		payment_window2_end DATE,
		factor NUMERIC(6,3),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT terms_range_chk CHECK (start_date < end_date),
		CONSTRAINT terms_year_sequence_uniq UNIQUE (academic_year, sequence)
	)
	`,
	`
	CREATE TABLE IF NOT EXISTS instructors (
		id TEXT PRIMARY KEY,
		full_name VARCHAR(200) NOT NULL,
		email VARCHAR(200),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
	`,
	`
	CREATE TABLE IF NOT EXISTS careers (
		id TEXT PRIMARY KEY,
		term_id TEXT NOT NULL REFERENCES terms(id),
		code VARCHAR(50) NOT NULL,
		name VARCHAR(200) NOT NULL
	)
	`,
	`
	CREATE TABLE IF NOT EXISTS academic_structures (
		id TEXT PRIMARY KEY,
		term_id TEXT NOT NULL REFERENCES terms(id),
		career_code VARCHAR(50) NOT NULL,
		subject_code VARCHAR(50) NOT NULL,
		subject_name VARCHAR(200)
	)
	`,
	`
	CREATE TABLE IF NOT EXISTS start_vacancies (
		id TEXT PRIMARY KEY,
		term_id TEXT NOT NULL REFERENCES terms(id),
		subject_code VARCHAR(50) NOT NULL,
		career_code VARCHAR(50),
		vacancies INT NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)
	`,
	`ALTER TABLE start_vacancies ADD COLUMN IF NOT EXISTS is_active BOOLEAN NOT NULL DEFAULT TRUE`,
	`
	CREATE TABLE IF NOT EXISTS schedule_events (
		id TEXT PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		description TEXT,
		start_at TIMESTAMPTZ NOT NULL,
		end_at TIMESTAMPTZ NOT NULL,
		room VARCHAR(100),
		subject_code VARCHAR(50),
		students INT,
		hours NUMERIC(6,2),
		color VARCHAR(20),
		term_id TEXT REFERENCES terms(id),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT schedule_events_range_chk CHECK (start_at < end_at)
	)
	`,
	`
	DO $$ BEGIN
		ALTER TABLE schedule_events ADD CONSTRAINT schedule_events_room_overlap_excl
			EXCLUDE USING gist (room WITH =, tstzrange(start_at, end_at, '[)') WITH &&)
			WHERE (is_active AND room IS NOT NULL AND room <> '');
	EXCEPTION WHEN duplicate_object OR duplicate_table THEN NULL;
	END $$
	`,
	`CREATE INDEX IF NOT EXISTS schedule_events_term_subject_idx ON schedule_events (term_id, subject_code)`,
	`
	CREATE TABLE IF NOT EXISTS event_instructors (
		event_id TEXT NOT NULL REFERENCES schedule_events(id) ON DELETE CASCADE,
		instructor_id TEXT NOT NULL REFERENCES instructors(id),
		term_id TEXT REFERENCES terms(id),
		PRIMARY KEY (event_id, instructor_id)
	)
	`,
	`
	CREATE TABLE IF NOT EXISTS user_subject_permissions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		term_id TEXT NOT NULL REFERENCES terms(id),
		subject_code VARCHAR(50) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
	`,
	`
	CREATE TABLE IF NOT EXISTS user_career_permissions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		term_id TEXT NOT NULL REFERENCES terms(id),
		career_id TEXT NOT NULL REFERENCES careers(id),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
	`,
	`
	CREATE TABLE IF NOT EXISTS user_category_permissions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		term_id TEXT NOT NULL REFERENCES terms(id),
		category VARCHAR(50) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
	`,
	`
	CREATE TABLE IF NOT EXISTS upload_logs (
		id TEXT PRIMARY KEY,
		term_id TEXT REFERENCES terms(id),
		upload_type VARCHAR(50) NOT NULL,
		file_name VARCHAR(255),
		status VARCHAR(20) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
	`,
	`
	CREATE TABLE IF NOT EXISTS approved_dol (
		id TEXT PRIMARY KEY,
		term_id TEXT NOT NULL REFERENCES terms(id),
		subject_code VARCHAR(50) NOT NULL,
		instructor_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
	`,
	`
	CREATE TABLE IF NOT EXISTS approved_optional_courses (
		id TEXT PRIMARY KEY,
		term_id TEXT NOT NULL REFERENCES terms(id),
		subject_code VARCHAR(50) NOT NULL,
		career_code VARCHAR(50),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
	`,
	`
	CREATE TABLE IF NOT EXISTS cleanup_logs (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL UNIQUE,
		executed_at TIMESTAMPTZ NOT NULL,
		status VARCHAR(20) NOT NULL,
		terms_identified INT NOT NULL DEFAULT 0,
		terms_deleted INT NOT NULL DEFAULT 0,
		total_records_deleted BIGINT NOT NULL DEFAULT 0,
		execution_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		debug_mode BOOLEAN NOT NULL DEFAULT FALSE,
		months_threshold INT NOT NULL,
		max_terms_per_run INT NOT NULL,
		perform_backup BOOLEAN NOT NULL DEFAULT TRUE,
		trigger_source VARCHAR(20) NOT NULL,
		error_message TEXT,
		table_counts JSONB NOT NULL DEFAULT '{}'::jsonb,
		processed_term_ids TEXT[] NOT NULL DEFAULT '{}',
		table_errors TEXT[] NOT NULL DEFAULT '{}'
	)
	`,
}

// RunMigrations ensures the tables used by the service exist.
func RunMigrations(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}
	}
	return nil
}
