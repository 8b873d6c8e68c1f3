package database

import (
	"database/sql"
)

type PgArchiveRepository struct {
	conn *sql.DB
}

func NewPgArchiveRepository(dsn string) (*PgArchiveRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	repo := &PgArchiveRepository{conn: db}
	if err := repo.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

func (db *PgArchiveRepository) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS parties (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			creator_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			payment_mode TEXT NOT NULL,
			fee DOUBLE PRECISION NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT '',
			opening_time TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS applicants (
			id TEXT PRIMARY KEY,
			party_id TEXT NOT NULL REFERENCES parties (id) ON DELETE CASCADE,
			applier_id INTEGER NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			sticker_locked BOOLEAN NOT NULL DEFAULT FALSE,
			sticker_sold BOOLEAN NOT NULL DEFAULT FALSE,
			applied_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			sent_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (db *PgArchiveRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgArchiveRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
