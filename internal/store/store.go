// Package store persists templates, variations, attachments, question
// instances, guesses and exam state in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the database at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const dbVersion = "1"

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS config (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS qtemplates (
		qtemplate INTEGER PRIMARY KEY AUTOINCREMENT,
		owner INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		marker INTEGER NOT NULL DEFAULT 1,
		scoremax REAL NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		status INTEGER NOT NULL DEFAULT 1,
		embed_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS qtvariations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		qtemplate INTEGER NOT NULL,
		variation INTEGER NOT NULL,
		version INTEGER NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_qtvariations
		ON qtvariations (qtemplate, variation, version);

	CREATE TABLE IF NOT EXISTS qtattach (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		qtemplate INTEGER NOT NULL,
		name TEXT NOT NULL,
		mimetype TEXT NOT NULL DEFAULT '',
		data BLOB,
		version INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_qtattach
		ON qtattach (qtemplate, name, version);

	CREATE TABLE IF NOT EXISTS qattach (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		qtemplate INTEGER NOT NULL,
		variation INTEGER NOT NULL,
		name TEXT NOT NULL,
		mimetype TEXT NOT NULL DEFAULT '',
		data BLOB,
		version INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_qattach
		ON qattach (qtemplate, variation, name, version);

	CREATE TABLE IF NOT EXISTS questions (
		question INTEGER PRIMARY KEY AUTOINCREMENT,
		qtemplate INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		student INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL DEFAULT 1,
		score REAL NOT NULL DEFAULT 0,
		firstview DATETIME,
		marktime DATETIME,
		variation INTEGER NOT NULL,
		version INTEGER NOT NULL,
		exam INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS guesses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question INTEGER NOT NULL,
		part INTEGER NOT NULL,
		guess TEXT NOT NULL,
		created DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_guesses ON guesses (question, created);

	CREATE TABLE IF NOT EXISTS exams (
		exam INTEGER PRIMARY KEY AUTOINCREMENT,
		course INTEGER NOT NULL DEFAULT 0,
		owner INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL,
		start DATETIME,
		end DATETIME,
		duration INTEGER NOT NULL DEFAULT 0,
		markstatus INTEGER NOT NULL DEFAULT 1,
		archived INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS examqtemplates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam INTEGER NOT NULL,
		position INTEGER NOT NULL,
		qtemplate INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS examquestions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam INTEGER NOT NULL,
		student INTEGER NOT NULL,
		position INTEGER NOT NULL,
		question INTEGER NOT NULL,
		UNIQUE (exam, student, position)
	);

	CREATE TABLE IF NOT EXISTS userexams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam INTEGER NOT NULL,
		student INTEGER NOT NULL,
		status INTEGER NOT NULL DEFAULT 1,
		score REAL NOT NULL DEFAULT -1,
		submittime DATETIME,
		lastchange DATETIME,
		UNIQUE (exam, student)
	);

	CREATE TABLE IF NOT EXISTS examtimers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam INTEGER NOT NULL,
		student INTEGER NOT NULL,
		endtime DATETIME NOT NULL,
		UNIQUE (exam, student)
	);

	CREATE TABLE IF NOT EXISTS marklog (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		eventtime DATETIME NOT NULL,
		exam INTEGER NOT NULL,
		student INTEGER NOT NULL,
		marker INTEGER NOT NULL DEFAULT 1,
		operation TEXT NOT NULL,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS qlog (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		qtemplate INTEGER NOT NULL,
		question INTEGER NOT NULL,
		priority TEXT NOT NULL,
		facility TEXT NOT NULL,
		message TEXT NOT NULL,
		created DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.SetConfig("dbversion", dbVersion)
}

// SetConfig upserts a name-value pair in the config table.
func (s *Store) SetConfig(name, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO config (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = ?`,
		name, value, value,
	)
	return err
}

// Config returns the value for a config name, or empty string if missing.
func (s *Store) Config(name string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM config WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// QLog records an author-facing diagnostic for a question, e.g. from a
// marker or results script.
func (s *Store) QLog(qtID, questionID int64, priority, facility, message string) error {
	_, err := s.db.Exec(
		`INSERT INTO qlog (qtemplate, question, priority, facility, message, created)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		qtID, questionID, priority, facility, message, time.Now(),
	)
	return err
}
