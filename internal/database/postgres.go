package database

import (
	"database/sql"
	"fmt"
	"time"

	"cloaken/internal/config"
	"github.com/lib/pq"
)

type DB struct {
	conn *sql.DB
	cfg  *config.Config
}

func NewDB(cfg *config.Config) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn: conn,
		cfg:  cfg,
	}

	if err := db.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS honeypots (
			id VARCHAR(64) PRIMARY KEY,
			captcha_type VARCHAR(32) NOT NULL,
			ape_type VARCHAR(32) NOT NULL,
			domain VARCHAR(255) NOT NULL,
			kit_id INTEGER NOT NULL,
			sent BOOLEAN NOT NULL DEFAULT FALSE,
			accessed BOOLEAN NOT NULL DEFAULT FALSE,
			solved BOOLEAN NOT NULL DEFAULT FALSE,
			sent_at TIMESTAMP WITH TIME ZONE,
			accessed_at TIMESTAMP WITH TIME ZONE,
			solved_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS visits (
			id BIGSERIAL PRIMARY KEY,
			honeypot_id VARCHAR(64) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS fingerprints (
			id BIGSERIAL PRIMARY KEY,
			visitor_id VARCHAR(255) NOT NULL,
			honeypot_id VARCHAR(64) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_honeypots_kit_id ON honeypots(kit_id)`,
		`CREATE INDEX IF NOT EXISTS idx_honeypots_types ON honeypots(captcha_type, ape_type)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_honeypot_id ON visits(honeypot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_fingerprints_honeypot_id ON fingerprints(honeypot_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", query, err)
		}
	}

	return nil
}

const honeypotColumns = `id, captcha_type, ape_type, domain, kit_id, sent, accessed, solved, sent_at, accessed_at, solved_at, created_at`

func scanHoneypot(row interface{ Scan(...any) error }) (*Honeypot, error) {
	h := &Honeypot{}
	err := row.Scan(&h.ID, &h.CaptchaType, &h.ApeType, &h.Domain, &h.KitID,
		&h.Sent, &h.Accessed, &h.Solved, &h.SentAt, &h.AccessedAt, &h.SolvedAt, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// GetAndMarkAccessed loads a honeypot and marks it accessed in a single
// statement. The LEAST(COALESCE(...)) keeps the earliest timestamp, so
// concurrent duplicate accesses never move accessed_at forward.
func (db *DB) GetAndMarkAccessed(id string, at time.Time) (*Honeypot, error) {
	query := `UPDATE honeypots
			  SET accessed = TRUE, accessed_at = LEAST(COALESCE(accessed_at, $2), $2)
			  WHERE id = $1
			  RETURNING ` + honeypotColumns

	h, err := scanHoneypot(db.conn.QueryRow(query, id, at))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark honeypot accessed: %w", err)
	}
	return h, nil
}

// MarkSolved marks a honeypot solved, keeping the earliest solved_at.
func (db *DB) MarkSolved(id string, at time.Time) error {
	query := `UPDATE honeypots
			  SET solved = TRUE, solved_at = LEAST(COALESCE(solved_at, $2), $2)
			  WHERE id = $1`
	_, err := db.conn.Exec(query, id, at)
	return err
}

// MarkSent marks a batch of honeypots sent, keeping the earliest sent_at.
func (db *DB) MarkSent(ids []string, at time.Time) error {
	query := `UPDATE honeypots
			  SET sent = TRUE, sent_at = LEAST(COALESCE(sent_at, $2), $2)
			  WHERE id = ANY($1)`
	_, err := db.conn.Exec(query, pq.Array(ids), at)
	return err
}

func (db *DB) CreateHoneypots(honeypots []*Honeypot) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO honeypots (id, captcha_type, ape_type, domain, kit_id, created_at)
							 VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, h := range honeypots {
		if _, err := stmt.Exec(h.ID, h.CaptchaType, h.ApeType, h.Domain, h.KitID, h.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert honeypot %s: %w", h.ID, err)
		}
	}

	return tx.Commit()
}

func (db *DB) ListHoneypots(captchaType, apeType string) ([]*Honeypot, error) {
	query := `SELECT ` + honeypotColumns + ` FROM honeypots
			  WHERE captcha_type = $1 AND ape_type = $2 ORDER BY kit_id`

	rows, err := db.conn.Query(query, captchaType, apeType)
	if err != nil {
		return nil, fmt.Errorf("failed to list honeypots: %w", err)
	}
	defer rows.Close()

	var honeypots []*Honeypot
	for rows.Next() {
		h, err := scanHoneypot(rows)
		if err != nil {
			return nil, err
		}
		honeypots = append(honeypots, h)
	}
	return honeypots, rows.Err()
}

func (db *DB) ListAllHoneypots() ([]*Honeypot, error) {
	rows, err := db.conn.Query(`SELECT ` + honeypotColumns + ` FROM honeypots ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list honeypots: %w", err)
	}
	defer rows.Close()

	var honeypots []*Honeypot
	for rows.Next() {
		h, err := scanHoneypot(rows)
		if err != nil {
			return nil, err
		}
		honeypots = append(honeypots, h)
	}
	return honeypots, rows.Err()
}

func (db *DB) DeleteHoneypots(ids []string) error {
	_, err := db.conn.Exec(`DELETE FROM honeypots WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

func (db *DB) CreateVisit(honeypotID string) error {
	_, err := db.conn.Exec(`INSERT INTO visits (honeypot_id) VALUES ($1)`, honeypotID)
	return err
}

func (db *DB) ListVisits() ([]*Visit, error) {
	rows, err := db.conn.Query(`SELECT id, honeypot_id, created_at FROM visits ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	defer rows.Close()

	var visits []*Visit
	for rows.Next() {
		v := &Visit{}
		if err := rows.Scan(&v.ID, &v.HoneypotID, &v.CreatedAt); err != nil {
			return nil, err
		}
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

func (db *DB) CreateFingerprint(visitorID, honeypotID string) error {
	_, err := db.conn.Exec(`INSERT INTO fingerprints (visitor_id, honeypot_id) VALUES ($1, $2)`,
		visitorID, honeypotID)
	return err
}

func (db *DB) ListFingerprints() ([]*Fingerprint, error) {
	rows, err := db.conn.Query(`SELECT id, visitor_id, honeypot_id, created_at FROM fingerprints ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	defer rows.Close()

	var fingerprints []*Fingerprint
	for rows.Next() {
		f := &Fingerprint{}
		if err := rows.Scan(&f.ID, &f.VisitorID, &f.HoneypotID, &f.CreatedAt); err != nil {
			return nil, err
		}
		fingerprints = append(fingerprints, f)
	}
	return fingerprints, rows.Err()
}
