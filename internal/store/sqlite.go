// Package store provides storage backends for leadflow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/caselink/leadflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the SQLite database file; its directory is
// created when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetSession(sessionID string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT session_id, platform, flow_initialized, current_step, lead_data,
		validation_attempts, flow_completed, lead_qualified, collecting_phone, phone_submitted,
		phone_number, lead_id, message_count, created_at, last_updated, qualified_at
		FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return sess, nil
}

func (s *SQLiteStore) SaveSession(sess models.Session) error {
	if sess.SessionID == "" {
		return models.ErrEmptySessionID
	}
	leadData, attempts, err := encodeSessionMaps(sess)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO sessions (session_id, platform, flow_initialized, current_step,
		lead_data, validation_attempts, flow_completed, lead_qualified, collecting_phone,
		phone_submitted, phone_number, lead_id, message_count, created_at, last_updated, qualified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			platform = excluded.platform,
			flow_initialized = excluded.flow_initialized,
			current_step = excluded.current_step,
			lead_data = excluded.lead_data,
			validation_attempts = excluded.validation_attempts,
			flow_completed = excluded.flow_completed,
			lead_qualified = excluded.lead_qualified,
			collecting_phone = excluded.collecting_phone,
			phone_submitted = excluded.phone_submitted,
			phone_number = excluded.phone_number,
			lead_id = excluded.lead_id,
			message_count = excluded.message_count,
			last_updated = excluded.last_updated,
			qualified_at = excluded.qualified_at`,
		sess.SessionID, sess.Platform, sess.FlowInitialized, sess.CurrentStep,
		leadData, attempts, sess.FlowCompleted, sess.LeadQualified, sess.CollectingPhone,
		sess.PhoneSubmitted, nilIfEmpty(sess.PhoneNumber), nilIfEmpty(sess.LeadID),
		sess.MessageCount, sess.CreatedAt, sess.LastUpdated, sess.QualifiedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "sessionID", sess.SessionID)
		return fmt.Errorf("failed to save session %s: %w", sess.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "sessionID", sess.SessionID, "step", sess.CurrentStep)
	return nil
}

func (s *SQLiteStore) SaveLead(lead models.LeadRecord) (string, error) {
	id, answers, err := prepareLead(&lead)
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(`INSERT INTO leads (id, session_id, platform, answers, phone, email, category, status, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			answers = excluded.answers,
			phone = excluded.phone,
			email = excluded.email,
			category = excluded.category,
			status = excluded.status`,
		id, lead.SessionID, lead.Platform, answers, nilIfEmpty(lead.Phone),
		nilIfEmpty(lead.Email), nilIfEmpty(lead.Category), string(lead.Status), lead.CompletedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveLead failed", "error", err, "sessionID", lead.SessionID)
		return "", fmt.Errorf("failed to save lead for session %s: %w", lead.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveLead succeeded", "leadID", id, "sessionID", lead.SessionID)
	return id, nil
}

func (s *SQLiteStore) UpdateLeadPhone(leadID, phone string) error {
	res, err := s.db.Exec(`UPDATE leads SET phone = ?, status = ? WHERE id = ?`,
		phone, string(models.LeadStatusPhoneCollected), leadID)
	if err != nil {
		slog.Error("SQLiteStore UpdateLeadPhone failed", "error", err, "leadID", leadID)
		return fmt.Errorf("failed to update phone for lead %s: %w", leadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrLeadNotFound
	}
	return nil
}

func (s *SQLiteStore) ListQualifiedLeads() ([]models.LeadRecord, error) {
	rows, err := s.db.Query(`SELECT id, session_id, platform, answers, phone, email, category, status, completed_at
		FROM leads ORDER BY completed_at`)
	if err != nil {
		slog.Error("SQLiteStore ListQualifiedLeads query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []models.LeadRecord
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			slog.Error("SQLiteStore ListQualifiedLeads scan failed", "error", err)
			return nil, err
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lead rows: %w", err)
	}
	return leads, nil
}

func (s *SQLiteStore) MarkLeadContacted(leadID string) error {
	res, err := s.db.Exec(`UPDATE leads SET status = ? WHERE id = ?`,
		string(models.LeadStatusContacted), leadID)
	if err != nil {
		slog.Error("SQLiteStore MarkLeadContacted failed", "error", err, "leadID", leadID)
		return fmt.Errorf("failed to mark lead %s contacted: %w", leadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrLeadNotFound
	}
	return nil
}

func (s *SQLiteStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES (?, ?, ?)`, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

func (s *SQLiteStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT sender, body, time FROM responses`)
	if err != nil {
		slog.Error("SQLiteStore GetResponses query failed", "error", err)
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.From, &r.Body, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate response rows: %w", err)
	}
	return responses, nil
}

func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
