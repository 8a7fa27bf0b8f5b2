// Package store provides storage backends for leadflow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/caselink/leadflow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetSession(sessionID string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT session_id, platform, flow_initialized, current_step, lead_data,
		validation_attempts, flow_completed, lead_qualified, collecting_phone, phone_submitted,
		phone_number, lead_id, message_count, created_at, last_updated, qualified_at
		FROM sessions WHERE session_id = $1`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return sess, nil
}

func (s *PostgresStore) SaveSession(sess models.Session) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (session_id) DO UPDATE SET
			platform = EXCLUDED.platform,
			flow_initialized = EXCLUDED.flow_initialized,
			current_step = EXCLUDED.current_step,
			lead_data = EXCLUDED.lead_data,
			validation_attempts = EXCLUDED.validation_attempts,
			flow_completed = EXCLUDED.flow_completed,
			lead_qualified = EXCLUDED.lead_qualified,
			collecting_phone = EXCLUDED.collecting_phone,
			phone_submitted = EXCLUDED.phone_submitted,
			phone_number = EXCLUDED.phone_number,
			lead_id = EXCLUDED.lead_id,
			message_count = EXCLUDED.message_count,
			last_updated = EXCLUDED.last_updated,
			qualified_at = EXCLUDED.qualified_at`,
		sess.SessionID, sess.Platform, sess.FlowInitialized, sess.CurrentStep,
		leadData, attempts, sess.FlowCompleted, sess.LeadQualified, sess.CollectingPhone,
		sess.PhoneSubmitted, nilIfEmpty(sess.PhoneNumber), nilIfEmpty(sess.LeadID),
		sess.MessageCount, sess.CreatedAt, sess.LastUpdated, sess.QualifiedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "sessionID", sess.SessionID)
		return fmt.Errorf("failed to save session %s: %w", sess.SessionID, err)
	}
	return nil
}

func (s *PostgresStore) SaveLead(lead models.LeadRecord) (string, error) {
	id, answers, err := prepareLead(&lead)
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(`INSERT INTO leads (id, session_id, platform, answers, phone, email, category, status, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			answers = EXCLUDED.answers,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			category = EXCLUDED.category,
			status = EXCLUDED.status`,
		id, lead.SessionID, lead.Platform, answers, nilIfEmpty(lead.Phone),
		nilIfEmpty(lead.Email), nilIfEmpty(lead.Category), string(lead.Status), lead.CompletedAt)
	if err != nil {
		slog.Error("PostgresStore SaveLead failed", "error", err, "sessionID", lead.SessionID)
		return "", fmt.Errorf("failed to save lead for session %s: %w", lead.SessionID, err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateLeadPhone(leadID, phone string) error {
	res, err := s.db.Exec(`UPDATE leads SET phone = $1, status = $2 WHERE id = $3`,
		phone, string(models.LeadStatusPhoneCollected), leadID)
	if err != nil {
		slog.Error("PostgresStore UpdateLeadPhone failed", "error", err, "leadID", leadID)
		return fmt.Errorf("failed to update phone for lead %s: %w", leadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrLeadNotFound
	}
	return nil
}

func (s *PostgresStore) ListQualifiedLeads() ([]models.LeadRecord, error) {
	rows, err := s.db.Query(`SELECT id, session_id, platform, answers, phone, email, category, status, completed_at
		FROM leads ORDER BY completed_at`)
	if err != nil {
		slog.Error("PostgresStore ListQualifiedLeads query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []models.LeadRecord
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			slog.Error("PostgresStore ListQualifiedLeads scan failed", "error", err)
			return nil, err
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lead rows: %w", err)
	}
	return leads, nil
}

func (s *PostgresStore) MarkLeadContacted(leadID string) error {
	res, err := s.db.Exec(`UPDATE leads SET status = $1 WHERE id = $2`,
		string(models.LeadStatusContacted), leadID)
	if err != nil {
		slog.Error("PostgresStore MarkLeadContacted failed", "error", err, "leadID", leadID)
		return fmt.Errorf("failed to mark lead %s contacted: %w", leadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrLeadNotFound
	}
	return nil
}

func (s *PostgresStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES ($1, $2, $3)`, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

func (s *PostgresStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT sender, body, time FROM responses`)
	if err != nil {
		slog.Error("PostgresStore GetResponses query failed", "error", err)
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

func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
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

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
