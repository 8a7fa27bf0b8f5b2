package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/caselink/leadflow/internal/models"
	"github.com/caselink/leadflow/internal/util"
)

// rowScanner abstracts over *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// encodeSessionMaps serializes the session's lead data and attempt counters
// for their JSON text columns.
func encodeSessionMaps(sess models.Session) (leadData, attempts string, err error) {
	ld, err := json.Marshal(sess.LeadData)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal lead data: %w", err)
	}
	va, err := json.Marshal(sess.ValidationAttempts)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal validation attempts: %w", err)
	}
	return string(ld), string(va), nil
}

// prepareLead assigns an id and completion time when missing and serializes
// the answers column.
func prepareLead(lead *models.LeadRecord) (id, answers string, err error) {
	if lead.ID == "" {
		lead.ID = util.GenerateLeadID()
	}
	if lead.CompletedAt.IsZero() {
		lead.CompletedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(lead.Answers)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal lead answers: %w", err)
	}
	return lead.ID, string(raw), nil
}

// scanSession reads one sessions row.
func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var leadData, attempts string
	var phoneNumber, leadID sql.NullString
	var qualifiedAt sql.NullTime
	err := row.Scan(
		&sess.SessionID, &sess.Platform, &sess.FlowInitialized, &sess.CurrentStep,
		&leadData, &attempts, &sess.FlowCompleted, &sess.LeadQualified,
		&sess.CollectingPhone, &sess.PhoneSubmitted, &phoneNumber, &leadID,
		&sess.MessageCount, &sess.CreatedAt, &sess.LastUpdated, &qualifiedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(leadData), &sess.LeadData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lead data: %w", err)
	}
	if err := json.Unmarshal([]byte(attempts), &sess.ValidationAttempts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal validation attempts: %w", err)
	}
	sess.PhoneNumber = phoneNumber.String
	sess.LeadID = leadID.String
	if qualifiedAt.Valid {
		t := qualifiedAt.Time
		sess.QualifiedAt = &t
	}
	return &sess, nil
}

// scanLead reads one leads row.
func scanLead(row rowScanner) (models.LeadRecord, error) {
	var lead models.LeadRecord
	var answers string
	var phone, email, category sql.NullString
	var status string
	err := row.Scan(
		&lead.ID, &lead.SessionID, &lead.Platform, &answers,
		&phone, &email, &category, &status, &lead.CompletedAt,
	)
	if err != nil {
		return lead, fmt.Errorf("scan lead failed: %w", err)
	}
	if err := json.Unmarshal([]byte(answers), &lead.Answers); err != nil {
		return lead, fmt.Errorf("failed to unmarshal lead answers: %w", err)
	}
	lead.Phone = phone.String
	lead.Email = email.String
	lead.Category = category.String
	lead.Status = models.LeadStatus(status)
	return lead, nil
}
