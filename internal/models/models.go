// Package models defines the core data structures for LeadFlow.
//
// It includes the conversation flow definition, per-session state, the
// qualified lead record, and the API response types shared across modules.
package models

import (
	"errors"
	"time"
)

// ValidationType identifies the acceptance rule applied to a step's answer.
type ValidationType string

const (
	// ValidationName validates a person's full name.
	ValidationName ValidationType = "name"
	// ValidationContactCombined validates combined phone/email contact info.
	ValidationContactCombined ValidationType = "contact_combined"
	// ValidationArea validates a legal area choice.
	ValidationArea ValidationType = "area"
	// ValidationCaseDescription validates a free-text case description.
	ValidationCaseDescription ValidationType = "case_description"
	// ValidationConfirmation validates an affirmative confirmation.
	ValidationConfirmation ValidationType = "confirmation"
	// ValidationPhone validates a bare phone number re-prompt.
	ValidationPhone ValidationType = "phone"
	// ValidationGeneric applies only a minimum-length check.
	ValidationGeneric ValidationType = "generic"
)

// IsValidValidationType checks if the given validation type is supported.
func IsValidValidationType(vt ValidationType) bool {
	switch vt {
	case ValidationName, ValidationContactCombined, ValidationArea,
		ValidationCaseDescription, ValidationConfirmation, ValidationPhone,
		ValidationGeneric:
		return true
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	ErrEmptySessionID        = errors.New("session id cannot be empty")
	ErrEmptyStepField        = errors.New("step field cannot be empty")
	ErrEmptyStepQuestion     = errors.New("step question cannot be empty")
	ErrInvalidValidationType = errors.New("invalid validation type")
	ErrEmptyFlow             = errors.New("flow definition has no steps")
	ErrNonContiguousStepIDs  = errors.New("flow step ids must start at 1 and be contiguous")
	ErrSessionNotFound       = errors.New("session not found")
	ErrLeadNotFound          = errors.New("lead not found")
)

// ValidationSpec describes how a step's answer is validated and normalized.
// A non-empty NormalizeMap short-circuits type-specific normalization: the
// first keyword found in the lowercased answer yields its mapped value.
type ValidationSpec struct {
	Type         ValidationType    `json:"type"`
	MinLength    int               `json:"min_length,omitempty"`
	MinWords     int               `json:"min_words,omitempty"`
	Required     bool              `json:"required,omitempty"`
	NormalizeMap map[string]string `json:"normalize_map,omitempty"`
}

// Step is one ordered question in the flow definition.
type Step struct {
	ID           int            `json:"id"`
	Field        string         `json:"field"`
	Question     string         `json:"question"`
	Validation   ValidationSpec `json:"validation"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Validate checks that a step is structurally usable.
func (s *Step) Validate() error {
	if s.Field == "" {
		return ErrEmptyStepField
	}
	if s.Question == "" {
		return ErrEmptyStepQuestion
	}
	if !IsValidValidationType(s.Validation.Type) {
		return ErrInvalidValidationType
	}
	return nil
}

// FlowDefinition is the ordered, immutable list of steps plus the completion
// template. Step ids start at 1 with no gaps; the engine assumes contiguity.
type FlowDefinition struct {
	Steps              []Step `json:"steps"`
	CompletionTemplate string `json:"completion_message"`
}

// Validate checks the flow's structural invariants.
func (f *FlowDefinition) Validate() error {
	if len(f.Steps) == 0 {
		return ErrEmptyFlow
	}
	for i := range f.Steps {
		if f.Steps[i].ID != i+1 {
			return ErrNonContiguousStepIDs
		}
		if err := f.Steps[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// StepByID returns the step with the given id, or nil if out of range.
func (f *FlowDefinition) StepByID(id int) *Step {
	if id < 1 || id > len(f.Steps) {
		return nil
	}
	return &f.Steps[id-1]
}

// Session is the sole mutable entity: durable per-conversation state.
// All timestamps are stored in UTC.
type Session struct {
	SessionID          string            `json:"session_id"`
	Platform           string            `json:"platform"`
	FlowInitialized    bool              `json:"flow_initialized"`
	CurrentStep        int               `json:"current_step"`
	LeadData           map[string]string `json:"lead_data"`
	ValidationAttempts map[int]int       `json:"validation_attempts"`
	FlowCompleted      bool              `json:"flow_completed"`
	LeadQualified      bool              `json:"lead_qualified"`
	CollectingPhone    bool              `json:"collecting_phone"`
	PhoneSubmitted     bool              `json:"phone_submitted"`
	PhoneNumber        string            `json:"phone_number,omitempty"`
	LeadID             string            `json:"lead_id,omitempty"`
	MessageCount       int               `json:"message_count"`
	CreatedAt          time.Time         `json:"created_at"`
	LastUpdated        time.Time         `json:"last_updated"`
	QualifiedAt        *time.Time        `json:"qualified_at,omitempty"`
}

// NewSession creates a fresh session for an unknown id.
func NewSession(sessionID, platform string) Session {
	now := time.Now().UTC()
	return Session{
		SessionID:          sessionID,
		Platform:           platform,
		LeadData:           make(map[string]string),
		ValidationAttempts: make(map[int]int),
		CreatedAt:          now,
		LastUpdated:        now,
	}
}

// Repair normalizes a session loaded from storage so the engine never
// operates on nil maps or missing identity fields.
func (s *Session) Repair(sessionID string) {
	if s.SessionID == "" {
		s.SessionID = sessionID
	}
	if s.LeadData == nil {
		s.LeadData = make(map[string]string)
	}
	if s.ValidationAttempts == nil {
		s.ValidationAttempts = make(map[int]int)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
}

// Touch updates the last-updated timestamp.
func (s *Session) Touch() {
	s.LastUpdated = time.Now().UTC()
}

// LeadAnswer is one completed step's answer, tagged by the original step id.
type LeadAnswer struct {
	StepID int    `json:"id"`
	Field  string `json:"field"`
	Answer string `json:"answer"`
}

// LeadStatus tracks the lifecycle of a qualified lead.
type LeadStatus string

const (
	// LeadStatusQualified indicates the flow completed with all answers.
	LeadStatusQualified LeadStatus = "qualified"
	// LeadStatusPhoneCollected indicates the canonical phone was captured.
	LeadStatusPhoneCollected LeadStatus = "phone_collected"
	// LeadStatusContacted indicates a lawyer has taken the lead.
	LeadStatusContacted LeadStatus = "contacted"
)

// LeadRecord is the write-once snapshot handed to the notification
// collaborator at finalization.
type LeadRecord struct {
	ID          string       `json:"id,omitempty"`
	SessionID   string       `json:"session_id"`
	Platform    string       `json:"platform"`
	Answers     []LeadAnswer `json:"answers"`
	Phone       string       `json:"phone,omitempty"`
	Email       string       `json:"email,omitempty"`
	Category    string       `json:"category,omitempty"`
	Status      LeadStatus   `json:"status"`
	CompletedAt time.Time    `json:"completed_at"`
}

// ResponseType tags the kind of response produced for an inbound message.
type ResponseType string

const (
	// ResponseStructuredQuestion is a flow question (first or advanced).
	ResponseStructuredQuestion ResponseType = "structured_question"
	// ResponseValidationRetry re-asks the current step after a rejection.
	ResponseValidationRetry ResponseType = "validation_retry"
	// ResponsePhoneCollection requests the trailing phone number.
	ResponsePhoneCollection ResponseType = "phone_collection"
	// ResponsePhoneCollected confirms the finalized phone number.
	ResponsePhoneCollected ResponseType = "phone_collected"
	// ResponseCompletionAck is the static post-completion acknowledgement.
	ResponseCompletionAck ResponseType = "completion_ack"
	// ResponseAssistant is an AI-generated post-completion reply.
	ResponseAssistant ResponseType = "assistant"
	// ResponseErrorRecovery is the degraded let's-restart response.
	ResponseErrorRecovery ResponseType = "error_recovery"
)

// ProcessResult is the single inbound-contract payload returned for every
// processed message. It never carries a Go error: failure paths degrade
// into an error-recovery response with the Error field set.
type ProcessResult struct {
	Response        string            `json:"response"`
	ResponseType    ResponseType      `json:"response_type"`
	SessionID       string            `json:"session_id"`
	CurrentStep     int               `json:"current_step"`
	FlowCompleted   bool              `json:"flow_completed"`
	CollectingPhone bool              `json:"collecting_phone,omitempty"`
	PhoneSubmitted  bool              `json:"phone_submitted,omitempty"`
	LeadQualified   bool              `json:"lead_qualified,omitempty"`
	LeadData        map[string]string `json:"lead_data,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// PhoneSubmissionResult is returned by the phone submission side-channel.
type PhoneSubmissionResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NotifyResult reports the outcome of a lawyer notification attempt.
type NotifyResult struct {
	Success           bool   `json:"success"`
	NotificationsSent int    `json:"notifications_sent"`
	TotalRecipients   int    `json:"total_recipients"`
	Error             string `json:"error,omitempty"`
}

// SessionContext is the read-only session view exposed over the API.
type SessionContext struct {
	Exists          bool              `json:"exists"`
	SessionID       string            `json:"session_id,omitempty"`
	Platform        string            `json:"platform,omitempty"`
	CurrentStep     int               `json:"current_step,omitempty"`
	FlowCompleted   bool              `json:"flow_completed,omitempty"`
	CollectingPhone bool              `json:"collecting_phone,omitempty"`
	PhoneSubmitted  bool              `json:"phone_submitted,omitempty"`
	MessageCount    int               `json:"message_count,omitempty"`
	LeadData        map[string]string `json:"lead_data,omitempty"`
	CreatedAt       *time.Time        `json:"created_at,omitempty"`
	LastUpdated     *time.Time        `json:"last_updated,omitempty"`
}

// Response represents an incoming message from a participant on a transport.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records the delivery status of an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}
