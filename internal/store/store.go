// Package store provides storage backends for leadflow sessions and leads.
//
// It includes an in-memory store for tests and development plus SQLite and
// PostgreSQL backends selected by DSN auto-detection.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/caselink/leadflow/internal/models"
	"github.com/caselink/leadflow/internal/util"
)

// Store is the persistence contract used by the conversation engine and the
// API layer. GetSession and GetLead return (nil, nil) when the row is absent.
type Store interface {
	GetSession(sessionID string) (*models.Session, error)
	SaveSession(sess models.Session) error
	SaveLead(lead models.LeadRecord) (string, error)
	UpdateLeadPhone(leadID, phone string) error
	ListQualifiedLeads() ([]models.LeadRecord, error)
	MarkLeadContacted(leadID string) error
	AddResponse(r models.Response) error
	GetResponses() ([]models.Response, error)
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// NewStore opens the backend matching the DSN type. An empty DSN yields the
// in-memory store.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps all state in process memory. It is safe for concurrent
// use and is the default backend for tests and local development.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]models.Session
	leads     map[string]models.LeadRecord
	leadOrder []string
	responses []models.Response
	receipts  []models.Receipt
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.Session),
		leads:    make(map[string]models.LeadRecord),
	}
}

func (s *InMemoryStore) GetSession(sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := sess
	copied.LeadData = copyStringMap(sess.LeadData)
	copied.ValidationAttempts = copyIntMap(sess.ValidationAttempts)
	return &copied, nil
}

func (s *InMemoryStore) SaveSession(sess models.Session) error {
	if sess.SessionID == "" {
		return models.ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.LeadData = copyStringMap(sess.LeadData)
	sess.ValidationAttempts = copyIntMap(sess.ValidationAttempts)
	s.sessions[sess.SessionID] = sess
	return nil
}

func (s *InMemoryStore) SaveLead(lead models.LeadRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead.ID == "" {
		lead.ID = util.GenerateLeadID()
	}
	if lead.CompletedAt.IsZero() {
		lead.CompletedAt = time.Now().UTC()
	}
	if _, exists := s.leads[lead.ID]; !exists {
		s.leadOrder = append(s.leadOrder, lead.ID)
	}
	s.leads[lead.ID] = lead
	return lead.ID, nil
}

func (s *InMemoryStore) UpdateLeadPhone(leadID, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[leadID]
	if !ok {
		return models.ErrLeadNotFound
	}
	lead.Phone = phone
	lead.Status = models.LeadStatusPhoneCollected
	s.leads[leadID] = lead
	return nil
}

func (s *InMemoryStore) ListQualifiedLeads() ([]models.LeadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	leads := make([]models.LeadRecord, 0, len(s.leadOrder))
	for _, id := range s.leadOrder {
		leads = append(leads, s.leads[id])
	}
	return leads, nil
}

func (s *InMemoryStore) MarkLeadContacted(leadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[leadID]
	if !ok {
		return models.ErrLeadNotFound
	}
	lead.Status = models.LeadStatusContacted
	s.leads[leadID] = lead
	return nil
}

func (s *InMemoryStore) AddResponse(r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

func (s *InMemoryStore) GetResponses() ([]models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Response, len(s.responses))
	copy(out, s.responses)
	return out, nil
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyIntMap(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
