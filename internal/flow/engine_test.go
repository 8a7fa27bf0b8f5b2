package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caselink/leadflow/internal/models"
	"github.com/caselink/leadflow/internal/store"
)

type sentMessage struct {
	to   string
	body string
}

type mockMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockMessenger) SendMessage(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{to: to, body: body})
	return nil
}

type mockNotifier struct {
	mu    sync.Mutex
	leads []models.LeadRecord
}

func (m *mockNotifier) NotifyNewLead(ctx context.Context, lead models.LeadRecord) models.NotifyResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads = append(m.leads, lead)
	return models.NotifyResult{Success: true, NotificationsSent: 1, TotalRecipients: 1}
}

type mockAssistant struct {
	available bool
	reply     string
	err       error
}

func (m *mockAssistant) Respond(ctx context.Context, message string, sessionCtx map[string]string) (string, error) {
	return m.reply, m.err
}

func (m *mockAssistant) Available() bool { return m.available }

type failingProvider struct{}

func (p *failingProvider) GetFlow(ctx context.Context) (models.FlowDefinition, error) {
	return models.FlowDefinition{}, errors.New("flow source unavailable")
}

// failingStore errors on every operation so degradation paths can be tested.
type failingStore struct{}

func (s *failingStore) GetSession(sessionID string) (*models.Session, error) {
	return nil, errors.New("db down")
}
func (s *failingStore) SaveSession(sess models.Session) error { return errors.New("db down") }
func (s *failingStore) SaveLead(lead models.LeadRecord) (string, error) {
	return "", errors.New("db down")
}
func (s *failingStore) UpdateLeadPhone(leadID, phone string) error { return errors.New("db down") }
func (s *failingStore) ListQualifiedLeads() ([]models.LeadRecord, error) {
	return nil, errors.New("db down")
}
func (s *failingStore) MarkLeadContacted(leadID string) error    { return errors.New("db down") }
func (s *failingStore) AddResponse(r models.Response) error      { return errors.New("db down") }
func (s *failingStore) GetResponses() ([]models.Response, error) { return nil, errors.New("db down") }
func (s *failingStore) AddReceipt(r models.Receipt) error        { return errors.New("db down") }
func (s *failingStore) GetReceipts() ([]models.Receipt, error)   { return nil, errors.New("db down") }
func (s *failingStore) Close() error                             { return nil }

// blockingMessenger hangs until the call's context expires, simulating a
// stalled transport connection.
type blockingMessenger struct{}

func (m *blockingMessenger) SendMessage(ctx context.Context, to, body string) error {
	<-ctx.Done()
	return ctx.Err()
}

// blockingNotifier hangs until the call's context expires.
type blockingNotifier struct{}

func (n *blockingNotifier) NotifyNewLead(ctx context.Context, lead models.LeadRecord) models.NotifyResult {
	<-ctx.Done()
	return models.NotifyResult{Success: false, Error: ctx.Err().Error()}
}

// blockingAssistant hangs until the call's context expires.
type blockingAssistant struct{}

func (a *blockingAssistant) Respond(ctx context.Context, message string, sessionCtx map[string]string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (a *blockingAssistant) Available() bool { return true }

var qualificationAnswers = []string{
	"João da Silva",
	"11987654321 joao@gmail.com",
	"penal",
	"Fui acusado injustamente e a audiência é na semana que vem em São Paulo",
	"sim",
}

// walkFlow initializes the session and submits all answers, returning the
// final result.
func walkFlow(t *testing.T, e *Engine, sessionID string, answers []string) models.ProcessResult {
	t.Helper()
	ctx := context.Background()
	result := e.ProcessMessage(ctx, "oi", sessionID, "whatsapp")
	if result.ResponseType != models.ResponseStructuredQuestion {
		t.Fatalf("initial response type = %s, want %s", result.ResponseType, models.ResponseStructuredQuestion)
	}
	for i, answer := range answers {
		result = e.ProcessMessage(ctx, answer, sessionID, "whatsapp")
		if result.Error != "" {
			t.Fatalf("answer %d (%q) degraded: %s", i+1, answer, result.Error)
		}
	}
	return result
}

func TestEngineInitialQuestion(t *testing.T) {
	e := NewEngine(store.NewInMemoryStore(), NewStaticProvider())

	result := e.ProcessMessage(context.Background(), "qualquer coisa", "5511900000001", "whatsapp")
	if result.ResponseType != models.ResponseStructuredQuestion {
		t.Fatalf("response type = %s, want %s", result.ResponseType, models.ResponseStructuredQuestion)
	}
	if result.CurrentStep != 1 {
		t.Errorf("current step = %d, want 1", result.CurrentStep)
	}
	if !strings.Contains(result.Response, "nome completo") {
		t.Errorf("expected opening question, got %q", result.Response)
	}
}

func TestEngineGreetingDoesNotChargeAttempt(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(st, NewStaticProvider())
	ctx := context.Background()
	sessionID := "5511900000002"

	e.ProcessMessage(ctx, "oi", sessionID, "whatsapp")
	result := e.ProcessMessage(ctx, "olá", sessionID, "whatsapp")
	if result.ResponseType != models.ResponseStructuredQuestion {
		t.Fatalf("greeting response type = %s, want re-asked question", result.ResponseType)
	}

	sess, err := st.GetSession(sessionID)
	if err != nil || sess == nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if sess.ValidationAttempts[1] != 0 {
		t.Errorf("greeting charged a validation attempt: %d", sess.ValidationAttempts[1])
	}
}

func TestEngineEmptyMessageReasksQuestion(t *testing.T) {
	e := NewEngine(store.NewInMemoryStore(), NewStaticProvider())
	ctx := context.Background()
	sessionID := "5511900000003"

	first := e.ProcessMessage(ctx, "oi", sessionID, "whatsapp")
	result := e.ProcessMessage(ctx, "   ", sessionID, "whatsapp")
	if result.ResponseType != models.ResponseStructuredQuestion {
		t.Fatalf("response type = %s, want %s", result.ResponseType, models.ResponseStructuredQuestion)
	}
	if result.Response != first.Response {
		t.Errorf("expected the same question re-asked, got %q", result.Response)
	}
}

func TestEngineValidationRetry(t *testing.T) {
	e := NewEngine(store.NewInMemoryStore(), NewStaticProvider())
	ctx := context.Background()
	sessionID := "5511900000004"

	e.ProcessMessage(ctx, "oi", sessionID, "whatsapp")
	result := e.ProcessMessage(ctx, "123456", sessionID, "whatsapp")
	if result.ResponseType != models.ResponseValidationRetry {
		t.Fatalf("response type = %s, want %s", result.ResponseType, models.ResponseValidationRetry)
	}
	if !strings.Contains(result.Response, "nome completo (nome e sobrenome)") {
		t.Errorf("expected step error message, got %q", result.Response)
	}
	if !strings.Contains(result.Response, "qual é o seu nome completo?") {
		t.Errorf("expected the question re-asked, got %q", result.Response)
	}
	if result.CurrentStep != 1 {
		t.Errorf("rejection advanced the step: %d", result.CurrentStep)
	}
}

func TestEngineFlexibleModeAfterRepeatedRejections(t *testing.T) {
	e := NewEngine(store.NewInMemoryStore(), NewStaticProvider())
	ctx := context.Background()
	sessionID := "5511900000005"

	e.ProcessMessage(ctx, "oi", sessionID, "whatsapp")
	e.ProcessMessage(ctx, "João da Silva", sessionID, "whatsapp")
	e.ProcessMessage(ctx, "11987654321", sessionID, "whatsapp")

	// Step 3 maps only penal and health keywords; an unmapped area is
	// rejected three times, then accepted once flexible mode kicks in.
	var result models.ProcessResult
	for i := 0; i < 3; i++ {
		result = e.ProcessMessage(ctx, "trabalhista", sessionID, "whatsapp")
		if result.ResponseType != models.ResponseValidationRetry {
			t.Fatalf("attempt %d: response type = %s, want rejection", i+1, result.ResponseType)
		}
	}
	if !strings.Contains(result.Response, "Responda apenas 'Penal' ou 'Saúde'.") {
		t.Errorf("expected relaxed guidance on third rejection, got %q", result.Response)
	}

	result = e.ProcessMessage(ctx, "trabalhista", sessionID, "whatsapp")
	if result.ResponseType != models.ResponseStructuredQuestion {
		t.Fatalf("fourth attempt: response type = %s, want acceptance", result.ResponseType)
	}
	if result.CurrentStep != 4 {
		t.Errorf("current step = %d, want 4", result.CurrentStep)
	}
}

func TestEngineCompleteFlowWithCapturedPhone(t *testing.T) {
	st := store.NewInMemoryStore()
	messenger := &mockMessenger{}
	notifier := &mockNotifier{}
	e := NewEngine(st, NewStaticProvider(), WithMessenger(messenger), WithNotifier(notifier))

	result := walkFlow(t, e, "5511900000006", qualificationAnswers)
	if result.ResponseType != models.ResponsePhoneCollected {
		t.Fatalf("final response type = %s, want %s", result.ResponseType, models.ResponsePhoneCollected)
	}
	if !result.FlowCompleted || !result.LeadQualified || !result.PhoneSubmitted {
		t.Errorf("final flags = completed=%v qualified=%v phone=%v, want all true",
			result.FlowCompleted, result.LeadQualified, result.PhoneSubmitted)
	}
	if !strings.Contains(result.Response, "5511987654321") {
		t.Errorf("expected canonical phone in response, got %q", result.Response)
	}
	if !strings.Contains(result.Response, "Enviamos uma confirmação") {
		t.Errorf("expected delivery note after successful confirmation send, got %q", result.Response)
	}
	if result.LeadData["area_of_law"] != "Direito Penal" {
		t.Errorf("area = %q, want Direito Penal", result.LeadData["area_of_law"])
	}

	if len(notifier.leads) != 1 {
		t.Fatalf("notifier called %d times, want 1", len(notifier.leads))
	}
	if notifier.leads[0].Category != "Direito Penal" {
		t.Errorf("notified category = %q", notifier.leads[0].Category)
	}
	if len(messenger.sent) != 1 {
		t.Fatalf("messenger called %d times, want 1", len(messenger.sent))
	}
	if messenger.sent[0].to != "5511987654321" {
		t.Errorf("confirmation sent to %q, want 5511987654321", messenger.sent[0].to)
	}
	if !strings.Contains(messenger.sent[0].body, "João") {
		t.Errorf("confirmation body missing first name: %q", messenger.sent[0].body)
	}

	leads, err := st.ListQualifiedLeads()
	if err != nil {
		t.Fatalf("failed to list leads: %v", err)
	}
	if len(leads) != 1 {
		t.Fatalf("stored %d leads, want 1", len(leads))
	}
	if leads[0].Status != models.LeadStatusPhoneCollected {
		t.Errorf("lead status = %s, want %s", leads[0].Status, models.LeadStatusPhoneCollected)
	}
	if leads[0].Phone != "5511987654321" {
		t.Errorf("lead phone = %q, want canonical", leads[0].Phone)
	}
	if leads[0].Email != "joao@gmail.com" {
		t.Errorf("lead email = %q", leads[0].Email)
	}
	if len(leads[0].Answers) != 5 {
		t.Errorf("lead has %d answers, want 5", len(leads[0].Answers))
	}
}

func TestEnginePhoneCollectionWhenNoPhoneCaptured(t *testing.T) {
	st := store.NewInMemoryStore()
	notifier := &mockNotifier{}
	e := NewEngine(st, NewStaticProvider(), WithNotifier(notifier))
	ctx := context.Background()
	sessionID := "5511900000007"

	answers := []string{
		"Maria Souza",
		"meu email é maria@gmail.com",
		"plano de saúde negou o tratamento",
		"O plano negou a cirurgia e preciso de uma liminar urgente",
		"sim",
	}
	result := walkFlow(t, e, sessionID, answers)
	if result.ResponseType != models.ResponsePhoneCollection {
		t.Fatalf("response type = %s, want %s", result.ResponseType, models.ResponsePhoneCollection)
	}
	if !result.CollectingPhone {
		t.Error("expected collecting-phone state")
	}
	// The lead is saved at qualification even before the phone arrives.
	if len(notifier.leads) != 0 {
		t.Fatalf("notifier called before phone collected: %d", len(notifier.leads))
	}

	invalid := e.ProcessMessage(ctx, "12345", sessionID, "whatsapp")
	if invalid.ResponseType != models.ResponsePhoneCollection {
		t.Fatalf("invalid phone response type = %s, want re-prompt", invalid.ResponseType)
	}

	final := e.ProcessMessage(ctx, "11987654321", sessionID, "whatsapp")
	if final.ResponseType != models.ResponsePhoneCollected {
		t.Fatalf("final response type = %s, want %s", final.ResponseType, models.ResponsePhoneCollected)
	}
	if !strings.Contains(final.Response, "5511987654321") {
		t.Errorf("expected canonical phone in response, got %q", final.Response)
	}
	if len(notifier.leads) != 1 {
		t.Fatalf("notifier called %d times after phone collected, want 1", len(notifier.leads))
	}

	leads, _ := st.ListQualifiedLeads()
	if len(leads) != 1 || leads[0].Status != models.LeadStatusPhoneCollected {
		t.Fatalf("unexpected lead state: %+v", leads)
	}
}

func TestEngineCompletionAck(t *testing.T) {
	e := NewEngine(store.NewInMemoryStore(), NewStaticProvider())
	sessionID := "5511900000008"
	walkFlow(t, e, sessionID, qualificationAnswers)

	result := e.ProcessMessage(context.Background(), "obrigado!", sessionID, "whatsapp")
	if result.ResponseType != models.ResponseCompletionAck {
		t.Fatalf("response type = %s, want %s", result.ResponseType, models.ResponseCompletionAck)
	}
	if !strings.Contains(result.Response, "João") {
		t.Errorf("ack missing first name: %q", result.Response)
	}
}

func TestEngineAssistantReply(t *testing.T) {
	assistant := &mockAssistant{available: true, reply: "Nossa equipe responde em até 24h."}
	e := NewEngine(store.NewInMemoryStore(), NewStaticProvider(), WithAssistant(assistant))
	sessionID := "5511900000009"
	walkFlow(t, e, sessionID, qualificationAnswers)

	result := e.ProcessMessage(context.Background(), "quando vão me ligar?", sessionID, "whatsapp")
	if result.ResponseType != models.ResponseAssistant {
		t.Fatalf("response type = %s, want %s", result.ResponseType, models.ResponseAssistant)
	}
	if result.Response != assistant.reply {
		t.Errorf("response = %q, want assistant reply", result.Response)
	}
}

func TestEngineAssistantFailureFallsBackToAck(t *testing.T) {
	assistant := &mockAssistant{available: true, err: errors.New("api down")}
	e := NewEngine(store.NewInMemoryStore(), NewStaticProvider(), WithAssistant(assistant))
	sessionID := "5511900000010"
	walkFlow(t, e, sessionID, qualificationAnswers)

	result := e.ProcessMessage(context.Background(), "alguém aí?", sessionID, "whatsapp")
	if result.ResponseType != models.ResponseCompletionAck {
		t.Fatalf("response type = %s, want static ack fallback", result.ResponseType)
	}
}

func TestEngineSelfHealsUnknownStep(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(st, NewStaticProvider())
	sessionID := "5511900000011"

	sess := models.NewSession(sessionID, "whatsapp")
	sess.FlowInitialized = true
	sess.CurrentStep = 99
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}

	result := e.ProcessMessage(context.Background(), "continuar", sessionID, "whatsapp")
	if result.ResponseType != models.ResponseStructuredQuestion {
		t.Fatalf("response type = %s, want restart question", result.ResponseType)
	}
	if result.CurrentStep != 1 {
		t.Errorf("current step = %d, want 1 after self-heal", result.CurrentStep)
	}
}

func TestEngineEmptySessionID(t *testing.T) {
	e := NewEngine(store.NewInMemoryStore(), NewStaticProvider())

	result := e.ProcessMessage(context.Background(), "oi", "  ", "whatsapp")
	if result.ResponseType != models.ResponseErrorRecovery {
		t.Fatalf("response type = %s, want %s", result.ResponseType, models.ResponseErrorRecovery)
	}
	if result.Error == "" {
		t.Error("expected error detail on degraded result")
	}
}

func TestEngineProviderFailureUsesFallbackFlow(t *testing.T) {
	e := NewEngine(store.NewInMemoryStore(), &failingProvider{})

	result := e.ProcessMessage(context.Background(), "oi", "5511900000012", "whatsapp")
	if result.ResponseType != models.ResponseStructuredQuestion {
		t.Fatalf("response type = %s, want question from fallback flow", result.ResponseType)
	}
	if result.Response != FallbackFlow().Steps[0].Question {
		t.Errorf("response = %q, want fallback question", result.Response)
	}
}

func TestEngineStoreFailureStillAnswers(t *testing.T) {
	e := NewEngine(&failingStore{}, NewStaticProvider())

	result := e.ProcessMessage(context.Background(), "oi", "5511900000013", "whatsapp")
	if result.ResponseType != models.ResponseStructuredQuestion {
		t.Fatalf("response type = %s, want question despite storage failure", result.ResponseType)
	}
	if result.Response == "" {
		t.Error("expected a response body")
	}
}

func TestSubmitPhone(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(st, NewStaticProvider())
	ctx := context.Background()
	sessionID := "5511900000014"

	e.ProcessMessage(ctx, "oi", sessionID, "whatsapp")

	result := e.SubmitPhone(ctx, "(11) 98765-4321", sessionID)
	if !result.Success {
		t.Fatalf("submission failed: %s / %s", result.Message, result.Error)
	}
	if result.PhoneNumber != "5511987654321" {
		t.Errorf("phone = %q, want canonical", result.PhoneNumber)
	}

	sess, _ := st.GetSession(sessionID)
	if sess == nil || !sess.PhoneSubmitted || sess.PhoneNumber != "5511987654321" {
		t.Errorf("session not updated: %+v", sess)
	}

	invalid := e.SubmitPhone(ctx, "123", sessionID)
	if invalid.Success {
		t.Error("expected rejection for short phone")
	}

	missing := e.SubmitPhone(ctx, "11987654321", "5511999999999")
	if missing.Success || missing.Error != models.ErrSessionNotFound.Error() {
		t.Errorf("unknown session result = %+v", missing)
	}
}

func TestResetSession(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(st, NewStaticProvider())
	ctx := context.Background()
	sessionID := "5511900000015"

	e.ProcessMessage(ctx, "oi", sessionID, "whatsapp")
	e.ProcessMessage(ctx, "João da Silva", sessionID, "whatsapp")

	if err := e.ResetSession(ctx, sessionID); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	sessionCtx := e.SessionContext(ctx, sessionID)
	if !sessionCtx.Exists {
		t.Fatal("session should still exist after reset")
	}
	if sessionCtx.CurrentStep != 0 || len(sessionCtx.LeadData) != 0 {
		t.Errorf("reset left state behind: %+v", sessionCtx)
	}
	if sessionCtx.Platform != "whatsapp" {
		t.Errorf("reset lost platform: %q", sessionCtx.Platform)
	}

	result := e.ProcessMessage(ctx, "oi", sessionID, "whatsapp")
	if result.CurrentStep != 1 || result.ResponseType != models.ResponseStructuredQuestion {
		t.Errorf("post-reset message did not restart the flow: %+v", result)
	}
}

func TestEngineConcurrentSameSession(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(st, NewStaticProvider())
	sessionID := "5511900000016"

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			e.ProcessMessage(context.Background(), fmt.Sprintf("mensagem %d", n), sessionID, "whatsapp")
		}(i)
	}
	wg.Wait()

	sess, err := st.GetSession(sessionID)
	if err != nil || sess == nil {
		t.Fatalf("session missing after concurrent processing: %v", err)
	}
	if sess.MessageCount != 8 {
		t.Errorf("message count = %d, want 8", sess.MessageCount)
	}
}

func TestEngineSlowAssistantFallsBackToAck(t *testing.T) {
	e := NewEngine(store.NewInMemoryStore(), NewStaticProvider(),
		WithAssistant(&blockingAssistant{}),
		WithCollaboratorTimeout(30*time.Millisecond))

	walkFlow(t, e, "5511900000017", qualificationAnswers)

	start := time.Now()
	result := e.ProcessMessage(context.Background(), "quanto tempo demora?", "5511900000017", "whatsapp")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("hung assistant stalled processing for %v", elapsed)
	}
	if result.ResponseType != models.ResponseCompletionAck {
		t.Errorf("response type = %s, want %s", result.ResponseType, models.ResponseCompletionAck)
	}
}

func TestEngineSlowDispatchStillFinalizes(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(st, NewStaticProvider(),
		WithMessenger(&blockingMessenger{}),
		WithNotifier(&blockingNotifier{}),
		WithCollaboratorTimeout(30*time.Millisecond))

	start := time.Now()
	result := walkFlow(t, e, "5511900000018", qualificationAnswers)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("hung collaborators stalled finalization for %v", elapsed)
	}
	if result.ResponseType != models.ResponsePhoneCollected {
		t.Fatalf("final response type = %s, want %s", result.ResponseType, models.ResponsePhoneCollected)
	}
	if !result.PhoneSubmitted {
		t.Error("finalization must complete despite hung collaborators")
	}
	if strings.Contains(result.Response, "Enviamos uma confirmação") {
		t.Errorf("delivery note shown although the confirmation send failed: %q", result.Response)
	}

	leads, err := st.ListQualifiedLeads()
	if err != nil || len(leads) != 1 {
		t.Fatalf("stored %d leads (err=%v), want 1", len(leads), err)
	}
	if leads[0].Status != models.LeadStatusPhoneCollected {
		t.Errorf("lead status = %s, want %s", leads[0].Status, models.LeadStatusPhoneCollected)
	}
}

func TestEngineResultsCarryLeadData(t *testing.T) {
	e := NewEngine(store.NewInMemoryStore(), NewStaticProvider())
	ctx := context.Background()
	sessionID := "5511900000019"

	e.ProcessMessage(ctx, "oi", sessionID, "whatsapp")
	result := e.ProcessMessage(ctx, "João da Silva", sessionID, "whatsapp")
	if result.ResponseType != models.ResponseStructuredQuestion {
		t.Fatalf("response type = %s, want %s", result.ResponseType, models.ResponseStructuredQuestion)
	}
	if result.LeadData[FieldFullName] != "João Da Silva" {
		t.Errorf("question result lead data = %v, want captured name", result.LeadData)
	}

	result = e.ProcessMessage(ctx, "???", sessionID, "whatsapp")
	if result.ResponseType != models.ResponseValidationRetry {
		t.Fatalf("response type = %s, want %s", result.ResponseType, models.ResponseValidationRetry)
	}
	if result.LeadData[FieldFullName] != "João Da Silva" {
		t.Errorf("retry result lead data = %v, want captured name", result.LeadData)
	}
}
