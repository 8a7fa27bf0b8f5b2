package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caselink/leadflow/internal/models"
	"github.com/caselink/leadflow/internal/store"
)

// Default number of strict validation attempts before a step switches to
// flexible acceptance.
const defaultStrictAttempts = 3

// DefaultCollaboratorTimeout bounds each call to an external collaborator
// (assistant, notifier, messenger). Collaborator calls run while the
// per-session lock is held, so a hung connection must not stall the
// conversation pipeline.
const DefaultCollaboratorTimeout = 15 * time.Second

const recoveryResponse = "Desculpe, ocorreu um problema técnico. Vamos recomeçar.\n\nQual é o seu nome completo?"

// Messenger delivers an outbound message on the conversation's transport.
// Finalization uses it best-effort: a delivery failure degrades the
// response text, never the state transition.
type Messenger interface {
	SendMessage(ctx context.Context, to, body string) error
}

// Notifier alerts the legal team about a finalized lead.
type Notifier interface {
	NotifyNewLead(ctx context.Context, lead models.LeadRecord) models.NotifyResult
}

// Responder produces free-form replies for post-completion messages. It is
// optional: when absent or unavailable the engine answers with the static
// completion acknowledgement.
type Responder interface {
	Respond(ctx context.Context, message string, sessionCtx map[string]string) (string, error)
	Available() bool
}

// Engine drives the lead-qualification conversation: one state transition
// per inbound message, serialized per session.
type Engine struct {
	store          store.Store
	provider       Provider
	messenger      Messenger
	notifier       Notifier
	assistant      Responder
	locks          *sessionLocks
	strictAttempts int
	collabTimeout  time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithMessenger sets the transport used for finalization confirmations.
func WithMessenger(m Messenger) Option {
	return func(e *Engine) { e.messenger = m }
}

// WithNotifier sets the legal-team notification collaborator.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithAssistant sets the optional post-completion AI responder.
func WithAssistant(r Responder) Option {
	return func(e *Engine) { e.assistant = r }
}

// WithStrictAttempts overrides the rejection count after which a step
// switches to flexible acceptance.
func WithStrictAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.strictAttempts = n
		}
	}
}

// WithCollaboratorTimeout overrides the per-call ceiling on collaborator
// calls (assistant, notifier, messenger).
func WithCollaboratorTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.collabTimeout = d
		}
	}
}

// NewEngine creates a conversation engine backed by the given store and
// flow provider.
func NewEngine(st store.Store, provider Provider, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		provider:       provider,
		locks:          newSessionLocks(),
		strictAttempts: defaultStrictAttempts,
		collabTimeout:  DefaultCollaboratorTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	slog.Debug("flow.NewEngine: engine created",
		"hasMessenger", e.messenger != nil,
		"hasNotifier", e.notifier != nil,
		"hasAssistant", e.assistant != nil)
	return e
}

// ProcessMessage runs one state transition for an inbound message and
// returns the response payload. It never returns an error: every failure
// path degrades into an error-recovery result.
func (e *Engine) ProcessMessage(ctx context.Context, message, sessionID, platform string) (result models.ProcessResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine.ProcessMessage: recovered from panic", "sessionID", sessionID, "panic", r)
			result = e.recoverSession(ctx, sessionID, platform, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if strings.TrimSpace(sessionID) == "" {
		return models.ProcessResult{
			Response:     recoveryResponse,
			ResponseType: models.ResponseErrorRecovery,
			Error:        models.ErrEmptySessionID.Error(),
		}
	}

	unlock := e.locks.lock(sessionID)
	defer unlock()

	sess := e.loadOrCreate(sessionID, platform)
	sess.MessageCount++
	flowDef := e.flowDefinition(ctx)

	// First contact: emit the opening question without consuming the message.
	if !sess.FlowInitialized {
		sess.FlowInitialized = true
		sess.CurrentStep = 1
		sess.LeadData = make(map[string]string)
		sess.ValidationAttempts = map[int]int{1: 0}
		e.persist(&sess)
		slog.Info("Engine.ProcessMessage: flow initialized", "sessionID", sessionID, "platform", platform)
		return e.questionResult(&sess, flowDef.Steps[0].Question, models.ResponseStructuredQuestion)
	}

	if sess.FlowCompleted {
		return e.handleCompleted(ctx, &sess, flowDef, message)
	}

	step := flowDef.StepByID(sess.CurrentStep)
	if step == nil {
		// Stored step points outside the current flow definition: self-heal
		// by restarting rather than failing the conversation.
		slog.Warn("Engine.ProcessMessage: current step not in flow, restarting",
			"sessionID", sessionID, "currentStep", sess.CurrentStep, "steps", len(flowDef.Steps))
		sess.CurrentStep = 1
		sess.ValidationAttempts[1] = 0
		e.persist(&sess)
		return e.questionResult(&sess, flowDef.Steps[0].Question, models.ResponseStructuredQuestion)
	}

	// Pure greetings on the opening step re-ask without charging an attempt.
	if step.ID == 1 && IsGreeting(message) {
		e.persist(&sess)
		return e.questionResult(&sess, step.Question, models.ResponseStructuredQuestion)
	}
	if strings.TrimSpace(message) == "" {
		e.persist(&sess)
		return e.questionResult(&sess, step.Question, models.ResponseStructuredQuestion)
	}

	sess.ValidationAttempts[step.ID]++
	attempts := sess.ValidationAttempts[step.ID]
	flexible := attempts > e.strictAttempts

	accepted, normalized := Evaluate(message, step.Validation, flexible)
	if !accepted {
		e.persist(&sess)
		slog.Debug("Engine.ProcessMessage: answer rejected",
			"sessionID", sessionID, "step", step.ID, "attempts", attempts)
		return e.rejectionResult(&sess, step, attempts)
	}

	sess.ValidationAttempts[step.ID] = 0
	sess.LeadData[step.Field] = normalized
	if step.Validation.Type == models.ValidationContactCombined {
		if phone := ExtractPhone(normalized); phone != "" {
			sess.LeadData[FieldPhone] = phone
		}
		if email := ExtractEmail(normalized); email != "" {
			sess.LeadData[FieldEmail] = email
		}
	}

	next := flowDef.StepByID(step.ID + 1)
	if next != nil {
		sess.CurrentStep = next.ID
		sess.ValidationAttempts[next.ID] = 0
		e.persist(&sess)
		slog.Debug("Engine.ProcessMessage: advanced to next step",
			"sessionID", sessionID, "step", next.ID)
		return e.questionResult(&sess, next.Question, models.ResponseStructuredQuestion)
	}

	slog.Info("Engine.ProcessMessage: all steps answered, completing flow",
		"sessionID", sessionID, "steps", len(flowDef.Steps))
	return e.completeFlow(ctx, &sess, flowDef)
}

// SubmitPhone records a phone number submitted out-of-band (the web form
// side channel) for an existing session.
func (e *Engine) SubmitPhone(ctx context.Context, phoneNumber, sessionID string) models.PhoneSubmissionResult {
	if strings.TrimSpace(sessionID) == "" {
		return models.PhoneSubmissionResult{
			Success: false,
			Message: "Sessão inválida.",
			Error:   models.ErrEmptySessionID.Error(),
		}
	}
	unlock := e.locks.lock(sessionID)
	defer unlock()

	sess, err := e.store.GetSession(sessionID)
	if err != nil {
		slog.Error("Engine.SubmitPhone: failed to load session", "sessionID", sessionID, "error", err)
		return models.PhoneSubmissionResult{Success: false, Message: "Erro ao carregar a sessão.", Error: err.Error()}
	}
	if sess == nil {
		return models.PhoneSubmissionResult{Success: false, Message: "Sessão não encontrada.", Error: models.ErrSessionNotFound.Error()}
	}
	sess.Repair(sessionID)

	if !UsablePhone(phoneNumber) {
		return models.PhoneSubmissionResult{
			Success: false,
			Message: "Número inválido. Envie o número com DDD, ex: 11999999999.",
		}
	}

	canonical := CanonicalPhone(phoneNumber)
	sess.PhoneNumber = canonical
	sess.PhoneSubmitted = true
	sess.CollectingPhone = false
	e.persist(sess)

	if sess.LeadID != "" {
		if err := e.store.UpdateLeadPhone(sess.LeadID, canonical); err != nil {
			slog.Error("Engine.SubmitPhone: failed to update lead phone",
				"sessionID", sessionID, "leadID", sess.LeadID, "error", err)
		}
	}

	slog.Info("Engine.SubmitPhone: phone recorded", "sessionID", sessionID, "phone", canonical)
	return models.PhoneSubmissionResult{
		Success:     true,
		Message:     "Número registrado com sucesso.",
		PhoneNumber: canonical,
	}
}

// SessionContext returns the read-only view of a session for the API layer.
func (e *Engine) SessionContext(ctx context.Context, sessionID string) models.SessionContext {
	sess, err := e.store.GetSession(sessionID)
	if err != nil {
		slog.Error("Engine.SessionContext: failed to load session", "sessionID", sessionID, "error", err)
		return models.SessionContext{Exists: false}
	}
	if sess == nil {
		return models.SessionContext{Exists: false}
	}
	sess.Repair(sessionID)
	created := sess.CreatedAt
	updated := sess.LastUpdated
	return models.SessionContext{
		Exists:          true,
		SessionID:       sess.SessionID,
		Platform:        sess.Platform,
		CurrentStep:     sess.CurrentStep,
		FlowCompleted:   sess.FlowCompleted,
		CollectingPhone: sess.CollectingPhone,
		PhoneSubmitted:  sess.PhoneSubmitted,
		MessageCount:    sess.MessageCount,
		LeadData:        sess.LeadData,
		CreatedAt:       &created,
		LastUpdated:     &updated,
	}
}

// ResetSession discards all conversation state for the session id. The next
// inbound message restarts the flow from the first step.
func (e *Engine) ResetSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return models.ErrEmptySessionID
	}
	unlock := e.locks.lock(sessionID)
	defer unlock()

	platform := ""
	if existing, err := e.store.GetSession(sessionID); err == nil && existing != nil {
		platform = existing.Platform
	}
	fresh := models.NewSession(sessionID, platform)
	if err := e.store.SaveSession(fresh); err != nil {
		return fmt.Errorf("failed to reset session %s: %w", sessionID, err)
	}
	slog.Info("Engine.ResetSession: session reset", "sessionID", sessionID)
	return nil
}

// handleCompleted serves messages that arrive after the flow finished:
// trailing phone collection, the optional assistant, or the static
// acknowledgement.
func (e *Engine) handleCompleted(ctx context.Context, sess *models.Session, flowDef models.FlowDefinition, message string) models.ProcessResult {
	if sess.CollectingPhone && !sess.PhoneSubmitted {
		return e.handlePhoneCollection(ctx, sess, flowDef, message)
	}

	if e.assistant != nil && e.assistant.Available() {
		actx, cancel := context.WithTimeout(ctx, e.collabTimeout)
		reply, err := e.assistant.Respond(actx, message, e.assistantContext(sess))
		cancel()
		if err == nil && strings.TrimSpace(reply) != "" {
			e.persist(sess)
			return models.ProcessResult{
				Response:       reply,
				ResponseType:   models.ResponseAssistant,
				SessionID:      sess.SessionID,
				CurrentStep:    sess.CurrentStep,
				FlowCompleted:  true,
				PhoneSubmitted: sess.PhoneSubmitted,
				LeadQualified:  sess.LeadQualified,
				LeadData:       sess.LeadData,
			}
		}
		if err != nil {
			slog.Warn("Engine.handleCompleted: assistant reply failed, using static ack",
				"sessionID", sess.SessionID, "error", err)
		}
	}

	e.persist(sess)
	ack := Interpolate("Obrigado, {user_name}! Suas informações já foram registradas e nossa equipe entrará em contato em breve.", sess.LeadData)
	return models.ProcessResult{
		Response:       ack,
		ResponseType:   models.ResponseCompletionAck,
		SessionID:      sess.SessionID,
		CurrentStep:    sess.CurrentStep,
		FlowCompleted:  true,
		PhoneSubmitted: sess.PhoneSubmitted,
		LeadQualified:  sess.LeadQualified,
		LeadData:       sess.LeadData,
	}
}

func (e *Engine) assistantContext(sess *models.Session) map[string]string {
	return map[string]string{
		"platform":  sess.Platform,
		"name":      sess.LeadData[FieldFullName],
		"area":      sess.LeadData[FieldAreaOfLaw],
		"situation": sess.LeadData[FieldCaseDetails],
	}
}

// loadOrCreate returns the stored session or a fresh one; a load failure
// degrades to a fresh session so the conversation keeps moving.
func (e *Engine) loadOrCreate(sessionID, platform string) models.Session {
	stored, err := e.store.GetSession(sessionID)
	if err != nil {
		slog.Error("Engine.loadOrCreate: failed to load session, starting fresh",
			"sessionID", sessionID, "error", err)
		return models.NewSession(sessionID, platform)
	}
	if stored == nil {
		return models.NewSession(sessionID, platform)
	}
	stored.Repair(sessionID)
	if stored.Platform == "" {
		stored.Platform = platform
	}
	return *stored
}

// flowDefinition resolves the active flow, degrading to the minimal
// fallback flow when the provider fails or returns an unusable definition.
func (e *Engine) flowDefinition(ctx context.Context) models.FlowDefinition {
	def, err := e.provider.GetFlow(ctx)
	if err != nil {
		slog.Warn("Engine.flowDefinition: provider failed, using fallback flow", "error", err)
		return FallbackFlow()
	}
	if err := def.Validate(); err != nil {
		slog.Warn("Engine.flowDefinition: invalid flow definition, using fallback flow", "error", err)
		return FallbackFlow()
	}
	return def
}

// persist saves the session best-effort: a storage failure is logged and
// the computed response is still returned to the user.
func (e *Engine) persist(sess *models.Session) {
	sess.Touch()
	if err := e.store.SaveSession(*sess); err != nil {
		slog.Error("Engine.persist: failed to save session",
			"sessionID", sess.SessionID, "error", err)
	}
}

func (e *Engine) questionResult(sess *models.Session, question string, rt models.ResponseType) models.ProcessResult {
	return models.ProcessResult{
		Response:        Interpolate(question, sess.LeadData),
		ResponseType:    rt,
		SessionID:       sess.SessionID,
		CurrentStep:     sess.CurrentStep,
		FlowCompleted:   sess.FlowCompleted,
		CollectingPhone: sess.CollectingPhone,
		PhoneSubmitted:  sess.PhoneSubmitted,
		LeadQualified:   sess.LeadQualified,
		LeadData:        sess.LeadData,
	}
}

// rejectionResult composes the retry response: a strict reminder once the
// attempt threshold is reached, otherwise the step's error message, always
// followed by the re-asked question.
func (e *Engine) rejectionResult(sess *models.Session, step *models.Step, attempts int) models.ProcessResult {
	guidance := step.ErrorMessage
	if attempts >= e.strictAttempts {
		guidance = strictReminder(step.Validation.Type)
	}
	if guidance == "" {
		guidance = "Não consegui entender sua resposta."
	}
	body := guidance + "\n\n" + Interpolate(step.Question, sess.LeadData)
	return models.ProcessResult{
		Response:      body,
		ResponseType:  models.ResponseValidationRetry,
		SessionID:     sess.SessionID,
		CurrentStep:   sess.CurrentStep,
		FlowCompleted: sess.FlowCompleted,
		LeadData:      sess.LeadData,
	}
}

// recoverSession is the panic fallback: reset the stored state best-effort
// and restart the conversation.
func (e *Engine) recoverSession(ctx context.Context, sessionID, platform, errMsg string) models.ProcessResult {
	if strings.TrimSpace(sessionID) != "" {
		fresh := models.NewSession(sessionID, platform)
		if err := e.store.SaveSession(fresh); err != nil {
			slog.Error("Engine.recoverSession: failed to reset session",
				"sessionID", sessionID, "error", err)
		}
	}
	return models.ProcessResult{
		Response:     recoveryResponse,
		ResponseType: models.ResponseErrorRecovery,
		SessionID:    sessionID,
		CurrentStep:  1,
		Error:        errMsg,
	}
}
