package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/caselink/leadflow/internal/models"
)

const whatsappConfirmationTemplate = "Olá {user_name}! 👋\n\nRecebemos suas informações sobre {area}.\n\nResumo do caso: {case_summary}\n\nNossa equipe jurídica entrará em contato em breve. Obrigado pela confiança!"

// completeFlow marks the session qualified, persists the lead snapshot and
// either finalizes immediately (a usable phone was captured during the flow)
// or asks for the trailing phone number.
func (e *Engine) completeFlow(ctx context.Context, sess *models.Session, flowDef models.FlowDefinition) models.ProcessResult {
	sess.FlowCompleted = true
	sess.LeadQualified = true
	now := time.Now().UTC()
	sess.QualifiedAt = &now

	record := buildLeadRecord(sess, flowDef)
	leadID, err := e.store.SaveLead(record)
	if err != nil {
		slog.Error("Engine.completeFlow: failed to save lead",
			"sessionID", sess.SessionID, "error", err)
	} else {
		sess.LeadID = leadID
	}

	phone := sess.LeadData[FieldPhone]
	if phone == "" {
		phone = ExtractPhone(sess.LeadData[FieldContactInfo])
	}
	if !UsablePhone(phone) {
		sess.CollectingPhone = true
		e.persist(sess)
		slog.Info("Engine.completeFlow: no usable phone captured, requesting one",
			"sessionID", sess.SessionID)
		prompt := Interpolate("Perfeito, {user_name}! Para finalizar, preciso do seu número de WhatsApp com DDD (ex: 11999999999):", sess.LeadData)
		return models.ProcessResult{
			Response:        prompt,
			ResponseType:    models.ResponsePhoneCollection,
			SessionID:       sess.SessionID,
			CurrentStep:     sess.CurrentStep,
			FlowCompleted:   true,
			CollectingPhone: true,
			LeadQualified:   true,
			LeadData:        sess.LeadData,
		}
	}

	return e.finalizeWithPhone(ctx, sess, flowDef, phone)
}

// handlePhoneCollection consumes messages that arrive while the completed
// session is waiting for its trailing phone number.
func (e *Engine) handlePhoneCollection(ctx context.Context, sess *models.Session, flowDef models.FlowDefinition, message string) models.ProcessResult {
	if !UsablePhone(message) {
		e.persist(sess)
		return models.ProcessResult{
			Response:        "Número inválido. Envie apenas o número com DDD, ex: 11999999999.",
			ResponseType:    models.ResponsePhoneCollection,
			SessionID:       sess.SessionID,
			CurrentStep:     sess.CurrentStep,
			FlowCompleted:   true,
			CollectingPhone: true,
			LeadQualified:   sess.LeadQualified,
			LeadData:        sess.LeadData,
		}
	}
	return e.finalizeWithPhone(ctx, sess, flowDef, message)
}

// finalizeWithPhone canonicalizes the phone, persists it, and dispatches the
// handoff (lawyer notification plus the WhatsApp confirmation message). Both
// dispatches are best-effort: failures degrade the response text only.
func (e *Engine) finalizeWithPhone(ctx context.Context, sess *models.Session, flowDef models.FlowDefinition, rawPhone string) models.ProcessResult {
	canonical := CanonicalPhone(rawPhone)
	sess.PhoneNumber = canonical
	sess.PhoneSubmitted = true
	sess.CollectingPhone = false
	sess.LeadData[FieldPhone] = canonical
	e.persist(sess)

	if sess.LeadID != "" {
		if err := e.store.UpdateLeadPhone(sess.LeadID, canonical); err != nil {
			slog.Error("Engine.finalizeWithPhone: failed to update lead phone",
				"sessionID", sess.SessionID, "leadID", sess.LeadID, "error", err)
		}
	}

	notified, messaged := e.dispatchFinalization(ctx, sess, flowDef, canonical)
	slog.Info("Engine.finalizeWithPhone: lead finalized",
		"sessionID", sess.SessionID, "phone", canonical,
		"notified", notified, "messaged", messaged)

	body := "✅ Número confirmado: " + canonical + "\n\n" +
		Interpolate(flowDef.CompletionTemplate, sess.LeadData)
	if messaged {
		body += "\n\n📱 Enviamos uma confirmação para seu WhatsApp!"
	}

	return models.ProcessResult{
		Response:       body,
		ResponseType:   models.ResponsePhoneCollected,
		SessionID:      sess.SessionID,
		CurrentStep:    sess.CurrentStep,
		FlowCompleted:  true,
		PhoneSubmitted: true,
		LeadQualified:  true,
		LeadData:       sess.LeadData,
	}
}

// dispatchFinalization performs the effectful half of the handoff. The
// decision of what to send never depends on whether sending succeeds, and
// each dispatch is bounded by the collaborator timeout so a hung transport
// cannot hold the session lock.
func (e *Engine) dispatchFinalization(ctx context.Context, sess *models.Session, flowDef models.FlowDefinition, phone string) (notified, messaged bool) {
	if e.notifier != nil {
		record := buildLeadRecord(sess, flowDef)
		record.ID = sess.LeadID
		nctx, cancel := context.WithTimeout(ctx, e.collabTimeout)
		res := e.notifier.NotifyNewLead(nctx, record)
		cancel()
		notified = res.Success
		if !res.Success {
			slog.Warn("Engine.dispatchFinalization: lawyer notification failed",
				"sessionID", sess.SessionID, "error", res.Error)
		}
	}
	if e.messenger != nil {
		confirmation := Interpolate(whatsappConfirmationTemplate, sess.LeadData)
		mctx, cancel := context.WithTimeout(ctx, e.collabTimeout)
		err := e.messenger.SendMessage(mctx, phone, confirmation)
		cancel()
		if err != nil {
			slog.Warn("Engine.dispatchFinalization: confirmation message failed",
				"sessionID", sess.SessionID, "phone", phone, "error", err)
		} else {
			messaged = true
		}
	}
	return notified, messaged
}

// buildLeadRecord snapshots the completed answers in step order.
func buildLeadRecord(sess *models.Session, flowDef models.FlowDefinition) models.LeadRecord {
	answers := make([]models.LeadAnswer, 0, len(flowDef.Steps))
	for _, step := range flowDef.Steps {
		if answer, ok := sess.LeadData[step.Field]; ok {
			answers = append(answers, models.LeadAnswer{
				StepID: step.ID,
				Field:  step.Field,
				Answer: answer,
			})
		}
	}
	completedAt := time.Now().UTC()
	if sess.QualifiedAt != nil {
		completedAt = *sess.QualifiedAt
	}
	return models.LeadRecord{
		SessionID:   sess.SessionID,
		Platform:    sess.Platform,
		Answers:     answers,
		Phone:       sess.LeadData[FieldPhone],
		Email:       sess.LeadData[FieldEmail],
		Category:    sess.LeadData[FieldAreaOfLaw],
		Status:      models.LeadStatusQualified,
		CompletedAt: completedAt,
	}
}
