// Package notify delivers new-lead alerts to the legal team over the
// configured messaging transport.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caselink/leadflow/internal/models"
)

// Sender delivers one outbound message. Satisfied by messaging.Service.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// LawyerNotifier sends a formatted lead summary to every configured lawyer
// phone number. Delivery is best-effort per recipient: one failure does not
// stop the remaining sends.
type LawyerNotifier struct {
	sender     Sender
	recipients []string
}

// NewLawyerNotifier creates a notifier for the given recipient phone numbers
// (bare digits, country code included).
func NewLawyerNotifier(sender Sender, recipients []string) *LawyerNotifier {
	return &LawyerNotifier{
		sender:     sender,
		recipients: recipients,
	}
}

// NotifyNewLead sends the lead summary to all configured recipients and
// reports how many deliveries succeeded.
func (n *LawyerNotifier) NotifyNewLead(ctx context.Context, lead models.LeadRecord) models.NotifyResult {
	if len(n.recipients) == 0 {
		slog.Warn("LawyerNotifier.NotifyNewLead: no recipients configured", "sessionID", lead.SessionID)
		return models.NotifyResult{Success: false, Error: "no notification recipients configured"}
	}

	body := formatLeadMessage(lead)
	sent := 0
	var lastErr error
	for _, recipient := range n.recipients {
		if err := n.sender.SendMessage(ctx, recipient, body); err != nil {
			slog.Error("LawyerNotifier.NotifyNewLead: delivery failed",
				"recipient", recipient, "sessionID", lead.SessionID, "error", err)
			lastErr = err
			continue
		}
		sent++
	}

	result := models.NotifyResult{
		Success:           sent > 0,
		NotificationsSent: sent,
		TotalRecipients:   len(n.recipients),
	}
	if sent == 0 && lastErr != nil {
		result.Error = lastErr.Error()
	}
	slog.Info("LawyerNotifier.NotifyNewLead: completed",
		"sessionID", lead.SessionID, "sent", sent, "total", len(n.recipients))
	return result
}

// formatLeadMessage renders the WhatsApp alert sent to the legal team.
func formatLeadMessage(lead models.LeadRecord) string {
	var b strings.Builder
	b.WriteString("🚨 *Novo lead qualificado!*\n")

	name := answerFor(lead, "full_name")
	if name != "" {
		fmt.Fprintf(&b, "\n👤 Nome: %s", name)
	}
	if lead.Phone != "" {
		fmt.Fprintf(&b, "\n📱 Telefone: %s", lead.Phone)
	}
	if lead.Email != "" {
		fmt.Fprintf(&b, "\n📧 E-mail: %s", lead.Email)
	}
	if lead.Category != "" {
		fmt.Fprintf(&b, "\n⚖️ Área: %s", lead.Category)
	}
	if details := answerFor(lead, "case_details"); details != "" {
		fmt.Fprintf(&b, "\n📝 Caso: %s", details)
	}
	if lead.ID != "" {
		fmt.Fprintf(&b, "\n\nID: %s", lead.ID)
	}
	return b.String()
}

func answerFor(lead models.LeadRecord, field string) string {
	for _, a := range lead.Answers {
		if a.Field == field {
			return a.Answer
		}
	}
	return ""
}
