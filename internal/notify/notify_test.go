package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/caselink/leadflow/internal/models"
)

type mockSender struct {
	sent    map[string]string
	failFor map[string]bool
}

func newMockSender() *mockSender {
	return &mockSender{sent: make(map[string]string), failFor: make(map[string]bool)}
}

func (m *mockSender) SendMessage(ctx context.Context, to string, body string) error {
	if m.failFor[to] {
		return errors.New("delivery failed")
	}
	m.sent[to] = body
	return nil
}

func sampleLead() models.LeadRecord {
	return models.LeadRecord{
		ID:        "lead_abc123",
		SessionID: "5511987654321",
		Platform:  "whatsapp",
		Answers: []models.LeadAnswer{
			{StepID: 1, Field: "full_name", Answer: "João Silva"},
			{StepID: 4, Field: "case_details", Answer: "Audiência marcada para semana que vem"},
		},
		Phone:    "5511987654321",
		Email:    "joao@gmail.com",
		Category: "Direito Penal",
		Status:   models.LeadStatusPhoneCollected,
	}
}

func TestNotifyNewLead(t *testing.T) {
	sender := newMockSender()
	n := NewLawyerNotifier(sender, []string{"5511911111111", "5511922222222"})

	result := n.NotifyNewLead(context.Background(), sampleLead())
	if !result.Success {
		t.Fatalf("notification failed: %s", result.Error)
	}
	if result.NotificationsSent != 2 || result.TotalRecipients != 2 {
		t.Errorf("sent %d/%d, want 2/2", result.NotificationsSent, result.TotalRecipients)
	}

	body := sender.sent["5511911111111"]
	for _, want := range []string{"Novo lead qualificado", "João Silva", "5511987654321", "joao@gmail.com", "Direito Penal", "Audiência", "lead_abc123"} {
		if !strings.Contains(body, want) {
			t.Errorf("notification body missing %q: %q", want, body)
		}
	}
}

func TestNotifyNewLeadPartialFailure(t *testing.T) {
	sender := newMockSender()
	sender.failFor["5511911111111"] = true
	n := NewLawyerNotifier(sender, []string{"5511911111111", "5511922222222"})

	result := n.NotifyNewLead(context.Background(), sampleLead())
	if !result.Success {
		t.Fatal("one successful delivery should count as success")
	}
	if result.NotificationsSent != 1 {
		t.Errorf("sent = %d, want 1", result.NotificationsSent)
	}
}

func TestNotifyNewLeadAllFail(t *testing.T) {
	sender := newMockSender()
	sender.failFor["5511911111111"] = true
	n := NewLawyerNotifier(sender, []string{"5511911111111"})

	result := n.NotifyNewLead(context.Background(), sampleLead())
	if result.Success {
		t.Fatal("expected failure when every delivery fails")
	}
	if result.Error == "" {
		t.Error("expected error detail")
	}
}

func TestNotifyNewLeadNoRecipients(t *testing.T) {
	n := NewLawyerNotifier(newMockSender(), nil)
	result := n.NotifyNewLead(context.Background(), sampleLead())
	if result.Success {
		t.Fatal("expected failure with no recipients")
	}
}

func TestFormatLeadMessageOmitsEmptyFields(t *testing.T) {
	lead := models.LeadRecord{SessionID: "5511987654321", Status: models.LeadStatusQualified}
	body := formatLeadMessage(lead)
	for _, unwanted := range []string{"Telefone", "E-mail", "Área", "Caso", "ID:"} {
		if strings.Contains(body, unwanted) {
			t.Errorf("body includes %q for empty field: %q", unwanted, body)
		}
	}
}
