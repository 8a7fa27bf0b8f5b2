package messaging

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caselink/leadflow/internal/flow"
	"github.com/caselink/leadflow/internal/models"
	"github.com/caselink/leadflow/internal/store"
)

// mockService is an in-memory Service for driving the responder in tests.
type mockService struct {
	mu        sync.Mutex
	outbound  map[string][]string
	receipts  chan models.Receipt
	responses chan models.Response
}

var _ Service = (*mockService)(nil)

func newMockService() *mockService {
	return &mockService{
		outbound:  make(map[string][]string),
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

func (m *mockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

func (m *mockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbound[to] = append(m.outbound[to], body)
	return nil
}

func (m *mockService) Start(ctx context.Context) error { return nil }

func (m *mockService) Stop() error {
	close(m.receipts)
	close(m.responses)
	return nil
}

func (m *mockService) Receipts() <-chan models.Receipt   { return m.receipts }
func (m *mockService) Responses() <-chan models.Response { return m.responses }

func (m *mockService) sentTo(to string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.outbound[to]))
	copy(out, m.outbound[to])
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestResponderRepliesToInboundMessage(t *testing.T) {
	svc := newMockService()
	st := store.NewInMemoryStore()
	engine := flow.NewEngine(st, flow.NewStaticProvider())
	responder := NewResponder(svc, engine, st, "whatsapp")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := responder.Start(ctx); err != nil {
		t.Fatalf("responder start failed: %v", err)
	}

	svc.responses <- models.Response{From: "+55 11 98765-4321", Body: "oi", Time: time.Now().Unix()}

	waitFor(t, time.Second, func() bool {
		return len(svc.sentTo("5511987654321")) == 1
	})

	replies := svc.sentTo("5511987654321")
	if !strings.Contains(replies[0], "nome completo") {
		t.Errorf("reply = %q, want the opening question", replies[0])
	}

	// The canonical sender is the session id and the inbound message is logged.
	sess, err := st.GetSession("5511987654321")
	if err != nil || sess == nil {
		t.Fatalf("session not created: %v", err)
	}
	responses, _ := st.GetResponses()
	if len(responses) != 1 || responses[0].From != "5511987654321" {
		t.Errorf("recorded responses = %+v", responses)
	}
}

func TestResponderRecordsReceipts(t *testing.T) {
	svc := newMockService()
	st := store.NewInMemoryStore()
	engine := flow.NewEngine(st, flow.NewStaticProvider())
	responder := NewResponder(svc, engine, st, "whatsapp")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := responder.Start(ctx); err != nil {
		t.Fatalf("responder start failed: %v", err)
	}

	svc.receipts <- models.Receipt{To: "5511987654321", Status: models.MessageStatusDelivered, Time: time.Now().Unix()}

	waitFor(t, time.Second, func() bool {
		receipts, _ := st.GetReceipts()
		return len(receipts) == 1
	})

	receipts, _ := st.GetReceipts()
	if receipts[0].Status != models.MessageStatusDelivered {
		t.Errorf("receipt status = %s", receipts[0].Status)
	}
}

func TestResponderIgnoresInvalidSender(t *testing.T) {
	svc := newMockService()
	st := store.NewInMemoryStore()
	engine := flow.NewEngine(st, flow.NewStaticProvider())
	responder := NewResponder(svc, engine, st, "whatsapp")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := responder.Start(ctx); err != nil {
		t.Fatalf("responder start failed: %v", err)
	}

	svc.responses <- models.Response{From: "not-a-number", Body: "oi", Time: time.Now().Unix()}

	time.Sleep(50 * time.Millisecond)
	responses, _ := st.GetResponses()
	if len(responses) != 0 {
		t.Errorf("invalid sender was recorded: %+v", responses)
	}
}

func TestCanonicalizeRecipient(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+55 (11) 98765-4321", "5511987654321", false},
		{"5511987654321", "5511987654321", false},
		{"", "", true},
		{"abcdef", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := canonicalizeRecipient(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("canonicalizeRecipient(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("canonicalizeRecipient(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
