// Package genai provides the optional AI assistant used for post-completion
// conversations, backed by the OpenAI API.
//
// The client tracks provider quota exhaustion: after a quota-shaped error it
// reports itself unavailable for a cooldown window so callers can degrade to
// static responses instead of hammering the API.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultCooldown is how long the client stays unavailable after a
// quota-shaped error.
const DefaultCooldown = 5 * time.Minute

// DefaultRequestTimeout bounds a single chat completion call. A completion
// runs while the caller holds the session lock, so it must never block
// indefinitely on a hung provider connection.
const DefaultRequestTimeout = 30 * time.Second

// quotaIndicators mark errors that mean the provider is out of quota rather
// than a transient failure.
var quotaIndicators = []string{
	"429",
	"quota",
	"rate limit",
	"resource has been exhausted",
	"resourceexhausted",
	"billing",
}

// ClientInterface defines the operations the conversation layer needs from
// the assistant.
type ClientInterface interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	Respond(ctx context.Context, message string, sessionCtx map[string]string) (string, error)
	Available() bool
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey         string
	Model          string
	Cooldown       time.Duration
	RequestTimeout time.Duration
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the chat completion model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithCooldown overrides the unavailability window after quota errors.
func WithCooldown(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.Cooldown = d
		}
	}
}

// WithRequestTimeout overrides the per-request ceiling on completion calls.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.RequestTimeout = d
		}
	}
}

// Client wraps the OpenAI chat completion API.
type Client struct {
	client         openai.Client
	model          string
	cooldown       time.Duration
	requestTimeout time.Duration

	mu               sync.Mutex
	unavailableUntil time.Time
}

// Compile-time check that Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)

// NewClient initializes a GenAI client. The API key comes from options or
// the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Cooldown: DefaultCooldown, RequestTimeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	slog.Debug("genai.NewClient: client created",
		"model", model, "cooldown", cfg.Cooldown, "requestTimeout", cfg.RequestTimeout)
	return &Client{
		client:         openai.NewClient(option.WithAPIKey(apiKey)),
		model:          model,
		cooldown:       cfg.Cooldown,
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

// Available reports whether the client is outside its quota cooldown window.
func (c *Client) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().After(c.unavailableUntil)
}

// GenerateWithMessages generates a response using the provided conversation
// messages. The call is bounded by the client's request timeout.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("genai client temporarily unavailable (quota cooldown)")
	}
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    c.model,
	})
	if err != nil {
		if isCooldownErr(err) {
			c.markUnavailable()
			slog.Warn("genai.GenerateWithMessages: provider unavailable, entering cooldown",
				"cooldown", c.cooldown, "error", err)
		}
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

const assistantSystemPrompt = "Você é um assistente virtual de um escritório de advocacia brasileiro. " +
	"O cliente já completou o cadastro inicial e nossa equipe entrará em contato. " +
	"Responda perguntas gerais de forma breve, educada e em português. " +
	"Nunca dê aconselhamento jurídico específico; reforce que um advogado responderá em breve."

// Respond answers a post-completion message using the lead's session context.
func (c *Client) Respond(ctx context.Context, message string, sessionCtx map[string]string) (string, error) {
	system := assistantSystemPrompt
	if len(sessionCtx) > 0 {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nContexto do cliente:")
		for _, key := range []string{"name", "area", "situation", "platform"} {
			if v := sessionCtx[key]; v != "" {
				fmt.Fprintf(&b, "\n- %s: %s", key, v)
			}
		}
		system = b.String()
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		openai.UserMessage(message),
	}
	return c.GenerateWithMessages(ctx, messages)
}

func (c *Client) markUnavailable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unavailableUntil = time.Now().Add(c.cooldown)
}

// isCooldownErr reports whether the error should trip the unavailability
// window: provider quota exhaustion or a request that hit its deadline.
func isCooldownErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return isQuotaErr(err)
}

func isQuotaErr(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range quotaIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
