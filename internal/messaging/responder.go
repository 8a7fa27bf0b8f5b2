package messaging

import (
	"context"
	"log/slog"

	"github.com/caselink/leadflow/internal/flow"
	"github.com/caselink/leadflow/internal/models"
	"github.com/caselink/leadflow/internal/store"
)

// Responder bridges a transport's inbound messages into the conversation
// engine and sends the engine's responses back out. The session id is the
// sender's canonical phone number, so a returning lead always lands in the
// same conversation.
type Responder struct {
	svc      Service
	engine   *flow.Engine
	store    store.Store
	platform string
}

// NewResponder creates a responder for the given transport.
func NewResponder(svc Service, engine *flow.Engine, st store.Store, platform string) *Responder {
	return &Responder{
		svc:      svc,
		engine:   engine,
		store:    st,
		platform: platform,
	}
}

// Start consumes the transport's response and receipt channels until the
// context is cancelled or the channels close.
func (r *Responder) Start(ctx context.Context) error {
	go r.consumeResponses(ctx)
	go r.consumeReceipts(ctx)
	slog.Info("Responder started", "platform", r.platform)
	return nil
}

func (r *Responder) consumeResponses(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case response, ok := <-r.svc.Responses():
			if !ok {
				slog.Debug("Responder responses channel closed", "platform", r.platform)
				return
			}
			r.handle(ctx, response)
		}
	}
}

func (r *Responder) consumeReceipts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-r.svc.Receipts():
			if !ok {
				return
			}
			if err := r.store.AddReceipt(receipt); err != nil {
				slog.Error("Responder failed to record receipt", "error", err, "to", receipt.To)
			}
		}
	}
}

// handle runs one inbound message through the engine and replies on the
// same transport.
func (r *Responder) handle(ctx context.Context, response models.Response) {
	canonicalFrom, err := r.svc.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("Responder.handle: invalid sender", "error", err, "from", response.From)
		return
	}

	if err := r.store.AddResponse(models.Response{
		From: canonicalFrom,
		Body: response.Body,
		Time: response.Time,
	}); err != nil {
		slog.Error("Responder.handle: failed to record inbound message", "error", err, "from", canonicalFrom)
	}

	result := r.engine.ProcessMessage(ctx, response.Body, canonicalFrom, r.platform)
	if result.Error != "" {
		slog.Warn("Responder.handle: engine returned degraded result",
			"from", canonicalFrom, "responseType", result.ResponseType, "error", result.Error)
	}
	if result.Response == "" {
		return
	}

	if err := r.svc.SendMessage(ctx, canonicalFrom, result.Response); err != nil {
		slog.Error("Responder.handle: failed to send reply", "error", err, "from", canonicalFrom)
	}
}
