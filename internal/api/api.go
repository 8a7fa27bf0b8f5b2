// Package api provides HTTP handlers and the main API server logic for leadflow.
//
// It exposes RESTful endpoints for message processing, phone submission,
// session inspection and lead management, and wires together the store,
// messaging transport, conversation engine and notification modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caselink/leadflow/internal/flow"
	"github.com/caselink/leadflow/internal/genai"
	"github.com/caselink/leadflow/internal/lockfile"
	"github.com/caselink/leadflow/internal/messaging"
	"github.com/caselink/leadflow/internal/notify"
	"github.com/caselink/leadflow/internal/store"
	"github.com/caselink/leadflow/internal/twiliowhatsapp"
	"github.com/caselink/leadflow/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultAddr is the default API server listen address
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// TransportWhatsApp selects the Whatsmeow-based transport
	TransportWhatsApp = "whatsapp"
	// TransportTwilio selects the Twilio-based transport
	TransportTwilio = "twilio"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	StateDir        string
	Transport       string
	FlowPath        string
	LawyerPhones    []string
	StrictAttempts  int
	ShutdownTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStateDir sets the state directory used for the instance lock file.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithTransport selects the messaging transport ("whatsapp" or "twilio").
func WithTransport(transport string) Option {
	return func(o *Opts) { o.Transport = transport }
}

// WithFlowFile sets a JSON flow definition file overriding the built-in flow.
func WithFlowFile(path string) Option {
	return func(o *Opts) { o.FlowPath = path }
}

// WithLawyerPhones sets the phone numbers notified about new leads.
func WithLawyerPhones(phones []string) Option {
	return func(o *Opts) { o.LawyerPhones = phones }
}

// WithStrictAttempts overrides the engine's strict validation attempt count.
func WithStrictAttempts(n int) Option {
	return func(o *Opts) { o.StrictAttempts = n }
}

// WithShutdownTimeout overrides the graceful HTTP shutdown window.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

// Server holds the wired application modules behind the HTTP handlers.
type Server struct {
	st         store.Store
	engine     *flow.Engine
	msgService messaging.Service
	twilioSvc  *messaging.TwilioService // non-nil only on the twilio transport
}

// Run wires all modules and serves the HTTP API until a termination signal
// arrives or the listener fails.
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, twilioOpts []twiliowhatsapp.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultAddr, Transport: TransportWhatsApp, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	if cfg.StateDir != "" {
		lock, err := lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return fmt.Errorf("failed to acquire instance lock: %w", err)
		}
		defer lock.Release()
	}

	st, err := store.NewStore(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	msgService, twilioSvc, err := buildTransport(cfg, waOpts, twilioOpts)
	if err != nil {
		return err
	}

	var provider flow.Provider
	if cfg.FlowPath != "" {
		provider = flow.NewFileProvider(cfg.FlowPath)
	} else {
		provider = flow.NewStaticProvider()
	}

	engineOpts := []flow.Option{flow.WithMessenger(msgService)}
	if cfg.StrictAttempts > 0 {
		engineOpts = append(engineOpts, flow.WithStrictAttempts(cfg.StrictAttempts))
	}
	if len(cfg.LawyerPhones) > 0 {
		engineOpts = append(engineOpts, flow.WithNotifier(notify.NewLawyerNotifier(msgService, cfg.LawyerPhones)))
	} else {
		slog.Warn("Server.Run: no lawyer phones configured, lead notifications disabled")
	}
	if assistant, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Info("Server.Run: AI assistant disabled", "reason", err)
	} else {
		engineOpts = append(engineOpts, flow.WithAssistant(assistant))
	}

	engine := flow.NewEngine(st, provider, engineOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer msgService.Stop()

	responder := messaging.NewResponder(msgService, engine, st, cfg.Transport)
	if err := responder.Start(ctx); err != nil {
		return fmt.Errorf("failed to start responder: %w", err)
	}

	s := &Server{
		st:         st,
		engine:     engine,
		msgService: msgService,
		twilioSvc:  twilioSvc,
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: s.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("leadflow API running", "addr", cfg.Addr, "transport", cfg.Transport)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case sig := <-sigCh:
		slog.Info("Server.Run: shutting down on signal", "signal", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: graceful shutdown failed", "error", err)
		}
		return nil
	}
}

// buildTransport creates the messaging service for the configured transport.
func buildTransport(cfg Opts, waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option) (messaging.Service, *messaging.TwilioService, error) {
	switch cfg.Transport {
	case TransportTwilio:
		twClient, err := twiliowhatsapp.NewClient(twilioOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(twClient)
		return svc, svc, nil
	case TransportWhatsApp, "":
		waClient, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(waClient), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// routes builds the HTTP mux for the API surface.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", s.messagesHandler)
	mux.HandleFunc("/phone", s.phoneHandler)
	mux.HandleFunc("/sessions/", s.sessionsHandler)
	mux.HandleFunc("/leads", s.leadsHandler)
	mux.HandleFunc("/leads/", s.leadContactedHandler)
	mux.HandleFunc("/status", s.statusHandler)
	if s.twilioSvc != nil {
		mux.HandleFunc("/twilio/webhook", s.twilioSvc.TwilioWebhookHandler)
	}
	return mux
}
