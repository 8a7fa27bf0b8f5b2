// Package flow implements the lead-qualification conversation engine:
// flow definitions, answer validation and normalization, template
// interpolation, the step state machine, and the finalization handoff.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/caselink/leadflow/internal/models"
)

// Provider supplies the flow definition. Implementations must be read-only
// and stable within a process lifetime.
type Provider interface {
	GetFlow(ctx context.Context) (models.FlowDefinition, error)
}

// StaticProvider serves the built-in qualification flow.
type StaticProvider struct{}

// NewStaticProvider creates a provider backed by the built-in flow.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

// GetFlow returns the built-in five-step qualification flow.
func (p *StaticProvider) GetFlow(ctx context.Context) (models.FlowDefinition, error) {
	return DefaultFlow(), nil
}

// FileProvider loads a flow definition from a JSON file, falling back to the
// built-in flow when the file is absent.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider that reads the flow from the given path.
func NewFileProvider(path string) *FileProvider {
	slog.Debug("flow.NewFileProvider: creating file provider", "path", path)
	return &FileProvider{path: path}
}

// GetFlow reads and validates the flow definition file.
func (p *FileProvider) GetFlow(ctx context.Context) (models.FlowDefinition, error) {
	if p.path == "" {
		return models.FlowDefinition{}, fmt.Errorf("flow file path not configured")
	}
	if _, err := os.Stat(p.path); os.IsNotExist(err) {
		slog.Debug("FileProvider.GetFlow: flow file does not exist, using built-in flow", "path", p.path)
		return DefaultFlow(), nil
	}
	content, err := os.ReadFile(p.path)
	if err != nil {
		return models.FlowDefinition{}, fmt.Errorf("failed to read flow file: %w", err)
	}
	var def models.FlowDefinition
	if err := json.Unmarshal(content, &def); err != nil {
		return models.FlowDefinition{}, fmt.Errorf("failed to parse flow file: %w", err)
	}
	if def.CompletionTemplate == "" {
		def.CompletionTemplate = DefaultFlow().CompletionTemplate
	}
	if err := def.Validate(); err != nil {
		return models.FlowDefinition{}, fmt.Errorf("invalid flow definition in %s: %w", p.path, err)
	}
	slog.Info("FileProvider.GetFlow: flow loaded from file", "path", p.path, "steps", len(def.Steps))
	return def, nil
}

// Lead data field names used by the built-in flow and the interpolator.
const (
	FieldFullName    = "full_name"
	FieldContactInfo = "contact_info"
	FieldAreaOfLaw   = "area_of_law"
	FieldCaseDetails = "case_details"
	FieldConfirm     = "confirmation"
	FieldPhone       = "phone"
	FieldEmail       = "email"
)

// DefaultFlow returns the built-in five-step lead-qualification flow
// (criminal law and health-injunction intake).
func DefaultFlow() models.FlowDefinition {
	return models.FlowDefinition{
		Steps: []models.Step{
			{
				ID:       1,
				Field:    FieldFullName,
				Question: "Olá! Seja bem-vindo ao nosso atendimento jurídico. Estou aqui para entender seu caso e agilizar o contato com nossos advogados especializados.\n\nPara começar, qual é o seu nome completo?",
				Validation: models.ValidationSpec{
					Type:      models.ValidationName,
					MinLength: 2,
					Required:  true,
				},
				ErrorMessage: "Por favor, informe seu nome completo (nome e sobrenome).",
			},
			{
				ID:       2,
				Field:    FieldContactInfo,
				Question: "Prazer, {user_name}! Preciso do seu telefone/WhatsApp e e-mail para contato:",
				Validation: models.ValidationSpec{
					Type:      models.ValidationContactCombined,
					MinLength: 8,
					Required:  true,
				},
				ErrorMessage: "Preciso de um telefone com DDD ou um e-mail válido para contato.",
			},
			{
				ID:       3,
				Field:    FieldAreaOfLaw,
				Question: "Perfeito! Com qual área do direito você precisa de ajuda?\n\n• Penal\n• Saúde (ações e liminares médicas)",
				Validation: models.ValidationSpec{
					Type:      models.ValidationArea,
					MinLength: 3,
					Required:  true,
				},
				ErrorMessage: "Me diga se o caso é da área Penal ou de Saúde/Liminares.",
			},
			{
				ID:       4,
				Field:    FieldCaseDetails,
				Question: "Me conte brevemente sobre sua situação:\n\n• O caso já está em andamento?\n• Há prazos ou audiências?\n• Em qual cidade?",
				Validation: models.ValidationSpec{
					Type:      models.ValidationCaseDescription,
					MinLength: 20,
					MinWords:  5,
					Required:  true,
				},
				ErrorMessage: "Pode me dar um pouco mais de detalhes sobre a situação?",
			},
			{
				ID:       5,
				Field:    FieldConfirm,
				Question: "Casos assim precisam de atenção imediata. Nossos advogados têm experiência em casos semelhantes.\n\nPosso direcioná-lo para nosso especialista?",
				Validation: models.ValidationSpec{
					Type:      models.ValidationConfirmation,
					MinLength: 1,
					Required:  true,
				},
				ErrorMessage: "Posso confirmar o encaminhamento para nosso especialista?",
			},
		},
		CompletionTemplate: "Perfeito, {user_name}! Suas informações foram registradas e nossa equipe entrará em contato em breve.",
	}
}

// FallbackFlow is the minimal single-step flow used when the provider fails:
// it keeps the conversation alive by at least collecting the user's name.
func FallbackFlow() models.FlowDefinition {
	return models.FlowDefinition{
		Steps: []models.Step{
			{
				ID:       1,
				Field:    FieldFullName,
				Question: "Para começar, qual é o seu nome completo?",
				Validation: models.ValidationSpec{
					Type:      models.ValidationName,
					MinLength: 2,
					Required:  true,
				},
				ErrorMessage: "Por favor, informe seu nome completo.",
			},
		},
		CompletionTemplate: "Obrigado, {user_name}! Nossa equipe entrará em contato em breve.",
	}
}
