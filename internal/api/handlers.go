package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caselink/leadflow/internal/models"
)

// processMessageRequest is the POST /messages payload.
type processMessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Platform  string `json:"platform"`
}

// phoneSubmissionRequest is the POST /phone payload.
type phoneSubmissionRequest struct {
	PhoneNumber string `json:"phone_number"`
	SessionID   string `json:"session_id"`
}

// messagesHandler handles POST /messages: one conversation state transition.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req processMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.messagesHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("session_id is required"))
		return
	}

	result := s.engine.ProcessMessage(r.Context(), req.Message, req.SessionID, req.Platform)
	slog.Debug("Server.messagesHandler: message processed",
		"sessionID", req.SessionID, "responseType", result.ResponseType)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// phoneHandler handles POST /phone: the out-of-band phone submission channel.
func (s *Server) phoneHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req phoneSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.phoneHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("session_id is required"))
		return
	}

	result := s.engine.SubmitPhone(r.Context(), req.PhoneNumber, req.SessionID)
	if !result.Success {
		status := http.StatusBadRequest
		if result.Error == models.ErrSessionNotFound.Error() {
			status = http.StatusNotFound
		}
		writeJSONResponse(w, status, models.Error(result.Message))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(result.Message, result))
}

// sessionsHandler handles GET /sessions/{id} and POST /sessions/{id}/reset.
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if rest == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session id required"))
		return
	}

	if strings.HasSuffix(rest, "/reset") {
		if r.Method != http.MethodPost {
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
			return
		}
		sessionID := strings.TrimSuffix(rest, "/reset")
		if err := s.engine.ResetSession(r.Context(), sessionID); err != nil {
			slog.Error("Server.sessionsHandler: reset failed", "error", err, "sessionID", sessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset session"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session reset", nil))
		return
	}

	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	sessionCtx := s.engine.SessionContext(r.Context(), rest)
	if !sessionCtx.Exists {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessionCtx))
}

// leadsHandler handles GET /leads: qualified leads for the legal team.
func (s *Server) leadsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	leads, err := s.st.ListQualifiedLeads()
	if err != nil {
		slog.Error("Server.leadsHandler: failed to list leads", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list leads"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(leads))
}

// leadContactedHandler handles POST /leads/{id}/contacted.
func (s *Server) leadContactedHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/leads/")
	if !strings.HasSuffix(rest, "/contacted") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	leadID := strings.TrimSuffix(rest, "/contacted")
	if leadID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Lead id required"))
		return
	}

	if err := s.st.MarkLeadContacted(leadID); err != nil {
		if errors.Is(err, models.ErrLeadNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
			return
		}
		slog.Error("Server.leadContactedHandler: update failed", "error", err, "leadID", leadID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update lead"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Lead marked as contacted", nil))
}

// statusHandler handles GET /status: a light health and activity summary.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	leads, err := s.st.ListQualifiedLeads()
	if err != nil {
		slog.Error("Server.statusHandler: failed to list leads", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read status"))
		return
	}
	responses, err := s.st.GetResponses()
	if err != nil {
		slog.Error("Server.statusHandler: failed to list responses", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read status"))
		return
	}
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Server.statusHandler: failed to list receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read status"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"service":           "leadflow",
		"time":              time.Now().UTC().Format(time.RFC3339),
		"leads":             len(leads),
		"messages_received": len(responses),
		"messages_sent":     len(receipts),
	}))
}
