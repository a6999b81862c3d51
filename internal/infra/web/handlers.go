package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/usecase"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usecase.ErrRateLimited):
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrJobNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

type conversationCreateRequest struct {
	Title     string `json:"title"`
	Model     string `json:"model"`
	Technique string `json:"technique"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())

	var req conversationCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	conv, err := s.convUC.Create(r.Context(), claims.UserID, req.Title, req.Model, req.Technique)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	convs, err := s.convUC.List(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	conv, err := s.convUC.Get(r.Context(), claims.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	if err := s.convUC.Delete(r.Context(), claims.UserID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	Message  string `json:"message"`
	Model    string `json:"model"`
	UsedBYOK bool   `json:"usedByok"`
}

// handleSendMessage accepts a chat message for asynchronous processing and
// answers 202 with the job id and queue position; the reply arrives on the
// conversation's event stream.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res, err := s.chatUC.SendMessage(r.Context(), usecase.SendMessageInput{
		ConversationID: chi.URLParam(r, "id"),
		UserID:         claims.UserID,
		Tier:           claims.Tier,
		Message:        req.Message,
		Model:          req.Model,
		UsedBYOK:       req.UsedBYOK,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.chatUC.JobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleQueueMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.chatUC.QueueMetrics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.chatUC.ListModels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items []string `json:"items"`
	}{Items: models})
}

type keyUpsertRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
}

func (s *Server) handleUpsertKey(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())

	var req keyUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.keyUC.Upsert(r.Context(), claims.UserID, req.Provider, req.APIKey); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	keys, err := s.keyUC.List(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items []usecase.RedactedKey `json:"items"`
	}{Items: keys})
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	if err := s.keyUC.Delete(r.Context(), claims.UserID, chi.URLParam(r, "provider")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
