package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ticketbot/internal/session"
	"ticketbot/internal/workflow"
)

type startRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	TicketTitle string `json:"ticketTitle"`
	Customer    string `json:"customer"`
	AssignedTo  string `json:"assignedTo"`
}

type startResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type statusResponse struct {
	Success   bool             `json:"success"`
	SessionID string           `json:"sessionId"`
	Status    string           `json:"status"`
	Timestamp int64            `json:"timestamp"`
	Step      string           `json:"step,omitempty"`
	Finished  bool             `json:"finished"`
	Result    *workflow.Result `json:"result,omitempty"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type healthResponse struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"`
}

type listResponse struct {
	Success  bool            `json:"success"`
	Sessions []session.State `json:"sessions"`
}

const errSessionNotFound = "Automation session not found"

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	ticket := workflow.Ticket{
		Title:      firstNonEmpty(req.TicketTitle, s.defaults.Title, "Sample"),
		Customer:   firstNonEmpty(req.Customer, s.defaults.Customer),
		AssignedTo: firstNonEmpty(req.AssignedTo, s.defaults.AssignedTo),
	}
	id, err := s.sessions.Start(r.Context(), session.Request{
		Credentials: workflow.Credentials{Email: strings.TrimSpace(req.Email), Password: req.Password},
		Ticket:      ticket,
	})
	if err != nil {
		s.logger.Error("Failed to start automation", zap.Error(err))
		writeError(w, "Failed to start automation: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, startResponse{
		Success:   true,
		SessionID: id,
		Message:   "Automation started successfully",
	})
}

// handleStatus always reports "running" for a known session. Progress is in
// step, finished and result. timestamp is unix milliseconds.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]
	st, err := s.sessions.Get(id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, errSessionNotFound, http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Success:   true,
		SessionID: st.ID,
		Status:    "running",
		Timestamp: time.Now().UnixMilli(),
		Step:      st.Step,
		Finished:  st.Finished,
		Result:    st.Result,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]
	err := s.sessions.Delete(id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, errSessionNotFound, http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Automation session terminated"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listResponse{Success: true, Sessions: s.sessions.List()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.started).Seconds(),
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
