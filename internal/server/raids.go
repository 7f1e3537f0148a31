package server

import (
	"net/http"

	"ecobot/internal/raid"
)

type messageRequest struct {
	MessageID string `json:"messageId"`
}

func (s *Server) handleRaidCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string `json:"userId"`
		ChannelID string `json:"channelId"`
	}
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	snap, err := s.raids.Create(req.UserID, req.ChannelID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleRaidGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.raids.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRaidByMessage(w http.ResponseWriter, r *http.Request) {
	snap, err := s.raids.ByMessage(r.PathValue("messageId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRaidBind(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "missing messageId")
		return
	}
	if err := s.raids.BindMessage(r.PathValue("id"), req.MessageID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRaidJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string    `json:"userId"`
		Role   raid.Role `json:"role"`
	}
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	snap, err := s.raids.Join(r.PathValue("id"), req.UserID, req.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRaidRespond(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string    `json:"userId"`
		Role     raid.Role `json:"role"`
		PromptID string    `json:"promptId"`
	}
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	snap, err := s.raids.Respond(r.Context(), r.PathValue("id"), req.UserID, req.Role, req.PromptID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleRaidAction serves the actions whose body is only the caller.
func (s *Server) handleRaidAction(w http.ResponseWriter, r *http.Request) {
	var act func(id, userID string) (raid.Snapshot, error)
	switch r.PathValue("action") {
	case "leave":
		act = s.raids.Leave
	case "start":
		act = s.raids.Start
	case "revive":
		act = s.raids.Revive
	case "cancel":
		act = s.raids.Cancel
	default:
		http.NotFound(w, r)
		return
	}

	var req userRequest
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	snap, err := act(r.PathValue("id"), req.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
