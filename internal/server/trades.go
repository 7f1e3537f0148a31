package server

import (
	"net/http"

	"ecobot/internal/economy"
)

func (s *Server) handleTradeCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string `json:"userId"`
		TargetID  string `json:"targetId"`
		ChannelID string `json:"channelId"`
	}
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "missing targetId")
		return
	}
	snap, err := s.trades.Create(r.Context(), req.UserID, req.TargetID, req.ChannelID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleTradeGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.trades.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTradeByMessage(w http.ResponseWriter, r *http.Request) {
	snap, err := s.trades.ByMessage(r.PathValue("messageId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTradeByUser(w http.ResponseWriter, r *http.Request) {
	snap, err := s.trades.ByUser(r.PathValue("userId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTradeBind(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "missing messageId")
		return
	}
	if err := s.trades.BindMessage(r.PathValue("id"), req.MessageID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTradeOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string         `json:"userId"`
		Items  []economy.Item `json:"items"`
	}
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	snap, err := s.trades.SetOffer(r.Context(), r.PathValue("id"), req.UserID, req.Items)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTradeConfirm(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	out, err := s.trades.Confirm(r.Context(), r.PathValue("id"), req.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTradeCancel(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	snap, err := s.trades.Cancel(r.PathValue("id"), req.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
