package server

import (
	"net/http"
)

type userRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleBattleStart(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	snap, err := s.battles.Start(r.Context(), req.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleBattleSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.battles.Skills())
}

func (s *Server) handleBattleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.battles.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleBattleSkill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"userId"`
		SkillID string `json:"skillId"`
	}
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	snap, err := s.battles.UseSkill(r.Context(), r.PathValue("id"), req.UserID, req.SkillID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleBattleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	snap, err := s.battles.Withdraw(r.PathValue("id"), req.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
