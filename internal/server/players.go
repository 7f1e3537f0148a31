package server

import (
	"net/http"

	"ecobot/internal/economy"
)

type playerResponse struct {
	Profile   economy.Profile      `json:"profile"`
	Inventory []economy.Item       `json:"inventory"`
	Raids     []economy.RaidRecord `json:"raids"`
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	profile, err := s.store.Profile(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	inv, err := s.store.Inventory(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	raids, err := s.store.RaidHistory(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if inv == nil {
		inv = []economy.Item{}
	}
	if raids == nil {
		raids = []economy.RaidRecord{}
	}
	writeJSON(w, http.StatusOK, playerResponse{Profile: profile, Inventory: inv, Raids: raids})
}
