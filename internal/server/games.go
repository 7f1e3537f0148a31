package server

import (
	"net/http"
	"time"

	"ecobot/internal/minigame"
)

// millis converts a unix millisecond timestamp; zero stays the zero time.
func millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *Server) handleCooldownCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key        string `json:"key"`
		DurationMs int64  `json:"durationMs"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Key == "" || req.DurationMs <= 0 {
		writeError(w, http.StatusBadRequest, "key and a positive durationMs are required")
		return
	}
	res := s.cooldowns.Check(req.Key, time.Duration(req.DurationMs)*time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          res.OK,
		"remainingMs": res.Remaining.Milliseconds(),
	})
}

func (s *Server) handleSequenceSample(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartMs     int64 `json:"startMs"`
		WindowMs    int64 `json:"windowMs"`
		TimestampMs int64 `json:"timestampMs"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.StartMs <= 0 || req.WindowMs < 0 {
		writeError(w, http.StatusBadRequest, "startMs is required and windowMs must not be negative")
		return
	}
	v := s.detector.Sample(r.PathValue("key"), millis(req.StartMs), time.Duration(req.WindowMs)*time.Millisecond, millis(req.TimestampMs))
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleSequenceReset(w http.ResponseWriter, r *http.Request) {
	s.detector.Reset(r.PathValue("key"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMinigameBegin(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decode(w, r, &req) || !requireUser(w, req.UserID) {
		return
	}
	a, err := s.games.Begin(req.UserID, minigame.Kind(r.PathValue("kind")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleMinigameGet(w http.ResponseWriter, r *http.Request) {
	a, ok := s.games.Get(r.PathValue("id"))
	if !ok {
		s.fail(w, r, minigame.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleMinigameAbandon(w http.ResponseWriter, r *http.Request) {
	if err := s.games.Abandon(r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMinigameClick(w http.ResponseWriter, r *http.Request) {
	p, err := s.games.Click(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleMinigameFinish(w http.ResponseWriter, r *http.Request) {
	reward, err := s.games.Finish(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}
