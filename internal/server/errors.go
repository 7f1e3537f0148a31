package server

import (
	"errors"
	"log/slog"
	"net/http"

	"ecobot/internal/battle"
	"ecobot/internal/economy"
	"ecobot/internal/minigame"
	"ecobot/internal/raid"
	"ecobot/internal/trade"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{trade.ErrNotFound, http.StatusNotFound},
	{battle.ErrNotFound, http.StatusNotFound},
	{raid.ErrNotFound, http.StatusNotFound},
	{minigame.ErrNotFound, http.StatusNotFound},

	{trade.ErrNotParticipant, http.StatusForbidden},
	{battle.ErrNotOwner, http.StatusForbidden},
	{raid.ErrNotLeader, http.StatusForbidden},
	{raid.ErrNotMember, http.StatusForbidden},
	{raid.ErrNotSupport, http.StatusForbidden},

	{minigame.ErrOnCooldown, http.StatusTooManyRequests},
	{battle.ErrOnCooldown, http.StatusTooManyRequests},
	{battle.ErrDailyCap, http.StatusTooManyRequests},
	{raid.ErrReviveCooldown, http.StatusTooManyRequests},

	{trade.ErrSelfTrade, http.StatusBadRequest},
	{trade.ErrInvalidOffer, http.StatusBadRequest},
	{trade.ErrInsufficientItems, http.StatusBadRequest},
	{battle.ErrUnknownSkill, http.StatusBadRequest},
	{raid.ErrInvalidRole, http.StatusBadRequest},
	{raid.ErrRoleMismatch, http.StatusBadRequest},
	{minigame.ErrUnknownKind, http.StatusBadRequest},
	{economy.ErrInvalidAmount, http.StatusBadRequest},

	{trade.ErrBusy, http.StatusConflict},
	{trade.ErrHoldingsChanged, http.StatusConflict},
	{battle.ErrAlreadyActive, http.StatusConflict},
	{battle.ErrExhausted, http.StatusConflict},
	{raid.ErrBusy, http.StatusConflict},
	{raid.ErrFull, http.StatusConflict},
	{raid.ErrNotForming, http.StatusConflict},
	{raid.ErrNotActive, http.StatusConflict},
	{raid.ErrNotReady, http.StatusConflict},
	{raid.ErrDowned, http.StatusConflict},
	{raid.ErrStalePrompt, http.StatusConflict},
	{raid.ErrAlreadyResponded, http.StatusConflict},
	{raid.ErrNothingToRevive, http.StatusConflict},
	{minigame.ErrBusy, http.StatusConflict},
	{minigame.ErrExpired, http.StatusConflict},
	{minigame.ErrIncomplete, http.StatusConflict},
}

// statusFor maps an engine error to an HTTP status. Unknown errors, including
// settlement faults, are 500s.
func statusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail writes err to the response. Server faults are logged and reported
// without their cause.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status < http.StatusInternalServerError {
		writeError(w, status, err.Error())
		return
	}
	s.logger.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	msg := "internal error"
	for _, settle := range []error{trade.ErrSettlementFailed, battle.ErrSettlementFailed, raid.ErrSettlementFailed} {
		if errors.Is(err, settle) {
			msg = "settlement failed"
		}
	}
	writeError(w, status, msg)
}
