package arena

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"example.com/gearwars/internal/tournament"
)

// handleTournamentMessage covers the tournament sub-protocol. The engine is
// optional: a hub wired without one answers every request with an error.
func (h *Hub) handleTournamentMessage(ctx context.Context, sessionID string, env Envelope) {
	if h.engine == nil {
		h.sendError(sessionID, "tournaments_disabled", "tournaments are not enabled")
		return
	}
	userID := h.userOf(sessionID)

	switch env.Type {
	case "create_tournament":
		var p CreateTournamentPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(sessionID, "bad_input", "invalid payload")
			return
		}
		t, err := h.engine.Create(ctx, userID, tournament.Config{
			EntryFee:          p.EntryFee,
			MaxPlayers:        p.MaxPlayers,
			PrizeDistribution: p.PrizeDistribution,
			RoundDuration:     time.Duration(p.RoundSeconds) * time.Second,
		})
		if err != nil {
			h.sendError(sessionID, tournamentErrorCode(err), err.Error())
			return
		}
		h.sendToSession(sessionID, Envelope{Type: "tournament_created", Payload: mustJSON(t)})

	case "join_tournament":
		var p JoinTournamentPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(sessionID, "bad_input", "invalid payload")
			return
		}
		if err := h.engine.Register(ctx, p.TournamentID, userID); err != nil {
			h.sendError(sessionID, tournamentErrorCode(err), err.Error())
			return
		}
		t, _ := h.engine.Get(p.TournamentID)
		h.sendToSession(sessionID, Envelope{Type: "tournament_join_result", Payload: mustJSON(t)})

	case "get_tournaments":
		h.sendToSession(sessionID, Envelope{Type: "tournament_list", Payload: mustJSON(h.engine.List())})

	case "get_tournament_info":
		var p TournamentInfoPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(sessionID, "bad_input", "invalid payload")
			return
		}
		t, ok := h.engine.Get(p.TournamentID)
		if !ok {
			h.sendError(sessionID, "tournament_not_found", tournament.ErrNotFound.Error())
			return
		}
		h.sendToSession(sessionID, Envelope{Type: "tournament_info", Payload: mustJSON(t)})

	case "report_match_result":
		var p ReportMatchResultPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(sessionID, "bad_input", "invalid payload")
			return
		}
		if err := h.engine.ReportResult(ctx, p.TournamentID, p.MatchID, p.WinnerID, p.GameData); err != nil {
			h.sendError(sessionID, tournamentErrorCode(err), err.Error())
			return
		}
		t, _ := h.engine.Get(p.TournamentID)
		h.sendToSession(sessionID, Envelope{Type: "match_result_reported", Payload: mustJSON(t)})
	}
}

func tournamentErrorCode(err error) string {
	switch {
	case errors.Is(err, tournament.ErrNotFound):
		return "tournament_not_found"
	case errors.Is(err, tournament.ErrNotOpen):
		return "registration_closed"
	case errors.Is(err, tournament.ErrNotActive):
		return "tournament_not_active"
	case errors.Is(err, tournament.ErrFull):
		return "tournament_full"
	case errors.Is(err, tournament.ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, tournament.ErrNotEnoughPlayers):
		return "not_enough_players"
	case errors.Is(err, tournament.ErrMatchNotFound):
		return "match_not_found"
	case errors.Is(err, tournament.ErrMatchNotReady):
		return "match_not_ready"
	case errors.Is(err, tournament.ErrAlreadyCompleted):
		return "match_completed"
	case errors.Is(err, tournament.ErrInvalidWinner):
		return "invalid_winner"
	case errors.Is(err, tournament.ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, tournament.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "error"
	}
}
