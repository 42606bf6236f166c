package app

import (
	"context"
	"log/slog"

	"example.com/gearwars/internal/arena"
	"example.com/gearwars/internal/rewards"
	"example.com/gearwars/internal/tournament"
	"example.com/gearwars/internal/wager"
)

// resultSink settles staked matches from end-of-game reports and hands out
// activity rewards. Practice games (no gameId) only earn rewards.
type resultSink struct {
	wagers  *wager.Service
	rewards *rewards.Service
	log     *slog.Logger
}

func (s *resultSink) HandleGameResult(ctx context.Context, userID string, res arena.GameResult) error {
	if res.GameID == "" {
		if res.Winner == "player" {
			s.rewards.Award(userID, rewards.KindWin)
		} else {
			s.rewards.Award(userID, rewards.KindParticipation)
		}
		return nil
	}

	st, err := s.wagers.SettleMatch(ctx, res.GameID, res.WinnerID)
	if err != nil {
		return err
	}
	s.rewards.Award(st.WinnerID, rewards.KindWin)
	s.log.Info("match settled",
		"match", res.GameID, "winner", st.WinnerID, "payout", st.Payout, "fee", st.HouseFee)
	return nil
}

// tournamentSink relays bracket events to live sessions and accrues the
// champion's token reward alongside the coin prize.
type tournamentSink struct {
	tournament.Notifier
	rewards *rewards.Service
}

func (s *tournamentSink) TournamentCompleted(t tournament.Tournament, prizes []tournament.Prize) {
	s.rewards.Award(t.WinnerID, rewards.KindTournamentWin)
	s.Notifier.TournamentCompleted(t, prizes)
}
