package arena

import (
	"example.com/gearwars/internal/tournament"
)

// TournamentNotifier pushes bracket events to connected participants. Players
// without a live session miss the event; the bot gateway covers them.
type TournamentNotifier struct {
	hub *Hub
}

func NewTournamentNotifier(h *Hub) *TournamentNotifier {
	return &TournamentNotifier{hub: h}
}

func (n *TournamentNotifier) fanout(players []string, env Envelope) {
	for _, p := range players {
		n.hub.SendToUser(p, env)
	}
}

func (n *TournamentNotifier) TournamentStarted(t tournament.Tournament) {
	n.fanout(t.Players, Envelope{Type: "tournament_started", Payload: mustJSON(t)})
}

func (n *TournamentNotifier) RoundStarted(t tournament.Tournament, round tournament.Round) {
	n.fanout(t.Players, Envelope{Type: "round_start", Payload: mustJSON(struct {
		TournamentID string           `json:"tournamentId"`
		Round        tournament.Round `json:"round"`
	}{t.ID, round})})
}

func (n *TournamentNotifier) MatchReported(t tournament.Tournament, m tournament.BracketMatch) {
	n.fanout([]string{m.Player1, m.Player2}, Envelope{Type: "match_result", Payload: mustJSON(struct {
		TournamentID string                  `json:"tournamentId"`
		Match        tournament.BracketMatch `json:"match"`
	}{t.ID, m})})
}

func (n *TournamentNotifier) TournamentCompleted(t tournament.Tournament, prizes []tournament.Prize) {
	n.fanout(t.Players, Envelope{Type: "tournament_completed", Payload: mustJSON(struct {
		Tournament tournament.Tournament `json:"tournament"`
		Prizes     []tournament.Prize    `json:"prizes"`
	}{t, prizes})})
}

func (n *TournamentNotifier) TournamentCancelled(t tournament.Tournament, reason string) {
	n.fanout(t.Players, Envelope{Type: "tournament_cancelled", Payload: mustJSON(struct {
		TournamentID string `json:"tournamentId"`
		Reason       string `json:"reason"`
	}{t.ID, reason})})
}
