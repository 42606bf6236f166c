package arena

import "encoding/json"

// Envelope WS framing: {"type":"...","payload":{...}}
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// inbound payloads

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type GameStatePayload struct {
	State json.RawMessage `json:"state"`
}

type PlayerInputPayload struct {
	Input json.RawMessage `json:"input"`
}

type ChatPayload struct {
	Message string `json:"message"`
}

type CreateTournamentPayload struct {
	EntryFee          int64   `json:"entryFee"`
	MaxPlayers        int     `json:"maxPlayers"`
	PrizeDistribution []int64 `json:"prizeDistribution"`
	RoundSeconds      int     `json:"roundSeconds"`
}

type JoinTournamentPayload struct {
	TournamentID string `json:"tournamentId"`
}

type TournamentInfoPayload struct {
	TournamentID string `json:"tournamentId"`
}

type ReportMatchResultPayload struct {
	TournamentID string          `json:"tournamentId"`
	MatchID      string          `json:"matchId"`
	WinnerID     string          `json:"winnerId"`
	GameData     json.RawMessage `json:"gameData,omitempty"`
}

// GameResult is what the game session reports when a battle ends. A gameId
// binds it to a staked match; without one it is an unstaked practice result.
type GameResult struct {
	GameID    string `json:"gameId,omitempty"`
	WinnerID  string `json:"winnerId,omitempty"`
	Winner    string `json:"winner,omitempty"` // "player" | "ai"
	WinStreak int    `json:"winStreak,omitempty"`
	GameType  string `json:"gameType,omitempty"`
}

// outbound payloads

type ConnectedPayload struct {
	PlayerID  string `json:"playerId"`
	Timestamp int64  `json:"timestamp"`
}

type RoomCreatedPayload struct {
	RoomID string `json:"roomId"`
	IsHost bool   `json:"isHost"`
}

// RoomInfo is the public view of a room sent with membership events.
type RoomInfo struct {
	ID         string   `json:"id"`
	Players    []string `json:"players"`
	MaxPlayers int      `json:"maxPlayers"`
	Host       string   `json:"host"`
	GameState  string   `json:"gameState"`
	CreatedAt  int64    `json:"createdAt"`
}

type PlayerJoinedPayload struct {
	PlayerID  string   `json:"playerId"`
	Room      RoomInfo `json:"room"`
	Timestamp int64    `json:"timestamp"`
}

type GameStartPayload struct {
	Players   []string `json:"players"`
	RoomID    string   `json:"roomId"`
	Timestamp int64    `json:"timestamp"`
}

type GameUpdatePayload struct {
	PlayerID  string          `json:"playerId"`
	State     json.RawMessage `json:"state,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type PlayerLeftPayload struct {
	PlayerID  string   `json:"playerId"`
	Room      RoomInfo `json:"room"`
	Timestamp int64    `json:"timestamp"`
}

type NewHostPayload struct {
	HostID    string `json:"hostId"`
	Timestamp int64  `json:"timestamp"`
}

type GameEndedPayload struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

type ChatBroadcastPayload struct {
	PlayerID  string `json:"playerId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
