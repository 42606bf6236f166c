package tournament

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("tournament not found")
	ErrNotOpen             = errors.New("tournament is not open for registration")
	ErrNotActive           = errors.New("tournament is not active")
	ErrFull                = errors.New("tournament is full")
	ErrAlreadyRegistered   = errors.New("already registered")
	ErrNotEnoughPlayers    = errors.New("need at least 2 players")
	ErrMatchNotFound       = errors.New("bracket match not found")
	ErrMatchNotReady       = errors.New("bracket match is not ready")
	ErrAlreadyCompleted    = errors.New("bracket match already completed")
	ErrInvalidWinner       = errors.New("winner is not a match participant")
	ErrInvalidConfig       = errors.New("invalid tournament config")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

type Status string

const (
	StatusRegistration Status = "registration"
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
)

type MatchStatus string

const (
	MatchScheduled MatchStatus = "scheduled"
	MatchReady     MatchStatus = "ready"
	MatchCompleted MatchStatus = "completed"
)

// Config is product configuration for a single tournament.
type Config struct {
	EntryFee int64 `json:"entryFee"`
	// MaxPlayers closes registration automatically when reached.
	MaxPlayers int `json:"maxPlayers"`
	// PrizeDistribution holds percentages for places 1..N, summing to <=100.
	// Only places 1 and 2 are payable from bracket data; see DESIGN.md.
	PrizeDistribution []int64       `json:"prizeDistribution"`
	RoundDuration     time.Duration `json:"roundDuration"`
}

func (c Config) validate() error {
	if c.EntryFee < 0 || c.MaxPlayers < 2 {
		return ErrInvalidConfig
	}
	var sum int64
	for _, p := range c.PrizeDistribution {
		if p < 0 {
			return ErrInvalidConfig
		}
		sum += p
	}
	if sum > 100 {
		return ErrInvalidConfig
	}
	return nil
}

// BracketMatch is one pairing in the bracket. Slots may be empty until an
// earlier match resolves or a bye pre-fills them.
type BracketMatch struct {
	ID          string      `json:"id"`
	Player1     string      `json:"player1,omitempty"`
	Player2     string      `json:"player2,omitempty"`
	Winner      string      `json:"winner,omitempty"`
	Loser       string      `json:"loser,omitempty"`
	Status      MatchStatus `json:"status"`
	CompletedAt time.Time   `json:"completedAt,omitempty"`
	// GameData is the opaque payload the game session reported with the result.
	GameData json.RawMessage `json:"gameData,omitempty"`
}

type Round struct {
	Number   int             `json:"number"`
	Matches  []*BracketMatch `json:"matches"`
	StartsAt time.Time       `json:"startsAt"`
}

type Tournament struct {
	ID        string `json:"id"`
	CreatorID string `json:"creatorId"`
	Config    Config `json:"config"`
	// Players in registration order; shuffled copy seeds the bracket.
	Players      []string  `json:"players"`
	Status       Status    `json:"status"`
	Rounds       []Round   `json:"rounds"`
	CurrentRound int       `json:"currentRound"`
	PrizePool    int64     `json:"prizePool"`
	WinnerID     string    `json:"winnerId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Prize is one credited payout on completion.
type Prize struct {
	Place  int    `json:"place"`
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
}

// Notifier receives bracket events. Delivery is best-effort at-most-once; a
// durable implementation can be dropped in behind this interface.
type Notifier interface {
	TournamentStarted(t Tournament)
	RoundStarted(t Tournament, round Round)
	MatchReported(t Tournament, m BracketMatch)
	TournamentCompleted(t Tournament, prizes []Prize)
	TournamentCancelled(t Tournament, reason string)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) TournamentStarted(Tournament)            {}
func (NopNotifier) RoundStarted(Tournament, Round)          {}
func (NopNotifier) MatchReported(Tournament, BracketMatch)  {}
func (NopNotifier) TournamentCompleted(Tournament, []Prize) {}
func (NopNotifier) TournamentCancelled(Tournament, string)  {}
