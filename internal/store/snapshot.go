package store

import (
	"context"
	"time"

	"example.com/gearwars/internal/tournament"
	"example.com/gearwars/internal/wager"
)

// Snapshot is the full persisted state of the service: balances, the betting
// book, and tournament brackets. One JSON document so a restore is all or
// nothing.
type Snapshot struct {
	Balances    map[string]int64        `json:"balances"`
	Bets        []wager.Bet             `json:"bets"`
	Matches     []wager.Match           `json:"matches"`
	Tournaments []tournament.Tournament `json:"tournaments"`
	Rewards     map[string]int64        `json:"rewards,omitempty"`
	Referrals   map[string]string       `json:"referrals,omitempty"`
	SavedAt     time.Time               `json:"savedAt"`
}

// SnapshotStore — абстракция "положить/достать snapshot".
// Файл по умолчанию, Redis — когда он сконфигурирован.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, bool, error)
}
