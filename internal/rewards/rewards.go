// Package rewards accrues promotional token rewards for game activity. The
// on-chain payout is out of scope here; balances accumulate locally and an
// exporter can drain them later.
package rewards

import (
	"sort"
	"sync"
)

type Kind string

const (
	KindWin           Kind = "win"
	KindBet           Kind = "bet"
	KindTournamentWin Kind = "tournament_win"
	KindReferral      Kind = "referral"
	KindParticipation Kind = "participation"
)

// Micro is one millionth of a token. All balances are integers in micro.
const Micro int64 = 1_000_000

// Rates maps an activity to its reward in micro-tokens.
type Rates map[Kind]int64

// DefaultRates mirror the original promo campaign.
func DefaultRates() Rates {
	return Rates{
		KindWin:           Micro / 10,  // 0.1
		KindBet:           Micro / 20,  // 0.05
		KindTournamentWin: Micro,       // 1.0
		KindReferral:      Micro / 5,   // 0.2
		KindParticipation: Micro / 100, // 0.01
	}
}

type Service struct {
	mu       sync.Mutex
	rates    Rates
	balances map[string]int64
	// referrals maps referee -> referrer so each new player pays out once
	referrals map[string]string
}

func NewService(rates Rates) *Service {
	if rates == nil {
		rates = DefaultRates()
	}
	return &Service{
		rates:     rates,
		balances:  make(map[string]int64),
		referrals: make(map[string]string),
	}
}

// Award credits the configured amount for the activity and returns it.
// Unknown kinds award nothing.
func (s *Service) Award(userID string, kind Kind) int64 {
	amount := s.rates[kind]
	if amount <= 0 || userID == "" {
		return 0
	}
	s.mu.Lock()
	s.balances[userID] += amount
	s.mu.Unlock()
	return amount
}

// AwardReferral credits the referrer the first time refereeID shows up.
// Self-referrals and repeat arrivals of the same referee award nothing.
func (s *Service) AwardReferral(referrerID, refereeID string) int64 {
	if referrerID == "" || refereeID == "" || referrerID == refereeID {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.referrals[refereeID]; seen {
		return 0
	}
	s.referrals[refereeID] = referrerID
	amount := s.rates[KindReferral]
	s.balances[referrerID] += amount
	return amount
}

func (s *Service) Balance(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

type Entry struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
}

// Leaderboard returns the top n earners, richest first. Ties break by user id
// so the order is stable.
func (s *Service) Leaderboard(n int) []Entry {
	s.mu.Lock()
	entries := make([]Entry, 0, len(s.balances))
	for id, amt := range s.balances {
		entries = append(entries, Entry{UserID: id, Amount: amt})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Amount != entries[j].Amount {
			return entries[i].Amount > entries[j].Amount
		}
		return entries[i].UserID < entries[j].UserID
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func (s *Service) Dump() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out
}

func (s *Service) Restore(balances map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = make(map[string]int64, len(balances))
	for k, v := range balances {
		s.balances[k] = v
	}
}

// DumpReferrals copies the referee -> referrer map out for the snapshot
// writer, so a restart cannot pay the same referral twice.
func (s *Service) DumpReferrals() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.referrals))
	for k, v := range s.referrals {
		out[k] = v
	}
	return out
}

func (s *Service) RestoreReferrals(referrals map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referrals = make(map[string]string, len(referrals))
	for k, v := range referrals {
		s.referrals[k] = v
	}
}
