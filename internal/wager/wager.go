package wager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/gearwars/internal/ledger"
)

type BetStatus string

const (
	BetOpen      BetStatus = "open"
	BetMatched   BetStatus = "matched"
	BetCancelled BetStatus = "cancelled"
	BetCompleted BetStatus = "completed"
)

type Bet struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Amount    int64     `json:"amount"`
	Status    BetStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	MatchedBy string    `json:"matchedBy,omitempty"`
	MatchID   string    `json:"matchId,omitempty"`
}

type MatchStatus string

const (
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
)

// Match is a stake-backed pairing created when a bet is matched. Both stakes
// are already held by the time the match exists.
type Match struct {
	ID       string      `json:"id"`
	BetID    string      `json:"betId"`
	PlayerA  string      `json:"playerA"`
	PlayerB  string      `json:"playerB"`
	Stake    int64       `json:"stake"`
	Status   MatchStatus `json:"status"`
	WinnerID string      `json:"winnerId,omitempty"`
}

// Settlement is the result of settling a match exactly once.
type Settlement struct {
	WinnerID string `json:"winnerId"`
	LoserID  string `json:"loserId"`
	Payout   int64  `json:"payout"`
	HouseFee int64  `json:"houseFee"`
}

type Config struct {
	// RakePercent is retained from the pot; payout = floor(pot*(100-rake)/100).
	RakePercent int64
	// BetTTL is how long an open bet stays matchable.
	BetTTL time.Duration
}

// refund is a credit owed to a user whose bet status already flipped.
type refund struct {
	UserID string
	Amount int64
}

// Service holds open wagers, matches them and settles payouts.
// All state lives behind one mutex; the ledger is the only external resource.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     *slog.Logger
	bets    map[string]*Bet
	matches map[string]*Match
	ledger  ledger.Ledger
	// pending holds credits that failed against the ledger; SweepExpired
	// retries them so a flipped status never strands the money
	pending []refund

	onPersist func()
	now       func() time.Time
}

func NewService(cfg Config, l ledger.Ledger, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		bets:    make(map[string]*Bet),
		matches: make(map[string]*Match),
		ledger:  l,
		now:     time.Now,
	}
}

// SetPersistHook installs a callback fired after every state change.
func (s *Service) SetPersistHook(fn func()) {
	s.mu.Lock()
	s.onPersist = fn
	s.mu.Unlock()
}

func (s *Service) persistLocked() {
	if s.onPersist != nil {
		s.onPersist()
	}
}

// credit pays a user, queueing the amount for retry when the ledger fails.
// Callers flip the bet/match status first, so the credit must happen exactly
// once even if the ledger is briefly unavailable.
func (s *Service) credit(ctx context.Context, userID string, amount int64) {
	if err := s.ledger.Credit(ctx, userID, amount); err != nil {
		s.log.Error("credit failed, queued for retry", "user", userID, "amount", amount, "err", err)
		s.mu.Lock()
		s.pending = append(s.pending, refund{userID, amount})
		s.mu.Unlock()
	}
}

// CreateBet debits the owner's stake and stores a new open bet.
func (s *Service) CreateBet(ctx context.Context, ownerID string, amount int64) (Bet, error) {
	if amount <= 0 {
		return Bet{}, ErrInvalidAmount
	}
	if err := s.ledger.Debit(ctx, ownerID, amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return Bet{}, ErrInsufficientBalance
		}
		return Bet{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := &Bet{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Amount:    amount,
		Status:    BetOpen,
		CreatedAt: s.now(),
		ExpiresAt: s.now().Add(s.cfg.BetTTL),
	}
	s.bets[b.ID] = b
	s.persistLocked()
	return *b, nil
}

// CancelBet refunds the stake and marks the bet cancelled. Only the owner may
// cancel, and only while the bet is still open.
func (s *Service) CancelBet(ctx context.Context, betID, requesterID string) error {
	s.mu.Lock()
	b, ok := s.bets[betID]
	if !ok {
		s.mu.Unlock()
		return ErrBetNotFound
	}
	if b.OwnerID != requesterID {
		s.mu.Unlock()
		return ErrNotOwner
	}
	if b.Status != BetOpen {
		s.mu.Unlock()
		return ErrAlreadyMatched
	}
	b.Status = BetCancelled
	amount, owner := b.Amount, b.OwnerID
	s.persistLocked()
	s.mu.Unlock()

	s.credit(ctx, owner, amount)
	return nil
}

// MatchBet pairs a joiner against an open bet: debits the joiner's stake,
// marks the bet matched and returns the new Match for the caller to wire into
// a room. The debit is rolled back if the bet is gone by the time we hold it.
func (s *Service) MatchBet(ctx context.Context, betID, joinerID string) (Match, error) {
	s.mu.Lock()
	b, ok := s.bets[betID]
	if !ok {
		s.mu.Unlock()
		return Match{}, ErrBetNotFound
	}
	if b.Status != BetOpen {
		s.mu.Unlock()
		return Match{}, ErrAlreadyMatched
	}
	if b.OwnerID == joinerID {
		s.mu.Unlock()
		return Match{}, ErrSelfMatch
	}
	if s.now().After(b.ExpiresAt) {
		// lazy sweep: refund on access, exactly once via the status flip
		b.Status = BetCancelled
		amount, owner := b.Amount, b.OwnerID
		s.persistLocked()
		s.mu.Unlock()
		s.credit(ctx, owner, amount)
		return Match{}, ErrExpired
	}
	amount := b.Amount
	s.mu.Unlock()

	// debit outside the lock, then re-check under it (debit-then-act ordering)
	if err := s.ledger.Debit(ctx, joinerID, amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return Match{}, ErrInsufficientBalance
		}
		return Match{}, err
	}

	s.mu.Lock()
	b, ok = s.bets[betID]
	if !ok || b.Status != BetOpen {
		s.mu.Unlock()
		s.credit(ctx, joinerID, amount) // rollback
		return Match{}, ErrAlreadyMatched
	}

	m := &Match{
		ID:      uuid.NewString(),
		BetID:   b.ID,
		PlayerA: b.OwnerID,
		PlayerB: joinerID,
		Stake:   b.Amount,
		Status:  MatchActive,
	}
	b.Status = BetMatched
	b.MatchedBy = joinerID
	b.MatchID = m.ID
	s.matches[m.ID] = m
	s.persistLocked()
	s.mu.Unlock()

	return *m, nil
}

// SettleMatch pays the winner once. A second call returns ErrAlreadyCompleted
// and credits nothing.
func (s *Service) SettleMatch(ctx context.Context, matchID, winnerID string) (Settlement, error) {
	s.mu.Lock()
	m, ok := s.matches[matchID]
	if !ok {
		s.mu.Unlock()
		return Settlement{}, ErrMatchNotFound
	}
	if m.Status == MatchCompleted {
		s.mu.Unlock()
		return Settlement{}, ErrAlreadyCompleted
	}
	if winnerID != m.PlayerA && winnerID != m.PlayerB {
		s.mu.Unlock()
		return Settlement{}, ErrInvalidWinner
	}

	m.Status = MatchCompleted
	m.WinnerID = winnerID
	if b, ok := s.bets[m.BetID]; ok {
		b.Status = BetCompleted
	}

	pot := 2 * m.Stake
	payout := Payout(pot, s.cfg.RakePercent)
	res := Settlement{
		WinnerID: winnerID,
		LoserID:  m.PlayerA,
		Payout:   payout,
		HouseFee: pot - payout,
	}
	if winnerID == m.PlayerA {
		res.LoserID = m.PlayerB
	}
	s.persistLocked()
	s.mu.Unlock()

	s.credit(ctx, winnerID, payout)
	return res, nil
}

// Payout truncates toward zero, so the house fee is always at least the
// nominal rake in integer terms.
func Payout(pot, rakePercent int64) int64 {
	return pot * (100 - rakePercent) / 100
}

// Bet returns a copy of the bet, if it exists.
func (s *Service) Bet(betID string) (Bet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[betID]
	if !ok {
		return Bet{}, false
	}
	return *b, true
}

// Match returns a copy of the match, if it exists.
func (s *Service) Match(matchID string) (Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return Match{}, false
	}
	return *m, true
}

// OpenBets lists open, unexpired bets for the lobby view.
func (s *Service) OpenBets() []Bet {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Bet
	for _, b := range s.bets {
		if b.Status == BetOpen && s.now().Before(b.ExpiresAt) {
			out = append(out, *b)
		}
	}
	return out
}

// SweepExpired refunds every expired open bet exactly once, retries credits
// that failed earlier, and returns how many credits were attempted. The app
// runs this on a ticker; MatchBet also sweeps lazily.
func (s *Service) SweepExpired(ctx context.Context) int {
	s.mu.Lock()
	var refunds []refund
	for _, b := range s.bets {
		if b.Status == BetOpen && s.now().After(b.ExpiresAt) {
			b.Status = BetCancelled
			refunds = append(refunds, refund{b.OwnerID, b.Amount})
		}
	}
	refunds = append(refunds, s.pending...)
	s.pending = nil
	if len(refunds) > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()

	for _, r := range refunds {
		s.credit(ctx, r.UserID, r.Amount)
	}
	return len(refunds)
}
