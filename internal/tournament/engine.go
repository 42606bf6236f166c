package tournament

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	mrand "math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/gearwars/internal/ledger"
)

// pendingCredit is a prize or refund owed after its tournament already
// reached a terminal status.
type pendingCredit struct {
	UserID string
	Amount int64
}

// Engine runs single-elimination tournaments to completion. All tournament
// state sits behind one mutex; the ledger is the only shared resource.
type Engine struct {
	mu          sync.Mutex
	tournaments map[string]*Tournament
	ledger      ledger.Ledger
	notifier    Notifier
	log         *slog.Logger
	pending     []pendingCredit

	onPersist func()
	now       func() time.Time
}

func NewEngine(l ledger.Ledger, n Notifier, log *slog.Logger) *Engine {
	if n == nil {
		n = NopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		tournaments: make(map[string]*Tournament),
		ledger:      l,
		notifier:    n,
		log:         log,
		now:         time.Now,
	}
}

// SetPersistHook installs a callback fired after every state change.
func (e *Engine) SetPersistHook(fn func()) {
	e.mu.Lock()
	e.onPersist = fn
	e.mu.Unlock()
}

func (e *Engine) persistLocked() {
	if e.onPersist != nil {
		e.onPersist()
	}
}

// creditLocked pays a prize or refund, queueing it for retry when the ledger
// fails. The tournament status has already flipped by the time this runs, so
// the money must land eventually no matter what the ledger does now.
func (e *Engine) creditLocked(ctx context.Context, userID string, amount int64) {
	if err := e.ledger.Credit(ctx, userID, amount); err != nil {
		e.log.Error("credit failed, queued for retry", "user", userID, "amount", amount, "err", err)
		e.pending = append(e.pending, pendingCredit{userID, amount})
	}
}

// FlushPendingCredits retries credits that failed against the ledger and
// reports how many landed. The app runs this on the sweep ticker.
func (e *Engine) FlushPendingCredits(ctx context.Context) int {
	e.mu.Lock()
	queue := e.pending
	e.pending = nil
	e.mu.Unlock()

	paid := 0
	for _, p := range queue {
		if err := e.ledger.Credit(ctx, p.UserID, p.Amount); err != nil {
			e.log.Error("credit retry failed", "user", p.UserID, "amount", p.Amount, "err", err)
			e.mu.Lock()
			e.pending = append(e.pending, p)
			e.mu.Unlock()
			continue
		}
		paid++
	}
	return paid
}

// Create opens a tournament in registration with the creator as first player.
// The creator pays the entry fee up front.
func (e *Engine) Create(ctx context.Context, creatorID string, cfg Config) (Tournament, error) {
	if err := cfg.validate(); err != nil {
		return Tournament{}, err
	}
	if cfg.EntryFee > 0 {
		if err := e.ledger.Debit(ctx, creatorID, cfg.EntryFee); err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				return Tournament{}, ErrInsufficientBalance
			}
			return Tournament{}, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t := &Tournament{
		ID:        newCode(8),
		CreatorID: creatorID,
		Config:    cfg,
		Players:   []string{creatorID},
		Status:    StatusRegistration,
		PrizePool: cfg.EntryFee,
		CreatedAt: e.now(),
	}
	e.tournaments[t.ID] = t
	e.persistLocked()
	return *t, nil
}

// Register adds a player. Registration closes automatically when the roster
// reaches max players, which also starts the tournament.
func (e *Engine) Register(ctx context.Context, tournamentID, userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tournaments[tournamentID]
	if !ok {
		return ErrNotFound
	}
	if t.Status != StatusRegistration {
		return ErrNotOpen
	}
	if len(t.Players) >= t.Config.MaxPlayers {
		return ErrFull
	}
	for _, p := range t.Players {
		if p == userID {
			return ErrAlreadyRegistered
		}
	}
	if t.Config.EntryFee > 0 {
		if err := e.ledger.Debit(ctx, userID, t.Config.EntryFee); err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				return ErrInsufficientBalance
			}
			return err
		}
	}

	t.Players = append(t.Players, userID)
	t.PrizePool += t.Config.EntryFee

	if len(t.Players) == t.Config.MaxPlayers {
		e.startLocked(t)
	}
	e.persistLocked()
	return nil
}

// Start closes registration and generates the bracket. Pairing shuffles the
// roster uniformly at random, so brackets are non-deterministic by design.
func (e *Engine) Start(tournamentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tournaments[tournamentID]
	if !ok {
		return ErrNotFound
	}
	if t.Status != StatusRegistration {
		return ErrNotOpen
	}
	if len(t.Players) < 2 {
		return ErrNotEnoughPlayers
	}
	e.startLocked(t)
	e.persistLocked()
	return nil
}

func (e *Engine) startLocked(t *Tournament) {
	seeds := append([]string(nil), t.Players...)
	mrand.Shuffle(len(seeds), func(i, j int) {
		seeds[i], seeds[j] = seeds[j], seeds[i]
	})

	start := e.now()
	n := len(seeds)
	for r := 0; n > 1; r++ {
		round := Round{
			Number:   r,
			StartsAt: start.Add(time.Duration(r) * t.Config.RoundDuration),
		}
		for i := 0; i < n/2; i++ {
			round.Matches = append(round.Matches, &BracketMatch{
				ID:     uuid.NewString(),
				Status: MatchScheduled,
			})
		}
		t.Rounds = append(t.Rounds, round)
		n = n/2 + n%2
	}

	// seed round 0; an odd player out is a bye and lands in the next round
	for i, p := range seeds {
		e.placeLocked(t, 0, i, p)
	}

	t.Status = StatusActive
	t.CurrentRound = 0
	e.notifier.TournamentStarted(*t)
	e.notifier.RoundStarted(*t, t.Rounds[0])
}

// placeLocked puts a player into position pos of round r. Positions beyond the
// round's match slots are byes: the player auto-advances to the front of the
// next round without playing.
func (e *Engine) placeLocked(t *Tournament, r, pos int, player string) {
	if r >= len(t.Rounds) {
		return
	}
	round := &t.Rounds[r]
	if pos >= 2*len(round.Matches) {
		e.placeLocked(t, r+1, 0, player)
		return
	}
	m := round.Matches[pos/2]
	if m.Player1 == "" {
		m.Player1 = player
	} else {
		m.Player2 = player
	}
	if m.Player1 != "" && m.Player2 != "" {
		m.Status = MatchReady
	}
}

// byeAt reports whether round r hands out a bye, derived from the roster size.
func byeAt(t *Tournament, r int) int {
	n := len(t.Players)
	for i := 0; i < r; i++ {
		n = n/2 + n%2
	}
	return n % 2
}

// ReportResult records a bracket match outcome, propagates the winner and
// advances rounds. The final match completes the tournament and pays prizes.
func (e *Engine) ReportResult(ctx context.Context, tournamentID, matchID, winnerID string, gameData json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tournaments[tournamentID]
	if !ok {
		return ErrNotFound
	}
	if t.Status != StatusActive {
		return ErrNotActive
	}

	roundIdx, m := findMatchLocked(t, matchID)
	if m == nil {
		return ErrMatchNotFound
	}
	if m.Status == MatchCompleted {
		return ErrAlreadyCompleted
	}
	// a scheduled match still waits for a feeder result; a bye holder cannot
	// report a walkover against an undecided opponent
	if m.Status != MatchReady {
		return ErrMatchNotReady
	}
	if winnerID == "" || (winnerID != m.Player1 && winnerID != m.Player2) {
		return ErrInvalidWinner
	}

	m.Status = MatchCompleted
	m.Winner = winnerID
	m.Loser = m.Player1
	if winnerID == m.Player1 {
		m.Loser = m.Player2
	}
	m.CompletedAt = e.now()
	m.GameData = gameData
	e.notifier.MatchReported(*t, *m)

	if roundIdx == len(t.Rounds)-1 {
		e.completeLocked(ctx, t, m)
		e.persistLocked()
		return nil
	}

	// winner of match j goes after the round's bye in the next round
	j := matchIndexLocked(t, roundIdx, m)
	e.placeLocked(t, roundIdx+1, j+byeAt(t, roundIdx), winnerID)

	for t.CurrentRound < len(t.Rounds)-1 && roundDoneLocked(t, t.CurrentRound) {
		t.CurrentRound++
		e.notifier.RoundStarted(*t, t.Rounds[t.CurrentRound])
	}
	e.persistLocked()
	return nil
}

func findMatchLocked(t *Tournament, matchID string) (int, *BracketMatch) {
	for r := range t.Rounds {
		for _, m := range t.Rounds[r].Matches {
			if m.ID == matchID {
				return r, m
			}
		}
	}
	return 0, nil
}

func matchIndexLocked(t *Tournament, roundIdx int, m *BracketMatch) int {
	for j, mm := range t.Rounds[roundIdx].Matches {
		if mm == m {
			return j
		}
	}
	return 0
}

func roundDoneLocked(t *Tournament, r int) bool {
	for _, m := range t.Rounds[r].Matches {
		if m.Status != MatchCompleted {
			return false
		}
	}
	return true
}

// completeLocked finishes the tournament and credits prizes. Place 1 is the
// final winner, place 2 the final loser; deeper places are not derivable from
// the bracket and any further distribution entries stay in the pool.
func (e *Engine) completeLocked(ctx context.Context, t *Tournament, final *BracketMatch) {
	t.Status = StatusCompleted
	t.WinnerID = final.Winner

	placed := []string{final.Winner, final.Loser}
	var prizes []Prize
	for i, userID := range placed {
		if i >= len(t.Config.PrizeDistribution) || userID == "" {
			break
		}
		amount := t.PrizePool * t.Config.PrizeDistribution[i] / 100
		if amount <= 0 {
			continue
		}
		e.creditLocked(ctx, userID, amount)
		prizes = append(prizes, Prize{Place: i + 1, UserID: userID, Amount: amount})
	}
	e.notifier.TournamentCompleted(*t, prizes)
}

// Cancel aborts a non-terminal tournament and refunds every paid entry fee.
func (e *Engine) Cancel(ctx context.Context, tournamentID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tournaments[tournamentID]
	if !ok {
		return ErrNotFound
	}
	if t.Status == StatusCompleted || t.Status == StatusCancelled {
		return ErrNotActive
	}
	t.Status = StatusCancelled

	if t.Config.EntryFee > 0 {
		for _, p := range t.Players {
			e.creditLocked(ctx, p, t.Config.EntryFee)
		}
	}
	e.notifier.TournamentCancelled(*t, reason)
	e.persistLocked()
	return nil
}

// Get returns a copy of one tournament.
func (e *Engine) Get(tournamentID string) (Tournament, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tournaments[tournamentID]
	if !ok {
		return Tournament{}, false
	}
	return cloneLocked(t), true
}

// List returns open and active tournaments, newest first.
func (e *Engine) List() []Tournament {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Tournament
	for _, t := range e.tournaments {
		if t.Status == StatusRegistration || t.Status == StatusActive {
			out = append(out, cloneLocked(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func cloneLocked(t *Tournament) Tournament {
	c := *t
	c.Players = append([]string(nil), t.Players...)
	c.Rounds = make([]Round, len(t.Rounds))
	for i, r := range t.Rounds {
		rc := r
		rc.Matches = make([]*BracketMatch, len(r.Matches))
		for j, m := range r.Matches {
			mc := *m
			rc.Matches[j] = &mc
		}
		c.Rounds[i] = rc
	}
	return c
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func newCode(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}
