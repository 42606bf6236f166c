package tournament

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/gearwars/internal/ledger"
)

type recordingNotifier struct {
	started   int
	rounds    []int
	completed []Prize
	cancelled string
}

func (n *recordingNotifier) TournamentStarted(Tournament) { n.started++ }
func (n *recordingNotifier) RoundStarted(_ Tournament, r Round) {
	n.rounds = append(n.rounds, r.Number)
}
func (n *recordingNotifier) MatchReported(Tournament, BracketMatch) {}
func (n *recordingNotifier) TournamentCompleted(_ Tournament, prizes []Prize) {
	n.completed = prizes
}
func (n *recordingNotifier) TournamentCancelled(_ Tournament, reason string) {
	n.cancelled = reason
}

func newTestEngine(t *testing.T, players int) (*Engine, *ledger.MemoryLedger, *recordingNotifier, []string) {
	t.Helper()
	l := ledger.NewMemoryLedger()
	n := &recordingNotifier{}
	e := NewEngine(l, n, nil)

	ids := make([]string, players)
	for i := range ids {
		ids[i] = fmt.Sprintf("u%d", i+1)
		require.NoError(t, l.EnsureUser(context.Background(), ids[i]))
	}
	return e, l, n, ids
}

func defaultConfig(maxPlayers int) Config {
	return Config{
		EntryFee:          50,
		MaxPlayers:        maxPlayers,
		PrizeDistribution: []int64{70, 20},
		RoundDuration:     5 * time.Minute,
	}
}

func registerAll(t *testing.T, e *Engine, id string, players []string) {
	t.Helper()
	for _, p := range players[1:] {
		require.NoError(t, e.Register(context.Background(), id, p))
	}
}

// reportAll drives the bracket to completion, always picking Player1 of every
// ready match, and returns the champion.
func reportAll(t *testing.T, e *Engine, id string) string {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 64; i++ {
		tt, ok := e.Get(id)
		require.True(t, ok)
		if tt.Status == StatusCompleted {
			return tt.WinnerID
		}
		reported := false
		for _, r := range tt.Rounds {
			for _, m := range r.Matches {
				if m.Status == MatchReady {
					require.NoError(t, e.ReportResult(ctx, id, m.ID, m.Player1, nil))
					reported = true
				}
			}
		}
		require.True(t, reported, "no ready match but tournament not completed")
	}
	t.Fatal("bracket did not converge")
	return ""
}

func TestEngine_Registration(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		run  func(t *testing.T)
	}{
		{
			name: "create auto-registers creator and debits entry fee",
			run: func(t *testing.T) {
				e, l, _, ids := newTestEngine(t, 4)
				tour, err := e.Create(ctx, ids[0], defaultConfig(4))
				require.NoError(t, err)

				assert.Equal(t, StatusRegistration, tour.Status)
				assert.Equal(t, []string{ids[0]}, tour.Players)
				assert.Equal(t, int64(50), tour.PrizePool)
				assert.Len(t, tour.ID, 8)

				b, _ := l.Balance(ctx, ids[0])
				assert.Equal(t, int64(ledger.StartingBalance-50), b)
			},
		},
		{
			name: "duplicate registration fails",
			run: func(t *testing.T) {
				e, _, _, ids := newTestEngine(t, 4)
				tour, _ := e.Create(ctx, ids[0], defaultConfig(4))
				require.NoError(t, e.Register(ctx, tour.ID, ids[1]))
				require.ErrorIs(t, e.Register(ctx, tour.ID, ids[1]), ErrAlreadyRegistered)
			},
		},
		{
			name: "registration closes and starts at capacity",
			run: func(t *testing.T) {
				e, _, n, ids := newTestEngine(t, 4)
				tour, _ := e.Create(ctx, ids[0], defaultConfig(4))
				registerAll(t, e, tour.ID, ids)

				got, _ := e.Get(tour.ID)
				assert.Equal(t, StatusActive, got.Status)
				assert.Equal(t, int64(200), got.PrizePool)
				assert.Equal(t, 1, n.started)
				require.ErrorIs(t, e.Register(ctx, tour.ID, "late"), ErrNotOpen)
			},
		},
		{
			name: "register with insufficient balance fails without joining",
			run: func(t *testing.T) {
				e, l, _, ids := newTestEngine(t, 4)
				cfg := defaultConfig(4)
				cfg.EntryFee = ledger.StartingBalance + 1
				cfg.PrizeDistribution = nil

				// creator cannot even create
				_, err := e.Create(ctx, ids[0], cfg)
				require.ErrorIs(t, err, ErrInsufficientBalance)
				b, _ := l.Balance(ctx, ids[0])
				assert.Equal(t, int64(ledger.StartingBalance), b)
			},
		},
		{
			name: "start with a single registrant fails",
			run: func(t *testing.T) {
				e, _, _, ids := newTestEngine(t, 2)
				tour, _ := e.Create(ctx, ids[0], defaultConfig(8))
				require.ErrorIs(t, e.Start(tour.ID), ErrNotEnoughPlayers)
			},
		},
		{
			name: "invalid config rejected",
			run: func(t *testing.T) {
				e, _, _, ids := newTestEngine(t, 2)
				_, err := e.Create(ctx, ids[0], Config{EntryFee: 10, MaxPlayers: 1})
				require.ErrorIs(t, err, ErrInvalidConfig)

				_, err = e.Create(ctx, ids[0], Config{MaxPlayers: 4, PrizeDistribution: []int64{80, 30}})
				require.ErrorIs(t, err, ErrInvalidConfig)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, tc.run)
	}
}

func TestEngine_BracketShapes(t *testing.T) {
	ctx := context.Background()

	t.Run("8 players produce rounds of 4, 2, 1 matches", func(t *testing.T) {
		e, _, _, ids := newTestEngine(t, 8)
		tour, _ := e.Create(ctx, ids[0], defaultConfig(8))
		registerAll(t, e, tour.ID, ids)

		got, _ := e.Get(tour.ID)
		require.Len(t, got.Rounds, 3)
		assert.Len(t, got.Rounds[0].Matches, 4)
		assert.Len(t, got.Rounds[1].Matches, 2)
		assert.Len(t, got.Rounds[2].Matches, 1)

		for _, m := range got.Rounds[0].Matches {
			assert.Equal(t, MatchReady, m.Status)
			assert.NotEmpty(t, m.Player1)
			assert.NotEmpty(t, m.Player2)
		}
	})

	t.Run("5 players: 2 first-round matches and bye pre-filled in round 2", func(t *testing.T) {
		e, _, _, ids := newTestEngine(t, 5)
		tour, _ := e.Create(ctx, ids[0], defaultConfig(5))
		registerAll(t, e, tour.ID, ids)

		got, _ := e.Get(tour.ID)
		require.Len(t, got.Rounds, 3)
		require.Len(t, got.Rounds[0].Matches, 2)
		require.Len(t, got.Rounds[1].Matches, 1)

		seeded := map[string]bool{}
		for _, m := range got.Rounds[0].Matches {
			seeded[m.Player1] = true
			seeded[m.Player2] = true
		}
		var bye string
		for _, p := range got.Players {
			if !seeded[p] {
				bye = p
			}
		}
		require.NotEmpty(t, bye, "one player must sit out round 1")
		assert.Equal(t, bye, got.Rounds[1].Matches[0].Player1)
		assert.Equal(t, MatchScheduled, got.Rounds[1].Matches[0].Status)
	})
}

func TestEngine_ReportResult(t *testing.T) {
	ctx := context.Background()

	t.Run("winner must be a participant and settles once", func(t *testing.T) {
		e, _, _, ids := newTestEngine(t, 2)
		tour, _ := e.Create(ctx, ids[0], defaultConfig(2))
		registerAll(t, e, tour.ID, ids)

		got, _ := e.Get(tour.ID)
		m := got.Rounds[0].Matches[0]

		require.ErrorIs(t, e.ReportResult(ctx, tour.ID, m.ID, "stranger", nil), ErrInvalidWinner)
		require.ErrorIs(t, e.ReportResult(ctx, tour.ID, "nope", m.Player1, nil), ErrMatchNotFound)

		require.NoError(t, e.ReportResult(ctx, tour.ID, m.ID, m.Player1, nil))
		require.ErrorIs(t, e.ReportResult(ctx, tour.ID, m.ID, m.Player1, nil), ErrNotActive)
	})

	t.Run("bye holder cannot report before the match is ready", func(t *testing.T) {
		e, _, _, ids := newTestEngine(t, 5)
		tour, _ := e.Create(ctx, ids[0], defaultConfig(5))
		registerAll(t, e, tour.ID, ids)

		got, _ := e.Get(tour.ID)
		half := got.Rounds[1].Matches[0]
		require.Equal(t, MatchScheduled, half.Status)
		require.NotEmpty(t, half.Player1)
		require.Empty(t, half.Player2)

		// the bye sits alone in the half-filled match and must wait
		require.ErrorIs(t, e.ReportResult(ctx, tour.ID, half.ID, half.Player1, nil), ErrMatchNotReady)

		m0 := got.Rounds[0].Matches[0]
		require.NoError(t, e.ReportResult(ctx, tour.ID, m0.ID, m0.Player1, nil))

		got, _ = e.Get(tour.ID)
		half = got.Rounds[1].Matches[0]
		require.Equal(t, MatchReady, half.Status)
		require.NoError(t, e.ReportResult(ctx, tour.ID, half.ID, half.Player1, nil))
	})

	t.Run("winner propagates and rounds advance in order", func(t *testing.T) {
		e, _, n, ids := newTestEngine(t, 4)
		tour, _ := e.Create(ctx, ids[0], defaultConfig(4))
		registerAll(t, e, tour.ID, ids)

		got, _ := e.Get(tour.ID)
		m0, m1 := got.Rounds[0].Matches[0], got.Rounds[0].Matches[1]
		require.NoError(t, e.ReportResult(ctx, tour.ID, m0.ID, m0.Player2, nil))
		require.ErrorIs(t, e.ReportResult(ctx, tour.ID, m0.ID, m0.Player2, nil), ErrAlreadyCompleted)
		require.NoError(t, e.ReportResult(ctx, tour.ID, m1.ID, m1.Player1, nil))

		got, _ = e.Get(tour.ID)
		final := got.Rounds[1].Matches[0]
		assert.Equal(t, m0.Player2, final.Player1)
		assert.Equal(t, m1.Player1, final.Player2)
		assert.Equal(t, MatchReady, final.Status)
		assert.Equal(t, 1, got.CurrentRound)
		assert.Equal(t, []int{0, 1}, n.rounds)
	})

	t.Run("final match completes the tournament and pays prizes", func(t *testing.T) {
		e, l, n, ids := newTestEngine(t, 4)
		tour, _ := e.Create(ctx, ids[0], defaultConfig(4))
		registerAll(t, e, tour.ID, ids)

		winner := reportAll(t, e, tour.ID)
		got, _ := e.Get(tour.ID)
		require.Equal(t, StatusCompleted, got.Status)
		require.Equal(t, winner, got.WinnerID)

		// pool 200: 70% -> 140 to first, 20% -> 40 to second
		require.Len(t, n.completed, 2)
		assert.Equal(t, Prize{Place: 1, UserID: winner, Amount: 140}, n.completed[0])
		assert.Equal(t, int64(40), n.completed[1].Amount)

		b, _ := l.Balance(ctx, winner)
		assert.Equal(t, int64(ledger.StartingBalance-50+140), b)
	})
}

func TestEngine_Cancel(t *testing.T) {
	ctx := context.Background()
	e, l, n, ids := newTestEngine(t, 3)
	tour, _ := e.Create(ctx, ids[0], defaultConfig(8))
	require.NoError(t, e.Register(ctx, tour.ID, ids[1]))
	require.NoError(t, e.Register(ctx, tour.ID, ids[2]))

	require.NoError(t, e.Cancel(ctx, tour.ID, "host gave up"))
	assert.Equal(t, "host gave up", n.cancelled)

	for _, p := range ids {
		b, _ := l.Balance(ctx, p)
		assert.Equal(t, int64(ledger.StartingBalance), b, p)
	}

	got, _ := e.Get(tour.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	require.ErrorIs(t, e.Cancel(ctx, tour.ID, "again"), ErrNotActive)
}

func TestEngine_DumpRestore(t *testing.T) {
	ctx := context.Background()
	e, _, _, ids := newTestEngine(t, 4)
	tour, _ := e.Create(ctx, ids[0], defaultConfig(4))
	registerAll(t, e, tour.ID, ids)

	l2 := ledger.NewMemoryLedger()
	e2 := NewEngine(l2, nil, nil)
	e2.Restore(e.Dump())

	got, ok := e2.Get(tour.ID)
	require.True(t, ok)
	assert.Equal(t, StatusActive, got.Status)
	require.Len(t, got.Rounds, 2)

	// restored bracket still playable
	m := got.Rounds[0].Matches[0]
	require.NoError(t, e2.ReportResult(ctx, tour.ID, m.ID, m.Player1, nil))
}

// unreliableLedger fails a set number of credits before recovering.
type unreliableLedger struct {
	*ledger.MemoryLedger
	failCredits int
}

func (l *unreliableLedger) Credit(ctx context.Context, userID string, amount int64) error {
	if l.failCredits > 0 {
		l.failCredits--
		return errors.New("ledger unavailable")
	}
	return l.MemoryLedger.Credit(ctx, userID, amount)
}

func TestEngine_RefundsSurviveLedgerOutage(t *testing.T) {
	ctx := context.Background()
	ul := &unreliableLedger{MemoryLedger: ledger.NewMemoryLedger(), failCredits: 3}
	e := NewEngine(ul, nil, nil)

	ids := []string{"u1", "u2", "u3"}
	for _, id := range ids {
		require.NoError(t, ul.EnsureUser(ctx, id))
	}
	tour, err := e.Create(ctx, ids[0], defaultConfig(8))
	require.NoError(t, err)
	registerAll(t, e, tour.ID, ids)

	require.NoError(t, e.Cancel(ctx, tour.ID, "not enough players"))
	got, _ := e.Get(tour.ID)
	require.Equal(t, StatusCancelled, got.Status)

	// every refund credit failed; the fees are still owed
	for _, id := range ids {
		b, _ := ul.Balance(ctx, id)
		assert.Equal(t, int64(ledger.StartingBalance-50), b, id)
	}

	// the retry pass pays them out, and only once
	assert.Equal(t, 3, e.FlushPendingCredits(ctx))
	for _, id := range ids {
		b, _ := ul.Balance(ctx, id)
		assert.Equal(t, int64(ledger.StartingBalance), b, id)
	}
	assert.Equal(t, 0, e.FlushPendingCredits(ctx))
}
