package wager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/gearwars/internal/ledger"
)

func newTestService(t *testing.T) (*Service, *ledger.MemoryLedger) {
	t.Helper()
	l := ledger.NewMemoryLedger()
	s := NewService(Config{RakePercent: 5, BetTTL: 30 * time.Minute}, l, nil)
	ctx := context.Background()
	require.NoError(t, l.EnsureUser(ctx, "alice"))
	require.NoError(t, l.EnsureUser(ctx, "bob"))
	return s, l
}

func balance(t *testing.T, l *ledger.MemoryLedger, user string) int64 {
	t.Helper()
	b, err := l.Balance(context.Background(), user)
	require.NoError(t, err)
	return b
}

func TestService_Scenarios(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		run  func(t *testing.T)
	}{
		{
			name: "create debits owner, cancel refunds exactly",
			run: func(t *testing.T) {
				s, l := newTestService(t)

				b, err := s.CreateBet(ctx, "alice", 50)
				require.NoError(t, err)
				assert.Equal(t, BetOpen, b.Status)
				assert.Equal(t, int64(ledger.StartingBalance-50), balance(t, l, "alice"))

				require.NoError(t, s.CancelBet(ctx, b.ID, "alice"))
				assert.Equal(t, int64(ledger.StartingBalance), balance(t, l, "alice"))
			},
		},
		{
			name: "create fails on insufficient balance",
			run: func(t *testing.T) {
				s, l := newTestService(t)
				_, err := s.CreateBet(ctx, "alice", ledger.StartingBalance+1)
				require.ErrorIs(t, err, ErrInsufficientBalance)
				assert.Equal(t, int64(ledger.StartingBalance), balance(t, l, "alice"))
			},
		},
		{
			name: "cancel by non-owner fails",
			run: func(t *testing.T) {
				s, _ := newTestService(t)
				b, err := s.CreateBet(ctx, "alice", 50)
				require.NoError(t, err)
				require.ErrorIs(t, s.CancelBet(ctx, b.ID, "bob"), ErrNotOwner)
			},
		},
		{
			name: "owner cannot match own bet and no balance changes",
			run: func(t *testing.T) {
				s, l := newTestService(t)
				b, err := s.CreateBet(ctx, "alice", 50)
				require.NoError(t, err)

				_, err = s.MatchBet(ctx, b.ID, "alice")
				require.ErrorIs(t, err, ErrSelfMatch)
				assert.Equal(t, int64(ledger.StartingBalance-50), balance(t, l, "alice"))
			},
		},
		{
			name: "match creates active match and debits joiner",
			run: func(t *testing.T) {
				s, l := newTestService(t)
				b, err := s.CreateBet(ctx, "alice", 50)
				require.NoError(t, err)

				m, err := s.MatchBet(ctx, b.ID, "bob")
				require.NoError(t, err)
				assert.Equal(t, "alice", m.PlayerA)
				assert.Equal(t, "bob", m.PlayerB)
				assert.Equal(t, int64(50), m.Stake)
				assert.Equal(t, MatchActive, m.Status)
				assert.Equal(t, int64(ledger.StartingBalance-50), balance(t, l, "bob"))

				got, ok := s.Bet(b.ID)
				require.True(t, ok)
				assert.Equal(t, BetMatched, got.Status)
			},
		},
		{
			name: "matched bet cannot be matched again or cancelled",
			run: func(t *testing.T) {
				s, _ := newTestService(t)
				require.NoError(t, s.ledger.EnsureUser(ctx, "carol"))
				b, _ := s.CreateBet(ctx, "alice", 50)
				_, err := s.MatchBet(ctx, b.ID, "bob")
				require.NoError(t, err)

				_, err = s.MatchBet(ctx, b.ID, "carol")
				require.ErrorIs(t, err, ErrAlreadyMatched)
				require.ErrorIs(t, s.CancelBet(ctx, b.ID, "alice"), ErrAlreadyMatched)
			},
		},
		{
			name: "settle pays floor(2*stake*0.95) and is idempotent",
			run: func(t *testing.T) {
				s, l := newTestService(t)
				b, _ := s.CreateBet(ctx, "alice", 50)
				m, err := s.MatchBet(ctx, b.ID, "bob")
				require.NoError(t, err)

				res, err := s.SettleMatch(ctx, m.ID, "bob")
				require.NoError(t, err)
				assert.Equal(t, int64(95), res.Payout)
				assert.Equal(t, int64(5), res.HouseFee)
				assert.Equal(t, "alice", res.LoserID)

				// bob paid 50, got 95 back
				assert.Equal(t, int64(ledger.StartingBalance-50+95), balance(t, l, "bob"))
				// alice's balance is untouched by settlement
				assert.Equal(t, int64(ledger.StartingBalance-50), balance(t, l, "alice"))

				_, err = s.SettleMatch(ctx, m.ID, "bob")
				require.ErrorIs(t, err, ErrAlreadyCompleted)
				assert.Equal(t, int64(ledger.StartingBalance-50+95), balance(t, l, "bob"))
			},
		},
		{
			name: "settle rejects a winner outside the match",
			run: func(t *testing.T) {
				s, _ := newTestService(t)
				b, _ := s.CreateBet(ctx, "alice", 50)
				m, err := s.MatchBet(ctx, b.ID, "bob")
				require.NoError(t, err)

				_, err = s.SettleMatch(ctx, m.ID, "mallory")
				require.ErrorIs(t, err, ErrInvalidWinner)
			},
		},
		{
			name: "expired bet cannot be matched and refunds once",
			run: func(t *testing.T) {
				s, l := newTestService(t)
				b, _ := s.CreateBet(ctx, "alice", 50)

				s.now = func() time.Time { return b.ExpiresAt.Add(time.Second) }

				_, err := s.MatchBet(ctx, b.ID, "bob")
				require.ErrorIs(t, err, ErrExpired)
				assert.Equal(t, int64(ledger.StartingBalance), balance(t, l, "alice"))

				// sweep after the lazy refund finds nothing
				assert.Equal(t, 0, s.SweepExpired(ctx))
				assert.Equal(t, int64(ledger.StartingBalance), balance(t, l, "alice"))
			},
		},
		{
			name: "periodic sweep refunds expired open bets",
			run: func(t *testing.T) {
				s, l := newTestService(t)
				b, _ := s.CreateBet(ctx, "alice", 70)

				s.now = func() time.Time { return b.ExpiresAt.Add(time.Minute) }

				assert.Equal(t, 1, s.SweepExpired(ctx))
				assert.Equal(t, int64(ledger.StartingBalance), balance(t, l, "alice"))

				got, ok := s.Bet(b.ID)
				require.True(t, ok)
				assert.Equal(t, BetCancelled, got.Status)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, tc.run)
	}
}

func TestPayout(t *testing.T) {
	cases := []struct {
		stake int64
		want  int64
	}{
		{stake: 100, want: 190},
		{stake: 10, want: 19},
		{stake: 1, want: 1}, // floor(2*0.95)=1
		{stake: 50, want: 95},
		{stake: 3, want: 5}, // floor(6*0.95)=5
	}
	for _, tc := range cases {
		got := Payout(2*tc.stake, 5)
		if got != tc.want {
			t.Fatalf("stake=%d payout=%d want %d", tc.stake, got, tc.want)
		}
	}
}

func TestService_DumpRestore(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	b, _ := s.CreateBet(ctx, "alice", 50)
	m, err := s.MatchBet(ctx, b.ID, "bob")
	require.NoError(t, err)

	bets, matches := s.Dump()

	s2, _ := newTestService(t)
	s2.Restore(bets, matches)

	got, ok := s2.Match(m.ID)
	require.True(t, ok)
	assert.Equal(t, m, got)

	// restored matched bet still refuses a second joiner
	_, err = s2.MatchBet(ctx, b.ID, "bob")
	require.ErrorIs(t, err, ErrAlreadyMatched)
}

// unreliableLedger fails a set number of credits before recovering, the way a
// briefly unavailable database would.
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

func TestCancelRefundSurvivesLedgerOutage(t *testing.T) {
	ctx := context.Background()
	ul := &unreliableLedger{MemoryLedger: ledger.NewMemoryLedger(), failCredits: 1}
	s := NewService(Config{RakePercent: 5, BetTTL: 30 * time.Minute}, ul, nil)
	require.NoError(t, ul.EnsureUser(ctx, "alice"))

	b, err := s.CreateBet(ctx, "alice", 100)
	require.NoError(t, err)
	require.NoError(t, s.CancelBet(ctx, b.ID, "alice"))

	// the refund credit failed, but the bet flipped exactly once
	got, _ := s.Bet(b.ID)
	assert.Equal(t, BetCancelled, got.Status)
	assert.Equal(t, int64(ledger.StartingBalance-100), balance(t, ul.MemoryLedger, "alice"))

	// next sweep pays the queued refund, and only once
	assert.Equal(t, 1, s.SweepExpired(ctx))
	assert.Equal(t, int64(ledger.StartingBalance), balance(t, ul.MemoryLedger, "alice"))
	assert.Equal(t, 0, s.SweepExpired(ctx))
	assert.Equal(t, int64(ledger.StartingBalance), balance(t, ul.MemoryLedger, "alice"))
}

func TestSettlePayoutSurvivesLedgerOutage(t *testing.T) {
	ctx := context.Background()
	ul := &unreliableLedger{MemoryLedger: ledger.NewMemoryLedger(), failCredits: 1}
	s := NewService(Config{RakePercent: 5, BetTTL: 30 * time.Minute}, ul, nil)
	require.NoError(t, ul.EnsureUser(ctx, "alice"))
	require.NoError(t, ul.EnsureUser(ctx, "bob"))

	b, err := s.CreateBet(ctx, "alice", 100)
	require.NoError(t, err)
	m, err := s.MatchBet(ctx, b.ID, "bob")
	require.NoError(t, err)

	res, err := s.SettleMatch(ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(190), res.Payout)
	assert.Equal(t, int64(ledger.StartingBalance-100), balance(t, ul.MemoryLedger, "bob"))

	assert.Equal(t, 1, s.SweepExpired(ctx))
	assert.Equal(t, int64(ledger.StartingBalance-100+190), balance(t, ul.MemoryLedger, "bob"))

	// settlement still happened exactly once
	_, err = s.SettleMatch(ctx, m.ID, "bob")
	require.ErrorIs(t, err, ErrAlreadyCompleted)
}
