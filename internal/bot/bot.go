// Package bot is the Telegram-facing gateway: commands for balances, bets and
// tournaments, plus the web-app bridge that launches the game client.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"example.com/gearwars/internal/auth"
	"example.com/gearwars/internal/ledger"
	"example.com/gearwars/internal/rewards"
	"example.com/gearwars/internal/tournament"
	"example.com/gearwars/internal/wager"
)

type Config struct {
	Token    string
	WebApp   string
	PollTime time.Duration
}

type Gateway struct {
	bot *tele.Bot
	cfg Config
	log *slog.Logger

	ledger   ledger.Ledger
	wagers   *wager.Service
	tourneys *tournament.Engine
	rewards  *rewards.Service
	tokens   *auth.HS256
}

func New(cfg Config, log *slog.Logger, l ledger.Ledger, w *wager.Service, t *tournament.Engine, r *rewards.Service, tokens *auth.HS256) (*Gateway, error) {
	if cfg.Token == "" {
		return nil, errors.New("bot token is required")
	}
	if cfg.PollTime == 0 {
		cfg.PollTime = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTime},
	})
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	g := &Gateway{
		bot:      tb,
		cfg:      cfg,
		log:      log,
		ledger:   l,
		wagers:   w,
		tourneys: t,
		rewards:  r,
		tokens:   tokens,
	}
	g.register()
	return g, nil
}

func (g *Gateway) register() {
	g.bot.Handle("/start", g.handleStart)
	g.bot.Handle("/balance", g.handleBalance)
	g.bot.Handle("/bet", g.handleBet)
	g.bot.Handle("/bets", g.handleBets)
	g.bot.Handle("/cancelbet", g.handleCancelBet)
	g.bot.Handle("/accept", g.handleAccept)
	g.bot.Handle("/tournaments", g.handleTournaments)
	g.bot.Handle("/newtournament", g.handleNewTournament)
	g.bot.Handle("/join", g.handleJoin)
	g.bot.Handle("/rewards", g.handleRewards)
	g.bot.Handle("/leaderboard", g.handleLeaderboard)
	g.bot.Handle(tele.OnWebApp, g.handleWebAppData)
}

// Run starts long polling until the context is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		g.bot.Stop()
	}()
	g.log.Info("telegram gateway started")
	g.bot.Start()
	return nil
}

func userID(c tele.Context) string {
	s := c.Sender()
	if s == nil {
		return ""
	}
	return strconv.FormatInt(s.ID, 10)
}

func (g *Gateway) handleStart(c tele.Context) error {
	uid := userID(c)
	if uid == "" {
		return nil
	}
	if err := g.ledger.EnsureUser(context.Background(), uid); err != nil {
		g.log.Error("ensure user", "err", err)
		return c.Reply("Something went wrong, try again later.")
	}

	// "/start <referrer id>" deep links credit the referrer, once per new player
	if ref := strings.TrimSpace(c.Message().Payload); ref != "" {
		if amount := g.rewards.AwardReferral(ref, uid); amount > 0 {
			g.log.Info("referral credited", "referrer", ref, "referee", uid)
		}
	}

	msg := fmt.Sprintf("Welcome to Gear Wars! You start with %d coins.\n\n"+
		"/bet <amount> — stake coins on a duel\n"+
		"/bets — open challenges\n"+
		"/accept <id> — take a challenge\n"+
		"/tournaments — what's running\n"+
		"/balance — your coins", ledger.StartingBalance)

	if g.cfg.WebApp != "" && g.tokens != nil {
		token, err := g.tokens.Sign(uid)
		if err == nil {
			return c.Reply(msg, &tele.ReplyMarkup{
				InlineKeyboard: [][]tele.InlineButton{{{
					Text:   "Play now",
					WebApp: &tele.WebApp{URL: g.cfg.WebApp + "?token=" + token},
				}}},
			})
		}
		g.log.Error("sign webapp token", "err", err)
	}
	return c.Reply(msg)
}

func (g *Gateway) handleBalance(c tele.Context) error {
	uid := userID(c)
	bal, err := g.ledger.Balance(context.Background(), uid)
	if err != nil {
		return c.Reply("Could not load your balance.")
	}
	reward := g.rewards.Balance(uid)
	return c.Reply(fmt.Sprintf("Coins: %d\nP3D rewards: %s", bal, formatMicro(reward)))
}

func (g *Gateway) handleBet(c tele.Context) error {
	uid := userID(c)
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("Usage: /bet <amount>")
	}
	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("Amount must be a number.")
	}

	b, err := g.wagers.CreateBet(context.Background(), uid, amount)
	if err != nil {
		return c.Reply(humanError(err))
	}
	g.rewards.Award(uid, rewards.KindBet)
	return c.Reply(fmt.Sprintf("Challenge %s is up for %d coins. It expires at %s.",
		b.ID, b.Amount, b.ExpiresAt.Format("15:04 MST")))
}

func (g *Gateway) handleBets(c tele.Context) error {
	open := g.wagers.OpenBets()
	if len(open) == 0 {
		return c.Reply("No open challenges. Start one with /bet <amount>.")
	}
	var sb strings.Builder
	sb.WriteString("Open challenges:\n")
	for _, b := range open {
		fmt.Fprintf(&sb, "%s — %d coins (by %s)\n", b.ID, b.Amount, b.OwnerID)
	}
	return c.Reply(sb.String())
}

func (g *Gateway) handleCancelBet(c tele.Context) error {
	uid := userID(c)
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("Usage: /cancelbet <id>")
	}
	if err := g.wagers.CancelBet(context.Background(), args[0], uid); err != nil {
		return c.Reply(humanError(err))
	}
	return c.Reply("Challenge cancelled, stake refunded.")
}

func (g *Gateway) handleAccept(c tele.Context) error {
	uid := userID(c)
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("Usage: /accept <id>")
	}
	m, err := g.wagers.MatchBet(context.Background(), args[0], uid)
	if err != nil {
		return c.Reply(humanError(err))
	}
	return c.Reply(fmt.Sprintf("Match on! %s vs %s for %d coins each. Game id: %s",
		m.PlayerA, m.PlayerB, m.Stake, m.ID))
}

func (g *Gateway) handleTournaments(c tele.Context) error {
	list := g.tourneys.List()
	if len(list) == 0 {
		return c.Reply("No tournaments right now. /newtournament <fee> <players> starts one.")
	}
	var sb strings.Builder
	sb.WriteString("Tournaments:\n")
	for _, t := range list {
		fmt.Fprintf(&sb, "%s — %s, %d/%d players, fee %d, pool %d\n",
			t.ID, t.Status, len(t.Players), t.Config.MaxPlayers, t.Config.EntryFee, t.PrizePool)
	}
	return c.Reply(sb.String())
}

func (g *Gateway) handleNewTournament(c tele.Context) error {
	uid := userID(c)
	args := c.Args()
	if len(args) != 2 {
		return c.Reply("Usage: /newtournament <entry fee> <max players>")
	}
	fee, err1 := strconv.ParseInt(args[0], 10, 64)
	maxPlayers, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return c.Reply("Fee and player count must be numbers.")
	}

	t, err := g.tourneys.Create(context.Background(), uid, tournament.Config{
		EntryFee:          fee,
		MaxPlayers:        maxPlayers,
		PrizeDistribution: []int64{70, 20},
	})
	if err != nil {
		return c.Reply(humanError(err))
	}
	return c.Reply(fmt.Sprintf("Tournament %s created. Entry fee %d, up to %d players. Others join with /join %s",
		t.ID, fee, maxPlayers, t.ID))
}

func (g *Gateway) handleJoin(c tele.Context) error {
	uid := userID(c)
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("Usage: /join <tournament id>")
	}
	if err := g.tourneys.Register(context.Background(), args[0], uid); err != nil {
		return c.Reply(humanError(err))
	}
	g.rewards.Award(uid, rewards.KindParticipation)
	return c.Reply("You are in. You'll be notified when the bracket starts.")
}

func (g *Gateway) handleRewards(c tele.Context) error {
	uid := userID(c)
	return c.Reply(fmt.Sprintf("P3D rewards earned: %s", formatMicro(g.rewards.Balance(uid))))
}

func (g *Gateway) handleLeaderboard(c tele.Context) error {
	top := g.rewards.Leaderboard(10)
	if len(top) == 0 {
		return c.Reply("Nobody has earned rewards yet.")
	}
	var sb strings.Builder
	sb.WriteString("Top earners:\n")
	for i, e := range top {
		fmt.Fprintf(&sb, "%d. %s — %s\n", i+1, e.UserID, formatMicro(e.Amount))
	}
	return c.Reply(sb.String())
}

// webAppResult is what the game client posts back through Telegram when a
// battle finishes.
type webAppResult struct {
	Type     string `json:"type"`
	GameID   string `json:"gameId,omitempty"`
	WinnerID string `json:"winnerId,omitempty"`
	Winner   string `json:"winner,omitempty"`
}

func (g *Gateway) handleWebAppData(c tele.Context) error {
	uid := userID(c)
	data := c.Message().WebAppData
	if data == nil {
		return nil
	}

	var res webAppResult
	if err := json.Unmarshal([]byte(data.Data), &res); err != nil {
		g.log.Warn("bad webapp payload", "err", err)
		return c.Reply("Could not read the game result.")
	}
	if res.Type != "game_result" {
		return nil
	}

	// unstaked practice game: participation reward only
	if res.GameID == "" {
		if res.Winner == "player" {
			g.rewards.Award(uid, rewards.KindWin)
			return c.Reply("Nice win! Reward credited.")
		}
		g.rewards.Award(uid, rewards.KindParticipation)
		return c.Reply("Better luck next time.")
	}

	st, err := g.wagers.SettleMatch(context.Background(), res.GameID, res.WinnerID)
	if err != nil {
		return c.Reply(humanError(err))
	}
	g.rewards.Award(st.WinnerID, rewards.KindWin)
	return c.Reply(fmt.Sprintf("Match settled. %s takes %d coins (house fee %d).",
		st.WinnerID, st.Payout, st.HouseFee))
}

func formatMicro(v int64) string {
	return fmt.Sprintf("%d.%06d", v/rewards.Micro, v%rewards.Micro)
}

// humanError turns sentinel errors into replies a player can act on.
func humanError(err error) string {
	switch {
	case errors.Is(err, wager.ErrInsufficientBalance) || errors.Is(err, tournament.ErrInsufficientBalance):
		return "Not enough coins for that."
	case errors.Is(err, wager.ErrInvalidAmount):
		return "The stake must be a positive amount."
	case errors.Is(err, wager.ErrBetNotFound):
		return "No such challenge."
	case errors.Is(err, wager.ErrNotOwner):
		return "Only the challenge owner can cancel it."
	case errors.Is(err, wager.ErrAlreadyMatched):
		return "Too late, someone already took that challenge."
	case errors.Is(err, wager.ErrSelfMatch):
		return "You cannot take your own challenge."
	case errors.Is(err, wager.ErrExpired):
		return "That challenge has expired; the stake went back to its owner."
	case errors.Is(err, wager.ErrMatchNotFound):
		return "No such match."
	case errors.Is(err, wager.ErrAlreadyCompleted):
		return "That match is already settled."
	case errors.Is(err, wager.ErrInvalidWinner):
		return "The winner must be one of the two players."
	case errors.Is(err, tournament.ErrNotFound):
		return "No such tournament."
	case errors.Is(err, tournament.ErrNotOpen):
		return "Registration for that tournament is closed."
	case errors.Is(err, tournament.ErrFull):
		return "That tournament is full."
	case errors.Is(err, tournament.ErrAlreadyRegistered):
		return "You are already registered."
	case errors.Is(err, tournament.ErrMatchNotReady):
		return "That bracket match is still waiting for an opponent."
	case errors.Is(err, tournament.ErrInvalidConfig):
		return "Those tournament settings don't work. Fee must be >= 0 and at least 2 players."
	default:
		return "Something went wrong, try again later."
	}
}
