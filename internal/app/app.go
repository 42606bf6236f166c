package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"example.com/gearwars/internal/arena"
	"example.com/gearwars/internal/auth"
	"example.com/gearwars/internal/bot"
	"example.com/gearwars/internal/config"
	"example.com/gearwars/internal/httpapi"
	"example.com/gearwars/internal/ledger"
	"example.com/gearwars/internal/rewards"
	"example.com/gearwars/internal/store"
	"example.com/gearwars/internal/tournament"
	"example.com/gearwars/internal/wager"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db  *pgxpool.Pool
	rdb *redis.Client

	ledger    ledger.Ledger
	memLedger *ledger.MemoryLedger // nil when Postgres owns balances
	wagers    *wager.Service
	tourneys  *tournament.Engine
	rewards   *rewards.Service
	hub       *arena.Hub
	gateway   *bot.Gateway

	snapshots store.SnapshotStore
	dirty     chan struct{}

	srv *http.Server
}

type Options struct {
	Static http.Handler // optional; if nil, no frontend is served
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger, opts Options) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	a := &App{
		cfg:   cfg,
		log:   log,
		dirty: make(chan struct{}, 1),
	}

	// --- Ledger: Postgres when configured, in-memory otherwise ---
	if cfg.Postgres.URL != "" {
		dbpool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("pgxpool: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = dbpool.Ping(pingCtx)
		cancel()
		if err != nil {
			dbpool.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		a.db = dbpool
		a.ledger = ledger.NewPGLedger(dbpool)
	} else {
		a.memLedger = ledger.NewMemoryLedger()
		a.ledger = a.memLedger
	}

	// --- Snapshot store: Redis when configured, JSON file otherwise ---
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.Close(ctx)
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping (%s db=%d): %w", cfg.Redis.Addr, cfg.Redis.DB, err)
		}
		a.rdb = rdb
		a.snapshots = store.NewRedisStore(rdb, cfg.Redis.SnapshotTTL)
	} else {
		a.snapshots = store.NewFileStore(cfg.Snapshot.Path)
	}

	// --- Domain services ---
	a.rewards = rewards.NewService(nil)
	a.wagers = wager.NewService(wager.Config{
		RakePercent: cfg.Game.RakePercent,
		BetTTL:      cfg.Game.BetTTL,
	}, a.ledger, log)

	tokens := auth.NewHS256([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL)

	sink := &resultSink{wagers: a.wagers, rewards: a.rewards, log: log}
	a.hub = arena.NewHub(arena.Config{
		GracePeriod:       cfg.Game.GracePeriod,
		HeartbeatInterval: cfg.Game.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Game.HeartbeatTimeout,
	}, log, tokens, sink)

	a.tourneys = tournament.NewEngine(a.ledger, &tournamentSink{
		Notifier: arena.NewTournamentNotifier(a.hub),
		rewards:  a.rewards,
	}, log)
	a.hub.SetEngine(a.tourneys)

	// restore state before anything can mutate it
	if err := a.restore(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.wagers.SetPersistHook(a.markDirty)
	a.tourneys.SetPersistHook(a.markDirty)

	// --- Telegram gateway (optional) ---
	if cfg.Bot.Token != "" {
		gw, err := bot.New(bot.Config{
			Token:    cfg.Bot.Token,
			WebApp:   cfg.Bot.WebApp,
			PollTime: cfg.Bot.PollTime,
		}, log, a.ledger, a.wagers, a.tourneys, a.rewards, tokens)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.gateway = gw
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.hub.Stats())
	})
	a.hub.RegisterRoutes(mux)

	api := &httpapi.Handler{
		Ledger:   a.ledger,
		Wagers:   a.wagers,
		Tourneys: a.tourneys,
		Rewards:  a.rewards,
		Tokens:   tokens,
	}
	api.Register(mux)

	if opts.Static != nil {
		mux.Handle("/", opts.Static)
	}

	a.srv = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	return a, nil
}

func (a *App) markDirty() {
	select {
	case a.dirty <- struct{}{}:
	default:
	}
}

func (a *App) restore(ctx context.Context) error {
	snap, ok, err := a.snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		a.log.Info("no snapshot found, starting fresh")
		return nil
	}
	if a.memLedger != nil {
		a.memLedger.Restore(snap.Balances)
	}
	a.wagers.Restore(snap.Bets, snap.Matches)
	a.tourneys.Restore(snap.Tournaments)
	a.rewards.Restore(snap.Rewards)
	a.rewards.RestoreReferrals(snap.Referrals)
	a.log.Info("snapshot restored",
		"bets", len(snap.Bets), "tournaments", len(snap.Tournaments), "savedAt", snap.SavedAt)
	return nil
}

func (a *App) save(ctx context.Context) {
	snap := store.Snapshot{
		Bets:        nil,
		Tournaments: a.tourneys.Dump(),
		Rewards:     a.rewards.Dump(),
		Referrals:   a.rewards.DumpReferrals(),
		SavedAt:     time.Now().UTC(),
	}
	snap.Bets, snap.Matches = a.wagers.Dump()
	if a.memLedger != nil {
		snap.Balances = a.memLedger.Dump()
	}
	if err := a.snapshots.Save(ctx, snap); err != nil {
		a.log.Error("snapshot save failed", "err", err)
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)

	g.Go(func() error {
		err := a.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.log.Info("http server shutting down")
		_ = a.srv.Shutdown(shutdownCtx)
		return nil
	})

	// dead-connection reaper
	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	// expired-bet sweeper, also retries credits the ledger rejected earlier
	g.Go(func() error {
		t := time.NewTicker(a.cfg.Game.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if n := a.wagers.SweepExpired(gctx); n > 0 {
					a.log.Info("wager credits swept", "count", n)
				}
				if n := a.tourneys.FlushPendingCredits(gctx); n > 0 {
					a.log.Info("deferred tournament credits paid", "count", n)
				}
			}
		}
	})

	// snapshot writer: on change (debounced by the ticker) and on schedule
	g.Go(func() error {
		t := time.NewTicker(a.cfg.Snapshot.SaveInterval)
		defer t.Stop()
		pending := false
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-a.dirty:
				pending = true
			case <-t.C:
				if pending {
					a.save(gctx)
					pending = false
				}
			}
		}
	})

	if a.gateway != nil {
		g.Go(func() error {
			return a.gateway.Run(gctx)
		})
	}

	err := g.Wait()

	// final save so a clean shutdown never loses state
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	a.save(saveCtx)
	cancel()

	_ = a.Close(context.Background())
	return err
}

func (a *App) Close(ctx context.Context) error {
	// best-effort
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	return nil
}
