// Package httpapi is the small REST surface next to the websocket: profile
// lookup for the web app plus public listings for bets and tournaments.
package httpapi

import (
	"net/http"

	"example.com/gearwars/internal/auth"
	"example.com/gearwars/internal/ledger"
	"example.com/gearwars/internal/rewards"
	"example.com/gearwars/internal/tournament"
	"example.com/gearwars/internal/wager"
)

type Handler struct {
	Ledger   ledger.Ledger
	Wagers   *wager.Service
	Tourneys *tournament.Engine
	Rewards  *rewards.Service
	Tokens   *auth.HS256
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/me", AuthMiddleware(h.Tokens)(http.HandlerFunc(h.me)))
	mux.HandleFunc("/api/bets", h.openBets)
	mux.HandleFunc("/api/tournaments", h.tournaments)
	mux.HandleFunc("/api/leaderboard", h.leaderboard)
}

type meResponse struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
	Rewards int64  `json:"rewards"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}
	uid, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no user in context")
		return
	}
	bal, err := h.Ledger.Balance(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID:  uid,
		Balance: bal,
		Rewards: h.Rewards.Balance(uid),
	})
}

func (h *Handler) openBets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}
	writeJSON(w, http.StatusOK, h.Wagers.OpenBets())
}

func (h *Handler) tournaments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		t, ok := h.Tourneys.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "no such tournament")
			return
		}
		writeJSON(w, http.StatusOK, t)
		return
	}
	writeJSON(w, http.StatusOK, h.Tourneys.List())
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}
	writeJSON(w, http.StatusOK, h.Rewards.Leaderboard(10))
}
