package arena

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"example.com/gearwars/internal/auth"
	"example.com/gearwars/internal/tournament"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // Telegram web-app origin varies
}

type Config struct {
	// GracePeriod is the pause between "starting" and "active" so both ends
	// finish local setup before traffic begins.
	GracePeriod time.Duration
	// HeartbeatInterval is how often the server pings each connection.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout disconnects a session with no life sign in the window.
	HeartbeatTimeout time.Duration
	SendBuffer       int
}

// TokenVerifier checks the signed web-app token that binds a connection to a
// chat user. Connections without a token stay anonymous.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// ResultSink consumes terminal game results produced by the game session.
type ResultSink interface {
	HandleGameResult(ctx context.Context, userID string, res GameResult) error
}

type ClientConn struct {
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// Session is one connected participant, independent of chat identity.
type Session struct {
	ID       string
	UserID   string
	RoomID   string
	Conn     *ClientConn
	LastSeen time.Time
}

// Hub owns all sessions and rooms. Every mutation goes through one mutex,
// which preserves the single-writer dispatch discipline: broadcasts leave in
// the order their triggering events were processed.
type Hub struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	rooms    map[string]*Room
	byUser   map[string]string // user id -> session id

	verifier TokenVerifier
	results  ResultSink
	engine   *tournament.Engine
}

func NewHub(cfg Config, log *slog.Logger, verifier TokenVerifier, results ResultSink) *Hub {
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*Session),
		rooms:    make(map[string]*Room),
		byUser:   make(map[string]string),
		verifier: verifier,
		results:  results,
	}
}

// SetEngine wires the tournament engine in after construction; the engine's
// notifier points back at this hub.
func (h *Hub) SetEngine(e *tournament.Engine) {
	h.engine = e
}

func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.handleWS)
}

// Run reaps sessions with no life sign past the heartbeat timeout, via the
// same cleanup path as an explicit disconnect.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.reapDead()
		}
	}
}

func (h *Hub) reapDead() {
	h.mu.Lock()
	var dead []*Session
	cutoff := time.Now().Add(-h.cfg.HeartbeatTimeout)
	for _, s := range h.sessions {
		if s.LastSeen.Before(cutoff) {
			dead = append(dead, s)
		}
	}
	h.mu.Unlock()

	for _, s := range dead {
		h.log.Info("terminating dead connection", "session", s.ID)
		h.Disconnect(s.ID)
		s.Conn.Close()
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := ""
	if token := r.URL.Query().Get("token"); token != "" && h.verifier != nil {
		claims, err := h.verifier.Verify(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		userID = claims.UserID
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	cc := &ClientConn{ws: ws, send: make(chan []byte, h.cfg.SendBuffer)}
	sessionID := uuid.NewString()
	if userID == "" {
		userID = sessionID
	}

	s := &Session{ID: sessionID, UserID: userID, Conn: cc, LastSeen: time.Now()}
	h.mu.Lock()
	h.sessions[sessionID] = s
	h.byUser[userID] = sessionID
	h.mu.Unlock()

	h.log.Info("player connected", "session", sessionID)

	// writer loop
	go func() {
		ticker := time.NewTicker(h.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-cc.send:
				if !ok {
					return
				}
				_ = ws.WriteMessage(websocket.TextMessage, msg)
			case <-ticker.C:
				_ = ws.WriteMessage(websocket.PingMessage, []byte{})
			}
		}
	}()

	h.sendTo(cc, Envelope{Type: "connected", Payload: mustJSON(ConnectedPayload{
		PlayerID:  sessionID,
		Timestamp: nowMs(),
	})})

	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.HeartbeatTimeout))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.HeartbeatTimeout))
		h.touch(sessionID)
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.HeartbeatTimeout))
		h.touch(sessionID)
		h.handleMessage(r.Context(), sessionID, data)
	}

	h.log.Info("player disconnected", "session", sessionID)
	h.Disconnect(sessionID)
	cc.Close()
}

func (h *Hub) touch(sessionID string) {
	h.mu.Lock()
	if s, ok := h.sessions[sessionID]; ok {
		s.LastSeen = time.Now()
	}
	h.mu.Unlock()
}

// handleMessage dispatches one inbound frame. Malformed frames earn an error
// reply and never touch other sessions' state.
func (h *Hub) handleMessage(ctx context.Context, sessionID string, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		h.sendError(sessionID, "bad_json", "invalid message format")
		return
	}

	switch env.Type {
	case "ping":
		h.sendToSession(sessionID, Envelope{Type: "pong", Payload: mustJSON(PongPayload{Timestamp: nowMs()})})

	case "create_room":
		roomID, err := h.CreateRoom(sessionID)
		if err != nil {
			h.replyErr(sessionID, err)
			return
		}
		h.sendToSession(sessionID, Envelope{Type: "room_created", Payload: mustJSON(RoomCreatedPayload{
			RoomID: roomID,
			IsHost: true,
		})})

	case "join_room":
		var p JoinRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(sessionID, "bad_input", "invalid payload")
			return
		}
		if err := h.JoinRoom(sessionID, p.RoomID); err != nil {
			h.replyErr(sessionID, err)
		}

	case "leave_room":
		h.LeaveRoom(sessionID)

	case "game_state":
		var p GameStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(sessionID, "bad_input", "invalid payload")
			return
		}
		h.Relay(sessionID, "game_update", GameUpdatePayload{State: p.State}, false)

	case "player_input":
		var p PlayerInputPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(sessionID, "bad_input", "invalid payload")
			return
		}
		h.Relay(sessionID, "player_input", GameUpdatePayload{Input: p.Input}, false)

	case "chat_message":
		var p ChatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(sessionID, "bad_input", "invalid payload")
			return
		}
		h.Chat(sessionID, p.Message)

	case "game_result":
		var p GameResult
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(sessionID, "bad_input", "invalid payload")
			return
		}
		if h.results == nil {
			return
		}
		if err := h.results.HandleGameResult(ctx, h.userOf(sessionID), p); err != nil {
			h.replyErr(sessionID, err)
		}

	case "create_tournament", "join_tournament", "get_tournaments", "get_tournament_info", "report_match_result":
		h.handleTournamentMessage(ctx, sessionID, env)

	default:
		h.sendError(sessionID, "unknown_type", "unknown message type")
	}
}

func (h *Hub) userOf(sessionID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[sessionID]; ok {
		return s.UserID
	}
	return ""
}

// CreateRoom allocates a new room with the caller as sole member and host.
func (h *Hub) CreateRoom(sessionID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return "", ErrUnknownSession
	}
	if s.RoomID != "" {
		h.leaveRoomLocked(s)
	}

	room := &Room{
		ID:        newRoomCode(),
		Members:   []string{sessionID},
		Host:      sessionID,
		State:     RoomWaiting,
		CreatedAt: time.Now(),
	}
	h.rooms[room.ID] = room
	s.RoomID = room.ID

	h.log.Info("room created", "room", room.ID, "session", sessionID)
	return room.ID, nil
}

// JoinRoom appends the caller to a waiting room. Filling the room moves it to
// "starting" and, after the grace period, to "active".
func (h *Hub) JoinRoom(sessionID, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	room, ok := h.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if len(room.Members) >= RoomCapacity {
		return ErrRoomFull
	}
	if room.State != RoomWaiting {
		return ErrInvalidState
	}

	if s.RoomID != "" {
		h.leaveRoomLocked(s)
	}
	room.Members = append(room.Members, sessionID)
	s.RoomID = roomID

	h.log.Info("player joined room", "room", roomID, "session", sessionID)

	h.broadcastLocked(room, Envelope{Type: "player_joined", Payload: mustJSON(PlayerJoinedPayload{
		PlayerID:  sessionID,
		Room:      room.info(),
		Timestamp: nowMs(),
	})}, "")

	if len(room.Members) == RoomCapacity {
		room.State = RoomStarting
		h.broadcastLocked(room, Envelope{Type: "game_starting", Payload: mustJSON(GameStartPayload{
			Players:   append([]string(nil), room.Members...),
			RoomID:    room.ID,
			Timestamp: nowMs(),
		})}, "")

		room.graceToken++
		token := room.graceToken
		time.AfterFunc(h.cfg.GracePeriod, func() {
			h.activateRoom(roomID, token)
		})
	}
	return nil
}

func (h *Hub) activateRoom(roomID string, token int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok || room.State != RoomStarting || room.graceToken != token {
		return // membership changed while the grace timer ran
	}
	room.State = RoomActive
	h.broadcastLocked(room, Envelope{Type: "game_start", Payload: mustJSON(GameStartPayload{
		Players:   append([]string(nil), room.Members...),
		RoomID:    room.ID,
		Timestamp: nowMs(),
	})}, "")
}

// LeaveRoom removes the session from its room, destroying empty rooms and
// ending active games for the remaining member.
func (h *Hub) LeaveRoom(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[sessionID]; ok {
		h.leaveRoomLocked(s)
	}
}

func (h *Hub) leaveRoomLocked(s *Session) {
	if s.RoomID == "" {
		return
	}
	room, ok := h.rooms[s.RoomID]
	s.RoomID = ""
	if !ok {
		return
	}

	room.removeMember(s.ID)
	room.graceToken++ // cancel any pending grace timer

	if len(room.Members) == 0 {
		delete(h.rooms, room.ID)
		h.log.Info("room deleted", "room", room.ID)
		return
	}

	gameWasLive := room.State == RoomActive
	if gameWasLive {
		room.State = RoomEnded
	} else if room.State == RoomStarting {
		// not live yet: roll back and wait for a new opponent
		room.State = RoomWaiting
	}

	h.broadcastLocked(room, Envelope{Type: "player_left", Payload: mustJSON(PlayerLeftPayload{
		PlayerID:  s.ID,
		Room:      room.info(),
		Timestamp: nowMs(),
	})}, "")

	if room.Host == s.ID {
		room.Host = room.Members[0]
		h.broadcastLocked(room, Envelope{Type: "new_host", Payload: mustJSON(NewHostPayload{
			HostID:    room.Host,
			Timestamp: nowMs(),
		})}, "")
	}

	if gameWasLive {
		h.broadcastLocked(room, Envelope{Type: "game_ended", Payload: mustJSON(GameEndedPayload{
			Reason:    "player_left",
			Timestamp: nowMs(),
		})}, "")
	}
}

// Disconnect is LeaveRoom plus session removal. Safe to call twice.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	h.leaveRoomLocked(s)
	delete(h.sessions, sessionID)
	if h.byUser[s.UserID] == sessionID {
		delete(h.byUser, s.UserID)
	}
}

// Relay forwards an opaque payload to the other room members, annotated with
// the sender and a timestamp. Messages for dead rooms are dropped silently.
func (h *Hub) Relay(sessionID, outType string, p GameUpdatePayload, includeSender bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok || s.RoomID == "" {
		return
	}
	room, ok := h.rooms[s.RoomID]
	if !ok {
		return
	}

	p.PlayerID = sessionID
	p.Timestamp = nowMs()
	exclude := sessionID
	if includeSender {
		exclude = ""
	}
	h.broadcastLocked(room, Envelope{Type: outType, Payload: mustJSON(p)}, exclude)
}

// Chat goes to every room member, the sender included.
func (h *Hub) Chat(sessionID, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok || s.RoomID == "" {
		return
	}
	room, ok := h.rooms[s.RoomID]
	if !ok {
		return
	}
	h.broadcastLocked(room, Envelope{Type: "chat_message", Payload: mustJSON(ChatBroadcastPayload{
		PlayerID:  sessionID,
		Message:   message,
		Timestamp: nowMs(),
	})}, "")
}

func (h *Hub) broadcastLocked(room *Room, env Envelope, exclude string) {
	b, _ := json.Marshal(env)
	for _, id := range room.Members {
		if id == exclude {
			continue
		}
		if s, ok := h.sessions[id]; ok {
			h.push(s.Conn, b)
		}
	}
}

func (h *Hub) push(conn *ClientConn, msg []byte) {
	if conn == nil {
		return
	}
	select {
	case conn.send <- msg:
	default:
		// slow client, drop the frame
	}
}

func (h *Hub) sendTo(conn *ClientConn, env Envelope) {
	b, _ := json.Marshal(env)
	h.push(conn, b)
}

func (h *Hub) sendToSession(sessionID string, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[sessionID]; ok {
		h.sendTo(s.Conn, env)
	}
}

// SendToUser delivers an event to the session bound to a chat user, if any.
func (h *Hub) SendToUser(userID string, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sid, ok := h.byUser[userID]; ok {
		if s, ok := h.sessions[sid]; ok {
			h.sendTo(s.Conn, env)
		}
	}
}

func (h *Hub) sendError(sessionID, code, message string) {
	h.sendToSession(sessionID, Envelope{Type: "error", Payload: mustJSON(ErrorPayload{
		Code:    code,
		Message: message,
	})})
}

func (h *Hub) replyErr(sessionID string, err error) {
	h.sendError(sessionID, errorCode(err), err.Error())
}

// errorCode maps sentinel errors onto stable wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrUnknownSession):
		return "unknown_session"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	default:
		return "error"
	}
}

// Stats is the public counters view for the /stats endpoint.
type Stats struct {
	TotalPlayers int `json:"totalPlayers"`
	TotalRooms   int `json:"totalRooms"`
	ActiveRooms  int `json:"activeRooms"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{TotalPlayers: len(h.sessions), TotalRooms: len(h.rooms)}
	for _, r := range h.rooms {
		if r.State == RoomActive {
			st.ActiveRooms++
		}
	}
	return st
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
